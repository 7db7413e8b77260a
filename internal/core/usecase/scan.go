package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

// NextScanFunc resolves a cron expression to the first run after from.
type NextScanFunc func(expression string, from time.Time) (time.Time, error)

const maxScanPages = 1000

// ScanUseCase lists eligible remote documents of an instance and enqueues
// the ones that have never been queued.
type ScanUseCase struct {
	instances ports.InstanceRepository
	stores    ports.DocumentStoreFactory
	queue     ports.QueueRepository
	enqueuer  ports.QueueService
	mirrorer  documentMirrorer
	nextScan  NextScanFunc
	observer  ports.QueueObserver
	pageSize  int
	logger    *slog.Logger
	now       func() time.Time
}

func NewScanUseCase(
	instances ports.InstanceRepository,
	stores ports.DocumentStoreFactory,
	queue ports.QueueRepository,
	enqueuer ports.QueueService,
	mirror ports.DocumentMirror,
	extractor ports.TextExtractor,
	nextScan NextScanFunc,
	observer ports.QueueObserver,
	pageSize int,
	logger *slog.Logger,
) *ScanUseCase {
	if pageSize <= 0 {
		pageSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanUseCase{
		instances: instances,
		stores:    stores,
		queue:     queue,
		enqueuer:  enqueuer,
		mirrorer:  documentMirrorer{mirror: mirror, extractor: extractor, logger: logger},
		nextScan:  nextScan,
		observer:  observer,
		pageSize:  pageSize,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ScanUseCase) ScanInstance(ctx context.Context, instanceID string) (domain.ScanReport, error) {
	report, err := uc.scan(ctx, instanceID)
	if uc.observer != nil {
		uc.observer.ScanFinished(report.Enqueued, err)
	}
	if err != nil {
		uc.logger.Error("scan_failed", "instance_id", instanceID, "error", err)
		return report, err
	}
	uc.logger.Info("scan_completed",
		"instance_id", instanceID,
		"discovered", report.Discovered,
		"enqueued", report.Enqueued,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (uc *ScanUseCase) scan(ctx context.Context, instanceID string) (domain.ScanReport, error) {
	report := domain.ScanReport{InstanceID: instanceID}

	instance, err := uc.instances.GetByID(ctx, instanceID)
	if err != nil {
		return report, fmt.Errorf("load instance: %w", err)
	}
	if instance.DefaultAIBotID == nil || *instance.DefaultAIBotID == "" {
		return report, domain.WrapError(domain.ErrInvalidInput, "scan instance", errors.New("no bot configured"))
	}
	store, err := uc.stores.ForInstance(ctx, *instance)
	if err != nil {
		return report, fmt.Errorf("document store client: %w", err)
	}

	for page := 1; page <= maxScanPages; page++ {
		result, err := store.ListDocuments(ctx, domain.RemoteDocumentQuery{
			TagIDs:   instance.ImportFilterTagIDs,
			Page:     page,
			PageSize: uc.pageSize,
		})
		if err != nil {
			return report, fmt.Errorf("list remote documents page %d: %w", page, err)
		}
		if err := uc.enqueuePage(ctx, store, instance, result.Documents, &report); err != nil {
			return report, err
		}
		if !result.HasNext {
			break
		}
	}

	now := uc.now()
	var next *time.Time
	if instance.AutoProcessEnabled && uc.nextScan != nil {
		at, err := uc.nextScan(instance.ScanCronExpression, now)
		if err != nil {
			return report, domain.WrapError(domain.ErrInvalidInput, "next scan time", err)
		}
		next = &at
	}
	if err := uc.instances.RecordScan(ctx, instance.ID, now, next); err != nil {
		return report, fmt.Errorf("record scan: %w", err)
	}
	report.NextScanAt = next
	return report, nil
}

func (uc *ScanUseCase) enqueuePage(
	ctx context.Context,
	store ports.DocumentStore,
	instance *domain.Instance,
	docs []domain.RemoteDocument,
	report *domain.ScanReport,
) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	known, err := uc.queue.KnownRemoteDocuments(ctx, instance.ID, ids)
	if err != nil {
		return fmt.Errorf("check known documents: %w", err)
	}

	for _, doc := range docs {
		report.Discovered++
		if _, seen := known[doc.ID]; seen {
			report.Skipped++
			continue
		}

		localID, err := uc.mirrorer.mirrorDocument(ctx, store, instance.ID, doc)
		if err != nil {
			return err
		}
		_, err = uc.enqueuer.Enqueue(ctx, domain.EnqueueRequest{
			InstanceID:       instance.ID,
			RemoteDocumentID: doc.ID,
			LocalDocumentID:  &localID,
		})
		if err != nil {
			if domain.IsKind(err, domain.ErrConflict) {
				report.Skipped++
				continue
			}
			return fmt.Errorf("enqueue remote document %d: %w", doc.ID, err)
		}
		report.Enqueued++
	}
	return nil
}

// ScheduledScan adapts ScanInstance to a timer callback that reports the
// next run time.
func (uc *ScanUseCase) ScheduledScan(ctx context.Context, instanceID string) (time.Time, error) {
	report, err := uc.ScanInstance(ctx, instanceID)
	if err != nil {
		return time.Time{}, err
	}
	if report.NextScanAt == nil {
		return time.Time{}, nil
	}
	return *report.NextScanAt, nil
}
