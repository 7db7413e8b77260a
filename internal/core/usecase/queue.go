package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

const (
	defaultQueuePageLimit = 20
	maxQueuePageLimit     = 100
)

// QueueUseCase owns queue item state transitions requested through the API
// and by instance scans.
type QueueUseCase struct {
	repo        ports.QueueRepository
	instances   ports.InstanceRepository
	publisher   ports.EventPublisher
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

func NewQueueUseCase(
	repo ports.QueueRepository,
	instances ports.InstanceRepository,
	publisher ports.EventPublisher,
	logger *slog.Logger,
	maxAttempts int,
) *QueueUseCase {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultQueueMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueUseCase{
		repo:        repo,
		instances:   instances,
		publisher:   publisher,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (uc *QueueUseCase) Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.QueueItem, error) {
	if strings.TrimSpace(req.InstanceID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue", errors.New("instance id is required"))
	}
	if req.RemoteDocumentID <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue", errors.New("remoteDocumentId must be positive"))
	}

	instance, err := uc.instances.GetByID(ctx, req.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}

	existing, err := uc.repo.FindActive(ctx, instance.ID, req.RemoteDocumentID)
	if err != nil {
		return nil, fmt.Errorf("check active queue item: %w", err)
	}
	if existing != nil {
		return nil, domain.WrapError(domain.ErrConflict, "enqueue", errors.New("document already in queue"))
	}

	botID := strings.TrimSpace(req.AIBotID)
	if botID == "" && instance.DefaultAIBotID != nil {
		botID = strings.TrimSpace(*instance.DefaultAIBotID)
	}
	if botID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue", errors.New("no bot configured"))
	}

	priority := domain.DefaultQueuePriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	now := uc.now()
	item := &domain.QueueItem{
		ID:               uuid.NewString(),
		InstanceID:       instance.ID,
		RemoteDocumentID: req.RemoteDocumentID,
		LocalDocumentID:  req.LocalDocumentID,
		AIBotID:          botID,
		Priority:         priority,
		ScheduledFor:     now,
		Status:           domain.QueueStatusPending,
		Attempts:         0,
		MaxAttempts:      uc.maxAttempts,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := uc.repo.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}

	uc.wakeWorkers(ctx, instance.ID)
	return item, nil
}

func (uc *QueueUseCase) Retry(ctx context.Context, instanceID, id string) (*domain.QueueItem, error) {
	item, err := uc.instanceItem(ctx, instanceID, id)
	if err != nil {
		return nil, err
	}
	if item.Status != domain.QueueStatusFailed {
		return nil, domain.WrapError(domain.ErrInvalidState, "retry queue item", errors.New("can only retry failed items"))
	}
	active, err := uc.repo.FindActive(ctx, item.InstanceID, item.RemoteDocumentID)
	if err != nil {
		return nil, fmt.Errorf("find active queue item: %w", err)
	}
	if active != nil {
		return nil, domain.WrapError(domain.ErrConflict, "retry queue item",
			fmt.Errorf("document %d already in queue as %s", item.RemoteDocumentID, active.ID))
	}

	reset, err := uc.repo.ResetFailed(ctx, id, uc.now())
	if err != nil {
		return nil, fmt.Errorf("reset queue item: %w", err)
	}
	uc.wakeWorkers(ctx, reset.InstanceID)
	return reset, nil
}

func (uc *QueueUseCase) BulkRetry(ctx context.Context, instanceID string) (int, error) {
	n, err := uc.repo.ResetAllFailed(ctx, instanceID, uc.now())
	if err != nil {
		return 0, fmt.Errorf("reset failed queue items: %w", err)
	}
	if n > 0 {
		uc.wakeWorkers(ctx, instanceID)
	}
	return n, nil
}

func (uc *QueueUseCase) Delete(ctx context.Context, instanceID, id string) error {
	item, err := uc.instanceItem(ctx, instanceID, id)
	if err != nil {
		return err
	}
	if item.Status == domain.QueueStatusProcessing {
		return domain.WrapError(domain.ErrInvalidState, "delete queue item", errors.New("cannot delete processing item"))
	}
	if err := uc.repo.DeleteIdle(ctx, id); err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	return nil
}

func (uc *QueueUseCase) BulkDeleteCompleted(ctx context.Context, instanceID string) (int, error) {
	n, err := uc.repo.DeleteCompleted(ctx, instanceID)
	if err != nil {
		return 0, fmt.Errorf("delete completed queue items: %w", err)
	}
	return n, nil
}

func (uc *QueueUseCase) List(ctx context.Context, filter domain.QueueFilter) (*domain.QueuePage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list queue", fmt.Errorf("unknown status %q", filter.Status))
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultQueuePageLimit
	}
	if filter.Limit > maxQueuePageLimit {
		filter.Limit = maxQueuePageLimit
	}

	items, total, err := uc.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	stats, err := uc.repo.Stats(ctx, filter.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	if items == nil {
		items = []domain.QueueItem{}
	}
	return &domain.QueuePage{
		Items: items,
		Stats: stats,
		Total: total,
		Page:  filter.Page,
		Limit: filter.Limit,
	}, nil
}

// instanceItem loads an item and hides items that belong to another instance.
func (uc *QueueUseCase) instanceItem(ctx context.Context, instanceID, id string) (*domain.QueueItem, error) {
	item, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load queue item: %w", err)
	}
	if item.InstanceID != instanceID {
		return nil, domain.WrapError(domain.ErrNotFound, "load queue item",
			fmt.Errorf("queue item %s in instance %s", id, instanceID))
	}
	return item, nil
}

// wakeWorkers is best effort; workers also poll.
func (uc *QueueUseCase) wakeWorkers(ctx context.Context, instanceID string) {
	if uc.publisher == nil {
		return
	}
	if err := uc.publisher.PublishQueueWakeup(ctx, instanceID); err != nil {
		uc.logger.Warn("queue_wakeup_publish_failed", "instance_id", instanceID, "error", err)
	}
}
