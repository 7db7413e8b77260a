package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

// Worker outcomes reported to the observer.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

const (
	staleErrorMessage = "processing timed out"
	maxLastErrorLen   = 2000
	finalizeTimeout   = 10 * time.Second
)

type WorkerOptions struct {
	Concurrency    int
	PollInterval   time.Duration
	RetryDelay     time.Duration
	ProcessTimeout time.Duration
	StaleAfter     time.Duration
	SweepInterval  time.Duration
}

func (o WorkerOptions) normalize() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Minute
	}
	if o.ProcessTimeout <= 0 {
		o.ProcessTimeout = 5 * time.Minute
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 15 * time.Minute
	}
	// A held item must time out before the sweep may reclaim it.
	if o.StaleAfter <= o.ProcessTimeout {
		o.StaleAfter = o.ProcessTimeout + time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	return o
}

// QueueWorker claims pending items, analyzes them and applies suggestions
// according to the instance policy.
type QueueWorker struct {
	queue     ports.QueueRepository
	instances ports.InstanceRepository
	stores    ports.DocumentStoreFactory
	analyzer  ports.DocumentAnalyzer
	applier   *SuggestionApplier
	mirrorer  documentMirrorer
	observer  ports.QueueObserver
	opts      WorkerOptions
	logger    *slog.Logger
	now       func() time.Time
	wakeup    chan struct{}
}

func NewQueueWorker(
	queue ports.QueueRepository,
	instances ports.InstanceRepository,
	stores ports.DocumentStoreFactory,
	mirror ports.DocumentMirror,
	extractor ports.TextExtractor,
	analyzer ports.DocumentAnalyzer,
	applier *SuggestionApplier,
	observer ports.QueueObserver,
	opts WorkerOptions,
	logger *slog.Logger,
) *QueueWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueWorker{
		queue:     queue,
		instances: instances,
		stores:    stores,
		analyzer:  analyzer,
		applier:   applier,
		mirrorer:  documentMirrorer{mirror: mirror, extractor: extractor, logger: logger},
		observer:  observer,
		opts:      opts.normalize(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		wakeup:    make(chan struct{}, 1),
	}
}

// Wake interrupts an idle wait. It never blocks.
func (w *QueueWorker) Wake() {
	select {
	case w.wakeup <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done.
func (w *QueueWorker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.sweepLoop(gctx)
		return nil
	})
	for i := 0; i < w.opts.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			w.claimLoop(gctx, slot)
			return nil
		})
	}
	w.logger.Info("queue_worker_started", "concurrency", w.opts.Concurrency, "poll_interval", w.opts.PollInterval.String())
	return g.Wait()
}

func (w *QueueWorker) claimLoop(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.Error("queue_claim_failed", "slot", slot, "error", err)
		}
		if processed && err == nil {
			continue
		}
		w.idle(ctx)
	}
}

func (w *QueueWorker) idle(ctx context.Context) {
	timer := time.NewTimer(w.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-w.wakeup:
	}
}

func (w *QueueWorker) sweepLoop(ctx context.Context) {
	w.Sweep(ctx)
	ticker := time.NewTicker(w.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep reclaims items that stayed in processing past the stale threshold.
func (w *QueueWorker) Sweep(ctx context.Context) int {
	now := w.now()
	n, err := w.queue.ReclaimStale(ctx, now.Add(-w.opts.StaleAfter), now, staleErrorMessage)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("stale_sweep_failed", "error", err)
		}
		return 0
	}
	if n > 0 {
		w.logger.Warn("stale_items_reclaimed", "count", n)
		if w.observer != nil {
			w.observer.StaleReclaimed(n)
		}
		w.Wake()
	}
	return n
}

// ProcessNext claims and processes one item. It reports false when nothing
// was eligible.
func (w *QueueWorker) ProcessNext(ctx context.Context) (bool, error) {
	item, err := w.queue.ClaimNext(ctx, w.now())
	if err != nil {
		return false, fmt.Errorf("claim queue item: %w", err)
	}
	if item == nil {
		return false, nil
	}
	w.process(ctx, item)
	return true, nil
}

func (w *QueueWorker) process(ctx context.Context, item *domain.QueueItem) {
	start := time.Now()
	if w.observer != nil {
		w.observer.ItemStarted()
		w.observer.ClaimLag(w.now().Sub(item.ScheduledFor))
	}
	w.logger.Info("queue_item_claimed",
		"queue_item_id", item.ID,
		"instance_id", item.InstanceID,
		"remote_document_id", item.RemoteDocumentID,
		"attempt", item.Attempts,
	)

	itemCtx, cancel := context.WithTimeout(ctx, w.opts.ProcessTimeout)
	procErr := w.handle(itemCtx, item)
	if procErr != nil && errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
		procErr = fmt.Errorf("%s after %s: %w", staleErrorMessage, w.opts.ProcessTimeout, procErr)
	}
	cancel()

	outcome := w.finalize(ctx, item, procErr)
	if w.observer != nil {
		w.observer.ItemFinished(outcome, time.Since(start))
	}
}

func (w *QueueWorker) handle(ctx context.Context, item *domain.QueueItem) error {
	instance, err := w.instances.GetByID(ctx, item.InstanceID)
	if err != nil {
		return fmt.Errorf("load instance: %w", err)
	}
	store, err := w.stores.ForInstance(ctx, *instance)
	if err != nil {
		return fmt.Errorf("document store client: %w", err)
	}

	localID, err := w.ensureMirror(ctx, store, item)
	if err != nil {
		return err
	}

	outcome, err := w.analyzer.Analyze(ctx, localID, item.AIBotID, "")
	if err != nil {
		return fmt.Errorf("analyze document: %w", err)
	}
	if w.observer != nil {
		w.observer.TokensUsed(outcome.AIProvider, outcome.InputTokens, outcome.OutputTokens)
	}

	if !instance.AutoApply.Any() {
		return nil
	}
	applied := w.applier.Apply(ctx, store, item.RemoteDocumentID, localID, outcome.Result, instance.AutoApply)
	if !applied.Success {
		return fmt.Errorf("apply suggestions (applied %s): %s", strings.Join(applied.AppliedFields, ","), applied.Error)
	}
	return nil
}

func (w *QueueWorker) ensureMirror(ctx context.Context, store ports.DocumentStore, item *domain.QueueItem) (string, error) {
	if item.LocalDocumentID != nil && *item.LocalDocumentID != "" {
		return *item.LocalDocumentID, nil
	}
	remote, err := store.GetDocument(ctx, item.RemoteDocumentID)
	if err != nil {
		return "", fmt.Errorf("fetch remote document: %w", err)
	}
	localID, err := w.mirrorer.mirrorDocument(ctx, store, item.InstanceID, *remote)
	if err != nil {
		return "", err
	}
	if err := w.queue.SetLocalDocument(ctx, item.ID, localID); err != nil {
		return "", fmt.Errorf("link mirrored document: %w", err)
	}
	item.LocalDocumentID = &localID
	return localID, nil
}

// finalize records the terminal or retry state. It runs on a detached
// context so shutdown does not leave the item in processing.
func (w *QueueWorker) finalize(ctx context.Context, item *domain.QueueItem, procErr error) string {
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	now := w.now()

	if procErr == nil {
		if err := w.queue.MarkCompleted(finalCtx, item.ID, now); err != nil {
			w.logger.Error("queue_item_finalize_failed", "queue_item_id", item.ID, "error", err)
		}
		w.logger.Info("queue_item_completed", "queue_item_id", item.ID, "remote_document_id", item.RemoteDocumentID)
		return OutcomeCompleted
	}

	message := truncateError(procErr.Error())
	if item.Exhausted() {
		if err := w.queue.MarkFailed(finalCtx, item.ID, message, now); err != nil {
			w.logger.Error("queue_item_finalize_failed", "queue_item_id", item.ID, "error", err)
		}
		w.logger.Error("queue_item_failed",
			"queue_item_id", item.ID,
			"remote_document_id", item.RemoteDocumentID,
			"attempts", item.Attempts,
			"error", procErr,
		)
		return OutcomeFailed
	}

	retryAt := now.Add(w.opts.RetryDelay)
	if err := w.queue.Reschedule(finalCtx, item.ID, message, retryAt, now); err != nil {
		w.logger.Error("queue_item_finalize_failed", "queue_item_id", item.ID, "error", err)
	}
	w.logger.Warn("queue_item_rescheduled",
		"queue_item_id", item.ID,
		"remote_document_id", item.RemoteDocumentID,
		"attempts", item.Attempts,
		"retry_at", retryAt,
		"error", procErr,
	)
	return OutcomeRetried
}

func truncateError(message string) string {
	runes := []rune(message)
	if len(runes) <= maxLastErrorLen {
		return message
	}
	return string(runes[:maxLastErrorLen])
}
