package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

const defaultScanCronExpression = "0 * * * *"

// InstanceAutomationUseCase updates scan and auto-apply settings and keeps
// nextScanAt and the scheduler registry consistent with them.
type InstanceAutomationUseCase struct {
	instances ports.InstanceRepository
	nextScan  NextScanFunc
	scheduler ports.ScanScheduler
	publisher ports.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewInstanceAutomationUseCase accepts a nil scheduler when the registry
// lives in another process; the instance change event reaches it instead.
func NewInstanceAutomationUseCase(
	instances ports.InstanceRepository,
	nextScan NextScanFunc,
	scheduler ports.ScanScheduler,
	publisher ports.EventPublisher,
	logger *slog.Logger,
) *InstanceAutomationUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstanceAutomationUseCase{
		instances: instances,
		nextScan:  nextScan,
		scheduler: scheduler,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *InstanceAutomationUseCase) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	instance, err := uc.instances.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	return instance, nil
}

func (uc *InstanceAutomationUseCase) UpdateAutomation(ctx context.Context, id string, update domain.AutomationUpdate) (*domain.Instance, error) {
	current, err := uc.instances.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}

	update.ScanCronExpression = strings.TrimSpace(update.ScanCronExpression)
	if update.ScanCronExpression == "" {
		update.ScanCronExpression = current.ScanCronExpression
	}
	if update.ScanCronExpression == "" {
		update.ScanCronExpression = defaultScanCronExpression
	}

	now := uc.now()
	// Validates the expression even when automation stays disabled.
	candidate, err := uc.nextScan(update.ScanCronExpression, now)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update automation", fmt.Errorf("invalid scan cron expression: %w", err))
	}

	var next *time.Time
	if update.AutoProcessEnabled {
		recalculate := !current.AutoProcessEnabled ||
			update.ScanCronExpression != current.ScanCronExpression ||
			current.NextScanAt == nil
		if recalculate {
			next = &candidate
		} else {
			next = current.NextScanAt
		}
	}

	if err := uc.instances.UpdateAutomation(ctx, id, update, next); err != nil {
		return nil, fmt.Errorf("update automation: %w", err)
	}

	if uc.scheduler != nil {
		if next != nil {
			if err := uc.scheduler.ScheduleInstance(id, current.Name, update.ScanCronExpression, *next); err != nil {
				return nil, fmt.Errorf("schedule instance: %w", err)
			}
		} else {
			uc.scheduler.UnscheduleInstance(id)
		}
	}
	if uc.publisher != nil {
		if err := uc.publisher.PublishInstanceChanged(ctx, id); err != nil {
			uc.logger.Warn("instance_changed_publish_failed", "instance_id", id, "error", err)
		}
	}

	uc.logger.Info("instance_automation_updated",
		"instance_id", id,
		"auto_process_enabled", update.AutoProcessEnabled,
		"scan_cron_expression", update.ScanCronExpression,
	)

	updated, err := uc.instances.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload instance: %w", err)
	}
	return updated, nil
}

// SyncSchedule aligns the scheduler registry with the stored instance.
// Used on worker start and when another process changed the instance.
func (uc *InstanceAutomationUseCase) SyncSchedule(ctx context.Context, id string) error {
	if uc.scheduler == nil {
		return nil
	}
	instance, err := uc.instances.GetByID(ctx, id)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			uc.scheduler.UnscheduleInstance(id)
			return nil
		}
		return fmt.Errorf("load instance: %w", err)
	}
	return uc.syncInstance(*instance)
}

// SyncAll schedules every instance with automation enabled.
func (uc *InstanceAutomationUseCase) SyncAll(ctx context.Context) (int, error) {
	if uc.scheduler == nil {
		return 0, nil
	}
	instances, err := uc.instances.ListAutoProcess(ctx)
	if err != nil {
		return 0, fmt.Errorf("list auto-process instances: %w", err)
	}
	scheduled := 0
	for _, instance := range instances {
		if err := uc.syncInstance(instance); err != nil {
			uc.logger.Error("instance_schedule_failed", "instance_id", instance.ID, "error", err)
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

func (uc *InstanceAutomationUseCase) syncInstance(instance domain.Instance) error {
	if !instance.AutoProcessEnabled {
		uc.scheduler.UnscheduleInstance(instance.ID)
		return nil
	}
	next := instance.NextScanAt
	if next == nil {
		at, err := uc.nextScan(instance.ScanCronExpression, uc.now())
		if err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "schedule instance", err)
		}
		next = &at
	}
	return uc.scheduler.ScheduleInstance(instance.ID, instance.Name, instance.ScanCronExpression, *next)
}
