package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScanFunc runs one scan and returns the persisted next scan time.
type ScanFunc func(ctx context.Context, instanceID string) (time.Time, error)

type entry struct {
	name       string
	expression string
	nextScanAt time.Time
	timer      *time.Timer
	generation uint64
}

// Registry owns one timer per instance. ScheduleInstance and
// UnscheduleInstance are its only mutation entry points.
type Registry struct {
	ctx    context.Context
	scan   ScanFunc
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	entries    map[string]*entry
	generation uint64
	wg         sync.WaitGroup
}

func NewRegistry(ctx context.Context, scan ScanFunc, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ctx:     ctx,
		scan:    scan,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]*entry),
	}
}

// CalculateNextScanTime returns the first activation of a standard
// five-field cron expression strictly after from.
func CalculateNextScanTime(expression string, from time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(strings.TrimSpace(expression))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expression, err)
	}
	next := schedule.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", expression)
	}
	return next, nil
}

func ValidateExpression(expression string) error {
	_, err := cron.ParseStandard(strings.TrimSpace(expression))
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", expression, err)
	}
	return nil
}

func (r *Registry) ScheduleInstance(instanceID, name, cronExpression string, nextScanAt time.Time) error {
	if err := ValidateExpression(cronExpression); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[instanceID]; ok {
		existing.timer.Stop()
	}
	r.generation++
	e := &entry{
		name:       name,
		expression: cronExpression,
		generation: r.generation,
	}
	r.entries[instanceID] = e
	r.arm(instanceID, e, nextScanAt)

	r.logger.Info("instance_scheduled", "instance_id", instanceID, "instance", name, "next_scan_at", nextScanAt)
	return nil
}

func (r *Registry) UnscheduleInstance(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[instanceID]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(r.entries, instanceID)
	r.logger.Info("instance_unscheduled", "instance_id", instanceID, "instance", e.name)
}

// Scheduled reports the next fire time of a registered instance.
func (r *Registry) Scheduled(instanceID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[instanceID]
	if !ok {
		return time.Time{}, false
	}
	return e.nextScanAt, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop cancels every timer and waits for running scans.
func (r *Registry) Stop() {
	r.mu.Lock()
	for id, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// arm must be called with r.mu held.
func (r *Registry) arm(instanceID string, e *entry, at time.Time) {
	e.nextScanAt = at
	delay := max(at.Sub(r.now()), 0)
	generation := e.generation
	e.timer = time.AfterFunc(delay, func() {
		r.fire(instanceID, generation)
	})
}

func (r *Registry) fire(instanceID string, generation uint64) {
	r.mu.Lock()
	e, ok := r.entries[instanceID]
	if !ok || e.generation != generation {
		r.mu.Unlock()
		return
	}
	expression := e.expression
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	if r.ctx.Err() != nil {
		return
	}

	next, err := r.scan(r.ctx, instanceID)
	if err != nil {
		r.logger.Error("instance_scan_failed", "instance_id", instanceID, "error", err)
	}
	if err != nil || next.IsZero() {
		next, err = CalculateNextScanTime(expression, r.now())
		if err != nil {
			r.logger.Error("instance_reschedule_failed", "instance_id", instanceID, "error", err)
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.entries[instanceID]
	if !ok || current.generation != generation {
		return
	}
	r.arm(instanceID, current, next)
}
