package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCalculateNextScanTime(t *testing.T) {
	from := time.Date(2026, 10, 19, 12, 7, 30, 0, time.UTC)

	next, err := CalculateNextScanTime("*/15 * * * *", from)
	if err != nil {
		t.Fatalf("CalculateNextScanTime() error = %v", err)
	}
	want := time.Date(2026, 10, 19, 12, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}

	daily, err := CalculateNextScanTime("0 3 * * *", from)
	if err != nil {
		t.Fatalf("CalculateNextScanTime() error = %v", err)
	}
	if want := time.Date(2026, 10, 20, 3, 0, 0, 0, time.UTC); !daily.Equal(want) {
		t.Fatalf("expected %s, got %s", want, daily)
	}
}

func TestCalculateNextScanTimeRejectsInvalidExpression(t *testing.T) {
	if _, err := CalculateNextScanTime("every five minutes", time.Now()); err == nil {
		t.Fatalf("expected parse error")
	}
}

type scanRecorder struct {
	mu    sync.Mutex
	calls []string
	fired chan string
	next  time.Time
}

func (s *scanRecorder) scan(_ context.Context, instanceID string) (time.Time, error) {
	s.mu.Lock()
	s.calls = append(s.calls, instanceID)
	s.mu.Unlock()
	s.fired <- instanceID
	return s.next, nil
}

func TestRegistryFiresAndRearmsWithPersistedNextScan(t *testing.T) {
	rec := &scanRecorder{fired: make(chan string, 4), next: time.Now().Add(time.Hour)}
	registry := NewRegistry(context.Background(), rec.scan, nil)
	defer registry.Stop()

	if err := registry.ScheduleInstance("inst-1", "Office", "0 * * * *", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("ScheduleInstance() error = %v", err)
	}

	select {
	case id := <-rec.fired:
		if id != "inst-1" {
			t.Fatalf("expected inst-1, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}

	deadline := time.Now().Add(time.Second)
	for {
		next, ok := registry.Scheduled("inst-1")
		if ok && next.Equal(rec.next) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected re-arm at %s, got %s (registered=%v)", rec.next, next, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryUnscheduleIsIdempotentAndStopsTimer(t *testing.T) {
	rec := &scanRecorder{fired: make(chan string, 1)}
	registry := NewRegistry(context.Background(), rec.scan, nil)
	defer registry.Stop()

	if err := registry.ScheduleInstance("inst-1", "Office", "0 * * * *", time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("ScheduleInstance() error = %v", err)
	}
	registry.UnscheduleInstance("inst-1")
	registry.UnscheduleInstance("inst-1")
	registry.UnscheduleInstance("never-scheduled")

	select {
	case id := <-rec.fired:
		t.Fatalf("unscheduled instance %s fired", id)
	case <-time.After(120 * time.Millisecond):
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
}

func TestRegistryScheduleReplacesExistingTimer(t *testing.T) {
	rec := &scanRecorder{fired: make(chan string, 2)}
	registry := NewRegistry(context.Background(), rec.scan, nil)
	defer registry.Stop()

	soon := time.Now().Add(30 * time.Millisecond)
	later := time.Now().Add(time.Hour)
	if err := registry.ScheduleInstance("inst-1", "Office", "0 * * * *", soon); err != nil {
		t.Fatalf("ScheduleInstance() error = %v", err)
	}
	if err := registry.ScheduleInstance("inst-1", "Office", "0 3 * * *", later); err != nil {
		t.Fatalf("ScheduleInstance() error = %v", err)
	}

	select {
	case <-rec.fired:
		t.Fatalf("replaced timer must not fire")
	case <-time.After(100 * time.Millisecond):
	}
	next, ok := registry.Scheduled("inst-1")
	if !ok || !next.Equal(later) {
		t.Fatalf("expected replacement at %s, got %s", later, next)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one entry, got %d", registry.Len())
	}
}

func TestRegistryRejectsInvalidExpression(t *testing.T) {
	registry := NewRegistry(context.Background(), func(context.Context, string) (time.Time, error) {
		return time.Time{}, nil
	}, nil)
	if err := registry.ScheduleInstance("inst-1", "Office", "nope", time.Now()); err == nil {
		t.Fatalf("expected validation error")
	}
	if registry.Len() != 0 {
		t.Fatalf("invalid schedule must not be registered")
	}
}
