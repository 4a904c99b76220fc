package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) Persist(ctx context.Context) error {
	r.calls.Add(1)
	return nil
}

func TestSchedulerRunsRegisteredJob(t *testing.T) {
	s := New(nil)
	r := &countingRunner{}
	if err := s.Register("t1", "@every 1s", r); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start()
	defer s.Stop()

	time.Sleep(2200 * time.Millisecond)
	if r.calls.Load() < 1 {
		t.Fatalf("expected at least one run, got %d", r.calls.Load())
	}
}

func TestRegisterRejectsBadCron(t *testing.T) {
	s := New(nil)
	if err := s.Register("bad", "not a cron expr", &countingRunner{}); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}
