// Package scheduler runs a periodic background persistence flush for one or
// more tables, adapted from the teacher engine's job scheduler
// (internal/storage/scheduler.go), trimmed from general SQL job execution
// down to the single concern this engine needs: calling Persist on a
// schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// PersistRunner is anything that can flush its indexes to durable storage.
// worktable.PersistJob binds a *worktable.WorkTable plus its file path and
// Options to satisfy this interface, since WorkTable.Persist itself takes
// a path and Options alongside the context.
type PersistRunner interface {
	Persist(ctx context.Context) error
}

// Logger is the minimal logging surface the scheduler needs; *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// job pairs a named table with its runner, its cron entry, and its last-run
// bookkeeping.
type job struct {
	name      string
	runner    PersistRunner
	entryID   cron.EntryID
	lastRunAt time.Time
	running   bool
}

// Scheduler runs PersistRunner.Persist for each registered table on a cron
// schedule, guaranteeing at most one in-flight run per table (no_overlap),
// mirroring the teacher's JobExecution/no_overlap semantics.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]*job
	logger Logger
}

// New creates a Scheduler. If logger is nil, log output is discarded.
func New(logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		jobs:   make(map[string]*job),
		logger: logger,
	}
}

// Register schedules runner to persist on the given cron expression
// (seconds-resolution, e.g. "@every 1m" or "0 */5 * * * *"). Registering a
// name that already exists replaces its runner and schedule.
func (s *Scheduler) Register(name, cronExpr string, runner PersistRunner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.entryID)
	}
	j := &job{name: name, runner: runner}
	s.jobs[name] = j

	id, err := s.cron.AddFunc(cronExpr, func() { s.runJob(j) })
	if err != nil {
		delete(s.jobs, name)
		return fmt.Errorf("scheduler: invalid cron expression %q for %q: %w", cronExpr, name, err)
	}
	j.entryID = id
	return nil
}

func (s *Scheduler) runJob(j *job) {
	s.mu.Lock()
	if j.running {
		s.mu.Unlock()
		s.logger.Printf("scheduler: table %q persist already running, skipping", j.name)
		return
	}
	j.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		j.running = false
		j.lastRunAt = time.Now()
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := j.runner.Persist(ctx); err != nil {
		s.logger.Printf("scheduler: table %q persist failed: %v", j.name, err)
		return
	}
	s.logger.Printf("scheduler: table %q persisted", j.name)
}

// Start begins running scheduled persistence flushes in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for the cron loop to drain in-flight
// trigger dispatch. It does not cancel a Persist call already in progress.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
