// Package schedule runs prune passes on a cron schedule and reloads the
// daemon's configuration when its file changes.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/verprune/verprune/internal/logging"
)

// ErrAlreadyRunning is returned by Trigger while a run is in progress.
var ErrAlreadyRunning = errors.New("schedule: a run is already in progress")

// RunFunc performs one scheduled run.
type RunFunc func(ctx context.Context) error

// Scheduler invokes a RunFunc on a cron schedule. Runs never overlap: a
// tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger

	mu      sync.Mutex
	spec    string
	entry   cron.EntryID
	run     RunFunc
	ctx     context.Context
	started bool

	busy    atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

// New validates spec and returns a stopped Scheduler.
// spec is a standard five-field expression or a descriptor such as "@daily".
func New(spec string, run RunFunc, logger *logging.Logger) (*Scheduler, error) {
	if run == nil {
		return nil, errors.New("schedule: run function is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("schedule: invalid cron schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.WithComponent("schedule")
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{logger}))),
		logger: logger,
		spec:   spec,
		run:    run,
	}, nil
}

// Start schedules the run and starts the cron loop. Runs receive ctx; the
// scheduler stops when ctx is done. A Scheduler can be started once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.entry != 0 {
		return errors.New("schedule: already started")
	}

	s.ctx = ctx
	id, err := s.cron.AddFunc(s.spec, s.tick)
	if err != nil {
		return fmt.Errorf("schedule: failed to add job: %w", err)
	}
	s.entry = id
	s.cron.Start()
	s.started = true

	s.logger.Infof("scheduler started", map[string]any{"schedule": s.spec})

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Update replaces the schedule and the run function. A run in progress
// finishes with the old function.
func (s *Scheduler) Update(spec string, run RunFunc) error {
	if run == nil {
		return errors.New("schedule: run function is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("schedule: invalid cron schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = run
	if spec == s.spec {
		return nil
	}
	if s.entry != 0 {
		id, err := s.cron.AddFunc(spec, s.tick)
		if err != nil {
			return fmt.Errorf("schedule: failed to add job: %w", err)
		}
		s.cron.Remove(s.entry)
		s.entry = id
	}
	s.logger.Infof("schedule updated", map[string]any{"from": s.spec, "to": spec})
	s.spec = spec
	return nil
}

// Trigger runs immediately in the caller's goroutine.
func (s *Scheduler) Trigger(ctx context.Context) error {
	return s.execute(ctx, "manual")
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if err := s.execute(ctx, "cron"); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		s.logger.Errorf("scheduled run failed", map[string]any{"error": err.Error()})
	}
}

func (s *Scheduler) execute(ctx context.Context, trigger string) error {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warnf("previous run still in progress, skipping", map[string]any{"trigger": trigger})
		return ErrAlreadyRunning
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	s.runs.Add(1)
	s.logger.Debugf("starting run", map[string]any{"trigger": trigger})
	return run(ctx)
}

// Spec returns the current cron expression.
func (s *Scheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// NextRun returns the next scheduled run, or nil when not started.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return nil
	}
	entry := s.cron.Entry(s.entry)
	if !entry.Valid() || entry.Next.IsZero() {
		return nil
	}
	next := entry.Next
	return &next
}

// Runs returns the number of runs started and ticks skipped.
func (s *Scheduler) Runs() (started, skipped int64) {
	return s.runs.Load(), s.skipped.Load()
}

// cronLogger adapts a Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugf(msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	c.l.Errorf(msg, fields)
}

func kvFields(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
