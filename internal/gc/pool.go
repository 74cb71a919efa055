package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verprune/verprune/internal/logging"
	"github.com/verprune/verprune/internal/objectstore"
)

var (
	// ErrFailureThreshold is returned once MaxFailures workers have died.
	ErrFailureThreshold = errors.New("gc: worker failure threshold reached")

	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("gc: pool is shut down")

	// errCancelled stops a worker whose deletion was cut short by Shutdown.
	errCancelled = errors.New("gc: deletion cancelled")
)

// Task is one version to delete.
type Task struct {
	// Path is the decoded path, used for logging.
	Path string
	// EncodedPath is the object key in the store.
	EncodedPath string
	// FileID is the version ID.
	FileID string
	// Timestamp is the version's upload time in Unix seconds.
	Timestamp int64
	// Reason is the retention reason attached to the decision.
	Reason string
}

// Deleter removes a single version. objectstore.VersionStore satisfies it.
type Deleter interface {
	DeleteVersion(ctx context.Context, key, versionID string) objectstore.DeleteResult
}

// Recorder receives the outcome of every executed task.
type Recorder interface {
	RecordDeletion(task Task, res objectstore.DeleteResult)
}

// MetricsRecorder receives pool lifecycle events.
type MetricsRecorder interface {
	RecordSpawn(live int)
	RecordExit(live int, premature bool)
	RecordTask(status objectstore.DeleteStatus, durationSeconds float64)
	SetQueueDepth(n int)
}

// FDProbe reports open file descriptors and the process limit.
// ok is false when usage cannot be determined.
type FDProbe func() (used, limit int, ok bool)

// PoolConfig configures a DeletionPool.
type PoolConfig struct {
	// MinWorkers is the live worker count below which the spawn interval
	// is not enforced. Default: 2
	MinWorkers int

	// MaxWorkers caps live workers. Zero means unbounded.
	MaxWorkers int

	// SpawnInterval is the minimum time between two spawns. Default: 1s
	SpawnInterval time.Duration

	// FDFraction is the share of the descriptor limit above which no new
	// workers are spawned. Default: 0.8
	FDFraction float64

	// MaxFailures is the number of dead workers that fails the run.
	// Default: 5
	MaxFailures int
}

// DefaultPoolConfig returns a default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinWorkers:    2,
		SpawnInterval: time.Second,
		FDFraction:    0.8,
		MaxFailures:   5,
	}
}

// Stats summarizes the work done by a pool.
type Stats struct {
	Spawned         int
	Deleted         int
	NotFound        int
	Failed          int
	PrematureDeaths int
	// Dropped counts tasks still queued when every worker was gone and
	// deletions cancelled in flight by an interrupted Shutdown.
	Dropped int
}

// PoolOption customizes a DeletionPool.
type PoolOption func(*DeletionPool)

// WithClock replaces time.Now for spawn throttling.
func WithClock(now func() time.Time) PoolOption {
	return func(p *DeletionPool) { p.now = now }
}

// WithFDProbe replaces the file descriptor probe.
func WithFDProbe(probe FDProbe) PoolOption {
	return func(p *DeletionPool) { p.fds = probe }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) PoolOption {
	return func(p *DeletionPool) { p.metrics = m }
}

// WithRecorder attaches a recorder for task outcomes.
func WithRecorder(r Recorder) PoolOption {
	return func(p *DeletionPool) { p.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) PoolOption {
	return func(p *DeletionPool) { p.logger = l }
}

type exitRecord struct {
	worker int
	clean  bool
	err    error
}

// DeletionPool executes deletion tasks on a dynamically sized set of workers.
type DeletionPool struct {
	deleter  Deleter
	cfg      PoolConfig
	now      func() time.Time
	fds      FDProbe
	metrics  MetricsRecorder
	recorder Recorder
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the queue, the idle count and dropped.
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Task
	idle    int
	dropped int

	// workersMu guards the worker registry.
	workersMu sync.Mutex
	live      int
	nextID    int
	lastSpawn time.Time
	exits     []exitRecord
	premature int
	closed    bool
	wg        sync.WaitGroup

	spawned  atomic.Int64
	deleted  atomic.Int64
	notFound atomic.Int64
	failed   atomic.Int64
}

// NewDeletionPool creates a pool that deletes through deleter.
// No workers run until the first Submit.
func NewDeletionPool(deleter Deleter, cfg PoolConfig, opts ...PoolOption) *DeletionPool {
	defaults := DefaultPoolConfig()
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = defaults.MinWorkers
	}
	if cfg.MaxWorkers < 0 {
		cfg.MaxWorkers = 0
	}
	if cfg.SpawnInterval < 0 {
		cfg.SpawnInterval = 0
	}
	if cfg.FDFraction <= 0 || cfg.FDFraction > 1 {
		cfg.FDFraction = defaults.FDFraction
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaults.MaxFailures
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &DeletionPool{
		deleter: deleter,
		cfg:     cfg,
		now:     time.Now,
		fds:     ProcessFDUsage,
		logger:  logging.Global(),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("gc")
	return p
}

// Submit enqueues a task, spawning a worker first when no idle worker can
// take it and the spawn policy allows one. Submit never blocks on capacity.
func (p *DeletionPool) Submit(task Task) error {
	p.workersMu.Lock()
	closed := p.closed
	p.workersMu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	p.mu.Lock()
	reuse := p.idle > len(p.queue)
	p.mu.Unlock()

	if !reuse {
		p.maybeSpawn()
	}

	p.mu.Lock()
	p.queue = append(p.queue, &task)
	depth := len(p.queue)
	p.cond.Signal()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetQueueDepth(depth)
	}
	return nil
}

// maybeSpawn starts a worker when the descriptor budget, the worker cap and
// the spawn interval all allow it.
func (p *DeletionPool) maybeSpawn() bool {
	p.workersMu.Lock()
	defer p.workersMu.Unlock()

	if p.closed {
		return false
	}
	if p.cfg.MaxWorkers > 0 && p.live >= p.cfg.MaxWorkers {
		return false
	}
	if used, limit, ok := p.fds(); ok && limit > 0 && float64(used) >= p.cfg.FDFraction*float64(limit) {
		p.logger.Debugf("descriptor budget exhausted, not spawning", map[string]any{
			"used":  used,
			"limit": limit,
		})
		return false
	}
	now := p.now()
	if p.live >= p.cfg.MinWorkers && !p.lastSpawn.IsZero() && now.Sub(p.lastSpawn) < p.cfg.SpawnInterval {
		return false
	}
	p.spawnLocked(now)
	return true
}

// spawnLocked starts a worker. workersMu must be held.
func (p *DeletionPool) spawnLocked(now time.Time) {
	p.nextID++
	p.live++
	p.lastSpawn = now
	p.spawned.Add(1)
	p.wg.Add(1)
	if p.metrics != nil {
		p.metrics.RecordSpawn(p.live)
	}
	go p.work(p.nextID)
}

// work is the worker loop. A nil task is the stop sentinel.
func (p *DeletionPool) work(id int) {
	rec := exitRecord{worker: id}
	defer func() {
		if r := recover(); r != nil {
			rec.clean = false
			rec.err = fmt.Errorf("panic: %v", r)
		}
		p.exited(rec)
	}()

	p.mu.Lock()
	p.idle++
	p.mu.Unlock()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 {
			p.cond.Wait()
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.idle--
		p.mu.Unlock()

		if task == nil {
			rec.clean = true
			return
		}
		if err := p.execute(task); err != nil {
			if errors.Is(err, errCancelled) {
				rec.clean = true
			} else {
				rec.err = err
			}
			return
		}

		p.mu.Lock()
		p.idle++
		p.mu.Unlock()
	}
}

func (p *DeletionPool) execute(task *Task) error {
	start := time.Now()
	res := p.deleter.DeleteVersion(p.ctx, task.EncodedPath, task.FileID)
	if res.Status == objectstore.DeleteFailed && p.ctx.Err() != nil {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Debugf("deletion cancelled by shutdown", map[string]any{
			"path":   task.Path,
			"fileId": task.FileID,
		})
		return errCancelled
	}
	if p.metrics != nil {
		p.metrics.RecordTask(res.Status, time.Since(start).Seconds())
	}
	if p.recorder != nil {
		p.recorder.RecordDeletion(*task, res)
	}

	fields := map[string]any{
		"path":      task.Path,
		"fileId":    task.FileID,
		"timestamp": task.Timestamp,
		"reason":    task.Reason,
	}
	switch res.Status {
	case objectstore.DeleteOK:
		p.deleted.Add(1)
		p.logger.Debugf("deleted version", fields)
		return nil
	case objectstore.DeleteNotFound:
		p.notFound.Add(1)
		p.logger.Debugf("version already gone", fields)
		return nil
	default:
		p.failed.Add(1)
		err := res.Err
		if err == nil {
			err = errors.New("delete failed")
		}
		fields["error"] = err.Error()
		p.logger.Errorf("delete failed, stopping worker", fields)
		return err
	}
}

func (p *DeletionPool) exited(rec exitRecord) {
	p.workersMu.Lock()
	p.live--
	live := p.live
	p.exits = append(p.exits, rec)
	p.workersMu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordExit(live, !rec.clean)
	}
	p.wg.Done()
}

// collectLocked consumes exit records. workersMu must be held.
func (p *DeletionPool) collectLocked() {
	for _, rec := range p.exits {
		if rec.clean {
			continue
		}
		p.premature++
		fields := map[string]any{"worker": rec.worker}
		if rec.err != nil {
			fields["error"] = rec.err.Error()
		}
		p.logger.Warnf("worker died", fields)
	}
	p.exits = nil
}

func (p *DeletionPool) thresholdErr() error {
	if p.premature >= p.cfg.MaxFailures {
		return fmt.Errorf("%w: %d workers died", ErrFailureThreshold, p.premature)
	}
	return nil
}

// Check collects workers that died since the last call and reports
// ErrFailureThreshold once MaxFailures have died.
func (p *DeletionPool) Check() error {
	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	p.collectLocked()
	return p.thresholdErr()
}

// LiveWorkers returns the number of running workers.
func (p *DeletionPool) LiveWorkers() int {
	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	return p.live
}

// QueueDepth returns the number of queued entries, sentinels included.
func (p *DeletionPool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Shutdown drains the queue, stops every worker and returns the totals.
// Queued tasks run before workers stop. If ctx ends first, in-flight
// deletions are cancelled and queued tasks are dropped.
func (p *DeletionPool) Shutdown(ctx context.Context) (Stats, error) {
	p.workersMu.Lock()
	if p.closed {
		p.workersMu.Unlock()
		return p.Stats(), ErrPoolClosed
	}
	p.closed = true
	live := p.live
	p.workersMu.Unlock()

	p.stop(live)
	ctxErr := p.wait(ctx)

	// Restart a single worker while tasks remain and every worker is gone,
	// as long as the failure budget is not spent.
	for ctxErr == nil {
		p.workersMu.Lock()
		p.collectLocked()
		if p.thresholdErr() != nil || p.pendingTasks() == 0 {
			p.workersMu.Unlock()
			break
		}
		p.spawnLocked(p.now())
		p.workersMu.Unlock()
		p.stop(1)
		ctxErr = p.wait(ctx)
	}
	p.cancel()

	p.mu.Lock()
	for _, t := range p.queue {
		if t != nil {
			p.dropped++
		}
	}
	p.queue = nil
	dropped := p.dropped
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.SetQueueDepth(0)
	}

	p.workersMu.Lock()
	p.collectLocked()
	err := p.thresholdErr()
	p.workersMu.Unlock()

	stats := p.Stats()
	stats.Dropped = dropped
	if dropped > 0 {
		p.logger.Warnf("tasks dropped at shutdown", map[string]any{"dropped": dropped})
	}
	if ctxErr != nil {
		return stats, ctxErr
	}
	return stats, err
}

// stop enqueues n sentinels.
func (p *DeletionPool) stop(n int) {
	p.mu.Lock()
	for i := 0; i < n; i++ {
		p.queue = append(p.queue, nil)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *DeletionPool) pendingTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.queue {
		if t != nil {
			n++
		}
	}
	return n
}

// wait joins all workers. When ctx ends first the queue is replaced by
// sentinels and in-flight deletions are cancelled.
func (p *DeletionPool) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	p.workersMu.Lock()
	live := p.live
	p.workersMu.Unlock()

	p.mu.Lock()
	for _, t := range p.queue {
		if t != nil {
			p.dropped++
		}
	}
	p.queue = make([]*Task, live)
	p.cond.Broadcast()
	p.mu.Unlock()
	p.cancel()

	<-done
	p.logger.Warn("shutdown interrupted, pending deletions abandoned")
	return ctx.Err()
}

// Stats returns the current totals. Dropped is only set by Shutdown.
func (p *DeletionPool) Stats() Stats {
	p.workersMu.Lock()
	premature := p.premature
	p.workersMu.Unlock()
	return Stats{
		Spawned:         int(p.spawned.Load()),
		Deleted:         int(p.deleted.Load()),
		NotFound:        int(p.notFound.Load()),
		Failed:          int(p.failed.Load()),
		PrematureDeaths: premature,
	}
}
