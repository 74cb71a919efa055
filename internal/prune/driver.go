// Package prune drives a retention run over a versioned bucket.
//
// The driver streams the bucket's version listing, groups records by key,
// resolves each key's decoded path to a retention policy, evaluates the
// group and hands the resulting deletions to a gc.DeletionPool. Between
// batches it checks the pool's worker failure budget and aborts the run
// once it is spent.
package prune

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/verprune/verprune/internal/gc"
	"github.com/verprune/verprune/internal/journal"
	"github.com/verprune/verprune/internal/logging"
	"github.com/verprune/verprune/internal/objectstore"
	"github.com/verprune/verprune/internal/pathcodec"
	"github.com/verprune/verprune/internal/policy"
	"github.com/verprune/verprune/internal/retention"
)

// DefaultAbandonedUploadAge is the age after which unfinished multipart
// uploads are cancelled.
const DefaultAbandonedUploadAge = 24 * time.Hour

// DefaultBatchSize is the number of paths evaluated between pool checks
// when the translator does not fill up first.
const DefaultBatchSize = 1000

// Config configures a Driver.
type Config struct {
	// Policies maps policy names to retention specs. Must contain "default".
	Policies map[string]policy.Spec

	// Rules maps paths to policy names.
	Rules []policy.Rule

	// Prefix limits the run to keys under this prefix.
	Prefix string

	// StartAfter resumes the listing after this key.
	StartAfter string

	// DryRun logs and journals deletions without executing them.
	DryRun bool

	// AbandonedUploadAge is the age after which unfinished uploads are
	// cancelled. Zero disables cancellation.
	AbandonedUploadAge time.Duration

	// BatchSize caps the number of paths held between pool checks.
	// Default: 1000
	BatchSize int

	// Pool configures the deletion worker pool.
	Pool gc.PoolConfig
}

// MetricsRecorder receives run-level events.
type MetricsRecorder interface {
	RecordGroup(preserved, deleted int)
	RecordUploadCancelled()
	RecordRun(duration time.Duration, success bool, finished time.Time)
}

// Summary aggregates the outcome of a run.
type Summary struct {
	RunID            string
	Paths            int
	Versions         int
	Preserved        int
	Deleted          int
	NotFound         int
	Failed           int
	PrematureDeaths  int
	Dropped          int
	Planned          int
	Skipped          int
	UploadsCancelled int
	JournalLost      int
	Duration         time.Duration
}

// Option customizes a Driver.
type Option func(*Driver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithMetrics sets the run metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithJournal records every run and deletion in j.
func WithJournal(j *journal.Journal) Option {
	return func(d *Driver) { d.journal = j }
}

// WithPoolOptions passes options to the deletion pool created for each run.
func WithPoolOptions(opts ...gc.PoolOption) Option {
	return func(d *Driver) { d.poolOpts = append(d.poolOpts, opts...) }
}

// WithRunID fixes the run ID instead of generating one per run.
func WithRunID(id string) Option {
	return func(d *Driver) { d.runID = id }
}

// Driver runs retention passes over a VersionStore.
type Driver struct {
	store      objectstore.VersionStore
	translator pathcodec.Translator
	cfg        Config
	planner    *Planner

	now      func() time.Time
	logger   *logging.Logger
	metrics  MetricsRecorder
	journal  *journal.Journal
	poolOpts []gc.PoolOption
	runID    string
}

// NewDriver validates cfg and returns a Driver. A nil translator means keys
// are not encoded.
func NewDriver(store objectstore.VersionStore, translator pathcodec.Translator, cfg Config, opts ...Option) (*Driver, error) {
	if store == nil {
		return nil, errors.New("prune: store is required")
	}
	planner, err := NewPlanner(cfg.Policies, cfg.Rules)
	if err != nil {
		return nil, err
	}
	if translator == nil {
		translator = pathcodec.Identity{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	d := &Driver{
		store:      store,
		translator: translator,
		cfg:        cfg,
		planner:    planner,
		now:        time.Now,
		logger:     logging.Global().WithComponent("prune"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Planner returns the driver's path planner.
func (d *Driver) Planner() *Planner {
	return d.planner
}

// run holds the state of a single pass.
type run struct {
	d       *Driver
	logger  *logging.Logger
	pool    *gc.DeletionPool
	journal *journal.Run
	now     int64
	sum     *Summary

	current *retention.Group
	pending []*retention.Group
}

// Run performs one retention pass. The returned error is non-nil when the
// listing failed, the worker failure budget was spent or ctx was cancelled.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	started := d.now()
	runID := d.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := d.logger.WithRunID(runID)
	ctx = logging.WithLoggerCtx(logging.WithRunIDCtx(ctx, runID), logger)

	sum := Summary{RunID: runID}
	logger.Infof("prune run started", map[string]any{
		"prefix":     d.cfg.Prefix,
		"startAfter": d.cfg.StartAfter,
		"dryRun":     d.cfg.DryRun,
	})

	var jrun *journal.Run
	if d.journal != nil {
		var err error
		jrun, err = d.journal.StartRun(ctx, runID, started, d.cfg.DryRun)
		if err != nil {
			return sum, fmt.Errorf("prune: %w", err)
		}
	}

	sum.UploadsCancelled = d.cancelAbandonedUploads(ctx, logger, started)

	poolOpts := []gc.PoolOption{gc.WithLogger(logger)}
	if jrun != nil {
		poolOpts = append(poolOpts, gc.WithRecorder(jrun))
	}
	poolOpts = append(poolOpts, d.poolOpts...)
	pool := gc.NewDeletionPool(d.store, d.cfg.Pool, poolOpts...)

	r := &run{
		d:       d,
		logger:  logger,
		pool:    pool,
		journal: jrun,
		now:     started.Unix(),
		sum:     &sum,
	}
	runErr := r.scan(ctx)

	stats, shutdownErr := pool.Shutdown(ctx)
	if runErr == nil {
		runErr = shutdownErr
	}
	sum.Deleted = stats.Deleted
	sum.NotFound = stats.NotFound
	sum.Failed = stats.Failed
	sum.PrematureDeaths = stats.PrematureDeaths
	sum.Dropped = stats.Dropped

	finished := d.now()
	sum.Duration = finished.Sub(started)

	if jrun != nil {
		// Record the outcome even when the run context was cancelled.
		err := jrun.Finish(context.WithoutCancel(ctx), finished, journal.RunStats{
			Paths:    sum.Paths,
			Versions: sum.Versions,
			Deleted:  sum.Deleted,
			NotFound: sum.NotFound,
			Failed:   sum.Failed,
		}, runErr)
		if err != nil {
			logger.Warnf("failed to finish journal run", map[string]any{"error": err.Error()})
		}
		sum.JournalLost = jrun.Lost()
	}
	if d.metrics != nil {
		d.metrics.RecordRun(sum.Duration, runErr == nil, finished)
	}

	fields := map[string]any{
		"paths":            sum.Paths,
		"versions":         sum.Versions,
		"preserved":        sum.Preserved,
		"deleted":          sum.Deleted,
		"notFound":         sum.NotFound,
		"failed":           sum.Failed,
		"prematureDeaths":  sum.PrematureDeaths,
		"dropped":          sum.Dropped,
		"planned":          sum.Planned,
		"skipped":          sum.Skipped,
		"uploadsCancelled": sum.UploadsCancelled,
		"journalLost":      sum.JournalLost,
		"durationMs":       sum.Duration.Milliseconds(),
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
		logger.Errorf("prune run failed", fields)
		return sum, runErr
	}
	logger.Infof("prune run finished", fields)
	return sum, nil
}

// cancelAbandonedUploads aborts unfinished multipart uploads started before
// the configured age. Failures are logged and never fail the run.
func (d *Driver) cancelAbandonedUploads(ctx context.Context, logger *logging.Logger, now time.Time) int {
	if d.cfg.AbandonedUploadAge <= 0 {
		return 0
	}
	uploads, err := d.store.ListUnfinishedUploads(ctx, d.cfg.Prefix)
	if err != nil {
		logger.Warnf("failed to list unfinished uploads", map[string]any{"error": err.Error()})
		return 0
	}

	cutoff := now.Add(-d.cfg.AbandonedUploadAge).UnixMilli()
	cancelled := 0
	for _, u := range uploads {
		if u.Initiated > cutoff {
			continue
		}
		fields := map[string]any{
			"key":       u.Key,
			"uploadId":  u.UploadID,
			"initiated": time.UnixMilli(u.Initiated).UTC().Format(time.RFC3339),
		}
		if d.cfg.DryRun {
			logger.Infof("would cancel unfinished upload", fields)
			continue
		}
		if err := d.store.AbortUpload(ctx, u.Key, u.UploadID); err != nil {
			fields["error"] = err.Error()
			logger.Warnf("failed to cancel unfinished upload", fields)
			continue
		}
		logger.Infof("cancelled unfinished upload", fields)
		cancelled++
		if d.metrics != nil {
			d.metrics.RecordUploadCancelled()
		}
	}
	return cancelled
}

// scan streams the listing and processes groups batch by batch.
func (r *run) scan(ctx context.Context) error {
	opts := objectstore.ListOptions{Prefix: r.d.cfg.Prefix, StartAfter: r.d.cfg.StartAfter}
	err := r.d.store.ListVersions(ctx, opts, func(v objectstore.Version) error {
		if r.current == nil || r.current.EncodedPath != v.Key {
			if err := r.closeGroup(ctx); err != nil {
				return err
			}
			r.current = &retention.Group{EncodedPath: v.Key}
		}
		r.current.Versions = append(r.current.Versions, toVersion(v))
		r.sum.Versions++
		return nil
	})
	if err != nil {
		return fmt.Errorf("prune: list versions: %w", err)
	}
	if err := r.closeGroup(ctx); err != nil {
		return err
	}
	return r.processPending(ctx)
}

// closeGroup queues the current group for translation and processes the
// pending batch once the translator reports it is full.
func (r *run) closeGroup(ctx context.Context) error {
	if r.current == nil {
		return nil
	}
	g := r.current
	r.current = nil
	r.pending = append(r.pending, g)
	r.sum.Paths++
	full := r.d.translator.Enqueue(g.EncodedPath)
	if full || r.d.translator.Full() || len(r.pending) >= r.d.cfg.BatchSize {
		return r.processPending(ctx)
	}
	return nil
}

func (r *run) processPending(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.d.translator.Flush(ctx); err != nil {
		return fmt.Errorf("prune: translate paths: %w", err)
	}
	for _, g := range r.pending {
		path, err := r.d.translator.Resolve(g.EncodedPath)
		if err != nil {
			r.sum.Skipped++
			r.logger.Warnf("skipping untranslated path", map[string]any{
				"key":   g.EncodedPath,
				"error": err.Error(),
			})
			continue
		}
		g.Path = path
		if err := r.process(g); err != nil {
			return err
		}
	}
	r.pending = r.pending[:0]
	return r.pool.Check()
}

// process evaluates one group and submits its deletions oldest first.
func (r *run) process(g *retention.Group) error {
	name, spec := r.d.planner.Plan(g.Path)
	retention.Evaluate(g, spec, r.now)

	preserved, deleted := g.Counts()
	r.sum.Preserved += preserved
	if r.d.metrics != nil {
		r.d.metrics.RecordGroup(preserved, deleted)
	}

	for _, v := range g.Versions {
		r.logger.Debugf("retention decision", map[string]any{
			"path":      g.Path,
			"policy":    name,
			"fileId":    v.FileID,
			"action":    v.Action.String(),
			"timestamp": v.Timestamp,
			"tag":       v.Tag.String(),
			"reason":    v.Reason,
		})
	}

	for _, v := range g.Deletions() {
		task := gc.Task{
			Path:        g.Path,
			EncodedPath: g.EncodedPath,
			FileID:      v.FileID,
			Timestamp:   v.Timestamp,
			Reason:      v.Reason,
		}
		if r.d.cfg.DryRun {
			r.sum.Planned++
			r.logger.Infof("would delete version", map[string]any{
				"path":   task.Path,
				"fileId": task.FileID,
				"reason": task.Reason,
			})
			if r.journal != nil {
				r.journal.RecordPlanned(task)
			}
			continue
		}
		if err := r.pool.Submit(task); err != nil {
			return fmt.Errorf("prune: submit deletion: %w", err)
		}
	}
	return nil
}

func toVersion(v objectstore.Version) retention.Version {
	action := retention.ActionUpload
	if v.DeleteMarker {
		action = retention.ActionHide
	}
	return retention.Version{
		FileID:    v.VersionID,
		Timestamp: v.LastModified / 1000,
		Action:    action,
	}
}
