package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/verprune/verprune/internal/config"
	"github.com/verprune/verprune/internal/gc"
	"github.com/verprune/verprune/internal/journal"
	"github.com/verprune/verprune/internal/logging"
	"github.com/verprune/verprune/internal/metrics"
	"github.com/verprune/verprune/internal/objectstore"
	"github.com/verprune/verprune/internal/objectstore/s3"
	"github.com/verprune/verprune/internal/pathcodec"
	"github.com/verprune/verprune/internal/prune"
)

// telemetry holds the process-wide metric collectors.
type telemetry struct {
	registry *prometheus.Registry
	store    *metrics.StoreMetrics
	pool     *metrics.PoolMetrics
	prune    *metrics.PruneMetrics
}

func newTelemetry() *telemetry {
	reg := prometheus.NewRegistry()
	return &telemetry{
		registry: reg,
		store:    metrics.NewStoreMetricsWithRegistry(reg),
		pool:     metrics.NewPoolMetricsWithRegistry(reg),
		prune:    metrics.NewPruneMetricsWithRegistry(reg),
	}
}

// startMetricsServer serves the registry when an address is configured.
// The returned function stops the server.
func (t *telemetry) startMetricsServer(addr string, logger *logging.Logger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	srv := metrics.NewServerWithRegistry(addr, t.registry)
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return func() {
		if err := srv.Close(); err != nil {
			logger.Warnf("metrics server close failed", map[string]any{"error": err.Error()})
		}
	}, nil
}

// pruner builds a store, translator and driver for each pass.
type pruner struct {
	cfg     *config.Config
	tel     *telemetry
	journal *journal.Journal
	logger  *logging.Logger

	openStore      func(ctx context.Context, cfg config.StoreConfig) (objectstore.VersionStore, error)
	openTranslator func(ctx context.Context, cfg config.RcloneConfig, logger *logging.Logger) (pathcodec.Translator, error)
}

func newPruner(cfg *config.Config, tel *telemetry, j *journal.Journal, logger *logging.Logger) *pruner {
	return &pruner{
		cfg:            cfg,
		tel:            tel,
		journal:        j,
		logger:         logger,
		openStore:      openS3Store,
		openTranslator: openTranslator,
	}
}

// openJournal opens the run journal when it is enabled.
func openJournal(cfg config.JournalConfig) (*journal.Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	j, err := journal.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, nil
}

func openS3Store(ctx context.Context, cfg config.StoreConfig) (objectstore.VersionStore, error) {
	store, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKey,
		SecretAccessKey: cfg.SecretKey,
		UsePathStyle:    cfg.UsePathStyle,
		PageSize:        int32(cfg.PageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	return store, nil
}

func openTranslator(ctx context.Context, cfg config.RcloneConfig, logger *logging.Logger) (pathcodec.Translator, error) {
	if !cfg.Enabled {
		return pathcodec.Identity{}, nil
	}
	remote := cfg.Remote
	if remote == "" {
		var err error
		remote, err = pathcodec.DiscoverCryptRemote(ctx, pathcodec.ExecRunner, cfg.Binary, cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		logger.Infof("using crypt remote", map[string]any{"remote": remote})
	}
	return pathcodec.NewRclone(pathcodec.RcloneConfig{
		Binary:     cfg.Binary,
		Remote:     remote,
		ConfigFile: cfg.ConfigFile,
		QueueSize:  cfg.QueueSize,
		ArgLimit:   cfg.ArgLimit,
	}, pathcodec.WithLogger(logger))
}

func driverConfig(cfg *config.Config) prune.Config {
	return prune.Config{
		Policies:           cfg.Retention.Policies,
		Rules:              cfg.Retention.Rules,
		Prefix:             cfg.Retention.Prefix,
		StartAfter:         cfg.Retention.StartAfter,
		DryRun:             cfg.Retention.DryRun,
		AbandonedUploadAge: cfg.Retention.AbandonedUploadAge,
		Pool: gc.PoolConfig{
			MinWorkers:    cfg.Pool.MinWorkers,
			MaxWorkers:    cfg.Pool.MaxWorkers,
			SpawnInterval: cfg.Pool.SpawnInterval,
			FDFraction:    cfg.Pool.FDFraction,
			MaxFailures:   cfg.Pool.MaxFailures,
		},
	}
}

// Run performs one prune pass against a freshly opened store.
func (p *pruner) Run(ctx context.Context) (prune.Summary, error) {
	store, err := p.openStore(ctx, p.cfg.Store)
	if err != nil {
		return prune.Summary{}, err
	}
	store = objectstore.NewInstrumentedStore(store, p.tel.store)
	defer store.Close()

	tr, err := p.openTranslator(ctx, p.cfg.Rclone, p.logger)
	if err != nil {
		return prune.Summary{}, err
	}

	opts := []prune.Option{
		prune.WithLogger(p.logger.WithComponent("prune")),
		prune.WithMetrics(p.tel.prune),
		prune.WithPoolOptions(gc.WithMetrics(p.tel.pool)),
	}
	if p.journal != nil {
		opts = append(opts, prune.WithJournal(p.journal))
	}
	d, err := prune.NewDriver(store, tr, driverConfig(p.cfg), opts...)
	if err != nil {
		return prune.Summary{}, err
	}
	return d.Run(ctx)
}
