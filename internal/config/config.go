// Package config provides configuration loading and validation for verprune.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/verprune/verprune/internal/policy"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for a prune run.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Rclone        RcloneConfig        `yaml:"rclone"`
	Retention     RetentionConfig     `yaml:"retention"`
	Pool          PoolConfig          `yaml:"pool"`
	Journal       JournalConfig       `yaml:"journal"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type StoreConfig struct {
	Endpoint     string `yaml:"endpoint" env:"VERPRUNE_S3_ENDPOINT"`
	Bucket       string `yaml:"bucket" env:"VERPRUNE_S3_BUCKET"`
	Region       string `yaml:"region" env:"VERPRUNE_S3_REGION"`
	AccessKey    string `yaml:"accessKey" env:"VERPRUNE_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secretKey" env:"VERPRUNE_S3_SECRET_KEY"`
	UsePathStyle bool   `yaml:"usePathStyle" env:"VERPRUNE_S3_PATH_STYLE"`
	PageSize     int    `yaml:"pageSize" env:"VERPRUNE_S3_PAGE_SIZE"`
}

// RcloneConfig enables key decryption through an rclone crypt remote.
type RcloneConfig struct {
	Enabled    bool   `yaml:"enabled" env:"VERPRUNE_RCLONE_ENABLED"`
	Binary     string `yaml:"binary" env:"VERPRUNE_RCLONE_BINARY"`
	Remote     string `yaml:"remote" env:"VERPRUNE_RCLONE_REMOTE"`
	ConfigFile string `yaml:"configFile" env:"VERPRUNE_RCLONE_CONFIG"`
	QueueSize  int    `yaml:"queueSize" env:"VERPRUNE_RCLONE_QUEUE_SIZE"`
	ArgLimit   int    `yaml:"argLimit" env:"VERPRUNE_RCLONE_ARG_LIMIT"`
}

type RetentionConfig struct {
	// Policies maps policy names to specs. "default" must be present.
	Policies map[string]policy.Spec `yaml:"policies"`
	Rules    []policy.Rule          `yaml:"rules"`

	// AbandonedUploadAge is the age after which unfinished multipart
	// uploads are cancelled. Zero disables cancellation.
	AbandonedUploadAge time.Duration `yaml:"abandonedUploadAge" env:"VERPRUNE_ABANDONED_UPLOAD_AGE"`
	DryRun             bool          `yaml:"dryRun" env:"VERPRUNE_DRY_RUN"`
	Prefix             string        `yaml:"prefix" env:"VERPRUNE_PREFIX"`
	StartAfter         string        `yaml:"startAfter" env:"VERPRUNE_START_AFTER"`
}

type PoolConfig struct {
	MinWorkers    int           `yaml:"minWorkers" env:"VERPRUNE_POOL_MIN_WORKERS"`
	MaxWorkers    int           `yaml:"maxWorkers" env:"VERPRUNE_POOL_MAX_WORKERS"`
	SpawnInterval time.Duration `yaml:"spawnInterval" env:"VERPRUNE_POOL_SPAWN_INTERVAL"`
	FDFraction    float64       `yaml:"fdFraction" env:"VERPRUNE_POOL_FD_FRACTION"`
	MaxFailures   int           `yaml:"maxFailures" env:"VERPRUNE_POOL_MAX_FAILURES"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled" env:"VERPRUNE_JOURNAL_ENABLED"`
	Path    string `yaml:"path" env:"VERPRUNE_JOURNAL_PATH"`
}

type ScheduleConfig struct {
	// Cron is a standard five-field cron expression or descriptor such as "@daily".
	Cron        string `yaml:"cron" env:"VERPRUNE_SCHEDULE_CRON"`
	RunOnStart  bool   `yaml:"runOnStart" env:"VERPRUNE_SCHEDULE_RUN_ON_START"`
	WatchConfig bool   `yaml:"watchConfig" env:"VERPRUNE_SCHEDULE_WATCH_CONFIG"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"VERPRUNE_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"VERPRUNE_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"VERPRUNE_LOG_FORMAT"`
}

// DefaultPolicies returns the built-in policies: "default" keeps daily
// versions for a week, doubling windows up to a month and a year, then
// yearly versions that must still exist; "one_week" keeps a week.
func DefaultPolicies() map[string]policy.Spec {
	return map[string]policy.Spec{
		policy.DefaultPolicy: policy.MustParseSpec("1,2,3,4,5,6,7,*,30,*,365,?"),
		"one_week":           policy.MustParseSpec("1,2,3,4,5,6,7"),
	}
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Region: "us-east-1",
		},
		Rclone: RcloneConfig{
			Binary:    "rclone",
			QueueSize: 1000,
			ArgLimit:  131072,
		},
		Retention: RetentionConfig{
			Policies:           DefaultPolicies(),
			AbandonedUploadAge: 24 * time.Hour,
		},
		Pool: PoolConfig{
			MinWorkers:    2,
			SpawnInterval: time.Second,
			FDFraction:    0.8,
			MaxFailures:   5,
		},
		Journal: JournalConfig{
			Path: "verprune-journal.db",
		},
		Schedule: ScheduleConfig{
			Cron: "@daily",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Validate checks the configuration for errors that would fail a run.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Bucket == "" {
		errs = append(errs, errors.New("store.bucket is required"))
	}
	if c.Store.PageSize < 0 {
		errs = append(errs, errors.New("store.pageSize must not be negative"))
	}

	if _, ok := c.Retention.Policies[policy.DefaultPolicy]; !ok {
		errs = append(errs, fmt.Errorf("retention.policies must define %q", policy.DefaultPolicy))
	}
	for name, spec := range c.Retention.Policies {
		if err := spec.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("retention.policies.%s: %w", name, err))
		}
	}
	if _, err := policy.NewResolver(c.Retention.Rules); err != nil {
		errs = append(errs, fmt.Errorf("retention.rules: %w", err))
	}
	for i, rule := range c.Retention.Rules {
		if _, ok := c.Retention.Policies[rule.Policy]; rule.Policy != "" && !ok {
			errs = append(errs, fmt.Errorf("retention.rules[%d]: unknown policy %q", i, rule.Policy))
		}
	}
	if c.Retention.AbandonedUploadAge < 0 {
		errs = append(errs, errors.New("retention.abandonedUploadAge must not be negative"))
	}

	if c.Pool.MinWorkers < 1 {
		errs = append(errs, errors.New("pool.minWorkers must be at least 1"))
	}
	if c.Pool.MaxWorkers < 0 {
		errs = append(errs, errors.New("pool.maxWorkers must not be negative"))
	}
	if c.Pool.MaxWorkers > 0 && c.Pool.MaxWorkers < c.Pool.MinWorkers {
		errs = append(errs, errors.New("pool.maxWorkers must not be below pool.minWorkers"))
	}
	if c.Pool.FDFraction <= 0 || c.Pool.FDFraction > 1 {
		errs = append(errs, errors.New("pool.fdFraction must be in (0, 1]"))
	}
	if c.Pool.MaxFailures < 1 {
		errs = append(errs, errors.New("pool.maxFailures must be at least 1"))
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required when the journal is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
