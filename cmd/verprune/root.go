package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/verprune/verprune/internal/config"
	"github.com/verprune/verprune/internal/logging"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "verprune",
	Short: "Prune old object versions by retention policy",
	Long: `verprune walks the version history of every object in a versioned bucket
and deletes the versions its retention policies no longer need.

Policies keep the oldest and newest version inside each age window
(one day, two days, ... doubling up to a year) and drop delete markers
that no longer hide anything. Keys encrypted with an rclone crypt remote
are decoded before policies are matched.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and environment only when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// loadConfig loads and validates the configuration and installs the
// global logger it describes.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, configureLogging(cfg), nil
}

func configureLogging(cfg *config.Config) *logging.Logger {
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	return logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
}
