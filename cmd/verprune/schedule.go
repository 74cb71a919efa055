package main

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/cobra"

	"github.com/verprune/verprune/internal/config"
	"github.com/verprune/verprune/internal/journal"
	"github.com/verprune/verprune/internal/logging"
	"github.com/verprune/verprune/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run prune passes on a cron schedule",
	Long: `Run prune passes on the cron schedule in schedule.cron until interrupted.

With schedule.watchConfig set, the config file is watched and the schedule,
policies and store settings are reloaded when it changes. An invalid file
is logged and the previous configuration stays in effect.

Examples:
  # Prune every night at 3 AM
  VERPRUNE_SCHEDULE_CRON="0 3 * * *" verprune schedule --config config.yaml`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

// daemon owns the scheduler and swaps the pruner on config reload.
type daemon struct {
	tel     *telemetry
	journal *journal.Journal
	logger  *logging.Logger

	mu    sync.Mutex
	sched *schedule.Scheduler
}

func (d *daemon) runFunc(cfg *config.Config) schedule.RunFunc {
	p := newPruner(cfg, d.tel, d.journal, d.logger)
	return func(ctx context.Context) error {
		_, err := p.Run(ctx)
		return err
	}
}

func newScheduler(d *daemon, cfg *config.Config) (*schedule.Scheduler, error) {
	return schedule.New(cfg.Schedule.Cron, d.runFunc(cfg), d.logger)
}

// reload applies the config file at path. The journal and metrics server
// keep their startup settings.
func (d *daemon) reload(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		d.logger.Errorf("config reload failed, keeping previous config", map[string]any{"error": err.Error()})
		return
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sched.Update(cfg.Schedule.Cron, d.runFunc(cfg)); err != nil {
		d.logger.Errorf("config reload failed, keeping previous config", map[string]any{"error": err.Error()})
		return
	}
	d.logger.SetLevel(logging.ParseLevel(cfg.Observability.LogLevel))
	d.logger.Infof("config reloaded", map[string]any{"schedule": cfg.Schedule.Cron})
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	tel := newTelemetry()
	stopMetrics, err := tel.startMetricsServer(cfg.Observability.MetricsAddr, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	j, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	d := &daemon{tel: tel, journal: j, logger: logger}
	d.sched, err = newScheduler(d, cfg)
	if err != nil {
		return err
	}
	if err := d.sched.Start(ctx); err != nil {
		return err
	}
	defer d.sched.Stop()

	if cfg.Schedule.WatchConfig && cfgFile != "" {
		go func() {
			err := schedule.WatchFile(ctx, cfgFile, schedule.DefaultDebounce, func() { d.reload(cfgFile) }, logger)
			if err != nil {
				logger.Errorf("config watcher stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	if cfg.Schedule.RunOnStart {
		if err := d.sched.Trigger(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("initial run failed", map[string]any{"error": err.Error()})
		}
	}

	if next := d.sched.NextRun(); next != nil {
		logger.Infof("waiting for next run", map[string]any{"next": next.UTC().Format("2006-01-02T15:04:05Z")})
	}
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
