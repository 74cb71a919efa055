package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verprune/verprune/internal/config"
	"github.com/verprune/verprune/internal/journal"
	"github.com/verprune/verprune/internal/logging"
	"github.com/verprune/verprune/internal/objectstore"
	"github.com/verprune/verprune/internal/pathcodec"
	"github.com/verprune/verprune/internal/prune"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgFile = ""
		logLevel = ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verprune.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "verprune "+Version)
	assert.Contains(t, out, "Go Version:")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "schedule", "explain", "history", "version"} {
		assert.True(t, names[want], want)
	}
}

func TestExplainCommand(t *testing.T) {
	path := writeConfig(t, `
retention:
  policies:
    keep_month: [1, 7, 30]
  rules:
    - prefix: backups/
      policy: keep_month
`)
	out, err := execute(t, "explain", "--config", path, "--oldest-days", "60", "backups/db.sql", "notes.txt")
	require.NoError(t, err)

	sections := strings.Split(out, "\n\n")
	require.Len(t, sections, 2)
	assert.Contains(t, sections[0], "Policy: keep_month (1,7,30)")
	assert.Contains(t, sections[0], "REASON")
	assert.Contains(t, sections[1], "Path:   notes.txt")
	assert.Contains(t, sections[1], "Policy: default (1,2,3,4,5,6,7,*,30,*,365,?)")
	assert.Contains(t, sections[1], "7x2*")
}

func TestExplainUnknownPolicy(t *testing.T) {
	path := writeConfig(t, `
retention:
  rules:
    - prefix: a/
      policy: missing
`)
	_, err := execute(t, "explain", "--config", path, "a/b")
	assert.Error(t, err)
}

func TestRunRequiresBucket(t *testing.T) {
	path := writeConfig(t, "observability:\n  metricsAddr: \"\"\n")
	_, err := execute(t, "run", "--config", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestHistoryRequiresJournal(t *testing.T) {
	path := writeConfig(t, "journal:\n  enabled: false\n")
	_, err := execute(t, "history", "--config", path)
	assert.Error(t, err)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Bucket = "test"
	cfg.Observability.MetricsAddr = ""
	cfg.Pool.SpawnInterval = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestPruner(t *testing.T, cfg *config.Config, store *objectstore.MockStore, j *journal.Journal) *pruner {
	t.Helper()
	p := newPruner(cfg, newTelemetry(), j, logging.Discard())
	p.openStore = func(context.Context, config.StoreConfig) (objectstore.VersionStore, error) {
		return store, nil
	}
	p.openTranslator = func(context.Context, config.RcloneConfig, *logging.Logger) (pathcodec.Translator, error) {
		return pathcodec.Identity{}, nil
	}
	return p
}

func TestPrunerRun(t *testing.T) {
	now := time.Now()
	store := objectstore.NewMockStore()
	store.AddVersion("docs/a.txt", now.UnixMilli(), false)
	store.AddVersion("docs/a.txt", now.Add(-2*time.Hour).UnixMilli(), false)
	store.AddVersion("docs/a.txt", now.Add(-3*time.Hour).UnixMilli(), false)
	store.AddVersion("docs/a.txt", now.Add(-4*time.Hour).UnixMilli(), false)

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	sum, err := newTestPruner(t, testConfig(t), store, j).Run(context.Background())
	require.NoError(t, err)

	// Window "1" keeps its newest and oldest candidates.
	assert.Equal(t, 1, sum.Deleted)
	assert.Len(t, store.Versions("docs/a.txt"), 3)

	runs, err := j.Runs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].RunID)

	var out bytes.Buffer
	printSummary(&out, sum, false)
	assert.Contains(t, out.String(), "Deleted:")
}

func TestPrunerRunDryRunFromConfig(t *testing.T) {
	now := time.Now()
	store := objectstore.NewMockStore()
	store.AddVersion("a", now.UnixMilli(), false)
	store.AddVersion("a", now.Add(-400*24*time.Hour).UnixMilli(), false)

	cfg := testConfig(t)
	cfg.Retention.DryRun = true
	cfg.Retention.Policies["default"] = cfg.Retention.Policies["one_week"]

	sum, err := newTestPruner(t, cfg, store, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Planned)
	assert.Equal(t, 0, store.DeleteCalls())

	var out bytes.Buffer
	printSummary(&out, sum, true)
	assert.Contains(t, out.String(), "Would delete:")
	assert.NotContains(t, out.String(), "Journal records lost:")

	out.Reset()
	sum.JournalLost = 2
	printSummary(&out, sum, true)
	assert.Contains(t, out.String(), "Journal records lost:")
}

func TestStartMetricsServerLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Global()
	logging.SetGlobal(logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON, Output: &buf}))
	t.Cleanup(func() { logging.SetGlobal(prev) })

	stop, err := newTelemetry().startMetricsServer("127.0.0.1:0", logging.Global())
	require.NoError(t, err)
	stop()

	assert.Equal(t, 1, strings.Count(buf.String(), "metrics server listening"))
}

func TestDriverConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Prefix = "p/"
	cfg.Pool.MaxWorkers = 8

	dc := driverConfig(cfg)
	assert.Equal(t, "p/", dc.Prefix)
	assert.Equal(t, 8, dc.Pool.MaxWorkers)
	assert.Equal(t, cfg.Pool.MinWorkers, dc.Pool.MinWorkers)
	assert.Equal(t, prune.DefaultAbandonedUploadAge, dc.AbandonedUploadAge)
}

func TestOpenTranslatorDisabled(t *testing.T) {
	tr, err := openTranslator(context.Background(), config.RcloneConfig{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, pathcodec.Identity{}, tr)
}

func TestDaemonReload(t *testing.T) {
	path := writeConfig(t, "store:\n  bucket: test\nschedule:\n  cron: \"@daily\"\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	d := &daemon{tel: newTelemetry(), logger: logging.Discard()}
	d.sched, err = newScheduler(d, cfg)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("store:\n  bucket: test\nschedule:\n  cron: \"@hourly\"\n"), 0o644))
	d.reload(path)
	assert.Equal(t, "@hourly", d.sched.Spec())

	// An invalid file keeps the previous schedule.
	require.NoError(t, os.WriteFile(path, []byte("store:\n  bucket: \"\"\n"), 0o644))
	d.reload(path)
	assert.Equal(t, "@hourly", d.sched.Spec())
}
