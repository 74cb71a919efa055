package metrics

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verprune/verprune/internal/objectstore"
)

func findMetricFamily(mfs []*io_prometheus_client.MetricFamily, name string) *io_prometheus_client.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// Helper to get counter value with specific labels
func getCounterValue(mf *io_prometheus_client.MetricFamily, labels map[string]string) float64 {
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) && metric.Counter != nil {
			return metric.Counter.GetValue()
		}
	}
	return 0
}

func getGaugeValue(mf *io_prometheus_client.MetricFamily) float64 {
	if len(mf.Metric) == 0 || mf.Metric[0].Gauge == nil {
		return 0
	}
	return mf.Metric[0].Gauge.GetValue()
}

func getHistogramCount(mf *io_prometheus_client.MetricFamily, labels map[string]string) uint64 {
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) && metric.Histogram != nil {
			return metric.Histogram.GetSampleCount()
		}
	}
	return 0
}

// Helper to check if metric labels match expected labels
func matchLabels(metricLabels []*io_prometheus_client.LabelPair, expected map[string]string) bool {
	if len(metricLabels) != len(expected) {
		return false
	}
	for _, lp := range metricLabels {
		if expected[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func gather(t *testing.T, reg *prometheus.Registry, name string) *io_prometheus_client.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	mf := findMetricFamily(mfs, name)
	require.NotNil(t, mf, "%s not found", name)
	return mf
}

func TestStoreMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetricsWithRegistry(reg)

	m.RecordList(0.2, 1000, true)
	m.RecordList(0.1, 0, false)
	m.RecordDelete(0.05, objectstore.DeleteOK)
	m.RecordDelete(0.05, objectstore.DeleteNotFound)
	m.RecordDelete(0.05, objectstore.DeleteFailed)
	m.RecordAbort(0.01, true)

	ops := gather(t, reg, "verprune_objectstore_operations_total")
	assert.Equal(t, 1.0, getCounterValue(ops, map[string]string{"operation": OpList, "status": StatusSuccess}))
	assert.Equal(t, 1.0, getCounterValue(ops, map[string]string{"operation": OpList, "status": StatusFailure}))
	assert.Equal(t, 1.0, getCounterValue(ops, map[string]string{"operation": OpDelete, "status": "not_found"}))
	assert.Equal(t, 1.0, getCounterValue(ops, map[string]string{"operation": OpDelete, "status": "failed"}))
	assert.Equal(t, 1.0, getCounterValue(ops, map[string]string{"operation": OpAbort, "status": StatusSuccess}))

	listed := gather(t, reg, "verprune_objectstore_versions_listed_total")
	assert.Equal(t, 1000.0, getCounterValue(listed, map[string]string{}))

	latency := gather(t, reg, "verprune_objectstore_operation_latency_seconds")
	assert.Equal(t, uint64(1), getHistogramCount(latency, map[string]string{"operation": OpDelete, "status": "ok"}))
}

func TestPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPoolMetricsWithRegistry(reg)

	m.RecordSpawn(1)
	m.RecordSpawn(2)
	m.RecordExit(1, true)
	m.RecordExit(0, false)
	m.RecordTask(objectstore.DeleteOK, 0.01)
	m.SetQueueDepth(7)

	assert.Equal(t, 2.0, getCounterValue(gather(t, reg, "verprune_pool_spawns_total"), map[string]string{}))
	exits := gather(t, reg, "verprune_pool_exits_total")
	assert.Equal(t, 1.0, getCounterValue(exits, map[string]string{"reason": ExitPremature}))
	assert.Equal(t, 1.0, getCounterValue(exits, map[string]string{"reason": ExitClean}))
	assert.Equal(t, 0.0, getGaugeValue(gather(t, reg, "verprune_pool_live_workers")))
	assert.Equal(t, 7.0, getGaugeValue(gather(t, reg, "verprune_pool_queue_depth")))
	assert.Equal(t, uint64(1), getHistogramCount(gather(t, reg, "verprune_pool_task_latency_seconds"), map[string]string{"status": "ok"}))
}

func TestPruneMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPruneMetricsWithRegistry(reg)

	m.RecordGroup(3, 2)
	m.RecordGroup(1, 0)
	m.RecordUploadCancelled()
	finished := time.Unix(1_700_000_000, 0)
	m.RecordRun(90*time.Second, true, finished)
	m.RecordRun(time.Second, false, finished.Add(time.Hour))

	assert.Equal(t, 2.0, getCounterValue(gather(t, reg, "verprune_prune_paths_total"), map[string]string{}))
	versions := gather(t, reg, "verprune_prune_versions_total")
	assert.Equal(t, 4.0, getCounterValue(versions, map[string]string{"decision": DecisionPreserve}))
	assert.Equal(t, 2.0, getCounterValue(versions, map[string]string{"decision": DecisionDelete}))
	assert.Equal(t, 1.0, getCounterValue(gather(t, reg, "verprune_prune_uploads_cancelled_total"), map[string]string{}))
	runs := gather(t, reg, "verprune_prune_runs_total")
	assert.Equal(t, 1.0, getCounterValue(runs, map[string]string{"status": StatusSuccess}))
	assert.Equal(t, 1.0, getCounterValue(runs, map[string]string{"status": StatusFailure}))
	assert.Equal(t, float64(finished.Unix()), getGaugeValue(gather(t, reg, "verprune_prune_last_success_timestamp_seconds")))
}

func TestServer_StartAndClose(t *testing.T) {
	s := NewServerWithRegistry(":0", prometheus.NewRegistry())
	assert.Equal(t, ":0", s.Addr())
	require.NoError(t, s.Start())

	addr := s.Addr()
	assert.NotEqual(t, ":0", addr)

	require.NoError(t, s.Close())
	time.Sleep(10 * time.Millisecond)
	_, err := http.Get("http://" + addr + "/metrics")
	assert.Error(t, err, "expected error after server close")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPruneMetricsWithRegistry(reg)
	m.RecordRun(time.Second, true, time.Now())

	s := NewServerWithRegistry(":0", reg)
	require.NoError(t, s.Start())
	defer s.Close()

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(resp.Header.Get("Content-Type"), "text/plain"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "verprune_prune_runs_total")
	assert.Contains(t, string(body), `status="success"`)

	health, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_CloseWithoutStart(t *testing.T) {
	s := NewServer(":0")
	assert.NoError(t, s.Close())
}
