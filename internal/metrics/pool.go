package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/verprune/verprune/internal/objectstore"
)

// Worker exit label values.
const (
	ExitClean     = "clean"
	ExitPremature = "premature"
)

// PoolMetrics holds metrics for the deletion worker pool.
// It implements gc.MetricsRecorder.
type PoolMetrics struct {
	// LiveWorkers is the number of running workers.
	LiveWorkers prometheus.Gauge

	// QueueDepth is the number of queued deletion tasks.
	QueueDepth prometheus.Gauge

	// SpawnsTotal counts spawned workers.
	SpawnsTotal prometheus.Counter

	// ExitsTotal counts worker exits.
	// Labels: reason (clean, premature)
	ExitsTotal *prometheus.CounterVec

	// TaskLatency tracks deletion latency by outcome (ok, not_found, failed).
	TaskLatency *prometheus.HistogramVec
}

// NewPoolMetrics creates and registers pool metrics with the default registry.
func NewPoolMetrics() *PoolMetrics {
	return NewPoolMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewPoolMetricsWithRegistry creates pool metrics registered with a custom registry.
func NewPoolMetricsWithRegistry(reg prometheus.Registerer) *PoolMetrics {
	f := promauto.With(reg)
	return &PoolMetrics{
		LiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "live_workers",
			Help:      "Number of running deletion workers.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Number of deletion tasks waiting for a worker.",
		}),
		SpawnsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "spawns_total",
			Help:      "Total number of deletion workers started.",
		}),
		ExitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "exits_total",
			Help:      "Total number of deletion worker exits, by reason (clean, premature).",
		}, []string{"reason"}),
		TaskLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "task_latency_seconds",
			Help:      "Deletion task latency in seconds, by outcome.",
			Buckets:   DefaultStoreLatencyBuckets,
		}, []string{"status"}),
	}
}

// RecordSpawn records a worker start.
func (m *PoolMetrics) RecordSpawn(live int) {
	m.SpawnsTotal.Inc()
	m.LiveWorkers.Set(float64(live))
}

// RecordExit records a worker exit.
func (m *PoolMetrics) RecordExit(live int, premature bool) {
	reason := ExitClean
	if premature {
		reason = ExitPremature
	}
	m.ExitsTotal.WithLabelValues(reason).Inc()
	m.LiveWorkers.Set(float64(live))
}

// RecordTask records one executed deletion.
func (m *PoolMetrics) RecordTask(status objectstore.DeleteStatus, durationSeconds float64) {
	m.TaskLatency.WithLabelValues(status.String()).Observe(durationSeconds)
}

// SetQueueDepth updates the queue depth gauge.
func (m *PoolMetrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}
