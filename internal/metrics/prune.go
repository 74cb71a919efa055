package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision label values.
const (
	DecisionPreserve = "preserve"
	DecisionDelete   = "delete"
)

// DefaultRunDurationBuckets covers runs from seconds to a day.
var DefaultRunDurationBuckets = []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600, 86400}

// PruneMetrics holds metrics for prune runs.
type PruneMetrics struct {
	// RunsTotal counts finished runs by status (success, failure).
	RunsTotal *prometheus.CounterVec

	// RunDuration tracks run wall time in seconds.
	RunDuration prometheus.Histogram

	// LastSuccess is the Unix time of the last successful run.
	LastSuccess prometheus.Gauge

	// PathsTotal counts evaluated paths.
	PathsTotal prometheus.Counter

	// VersionsTotal counts evaluated versions by decision (preserve, delete).
	VersionsTotal *prometheus.CounterVec

	// UploadsCancelled counts aborted multipart uploads.
	UploadsCancelled prometheus.Counter
}

// NewPruneMetrics creates and registers prune metrics with the default registry.
func NewPruneMetrics() *PruneMetrics {
	return NewPruneMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewPruneMetricsWithRegistry creates prune metrics registered with a custom registry.
func NewPruneMetricsWithRegistry(reg prometheus.Registerer) *PruneMetrics {
	f := promauto.With(reg)
	return &PruneMetrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "runs_total",
			Help:      "Total number of prune runs, by status.",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "run_duration_seconds",
			Help:      "Prune run duration in seconds.",
			Buckets:   DefaultRunDurationBuckets,
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful prune run.",
		}),
		PathsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "paths_total",
			Help:      "Total number of paths evaluated.",
		}),
		VersionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "versions_total",
			Help:      "Total number of versions evaluated, by decision.",
		}, []string{"decision"}),
		UploadsCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "uploads_cancelled_total",
			Help:      "Total number of abandoned multipart uploads cancelled.",
		}),
	}
}

// RecordGroup records the decisions made for one path.
func (m *PruneMetrics) RecordGroup(preserved, deleted int) {
	m.PathsTotal.Inc()
	m.VersionsTotal.WithLabelValues(DecisionPreserve).Add(float64(preserved))
	m.VersionsTotal.WithLabelValues(DecisionDelete).Add(float64(deleted))
}

// RecordUploadCancelled records an aborted multipart upload.
func (m *PruneMetrics) RecordUploadCancelled() {
	m.UploadsCancelled.Inc()
}

// RecordRun records a finished run.
func (m *PruneMetrics) RecordRun(duration time.Duration, success bool, finished time.Time) {
	m.RunsTotal.WithLabelValues(statusLabel(success)).Inc()
	m.RunDuration.Observe(duration.Seconds())
	if success {
		m.LastSuccess.Set(float64(finished.Unix()))
	}
}
