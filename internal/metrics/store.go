package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/verprune/verprune/internal/objectstore"
)

// Object store operation label values.
const (
	OpList   = "list"
	OpDelete = "delete"
	OpAbort  = "abort"
)

// DefaultStoreLatencyBuckets are latency buckets for object store operations.
// Optimized for S3/B2 operations which typically range from tens of ms to seconds.
var DefaultStoreLatencyBuckets = []float64{
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
	30.0,  // 30s
	60.0,  // 60s
}

// StoreMetrics holds metrics related to object store operations.
// It implements objectstore.MetricsRecorder.
type StoreMetrics struct {
	// LatencyHistogram tracks operation latencies.
	// Labels: operation (list, delete, abort), status
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks operations by operation and status. Deletions
	// use the delete outcome as status (ok, not_found, failed).
	RequestsTotal *prometheus.CounterVec

	// VersionsListed counts version records returned by listings.
	VersionsListed prometheus.Counter
}

// NewStoreMetrics creates and registers store metrics with the default registry.
func NewStoreMetrics() *StoreMetrics {
	return NewStoreMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewStoreMetricsWithRegistry creates store metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewStoreMetricsWithRegistry(reg prometheus.Registerer) *StoreMetrics {
	f := promauto.With(reg)
	return &StoreMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "operation_latency_seconds",
				Help:      "Object store operation latency in seconds, broken down by operation and status.",
				Buckets:   DefaultStoreLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "operations_total",
				Help:      "Total number of object store operations, broken down by operation and status.",
			},
			[]string{"operation", "status"},
		),
		VersionsListed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "versions_listed_total",
				Help:      "Total number of version records returned by listings.",
			},
		),
	}
}

func (m *StoreMetrics) record(operation, status string, durationSeconds float64) {
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordList records a listing and the number of records it returned.
func (m *StoreMetrics) RecordList(durationSeconds float64, count int, success bool) {
	m.record(OpList, statusLabel(success), durationSeconds)
	m.VersionsListed.Add(float64(count))
}

// RecordDelete records a version deletion.
func (m *StoreMetrics) RecordDelete(durationSeconds float64, status objectstore.DeleteStatus) {
	m.record(OpDelete, status.String(), durationSeconds)
}

// RecordAbort records a multipart upload cancellation.
func (m *StoreMetrics) RecordAbort(durationSeconds float64, success bool) {
	m.record(OpAbort, statusLabel(success), durationSeconds)
}

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}

var _ objectstore.MetricsRecorder = (*StoreMetrics)(nil)
