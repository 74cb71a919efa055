// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for prune runs including:
//   - Run outcomes and durations
//   - Versions evaluated, broken down by decision
//   - Deletion pool workers, spawns, premature deaths and queue depth
//   - Object store operation latency broken down by operation and status
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	pruneMetrics := metrics.NewPruneMetrics()
//	poolMetrics := metrics.NewPoolMetrics()
//	storeMetrics := metrics.NewStoreMetrics()
//
//	store = objectstore.NewInstrumentedStore(store, storeMetrics)
//	pool := gc.NewDeletionPool(store, cfg, gc.WithMetrics(poolMetrics))
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const namespace = "verprune"
