// Package gc runs version deletions on a self-throttling worker pool.
//
// # Deletion Pool
//
// A [DeletionPool] owns a FIFO queue of deletion tasks and a dynamic set of
// worker goroutines. The producer submits tasks and decides, before each
// enqueue, whether an existing idle worker can take the task or whether a
// new worker may be spawned. A spawn requires that open file descriptors
// stay below a fraction of the process limit, that the worker cap is not
// reached, and that the spawn interval has elapsed since the previous spawn.
// The interval is waived while fewer than MinWorkers are alive.
//
// A "not found" response is a successful no-op. Any other failure kills the
// worker that ran the task without requeuing it. Dead workers are observed
// by [DeletionPool.Check] and [DeletionPool.Shutdown]; once MaxFailures
// workers have died the pool reports [ErrFailureThreshold].
//
// # Usage
//
//	pool := gc.NewDeletionPool(store, gc.DefaultPoolConfig(),
//	    gc.WithLogger(logger),
//	    gc.WithMetrics(poolMetrics),
//	)
//	for _, t := range tasks {
//	    if err := pool.Submit(t); err != nil {
//	        return err
//	    }
//	}
//	if err := pool.Check(); err != nil {
//	    // abort the run
//	}
//	stats, err := pool.Shutdown(ctx)
//
// Ordering across workers is not guaranteed. Callers that need
// oldest-first deletion within a path must submit in that order.
package gc
