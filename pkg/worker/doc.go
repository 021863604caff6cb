// Package worker provides a bounded worker pool for offloading
// CPU-bound jobs.
//
// # Overview
//
// The streaming service runs document analysis through a Pool so large
// documents do not serialize behind each other on one goroutine:
//
//	pool, err := worker.NewPool(8, 256, svc.processAnalyzeJob)
//	if err != nil {
//	    return err
//	}
//	pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
// Submit never blocks. A full queue returns ErrQueueFull so the caller
// owns the shedding decision; the streaming service treats a pool that
// is not running as a cue to analyze inline instead.
//
// # Lifecycle
//
// Start launches the workers under a context that bounds every
// processor call. Stop closes the queue, lets the workers drain what
// was already accepted, and gives up after a timeout; cancelling the
// Start context abandons queued work instead. Pools do not restart.
//
// # Metrics
//
// WithMetricsRegistry exports submission, completion, failure, drop,
// queue depth, and processing duration collectors labeled with the
// caller's component prefix, the same shape the buffer and cache
// packages use.
package worker
