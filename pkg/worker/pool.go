package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/pjstream/metric"
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 1000
)

// Pool fans work items out to a fixed set of goroutines behind a
// bounded queue. All methods are safe for concurrent use.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error

	tasks chan T
	wg    sync.WaitGroup

	// mu orders submissions against lifecycle changes: Submit holds the
	// read side so Stop cannot close the queue under an in-flight send.
	mu      sync.RWMutex
	started bool
	stopped bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics *poolMetrics
}

// Option configures a pool at construction.
type Option[T any] func(*poolOptions)

type poolOptions struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithMetricsRegistry additionally exports the pool's counters and
// gauges as Prometheus collectors registered under prefix. Ignored when
// either argument is empty.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *poolOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// NewPool builds a pool of workers goroutines behind a queue of
// queueSize slots. Non-positive sizes select the defaults (10 workers,
// 1000 slots). The pool does not run until Start.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, options ...Option[T]) (*Pool[T], error) {
	if process == nil {
		return nil, ErrNilProcessor
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	opts := &poolOptions{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		tasks:     make(chan T, queueSize),
	}
	if opts.metricsReg != nil {
		m, err := newPoolMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
		p.metrics = m
	}
	return p, nil
}

// Start launches the workers. The context bounds every processor call,
// and cancelling it abandons queued work; Stop drains instead.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Submit queues one work item without blocking. ErrQueueFull is
// backpressure; the caller picks the fallback.
func (p *Pool[T]) Submit(work T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.observeDepth(len(p.tasks), p.queueSize)
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue, lets the workers drain what was accepted, and
// waits up to timeout for them to finish. Stopping a pool that never
// started is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	// The lock is released before the wait so submissions fail fast
	// with ErrPoolStopped instead of queueing behind the shutdown.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// PoolStats is a point-in-time snapshot of pool activity. Processed
// counts completed items, failures included.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns a snapshot of pool activity.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.tasks),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		// Checked first so a cancelled context always wins over a
		// non-empty queue.
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(ctx, work)
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, work T) {
	start := time.Now()
	err := p.process(ctx, work)

	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.processed.Inc()
		if err != nil {
			p.metrics.failed.Inc()
		}
		p.metrics.duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		p.metrics.observeDepth(len(p.tasks), p.queueSize)
	}
}
