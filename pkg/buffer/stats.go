package buffer

import (
	"sync"
	"sync/atomic"
)

// Statistics tracks buffer operation counters. All methods are safe for
// concurrent use, so a buffer can expose its Statistics directly.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	overflows atomic.Int64
	drops     atomic.Int64

	mu          sync.RWMutex
	currentSize int64
	highWater   int64
}

// NewStatistics returns a zeroed counter set.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records an item admitted to the buffer.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records items removed by a reader.
func (s *Statistics) Read(n int) { s.reads.Add(int64(n)) }

// Overflow records a write that arrived to a full buffer, whatever the
// policy did about it.
func (s *Statistics) Overflow() { s.overflows.Add(1) }

// Drop records an item a Drop policy discarded.
func (s *Statistics) Drop() { s.drops.Add(1) }

// UpdateSize records the item count after a mutation and tracks the
// high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.highWater {
		s.highWater = size
	}
	s.mu.Unlock()
}

// Writes returns the total number of admitted items.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total number of removed items.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Overflows returns the number of writes that found the buffer full.
// Under the Block policy this counts stalled writers, since nothing is
// dropped.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// Drops returns the number of items discarded by a Drop policy. Items
// removed by Clear are not counted; the caller asked for those.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the item count as of the last mutation.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// HighWater returns the largest item count the buffer has held.
func (s *Statistics) HighWater() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highWater
}

// recorder fans operation counts out to the always-on statistics and,
// when configured, the Prometheus collectors. Methods are cheap enough
// to call under the ring lock.
type recorder struct {
	stats    *Statistics
	metrics  *bufferMetrics
	capacity int
}

func newRecorder[T any](capacity int, opts *bufferOptions[T]) (recorder, error) {
	r := recorder{stats: NewStatistics(), capacity: capacity}
	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return recorder{}, err
		}
		r.metrics = m
	}
	return r, nil
}

func (r recorder) wrote() {
	r.stats.Write()
	if r.metrics != nil {
		r.metrics.writes.Inc()
	}
}

func (r recorder) read(n int) {
	r.stats.Read(n)
	if r.metrics != nil {
		r.metrics.reads.Add(float64(n))
	}
}

func (r recorder) overflowed() {
	r.stats.Overflow()
	if r.metrics != nil {
		r.metrics.overflows.Inc()
	}
}

func (r recorder) dropped() {
	r.stats.Drop()
	if r.metrics != nil {
		r.metrics.drops.Inc()
	}
}

func (r recorder) resize(n int) {
	r.stats.UpdateSize(int64(n))
	if r.metrics != nil {
		r.metrics.size.Set(float64(n))
		r.metrics.utilization.Set(float64(n) / float64(r.capacity))
	}
}
