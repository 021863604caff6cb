package cache

import (
	"sync"
	"sync/atomic"
)

// Statistics tracks cache operation counters. All methods are safe for
// concurrent use, so a cache can expose its Statistics directly.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64

	mu          sync.RWMutex
	currentSize int64
	maxSize     int64
}

// NewStatistics returns a zeroed counter set.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Hit records a cache hit.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Set records a set operation.
func (s *Statistics) Set() { s.sets.Add(1) }

// Delete records a delete operation.
func (s *Statistics) Delete() { s.deletes.Add(1) }

// Eviction records an entry removed by policy rather than by the caller.
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// UpdateSize records the entry count after a mutation and tracks the
// high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the total number of set operations.
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Deletes returns the total number of delete operations.
func (s *Statistics) Deletes() int64 { return s.deletes.Load() }

// Evictions returns the total number of policy evictions.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// CurrentSize returns the entry count as of the last mutation.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the largest entry count the cache has held.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// HitRatio returns hits over total lookups, in [0.0, 1.0]. Zero lookups
// yield 0.
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// recorder fans operation counts out to the always-on statistics and,
// when configured, the Prometheus collectors. Methods are cheap enough
// to call under the cache lock.
type recorder struct {
	stats   *Statistics
	metrics *cacheMetrics
}

func newRecorder[V any](opts *cacheOptions[V]) (recorder, error) {
	r := recorder{stats: NewStatistics()}
	if opts.metricsReg != nil {
		m, err := newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return recorder{}, err
		}
		r.metrics = m
	}
	return r, nil
}

func (r recorder) hit() {
	r.stats.Hit()
	if r.metrics != nil {
		r.metrics.hits.Inc()
	}
}

func (r recorder) miss() {
	r.stats.Miss()
	if r.metrics != nil {
		r.metrics.misses.Inc()
	}
}

func (r recorder) set() {
	r.stats.Set()
	if r.metrics != nil {
		r.metrics.sets.Inc()
	}
}

func (r recorder) deleted() {
	r.stats.Delete()
	if r.metrics != nil {
		r.metrics.deletes.Inc()
	}
}

func (r recorder) evicted() {
	r.stats.Eviction()
	if r.metrics != nil {
		r.metrics.evictions.Inc()
	}
}

func (r recorder) resize(n int) {
	r.stats.UpdateSize(int64(n))
	if r.metrics != nil {
		r.metrics.size.Set(float64(n))
	}
}
