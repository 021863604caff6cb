package cache

import (
	"github.com/c360/pjstream/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics are the Prometheus collectors behind WithMetrics. Each
// cache instance registers its own set, labeled with the caller's
// component prefix so several caches can share a registry.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pjstream",
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &cacheMetrics{
		hits:      counter("hits_total", "Cache lookups that found an entry"),
		misses:    counter("misses_total", "Cache lookups that found nothing"),
		sets:      counter("sets_total", "Cache set operations"),
		deletes:   counter("deletes_total", "Cache delete operations"),
		evictions: counter("evictions_total", "Entries removed by eviction policy"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pjstream",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of cached entries",
		}),
	}

	registrations := []struct {
		name string
		c    prometheus.Counter
	}{
		{"cache_hits", m.hits},
		{"cache_misses", m.misses},
		{"cache_sets", m.sets},
		{"cache_deletes", m.deletes},
		{"cache_evictions", m.evictions},
	}
	for _, reg := range registrations {
		if err := registry.RegisterCounter(prefix, reg.name, reg.c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}
