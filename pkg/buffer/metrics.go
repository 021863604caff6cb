package buffer

import (
	"github.com/c360/pjstream/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// bufferMetrics are the Prometheus collectors behind WithMetrics. Each
// buffer instance registers its own set, labeled with the caller's
// component prefix so several buffers can share a registry.
type bufferMetrics struct {
	writes    prometheus.Counter
	reads     prometheus.Counter
	overflows prometheus.Counter
	drops     prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pjstream",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pjstream",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &bufferMetrics{
		writes:      counter("writes_total", "Items admitted to the buffer"),
		reads:       counter("reads_total", "Items removed by readers"),
		overflows:   counter("overflows_total", "Writes that arrived to a full buffer"),
		drops:       counter("drops_total", "Items discarded by the overflow policy"),
		size:        gauge("size", "Current number of queued items"),
		utilization: gauge("utilization", "Queued items over capacity, 0.0 to 1.0"),
	}

	registrations := []struct {
		name string
		c    prometheus.Counter
	}{
		{"buffer_writes", m.writes},
		{"buffer_reads", m.reads},
		{"buffer_overflows", m.overflows},
		{"buffer_drops", m.drops},
	}
	for _, reg := range registrations {
		if err := registry.RegisterCounter(prefix, reg.name, reg.c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}
