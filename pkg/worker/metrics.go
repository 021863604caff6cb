package worker

import (
	"github.com/c360/pjstream/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// poolMetrics are the Prometheus collectors behind WithMetricsRegistry.
// Each pool registers its own set, labeled with the caller's component
// prefix so several pools can share a registry.
type poolMetrics struct {
	submitted prometheus.Counter
	processed prometheus.Counter
	failed    prometheus.Counter
	dropped   prometheus.Counter

	depth       prometheus.Gauge
	utilization prometheus.Gauge
	duration    *prometheus.HistogramVec
}

func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) (*poolMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pjstream",
			Subsystem:   "worker",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pjstream",
			Subsystem:   "worker",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &poolMetrics{
		submitted: counter("submitted_total", "Work items accepted into the queue"),
		processed: counter("processed_total", "Work items completed, failures included"),
		failed:    counter("failed_total", "Work items whose processor returned an error"),
		dropped:   counter("dropped_total", "Work items rejected by a full queue"),
		depth:     gauge("queue_depth", "Work items waiting in the queue"),
		utilization: gauge("utilization",
			"Queued items over queue size, 0.0 to 1.0"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "pjstream",
			Subsystem:   "worker",
			Name:        "processing_seconds",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Time spent in the processor",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	registrations := []struct {
		name string
		c    prometheus.Counter
	}{
		{"worker_submitted", m.submitted},
		{"worker_processed", m.processed},
		{"worker_failed", m.failed},
		{"worker_dropped", m.dropped},
	}
	for _, reg := range registrations {
		if err := registry.RegisterCounter(prefix, reg.name, reg.c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "worker_queue_depth", m.depth); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "worker_utilization", m.utilization); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(prefix, "worker_processing_seconds", m.duration); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *poolMetrics) observeDepth(depth, queueSize int) {
	m.depth.Set(float64(depth))
	m.utilization.Set(float64(depth) / float64(queueSize))
}
