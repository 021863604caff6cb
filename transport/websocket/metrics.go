package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/pjstream/metric"
)

// Metrics holds the Prometheus collectors for the websocket transport.
type Metrics struct {
	framesSent         *prometheus.CounterVec
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	streamDuration     prometheus.Histogram
	messageSizeBytes   *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
	uptimeSeconds      prometheus.Gauge
}

// newMetrics creates and registers the transport collectors. A nil
// registry disables metrics.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pjstream",
			Subsystem: "websocket",
			Name:      "frames_sent_total",
			Help:      "Frames delivered to websocket clients",
		}, []string{"kind"}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pjstream",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to websocket clients",
		}),

		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pjstream",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),

		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pjstream",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections accepted",
		}),

		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pjstream",
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),

		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pjstream",
			Subsystem: "websocket",
			Name:      "stream_duration_seconds",
			Help:      "Time from stream acceptance to final frame",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),

		messageSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pjstream",
			Subsystem: "websocket",
			Name:      "message_size_bytes",
			Help:      "Size distribution of outgoing envelopes by codec",
			Buckets:   []float64{100, 500, 1000, 2000, 5000, 10000, 25000},
		}, []string{"codec"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pjstream",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "Websocket transport errors",
		}, []string{"error_type"}),

		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pjstream",
			Subsystem: "websocket",
			Name:      "server_uptime_seconds",
			Help:      "Websocket server uptime in seconds",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.framesSent,
		m.bytesSent,
		m.clientsConnected,
		m.connectionTotal,
		m.disconnectionTotal,
		m.streamDuration,
		m.messageSizeBytes,
		m.errorsTotal,
		m.uptimeSeconds,
	)

	return m
}

// recordError bumps the error counter when metrics are enabled.
func (m *Metrics) recordError(errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errorType).Inc()
}
