package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every core metric name.
const namespace = "pjstream"

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func histogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

// Metrics holds the platform-level collectors shared by every service in
// the process. Transport-specific metrics register separately through
// MetricsRegistrar.
type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec

	StreamsActive prometheus.Gauge
	StreamsTotal  *prometheus.CounterVec

	FramesEmitted    *prometheus.CounterVec
	FrameBytes       *prometheus.HistogramVec
	PatchEntries     prometheus.Histogram
	AnalysisDuration prometheus.Histogram
	DeliveryDuration prometheus.Histogram

	NATSConnected  prometheus.Gauge
	NATSRTT        prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics builds the core collector set. Nothing is registered yet;
// the registry does that so duplicate registration surfaces as an error
// in one place.
func NewMetrics() *Metrics {
	// Analysis and delivery finish well under DefBuckets' 5ms floor, so
	// both histograms start at 100us instead.
	fastBuckets := prometheus.ExponentialBuckets(0.0001, 4, 8)

	return &Metrics{
		ServiceStatus: gaugeVec("service", "status",
			"Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			"service"),
		ErrorsTotal: counterVec("errors", "total",
			"Total number of errors",
			"service", "type"),
		HealthCheckStatus: gaugeVec("health", "status",
			"Health check status (0=unhealthy, 1=healthy)",
			"service"),

		SessionsActive: gauge("sessions", "active",
			"Number of currently active streaming sessions"),
		SessionsTotal: counterVec("sessions", "total",
			"Total number of session transitions by outcome (created, closed, expired)",
			"status"),

		StreamsActive: gauge("streams", "active",
			"Number of document streams currently emitting frames"),
		StreamsTotal: counterVec("streams", "total",
			"Total number of stream transitions by outcome (created, completed, failed, cancelled)",
			"status"),

		FramesEmitted: counterVec("frames", "emitted_total",
			"Total number of frames emitted by kind (skeleton, patch, complete, error)",
			"kind"),
		FrameBytes: histogramVec("frames", "size_bytes",
			"Encoded frame size in bytes by kind",
			prometheus.ExponentialBuckets(256, 4, 8),
			"kind"),
		PatchEntries: histogram("frames", "patch_entries",
			"Number of patch entries per patch frame",
			prometheus.ExponentialBuckets(1, 2, 8)),
		AnalysisDuration: histogram("analysis", "duration_seconds",
			"Document analysis duration in seconds",
			fastBuckets),
		DeliveryDuration: histogram("delivery", "duration_seconds",
			"Frame pull duration in seconds from request to encoded frame",
			fastBuckets),

		NATSConnected: gauge("nats", "connected",
			"NATS connection status (0=disconnected, 1=connected)"),
		NATSRTT: gauge("nats", "rtt_milliseconds",
			"NATS round-trip time in milliseconds"),
		NATSReconnects: counter("nats", "reconnects_total",
			"Total number of NATS reconnections"),
	}
}

// collectors returns every core metric for registration.
func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.SessionsActive,
		c.SessionsTotal,
		c.StreamsActive,
		c.StreamsTotal,
		c.FramesEmitted,
		c.FrameBytes,
		c.PatchEntries,
		c.AnalysisDuration,
		c.DeliveryDuration,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
	}
}

// RecordServiceStatus updates the lifecycle gauge for one service.
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordError counts one error for a service by type.
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordHealthStatus updates the health gauge for one service.
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordSessionCreated counts a new session and marks it active.
func (c *Metrics) RecordSessionCreated() {
	c.SessionsTotal.WithLabelValues("created").Inc()
	c.SessionsActive.Inc()
}

// RecordSessionEnded counts a terminal session transition ("closed" or
// "expired").
func (c *Metrics) RecordSessionEnded(status string) {
	c.SessionsTotal.WithLabelValues(status).Inc()
	c.SessionsActive.Dec()
}

// RecordStreamCreated counts a new stream and marks it active.
func (c *Metrics) RecordStreamCreated() {
	c.StreamsTotal.WithLabelValues("created").Inc()
	c.StreamsActive.Inc()
}

// RecordStreamEnded counts a terminal stream transition ("completed",
// "failed" or "cancelled").
func (c *Metrics) RecordStreamEnded(status string) {
	c.StreamsTotal.WithLabelValues(status).Inc()
	c.StreamsActive.Dec()
}

// RecordFrameEmitted counts an emitted frame and observes its encoded size.
func (c *Metrics) RecordFrameEmitted(kind string, sizeBytes int) {
	c.FramesEmitted.WithLabelValues(kind).Inc()
	c.FrameBytes.WithLabelValues(kind).Observe(float64(sizeBytes))
}

// RecordPatchEntries observes the entry count of a patch frame.
func (c *Metrics) RecordPatchEntries(count int) {
	c.PatchEntries.Observe(float64(count))
}

// ObserveAnalysisDuration records document analysis time.
func (c *Metrics) ObserveAnalysisDuration(duration time.Duration) {
	c.AnalysisDuration.Observe(duration.Seconds())
}

// ObserveDeliveryDuration records frame pull time.
func (c *Metrics) ObserveDeliveryDuration(duration time.Duration) {
	c.DeliveryDuration.Observe(duration.Seconds())
}

// RecordNATSStatus updates the NATS connection gauge.
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates the NATS round-trip gauge.
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect counts one NATS reconnection.
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
