package metric

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ MetricsRegistrar = (*MetricsRegistry)(nil)

// gatheredNames returns the set of metric family names the registry
// currently exposes.
func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestRegisterCollectorKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_requests_rejected_total",
		Help: "Requests rejected before reaching a handler",
	})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_write_queue_depth",
		Help: "Frames waiting in the write queue",
	})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_encode_seconds",
		Help:    "Time spent encoding a frame",
		Buckets: prometheus.DefBuckets,
	})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Requests by method and status",
	}, []string{"method", "status"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sessions_by_state",
		Help: "Sessions partitioned by lifecycle state",
	}, []string{"state"})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delivery_latency_seconds",
		Help:    "Patch delivery latency by transport",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport"})

	require.NoError(t, registry.RegisterCounter("gateway", "rejected", counter))
	require.NoError(t, registry.RegisterGauge("websocket", "queue_depth", gauge))
	require.NoError(t, registry.RegisterHistogram("frame", "encode", histogram))
	require.NoError(t, registry.RegisterCounterVec("gateway", "requests", counterVec))
	require.NoError(t, registry.RegisterGaugeVec("session", "by_state", gaugeVec))
	require.NoError(t, registry.RegisterHistogramVec("delivery", "latency", histogramVec))

	counter.Inc()
	gauge.Set(7)
	histogram.Observe(0.002)
	counterVec.WithLabelValues("GET", "200").Inc()
	gaugeVec.WithLabelValues("streaming").Set(3)
	histogramVec.WithLabelValues("sse").Observe(0.0004)

	names := gatheredNames(t, registry)
	for _, want := range []string{
		"gateway_requests_rejected_total",
		"websocket_write_queue_depth",
		"frame_encode_seconds",
		"gateway_requests_total",
		"sessions_by_state",
		"delivery_latency_seconds",
	} {
		assert.True(t, names[want], "expected %s to be gathered", want)
	}
}

func TestRegisterDuplicateKey(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "dup"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_other_total", Help: "dup"})

	require.NoError(t, registry.RegisterCounter("gateway", "dup", first))

	err := registry.RegisterCounter("gateway", "dup", second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterPrometheusNameCollision(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "shared_total", Help: "shared"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "shared_total", Help: "shared"})

	// Distinct registry keys, same prometheus name. The registry's own
	// bookkeeping passes and prometheus itself rejects the collector.
	require.NoError(t, registry.RegisterCounter("gateway", "shared", first))

	err := registry.RegisterCounter("websocket", "shared", second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemeral_total",
		Help: "Unregistered below",
	})
	require.NoError(t, registry.RegisterCounter("gateway", "ephemeral", counter))
	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["ephemeral_total"])

	assert.True(t, registry.Unregister("gateway", "ephemeral"))
	assert.False(t, gatheredNames(t, registry)["ephemeral_total"])

	assert.False(t, registry.Unregister("gateway", "ephemeral"),
		"second unregister should report the metric as missing")
	assert.False(t, registry.Unregister("gateway", "never_registered"))
}

func TestRegisterConcurrent(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_total_%d", i)
			counter := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "concurrent"})
			assert.NoError(t, registry.RegisterCounter("worker", name, counter))
		}()
	}
	wg.Wait()

	registered := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_total_") {
			registered++
		}
	}
	assert.Equal(t, 10, registered)
}

func TestCoreMetricsInitialization(t *testing.T) {
	registry := NewMetricsRegistry()

	// Vector metrics only appear in Gather once they have a value, so
	// record through the core API first.
	coreMetrics := registry.CoreMetrics()

	coreMetrics.RecordServiceStatus("test-service", 2)
	coreMetrics.RecordError("test-service", "connection")
	coreMetrics.RecordHealthStatus("test-service", true)
	coreMetrics.RecordSessionCreated()
	coreMetrics.RecordStreamCreated()
	coreMetrics.RecordFrameEmitted("patch", 2048)
	coreMetrics.RecordPatchEntries(4)
	coreMetrics.ObserveAnalysisDuration(500 * time.Microsecond)
	coreMetrics.ObserveDeliveryDuration(100 * time.Microsecond)

	names := gatheredNames(t, registry)

	expectedCoreMetrics := []string{
		"pjstream_service_status",
		"pjstream_errors_total",
		"pjstream_health_status",
		"pjstream_sessions_active",
		"pjstream_sessions_total",
		"pjstream_streams_active",
		"pjstream_streams_total",
		"pjstream_frames_emitted_total",
		"pjstream_frames_size_bytes",
		"pjstream_frames_patch_entries",
		"pjstream_analysis_duration_seconds",
		"pjstream_delivery_duration_seconds",
		"pjstream_nats_connected",
		"pjstream_nats_rtt_milliseconds",
		"pjstream_nats_reconnects_total",
	}
	for _, expectedMetric := range expectedCoreMetrics {
		assert.True(t, names[expectedMetric],
			"core metric %s should be initialized", expectedMetric)
	}
}

func TestNoComponentMetricsInCore(t *testing.T) {
	registry := NewMetricsRegistry()

	names := gatheredNames(t, registry)

	// Transport-specific metrics register through MetricsRegistrar, not core
	componentMetrics := []string{
		"pjstream_gateway_requests_total",
		"pjstream_websocket_clients_connected",
		"pjstream_websocket_messages_sent_total",
	}
	for _, componentMetric := range componentMetrics {
		assert.False(t, names[componentMetric],
			"component metric %s should NOT be in core registry", componentMetric)
	}
}

func TestCoreMetricsCollectors(t *testing.T) {
	coreMetrics := NewMetricsRegistry().CoreMetrics()
	require.NotNil(t, coreMetrics)

	assert.NotNil(t, coreMetrics.ServiceStatus)
	assert.NotNil(t, coreMetrics.ErrorsTotal)
	assert.NotNil(t, coreMetrics.HealthCheckStatus)
	assert.NotNil(t, coreMetrics.SessionsActive)
	assert.NotNil(t, coreMetrics.SessionsTotal)
	assert.NotNil(t, coreMetrics.StreamsActive)
	assert.NotNil(t, coreMetrics.StreamsTotal)
	assert.NotNil(t, coreMetrics.FramesEmitted)
	assert.NotNil(t, coreMetrics.FrameBytes)
	assert.NotNil(t, coreMetrics.PatchEntries)
	assert.NotNil(t, coreMetrics.AnalysisDuration)
	assert.NotNil(t, coreMetrics.DeliveryDuration)
	assert.NotNil(t, coreMetrics.NATSConnected)
	assert.NotNil(t, coreMetrics.NATSRTT)
	assert.NotNil(t, coreMetrics.NATSReconnects)
}

func TestCoreMetricsSessionLifecycle(t *testing.T) {
	registry := NewMetricsRegistry()
	coreMetrics := registry.CoreMetrics()

	coreMetrics.RecordSessionCreated()
	coreMetrics.RecordSessionCreated()
	assert.Equal(t, 2.0, testutil.ToFloat64(coreMetrics.SessionsActive))

	coreMetrics.RecordSessionEnded("closed")
	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.SessionsActive))

	coreMetrics.RecordSessionEnded("expired")
	assert.Equal(t, 0.0, testutil.ToFloat64(coreMetrics.SessionsActive))

	assert.Equal(t, 2.0, testutil.ToFloat64(coreMetrics.SessionsTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.SessionsTotal.WithLabelValues("closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.SessionsTotal.WithLabelValues("expired")))
}

func TestCoreMetricsStreamLifecycle(t *testing.T) {
	registry := NewMetricsRegistry()
	coreMetrics := registry.CoreMetrics()

	coreMetrics.RecordStreamCreated()
	coreMetrics.RecordStreamCreated()
	coreMetrics.RecordStreamCreated()
	assert.Equal(t, 3.0, testutil.ToFloat64(coreMetrics.StreamsActive))

	coreMetrics.RecordStreamEnded("completed")
	coreMetrics.RecordStreamEnded("failed")
	coreMetrics.RecordStreamEnded("cancelled")
	assert.Equal(t, 0.0, testutil.ToFloat64(coreMetrics.StreamsActive))

	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.StreamsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.StreamsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.StreamsTotal.WithLabelValues("cancelled")))
}

func TestCoreMetricsFramePipeline(t *testing.T) {
	registry := NewMetricsRegistry()
	coreMetrics := registry.CoreMetrics()

	coreMetrics.RecordFrameEmitted("skeleton", 512)
	coreMetrics.RecordFrameEmitted("patch", 1024)
	coreMetrics.RecordFrameEmitted("patch", 2048)
	coreMetrics.RecordFrameEmitted("complete", 64)

	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.FramesEmitted.WithLabelValues("skeleton")))
	assert.Equal(t, 2.0, testutil.ToFloat64(coreMetrics.FramesEmitted.WithLabelValues("patch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.FramesEmitted.WithLabelValues("complete")))

	coreMetrics.RecordPatchEntries(3)
	coreMetrics.ObserveAnalysisDuration(250 * time.Microsecond)
	coreMetrics.ObserveDeliveryDuration(80 * time.Microsecond)

	// Histograms gather without error once observed
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.Greater(t, len(families), 0)
}

func TestCoreMetricsNATS(t *testing.T) {
	registry := NewMetricsRegistry()
	coreMetrics := registry.CoreMetrics()

	coreMetrics.RecordNATSStatus(true)
	coreMetrics.RecordNATSRTT(50 * time.Millisecond)
	coreMetrics.RecordNATSReconnect()

	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.NATSConnected))
	assert.Equal(t, 50.0, testutil.ToFloat64(coreMetrics.NATSRTT))
	assert.Equal(t, 1.0, testutil.ToFloat64(coreMetrics.NATSReconnects))

	coreMetrics.RecordNATSStatus(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(coreMetrics.NATSConnected))
}
