package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/pjstream/metric"
)

// KV buckets are backed by JetStream streams with this name prefix.
const kvStreamPrefix = "KV_"

// jetstreamMetrics exports the health of the KV buckets the client
// touches: the session bucket and the config bucket in a full
// deployment. A background poller snapshots message and byte counts
// from each bucket's backing stream.
type jetstreamMetrics struct {
	kvMessages *prometheus.GaugeVec // revisions held per bucket, history included
	kvBytes    *prometheus.GaugeVec // storage bytes per bucket
	kvOnline   *prometheus.GaugeVec // 1 while the backing stream answers
	errors     *prometheus.CounterVec

	// source yields the JetStream context; nil result means not
	// connected yet and the poll round is skipped.
	source func() (jetstream.JetStream, error)

	mu      sync.RWMutex
	buckets map[string]struct{}
}

func newJetStreamMetrics(registry *metric.MetricsRegistry, source func() (jetstream.JetStream, error)) (*jetstreamMetrics, error) {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pjstream",
			Subsystem: "jetstream",
			Name:      name,
			Help:      help,
		}, []string{"bucket"})
	}

	m := &jetstreamMetrics{
		kvMessages: gauge("kv_messages", "Revisions held in the bucket's backing stream, history included"),
		kvBytes:    gauge("kv_bytes", "Storage bytes used by the bucket's backing stream"),
		kvOnline:   gauge("kv_online", "1 while the bucket's backing stream answers info requests"),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pjstream",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "JetStream operation errors by operation",
		}, []string{"operation"}),
		source:  source,
		buckets: make(map[string]struct{}),
	}

	if err := registry.RegisterGaugeVec("jetstream", "kv_messages", m.kvMessages); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "kv_bytes", m.kvBytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "kv_online", m.kvOnline); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

// trackBucket adds a bucket to the poll set. Nil receivers are valid:
// a client built without WithMetrics records nothing.
func (m *jetstreamMetrics) trackBucket(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[name] = struct{}{}
	m.kvOnline.WithLabelValues(name).Set(1)
}

func (m *jetstreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateOnce snapshots every tracked bucket. A bucket whose stream no
// longer answers is marked offline and keeps its last counts.
func (m *jetstreamMetrics) updateOnce(ctx context.Context) {
	if m == nil {
		return
	}

	js, err := m.source()
	if err != nil || js == nil {
		return
	}

	m.mu.RLock()
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		stream, err := js.Stream(ctx, kvStreamPrefix+name)
		if err != nil {
			m.kvOnline.WithLabelValues(name).Set(0)
			continue
		}

		// The lookup already fetched stream info.
		info := stream.CachedInfo()
		if info == nil {
			m.kvOnline.WithLabelValues(name).Set(0)
			continue
		}

		m.kvMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.kvBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
		m.kvOnline.WithLabelValues(name).Set(1)
	}
}

// poll starts the background snapshot loop and returns its cancel.
func (m *jetstreamMetrics) poll(interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
