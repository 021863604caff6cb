package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/pjstream/metric"
)

// settings carries the dial-time knobs options can tune. Everything is
// fixed once Connect runs.
type settings struct {
	maxReconnects   int
	reconnectWait   time.Duration
	pingInterval    time.Duration
	timeout         time.Duration
	drainTimeout    time.Duration
	healthInterval  time.Duration
	metricsInterval time.Duration

	name        string
	compression bool

	user, pass, token string

	tlsEnabled bool
	tlsCert    string
	tlsKey     string
	tlsCA      string

	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)
}

func defaultSettings() settings {
	return settings{
		maxReconnects:   -1,
		reconnectWait:   2 * time.Second,
		pingInterval:    30 * time.Second,
		timeout:         5 * time.Second,
		drainTimeout:    30 * time.Second,
		healthInterval:  10 * time.Second,
		metricsInterval: 30 * time.Second,
	}
}

// ClientOption tunes a Client before Connect.
type ClientOption func(*Client) error

// WithLogger sets the structured logger. Nil keeps the default.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithName sets the connection name reported to the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.cfg.name = name
		return nil
	}
}

// WithCredentials sets username and password authentication.
func WithCredentials(user, pass string) ClientOption {
	return func(c *Client) error {
		c.cfg.user = user
		c.cfg.pass = pass
		return nil
	}
}

// WithToken sets token authentication.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.cfg.token = token
		return nil
	}
}

// WithTLS enables TLS. certFile and keyFile configure the client
// certificate, caFile the trusted roots; any may be empty.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		c.cfg.tlsEnabled = true
		c.cfg.tlsCert = certFile
		c.cfg.tlsKey = keyFile
		c.cfg.tlsCA = caFile
		return nil
	}
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("dial timeout must be positive, got %v", d)
		}
		c.cfg.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds how long Close waits for buffered messages.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", d)
		}
		c.cfg.drainTimeout = d
		return nil
	}
}

// WithMaxReconnects caps automatic reconnect attempts. Zero disables
// reconnects, negative means unlimited.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.cfg.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.cfg.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets the protocol-level ping interval.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.cfg.pingInterval = d
		return nil
	}
}

// WithHealthInterval sets the RTT probe interval. Zero disables the
// probe loop.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("health interval must not be negative, got %v", d)
		}
		c.cfg.healthInterval = d
		return nil
	}
}

// WithCompression enables wire compression.
func WithCompression(on bool) ClientOption {
	return func(c *Client) error {
		c.cfg.compression = on
		return nil
	}
}

// WithCircuitThreshold sets how many consecutive failures open the
// circuit.
func WithCircuitThreshold(n int32) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("circuit threshold must be at least 1, got %d", n)
		}
		c.breaker.threshold = n
		return nil
	}
}

// WithMaxBackoff caps the circuit breaker's backoff.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("max backoff must be positive, got %v", d)
		}
		c.breaker.maxBackoff = d
		c.breaker.backoff.Store(int64(c.breaker.initialBackoff()))
		return nil
	}
}

// WithDisconnectCallback registers a callback for disconnect events.
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.cfg.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback registers a callback for reconnect events.
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.cfg.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback registers a callback invoked when the
// connection transitions between healthy and unhealthy.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.cfg.onHealthChange = fn
		return nil
	}
}

// WithMetrics exports KV bucket health through the given registry. The
// buckets the client touches are polled in the background once
// connected.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry == nil {
			return nil
		}
		m, err := newJetStreamMetrics(registry, c.JetStream)
		if err != nil {
			return err
		}
		c.metrics = m
		return nil
	}
}

// WithMetricsInterval sets how often bucket stats are polled. Zero
// disables polling while keeping the error counters live.
func WithMetricsInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("metrics interval must not be negative, got %v", d)
		}
		c.cfg.metricsInterval = d
		return nil
	}
}
