package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	cerrors "github.com/c360/pjstream/errors"
)

// ConnectionStatus tracks where the client is in its connection
// lifecycle.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Well-known connection errors. Callers match these with errors.Is.
var (
	ErrNotConnected      = errors.New("nats: not connected")
	ErrCircuitOpen       = errors.New("nats: circuit breaker open")
	ErrConnectionTimeout = errors.New("nats: connection timeout")
)

const (
	defaultCircuitThreshold = 5
	defaultMaxBackoff       = time.Minute

	// Handlers registered through Subscribe get this much time per
	// message before their context is cancelled.
	messageTimeout = 30 * time.Second
)

// breaker counts connection failures and decides when to stop dialing.
// Once failures in the current round reach the threshold the circuit
// trips and the backoff doubles, capped at maxBackoff. Any success
// resets it.
type breaker struct {
	threshold  int32
	maxBackoff time.Duration

	failures atomic.Int32 // total since the last reset
	round    atomic.Int32 // failures in the current circuit round
	backoff  atomic.Int64 // nanoseconds to wait before the next probe
	lastFail atomic.Int64 // unix nanos of the most recent failure
}

func newBreaker(threshold int32, maxBackoff time.Duration) *breaker {
	b := &breaker{threshold: threshold, maxBackoff: maxBackoff}
	b.backoff.Store(int64(b.initialBackoff()))
	return b
}

func (b *breaker) initialBackoff() time.Duration {
	if b.maxBackoff < time.Second {
		return b.maxBackoff
	}
	return time.Second
}

// record counts one failure. It reports whether this failure tripped
// the circuit and, if so, how long to wait before probing again.
func (b *breaker) record() (tripped bool, wait time.Duration) {
	b.failures.Add(1)
	b.lastFail.Store(time.Now().UnixNano())

	if b.round.Add(1) < b.threshold {
		return false, 0
	}
	b.round.Store(0)

	wait = time.Duration(b.backoff.Load())
	next := wait * 2
	if next > b.maxBackoff {
		next = b.maxBackoff
	}
	b.backoff.Store(int64(next))
	return true, wait
}

func (b *breaker) reset() {
	b.failures.Store(0)
	b.round.Store(0)
	b.backoff.Store(int64(b.initialBackoff()))
	b.lastFail.Store(0)
}

func (b *breaker) snapshot() (failures int32, last time.Time) {
	failures = b.failures.Load()
	if ns := b.lastFail.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return failures, last
}

// Client owns the process-wide NATS connection. Lifecycle events go
// out as core publishes, session state lives in JetStream KV, and a
// circuit breaker keeps a flapping server from being hammered with
// dials.
type Client struct {
	url    string
	logger *slog.Logger
	cfg    settings

	status  atomic.Int32 // ConnectionStatus
	breaker *breaker

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	metrics       *jetstreamMetrics
	metricsCancel context.CancelFunc

	healthDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewClient builds a client for the given server URL. Nothing is
// dialed until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:     url,
		logger:  slog.Default(),
		cfg:     defaultSettings(),
		breaker: newBreaker(defaultCircuitThreshold, defaultMaxBackoff),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, cerrors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.status.Store(int32(StatusDisconnected))
	return c, nil
}

// URL returns the server URL the client dials.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// Failures reports connection failures since the last successful
// connect.
func (c *Client) Failures() int32 {
	failures, _ := c.breaker.snapshot()
	return failures
}

// Conn exposes the underlying connection, nil before Connect. Test
// harnesses use it for direct server access.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setStatus(s ConnectionStatus) { c.status.Store(int32(s)) }

// fail records a connection-level failure. When the breaker trips the
// circuit opens and a half-open probe is scheduled after the backoff.
func (c *Client) fail() {
	tripped, wait := c.breaker.record()
	if !tripped {
		return
	}

	prev := ConnectionStatus(c.status.Swap(int32(StatusCircuitOpen)))
	if prev != StatusCircuitOpen {
		c.logger.Warn("NATS circuit opened", "url", c.url, "backoff", wait)
	} else {
		c.logger.Warn("NATS circuit still open", "url", c.url, "backoff", wait)
	}

	time.AfterFunc(wait, func() {
		if c.Status() == StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
	})
}

// Connect dials the server. A client whose circuit is open refuses to
// dial until the breaker's backoff has elapsed.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	dialed := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.dialOptions()...)
		if err != nil {
			dialed <- err
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			dialed <- fmt.Errorf("init jetstream: %w", err)
			return
		}
		c.mu.Lock()
		c.conn, c.js = conn, js
		c.mu.Unlock()
		dialed <- nil
	}()

	select {
	case err := <-dialed:
		if err != nil {
			c.connectFailed()
			if c.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			return cerrors.WrapTransient(err, "Client", "Connect", "dial "+c.url)
		}
	case <-ctx.Done():
		c.connectFailed()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		return cerrors.WrapTransient(ctx.Err(), "Client", "Connect", "dial cancelled")
	}

	c.setStatus(StatusConnected)
	c.breaker.reset()
	c.logger.Info("Connected to NATS", "url", c.url)

	if c.cfg.healthInterval > 0 {
		c.startHealthLoop()
	}
	if c.metrics != nil && c.cfg.metricsInterval > 0 {
		c.metricsCancel = c.metrics.poll(c.cfg.metricsInterval)
	}
	if c.cfg.onHealthChange != nil {
		c.cfg.onHealthChange(true)
	}
	return nil
}

func (c *Client) connectFailed() {
	c.fail()
	if c.Status() != StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

func (c *Client) dialOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.maxReconnects),
		nats.ReconnectWait(c.cfg.reconnectWait),
		nats.PingInterval(c.cfg.pingInterval),
		nats.Timeout(c.cfg.timeout),
		nats.DrainTimeout(c.cfg.drainTimeout),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ClosedHandler(c.onConnClosed),
		nats.ErrorHandler(c.onAsyncError),
	}
	if c.cfg.user != "" && c.cfg.pass != "" {
		opts = append(opts, nats.UserInfo(c.cfg.user, c.cfg.pass))
	}
	if c.cfg.token != "" {
		opts = append(opts, nats.Token(c.cfg.token))
	}
	if c.cfg.tlsEnabled {
		if c.cfg.tlsCert != "" && c.cfg.tlsKey != "" {
			opts = append(opts, nats.ClientCert(c.cfg.tlsCert, c.cfg.tlsKey))
		}
		if c.cfg.tlsCA != "" {
			opts = append(opts, nats.RootCAs(c.cfg.tlsCA))
		}
	}
	if c.cfg.name != "" {
		opts = append(opts, nats.Name(c.cfg.name))
	}
	if c.cfg.compression {
		opts = append(opts, nats.Compression(true))
	}
	return opts
}

// WaitForConnection blocks until the client reports healthy or the
// context expires.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrConnectionTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close drains and closes the connection. Safe to call more than once;
// later calls return the first result.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { c.closeErr = c.shutdown(ctx) })
	return c.closeErr
}

func (c *Client) shutdown(ctx context.Context) error {
	c.stopHealthLoop()
	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", sub.Subject, err))
		}
	}
	c.subs = nil

	if c.conn != nil {
		if err := c.drainLocked(ctx); err != nil {
			errs = append(errs, err)
		}
		c.conn.Close()
		c.conn = nil
		c.js = nil
	}

	// Credentials are not needed past this point.
	c.cfg.user, c.cfg.pass, c.cfg.token = "", "", ""

	c.setStatus(StatusDisconnected)
	return errors.Join(errs...)
}

// drainLocked flushes buffered messages, bounded by the drain timeout
// or the caller's deadline, whichever is sooner.
func (c *Client) drainLocked(ctx context.Context) error {
	timeout := c.cfg.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < timeout {
			timeout = left
		}
	}

	done := make(chan error, 1)
	conn := c.conn
	go func() { done <- conn.Drain() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("drain: %w", err)
		}
		return nil
	case <-timer.C:
		c.logger.Error("NATS drain timed out, forcing close", "timeout", timeout)
		return cerrors.WrapTransient(
			fmt.Errorf("drain timeout after %v", timeout),
			"Client", "Close", "force close")
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted: %w", ctx.Err())
	}
}

// Publish sends a core NATS message. Session and stream lifecycle
// events take this path.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn := c.Conn()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Subscribe registers a handler for a subject. Each message gets a
// context bounded by messageTimeout; subscriptions live until Close.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, messageTimeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return err
	}

	c.subs = append(c.subs, sub)
	return nil
}

// JetStream returns the JetStream context created at connect time.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// jetStreamReady gates JetStream calls on the breaker and connection
// state.
func (c *Client) jetStreamReady() (jetstream.JetStream, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	return c.JetStream()
}

// CreateKeyValueBucket returns the named bucket, creating it when it
// does not exist. Concurrent creators race safely: a loser falls back
// to the winner's bucket.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.jetStreamReady()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.breaker.reset()
		c.metrics.trackBucket(cfg.Bucket)
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	switch {
	case err == nil:
		c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)

	case isBucketExists(err):
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
		if err != nil {
			c.fail()
			c.metrics.recordError("kv_bucket")
			return nil, fmt.Errorf("bucket %s exists but is not accessible: %w", cfg.Bucket, err)
		}

	default:
		c.fail()
		c.metrics.recordError("kv_bucket")
		return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
	}

	c.breaker.reset()
	c.metrics.trackBucket(cfg.Bucket)
	return bucket, nil
}

// GetKeyValueBucket returns an existing bucket without creating it.
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.jetStreamReady()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		c.fail()
		c.metrics.recordError("kv_bucket")
		return nil, err
	}

	c.breaker.reset()
	return bucket, nil
}

// NATS connection event handlers. Callbacks run on their own
// goroutines so a slow observer cannot stall the connection's event
// dispatch.

func (c *Client) onDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	if fn := c.cfg.onDisconnect; fn != nil {
		go fn(err)
	}
	if fn := c.cfg.onHealthChange; fn != nil {
		go fn(false)
	}
}

func (c *Client) onReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.breaker.reset()
	if fn := c.cfg.onReconnect; fn != nil {
		go fn()
	}
	if fn := c.cfg.onHealthChange; fn != nil {
		go fn(true)
	}
}

func (c *Client) onConnClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	if fn := c.cfg.onHealthChange; fn != nil {
		go fn(false)
	}
}

func (c *Client) onAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS async error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS async error", "error", err)
}

// startHealthLoop probes the connection with RTT requests. The NATS
// handlers already track reconnects; the probe catches a link that is
// up but not answering.
func (c *Client) startHealthLoop() {
	c.stopHealthLoop()

	done := make(chan struct{})
	c.mu.Lock()
	c.healthDone = done
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.healthInterval)
		defer ticker.Stop()

		healthy := c.IsHealthy()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn := c.Conn()
				if conn == nil {
					continue
				}

				now := conn.IsConnected()
				if now {
					if _, err := conn.RTT(); err != nil {
						now = false
					}
				}

				switch {
				case now && c.Status() != StatusConnected:
					c.setStatus(StatusConnected)
				case !now && c.Status() == StatusConnected:
					c.setStatus(StatusReconnecting)
				}

				if now != healthy && c.cfg.onHealthChange != nil {
					c.cfg.onHealthChange(now)
				}
				healthy = now
			}
		}
	}()
}

func (c *Client) stopHealthLoop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthDone != nil {
		close(c.healthDone)
		c.healthDone = nil
	}
}

// isBucketExists matches the server errors JetStream returns when a
// bucket creation loses a race.
func isBucketExists(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "stream name already in use") ||
		strings.Contains(msg, "already exists")
}
