// Package websocket provides the websocket transport for frame
// delivery: clients request a document stream and receive its frames
// as they become deliverable.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/metric"
	"github.com/c360/pjstream/pkg/security"
	"github.com/c360/pjstream/service"
	"github.com/c360/pjstream/session"
)

// sessionCloseTimeout bounds the session cleanup that runs after a
// client disconnects, when no request context remains.
const sessionCloseTimeout = 5 * time.Second

// ConstructorConfig holds everything needed to construct a Server.
type ConstructorConfig struct {
	Config          Config
	Streaming       *service.StreamingService
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Security        security.Config
}

// Server accepts websocket connections and streams document frames
// over them. Each connection owns one session; streams are opened per
// request envelope and delivered one at a time.
type Server struct {
	config    Config
	security  security.Config
	streaming *service.StreamingService
	logger    *slog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	clients   map[*websocket.Conn]*client
	clientsMu sync.RWMutex

	shutdown    chan struct{}
	done        chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          *sync.WaitGroup

	metrics *Metrics
}

// New constructs a Server. The streaming service is required; logger
// and metrics registry are optional.
func New(cfg ConstructorConfig) (*Server, error) {
	if cfg.Streaming == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "websocket", "New",
			"streaming service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:    cfg.Config,
		security:  cfg.Security,
		streaming: cfg.Streaming,
		logger:    logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*client),
		metrics: newMetrics(cfg.MetricsRegistry),
	}, nil
}

// Initialize validates the configuration and fills defaults. It must
// be called before Start.
func (s *Server) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Validate()
}

// Address returns the listen address.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start brings up the websocket endpoint. It returns once the server
// is listening; frame delivery runs on per-connection goroutines.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket", "Start",
			"context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "websocket", "Start", "context already cancelled")
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:              s.Address(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.security.TLS.Server.Enabled {
		tlsConfig, err := security.LoadServerTLSConfig(s.security.TLS.Server)
		if err != nil {
			s.cleanupOnError()
			return errors.WrapFatal(err, "websocket", "Start", "load TLS config")
		}
		s.server.TLSConfig = tlsConfig
	}

	s.running = true
	s.startTime = time.Now()

	s.wg = &sync.WaitGroup{}
	count := 1 // runServer
	if s.metrics != nil {
		count++
	}
	s.wg.Add(count)

	go s.runServer()
	if s.metrics != nil {
		go s.trackUptime()
	}

	s.logger.Info("Websocket transport started",
		"address", s.Address(),
		"path", s.config.Path,
		"tls", s.security.TLS.Server.Enabled)

	return nil
}

func (s *Server) cleanupOnError() {
	if s.shutdown != nil {
		close(s.shutdown)
		s.shutdown = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.server = nil
}

// runServer blocks in ListenAndServe until shutdown.
func (s *Server) runServer() {
	s.mu.RLock()
	wg := s.wg
	server := s.server
	tlsEnabled := s.security.TLS.Server.Enabled
	s.mu.RUnlock()
	defer wg.Done()

	if server == nil {
		return
	}

	var err error
	if tlsEnabled {
		// TLSConfig is already loaded, no cert files needed
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}

	if err != nil && err != http.ErrServerClosed {
		s.logger.Error("Websocket server failed", "error", err)
		s.metrics.recordError("server_failed")
	}
}

// trackUptime refreshes the uptime gauge while the server runs.
func (s *Server) trackUptime() {
	s.mu.RLock()
	wg := s.wg
	shutdown := s.shutdown
	s.mu.RUnlock()
	defer wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			running := s.running
			start := s.startTime
			s.mu.RUnlock()
			if running {
				s.metrics.uptimeSeconds.Set(time.Since(start).Seconds())
			}
		case <-shutdown:
			return
		}
	}
}

// Stop gracefully stops the server, closes all client connections,
// and waits for their goroutines to drain.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false

	if s.shutdown != nil {
		close(s.shutdown)
	}
	wg := s.wg
	server := s.server
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Websocket server shutdown", "error", err)
		}
	}

	s.closeAllClients()

	if wg != nil {
		drained := make(chan struct{})
		go func() {
			wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(timeout):
			s.logger.Warn("Websocket goroutines did not exit within timeout")
		}
	}

	s.mu.Lock()
	s.server = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.shutdown = nil
	s.wg = nil
	s.mu.Unlock()

	s.logger.Info("Websocket transport stopped")
	return nil
}

// closeAllClients tears down every connected client.
func (s *Server) closeAllClients() {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		s.removeClient(c, "server_shutdown")
	}
}

// handleWebSocket upgrades the connection, creates the per-connection
// session, and starts the read and write pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	wg := s.wg
	running := s.running
	s.mu.RUnlock()
	if !running || wg == nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.recordError("connection_upgrade")
		return
	}

	sessionID, err := s.streaming.CreateSession(r.Context(), session.Config{MaxConcurrentStreams: 1})
	if err != nil {
		s.logger.Warn("Session create failed for websocket client", "error", err)
		s.metrics.recordError("session_create")
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	c, err := newClient(conn, sessionID, s.config.SendBuffer)
	if err != nil {
		s.metrics.recordError("buffer_creation")
		_ = conn.Close()
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = c
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionTotal.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Debug("Websocket client connected",
		"session_id", sessionID, "remote", conn.RemoteAddr().String())

	wg.Add(2)
	go s.readPump(wg, c)
	go s.writePump(wg, c)
}

// removeClient tears down one client exactly once: cancels its active
// stream, closes its buffer and connection, and closes its session.
func (s *Server) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.mu.Lock()
		cancel := c.streamCancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		s.clientsMu.Lock()
		delete(s.clients, c.conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		if s.metrics != nil {
			s.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			s.metrics.clientsConnected.Set(float64(count))
		}

		_ = c.outbound.Close()
		_ = c.conn.Close()

		ctx, release := context.WithTimeout(context.Background(), sessionCloseTimeout)
		defer release()
		if err := s.streaming.CloseSession(ctx, c.sessionID); err != nil {
			s.logger.Warn("Websocket session close failed",
				"session_id", c.sessionID, "error", err)
		}

		s.logger.Debug("Websocket client disconnected",
			"session_id", c.sessionID, "reason", reason,
			"connected_for", time.Since(c.connectedAt).String())
	})
}

// newFrameLimiter builds the per-stream pacing limiter.
func (s *Server) newFrameLimiter() *rate.Limiter {
	if s.config.FramesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.config.FramesPerSecond), s.config.Burst)
}
