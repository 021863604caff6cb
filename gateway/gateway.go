package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/pjstream/config"
	cerrors "github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/metric"
	"github.com/c360/pjstream/pkg/security"
	"github.com/c360/pjstream/service"
)

// apiPrefix is where the versioned REST surface lives. The health
// endpoint sits outside it so probes survive API version bumps.
const apiPrefix = "/api/v1"

// Gateway serves the priority streaming HTTP API: session management
// plus Server-Sent Events frame delivery. It owns its listener; the
// streaming service behind it owns all session state, so any number of
// gateway instances can front the same KV-backed service.
type Gateway struct {
	config    Config
	security  security.Config
	streaming *service.StreamingService
	logger    *slog.Logger

	// Core platform metrics plus gateway-specific collectors,
	// registered when a metrics registry is provided
	metrics      *metric.Metrics
	httpRequests *prometheus.CounterVec
	sseActive    prometheus.Gauge

	// Protects server for start/stop
	mu     sync.Mutex
	server *http.Server

	// Request counters (atomic operations)
	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// Option adjusts gateway construction.
type Option func(*Gateway)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetricsRegistry wires the gateway into the platform metrics
// registry: frame counters go to the core metrics, request counters
// register as gateway-specific collectors.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		if registry == nil {
			return
		}
		g.metrics = registry.CoreMetrics()

		g.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pjstream_gateway_requests_total",
			Help: "HTTP requests handled by the gateway",
		}, []string{"method", "code"})
		if err := registry.RegisterCounterVec("gateway", "requests_total", g.httpRequests); err != nil {
			g.httpRequests = nil
		}

		g.sseActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pjstream_gateway_sse_active",
			Help: "Open SSE frame delivery connections",
		})
		if err := registry.RegisterGauge("gateway", "sse_active", g.sseActive); err != nil {
			g.sseActive = nil
		}
	}
}

// WithSecurity enables TLS on the gateway listener.
func WithSecurity(cfg security.Config) Option {
	return func(g *Gateway) {
		g.security = cfg
	}
}

// New builds a gateway in front of the streaming service. The gateway
// configuration is derived from the platform config and validated;
// construction fails on invalid config or a missing service.
func New(cfg *config.Config, streaming *service.StreamingService, opts ...Option) (*Gateway, error) {
	if streaming == nil {
		return nil, cerrors.WrapFatal(cerrors.ErrMissingConfig, "Gateway", "New",
			"streaming service is required")
	}

	gwCfg := FromPlatform(cfg)
	if err := gwCfg.Validate(); err != nil {
		return nil, cerrors.WrapInvalid(err, "Gateway", "New", "config validation")
	}

	g := &Gateway{
		config:    gwCfg,
		streaming: streaming,
		logger:    slog.Default(),
	}
	if cfg != nil {
		g.security = cfg.Security
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Handler returns the gateway's HTTP handler with all routes
// registered. Exposed so tests and embedding servers can mount the API
// without a listener.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+apiPrefix+"/sessions", g.wrap(g.handleCreateSession))
	mux.HandleFunc("GET "+apiPrefix+"/sessions", g.wrap(g.handleListSessions))
	mux.HandleFunc("GET "+apiPrefix+"/sessions/{id}", g.wrap(g.handleGetSession))
	mux.HandleFunc("DELETE "+apiPrefix+"/sessions/{id}", g.wrap(g.handleCloseSession))
	mux.HandleFunc("PATCH "+apiPrefix+"/sessions/{id}/priority", g.wrap(g.handleAdjustPriority))
	mux.HandleFunc("POST "+apiPrefix+"/sessions/{id}/streams", g.wrap(g.handleOpenStream))
	mux.HandleFunc("DELETE "+apiPrefix+"/sessions/{id}/streams/{sid}", g.wrap(g.handleCancelStream))
	mux.HandleFunc("GET "+apiPrefix+"/sessions/{id}/streams/{sid}/frames", g.wrap(g.handleStreamFrames))
	mux.HandleFunc("POST "+apiPrefix+"/stream", g.wrap(g.handleOneShotStream))
	mux.HandleFunc("GET /healthz", g.wrap(g.handleHealth))

	// Method patterns 405 preflights, so OPTIONS gets its own subtree
	// route when CORS is on
	if g.config.EnableCORS {
		mux.HandleFunc("OPTIONS "+apiPrefix+"/", g.wrap(g.handlePreflight))
	}

	return mux
}

// Start runs the HTTP server until Stop is called or the listener
// fails. It blocks, so callers run it under an errgroup or goroutine.
func (g *Gateway) Start() error {
	g.mu.Lock()
	if g.server != nil {
		g.mu.Unlock()
		return cerrors.WrapInvalid(cerrors.ErrAlreadyStarted, "Gateway", "Start",
			"gateway already running")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", g.config.Host, g.config.Port),
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := g.security.TLS.Server.Enabled
	if useTLS {
		tlsConfig, err := security.LoadServerTLSConfig(g.security.TLS.Server)
		if err != nil {
			g.mu.Unlock()
			return cerrors.WrapFatal(err, "Gateway", "Start", "load TLS config")
		}
		server.TLSConfig = tlsConfig
	}

	g.server = server
	g.mu.Unlock()

	g.logger.Info("Gateway listening", "addr", server.Addr, "tls", useTLS)

	var err error
	if useTLS {
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return cerrors.WrapFatal(err, "Gateway", "Start",
			fmt.Sprintf("serve on %s", server.Addr))
	}
	return nil
}

// Stop shuts the server down gracefully within the configured timeout,
// then closes whatever connections remain. Safe to call when the
// gateway never started.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	server := g.server
	g.server = nil
	g.mu.Unlock()

	if server == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = g.config.ShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		_ = server.Close()
		return cerrors.WrapTransient(err, "Gateway", "Stop", "graceful shutdown")
	}
	g.logger.Info("Gateway stopped")
	return nil
}

// Address returns the configured listen address.
func (g *Gateway) Address() string {
	scheme := "http"
	if g.security.TLS.Server.Enabled {
		scheme = "https"
	}
	host := g.config.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, g.config.Port)
}

// getOrGenerateRequestID extracts request ID from headers or generates
// a new one for tracing requests across the gateway and service logs
func getOrGenerateRequestID(r *http.Request) string {
	// Try to extract from incoming X-Request-ID header
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	// Generate a new request ID using crypto/rand for uniqueness
	// Format: 16 hex characters (8 random bytes)
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if random generation fails
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// statusRecorder captures the response status for request metrics.
// Flush forwards so SSE handlers can still stream through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// wrap applies the per-request plumbing every route shares: request
// ID, CORS headers, and the request counters.
func (g *Gateway) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		g.requestsTotal.Add(1)

		if g.config.EnableCORS {
			g.applyCORS(w, r)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		if rec.status >= http.StatusBadRequest {
			g.requestsFailed.Add(1)
		}
		g.countRequest(r.Method, rec.status)
	}
}

// handlePreflight answers CORS preflights for the whole API subtree.
func (g *Gateway) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// applyCORS applies CORS headers to the response
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	// Check if origin is allowed
	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

// readBody reads the request body within the configured size limit.
// The + 1 on the limit detects bodies that run past it.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()

	bodyReader := io.LimitReader(r.Body, g.config.MaxRequestSize+1)
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}

	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize))
		return nil, false
	}

	return body, true
}

// decodeDocument parses a posted JSON document into the native tree
// the analyzer consumes.
func decodeDocument(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, cerrors.WrapInvalid(
			fmt.Errorf("%w: empty document", cerrors.ErrInvalidInput),
			"Gateway", "decodeDocument", "validate body")
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, cerrors.WrapInvalid(
			fmt.Errorf("%w: %s", cerrors.ErrInvalidInput, "malformed JSON document"),
			"Gateway", "decodeDocument", "parse body")
	}
	return doc, nil
}

// exposableSentinels are domain errors whose messages are stable and
// safe to return to clients. Everything else collapses to a generic
// message so internals never leak.
var exposableSentinels = []error{
	cerrors.ErrSessionNotFound,
	cerrors.ErrStreamNotFound,
	cerrors.ErrSessionClosed,
	cerrors.ErrSessionExpired,
	cerrors.ErrStreamLimit,
	cerrors.ErrIllegalTransition,
	cerrors.ErrInvalidInput,
	cerrors.ErrDepthLimit,
	cerrors.ErrArrayLimit,
	cerrors.ErrObjectLimit,
	cerrors.ErrStringLimit,
	cerrors.ErrInvalidPriority,
	cerrors.ErrInvalidPath,
}

// errorStatus maps service errors to HTTP status codes. Sentinels are
// checked before classification: session-not-found classifies as
// invalid input but clients need the 404.
func errorStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, cerrors.ErrSessionNotFound) || errors.Is(err, cerrors.ErrStreamNotFound):
		return http.StatusNotFound
	case errors.Is(err, cerrors.ErrStreamLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, cerrors.ErrSessionClosed) ||
		errors.Is(err, cerrors.ErrSessionExpired) ||
		errors.Is(err, cerrors.ErrIllegalTransition):
		return http.StatusConflict
	case cerrors.IsInvalid(err):
		return http.StatusBadRequest
	case cerrors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe error message for external clients.
// Domain sentinel messages pass through; anything else is reduced to a
// generic message and the full error stays in the server logs.
func sanitizeError(err error) string {
	if err == nil {
		return "internal server error"
	}

	for _, sentinel := range exposableSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}

	if cerrors.IsInvalid(err) {
		return "invalid request"
	}
	if cerrors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	}
	return "internal server error"
}

// writeServiceError logs the full error and sends the sanitized
// JSON form to the client.
func (g *Gateway) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	g.logger.Warn("Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", w.Header().Get("X-Request-ID"),
		"status", status,
		"error", err)
	g.writeError(w, status, sanitizeError(err))
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}

	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}

// writeJSON writes a JSON response
func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("Response write failed", "error", err)
	}
}

func (g *Gateway) countRequest(method string, code int) {
	if g.httpRequests != nil {
		g.httpRequests.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
}

// RequestCounts reports total and failed requests since start.
func (g *Gateway) RequestCounts() (total, failed uint64) {
	return g.requestsTotal.Load(), g.requestsFailed.Load()
}
