package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/pkg/security"
)

// shutdownGrace bounds how long Stop waits for in-flight scrapes before
// closing connections.
const shutdownGrace = 2 * time.Second

const indexPage = `<html>
<head><title>PJStream Metrics</title></head>
<body>
<h1>PJStream Metrics Server</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/health">Health</a></p>
</body>
</html>`

// Server serves the Prometheus scrape endpoint together with a liveness
// probe and an index page. Start binds the listen address synchronously
// and serves in the background, so a nil error from Start means scrapes
// will succeed.
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry
	security security.Config
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewServer creates a metrics server. An empty path defaults to /metrics.
// Port 0 binds an ephemeral port, which Port reports once started.
func NewServer(port int, path string, registry *MetricsRegistry, securityCfg security.Config) *Server {
	if path == "" {
		path = "/metrics"
	}

	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		security: securityCfg,
		logger:   slog.Default().With("component", "metrics_server"),
	}
}

// Start binds the listen address and begins serving scrapes in a
// background goroutine. Serve errors after a successful bind are logged;
// the http.ErrServerClosed produced by Stop is not.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}
	if s.registry == nil {
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, indexPage, s.path)
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	useTLS := s.security.TLS.Server.Enabled
	if useTLS {
		tlsConfig, err := security.LoadServerTLSConfig(s.security.TLS.Server)
		if err != nil {
			return errors.WrapFatal(err, "Server", "Start", "load TLS config")
		}
		server.TLSConfig = tlsConfig
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("failed to bind metrics port %d", s.port))
	}

	s.listener = listener
	s.server = server

	go func() {
		var serveErr error
		if useTLS {
			serveErr = server.ServeTLS(listener, "", "")
		} else {
			serveErr = server.Serve(listener)
		}
		if serveErr != nil && !stderrors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("Metrics server terminated", "error", serveErr)
		}
	}()

	s.logger.Info("Metrics server listening", "port", s.portLocked(), "path", s.path)
	return nil
}

// Stop drains in-flight scrapes and closes the listener. Stopping a
// server that is not running is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := s.server.Shutdown(ctx)
	if err != nil {
		err = s.server.Close()
	}
	s.server = nil
	s.listener = nil

	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop",
			"failed to stop HTTP server")
	}
	return nil
}

// Port returns the bound listen port while running, or the configured
// port otherwise.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portLocked()
}

func (s *Server) portLocked() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// Address returns the scrape URL for the server.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheme := "http"
	if s.security.TLS.Server.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, s.portLocked(), s.path)
}
