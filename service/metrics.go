package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/pjstream/config"
	"github.com/c360/pjstream/metric"
	"github.com/c360/pjstream/pkg/security"
)

// Metrics exposes the Prometheus scrape endpoint as a managed service.
type Metrics struct {
	*BaseService

	config   MetricsConfig
	registry *metric.MetricsRegistry
	security security.Config

	// srvMu guards the scrape server independently of the BaseService
	// lifecycle mutex, so the health probe can inspect it while the base
	// lifecycle is mid-transition.
	srvMu  sync.Mutex
	server *metric.Server
}

// MetricsConfig holds configuration for the metrics service
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// Validate checks if the configuration is valid
func (c MetricsConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Path == "" {
		return fmt.Errorf("metrics path cannot be empty")
	}
	return nil
}

// NewMetrics creates the metrics service from the server configuration.
func NewMetrics(cfg *config.Config, deps *Dependencies) (*Metrics, error) {
	mc := MetricsConfig{Port: 9090, Path: "/metrics"}
	var securityCfg security.Config
	if cfg != nil {
		if cfg.Server.MetricsPort != 0 {
			mc.Port = cfg.Server.MetricsPort
		}
		if cfg.Server.MetricsPath != "" {
			mc.Path = cfg.Server.MetricsPath
		}
		securityCfg = cfg.Security
	}
	if err := mc.Validate(); err != nil {
		return nil, fmt.Errorf("validate metrics config: %w", err)
	}

	if deps == nil {
		deps = &Dependencies{}
	}
	registry := deps.MetricsRegistry
	if registry == nil {
		registry = metric.NewMetricsRegistry()
	}

	m := &Metrics{
		BaseService: NewBaseServiceWithOptions(
			"metrics",
			cfg,
			WithLogger(deps.Logger),
			WithMetrics(registry),
		),
		config:   mc,
		registry: registry,
		security: securityCfg,
	}
	m.SetHealthCheck(m.healthCheck)

	return m, nil
}

// Start brings up the base service and binds the scrape endpoint. The
// bind happens synchronously, so a nil return means scrapes will
// succeed.
func (m *Metrics) Start(ctx context.Context) error {
	if err := m.BaseService.Start(ctx); err != nil {
		return err
	}

	m.srvMu.Lock()
	defer m.srvMu.Unlock()

	if m.server != nil {
		return fmt.Errorf("metrics server already started")
	}
	if m.Status() != StatusRunning {
		return fmt.Errorf("metrics service is %s", m.Status())
	}

	server := metric.NewServer(m.config.Port, m.config.Path, m.registry, m.security)
	if err := server.Start(); err != nil {
		_ = m.BaseService.Stop(0)
		return fmt.Errorf("start metrics server: %w", err)
	}
	m.server = server

	m.logger.Info("Metrics service started", "url", server.Address())
	return nil
}

// Stop closes the scrape endpoint, then stops the base service.
func (m *Metrics) Stop(timeout time.Duration) error {
	m.srvMu.Lock()
	server := m.server
	m.server = nil
	m.srvMu.Unlock()

	if server != nil {
		if err := server.Stop(); err != nil {
			return fmt.Errorf("stop metrics server: %w", err)
		}
	}

	if err := m.BaseService.Stop(timeout); err != nil {
		return err
	}

	if server != nil {
		m.logger.Info("Metrics service stopped")
	}
	return nil
}

// healthCheck reports whether the scrape endpoint is up.
func (m *Metrics) healthCheck() error {
	m.srvMu.Lock()
	defer m.srvMu.Unlock()

	if m.server == nil {
		return fmt.Errorf("metrics server not running")
	}
	return nil
}

// Port returns the bound scrape port while running, or the configured
// port otherwise. The two differ when the service is configured with
// port 0 for an ephemeral bind.
func (m *Metrics) Port() int {
	m.srvMu.Lock()
	defer m.srvMu.Unlock()

	if m.server != nil {
		return m.server.Port()
	}
	return m.config.Port
}

// Path returns the metrics endpoint path
func (m *Metrics) Path() string {
	return m.config.Path
}

// URL returns the full URL for the metrics endpoint
func (m *Metrics) URL() string {
	m.srvMu.Lock()
	defer m.srvMu.Unlock()

	if m.server != nil {
		return m.server.Address()
	}
	scheme := "http"
	if m.security.TLS.Server.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, m.config.Port, m.config.Path)
}
