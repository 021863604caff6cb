package gateway

import (
	"fmt"
	"time"

	"github.com/c360/pjstream/config"
	"github.com/c360/pjstream/errors"
)

// Size and pacing defaults. MaxRequestSize bounds the JSON documents
// clients may post for streaming; the hard cap exists so a config typo
// cannot turn the gateway into an unbounded buffer.
const (
	DefaultMaxRequestSize = 1024 * 1024       // 1MB
	MaxRequestSizeCap     = 100 * 1024 * 1024 // 100MB
	DefaultSSERetry       = 5 * time.Second
	DefaultShutdown       = 10 * time.Second
)

// Config holds the HTTP gateway configuration
type Config struct {
	// Host and Port define the listen address (host may be empty for
	// all interfaces)
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors,omitempty"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true)
	// Use ["*"] for development only - production should specify exact origins
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 1MB)
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// FramesPerSecond paces SSE frame delivery per connection.
	// Zero or negative disables pacing and frames flow as fast as
	// the client reads them.
	FramesPerSecond float64 `json:"frames_per_second,omitempty"`

	// Burst is the pacing burst size (default: 1 when pacing is on)
	Burst int `json:"burst,omitempty"`

	// SSERetry is the reconnect delay advertised to SSE clients
	SSERetry time.Duration `json:"sse_retry,omitempty"`

	// ShutdownTimeout bounds graceful shutdown before open SSE
	// connections are cut
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty"`
}

// Validate ensures the gateway configuration is valid and fills
// defaults for zero fields
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("port %d out of range", c.Port))
	}

	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}

	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = DefaultMaxRequestSize
	}

	if c.MaxRequestSize > MaxRequestSizeCap {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	// CORS requires explicit origin configuration for security
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	if c.FramesPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}

	if c.SSERetry <= 0 {
		c.SSERetry = DefaultSSERetry
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdown
	}

	return nil
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		EnableCORS:      false, // Disabled by default (requires explicit configuration)
		CORSOrigins:     []string{},
		MaxRequestSize:  DefaultMaxRequestSize,
		SSERetry:        DefaultSSERetry,
		ShutdownTimeout: DefaultShutdown,
	}
}

// FromPlatform derives the gateway configuration from the platform
// config: listen address and CORS from the server section, delivery
// pacing from the streaming section.
func FromPlatform(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		EnableCORS:      cfg.Server.EnableCORS,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxRequestSize:  cfg.Server.MaxRequestSize,
		FramesPerSecond: cfg.Streaming.Delivery.FramesPerSecond,
		Burst:           cfg.Streaming.Delivery.Burst,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
}
