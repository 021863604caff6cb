package websocket

import (
	"fmt"
	"time"

	"github.com/c360/pjstream/config"
	"github.com/c360/pjstream/errors"
)

const (
	// DefaultMaxDocumentSize caps inbound stream-request envelopes.
	DefaultMaxDocumentSize = 1024 * 1024

	// DefaultSendBuffer is the per-client outbound queue capacity.
	DefaultSendBuffer = 64

	// DefaultPongTimeout is how long a client may stay silent before
	// the read side gives up on the connection.
	DefaultPongTimeout = 60 * time.Second

	// DefaultWriteTimeout bounds a single message write.
	DefaultWriteTimeout = 10 * time.Second
)

// Config holds the websocket transport settings.
type Config struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	Path string `json:"path,omitempty"`

	// MaxDocumentSize caps the size of inbound request envelopes,
	// which bound the documents clients may stream.
	MaxDocumentSize int64 `json:"max_document_size,omitempty"`

	// FramesPerSecond paces frame delivery per stream. Zero disables
	// pacing.
	FramesPerSecond float64 `json:"frames_per_second,omitempty"`
	Burst           int     `json:"burst,omitempty"`

	SendBuffer   int           `json:"send_buffer,omitempty"`
	PongTimeout  time.Duration `json:"pong_timeout,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8081,
		Path:            "/ws",
		MaxDocumentSize: DefaultMaxDocumentSize,
		SendBuffer:      DefaultSendBuffer,
		PongTimeout:     DefaultPongTimeout,
		WriteTimeout:    DefaultWriteTimeout,
	}
}

// FromPlatform maps the platform server and delivery sections onto a
// transport config. Unset fields are filled by Validate.
func FromPlatform(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.WebSocketPort,
		Path:            cfg.Server.WebSocketPath,
		MaxDocumentSize: cfg.Server.MaxRequestSize,
		FramesPerSecond: cfg.Streaming.Delivery.FramesPerSecond,
		Burst:           cfg.Streaming.Delivery.Burst,
	}
}

// Validate fills defaults and rejects unusable settings. Ports below
// 1024 are reserved.
func (c *Config) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: websocket port %d out of range 1024-65535", errors.ErrInvalidConfig, c.Port),
			"websocket", "Validate", "check port")
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.MaxDocumentSize < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max document size %d is negative", errors.ErrInvalidConfig, c.MaxDocumentSize),
			"websocket", "Validate", "check document size")
	}
	if c.MaxDocumentSize == 0 {
		c.MaxDocumentSize = DefaultMaxDocumentSize
	}
	if c.FramesPerSecond < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: frames per second %v is negative", errors.ErrInvalidConfig, c.FramesPerSecond),
			"websocket", "Validate", "check pacing")
	}
	if c.FramesPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return nil
}
