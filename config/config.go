package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/c360/pjstream/analyzer"
	"github.com/c360/pjstream/pkg/security"
	"github.com/c360/pjstream/session"
)

// Storage mode constants
const (
	StorageModeMemory = "memory" // In-memory only (single process)
	StorageModeKV     = "kv"     // NATS KV only (no local cache)
	StorageModeHybrid = "hybrid" // KV + local cache (recommended for production)
)

// Config is the complete application configuration. Version gates KV
// synchronization; the remaining sections map one-to-one onto the keys
// of the config bucket.
type Config struct {
	Version   string          `json:"version"` // semantic version, e.g. "1.0.0"
	Platform  PlatformConfig  `json:"platform"`
	Security  security.Config `json:"security,omitempty"`
	NATS      NATSConfig      `json:"nats"`
	Server    ServerConfig    `json:"server"`
	Streaming StreamingConfig `json:"streaming"`
}

// Clone returns a deep copy via a JSON round trip. Config is plain
// data, so the round trip is exact; the shallow fallback only matters
// if a future field breaks marshaling.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	if data, err := json.Marshal(c); err == nil {
		clone := &Config{}
		if json.Unmarshal(data, clone) == nil {
			return clone
		}
	}

	copied := *c
	return &copied
}

// PlatformConfig identifies this deployment. Org and ID become NATS
// subject tokens, so both are restricted to subject-safe characters.
type PlatformConfig struct {
	Org string `json:"org"` // Organization namespace (e.g., "c360")
	ID  string `json:"id"`  // Platform identifier (e.g., "pjstream1")

	// Federation support for multi-platform deployments
	InstanceID  string `json:"instance_id,omitempty"` // e.g., "west-1", "dev-local"
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string        `json:"urls,omitempty"`
	MaxReconnects int             `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration   `json:"reconnect_wait,omitempty"`
	Username      string          `json:"username,omitempty"`
	Password      string          `json:"password,omitempty"`
	Token         string          `json:"token,omitempty"`
	TLS           NATSTLSConfig   `json:"tls,omitempty"`
	JetStream     JetStreamConfig `json:"jetstream,omitempty"`
}

// UnmarshalJSON accepts reconnect_wait as either a duration string
// ("5s") or nanoseconds. Operator edits through the KV bucket arrive
// here directly, without the loader's duration normalization.
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type alias NATSConfig
	aux := struct {
		ReconnectWait any `json:"reconnect_wait"`
		*alias
	}{alias: (*alias)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch v := aux.ReconnectWait.(type) {
	case nil:
	case string:
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("nats.reconnect_wait: %w", err)
		}
		n.ReconnectWait = d
	case float64:
		n.ReconnectWait = time.Duration(int64(v))
	default:
		return fmt.Errorf("nats.reconnect_wait: unsupported type %T", v)
	}
	return nil
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// JetStreamConfig for JetStream settings
type JetStreamConfig struct {
	Enabled           bool   `json:"enabled"`
	Domain            string `json:"domain,omitempty"`
	MaxMemory         int64  `json:"max_memory,omitempty"`
	MaxFileStore      int64  `json:"max_file_store,omitempty"`
	RetentionPolicy   string `json:"retention_policy,omitempty"`
	ReplicationFactor int    `json:"replication_factor,omitempty"`
}

// ServerConfig defines listen addresses for the HTTP gateway, the
// websocket transport and the metrics endpoint
type ServerConfig struct {
	Host            string        `json:"host,omitempty"`
	Port            int           `json:"port,omitempty"`           // gateway HTTP/SSE port
	WebSocketPort   int           `json:"websocket_port,omitempty"` // websocket transport port
	WebSocketPath   string        `json:"websocket_path,omitempty"`
	MetricsPort     int           `json:"metrics_port,omitempty"`
	MetricsPath     string        `json:"metrics_path,omitempty"`
	EnableCORS      bool          `json:"enable_cors,omitempty"`
	CORSOrigins     []string      `json:"cors_origins,omitempty"`     // required when EnableCORS is true
	MaxRequestSize  int64         `json:"max_request_size,omitempty"` // request body cap in bytes
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty"`
}

// StreamingConfig defines the PJS pipeline configuration
type StreamingConfig struct {
	Session       session.Config  `json:"session"`
	Analyzer      analyzer.Config `json:"analyzer"`
	RulesFile     string          `json:"rules_file,omitempty"` // optional YAML priority rules
	Storage       StorageConfig   `json:"storage"`
	Delivery      DeliveryConfig  `json:"delivery"`
	Worker        WorkerConfig    `json:"worker"`
	SweepInterval time.Duration   `json:"sweep_interval,omitempty"` // idle-session expiry sweep
}

// StorageConfig selects the session repository backend
type StorageConfig struct {
	Mode      string `json:"mode,omitempty"`       // memory, kv, hybrid
	Bucket    string `json:"bucket,omitempty"`     // KV bucket name override
	CacheSize int    `json:"cache_size,omitempty"` // hybrid mode cache entries
}

// DeliveryConfig paces frame delivery to clients.
// FramesPerSecond 0 disables pacing.
type DeliveryConfig struct {
	FramesPerSecond float64 `json:"frames_per_second,omitempty"`
	Burst           int     `json:"burst,omitempty"`
}

// WorkerConfig sizes the analysis worker pool.
// Disabled means documents are analyzed inline on the request goroutine.
type WorkerConfig struct {
	Enabled   bool `json:"enabled"`
	Workers   int  `json:"workers,omitempty"`
	QueueSize int  `json:"queue_size,omitempty"`
}

// Validate checks the configuration section by section. It runs on
// every SafeConfig.Update, so KV edits that would break the pipeline
// are rejected before they take effect.
func (c *Config) Validate() error {
	if err := c.Platform.validate(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}
	if err := c.validateStreaming(); err != nil {
		return fmt.Errorf("streaming configuration: %w", err)
	}
	return nil
}

// validate normalizes the org to lowercase and checks it against what
// NATS subjects allow.
func (p *PlatformConfig) validate() error {
	if p.Org == "" {
		return errors.New("platform.org is required")
	}
	p.Org = strings.ToLower(p.Org)
	if !validSubjectToken(p.Org) {
		return fmt.Errorf(
			"platform.org %q is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			p.Org,
		)
	}

	if p.ID == "" {
		return errors.New("platform.id is required")
	}
	return nil
}

// validateStreaming validates the streaming pipeline configuration
func (c *Config) validateStreaming() error {
	switch c.Streaming.Storage.Mode {
	case "", StorageModeMemory, StorageModeKV, StorageModeHybrid:
	default:
		return fmt.Errorf("storage.mode '%s' is invalid (must be memory, kv or hybrid)",
			c.Streaming.Storage.Mode)
	}

	if c.Streaming.Storage.CacheSize < 0 {
		return fmt.Errorf("storage.cache_size must not be negative, got %d",
			c.Streaming.Storage.CacheSize)
	}

	if c.Streaming.Delivery.FramesPerSecond < 0 {
		return fmt.Errorf("delivery.frames_per_second must not be negative, got %v",
			c.Streaming.Delivery.FramesPerSecond)
	}

	if c.Streaming.Worker.Enabled {
		if c.Streaming.Worker.Workers < 0 {
			return fmt.Errorf("worker.workers must not be negative, got %d",
				c.Streaming.Worker.Workers)
		}
		if c.Streaming.Worker.QueueSize < 0 {
			return fmt.Errorf("worker.queue_size must not be negative, got %d",
				c.Streaming.Worker.QueueSize)
		}
	}

	if err := c.Streaming.Analyzer.Rules.Validate(); err != nil {
		return fmt.Errorf("analyzer rules: %w", err)
	}

	return nil
}

// validSubjectToken reports whether s can appear as a NATS subject
// token. Letters, digits, dots, dashes and underscores are allowed.
func validSubjectToken(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.'
	}) < 0
}

// validateSecurity checks TLS material referenced by the security
// section. Stat failures surface here rather than at listen time.
func (c *Config) validateSecurity() error {
	srv := c.Security.TLS.Server
	if srv.Enabled {
		if srv.CertFile == "" {
			return errors.New("tls.server.cert_file is required when TLS is enabled")
		}
		if srv.KeyFile == "" {
			return errors.New("tls.server.key_file is required when TLS is enabled")
		}
		if _, err := os.Stat(srv.CertFile); err != nil {
			return fmt.Errorf("tls.server.cert_file: %w", err)
		}
		if _, err := os.Stat(srv.KeyFile); err != nil {
			return fmt.Errorf("tls.server.key_file: %w", err)
		}
		if srv.MinVersion != "" {
			if err := checkTLSVersion(srv.MinVersion); err != nil {
				return fmt.Errorf("tls.server.min_version: %w", err)
			}
		}
	}

	cli := c.Security.TLS.Client
	for i, caFile := range cli.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("tls.client.ca_files[%d]: %w", i, err)
		}
	}
	if cli.InsecureSkipVerify {
		_, _ = fmt.Fprintln(os.Stderr,
			"WARNING: TLS certificate verification is disabled (insecure_skip_verify=true), use only in development")
	}
	if cli.MinVersion != "" {
		if err := checkTLSVersion(cli.MinVersion); err != nil {
			return fmt.Errorf("tls.client.min_version: %w", err)
		}
	}

	return nil
}

func checkTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeConfigFile(path, data)
}

// GetOrg returns the organization namespace.
func (c *Config) GetOrg() string {
	return c.Platform.Org
}

// GetPlatform returns the platform identifier, preferring the
// federation instance ID when one is set.
func (c *Config) GetPlatform() string {
	if c.Platform.InstanceID != "" {
		return c.Platform.InstanceID
	}
	return c.Platform.ID
}

// String renders the configuration as indented JSON with credentials
// masked, so it is safe to log.
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "[redacted]"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "[redacted]"
	}

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config{version: %s}", c.Version)
	}
	return string(data)
}

// CompareVersions orders two semver strings: -1 when v1 < v2, 0 when
// equal, 1 when v1 > v2. The manager uses this at boot to decide
// whether the file or the KV bucket carries the newer configuration.
func CompareVersions(v1, v2 string) (int, error) {
	a, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v1, err)
	}
	b, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v2, err)
	}

	for i := range a {
		switch {
		case a[i] > b[i]:
			return 1, nil
		case a[i] < b[i]:
			return -1, nil
		}
	}
	return 0, nil
}

// parseSemVer splits "major.minor.patch" into its numeric components.
// A leading "v" is tolerated.
func parseSemVer(version string) ([3]int, error) {
	if version == "" {
		return [3]int{}, errors.New("version cannot be empty")
	}

	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 3 {
		return [3]int{}, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}

	var out [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return [3]int{}, fmt.Errorf("invalid version component '%s': %w", part, err)
		}
		out[i] = n
	}
	return out, nil
}
