package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/pjstream/analyzer"
	"github.com/c360/pjstream/session"
)

// Loader builds a Config from layered JSON files plus environment
// overrides. Layers are applied in the order they were added, each one
// overriding only the fields it actually sets.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader returns a loader with no layers and validation disabled.
func NewLoader() *Loader {
	return &Loader{envPrefix: "PJSTREAM"}
}

// AddLayer appends a configuration file to the merge order.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation controls whether Load validates the merged result.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads a single file, replacing any layers added so far.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, file layers, and environment overrides into
// one configuration. Merging happens on raw maps so that a layer
// overrides exactly the keys it contains and nothing else.
func (l *Loader) Load() (*Config, error) {
	merged, err := configAsMap(defaultConfig())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		layer, err := l.loadLayer(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		merged = mergeMaps(merged, layer)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// defaultConfig is the baseline every load starts from. Ports follow
// the 8080/8081/9090 convention used across c360 deployments.
func defaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: JetStreamConfig{
				Enabled: true,
			},
		},
		Server: ServerConfig{
			Port:            8080,
			WebSocketPort:   8081,
			WebSocketPath:   "/ws",
			MetricsPort:     9090,
			MetricsPath:     "/metrics",
			ShutdownTimeout: 10 * time.Second,
		},
		Streaming: StreamingConfig{
			Session:  session.DefaultConfig(),
			Analyzer: analyzer.DefaultConfig(),
			Storage: StorageConfig{
				Mode:      StorageModeMemory,
				CacheSize: 1024,
			},
			Worker: WorkerConfig{
				Enabled:   false,
				Workers:   4,
				QueueSize: 64,
			},
			SweepInterval: 30 * time.Second,
		},
	}
}

// loadLayer reads one file into a raw map with duration strings
// already converted to nanoseconds.
func (l *Loader) loadLayer(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if err := checkJSONDepth(data); err != nil {
		return nil, err
	}

	var layer map[string]any
	if err := json.Unmarshal(data, &layer); err != nil {
		return nil, err
	}
	normalizeDurations(layer)
	return layer, nil
}

// configAsMap converts a Config to the raw map form the merge works on.
func configAsMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// mergeMaps overlays override onto base recursively. Nulls in a layer
// are skipped rather than clearing base values, so operators can leave
// keys in place while commenting out their content.
func mergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseChild, ok := out[k].(map[string]any); ok {
			if overrideChild, ok := v.(map[string]any); ok {
				out[k] = mergeMaps(baseChild, overrideChild)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// durationKeys lists the map paths whose values may be written as
// duration strings like "30s" or "14d" instead of nanoseconds.
var durationKeys = [][]string{
	{"nats", "reconnect_wait"},
	{"server", "shutdown_timeout"},
	{"streaming", "sweep_interval"},
	{"streaming", "session", "timeout"},
}

func normalizeDurations(layer map[string]any) {
	for _, path := range durationKeys {
		normalizeDurationAt(layer, path)
	}
}

func normalizeDurationAt(m map[string]any, path []string) {
	for _, key := range path[:len(path)-1] {
		child, ok := m[key].(map[string]any)
		if !ok {
			return
		}
		m = child
	}

	leaf := path[len(path)-1]
	if s, ok := m[leaf].(string); ok {
		if d, err := parseDuration(s); err == nil {
			m[leaf] = d.Nanoseconds()
		}
	}
}

// parseDuration extends time.ParseDuration with a day suffix, so
// retention-style settings can be written as "14d".
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides lets deploy environments override the highest-value
// settings without editing files. Variables are prefixed with PJSTREAM_
// and win over every file layer.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	setString := func(suffix string, dst *string) {
		if val := l.envValue(suffix); val != "" {
			*dst = val
		}
	}
	setInt := func(suffix string, dst *int) {
		if val := l.envValue(suffix); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}

	setString("PLATFORM_ORG", &cfg.Platform.Org)
	setString("PLATFORM_ID", &cfg.Platform.ID)
	setString("PLATFORM_ENVIRONMENT", &cfg.Platform.Environment)

	if val := l.envValue("NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	setString("NATS_USERNAME", &cfg.NATS.Username)
	setString("NATS_PASSWORD", &cfg.NATS.Password)
	setString("NATS_TOKEN", &cfg.NATS.Token)

	setInt("SERVER_PORT", &cfg.Server.Port)
	setInt("METRICS_PORT", &cfg.Server.MetricsPort)

	setString("STORAGE_MODE", &cfg.Streaming.Storage.Mode)
	setString("RULES_FILE", &cfg.Streaming.RulesFile)
}

// envValue reads a prefixed environment variable, dropping values that
// fail basic validation.
func (l *Loader) envValue(suffix string) string {
	key := l.envPrefix + "_" + suffix
	val := os.Getenv(key)
	if err := checkEnvValue(key, val); err != nil {
		return ""
	}
	return val
}
