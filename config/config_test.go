package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes content to a fresh temp file and returns its path.
func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfigStringMasksCredentials(t *testing.T) {
	cfg := &Config{
		Version: "1.0.0",
		NATS: NATSConfig{
			URLs:     []string{"nats://localhost:4222"},
			Username: "pjs",
			Password: "hunter2",
			Token:    "tok-123",
		},
	}

	rendered := cfg.String()
	assert.NotContains(t, rendered, "hunter2")
	assert.NotContains(t, rendered, "tok-123")
	assert.Contains(t, rendered, "[redacted]")
	assert.Equal(t, "hunter2", cfg.NATS.Password, "String must not mutate the config")
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeTestConfig(t, `{
		"version": "1.2.0",
		"platform": {
			"org": "c360",
			"id": "pjstream1",
			"environment": "prod"
		},
		"nats": {
			"urls": ["nats://localhost:4222", "nats://localhost:4223"],
			"max_reconnects": 10,
			"reconnect_wait": "5s"
		},
		"server": {
			"port": 8088,
			"websocket_port": 8089,
			"metrics_port": 9191,
			"shutdown_timeout": "15s"
		},
		"streaming": {
			"session": {
				"max_concurrent_streams": 8,
				"timeout": "10m"
			},
			"storage": {
				"mode": "hybrid",
				"cache_size": 2048
			},
			"delivery": {
				"frames_per_second": 30,
				"burst": 5
			},
			"sweep_interval": "1m"
		}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "pjstream1", cfg.Platform.ID)
	assert.Equal(t, "prod", cfg.Platform.Environment)
	assert.Len(t, cfg.NATS.URLs, 2)
	assert.Equal(t, 10, cfg.NATS.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 8089, cfg.Server.WebSocketPort)
	assert.Equal(t, 9191, cfg.Server.MetricsPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 8, cfg.Streaming.Session.MaxConcurrentStreams)
	assert.Equal(t, 10*time.Minute, cfg.Streaming.Session.Timeout)
	assert.Equal(t, StorageModeHybrid, cfg.Streaming.Storage.Mode)
	assert.Equal(t, 2048, cfg.Streaming.Storage.CacheSize)
	assert.Equal(t, 30.0, cfg.Streaming.Delivery.FramesPerSecond)
	assert.Equal(t, time.Minute, cfg.Streaming.SweepInterval)
}

func TestLoader_Defaults(t *testing.T) {
	path := writeTestConfig(t, `{
		"platform": {
			"org": "c360",
			"id": "test-platform"
		}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects, "reconnects default to unlimited")
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.True(t, cfg.NATS.JetStream.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8081, cfg.Server.WebSocketPort)
	assert.Equal(t, "/ws", cfg.Server.WebSocketPath)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "/metrics", cfg.Server.MetricsPath)
	assert.Equal(t, StorageModeMemory, cfg.Streaming.Storage.Mode)
	assert.Equal(t, 1024, cfg.Streaming.Storage.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.Streaming.SweepInterval)

	// Session and analyzer sections carry their package defaults.
	assert.Equal(t, 5*time.Minute, cfg.Streaming.Session.Timeout)
	assert.Contains(t, cfg.Streaming.Analyzer.Rules.CriticalFields, "id")
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("PJSTREAM_PLATFORM_ID", "env-platform")
	t.Setenv("PJSTREAM_NATS_USERNAME", "testuser")
	t.Setenv("PJSTREAM_NATS_PASSWORD", "testpass")
	t.Setenv("PJSTREAM_SERVER_PORT", "9999")
	t.Setenv("PJSTREAM_STORAGE_MODE", "kv")

	path := writeTestConfig(t, `{
		"platform": {
			"org": "c360",
			"id": "json-platform",
			"environment": "dev"
		}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "env-platform", cfg.Platform.ID)
	assert.Equal(t, "testuser", cfg.NATS.Username)
	assert.Equal(t, "testpass", cfg.NATS.Password)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, StorageModeKV, cfg.Streaming.Storage.Mode)

	// Keys without an env override keep their file values.
	assert.Equal(t, "dev", cfg.Platform.Environment)
}

func TestLoader_Validation(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		wantError string
	}{
		{
			name:      "missing org",
			config:    `{"platform": {"id": "platform1"}}`,
			wantError: "platform.org is required",
		},
		{
			name:      "missing platform ID",
			config:    `{"platform": {"org": "c360"}}`,
			wantError: "platform.id is required",
		},
		{
			name:      "org invalid for NATS subjects",
			config:    `{"platform": {"org": "c 360", "id": "platform1"}}`,
			wantError: "not valid for NATS subjects",
		},
		{
			name: "invalid storage mode",
			config: `{
				"platform": {"org": "c360", "id": "platform1"},
				"streaming": {"storage": {"mode": "postgres"}}
			}`,
			wantError: "storage.mode",
		},
		{
			name: "negative analyzer threshold",
			config: `{
				"platform": {"org": "c360", "id": "platform1"},
				"streaming": {
					"analyzer": {"rules": {"long_array_threshold": -5}}
				}
			}`,
			wantError: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader()
			loader.EnableValidation(true)

			_, err := loader.LoadFile(writeTestConfig(t, tt.config))
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestLoader_Layers(t *testing.T) {
	base := writeTestConfig(t, `{
		"platform": {
			"org": "c360",
			"id": "base-platform",
			"environment": "dev"
		},
		"nats": {
			"urls": ["nats://base:4222"],
			"max_reconnects": -1
		},
		"streaming": {
			"storage": {"mode": "memory", "cache_size": 512}
		}
	}`)
	override := writeTestConfig(t, `{
		"platform": {
			"id": "override-platform"
		},
		"nats": {
			"max_reconnects": 5,
			"username": "testuser"
		},
		"streaming": {
			"storage": {"mode": "hybrid"}
		}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "override-platform", cfg.Platform.ID)
	assert.Equal(t, "dev", cfg.Platform.Environment, "untouched base keys survive the merge")

	assert.Equal(t, []string{"nats://base:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5, cfg.NATS.MaxReconnects)
	assert.Equal(t, "testuser", cfg.NATS.Username)

	assert.Equal(t, StorageModeHybrid, cfg.Streaming.Storage.Mode)
	assert.Equal(t, 512, cfg.Streaming.Storage.CacheSize, "sibling keys merge, not replace")
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	cfg := &Config{
		Version: "2.0.0",
		Platform: PlatformConfig{
			Org:         "c360",
			ID:          "save-test",
			Environment: "test",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://server1:4222", "nats://server2:4222"},
			MaxReconnects: 10,
		},
		Server: ServerConfig{
			Port:        8085,
			MetricsPort: 9095,
		},
		Streaming: StreamingConfig{
			Storage: StorageConfig{
				Mode:      StorageModeKV,
				Bucket:    "pjs_sessions",
				CacheSize: 256,
			},
		},
	}

	saveFile := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(saveFile))

	loaded, err := NewLoader().LoadFile(saveFile)
	require.NoError(t, err)

	assert.Equal(t, cfg.Version, loaded.Version)
	assert.Equal(t, cfg.Platform.ID, loaded.Platform.ID)
	assert.Equal(t, cfg.Platform.Environment, loaded.Platform.Environment)
	assert.Equal(t, cfg.NATS.URLs, loaded.NATS.URLs)
	assert.Equal(t, cfg.NATS.MaxReconnects, loaded.NATS.MaxReconnects)
	assert.Equal(t, cfg.Streaming.Storage.Mode, loaded.Streaming.Storage.Mode)
	assert.Equal(t, cfg.Streaming.Storage.Bucket, loaded.Streaming.Storage.Bucket)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name    string
		v1, v2  string
		want    int
		wantErr bool
	}{
		{name: "equal", v1: "1.0.0", v2: "1.0.0", want: 0},
		{name: "major newer", v1: "2.0.0", v2: "1.9.9", want: 1},
		{name: "minor older", v1: "1.1.0", v2: "1.2.0", want: -1},
		{name: "patch newer", v1: "1.0.5", v2: "1.0.4", want: 1},
		{name: "v prefix", v1: "v1.0.0", v2: "1.0.0", want: 0},
		{name: "empty version", v1: "", v2: "1.0.0", wantErr: true},
		{name: "two parts", v1: "1.0", v2: "1.0.0", wantErr: true},
		{name: "non-numeric", v1: "a.b.c", v2: "1.0.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareVersions(tt.v1, tt.v2)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDurationDaySuffix(t *testing.T) {
	d, err := parseDuration("14d")
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, d)

	d, err = parseDuration("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDuration("not-a-duration")
	assert.Error(t, err)
}
