package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pjstream/natsclient"
)

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		pattern string
		want    bool
	}{
		{"exact match", "streaming", "streaming", true},
		{"exact mismatch", "streaming", "nats", false},
		{"bare wildcard", "server", "*", true},
		{"prefix glob", "streaming", "str*", true},
		{"prefix glob mismatch", "platform", "str*", false},
		{"dotted glob", "streaming.session", "streaming.*", true},
		{"dotted glob mismatch", "server", "streaming.*", false},
		{"malformed pattern", "server", "[", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPattern(tt.key, tt.pattern),
				"pattern %q against key %q", tt.pattern, tt.key)
		})
	}
}

func TestApplySectionValidation(t *testing.T) {
	cm := &Manager{
		config: NewSafeConfig(&Config{
			Platform: PlatformConfig{Org: "c360", ID: "validation"},
		}),
		logger: slog.Default(),
	}

	t.Run("deleted key keeps running section", func(t *testing.T) {
		require.NoError(t, cm.applySection("server", nil))
	})

	t.Run("unknown key ignored", func(t *testing.T) {
		require.NoError(t, cm.applySection("mystery", []byte(`{"a":1}`)))
	})

	t.Run("oversized value rejected", func(t *testing.T) {
		huge := make([]byte, maxConfigSize+1)
		err := cm.applySection("server", huge)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit")
	})

	t.Run("deep nesting rejected", func(t *testing.T) {
		deep := []byte(`{"a":` + nestedJSON(maxJSONDepth+2) + `}`)
		err := cm.applySection("server", deep)
		require.Error(t, err)
	})

	t.Run("malformed JSON rejected", func(t *testing.T) {
		err := cm.applySection("server", []byte(`{"port": `))
		require.Error(t, err)
	})

	t.Run("valid section applied", func(t *testing.T) {
		require.NoError(t, cm.applySection("server", []byte(`{"port": 8123}`)))
		assert.Equal(t, 8123, cm.config.Get().Server.Port)
	})
}

// nestedJSON builds an object nested n levels deep.
func nestedJSON(n int) string {
	s := `1`
	for i := 0; i < n; i++ {
		s = `{"k":` + s + `}`
	}
	return s
}

func newManagerForTest(t *testing.T, cfg *Config) (*Manager, *natsclient.Client) {
	t.Helper()

	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	cm, err := NewConfigManager(cfg, tc.Client, slog.Default())
	require.NoError(t, err)
	return cm, tc.Client
}

func TestManagerSeedsEmptyBucket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	cfg := &Config{
		Version:  "1.0.0",
		Platform: PlatformConfig{Org: "c360", ID: "seed-test"},
		Server:   ServerConfig{Port: 8080, MetricsPort: 9090},
		Streaming: StreamingConfig{
			Storage: StorageConfig{Mode: StorageModeHybrid, Bucket: "pjs_sessions"},
		},
	}
	cm, _ := newManagerForTest(t, cfg)
	ctx := context.Background()

	require.NoError(t, cm.Start(ctx))
	defer cm.Stop(5 * time.Second)

	entry, err := cm.store.Get(ctx, "version")
	require.NoError(t, err)
	var version string
	require.NoError(t, json.Unmarshal(entry.Value, &version))
	assert.Equal(t, "1.0.0", version)

	entry, err = cm.store.Get(ctx, "platform")
	require.NoError(t, err)
	var platform PlatformConfig
	require.NoError(t, json.Unmarshal(entry.Value, &platform))
	assert.Equal(t, "c360", platform.Org)
	assert.Equal(t, "seed-test", platform.ID)

	entry, err = cm.store.Get(ctx, "streaming")
	require.NoError(t, err)
	var streaming StreamingConfig
	require.NoError(t, json.Unmarshal(entry.Value, &streaming))
	assert.Equal(t, StorageModeHybrid, streaming.Storage.Mode)
	assert.Equal(t, "pjs_sessions", streaming.Storage.Bucket)
}

func TestManagerAdoptsNewerKV(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	// An earlier deployment left version 2.0.0 in KV.
	seeded, err := NewConfigManager(&Config{
		Version:  "2.0.0",
		Platform: PlatformConfig{Org: "c360", ID: "adopt-test"},
		Server:   ServerConfig{Port: 9999},
	}, tc.Client, slog.Default())
	require.NoError(t, err)
	require.NoError(t, seeded.PushToKV(ctx))

	// A process booting with an older file adopts the KV state.
	cm, err := NewConfigManager(&Config{
		Version:  "1.0.0",
		Platform: PlatformConfig{Org: "c360", ID: "adopt-test"},
		Server:   ServerConfig{Port: 8080},
	}, tc.Client, slog.Default())
	require.NoError(t, err)

	require.NoError(t, cm.Start(ctx))
	defer cm.Stop(5 * time.Second)

	assert.Equal(t, 9999, cm.GetConfig().Get().Server.Port)
}

func TestManagerFileNewerUpdatesKV(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	seeded, err := NewConfigManager(&Config{
		Version:  "1.0.0",
		Platform: PlatformConfig{Org: "c360", ID: "newer-file"},
		Server:   ServerConfig{Port: 8080},
	}, tc.Client, slog.Default())
	require.NoError(t, err)
	require.NoError(t, seeded.PushToKV(ctx))

	cm, err := NewConfigManager(&Config{
		Version:  "1.1.0",
		Platform: PlatformConfig{Org: "c360", ID: "newer-file"},
		Server:   ServerConfig{Port: 8081},
	}, tc.Client, slog.Default())
	require.NoError(t, err)

	require.NoError(t, cm.Start(ctx))
	defer cm.Stop(5 * time.Second)

	entry, err := cm.store.Get(ctx, "version")
	require.NoError(t, err)
	var version string
	require.NoError(t, json.Unmarshal(entry.Value, &version))
	assert.Equal(t, "1.1.0", version)

	entry, err = cm.store.Get(ctx, "server")
	require.NoError(t, err)
	var server ServerConfig
	require.NoError(t, json.Unmarshal(entry.Value, &server))
	assert.Equal(t, 8081, server.Port)
}

func TestManagerWatchesOperatorEdits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	cfg := &Config{
		Version:  "1.0.0",
		Platform: PlatformConfig{Org: "c360", ID: "watch-test"},
		Server:   ServerConfig{Port: 8080, MetricsPort: 9090},
	}
	cm, _ := newManagerForTest(t, cfg)
	ctx := context.Background()

	require.NoError(t, cm.Start(ctx))
	defer cm.Stop(5 * time.Second)

	updates := cm.OnChange("server")
	drainInitial(t, updates)

	// An operator rewrites the server section directly in KV.
	_, err := cm.store.Put(ctx, "server", []byte(`{"port": 8888, "metrics_port": 9090}`))
	require.NoError(t, err)

	select {
	case update := <-updates:
		assert.Equal(t, "server", update.Path)
		assert.Equal(t, 8888, update.Config.Get().Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("operator edit never reached the subscriber")
	}
}

func TestManagerUpdateSection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	cfg := &Config{
		Version:  "1.0.0",
		Platform: PlatformConfig{Org: "c360", ID: "update-test"},
		Server:   ServerConfig{Port: 8080},
	}
	cm, _ := newManagerForTest(t, cfg)
	ctx := context.Background()

	require.NoError(t, cm.Start(ctx))
	defer cm.Stop(5 * time.Second)

	updates := cm.OnChange("server")
	drainInitial(t, updates)

	err := cm.UpdateSection(ctx, "server", func(section map[string]any) error {
		section["port"] = 8500
		return nil
	})
	require.NoError(t, err)

	// The CAS write loops back through the watcher.
	select {
	case update := <-updates:
		assert.Equal(t, 8500, update.Config.Get().Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("UpdateSection write never looped back")
	}

	t.Run("unknown section rejected", func(t *testing.T) {
		err := cm.UpdateSection(ctx, "mystery", func(map[string]any) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown config section")
	})
}

func TestManagerSubscriberFanout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	cfg := &Config{
		Platform: PlatformConfig{Org: "c360", ID: "fanout-test"},
	}
	cm, _ := newManagerForTest(t, cfg)

	all1 := cm.OnChange("*")
	all2 := cm.OnChange("*")
	streaming := cm.OnChange("streaming")

	for i, sub := range []<-chan Update{all1, all2, streaming} {
		select {
		case update := <-sub:
			assert.NotNil(t, update.Config, "subscriber %d", i+1)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d never got the initial snapshot", i+1)
		}
	}
}

func TestManagerStopClosesSubscribers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	cfg := &Config{
		Version:  "1.0.0",
		Platform: PlatformConfig{Org: "c360", ID: "stop-test"},
	}
	cm, _ := newManagerForTest(t, cfg)
	ctx := context.Background()

	require.NoError(t, cm.Start(ctx))

	updates := cm.OnChange("*")
	drainInitial(t, updates)

	require.NoError(t, cm.Stop(5*time.Second))

	select {
	case _, open := <-updates:
		assert.False(t, open, "subscriber channel should be closed after Stop")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}

	// Stop is idempotent, and a stopped manager refuses writes.
	assert.NoError(t, cm.Stop(time.Second))
	err := cm.UpdateSection(ctx, "server", func(map[string]any) error { return nil })
	require.Error(t, err)
}

// drainInitial consumes the snapshot OnChange delivers on subscribe.
func drainInitial(t *testing.T, updates <-chan Update) {
	t.Helper()
	select {
	case <-updates:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("initial config snapshot never arrived")
	}
}
