package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/pjstream/natsclient"
)

const (
	// configBucket holds the running configuration. Sections live
	// under their own top-level keys, the document version under
	// versionKey.
	configBucket  = "pjstream_config"
	versionKey    = "version"
	configHistory = 5
)

// configSections are the KV keys the manager seeds, adopts and watches.
var configSections = []string{"platform", "nats", "server", "streaming", "security"}

// Update is delivered to OnChange subscribers after a KV edit has been
// validated and applied.
type Update struct {
	Path   string      // section that changed, e.g. "streaming"
	Config *SafeConfig // full latest configuration
}

/// Manager syncs the process configuration with a NATS KV bucket:
// version-aware seeding at boot, live adoption of operator edits, and
// CAS writes for programmatic changes.
type Manager struct {
	config *SafeConfig
	store  *natsclient.KVStore
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string][]chan Update

	watchers []jetstream.KeyWatcher
	done     chan struct{}
	wg       sync.WaitGroup
	stopped  atomic.Bool
}

// NewConfigManager binds cfg to the config bucket on the given client.
// Call Start to reconcile and begin watching.
func NewConfigManager(cfg *Config, client *natsclient.Client, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("nats client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	bucket, err := client.CreateKeyValueBucket(context.Background(), jetstream.KeyValueConfig{
		Bucket:      configBucket,
		Description: "PJStream runtime configuration",
		History:     configHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("open config bucket: %w", err)
	}

	return &Manager{
		config:      NewSafeConfig(cfg),
		store:       client.NewKVStore(bucket),
		logger:      logger,
		subscribers: make(map[string][]chan Update),
	}, nil
}

// GetConfig returns the live configuration handle.
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// OnChange subscribes to configuration changes. The pattern is a
// path.Match glob over section keys: "streaming" for one section, "*"
// for all of them. The current configuration is delivered immediately;
// subscribers that fall behind miss intermediate updates but always
// hold the latest one they received.
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 1)

	cm.mu.Lock()
	cm.subscribers[pattern] = append(cm.subscribers[pattern], ch)
	cm.mu.Unlock()

	ch <- Update{Path: pattern, Config: cm.config}
	return ch
}

// Start reconciles file and KV configuration, then watches every
// section for operator edits until Stop or ctx cancellation.
func (cm *Manager) Start(ctx context.Context) error {
	cm.done = make(chan struct{})

	cm.reconcile(ctx)

	watchers := make([]jetstream.KeyWatcher, 0, len(configSections))
	for _, section := range configSections {
		watcher, err := cm.store.Watch(ctx, section, jetstream.UpdatesOnly())
		if err != nil {
			for _, open := range watchers {
				_ = open.Stop()
			}
			return fmt.Errorf("watch %s: %w", section, err)
		}
		watchers = append(watchers, watcher)
	}
	cm.watchers = watchers

	for _, watcher := range watchers {
		cm.wg.Add(1)
		go cm.consume(ctx, watcher)
	}
	return nil
}

// Stop halts the watchers and closes subscriber channels. Returns an
// error when watcher goroutines are still running after the timeout,
// in which case subscriber channels stay open.
func (cm *Manager) Stop(timeout time.Duration) error {
	if !cm.stopped.CompareAndSwap(false, true) {
		return nil
	}

	if cm.done != nil {
		close(cm.done)
	}
	for _, watcher := range cm.watchers {
		_ = watcher.Stop()
	}
	cm.watchers = nil

	finished := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
		cm.logger.Warn("Config watchers still running at shutdown", "timeout", timeout)
		return fmt.Errorf("config manager: watchers still running after %v", timeout)
	}

	cm.mu.Lock()
	for _, channels := range cm.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	cm.subscribers = make(map[string][]chan Update)
	cm.mu.Unlock()

	return nil
}

// UpdateSection rewrites one section in KV under CAS. The change loops
// back through the watcher, so it is validated and applied locally the
// same way an operator edit would be.
func (cm *Manager) UpdateSection(ctx context.Context, section string, mutate func(map[string]any) error) error {
	if cm.stopped.Load() {
		return fmt.Errorf("config manager is stopped")
	}
	if !slices.Contains(configSections, section) {
		return fmt.Errorf("unknown config section %q", section)
	}
	return cm.store.UpdateJSON(ctx, section, mutate)
}

// PushToKV writes the current configuration into the bucket. Sections
// land before the version key, so a concurrent reader never observes a
// version ahead of its content.
func (cm *Manager) PushToKV(ctx context.Context) error {
	cfg := cm.config.Get()

	for _, section := range configSections {
		data, err := json.Marshal(sectionOf(cfg, section))
		if err != nil {
			return fmt.Errorf("marshal %s: %w", section, err)
		}
		if bytes.Equal(data, []byte("{}")) {
			continue
		}
		if _, err := cm.store.Put(ctx, section, data); err != nil {
			return fmt.Errorf("push %s: %w", section, err)
		}
	}

	if cfg.Version == "" {
		cm.logger.Warn("Config has no version, KV keeps its own version key")
		return nil
	}
	data, err := json.Marshal(cfg.Version)
	if err != nil {
		return fmt.Errorf("marshal version: %w", err)
	}
	if _, err := cm.store.Put(ctx, versionKey, data); err != nil {
		return fmt.Errorf("push version: %w", err)
	}
	return nil
}

// reconcile decides, once per boot, which side is authoritative: the
// file configuration this process started with, or what operators left
// in KV since the last run.
func (cm *Manager) reconcile(ctx context.Context) {
	kvVersion, exists := cm.kvVersion(ctx)
	if !exists {
		cm.logger.Info("KV holds no configuration, seeding from file")
		if err := cm.PushToKV(ctx); err != nil {
			cm.logger.Error("Seeding KV failed, running on file config", "error", err)
		}
		return
	}

	fileVersion := cm.config.Get().Version
	cmp, err := CompareVersions(fileVersion, kvVersion)
	switch {
	case err != nil:
		cm.logger.Warn("Config versions are not comparable, adopting KV",
			"file_version", fileVersion, "kv_version", kvVersion, "error", err)
		cm.adoptKV(ctx)

	case cmp > 0:
		cm.logger.Info("File config is newer, updating KV",
			"file_version", fileVersion, "kv_version", kvVersion)
		if err := cm.PushToKV(ctx); err != nil {
			cm.logger.Error("Updating KV with newer config failed", "error", err)
		}

	case cmp < 0:
		cm.logger.Warn("KV config is newer than the file, adopting KV",
			"file_version", fileVersion, "kv_version", kvVersion,
			"hint", "bump the file version to override")
		cm.adoptKV(ctx)

	default:
		// Same version; KV may still carry runtime edits on top of it.
		cm.adoptKV(ctx)
	}
}

// kvVersion reads the version key. The second return is false when the
// bucket has never been seeded.
func (cm *Manager) kvVersion(ctx context.Context) (string, bool) {
	entry, err := cm.store.Get(ctx, versionKey)
	if err != nil {
		if !natsclient.IsKVNotFound(err) {
			cm.logger.Warn("KV version read failed, assuming empty bucket", "error", err)
		}
		return "", false
	}

	var version string
	if err := json.Unmarshal(entry.Value, &version); err != nil {
		cm.logger.Warn("KV version is not a JSON string, treating as 0.0.0", "error", err)
		return "0.0.0", true
	}
	return version, true
}

// adoptKV loads every section present in KV over the file config.
// Sections are a closed set, so this reads each key directly instead of
// listing the bucket.
func (cm *Manager) adoptKV(ctx context.Context) {
	applied := 0
	for _, section := range configSections {
		entry, err := cm.store.Get(ctx, section)
		if err != nil {
			if !natsclient.IsKVNotFound(err) {
				cm.logger.Warn("KV section read failed", "section", section, "error", err)
			}
			continue
		}
		if err := cm.applySection(section, entry.Value); err != nil {
			cm.logger.Warn("KV section rejected", "section", section, "error", err)
			continue
		}
		applied++
	}
	cm.logger.Info("Adopted configuration from KV", "sections", applied)
}

// consume drains one watcher until shutdown.
func (cm *Manager) consume(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer cm.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.done:
			return
		case entry := <-watcher.Updates():
			if entry == nil {
				continue
			}
			cm.apply(entry.Key(), entry.Value())
		}
	}
}

// apply validates one KV edit, folds it into the running config, and
// fans it out to subscribers.
func (cm *Manager) apply(key string, value []byte) {
	if cm.stopped.Load() {
		return
	}

	if err := cm.applySection(key, value); err != nil {
		cm.logger.Error("Rejected KV config update", "key", key, "error", err)
		return
	}
	cm.notify(key)
}

// applySection unmarshals a section value into a clone of the current
// config and swaps it in. Empty values (deleted keys) keep the running
// section; unknown keys are ignored.
func (cm *Manager) applySection(key string, value []byte) error {
	if len(value) == 0 {
		cm.logger.Debug("Ignoring deleted config key", "key", key)
		return nil
	}
	if len(value) > maxConfigSize {
		return fmt.Errorf("section %s is %d bytes, limit is %d", key, len(value), maxConfigSize)
	}
	if err := checkJSONDepth(value); err != nil {
		return fmt.Errorf("section %s: %w", key, err)
	}

	cfg := cm.config.Get()
	target := sectionOf(cfg, key)
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(value, target); err != nil {
		return fmt.Errorf("parse %s section: %w", key, err)
	}
	return cm.config.Update(cfg)
}

// notify delivers the update to every subscriber whose pattern matches.
func (cm *Manager) notify(key string) {
	update := Update{Path: key, Config: cm.config}

	cm.mu.RLock()
	var targets []chan Update
	for pattern, channels := range cm.subscribers {
		if matchesPattern(key, pattern) {
			targets = append(targets, channels...)
		}
	}
	cm.mu.RUnlock()

	for _, ch := range targets {
		if cm.stopped.Load() {
			return
		}
		select {
		case ch <- update:
		default:
			// Subscriber not keeping up; it sees the next update.
		}
	}
}

// matchesPattern reports whether a section key matches a subscription
// pattern. Patterns are path.Match globs; section keys contain no
// separators, so "*" matches every section and "str*" matches by
// prefix.
func matchesPattern(key, pattern string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// sectionOf maps a section key to the field holding it. Returns nil for
// keys that are not configuration sections.
func sectionOf(cfg *Config, key string) any {
	switch key {
	case "platform":
		return &cfg.Platform
	case "nats":
		return &cfg.NATS
	case "server":
		return &cfg.Server
	case "streaming":
		return &cfg.Streaming
	case "security":
		return &cfg.Security
	default:
		return nil
	}
}
