package config

import (
	"fmt"
	"sync"
)

// SafeConfig guards a Config for concurrent readers and writers. The
// manager swaps in new configurations while request handlers read, so
// readers always get a private copy.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg. A nil cfg yields an empty configuration
// rather than a nil dereference later.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration. Callers may
// mutate the copy freely and hand it back through Update.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update validates cfg and swaps it in atomically. The previous
// configuration stays active when validation fails.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	sc.config = cfg
	sc.mu.Unlock()
	return nil
}
