package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSafeConfigConcurrentReadersAndWriters(t *testing.T) {
	sc := NewSafeConfig(&Config{
		Platform: PlatformConfig{Org: "c360", ID: "reader-0"},
	})

	var g errgroup.Group
	for w := range 4 {
		g.Go(func() error {
			for i := range 100 {
				cfg := &Config{
					Platform: PlatformConfig{
						Org: "c360",
						ID:  fmt.Sprintf("reader-%d", (w*100+i)%8),
					},
				}
				if err := sc.Update(cfg); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for range 8 {
		g.Go(func() error {
			for range 500 {
				cfg := sc.Get()
				if cfg == nil {
					return fmt.Errorf("Get returned nil")
				}
				if cfg.Platform.Org != "c360" {
					return fmt.Errorf("torn read: org %q", cfg.Platform.Org)
				}
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
}

func TestSafeConfigNilHandling(t *testing.T) {
	sc := NewSafeConfig(nil)
	require.NotNil(t, sc.Get(), "Get must not return nil for an empty wrapper")

	assert.Error(t, sc.Update(nil))
}

func TestSafeConfigRejectsInvalidUpdate(t *testing.T) {
	sc := NewSafeConfig(&Config{
		Platform: PlatformConfig{Org: "c360", ID: "stable"},
	})

	err := sc.Update(&Config{
		Platform: PlatformConfig{Org: "c360"}, // no ID
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	// The previous configuration stays active.
	assert.Equal(t, "stable", sc.Get().Platform.ID)
}

func TestSafeConfigGetReturnsPrivateCopies(t *testing.T) {
	sc := NewSafeConfig(&Config{
		Platform: PlatformConfig{Org: "c360", ID: "shared"},
		NATS:     NATSConfig{URLs: []string{"nats://a:4222", "nats://b:4222"}},
	})

	first := sc.Get()
	second := sc.Get()

	first.Platform.ID = "mutated"
	first.NATS.URLs = append(first.NATS.URLs, "nats://c:4222")

	assert.Equal(t, "shared", second.Platform.ID)
	assert.Len(t, second.NATS.URLs, 2)
	assert.Equal(t, "shared", sc.Get().Platform.ID)
}

func TestConfigClone(t *testing.T) {
	t.Run("nil receiver", func(t *testing.T) {
		var cfg *Config
		assert.NotNil(t, cfg.Clone())
	})

	t.Run("slices are independent", func(t *testing.T) {
		cfg := &Config{
			Platform: PlatformConfig{Org: "c360", ID: "clone-test"},
			NATS: NATSConfig{
				URLs:          []string{"nats://localhost:4222"},
				ReconnectWait: 2 * time.Second,
			},
		}
		clone := cfg.Clone()
		require.Equal(t, cfg, clone)

		cfg.NATS.URLs = append(cfg.NATS.URLs, "nats://extra:4222")
		assert.Len(t, clone.NATS.URLs, 1)
	})
}
