package config

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pjstream/natsclient"
)

func newLifecycleManager(t *testing.T) *Manager {
	t.Helper()

	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	cm, err := NewConfigManager(&Config{
		Platform: PlatformConfig{Org: "c360", ID: "lifecycle-test"},
		NATS:     NATSConfig{URLs: []string{"nats://localhost:4222"}},
	}, tc.Client, slog.Default())
	require.NoError(t, err)
	return cm
}

// Stop must close every subscriber channel exactly once, after the
// watcher goroutines are done, so drainers exit instead of panicking on
// a send to a closed channel.
func TestManagerShutdownReleasesSubscribers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	cm := newLifecycleManager(t)
	require.NoError(t, cm.Start(context.Background()))

	const drainers = 5
	var wg sync.WaitGroup
	for range drainers {
		updates := cm.OnChange("streaming")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range updates {
			}
		}()
	}

	require.NoError(t, cm.Stop(5*time.Second))

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber drainers still blocked after Stop")
	}
}

func TestManagerConcurrentStops(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	cm := newLifecycleManager(t)
	require.NoError(t, cm.Start(context.Background()))

	updates := cm.OnChange("*")
	go func() {
		for range updates {
		}
	}()

	const stoppers = 4
	results := make(chan error, stoppers)
	var wg sync.WaitGroup
	for range stoppers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- cm.Stop(time.Second)
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}
}
