package service

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/c360/pjstream/natsclient"
)

// One NATS container serves every integration test in this package.
// Spinning a container per test exhausts Docker resources on CI.
var sharedNATS *natsclient.TestClient

func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		// Unit tests need no container. Integration tests skip
		// themselves when the gate is unset.
		os.Exit(m.Run())
	}

	tc, err := natsclient.NewSharedTestClient(
		natsclient.WithKV(),
		natsclient.WithTestTimeout(5*time.Second),
		natsclient.WithStartTimeout(30*time.Second),
	)
	if err != nil {
		slog.Error("Shared NATS container failed to start", "error", err)
		os.Exit(1)
	}
	sharedNATS = tc

	code := m.Run()

	if err := tc.Terminate(); err != nil {
		slog.Warn("Shared NATS container teardown failed", "error", err)
	}
	os.Exit(code)
}

// getSharedNATSClient hands tests the package-wide client. Fails fast
// when called outside the INTEGRATION_TESTS gate.
func getSharedNATSClient(t *testing.T) *natsclient.Client {
	t.Helper()
	if sharedNATS == nil {
		t.Fatal("shared NATS client only exists under INTEGRATION_TESTS=1")
	}
	return sharedNATS.Client
}
