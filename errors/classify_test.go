package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClassString(t *testing.T) {
	cases := map[ErrorClass]string{
		ErrorTransient: "transient",
		ErrorInvalid:   "invalid",
		ErrorFatal:     "fatal",
		ErrorClass(42): "unknown",
		ErrorClass(-1): "unknown",
	}
	for class, want := range cases {
		if got := class.String(); got != want {
			t.Errorf("ErrorClass(%d).String() = %q, want %q", int(class), got, want)
		}
	}
}

// TestSentinelClassification walks every sentinel with a pinned class
// and checks that Classify and the three predicates agree on it.
func TestSentinelClassification(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"no connection", ErrNoConnection, ErrorTransient},
		{"connection lost", ErrConnectionLost, ErrorTransient},
		{"connection timeout", ErrConnectionTimeout, ErrorTransient},
		{"storage unavailable", ErrStorageUnavailable, ErrorTransient},
		{"rate limited", ErrRateLimited, ErrorTransient},
		{"stream limit", ErrStreamLimit, ErrorTransient},
		{"deadline exceeded", context.DeadlineExceeded, ErrorTransient},
		{"context canceled", context.Canceled, ErrorTransient},

		{"invalid frame", ErrInvalidFrame, ErrorInvalid},
		{"invalid path", ErrInvalidPath, ErrorInvalid},
		{"priority range", ErrInvalidPriority, ErrorInvalid},
		{"out of order", ErrOutOfOrder, ErrorInvalid},
		{"checksum mismatch", ErrChecksumFailed, ErrorInvalid},
		{"parse failure", ErrParsingFailed, ErrorInvalid},
		{"bad document", ErrInvalidInput, ErrorInvalid},
		{"depth limit", ErrDepthLimit, ErrorInvalid},
		{"array limit", ErrArrayLimit, ErrorInvalid},
		{"object limit", ErrObjectLimit, ErrorInvalid},
		{"string limit", ErrStringLimit, ErrorInvalid},
		{"illegal transition", ErrIllegalTransition, ErrorInvalid},
		{"missing session", ErrSessionNotFound, ErrorInvalid},
		{"expired session", ErrSessionExpired, ErrorInvalid},
		{"closed session", ErrSessionClosed, ErrorInvalid},
		{"missing stream", ErrStreamNotFound, ErrorInvalid},
		{"missing key", ErrKeyNotFound, ErrorInvalid},
		{"duplicate key", ErrAlreadyExists, ErrorInvalid},

		{"invalid config", ErrInvalidConfig, ErrorFatal},
		{"missing config", ErrMissingConfig, ErrorFatal},
		{"resource exhausted", ErrResourceExhausted, ErrorFatal},
		{"internal", ErrInternal, ErrorFatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.class {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.class)
			}
			if got := IsTransient(tc.err); got != (tc.class == ErrorTransient) {
				t.Errorf("IsTransient(%v) = %v", tc.err, got)
			}
			if got := IsInvalid(tc.err); got != (tc.class == ErrorInvalid) {
				t.Errorf("IsInvalid(%v) = %v", tc.err, got)
			}
			if got := IsFatal(tc.err); got != (tc.class == ErrorFatal) {
				t.Errorf("IsFatal(%v) = %v", tc.err, got)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != ErrorTransient {
		t.Fatalf("Classify(nil) = %v, want transient", got)
	}
	if IsTransient(nil) || IsInvalid(nil) || IsFatal(nil) {
		t.Fatal("nil error should not match any class predicate")
	}
}

func TestClassifyMessageHints(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"dial timeout", fmt.Errorf("dial tcp: i/o timeout"), ErrorTransient},
		{"network text", fmt.Errorf("network is unreachable"), ErrorTransient},
		{"busy broker", fmt.Errorf("server busy, slow down"), ErrorTransient},
		{"panic text", fmt.Errorf("panic: runtime error"), ErrorFatal},
		{"corrupted state", fmt.Errorf("wal segment corrupted"), ErrorFatal},
		{"disk full", fmt.Errorf("write /data: disk full"), ErrorFatal},
		{"no hint", fmt.Errorf("something odd happened"), ErrorTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.class {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.class)
			}
		})
	}
}

func TestIsInvalidIgnoresMessageText(t *testing.T) {
	if IsInvalid(errors.New("invalid frame received from peer")) {
		t.Fatal("message text alone should not classify an error as invalid")
	}
	if !IsInvalid(fmt.Errorf("reject: %w", ErrInvalidFrame)) {
		t.Fatal("wrapped sentinel should classify as invalid")
	}
}

func TestWrappedSentinelKeepsClass(t *testing.T) {
	// The wrapping text mentions a retry, but the sentinel pins the class.
	err := fmt.Errorf("retry budget exhausted for %w", ErrSessionNotFound)
	if IsTransient(err) {
		t.Fatal("wrapped invalid sentinel must not classify as transient")
	}
	if !IsInvalid(err) {
		t.Fatal("wrapped invalid sentinel should stay invalid")
	}
}

func TestClassifiedErrorWinsOverSentinel(t *testing.T) {
	err := WrapTransient(ErrInvalidFrame, "Gateway", "PullFrame", "decode frame")
	if !IsTransient(err) {
		t.Fatal("explicit classification should override the sentinel class")
	}
	if IsInvalid(err) {
		t.Fatal("explicitly transient error should not also be invalid")
	}
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatal("sentinel should stay reachable through the wrapper")
	}
}

func TestShouldRetry(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.ShouldRetry(nil, 0) {
		t.Error("nil error should not retry")
	}
	if cfg.ShouldRetry(ErrConnectionTimeout, cfg.MaxRetries) {
		t.Error("exhausted attempts should not retry")
	}
	if !cfg.ShouldRetry(ErrConnectionTimeout, cfg.MaxRetries-1) {
		t.Error("transient error with attempts left should retry")
	}
	if cfg.ShouldRetry(ErrInvalidFrame, 0) {
		t.Error("invalid error should never retry")
	}
	if cfg.ShouldRetry(ErrInvalidConfig, 0) {
		t.Error("fatal error should never retry")
	}
	if !cfg.ShouldRetry(fmt.Errorf("connection reset by peer"), 1) {
		t.Error("transient message hint should retry")
	}
}

func TestShouldRetryAllowlist(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.RetryableErrors = []error{ErrConnectionTimeout}

	if !cfg.ShouldRetry(ErrConnectionTimeout, 0) {
		t.Error("allowlisted error should retry")
	}
	if !cfg.ShouldRetry(fmt.Errorf("op: %w", ErrConnectionTimeout), 0) {
		t.Error("wrapped allowlisted error should retry")
	}
	if cfg.ShouldRetry(ErrConnectionLost, 0) {
		t.Error("transient error outside the allowlist should not retry")
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, expected := range want {
		if got := cfg.BackoffDelay(attempt); got != expected {
			t.Errorf("BackoffDelay(%d) = %v, want %v", attempt, got, expected)
		}
	}
	if got := cfg.BackoffDelay(-1); got != cfg.InitialDelay {
		t.Errorf("BackoffDelay(-1) = %v, want the initial delay", got)
	}
}

func TestToRetryConfig(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:    4,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 1.5,
	}
	converted := cfg.ToRetryConfig()

	if converted.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5 (retries plus the first attempt)", converted.MaxAttempts)
	}
	if converted.InitialDelay != cfg.InitialDelay || converted.MaxDelay != cfg.MaxDelay {
		t.Error("delays should carry over unchanged")
	}
	if converted.Multiplier != cfg.BackoffFactor {
		t.Errorf("Multiplier = %v, want %v", converted.Multiplier, cfg.BackoffFactor)
	}
	if !converted.AddJitter {
		t.Error("converted config should enable jitter")
	}
}

func BenchmarkClassifySentinel(b *testing.B) {
	err := fmt.Errorf("load session: %w", ErrSessionNotFound)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Classify(err)
	}
}

func BenchmarkClassifyUnknown(b *testing.B) {
	err := errors.New("socket: connection reset by peer")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Classify(err)
	}
}
