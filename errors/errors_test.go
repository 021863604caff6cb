package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapFormat(t *testing.T) {
	base := errors.New("bucket missing")
	err := Wrap(base, "SessionStore", "Load", "read snapshot")

	want := "SessionStore.Load: read snapshot failed: bucket missing"
	if err.Error() != want {
		t.Fatalf("Wrap() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error should match the base error")
	}
}

func TestWrapNil(t *testing.T) {
	wrappers := map[string]func(error, string, string, string) error{
		"Wrap":          Wrap,
		"WrapTransient": WrapTransient,
		"WrapFatal":     WrapFatal,
		"WrapInvalid":   WrapInvalid,
	}
	for name, wrap := range wrappers {
		if got := wrap(nil, "c", "m", "a"); got != nil {
			t.Errorf("%s(nil) = %v, want nil", name, got)
		}
	}
}

func TestWrapClassSetsFields(t *testing.T) {
	wrappers := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"fatal", WrapFatal, ErrorFatal},
		{"invalid", WrapInvalid, ErrorInvalid},
	}

	for _, w := range wrappers {
		t.Run(w.name, func(t *testing.T) {
			err := w.wrap(errors.New("boom"), "Analyzer", "Analyze", "walk document")

			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatal("expected a ClassifiedError")
			}
			if ce.Class != w.class {
				t.Errorf("Class = %v, want %v", ce.Class, w.class)
			}
			if ce.Component != "Analyzer" || ce.Operation != "Analyze" {
				t.Errorf("context = %s.%s, want Analyzer.Analyze", ce.Component, ce.Operation)
			}
			if !strings.Contains(err.Error(), "Analyzer.Analyze: walk document failed") {
				t.Errorf("message %q missing wrap context", err.Error())
			}
		})
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	wrapped := WrapInvalid(ErrDepthLimit, "DocumentAnalyzer", "Analyze", "validate limits")

	if !errors.Is(wrapped, ErrDepthLimit) {
		t.Error("wrapped error should match ErrDepthLimit via errors.Is")
	}
	if !IsInvalid(wrapped) {
		t.Error("wrapped error should classify as invalid")
	}
}

func TestClassifiedErrorMessage(t *testing.T) {
	base := errors.New("inner")

	withMessage := &ClassifiedError{Class: ErrorFatal, Err: base, Message: "outer"}
	if withMessage.Error() != "outer" {
		t.Errorf("Error() = %q, want explicit message", withMessage.Error())
	}

	bare := &ClassifiedError{Class: ErrorFatal, Err: base}
	if bare.Error() != "inner" {
		t.Errorf("Error() = %q, want the wrapped error text", bare.Error())
	}
	if !errors.Is(bare, base) {
		t.Error("Unwrap should expose the inner error")
	}
}

func TestWireVisibleMessages(t *testing.T) {
	// Transports surface these sentinel messages to clients, so the
	// exact text is part of the protocol surface.
	pinned := map[error]string{
		ErrInvalidInput:    "invalid input document",
		ErrInvalidFrame:    "invalid frame",
		ErrSessionNotFound: "session not found",
		ErrSessionExpired:  "session expired",
		ErrSessionClosed:   "session closed",
		ErrStreamNotFound:  "stream not found",
	}
	for err, want := range pinned {
		if err.Error() != want {
			t.Errorf("sentinel message %q, want %q", err.Error(), want)
		}
	}
}

func BenchmarkWrap(b *testing.B) {
	err := errors.New("base error")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Wrap(err, "component", "method", "action")
	}
}
