package errors

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/c360/pjstream/pkg/retry"
)

// ErrorClass sorts failures by how the caller should react.
type ErrorClass int

const (
	// ErrorTransient marks failures that a retry may clear.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid marks caller mistakes that no retry will fix.
	ErrorInvalid
	// ErrorFatal marks failures that should stop processing.
	ErrorFatal
)

var classNames = [...]string{"transient", "invalid", "fatal"}

func (ec ErrorClass) String() string {
	if ec < 0 || int(ec) >= len(classNames) {
		return "unknown"
	}
	return classNames[ec]
}

// sentinelClasses pins the class of every sentinel with a known
// disposition. Classification consults this table before the message
// heuristics, so a wrapped sentinel never changes class because of
// words added by the wrapping text.
var sentinelClasses = []struct {
	sentinel error
	class    ErrorClass
}{
	{ErrNoConnection, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrConnectionTimeout, ErrorTransient},
	{ErrStorageUnavailable, ErrorTransient},
	{ErrRateLimited, ErrorTransient},
	{ErrStreamLimit, ErrorTransient},

	{ErrInvalidFrame, ErrorInvalid},
	{ErrInvalidPath, ErrorInvalid},
	{ErrInvalidPriority, ErrorInvalid},
	{ErrOutOfOrder, ErrorInvalid},
	{ErrChecksumFailed, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrInvalidInput, ErrorInvalid},
	{ErrDepthLimit, ErrorInvalid},
	{ErrArrayLimit, ErrorInvalid},
	{ErrObjectLimit, ErrorInvalid},
	{ErrStringLimit, ErrorInvalid},
	{ErrIllegalTransition, ErrorInvalid},
	{ErrSessionNotFound, ErrorInvalid},
	{ErrSessionExpired, ErrorInvalid},
	{ErrSessionClosed, ErrorInvalid},
	{ErrStreamNotFound, ErrorInvalid},
	{ErrKeyNotFound, ErrorInvalid},
	{ErrAlreadyExists, ErrorInvalid},

	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrResourceExhausted, ErrorFatal},
	{ErrInternal, ErrorFatal},
}

// sentinelClass returns the pinned class for err when the table, or the
// context package, recognizes it.
func sentinelClass(err error) (ErrorClass, bool) {
	for _, entry := range sentinelClasses {
		if errors.Is(err, entry.sentinel) {
			return entry.class, true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTransient, true
	}
	return ErrorTransient, false
}

// Message heuristics for errors that arrive unclassified from other
// libraries. Substring matching is crude but catches the common net and
// broker failure texts.
var (
	transientHints = []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
		"retry",
	}
	fatalHints = []string{
		"fatal",
		"panic",
		"corrupted",
		"invalid config",
		"missing config",
		"out of memory",
		"disk full",
	}
)

func hintedAs(err error, hints []string) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range hints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying. Classified errors
// answer from their class, known sentinels from the table, and anything
// else from the transient message hints.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}
	if class, known := sentinelClass(err); known {
		return class == ErrorTransient
	}
	return hintedAs(err, transientHints)
}

// IsFatal reports whether err should stop processing rather than be
// retried or returned to the caller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}
	if class, known := sentinelClass(err); known {
		return class == ErrorFatal
	}
	return hintedAs(err, fatalHints)
}

// IsInvalid reports whether err is a caller mistake. Unknown errors are
// never invalid; without a sentinel or an explicit classification the
// safer answer is to leave them to the retry path.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}
	class, known := sentinelClass(err)
	return known && class == ErrorInvalid
}

// Classify resolves err to a single class. Transient hints win over
// fatal hints for unclassified errors, and anything unrecognized is
// treated as transient so it stays eligible for retry.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if class, known := sentinelClass(err); known {
		return class
	}
	if hintedAs(err, transientHints) {
		return ErrorTransient
	}
	if hintedAs(err, fatalHints) {
		return ErrorFatal
	}
	return ErrorTransient
}

// RetryConfig describes a backoff schedule in terms of retries after
// the first attempt. The retry package counts total attempts instead;
// ToRetryConfig converts between the two.
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []error
}

// DefaultRetryConfig suits one-off operations such as a single publish
// or KV lookup. An empty RetryableErrors list retries every transient
// error.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry reports whether the zero-based attempt should run again
// after err. A non-empty RetryableErrors list restricts retries to
// those errors; otherwise any transient error qualifies.
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries || !IsTransient(err) {
		return false
	}
	if len(rc.RetryableErrors) == 0 {
		return true
	}
	for _, candidate := range rc.RetryableErrors {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// BackoffDelay returns the delay before the given retry attempt,
// growing by BackoffFactor up to MaxDelay.
func (rc RetryConfig) BackoffDelay(attempt int) time.Duration {
	delay := rc.InitialDelay
	for range attempt {
		next := float64(delay) * rc.BackoffFactor
		if next > float64(rc.MaxDelay) {
			return rc.MaxDelay
		}
		delay = time.Duration(next)
	}
	return delay
}

// ToRetryConfig converts to the retry package's Config. MaxRetries
// counts retries after the first attempt while retry.Config counts
// total attempts, hence the +1. Jitter is always enabled on the
// converted config.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
