package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is. The gateway and transport
// layers surface several of these messages to clients verbatim, so the
// exact text is part of the wire-visible surface.
var (
	// Frame protocol violations.
	ErrInvalidFrame    = errors.New("invalid frame")
	ErrInvalidPath     = errors.New("invalid json path")
	ErrInvalidPriority = errors.New("priority out of range")
	ErrOutOfOrder      = errors.New("frame out of order")
	ErrChecksumFailed  = errors.New("checksum validation failed")
	ErrParsingFailed   = errors.New("parsing failed")

	// Document analysis rejections.
	ErrInvalidInput = errors.New("invalid input document")
	ErrDepthLimit   = errors.New("maximum nesting depth exceeded")
	ErrArrayLimit   = errors.New("maximum array size exceeded")
	ErrObjectLimit  = errors.New("maximum object key count exceeded")
	ErrStringLimit  = errors.New("maximum string length exceeded")

	// Session and stream state.
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrSessionClosed     = errors.New("session closed")
	ErrStreamNotFound    = errors.New("stream not found")
	ErrStreamLimit       = errors.New("concurrent stream limit reached")

	// Component lifecycle.
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Broker connectivity.
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")

	// Storage and persistence.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")
	ErrAlreadyExists      = errors.New("key already exists")

	// Configuration.
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")

	// Resource pressure.
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrRateLimited       = errors.New("rate limited")

	// ErrInternal covers unexpected failures with no better name.
	ErrInternal = errors.New("internal error")
)

// ClassifiedError carries an ErrorClass alongside the wrapped error so
// retry loops and transport handlers can branch on the class without
// matching individual sentinels.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap adds "component.method: action failed" context while keeping the
// original error reachable through errors.Is and errors.As. A nil err
// stays nil so call sites can wrap unconditionally.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps err with context and marks it retryable.
func WrapTransient(err error, component, method, action string) error {
	return wrapClass(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err with context and marks it unrecoverable.
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err with context and marks it a caller mistake.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}

func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}
