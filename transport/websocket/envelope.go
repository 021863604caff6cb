package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	cerrors "github.com/c360/pjstream/errors"
)

// isAny reports whether err matches any of the targets.
func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// Client actions.
const (
	actionStream = "stream"
	actionCancel = "cancel"
	actionAdjust = "adjust"
)

// Server envelope types.
const (
	typeAccepted  = "accepted"
	typeFrame     = "frame"
	typeDone      = "done"
	typeCancelled = "cancelled"
	typeAdjusted  = "adjusted"
	typeError     = "error"
)

// clientEnvelope is the inbound protocol. A stream action opens
// delivery for the carried document; cancel stops the active stream;
// adjust moves the session's delivery threshold by delta so later
// frames shed low-value patches.
type clientEnvelope struct {
	Action      string          `json:"action"`
	Document    json.RawMessage `json:"document,omitempty"`
	Compression string          `json:"compression,omitempty"`
	Delta       int             `json:"delta,omitempty"`
	Raise       bool            `json:"raise,omitempty"`
}

// serverEnvelope is the outbound protocol. Frame envelopes carry one
// wire frame each; done closes out a stream with the delivered count.
// When a stream negotiated compression, its frame envelopes travel as
// compressed binary messages instead of text.
type serverEnvelope struct {
	Type        string          `json:"type"`
	StreamID    string          `json:"stream_id,omitempty"`
	Sequence    uint64          `json:"sequence,omitempty"`
	Frame       json.RawMessage `json:"frame,omitempty"`
	Frames      int             `json:"frames,omitempty"`
	Threshold   uint8           `json:"threshold,omitempty"`
	Compression string          `json:"compression,omitempty"`
	Error       string          `json:"error,omitempty"`
	Code        int             `json:"code,omitempty"`
}

// exposable lists the domain sentinels whose messages are stable and
// safe to put in error envelopes. Everything else collapses to a
// generic message.
var exposable = []error{
	cerrors.ErrSessionNotFound,
	cerrors.ErrStreamNotFound,
	cerrors.ErrSessionClosed,
	cerrors.ErrSessionExpired,
	cerrors.ErrStreamLimit,
	cerrors.ErrIllegalTransition,
	cerrors.ErrInvalidInput,
	cerrors.ErrDepthLimit,
	cerrors.ErrArrayLimit,
	cerrors.ErrObjectLimit,
	cerrors.ErrStringLimit,
	cerrors.ErrInvalidPriority,
	cerrors.ErrInvalidPath,
}

// errorCode maps service errors onto the HTTP-style codes carried in
// error envelopes. Sentinels come before classification: not-found
// classifies as invalid but clients need the 404.
func errorCode(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case isAny(err, cerrors.ErrSessionNotFound, cerrors.ErrStreamNotFound):
		return http.StatusNotFound
	case isAny(err, cerrors.ErrStreamLimit):
		return http.StatusTooManyRequests
	case isAny(err, cerrors.ErrSessionClosed, cerrors.ErrSessionExpired, cerrors.ErrIllegalTransition):
		return http.StatusConflict
	case cerrors.IsInvalid(err):
		return http.StatusBadRequest
	case cerrors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage returns the sanitized error text for an envelope.
// Internals never leak to clients.
func clientMessage(err error) string {
	if err == nil {
		return "internal server error"
	}
	for _, sentinel := range exposable {
		if isAny(err, sentinel) {
			return sentinel.Error()
		}
	}
	if cerrors.IsInvalid(err) {
		return "invalid request"
	}
	if cerrors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	}
	return "internal server error"
}

// errorEnvelope builds the error response for a failed operation.
func errorEnvelope(streamID string, err error) serverEnvelope {
	return serverEnvelope{
		Type:     typeError,
		StreamID: streamID,
		Error:    clientMessage(err),
		Code:     errorCode(err),
	}
}
