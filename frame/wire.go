package frame

import (
	"encoding/json"
	"fmt"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/pkg/timestamp"
	"github.com/c360/pjstream/priority"
)

// wireFormat is the self-describing JSON form of a frame. Timestamps
// travel as Unix milliseconds; the payload shape depends on the kind.
type wireFormat struct {
	StreamID  string            `json:"stream_id"`
	Kind      Kind              `json:"kind"`
	Sequence  uint64            `json:"sequence"`
	Priority  uint8             `json:"priority"`
	Timestamp int64             `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// patchPayload is the wire payload of a patch frame: an object whose
// "patches" member is the non-empty entry list.
type patchPayload struct {
	Patches []PatchEntry `json:"patches"`
}

type completePayload struct {
	Checksum string `json:"checksum,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// MarshalJSON implements json.Marshaler. Frames serialize even though
// their fields are private, following the wire format contract.
func (f Frame) MarshalJSON() ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	switch f.kind {
	case KindSkeleton:
		payload, err = json.Marshal(f.skeleton)
	case KindPatch:
		payload, err = json.Marshal(patchPayload{Patches: f.patches})
	case KindComplete:
		payload, err = json.Marshal(completePayload{Checksum: f.checksum})
	case KindError:
		payload, err = json.Marshal(errorPayload{Message: f.message, Code: f.code})
	default:
		err = fmt.Errorf("%w: unknown kind %q", errors.ErrInvalidFrame, f.kind)
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "Frame", "MarshalJSON", "marshal payload")
	}

	wire := wireFormat{
		StreamID:  f.streamID,
		Kind:      f.kind,
		Sequence:  f.sequence,
		Priority:  f.priority.Value(),
		Timestamp: timestamp.ToUnixMs(f.timestamp),
		Payload:   json.RawMessage(payload),
		Metadata:  f.metadata,
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded frame is
// validated so a malformed wire frame never enters a queue unnoticed.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var wire wireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Frame", "UnmarshalJSON", "unmarshal wire format")
	}

	prio, err := priority.New(int(wire.Priority))
	if err != nil {
		return errors.WrapInvalid(err, "Frame", "UnmarshalJSON", "decode priority")
	}

	decoded := Frame{
		streamID:  wire.StreamID,
		kind:      wire.Kind,
		sequence:  wire.Sequence,
		priority:  prio,
		timestamp: timestamp.FromUnixMs(wire.Timestamp),
	}
	// Copy rather than adopt, matching the constructor path.
	if len(wire.Metadata) > 0 {
		decoded.metadata = make(map[string]string, len(wire.Metadata))
		for k, v := range wire.Metadata {
			decoded.metadata[k] = v
		}
	}

	switch wire.Kind {
	case KindSkeleton:
		if err := json.Unmarshal(wire.Payload, &decoded.skeleton); err != nil {
			return f.wireError(err, "decode skeleton payload")
		}
	case KindPatch:
		var payload patchPayload
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return f.wireError(err, "decode patch payload")
		}
		decoded.patches = payload.Patches
	case KindComplete:
		var payload completePayload
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return f.wireError(err, "decode complete payload")
		}
		decoded.checksum = payload.Checksum
	case KindError:
		var payload errorPayload
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return f.wireError(err, "decode error payload")
		}
		decoded.message = payload.Message
		decoded.code = payload.Code
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown kind %q", errors.ErrInvalidFrame, wire.Kind),
			"Frame", "UnmarshalJSON", "decode kind")
	}

	if err := decoded.Validate(); err != nil {
		return err
	}
	*f = decoded
	return nil
}

func (f *Frame) wireError(err error, action string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
		"Frame", "UnmarshalJSON", action)
}
