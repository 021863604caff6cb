// Package frame defines the delivery unit of priority JSON streaming:
// the skeleton, patch, complete, and error frames that make up a stream,
// their validation invariants, and their self-describing wire format.
//
// Frames are immutable after construction. Constructors enforce the
// invariants that can be checked eagerly (a patch frame can never be
// built with zero entries, an error frame never without a message), and
// Validate covers the full invariant set for frames that crossed the
// wire.
package frame

import (
	"fmt"
	"time"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/jsonpath"
	"github.com/c360/pjstream/priority"
)

// PatchEntry is one field update inside a patch frame: apply Op with
// Value at Path. Entries within a frame share the frame's priority and
// keep the order in which the analyzer discovered them.
type PatchEntry struct {
	Path  jsonpath.Path `json:"path"`
	Op    PatchOp       `json:"op"`
	Value any           `json:"value,omitempty"`
}

// Frame is a single delivery unit belonging to one stream. Frames are
// ordered by their strictly increasing sequence number; timestamps are
// informational only.
type Frame struct {
	streamID  string
	kind      Kind
	sequence  uint64
	priority  priority.Priority
	timestamp time.Time
	metadata  map[string]string

	// kind-specific payload fields; exactly one group is populated
	skeleton any
	patches  []PatchEntry
	checksum string
	message  string
	code     string
}

// Option configures optional frame attributes at construction.
type Option func(*Frame)

// WithTimestamp sets a specific timestamp instead of time.Now().
// Useful for replay and testing.
func WithTimestamp(t time.Time) Option {
	return func(f *Frame) {
		f.timestamp = t
	}
}

// WithMetadata attaches string-keyed metadata to the frame.
func WithMetadata(meta map[string]string) Option {
	return func(f *Frame) {
		if len(meta) == 0 {
			return
		}
		f.metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			f.metadata[k] = v
		}
	}
}

// NewSkeleton creates the mandatory first frame of a stream carrying the
// zeroed document shape. Skeleton frames are always Critical priority.
func NewSkeleton(streamID string, sequence uint64, skeleton any, opts ...Option) Frame {
	f := Frame{
		streamID:  streamID,
		kind:      KindSkeleton,
		sequence:  sequence,
		priority:  priority.Critical,
		timestamp: time.Now(),
		skeleton:  skeleton,
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// NewPatch creates a patch frame from a non-empty entry batch sharing one
// priority. It fails before validation ever runs: a patch frame with zero
// entries cannot be constructed at all.
func NewPatch(streamID string, sequence uint64, prio priority.Priority, entries []PatchEntry, opts ...Option) (Frame, error) {
	if len(entries) == 0 {
		return Frame{}, errors.WrapInvalid(
			fmt.Errorf("%w: patch frame requires at least one entry", errors.ErrInvalidFrame),
			"Frame", "NewPatch", "construct patch frame")
	}
	for i, entry := range entries {
		if !entry.Op.Valid() {
			return Frame{}, errors.WrapInvalid(
				fmt.Errorf("%w: entry %d has unknown op %q", errors.ErrInvalidFrame, i, entry.Op),
				"Frame", "NewPatch", "construct patch frame")
		}
	}

	patches := make([]PatchEntry, len(entries))
	copy(patches, entries)

	f := Frame{
		streamID:  streamID,
		kind:      KindPatch,
		sequence:  sequence,
		priority:  prio,
		timestamp: time.Now(),
		patches:   patches,
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f, nil
}

// NewComplete creates the terminal success frame. The checksum is
// optional ("" means none) and is computed by a collaborator, never by
// the frame itself.
func NewComplete(streamID string, sequence uint64, checksum string, opts ...Option) Frame {
	f := Frame{
		streamID:  streamID,
		kind:      KindComplete,
		sequence:  sequence,
		priority:  priority.Critical,
		timestamp: time.Now(),
		checksum:  checksum,
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// NewError creates the terminal failure frame. The message is required;
// the code is optional.
func NewError(streamID string, sequence uint64, message, code string, opts ...Option) (Frame, error) {
	if message == "" {
		return Frame{}, errors.WrapInvalid(
			fmt.Errorf("%w: error frame requires a message", errors.ErrInvalidFrame),
			"Frame", "NewError", "construct error frame")
	}
	f := Frame{
		streamID:  streamID,
		kind:      KindError,
		sequence:  sequence,
		priority:  priority.Critical,
		timestamp: time.Now(),
		message:   message,
		code:      code,
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f, nil
}

// StreamID returns the owning stream's identifier.
func (f Frame) StreamID() string { return f.streamID }

// Kind returns the frame variant.
func (f Frame) Kind() Kind { return f.kind }

// Sequence returns the frame's position in the stream, starting at 1.
func (f Frame) Sequence() uint64 { return f.sequence }

// Priority returns the frame's delivery priority.
func (f Frame) Priority() priority.Priority { return f.priority }

// Timestamp returns the frame's creation time. Informational only; the
// sequence number is the sole ordering guarantee.
func (f Frame) Timestamp() time.Time { return f.timestamp }

// Metadata returns a copy of the frame's metadata, or nil.
func (f Frame) Metadata() map[string]string {
	if len(f.metadata) == 0 {
		return nil
	}
	meta := make(map[string]string, len(f.metadata))
	for k, v := range f.metadata {
		meta[k] = v
	}
	return meta
}

// Terminal reports whether the frame ends its stream.
func (f Frame) Terminal() bool { return f.kind.Terminal() }

// Skeleton returns the zeroed document shape of a skeleton frame, nil
// for other kinds.
func (f Frame) Skeleton() any { return f.skeleton }

// Patches returns the entries of a patch frame in discovery order, nil
// for other kinds. Callers must not mutate the returned slice.
func (f Frame) Patches() []PatchEntry { return f.patches }

// Checksum returns the optional checksum of a complete frame.
func (f Frame) Checksum() string { return f.checksum }

// ErrorMessage returns the message and code of an error frame.
func (f Frame) ErrorMessage() (message, code string) { return f.message, f.code }

// Validate enforces the frame legality invariants: terminal and skeleton
// frames are Critical, patch frames are non-empty with known ops and a
// valid priority, error frames carry a message, and every frame names
// its stream and a positive sequence.
func (f Frame) Validate() error {
	if f.streamID == "" {
		return f.invalid("frame must belong to a stream")
	}
	if f.sequence == 0 {
		return f.invalid("sequence numbers start at 1")
	}
	if !f.kind.Valid() {
		return f.invalid(fmt.Sprintf("unknown kind %q", f.kind))
	}

	switch f.kind {
	case KindSkeleton, KindComplete:
		if f.priority != priority.Critical {
			return f.invalid(string(f.kind) + " frames must be Critical priority")
		}
	case KindError:
		if f.priority != priority.Critical {
			return f.invalid("error frames must be Critical priority")
		}
		if f.message == "" {
			return f.invalid("error frames require a message")
		}
	case KindPatch:
		if !f.priority.Valid() {
			return f.invalid("patch frames require a valid priority")
		}
		if len(f.patches) == 0 {
			return f.invalid("patch frames require at least one entry")
		}
		for i, entry := range f.patches {
			if !entry.Op.Valid() {
				return f.invalid(fmt.Sprintf("entry %d has unknown op %q", i, entry.Op))
			}
		}
	}
	return nil
}

func (f Frame) invalid(detail string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidFrame, detail),
		"Frame", "Validate", "validate frame")
}
