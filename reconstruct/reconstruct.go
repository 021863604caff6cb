// Package reconstruct rebuilds a JSON document from its frame sequence
// on the receiving side. Frames are applied strictly in sequence order;
// after every successfully applied frame the accumulated state is a
// well-formed (possibly incomplete) JSON value, so a consumer can render
// partial state at any point during delivery.
//
// A Reconstructor is synchronous and pure: no I/O, no internal
// concurrency. Each frame sequence needs its own instance; instances are
// not safe for concurrent use.
package reconstruct

import (
	"fmt"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/frame"
	"github.com/c360/pjstream/jsonpath"
)

// Summer verifies document checksums carried by complete frames.
type Summer interface {
	Sum(value any) (string, error)
}

// Reconstructor folds an ordered frame sequence back into a JSON value.
type Reconstructor struct {
	state    any
	lastSeq  uint64
	frames   int
	complete bool
	failed   bool
	message  string
	code     string
	summer   Summer
}

// Option configures optional reconstructor collaborators.
type Option func(*Reconstructor)

// WithChecksum enables verification of the digest carried by the
// complete frame. Without it, checksums are recorded but not checked.
func WithChecksum(s Summer) Option {
	return func(r *Reconstructor) {
		r.summer = s
	}
}

// New returns an empty Reconstructor awaiting sequence 1.
func New(opts ...Option) *Reconstructor {
	r := &Reconstructor{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddFrame applies the next frame. The sequence must be exactly one past
// the last applied frame; gaps and replays fail with ErrOutOfOrder. The
// check is a guard against transport bugs, not a reorder buffer: the
// transport owns in-order delivery.
//
// Frames after a complete or error frame are rejected.
func (r *Reconstructor) AddFrame(f frame.Frame) error {
	if r.complete || r.failed {
		return errors.WrapInvalid(
			fmt.Errorf("%w: stream already terminated", errors.ErrInvalidFrame),
			"Reconstructor", "AddFrame", "check stream state")
	}
	if err := f.Validate(); err != nil {
		return errors.Wrap(err, "Reconstructor", "AddFrame", "validate frame")
	}
	if want := r.lastSeq + 1; f.Sequence() != want {
		return errors.WrapInvalid(
			fmt.Errorf("%w: got sequence %d, want %d", errors.ErrOutOfOrder, f.Sequence(), want),
			"Reconstructor", "AddFrame", "check sequence")
	}

	switch f.Kind() {
	case frame.KindSkeleton:
		r.state = clone(f.Skeleton())

	case frame.KindPatch:
		for _, entry := range f.Patches() {
			r.apply(entry)
		}

	case frame.KindComplete:
		if err := r.verify(f.Checksum()); err != nil {
			return err
		}
		r.complete = true

	case frame.KindError:
		r.failed = true
		r.message, r.code = f.ErrorMessage()
	}

	r.lastSeq = f.Sequence()
	r.frames++
	return nil
}

// CurrentState returns the accumulated document. It is valid JSON after
// every applied frame. The returned value is the live tree; callers must
// treat it as read-only.
func (r *Reconstructor) CurrentState() any { return r.state }

// FrameCount returns the number of frames applied so far.
func (r *Reconstructor) FrameCount() int { return r.frames }

// LastSequence returns the sequence number of the last applied frame,
// zero before the first.
func (r *Reconstructor) LastSequence() uint64 { return r.lastSeq }

// Complete reports whether the complete frame has been applied.
func (r *Reconstructor) Complete() bool { return r.complete }

// Failed reports whether an error frame terminated the stream, and with
// what message.
func (r *Reconstructor) Failed() (string, bool) { return r.message, r.failed }

// ErrorCode returns the producer's error code, empty unless failed.
func (r *Reconstructor) ErrorCode() string { return r.code }

// verify checks the complete frame's digest against the accumulated
// state. No summer or no digest means nothing to verify.
func (r *Reconstructor) verify(checksum string) error {
	if r.summer == nil || checksum == "" {
		return nil
	}
	digest, err := r.summer.Sum(r.state)
	if err != nil {
		return errors.Wrap(err, "Reconstructor", "AddFrame", "compute checksum")
	}
	if digest != checksum {
		return errors.WrapInvalid(
			fmt.Errorf("%w: got %s, want %s", errors.ErrChecksumFailed, digest, checksum),
			"Reconstructor", "AddFrame", "verify checksum")
	}
	return nil
}

// apply merges one patch entry into the accumulated state. Merge rules
// by current state at the target path:
//
//   - uninitialized target: adopt the payload
//   - object target, set/merge with object payload: key-wise overwrite
//   - array target, append payload: extend in arrival order
//   - anything else: replace wholesale
//
// Values are cloned on the way in so frames shared with a producer-side
// plan are never aliased.
func (r *Reconstructor) apply(entry frame.PatchEntry) {
	segs := entry.Path.Segments()
	switch entry.Op {
	case frame.OpSet:
		r.state = setValue(r.state, segs, entry.Value)
	case frame.OpAppend:
		r.state = appendValue(r.state, segs, entry.Value)
	case frame.OpMerge:
		r.state = mergeValue(r.state, segs, entry.Value)
	case frame.OpDelete:
		r.state = deleteValue(r.state, segs)
	}
}

// setValue writes value at the path, creating missing intermediate
// objects and padding short arrays. A container of the wrong shape is
// replaced wholesale.
func setValue(cur any, segs []jsonpath.Segment, value any) any {
	if len(segs) == 0 {
		return clone(value)
	}

	seg := segs[0]
	switch seg.Kind() {
	case jsonpath.KindKey:
		m, ok := cur.(map[string]any)
		if !ok {
			m = make(map[string]any)
		}
		m[seg.Key()] = setValue(m[seg.Key()], segs[1:], value)
		return m

	case jsonpath.KindIndex:
		arr, _ := cur.([]any)
		for len(arr) <= seg.Index() {
			arr = append(arr, nil)
		}
		arr[seg.Index()] = setValue(arr[seg.Index()], segs[1:], value)
		return arr

	case jsonpath.KindWildcard:
		switch c := cur.(type) {
		case []any:
			for i := range c {
				c[i] = setValue(c[i], segs[1:], value)
			}
			return c
		case map[string]any:
			for k := range c {
				c[k] = setValue(c[k], segs[1:], value)
			}
			return c
		}
		// nothing to match
		return cur
	}
	return cur
}

// appendValue extends the array at the path by one element. A missing
// target becomes a one-element array; a non-array target is replaced by
// one.
func appendValue(cur any, segs []jsonpath.Segment, value any) any {
	if len(segs) == 0 {
		arr, _ := cur.([]any)
		return append(arr, clone(value))
	}

	seg := segs[0]
	switch seg.Kind() {
	case jsonpath.KindKey:
		m, ok := cur.(map[string]any)
		if !ok {
			m = make(map[string]any)
		}
		m[seg.Key()] = appendValue(m[seg.Key()], segs[1:], value)
		return m

	case jsonpath.KindIndex:
		arr, _ := cur.([]any)
		for len(arr) <= seg.Index() {
			arr = append(arr, nil)
		}
		arr[seg.Index()] = appendValue(arr[seg.Index()], segs[1:], value)
		return arr

	case jsonpath.KindWildcard:
		switch c := cur.(type) {
		case []any:
			for i := range c {
				c[i] = appendValue(c[i], segs[1:], value)
			}
			return c
		case map[string]any:
			for k := range c {
				c[k] = appendValue(c[k], segs[1:], value)
			}
			return c
		}
		return cur
	}
	return cur
}

// mergeValue performs a key-wise insert/overwrite of an object payload
// into the object at the path. Either side not an object degrades to
// set semantics (replace wholesale).
func mergeValue(cur any, segs []jsonpath.Segment, value any) any {
	if len(segs) == 0 {
		patch, ok := value.(map[string]any)
		if !ok {
			return clone(value)
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return clone(value)
		}
		for k, v := range patch {
			m[k] = clone(v)
		}
		return m
	}

	seg := segs[0]
	switch seg.Kind() {
	case jsonpath.KindKey:
		m, ok := cur.(map[string]any)
		if !ok {
			m = make(map[string]any)
		}
		m[seg.Key()] = mergeValue(m[seg.Key()], segs[1:], value)
		return m

	case jsonpath.KindIndex:
		arr, _ := cur.([]any)
		for len(arr) <= seg.Index() {
			arr = append(arr, nil)
		}
		arr[seg.Index()] = mergeValue(arr[seg.Index()], segs[1:], value)
		return arr

	case jsonpath.KindWildcard:
		switch c := cur.(type) {
		case []any:
			for i := range c {
				c[i] = mergeValue(c[i], segs[1:], value)
			}
			return c
		case map[string]any:
			for k := range c {
				c[k] = mergeValue(c[k], segs[1:], value)
			}
			return c
		}
		return cur
	}
	return cur
}

// deleteValue removes the value at the path. Deleting the root resets
// the state to uninitialized; deleting an array index splices the
// element out; missing targets are a no-op.
func deleteValue(cur any, segs []jsonpath.Segment) any {
	if len(segs) == 0 {
		return nil
	}

	seg := segs[0]
	if len(segs) == 1 {
		switch seg.Kind() {
		case jsonpath.KindKey:
			if m, ok := cur.(map[string]any); ok {
				delete(m, seg.Key())
			}
			return cur
		case jsonpath.KindIndex:
			if arr, ok := cur.([]any); ok && seg.Index() < len(arr) {
				return append(arr[:seg.Index()], arr[seg.Index()+1:]...)
			}
			return cur
		case jsonpath.KindWildcard:
			switch c := cur.(type) {
			case []any:
				return []any{}
			case map[string]any:
				for k := range c {
					delete(c, k)
				}
				return c
			}
			return cur
		}
	}

	switch seg.Kind() {
	case jsonpath.KindKey:
		if m, ok := cur.(map[string]any); ok {
			if child, exists := m[seg.Key()]; exists {
				m[seg.Key()] = deleteValue(child, segs[1:])
			}
		}
		return cur
	case jsonpath.KindIndex:
		if arr, ok := cur.([]any); ok && seg.Index() < len(arr) {
			arr[seg.Index()] = deleteValue(arr[seg.Index()], segs[1:])
		}
		return cur
	case jsonpath.KindWildcard:
		switch c := cur.(type) {
		case []any:
			for i := range c {
				c[i] = deleteValue(c[i], segs[1:])
			}
		case map[string]any:
			for k := range c {
				c[k] = deleteValue(c[k], segs[1:])
			}
		}
		return cur
	}
	return cur
}

// clone deep-copies a canonical JSON value. Primitives are immutable and
// pass through.
func clone(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = clone(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = clone(e)
		}
		return out
	default:
		return v
	}
}
