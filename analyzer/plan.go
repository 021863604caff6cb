package analyzer

import (
	"github.com/c360/pjstream/frame"
)

// Plan is the ordered, finite frame queue produced by analyzing one
// document: skeleton first, patch frames in priority order, terminal
// frame last. Frames are consumed by popping; a Plan is not restartable.
// Re-analysis requires a fresh Analyze call.
//
// A Plan is not safe for concurrent use; its owning stream serializes
// access.
type Plan struct {
	frames       []frame.Frame
	position     int
	patchEntries int
}

// Next pops the next frame in delivery order. The second return is false
// once the plan is exhausted.
func (p *Plan) Next() (frame.Frame, bool) {
	if p.position >= len(p.frames) {
		return frame.Frame{}, false
	}
	f := p.frames[p.position]
	p.position++
	return f, true
}

// Peek returns the next frame without consuming it.
func (p *Plan) Peek() (frame.Frame, bool) {
	if p.position >= len(p.frames) {
		return frame.Frame{}, false
	}
	return p.frames[p.position], true
}

// Len returns the number of frames not yet consumed.
func (p *Plan) Len() int {
	return len(p.frames) - p.position
}

// FrameCount returns the total number of frames the plan was built with,
// regardless of how many have been consumed.
func (p *Plan) FrameCount() int {
	return len(p.frames)
}

// PatchEntryCount returns the total number of patch entries across all
// patch frames. Diagnostic only.
func (p *Plan) PatchEntryCount() int {
	return p.patchEntries
}

// Exhausted reports whether every frame has been consumed.
func (p *Plan) Exhausted() bool {
	return p.position >= len(p.frames)
}

// Snapshot captures the plan's frames and delivery position for
// persistence. Frames serialize through their wire format.
type Snapshot struct {
	Frames       []frame.Frame `json:"frames"`
	Position     int           `json:"position"`
	PatchEntries int           `json:"patch_entries"`
}

// Snapshot returns a persistable copy of the plan's state.
func (p *Plan) Snapshot() Snapshot {
	frames := make([]frame.Frame, len(p.frames))
	copy(frames, p.frames)
	return Snapshot{
		Frames:       frames,
		Position:     p.position,
		PatchEntries: p.patchEntries,
	}
}

// FromSnapshot rebuilds a plan from a persisted snapshot, resuming
// delivery at the recorded position.
func FromSnapshot(s Snapshot) *Plan {
	frames := make([]frame.Frame, len(s.Frames))
	copy(frames, s.Frames)
	position := s.Position
	if position < 0 {
		position = 0
	}
	if position > len(frames) {
		position = len(frames)
	}
	return &Plan{
		frames:       frames,
		position:     position,
		patchEntries: s.PatchEntries,
	}
}
