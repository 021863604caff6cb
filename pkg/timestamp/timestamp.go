// Package timestamp converts between time.Time and the unix-millisecond
// integers every PJS wire format carries.
//
// Frames, session snapshots, and events all serialize moments as int64
// milliseconds since the Unix epoch. Aggregates keep time.Time; these
// helpers sit exactly at the marshal boundary.
//
// Zero is "not set" on both sides: a zero time.Time serializes to 0,
// and 0 deserializes to a zero time.Time. This keeps optional fields
// (ActivatedAt before activation, ClosedAt while open) out of the wire
// payload without sentinel constants.
package timestamp

import "time"

// ToUnixMs converts a time.Time to unix milliseconds. The zero time
// maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts unix milliseconds to a time.Time. 0 maps to the
// zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
