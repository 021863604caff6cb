// Package priority implements the bounded priority scale that orders
// patch delivery, together with the rule set and assigner that map
// document fields onto it.
//
// A Priority is a value in [1, 255]. Five named tiers give the scale its
// coarse shape (Critical > High > Medium > Low > Background); arithmetic
// between tiers saturates at the bounds and can never produce zero, so
// every adjusted priority stays valid.
package priority

import (
	"fmt"
	"strconv"

	"github.com/c360/pjstream/errors"
)

// Priority is a bounded importance level. Higher values deliver first.
// The zero value is invalid; construct with New or use a tier constant.
type Priority uint8

// Named tiers. The ordering Critical > High > Medium > Low > Background
// is fixed; the gaps leave room for rule sets that fine-tune between
// tiers.
const (
	Background Priority = 10
	Low        Priority = 20
	Medium     Priority = 50
	High       Priority = 80
	Critical   Priority = 100
)

// Scale bounds.
const (
	MinValue Priority = 1
	MaxValue Priority = 255
)

// New validates v and returns it as a Priority. Zero and out-of-range
// values fail with ErrInvalidPriority.
func New(v int) (Priority, error) {
	if v < int(MinValue) || v > int(MaxValue) {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: %d not in [%d, %d]", errors.ErrInvalidPriority, v, MinValue, MaxValue),
			"Priority", "New", "validate priority value")
	}
	return Priority(v), nil
}

// Value returns the numeric level.
func (p Priority) Value() uint8 { return uint8(p) }

// Valid reports whether the priority is inside the scale. Only the zero
// value is invalid for the uint8 representation.
func (p Priority) Valid() bool { return p >= MinValue }

// IncreaseBy returns the priority raised by delta, saturating at MaxValue.
func (p Priority) IncreaseBy(delta uint8) Priority {
	if uint8(MaxValue)-uint8(p) < delta {
		return MaxValue
	}
	return p + Priority(delta)
}

// DecreaseBy returns the priority lowered by delta, saturating at
// MinValue. The result is never zero.
func (p Priority) DecreaseBy(delta uint8) Priority {
	if uint8(p) <= delta {
		return MinValue
	}
	return p - Priority(delta)
}

// Compare returns -1, 0, or 1 as p is lower than, equal to, or higher
// than other.
func (p Priority) Compare(other Priority) int {
	switch {
	case p < other:
		return -1
	case p > other:
		return 1
	default:
		return 0
	}
}

// Less reports whether p delivers after other.
func (p Priority) Less(other Priority) bool { return p < other }

// Tier returns the highest named tier at or below p. Values under
// Background collapse to Background, so every priority maps to a tier.
func (p Priority) Tier() Priority {
	switch {
	case p >= Critical:
		return Critical
	case p >= High:
		return High
	case p >= Medium:
		return Medium
	case p >= Low:
		return Low
	default:
		return Background
	}
}

// String returns the tier name for exact tier values and the decimal
// level otherwise. Useful for logs and metric labels.
func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	case Background:
		return "background"
	default:
		return strconv.Itoa(int(p))
	}
}
