package priority

import (
	"fmt"

	"github.com/c360/pjstream/errors"
)

// Rules configures the assigner. Field-name rules always win over
// content and depth heuristics; that precedence is fixed and not
// configurable. A Rules value is treated as immutable once handed to
// NewAssigner; share it freely, or Clone it first when a caller needs
// to derive a variant (per tenant, per session).
type Rules struct {
	// CriticalFields and HighFields match a field's name exactly
	// (case-insensitive).
	CriticalFields []string `json:"critical_fields" yaml:"critical_fields"`
	HighFields     []string `json:"high_fields" yaml:"high_fields"`

	// LowPatterns and BackgroundPatterns match when the pattern occurs
	// anywhere in the field name (case-insensitive substring).
	LowPatterns        []string `json:"low_patterns" yaml:"low_patterns"`
	BackgroundPatterns []string `json:"background_patterns" yaml:"background_patterns"`

	// Content heuristics, applied only when no name rule matched.
	// Arrays longer than LongArrayThreshold sink to Background; strings
	// longer than LongStringThreshold sink to Low.
	LongArrayThreshold  int `json:"long_array_threshold" yaml:"long_array_threshold"`
	LongStringThreshold int `json:"long_string_threshold" yaml:"long_string_threshold"`

	// Array-element rules used by ArrayPriority. Arrays longer than
	// ArrayLengthThreshold force Background regardless of name.
	ArrayLengthThreshold  int      `json:"array_length_threshold" yaml:"array_length_threshold"`
	BackgroundArrayFields []string `json:"background_array_fields" yaml:"background_array_fields"`
	MediumArrayFields     []string `json:"medium_array_fields" yaml:"medium_array_fields"`
}

// DefaultRules returns the built-in rule set. The field lists reflect
// what UIs consistently need first: identity and labeling fields render
// immediately, long prose can wait, and feed-like collections (reviews,
// comments, logs) arrive last.
func DefaultRules() Rules {
	return Rules{
		CriticalFields: []string{"id", "uuid", "name", "title", "type", "status", "error"},
		HighFields: []string{
			"summary", "label", "heading", "author", "username", "email",
			"price", "total", "count",
		},
		LowPatterns: []string{
			"description", "bio", "detail", "content", "body", "text", "metadata",
		},
		BackgroundPatterns: []string{
			"reviews", "comments", "logs", "history", "audit", "debug", "trace", "analytics",
		},
		LongArrayThreshold:    100,
		LongStringThreshold:   1000,
		ArrayLengthThreshold:  50,
		BackgroundArrayFields: []string{"reviews", "comments", "logs"},
		MediumArrayFields:     []string{"items", "data", "results"},
	}
}

// Clone returns a deep copy so the caller can modify lists without
// affecting assigners already built from the original.
func (r Rules) Clone() Rules {
	clone := r
	clone.CriticalFields = cloneStrings(r.CriticalFields)
	clone.HighFields = cloneStrings(r.HighFields)
	clone.LowPatterns = cloneStrings(r.LowPatterns)
	clone.BackgroundPatterns = cloneStrings(r.BackgroundPatterns)
	clone.BackgroundArrayFields = cloneStrings(r.BackgroundArrayFields)
	clone.MediumArrayFields = cloneStrings(r.MediumArrayFields)
	return clone
}

// Validate checks threshold sanity. Zero thresholds are allowed and mean
// "use the default"; negative values are configuration errors.
func (r Rules) Validate() error {
	if r.LongArrayThreshold < 0 {
		return invalidRule("long_array_threshold", r.LongArrayThreshold)
	}
	if r.LongStringThreshold < 0 {
		return invalidRule("long_string_threshold", r.LongStringThreshold)
	}
	if r.ArrayLengthThreshold < 0 {
		return invalidRule("array_length_threshold", r.ArrayLengthThreshold)
	}
	return nil
}

func invalidRule(field string, value int) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s must not be negative, got %d", errors.ErrInvalidConfig, field, value),
		"Rules", "Validate", "validate thresholds")
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
