package analyzer

import (
	"fmt"

	"github.com/c360/pjstream/errors"
)

// Default security limits. Generous enough for real documents, tight
// enough to reject hostile ones before they cost anything.
const (
	DefaultMaxDepth      = 64
	DefaultMaxArrayLen   = 10_000
	DefaultMaxObjectKeys = 1_000
	DefaultMaxStringLen  = 1 << 20 // 1 MiB
)

// Limits bounds the documents the analyzer accepts. Every violation
// fails with its own sentinel (ErrDepthLimit, ErrArrayLimit,
// ErrObjectLimit, ErrStringLimit) so callers can report precisely which
// bound was hit. A limit of zero means "use the default".
type Limits struct {
	MaxDepth      int `json:"max_depth" yaml:"max_depth"`
	MaxArrayLen   int `json:"max_array_len" yaml:"max_array_len"`
	MaxObjectKeys int `json:"max_object_keys" yaml:"max_object_keys"`
	MaxStringLen  int `json:"max_string_len" yaml:"max_string_len"`
}

// DefaultLimits returns the default security limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:      DefaultMaxDepth,
		MaxArrayLen:   DefaultMaxArrayLen,
		MaxObjectKeys: DefaultMaxObjectKeys,
		MaxStringLen:  DefaultMaxStringLen,
	}
}

// withDefaults fills zero fields so a partially specified Limits value
// never means "unlimited".
func (l Limits) withDefaults() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxArrayLen <= 0 {
		l.MaxArrayLen = DefaultMaxArrayLen
	}
	if l.MaxObjectKeys <= 0 {
		l.MaxObjectKeys = DefaultMaxObjectKeys
	}
	if l.MaxStringLen <= 0 {
		l.MaxStringLen = DefaultMaxStringLen
	}
	return l
}

// Check walks the value and verifies every bound. It rejects before any
// analysis happens: an oversized document never produces a skeleton,
// never a partial result. Object keys count against the string limit
// like any other string.
func (l Limits) Check(value any) error {
	return l.withDefaults().checkValue(value, 0)
}

// checkValue recursively validates a JSON value. The explicit depth
// counter is the stack-exhaustion guard: descent stops at MaxDepth no
// matter how the input nests.
func (l Limits) checkValue(value any, depth int) error {
	if depth > l.MaxDepth {
		return limitError(errors.ErrDepthLimit, depth, l.MaxDepth)
	}

	switch v := value.(type) {
	case string:
		if len(v) > l.MaxStringLen {
			return limitError(errors.ErrStringLimit, len(v), l.MaxStringLen)
		}

	case []any:
		if len(v) > l.MaxArrayLen {
			return limitError(errors.ErrArrayLimit, len(v), l.MaxArrayLen)
		}
		for i, elem := range v {
			if err := l.checkValue(elem, depth+1); err != nil {
				return errors.Wrap(err, "Limits", "Check", fmt.Sprintf("array element %d", i))
			}
		}

	case map[string]any:
		if len(v) > l.MaxObjectKeys {
			return limitError(errors.ErrObjectLimit, len(v), l.MaxObjectKeys)
		}
		for key, elem := range v {
			if len(key) > l.MaxStringLen {
				return limitError(errors.ErrStringLimit, len(key), l.MaxStringLen)
			}
			if err := l.checkValue(elem, depth+1); err != nil {
				return errors.Wrap(err, "Limits", "Check", fmt.Sprintf("object field %q", key))
			}
		}

	case float64, bool, nil:
		// Always within bounds.

	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unexpected type %T", errors.ErrInvalidInput, value),
			"Limits", "Check", "type check")
	}

	return nil
}

func limitError(sentinel error, got, max int) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %d exceeds maximum %d", sentinel, got, max),
		"Limits", "Check", "enforce security limits")
}
