package priority

import (
	"strings"

	"github.com/c360/pjstream/jsonpath"
)

// Assigner maps (path, value) pairs to priorities using a compiled rule
// set. Assignment is pure and total: it never fails and never mutates
// state, so one Assigner may serve any number of concurrent analyses.
type Assigner struct {
	critical map[string]struct{}
	high     map[string]struct{}

	lowPatterns        []string
	backgroundPatterns []string

	longArrayThreshold  int
	longStringThreshold int

	arrayLengthThreshold  int
	backgroundArrayFields map[string]struct{}
	mediumArrayFields     map[string]struct{}
}

// NewAssigner compiles rules into an Assigner. Zero thresholds fall back
// to the defaults so a partially specified rule set behaves sensibly.
func NewAssigner(rules Rules) *Assigner {
	defaults := DefaultRules()
	a := &Assigner{
		critical:              toSet(rules.CriticalFields),
		high:                  toSet(rules.HighFields),
		lowPatterns:           toLower(rules.LowPatterns),
		backgroundPatterns:    toLower(rules.BackgroundPatterns),
		longArrayThreshold:    rules.LongArrayThreshold,
		longStringThreshold:   rules.LongStringThreshold,
		arrayLengthThreshold:  rules.ArrayLengthThreshold,
		backgroundArrayFields: toSet(rules.BackgroundArrayFields),
		mediumArrayFields:     toSet(rules.MediumArrayFields),
	}
	if a.longArrayThreshold <= 0 {
		a.longArrayThreshold = defaults.LongArrayThreshold
	}
	if a.longStringThreshold <= 0 {
		a.longStringThreshold = defaults.LongStringThreshold
	}
	if a.arrayLengthThreshold <= 0 {
		a.arrayLengthThreshold = defaults.ArrayLengthThreshold
	}
	return a
}

// FieldPriority resolves the priority of the field at path holding value.
//
// Resolution order is fixed: exact critical names, exact high names, low
// substring patterns, background substring patterns, content heuristics
// (long arrays, long strings, timestamped objects), then depth. Name
// rules always win over content and depth.
//
// The analyzer recurses into objects instead of emitting them as
// patch values, so plan output never reaches the timestamped-object
// branch; it applies only to callers assigning priorities to whole
// objects themselves.
func (a *Assigner) FieldPriority(path jsonpath.Path, value any) Priority {
	name := fieldName(path)

	if name != "" {
		if _, ok := a.critical[name]; ok {
			return Critical
		}
		if _, ok := a.high[name]; ok {
			return High
		}
		for _, pattern := range a.lowPatterns {
			if strings.Contains(name, pattern) {
				return Low
			}
		}
		for _, pattern := range a.backgroundPatterns {
			if strings.Contains(name, pattern) {
				return Background
			}
		}
	}

	switch v := value.(type) {
	case []any:
		if len(v) > a.longArrayThreshold {
			return Background
		}
	case string:
		if len(v) > a.longStringThreshold {
			return Low
		}
	case map[string]any:
		if hasTimestampKey(v) {
			return Medium
		}
	}

	switch depth := path.Depth(); {
	case depth <= 1:
		return High
	case depth <= 3:
		return Medium
	default:
		return Low
	}
}

// ArrayPriority resolves the priority for the elements of the array at
// path. Oversized arrays always sink to Background; otherwise the array
// field's name decides, defaulting to Medium.
func (a *Assigner) ArrayPriority(path jsonpath.Path, elements []any) Priority {
	if len(elements) > a.arrayLengthThreshold {
		return Background
	}

	name := fieldName(path)
	if name != "" {
		if _, ok := a.backgroundArrayFields[name]; ok {
			return Background
		}
		if _, ok := a.mediumArrayFields[name]; ok {
			return Medium
		}
	}
	return Medium
}

// fieldName returns the lowercased name of the nearest key segment,
// walking from the leaf toward the root. Array element paths inherit the
// array field's name; the root has none.
func fieldName(path jsonpath.Path) string {
	segs := path.Segments()
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i].Kind() == jsonpath.KindKey {
			return strings.ToLower(segs[i].Key())
		}
	}
	return ""
}

// hasTimestampKey reports whether the object carries a timestamp-like
// member: "timestamp", "time", "date", or any "*_at" key.
func hasTimestampKey(obj map[string]any) bool {
	for key := range obj {
		lower := strings.ToLower(key)
		switch lower {
		case "timestamp", "time", "date":
			return true
		}
		if strings.HasSuffix(lower, "_at") {
			return true
		}
	}
	return false
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

func toLower(patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = strings.ToLower(p)
	}
	return out
}
