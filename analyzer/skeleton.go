package analyzer

// Skeleton returns a value with the same shape as the input but every
// leaf replaced by its type's zero: strings and nulls become nil,
// numbers 0, booleans false. Arrays become empty arrays (their elements
// arrive later as patches); objects keep their keys and recurse.
//
// Skeleton assumes the input already passed Limits.Check; Analyze always
// enforces that order, so an oversized document never produces a
// skeleton at all.
func Skeleton(value any) any {
	switch v := value.(type) {
	case map[string]any:
		shape := make(map[string]any, len(v))
		for key, elem := range v {
			shape[key] = Skeleton(elem)
		}
		return shape
	case []any:
		return []any{}
	case float64:
		return float64(0)
	case bool:
		return false
	default:
		// strings, nulls, and anything exotic all zero to null
		return nil
	}
}
