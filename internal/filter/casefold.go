package filter

import "strings"

// FoldRecord builds a case-insensitive view of a JSON-shaped record: every
// map key, at every nesting level, is lowercased while values keep their
// original shape. SCIM attribute names are case-insensitive, so the evaluator
// looks keys up by their lowercased form. Build the view once per record, not
// per comparison.
func FoldRecord(record map[string]any) map[string]any {
	folded := make(map[string]any, len(record))
	for k, v := range record {
		folded[strings.ToLower(k)] = foldValue(v)
	}
	return folded
}

func foldValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return FoldRecord(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = foldValue(elem)
		}
		return out
	default:
		return v
	}
}
