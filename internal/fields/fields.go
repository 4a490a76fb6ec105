// Package fields implements the merge semantics shared by span records
// and the span buffer.
//
// Merging is last-writer-wins per key: a later value replaces an earlier
// one, a key absent from the update never erases prior state, and when
// both sides hold a map the maps merge recursively key by key.
package fields

// Merge folds src into dst in place and returns dst.
//
// dst may be nil, in which case a new map is allocated. Values taken
// from src are deep-copied so later mutation of src cannot alias into
// the merged result.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for key, val := range src {
		sub, ok := val.(map[string]any)
		if !ok {
			dst[key] = cloneValue(val)
			continue
		}
		prev, ok := dst[key].(map[string]any)
		if !ok {
			dst[key] = Clone(sub)
			continue
		}
		Merge(prev, sub)
	}
	return dst
}

// Clone returns a deep copy of m. Nested maps and slices are copied,
// scalar values are shared.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, val := range m {
		out[key] = cloneValue(val)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return Clone(tv)
	case []any:
		out := make([]any, len(tv))
		for i, el := range tv {
			out[i] = cloneValue(el)
		}
		return out
	default:
		return v
	}
}
