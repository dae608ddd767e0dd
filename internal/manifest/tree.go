package manifest

import (
	"encoding/json"
	"fmt"
)

// DeepCopyValue returns a deep copy of a generic YAML/JSON value.
func DeepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, val := range v {
			result[k] = DeepCopyValue(val)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = DeepCopyValue(val)
		}
		return result
	case []string:
		result := make([]string, len(v))
		copy(result, v)
		return result
	default:
		// Scalars are immutable
		return value
	}
}

// NestedMap walks fields and returns the map found there.
func NestedMap(obj map[string]any, fields ...string) (map[string]any, bool) {
	cur := obj
	for _, field := range fields {
		next, ok := cur[field].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// NestedString returns the string at fields.
func NestedString(obj map[string]any, fields ...string) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}
	parent, ok := NestedMap(obj, fields[:len(fields)-1]...)
	if !ok {
		return "", false
	}
	s, ok := parent[fields[len(fields)-1]].(string)
	return s, ok
}

// SetNested sets value at fields, creating intermediate maps as needed.
// Non-map values in the way are overwritten.
func SetNested(obj map[string]any, value any, fields ...string) {
	cur := obj
	for _, field := range fields[:len(fields)-1] {
		next, ok := cur[field].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[field] = next
		}
		cur = next
	}
	cur[fields[len(fields)-1]] = value
}

// Normalize converts a decoded value into the canonical tree shape:
// map[string]any for objects, []any for lists, int for integral numbers.
func Normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for k, val := range v {
			v[k] = Normalize(val)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []any:
		for i, val := range v {
			v[i] = Normalize(val)
		}
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case int64:
		return int(v)
	case uint64:
		return int(v)
	default:
		return value
	}
}
