package datastore

import "fmt"

// Normalize rewrites the interface-keyed maps produced by YAML decoding into
// string-keyed maps so query bodies and record sources have one canonical
// shape regardless of whether they were loaded from YAML or JSON.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = Normalize(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	default:
		return v
	}
}

// NormalizeMap is Normalize constrained to map results.
func NormalizeMap(v interface{}) (Map, bool) {
	m, ok := Normalize(v).(map[string]interface{})
	return m, ok
}

// DeepCopyMap clones a nested map so templated variants can be rendered
// without contaminating the parsed original.
func DeepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return DeepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
