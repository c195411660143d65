package domain

import (
	"fmt"

	"dario.cat/mergo"
)

// MergeConfig returns a fresh map holding defaults overlaid by overrides.
// Nested maps are merged recursively; slices and scalars from overrides win.
func MergeConfig(defaults, overrides map[string]interface{}) (map[string]interface{}, error) {
	merged := CloneMap(overrides)
	if merged == nil {
		merged = make(map[string]interface{})
	}

	if len(defaults) == 0 {
		return merged, nil
	}

	if err := mergo.Merge(&merged, CloneMap(defaults)); err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}
	return merged, nil
}

// DeepMerge merges src into dst, src winning on conflicts and slices appended.
func DeepMerge(dst, src map[string]interface{}) error {
	if err := mergo.Merge(&dst, CloneMap(src), mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return fmt.Errorf("deep merge: %w", err)
	}
	return nil
}

// ShallowMerge copies the top-level keys of every source into a new map in
// order, later sources overriding earlier ones.
func ShallowMerge(sources ...map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, src := range sources {
		for k, v := range src {
			merged[k] = v
		}
	}
	return merged
}

func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies JSON-shaped values. Other values are returned as is.
func CloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

func isObject(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}
