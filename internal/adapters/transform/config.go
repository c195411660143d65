package transform

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

func stringField(m map[string]interface{}, key string) (string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, raw)
	}
	return s, nil
}

func boolField(m map[string]interface{}, key string) (bool, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean, got %T", key, raw)
	}
	return b, nil
}

func mapField(m map[string]interface{}, key string) (map[string]interface{}, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	out, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object, got %T", key, raw)
	}
	return out, nil
}

func listField(m map[string]interface{}, key string) ([]interface{}, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	out, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be a list, got %T", key, raw)
	}
	return out, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func intParam(params map[string]interface{}, key string, fallback int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	n, ok := toNumber(raw)
	if !ok || n != math.Trunc(n) {
		return 0, fmt.Errorf("parameter %s must be an integer", key)
	}
	return int(n), nil
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}
