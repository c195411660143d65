package domain

import (
	"strconv"
	"strings"
)

// LookupPath walks a dotted path such as "address.city" or "items[0].id"
// through nested maps and slices. An empty path or "output" returns root.
func LookupPath(root interface{}, path string) (interface{}, bool) {
	if path == "" || path == "output" {
		return root, true
	}

	current := root
	for _, segment := range SplitPath(path) {
		switch {
		case isObject(current):
			next, ok := current.(map[string]interface{})[segment]
			if !ok {
				return nil, false
			}
			current = next
		case isArray(current):
			idx, err := strconv.Atoi(segment)
			arr := current.([]interface{})
			if err != nil || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		default:
			if m, ok := current.(map[string]string); ok {
				next, found := m[segment]
				if !found {
					return nil, false
				}
				current = next
				continue
			}
			return nil, false
		}
	}
	return current, true
}

// SplitPath turns "a.b[2].c" into ["a", "b", "2", "c"].
func SplitPath(path string) []string {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")

	parts := strings.Split(path, ".")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}
