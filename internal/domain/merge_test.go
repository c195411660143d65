package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfig(t *testing.T) {
	tests := []struct {
		name      string
		defaults  map[string]interface{}
		overrides map[string]interface{}
		expected  map[string]interface{}
	}{
		{
			name:      "defaults fill gaps",
			defaults:  map[string]interface{}{"timeout": 30, "format": "json"},
			overrides: map[string]interface{}{"format": "yaml"},
			expected:  map[string]interface{}{"timeout": 30, "format": "yaml"},
		},
		{
			name:      "nested maps merge",
			defaults:  map[string]interface{}{"http": map[string]interface{}{"retries": 2, "base": "https://api"}},
			overrides: map[string]interface{}{"http": map[string]interface{}{"retries": 5}},
			expected:  map[string]interface{}{"http": map[string]interface{}{"retries": 5, "base": "https://api"}},
		},
		{
			name:      "nil overrides",
			defaults:  map[string]interface{}{"a": 1},
			overrides: nil,
			expected:  map[string]interface{}{"a": 1},
		},
		{
			name:      "no defaults",
			defaults:  nil,
			overrides: map[string]interface{}{"a": 1},
			expected:  map[string]interface{}{"a": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, err := MergeConfig(tt.defaults, tt.overrides)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, merged)
		})
	}
}

func TestMergeConfig_DoesNotMutateInputs(t *testing.T) {
	defaults := map[string]interface{}{"nested": map[string]interface{}{"a": 1}}
	overrides := map[string]interface{}{"nested": map[string]interface{}{"b": 2}}

	_, err := MergeConfig(defaults, overrides)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"a": 1}, defaults["nested"])
	assert.Equal(t, map[string]interface{}{"b": 2}, overrides["nested"])
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]interface{}{
		"user": map[string]interface{}{"name": "John", "age": 30},
	}
	src := map[string]interface{}{
		"user":   map[string]interface{}{"age": 31},
		"active": true,
	}

	require.NoError(t, DeepMerge(dst, src))
	assert.Equal(t, map[string]interface{}{"name": "John", "age": 31}, dst["user"])
	assert.Equal(t, true, dst["active"])
}

func TestShallowMerge_LaterWins(t *testing.T) {
	merged := ShallowMerge(
		map[string]interface{}{"a": 1, "nested": map[string]interface{}{"x": 1}},
		map[string]interface{}{"a": 2, "nested": map[string]interface{}{"y": 2}},
	)
	assert.Equal(t, 2, merged["a"])
	assert.Equal(t, map[string]interface{}{"y": 2}, merged["nested"])
}

func TestCloneValue(t *testing.T) {
	original := map[string]interface{}{"list": []interface{}{map[string]interface{}{"k": "v"}}}
	cloned := CloneMap(original)

	cloned["list"].([]interface{})[0].(map[string]interface{})["k"] = "changed"
	assert.Equal(t, "v", original["list"].([]interface{})[0].(map[string]interface{})["k"])
}
