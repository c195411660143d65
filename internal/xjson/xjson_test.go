package xjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	type point struct {
		X int    `json:"x"`
		L string `json:"label"`
	}

	out, err := Normalize(map[string]interface{}{"p": point{X: 2, L: "a"}, "n": []int{1, 2}})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"p": map[string]interface{}{"x": float64(2), "label": "a"},
		"n": []interface{}{float64(1), float64(2)},
	}, out)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":1}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}
