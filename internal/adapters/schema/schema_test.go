package schema

import (
	"testing"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckInput_MissingKeys(t *testing.T) {
	err := CheckInput(map[string]interface{}{"a": 1}, ports.Schema{InputKeys: []string{"a", "c", "b"}})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
	assert.Contains(t, err.Error(), `input key "b" is missing`)
	assert.Contains(t, err.Error(), `input key "c" is missing`)
}

func TestCheckInput_JSONSchema(t *testing.T) {
	s, err := FromMap(map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"count"},
		"properties": map[string]interface{}{
			"count": map[string]interface{}{"type": "integer", "minimum": 1},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, s)

	schema := ports.Schema{Input: s}

	assert.NoError(t, CheckInput(map[string]interface{}{"count": 3}, schema))

	err = CheckInput(map[string]interface{}{"count": 0}, schema)
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))

	err = CheckInput(map[string]interface{}{}, schema)
	require.Error(t, err)
}

func TestFromMap_Empty(t *testing.T) {
	s, err := FromMap(nil)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestMerge_DefinitionOverridesDeclared(t *testing.T) {
	declared := ports.Schema{InputKeys: []string{"data"}}
	def := domain.NodeDefinition{
		ID:          "shape",
		InputSchema: map[string]interface{}{"type": "object"},
	}

	merged, err := Merge(declared, def)
	require.NoError(t, err)
	assert.Equal(t, []string{"data"}, merged.InputKeys)
	assert.NotNil(t, merged.Input)
	assert.Nil(t, merged.Output)
}

func TestCheckOutput(t *testing.T) {
	err := CheckOutput(map[string]interface{}{}, ports.Schema{OutputKeys: []string{"result"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `output key "result" is missing`)
}
