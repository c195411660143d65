package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
	"github.com/eleven-am/conduit/internal/xjson"
	"github.com/google/jsonschema-go/jsonschema"
)

// FromMap decodes a JSON Schema written inline in a workflow definition.
func FromMap(doc map[string]interface{}) (*jsonschema.Schema, error) {
	if len(doc) == 0 {
		return nil, nil
	}

	data, err := xjson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode schema: %v", domain.ErrInvalidConfig, err)
	}

	var s jsonschema.Schema
	if err := xjson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decode schema: %v", domain.ErrInvalidConfig, err)
	}

	if _, err := s.Resolve(nil); err != nil {
		return nil, fmt.Errorf("%w: resolve schema: %v", domain.ErrInvalidConfig, err)
	}
	return &s, nil
}

// Validator caches resolved schemas; resolution walks the whole document
// and is the expensive part of validation.
type Validator struct {
	mu       sync.RWMutex
	resolved map[*jsonschema.Schema]*jsonschema.Resolved
}

func NewValidator() *Validator {
	return &Validator{resolved: make(map[*jsonschema.Schema]*jsonschema.Resolved)}
}

var defaultValidator = NewValidator()

// CheckInput is the stock ValidateInput behaviour shared by node
// implementations.
func CheckInput(input map[string]interface{}, s ports.Schema) error {
	return defaultValidator.Check("input", input, s.InputKeys, s.Input)
}

func CheckOutput(output map[string]interface{}, s ports.Schema) error {
	return defaultValidator.Check("output", output, s.OutputKeys, s.Output)
}

// Check verifies that every key is present and, when given, that doc
// satisfies the JSON Schema. All problems are reported together.
func (v *Validator) Check(what string, doc map[string]interface{}, keys []string, s *jsonschema.Schema) error {
	var problems []string

	missing := make([]string, 0)
	for _, key := range keys {
		if _, ok := doc[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	for _, key := range missing {
		problems = append(problems, fmt.Sprintf("%s key %q is missing", what, key))
	}

	if s != nil {
		if err := v.validate(s, doc); err != nil {
			problems = append(problems, fmt.Sprintf("%s does not match schema: %v", what, err))
		}
	}

	if len(problems) > 0 {
		return domain.NewValidationError(problems...)
	}
	return nil
}

func (v *Validator) validate(s *jsonschema.Schema, doc map[string]interface{}) error {
	resolved, err := v.resolve(s)
	if err != nil {
		return err
	}

	instance, err := xjson.Normalize(doc)
	if err != nil {
		return err
	}
	if instance == nil {
		instance = map[string]interface{}{}
	}
	return resolved.Validate(instance)
}

func (v *Validator) resolve(s *jsonschema.Schema) (*jsonschema.Resolved, error) {
	v.mu.RLock()
	resolved, ok := v.resolved[s]
	v.mu.RUnlock()
	if ok {
		return resolved, nil
	}

	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.resolved[s] = resolved
	v.mu.Unlock()
	return resolved, nil
}

// Merge overlays definition-level schemas on the schema a node declares.
func Merge(declared ports.Schema, def domain.NodeDefinition) (ports.Schema, error) {
	out := declared

	input, err := FromMap(def.InputSchema)
	if err != nil {
		return out, fmt.Errorf("node %s input_schema: %w", def.ID, err)
	}
	if input != nil {
		out.Input = input
	}

	output, err := FromMap(def.OutputSchema)
	if err != nil {
		return out, fmt.Errorf("node %s output_schema: %w", def.ID, err)
	}
	if output != nil {
		out.Output = output
	}
	return out, nil
}
