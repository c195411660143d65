package definition

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/xjson"
	"gopkg.in/yaml.v3"
)

// Document is a workflow definition as written on disk. Two shapes are
// accepted: nodes keyed by id with explicit connections, and a node list
// chained through next_node_id and on_failure_node_id.
type Document struct {
	ID            string               `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string               `json:"name,omitempty" yaml:"name,omitempty"`
	Description   string               `json:"description,omitempty" yaml:"description,omitempty"`
	Version       string               `json:"version,omitempty" yaml:"version,omitempty"`
	Start         StringList           `json:"start,omitempty" yaml:"start,omitempty"`
	Entry         StringList           `json:"entry,omitempty" yaml:"entry,omitempty"`
	StartNodeID   string               `json:"start_node_id,omitempty" yaml:"start_node_id,omitempty"`
	Nodes         NodeSet              `json:"nodes" yaml:"nodes"`
	Connections   []Connection         `json:"connections,omitempty" yaml:"connections,omitempty"`
	Edges         []Connection         `json:"edges,omitempty" yaml:"edges,omitempty"`
	ErrorHandling ErrorHandlingDoc     `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`
	Defaults      DefaultsDoc          `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Outputs       map[string]OutputDoc `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Source is the file the document was read from, if any.
	Source string `json:"-" yaml:"-"`
}

// WorkflowName is name, then id, then the source file's base name.
func (d *Document) WorkflowName() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.ID != "":
		return d.ID
	case d.Source != "":
		return baseName(d.Source)
	}
	return ""
}

type NodeDoc struct {
	ID              string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Type            string                 `json:"type" yaml:"type"`
	Description     string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Retry           *RetryDoc              `json:"retry,omitempty" yaml:"retry,omitempty"`
	InputSchema     map[string]interface{} `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema    map[string]interface{} `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Timeout         Duration               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Required        *bool                  `json:"required,omitempty" yaml:"required,omitempty"`
	ErrorHandling   *NodeHandlingDoc       `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`
	NextNodeID      string                 `json:"next_node_id,omitempty" yaml:"next_node_id,omitempty"`
	OnFailureNodeID string                 `json:"on_failure_node_id,omitempty" yaml:"on_failure_node_id,omitempty"`
}

type Connection struct {
	Source       string        `json:"source" yaml:"source"`
	SourceOutput string        `json:"source_output,omitempty" yaml:"source_output,omitempty"`
	Target       string        `json:"target" yaml:"target"`
	TargetInput  string        `json:"target_input,omitempty" yaml:"target_input,omitempty"`
	Default      OptionalValue `json:"default,omitempty" yaml:"default,omitempty"`
}

type NodeHandlingDoc struct {
	Strategy domain.ErrorStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Redirect string               `json:"redirect,omitempty" yaml:"redirect,omitempty"`
}

type ErrorHandlingDoc struct {
	DefaultStrategy domain.ErrorStrategy       `json:"default_strategy,omitempty" yaml:"default_strategy,omitempty"`
	Nodes           map[string]NodeHandlingDoc `json:"nodes,omitempty" yaml:"nodes,omitempty"`
}

type DefaultsDoc struct {
	Retry  *RetryDoc              `json:"retry,omitempty" yaml:"retry,omitempty"`
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

type OutputDoc struct {
	Node string `json:"node" yaml:"node"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

type RetryDoc struct {
	MaxAttempts   int      `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay  Duration `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	BackoffFactor float64  `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty"`
	MaxDelay      Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Jitter        float64  `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

func (r *RetryDoc) policy() *domain.RetryPolicy {
	if r == nil {
		return nil
	}
	factor := r.BackoffFactor
	if factor == 0 {
		factor = 1
	}
	return &domain.RetryPolicy{
		MaxAttempts:   r.MaxAttempts,
		InitialDelay:  time.Duration(r.InitialDelay),
		BackoffFactor: factor,
		MaxDelay:      time.Duration(r.MaxDelay),
		Jitter:        r.Jitter,
	}
}

// Duration accepts a number of seconds or a Go duration string.
type Duration time.Duration

func parseDuration(raw interface{}) (Duration, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return Duration(time.Duration(v) * time.Second), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("invalid duration %v", v)
		}
		return Duration(v * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return Duration(d), nil
	}
	return 0, fmt.Errorf("invalid duration of type %T", raw)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := xjson.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// StringList accepts a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := xjson.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var list []string
	if err := xjson.Unmarshal(trimmed, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// OptionalValue records whether a key was present. A null value counts as
// absent.
type OptionalValue struct {
	Set   bool
	Value interface{}
}

func (o *OptionalValue) UnmarshalYAML(node *yaml.Node) error {
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return err
	}
	o.Set, o.Value = v != nil, v
	return nil
}

func (o *OptionalValue) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := xjson.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Set, o.Value = v != nil, v
	return nil
}

// NodeSet holds nodes in declaration order. It decodes from a list of nodes
// with ids or from a mapping keyed by id.
type NodeSet []NodeDoc

func (s *NodeSet) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []NodeDoc
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	case yaml.MappingNode:
		out := make(NodeSet, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var n NodeDoc
			if err := node.Content[i+1].Decode(&n); err != nil {
				return err
			}
			n.ID = node.Content[i].Value
			out = append(out, n)
		}
		*s = out
		return nil
	}
	return fmt.Errorf("line %d: nodes must be a list or a mapping", node.Line)
}

func (s *NodeSet) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []NodeDoc
		if err := xjson.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}

	var byID map[string]NodeDoc
	if err := xjson.Unmarshal(trimmed, &byID); err != nil {
		return err
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(NodeSet, 0, len(ids))
	for _, id := range ids {
		n := byID[id]
		n.ID = id
		out = append(out, n)
	}
	*s = out
	return nil
}
