package ports

import (
	"context"
	"log/slog"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/google/jsonschema-go/jsonschema"
)

// NodeContract is implemented by every executable workflow step.
type NodeContract interface {
	// ValidateInput is called before Execute; a failure must be a
	// *domain.ValidationError and prevents the body from running.
	ValidateInput(input map[string]interface{}, schema Schema) error

	// Execute performs the node's work. Failures should be *domain.NodeError
	// so the engine can decide whether to retry.
	Execute(ctx context.Context, input map[string]interface{}, config map[string]interface{}, scope ExecutionScope) (map[string]interface{}, error)

	DeclaredSchema() Schema

	// DeclaredRetryPolicy returns nil when the node has no preference.
	DeclaredRetryPolicy() *domain.RetryPolicy
}

// Schema describes the keys a node reads and writes. Input and Output are
// optional JSON Schemas applied on top of the key lists.
type Schema struct {
	InputKeys  []string           `json:"input_keys,omitempty"`
	OutputKeys []string           `json:"output_keys,omitempty"`
	Input      *jsonschema.Schema `json:"input,omitempty"`
	Output     *jsonschema.Schema `json:"output,omitempty"`
}

// NodeFactory builds a node instance for one definition in one run.
type NodeFactory func(def domain.NodeDefinition) (NodeContract, error)

// ExecutionScope is the read-only view of the run a node executes in.
type ExecutionScope interface {
	RunID() string
	NodeID() string
	Workflow() string
	InitialInput() map[string]interface{}
	NodeOutput(nodeID string) (map[string]interface{}, bool)
	Credentials() CredentialResolver
	Logger() *slog.Logger
}

type NodeTypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Schema      Schema `json:"schema"`
}
