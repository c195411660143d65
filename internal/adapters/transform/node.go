package transform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eleven-am/conduit/internal/adapters/schema"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
)

const NodeType = "JSONTransformer"

// Node runs a compiled transformation program over its input. It shares
// one Transformer across instances so compiled programs are reused.
type Node struct {
	transformer *Transformer
	logger      *slog.Logger
}

func NewNode(transformer *Transformer, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{transformer: transformer, logger: logger.With("component", "transform")}
}

// Register adds the JSONTransformer type to registry.
func Register(registry ports.NodeRegistryPort, logger *slog.Logger) error {
	transformer, err := NewTransformer()
	if err != nil {
		return err
	}

	node := NewNode(transformer, logger)
	factory := func(domain.NodeDefinition) (ports.NodeContract, error) {
		return node, nil
	}

	return registry.Register(NodeType, factory, ports.NodeTypeInfo{
		Type:        NodeType,
		Description: "Reshapes JSON with path mappings, field mappings, filters, merges and CEL scripts",
	})
}

func (n *Node) ValidateInput(input map[string]interface{}, s ports.Schema) error {
	return schema.CheckInput(input, s)
}

func (n *Node) Execute(ctx context.Context, input map[string]interface{}, config map[string]interface{}, scope ports.ExecutionScope) (map[string]interface{}, error) {
	prog, err := n.transformer.Compile(config)
	if err != nil {
		return nil, transformFailure(err)
	}

	out, err := prog.Run(ctx, input)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, transformFailure(err)
	}

	logger := n.logger
	if scope != nil {
		logger = scope.Logger()
	}
	logger.Debug("transformation applied", "directives", len(prog.steps), "keys", len(out))
	return out, nil
}

func (n *Node) DeclaredSchema() ports.Schema {
	return ports.Schema{}
}

func (n *Node) DeclaredRetryPolicy() *domain.RetryPolicy {
	policy := domain.SingleAttempt()
	return &policy
}

func transformFailure(err error) error {
	return &domain.NodeError{
		Kind:    domain.ErrorKindTransform,
		Message: err.Error(),
		Err:     err,
	}
}

var _ ports.NodeContract = (*Node)(nil)
