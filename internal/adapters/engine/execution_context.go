package engine

import (
	"log/slog"
	"sync"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
)

// ExecutionContext holds the data one run shares between its nodes: the
// initial input and the output of every node that has succeeded so far.
// Outputs are written once and never mutated afterwards.
type ExecutionContext struct {
	runID        string
	workflow     string
	initialInput map[string]interface{}
	credentials  ports.CredentialResolver
	logger       *slog.Logger

	mu      sync.RWMutex
	outputs map[string]map[string]interface{}
}

func NewExecutionContext(runID, workflow string, input map[string]interface{}, credentials ports.CredentialResolver, logger *slog.Logger) *ExecutionContext {
	if logger == nil {
		logger = slog.Default()
	}
	if input == nil {
		input = map[string]interface{}{}
	}
	return &ExecutionContext{
		runID:        runID,
		workflow:     workflow,
		initialInput: input,
		credentials:  credentials,
		logger:       logger,
		outputs:      make(map[string]map[string]interface{}),
	}
}

func (c *ExecutionContext) InitialInput() map[string]interface{} {
	return domain.CloneMap(c.initialInput)
}

func (c *ExecutionContext) NodeOutput(nodeID string) (map[string]interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	output, ok := c.outputs[nodeID]
	return output, ok
}

func (c *ExecutionContext) record(nodeID string, output map[string]interface{}) {
	if output == nil {
		output = map[string]interface{}{}
	}
	c.mu.Lock()
	c.outputs[nodeID] = output
	c.mu.Unlock()
}

// Scope returns the view handed to one node. Only outputs of the node's
// ancestors are visible through it.
func (c *ExecutionContext) Scope(graph *domain.WorkflowGraph, nodeID string) *NodeScope {
	return &NodeScope{
		exec:   c,
		graph:  graph,
		nodeID: nodeID,
		logger: c.logger.With("run_id", c.runID, "node_id", nodeID),
	}
}

// NodeScope implements ports.ExecutionScope and template.Source.
type NodeScope struct {
	exec   *ExecutionContext
	graph  *domain.WorkflowGraph
	nodeID string
	logger *slog.Logger
}

func (s *NodeScope) RunID() string {
	return s.exec.runID
}

func (s *NodeScope) NodeID() string {
	return s.nodeID
}

func (s *NodeScope) Workflow() string {
	return s.exec.workflow
}

func (s *NodeScope) InitialInput() map[string]interface{} {
	return s.exec.InitialInput()
}

func (s *NodeScope) NodeOutput(nodeID string) (map[string]interface{}, bool) {
	if !s.graph.IsAncestor(s.nodeID, nodeID) {
		return nil, false
	}
	output, ok := s.exec.NodeOutput(nodeID)
	if !ok {
		return nil, false
	}
	return domain.CloneMap(output), true
}

func (s *NodeScope) Credentials() ports.CredentialResolver {
	return s.exec.credentials
}

func (s *NodeScope) Logger() *slog.Logger {
	return s.logger
}

var _ ports.ExecutionScope = (*NodeScope)(nil)
