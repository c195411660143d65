// Package conduit runs workflow graphs: directed graphs of typed nodes whose
// outputs feed the inputs of downstream nodes, with per-node retry policies,
// failure strategies and templated configuration.
//
// Basic usage:
//
//	manager, err := conduit.New(ctx, conduit.DefaultConfig())
//	manager.RegisterNode("SendEmail", &EmailNode{}, "sends one email")
//	manager.Start(ctx)
//
//	snapshot, err := manager.Run(ctx, "onboarding", map[string]interface{}{"user_id": 42})
package conduit

import (
	"context"

	"github.com/eleven-am/conduit/internal/adapters/definition"
	"github.com/eleven-am/conduit/internal/core"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
)

// Manager owns the engine, node registry, run store and event bus.
type Manager = core.Manager

// WorkflowInfo summarizes a registered workflow.
type WorkflowInfo = core.WorkflowInfo

// NodeContract is implemented by every executable workflow step.
type NodeContract = ports.NodeContract

// NodeFactory builds a node instance for one definition.
type NodeFactory = ports.NodeFactory

type NodeTypeInfo = ports.NodeTypeInfo

// Schema describes the keys and JSON Schemas of a node's input and output.
type Schema = ports.Schema

// ExecutionScope is the read-only view of the run a node executes in.
type ExecutionScope = ports.ExecutionScope

type CredentialResolver = ports.CredentialResolver

type EventHandler = ports.EventHandler

type WorkflowGraph = domain.WorkflowGraph
type GraphSpec = domain.GraphSpec
type NodeDefinition = domain.NodeDefinition
type Edge = domain.Edge
type ErrorHandling = domain.ErrorHandling
type OutputRef = domain.OutputRef
type RetryPolicy = domain.RetryPolicy

// ErrorStrategy decides what happens after a node exhausts its retries.
type ErrorStrategy = domain.ErrorStrategy

const (
	StrategyStop     = domain.StrategyStop
	StrategyRetry    = domain.StrategyRetry
	StrategyContinue = domain.StrategyContinue
)

type RunSnapshot = domain.RunSnapshot
type RunStatus = domain.RunStatus
type RunFilter = domain.RunFilter
type NodeState = domain.NodeState
type NodeStatus = domain.NodeStatus

const (
	RunStatusPending   = domain.RunStatusPending
	RunStatusRunning   = domain.RunStatusRunning
	RunStatusCompleted = domain.RunStatusCompleted
	RunStatusFailed    = domain.RunStatusFailed
	RunStatusPartial   = domain.RunStatusPartial
	RunStatusCancelled = domain.RunStatusCancelled
)

type Event = domain.Event
type EventType = domain.EventType
type ExecutionMetrics = domain.ExecutionMetrics

// NodeError is the classified failure recorded for a node or a run.
type NodeError = domain.NodeError
type ErrorKind = domain.ErrorKind
type ValidationError = domain.ValidationError
type DefinitionError = domain.DefinitionError

var (
	ErrNotFound  = domain.ErrNotFound
	ErrCancelled = domain.ErrCancelled
	ErrTimeout   = domain.ErrTimeout
	ErrClosed    = domain.ErrClosed
)

// Document is a decoded workflow definition file.
type Document = definition.Document

// New wires a manager from config. A nil config means DefaultConfig.
func New(ctx context.Context, config *Config) (*Manager, error) {
	return core.New(ctx, config)
}

// NodeOption configures a node built by WrapNode.
type NodeOption = core.NodeOption

func WithSchema(schema Schema) NodeOption {
	return core.WithSchema(schema)
}

func WithRetry(policy RetryPolicy) NodeOption {
	return core.WithRetry(policy)
}

// WrapNode turns a typed function into a node. Input and config documents
// are converted into In and Cfg; Out must encode to a JSON object.
func WrapNode[In, Cfg, Out any](name string, fn func(ctx context.Context, input In, config Cfg, scope ExecutionScope) (Out, error), opts ...NodeOption) NodeContract {
	return core.WrapNode[In, Cfg, Out](name, fn, opts...)
}

// NewWorkflowGraph validates spec and builds an executable graph.
func NewWorkflowGraph(spec GraphSpec) (*WorkflowGraph, error) {
	return domain.NewWorkflowGraph(spec)
}

// ParseDefinition decodes and normalizes a YAML or JSON definition.
func ParseDefinition(data []byte) (*WorkflowGraph, error) {
	doc, err := definition.Decode(data, definition.FormatFor("", data))
	if err != nil {
		return nil, err
	}
	return definition.Normalize(doc)
}

// LoadDefinition reads and normalizes one definition file.
func LoadDefinition(path string) (*WorkflowGraph, error) {
	doc, err := definition.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return definition.Normalize(doc)
}

// NewNodeError builds a node failure the engine may retry when retryable.
func NewNodeError(message string, retryable bool, err error) *NodeError {
	nodeErr := domain.NewNodeError(domain.ErrorKindNode, message, retryable)
	nodeErr.Err = err
	return nodeErr
}

// NewRetryableError is a node failure worth another attempt.
func NewRetryableError(message string) *NodeError {
	return domain.NewRetryableError(message)
}

// NewPermanentError is a node failure that retries cannot fix.
func NewPermanentError(message string) *NodeError {
	return domain.NewPermanentError(message)
}

func IsRetryable(err error) bool {
	return domain.IsRetryable(err)
}

func IsTimeout(err error) bool {
	return domain.IsTimeout(err)
}

func IsCancelled(err error) bool {
	return domain.IsCancelled(err)
}

func IsTemplateResolutionError(err error) bool {
	return domain.IsTemplateResolutionError(err)
}

func IsTransformError(err error) bool {
	return domain.IsTransformError(err)
}

func IsInvalidConfig(err error) bool {
	return domain.IsInvalidConfig(err)
}

func IsNotFound(err error) bool {
	return domain.IsNotFound(err)
}

func IsValidationError(err error) bool {
	return domain.IsValidationError(err)
}

func IsDefinitionError(err error) bool {
	return domain.IsDefinitionError(err)
}
