package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrTimeout       = errors.New("operation timeout")
	ErrCancelled     = errors.New("operation cancelled")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrClosed        = errors.New("resource closed")
	ErrRunTimeout    = fmt.Errorf("run deadline exceeded: %w", ErrTimeout)
)

type ErrorKind string

const (
	ErrorKindValidation         ErrorKind = "validation"
	ErrorKindNode               ErrorKind = "node"
	ErrorKindTemplateResolution ErrorKind = "template_resolution"
	ErrorKindTransform          ErrorKind = "transform"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindCancelled          ErrorKind = "cancelled"
	ErrorKindDefinition         ErrorKind = "definition"
	ErrorKindNotFound           ErrorKind = "not_found"
	ErrorKindInternal           ErrorKind = "internal"
)

// NodeError is the classified failure of a single node. It is what the run
// snapshot records for every failed node.
type NodeError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id,omitempty"`
	Retryable bool      `json:"retryable"`
	Err       error     `json:"-"`
}

func (e *NodeError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("node %s: %s: %s", e.NodeID, e.Kind, e.Message)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func NewNodeError(kind ErrorKind, message string, retryable bool) *NodeError {
	return &NodeError{Kind: kind, Message: message, Retryable: retryable}
}

func NewRetryableError(message string) *NodeError {
	return NewNodeError(ErrorKindNode, message, true)
}

func NewPermanentError(message string) *NodeError {
	return NewNodeError(ErrorKindNode, message, false)
}

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

type TemplateReason string

const (
	TemplateMissingReference TemplateReason = "MissingReference"
	TemplateSyntax           TemplateReason = "Syntax"
	TemplateType             TemplateReason = "Type"
)

type TemplateResolutionError struct {
	Reason     TemplateReason
	Expression string
	Detail     string
}

func (e *TemplateResolutionError) Error() string {
	return fmt.Sprintf("template %s in %q: %s", e.Reason, e.Expression, e.Detail)
}

func NewMissingReferenceError(expr, detail string) *TemplateResolutionError {
	return &TemplateResolutionError{Reason: TemplateMissingReference, Expression: expr, Detail: detail}
}

type TransformError struct {
	Directive int
	Op        string
	Err       error
}

func (e *TransformError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transformation %d: %v", e.Directive, e.Err)
	}
	return fmt.Sprintf("transformation %d (%s): %v", e.Directive, e.Op, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

type DefinitionError struct {
	Workflow string
	Problems []string
}

func (e *DefinitionError) Error() string {
	if e.Workflow == "" {
		return "invalid workflow definition: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("invalid workflow definition %q: %s", e.Workflow, strings.Join(e.Problems, "; "))
}

type NotFoundError struct {
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NewNotFoundError(resource, name string) *NotFoundError {
	return &NotFoundError{Resource: resource, Name: name}
}

// Classify maps any error returned while running a node onto a NodeError,
// keeping the original kind and message of already classified errors.
func Classify(err error, nodeID string) *NodeError {
	if err == nil {
		return nil
	}

	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		out := *nodeErr
		if out.NodeID == "" {
			out.NodeID = nodeID
		}
		if out.Kind == "" {
			out.Kind = ErrorKindNode
		}
		return &out
	}

	classified := &NodeError{NodeID: nodeID, Message: err.Error(), Err: err}

	var (
		validationErr *ValidationError
		templateErr   *TemplateResolutionError
		transformErr  *TransformError
		definitionErr *DefinitionError
	)

	switch {
	case errors.As(err, &validationErr):
		classified.Kind = ErrorKindValidation
	case errors.As(err, &templateErr):
		classified.Kind = ErrorKindTemplateResolution
	case errors.As(err, &transformErr):
		classified.Kind = ErrorKindTransform
	case errors.As(err, &definitionErr):
		classified.Kind = ErrorKindDefinition
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		classified.Kind = ErrorKindCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		classified.Kind = ErrorKindTimeout
		classified.Retryable = true
	case errors.Is(err, ErrNotFound):
		classified.Kind = ErrorKindNotFound
	default:
		classified.Kind = ErrorKindInternal
	}

	return classified
}

func IsRetryable(err error) bool {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.Retryable
	}
	return errors.Is(err, ErrTimeout) && !errors.Is(err, ErrRunTimeout)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsTimeout(err error) bool {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) && nodeErr.Kind == ErrorKindTimeout {
		return true
	}
	return errors.Is(err, ErrTimeout)
}

func IsCancelled(err error) bool {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) && nodeErr.Kind == ErrorKindCancelled {
		return true
	}
	return errors.Is(err, ErrCancelled)
}

func IsDefinitionError(err error) bool {
	var definitionErr *DefinitionError
	return errors.As(err, &definitionErr)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func IsTemplateResolutionError(err error) bool {
	var templateErr *TemplateResolutionError
	return errors.As(err, &templateErr)
}

func IsTransformError(err error) bool {
	var transformErr *TransformError
	return errors.As(err, &transformErr)
}

func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
