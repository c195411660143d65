package core

import (
	"context"
	"fmt"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
	"github.com/eleven-am/conduit/internal/xjson"
)

// NodeFunc is a node body over typed input and config.
type NodeFunc[In, Cfg, Out any] func(ctx context.Context, input In, config Cfg, scope ports.ExecutionScope) (Out, error)

type NodeOption func(*nodeOptions)

type nodeOptions struct {
	schema ports.Schema
	retry  *domain.RetryPolicy
}

func WithSchema(schema ports.Schema) NodeOption {
	return func(o *nodeOptions) { o.schema = schema }
}

func WithRetry(policy domain.RetryPolicy) NodeOption {
	return func(o *nodeOptions) { o.retry = &policy }
}

// TypedNode adapts a NodeFunc to NodeContract. Input and config documents
// are converted into In and Cfg through their JSON encoding, and Out must
// encode to a JSON object.
type TypedNode[In, Cfg, Out any] struct {
	name string
	fn   NodeFunc[In, Cfg, Out]
	opts nodeOptions
}

func WrapNode[In, Cfg, Out any](name string, fn NodeFunc[In, Cfg, Out], opts ...NodeOption) *TypedNode[In, Cfg, Out] {
	n := &TypedNode[In, Cfg, Out]{name: name, fn: fn}
	for _, opt := range opts {
		opt(&n.opts)
	}
	return n
}

func (n *TypedNode[In, Cfg, Out]) ValidateInput(input map[string]interface{}, _ ports.Schema) error {
	var in In
	if err := convert(input, &in); err != nil {
		return domain.NewValidationError(fmt.Sprintf("%s: input does not fit %T: %v", n.name, in, err))
	}
	return nil
}

func (n *TypedNode[In, Cfg, Out]) Execute(ctx context.Context, input map[string]interface{}, config map[string]interface{}, scope ports.ExecutionScope) (map[string]interface{}, error) {
	var (
		in  In
		cfg Cfg
	)
	if err := convert(input, &in); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("%s: input does not fit %T: %v", n.name, in, err))
	}
	if err := convert(config, &cfg); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("%s: config does not fit %T: %v", n.name, cfg, err))
	}

	out, err := n.fn(ctx, in, cfg, scope)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := convert(out, &doc); err != nil {
		return nil, &domain.NodeError{
			Kind:    domain.ErrorKindInternal,
			Message: fmt.Sprintf("%s: output %T is not a JSON object: %v", n.name, out, err),
			Err:     err,
		}
	}
	return doc, nil
}

func (n *TypedNode[In, Cfg, Out]) DeclaredSchema() ports.Schema {
	return n.opts.schema
}

func (n *TypedNode[In, Cfg, Out]) DeclaredRetryPolicy() *domain.RetryPolicy {
	return n.opts.retry
}

func convert(src, dst interface{}) error {
	if src == nil {
		return nil
	}
	data, err := xjson.Marshal(src)
	if err != nil {
		return err
	}
	return xjson.Unmarshal(data, dst)
}

var _ ports.NodeContract = (*TypedNode[struct{}, struct{}, struct{}])(nil)
