package conduit_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/conduit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyNode fails retryably until it has been called failFor times.
type flakyNode struct {
	calls   atomic.Int32
	failFor int32
}

func (n *flakyNode) ValidateInput(map[string]interface{}, conduit.Schema) error { return nil }

func (n *flakyNode) Execute(_ context.Context, input map[string]interface{}, config map[string]interface{}, _ conduit.ExecutionScope) (map[string]interface{}, error) {
	if n.calls.Add(1) <= n.failFor {
		return nil, conduit.NewNodeError("upstream unavailable", true, errors.New("503"))
	}
	return map[string]interface{}{"greeting": config["prefix"].(string) + input["name"].(string)}, nil
}

func (n *flakyNode) DeclaredSchema() conduit.Schema { return conduit.Schema{} }

func (n *flakyNode) DeclaredRetryPolicy() *conduit.RetryPolicy { return nil }

const pipeline = `
name: hello
start: greet
defaults:
  retry:
    max_attempts: 3
    initial_delay: 1ms
    backoff_factor: 1
nodes:
  greet:
    type: Flaky
    config:
      prefix: "Hello, "
  shout:
    type: JSONTransformer
    config:
      mappings:
        loud: "greeting"
connections:
  - source: greet
    target: shout
    target_input: data
outputs:
  loud:
    node: shout
    path: loud
`

func TestManagerEndToEnd(t *testing.T) {
	config := conduit.DefaultConfig().WithEngineSettings(4, time.Minute, time.Minute)
	config.Definitions.Dir = ""

	ctx := context.Background()
	manager, err := conduit.New(ctx, config)
	require.NoError(t, err)
	defer manager.Stop(ctx)

	node := &flakyNode{failFor: 2}
	require.NoError(t, manager.RegisterNode("Flaky", node, "fails twice"))
	require.NoError(t, manager.Start(ctx))

	graph, err := conduit.ParseDefinition([]byte(pipeline))
	require.NoError(t, err)
	require.NoError(t, manager.AddWorkflowGraph(graph))

	snap, err := manager.Run(ctx, "hello", map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)

	assert.Equal(t, conduit.RunStatusCompleted, snap.Status)
	assert.Equal(t, "Hello, Ada", snap.Output["loud"])
	assert.Equal(t, 3, snap.Nodes["greet"].Attempts)
	assert.EqualValues(t, 3, node.calls.Load())
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, conduit.IsRetryable(conduit.NewRetryableError("try again")))
	assert.False(t, conduit.IsRetryable(conduit.NewPermanentError("bad request")))
	assert.True(t, conduit.IsRetryable(conduit.NewNodeError("flaky", true, errors.New("reset"))))
}

func TestParseDefinition_Invalid(t *testing.T) {
	_, err := conduit.ParseDefinition([]byte(`{"name": "empty", "nodes": {}}`))
	assert.True(t, conduit.IsDefinitionError(err))
}
