package definition

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eleven-am/conduit/internal/adapters/engine"
	"github.com/eleven-am/conduit/internal/adapters/node_registry"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connectionsYAML = `
name: user-sync
version: "1.2"
start: fetch
defaults:
  retry:
    max_attempts: 3
    initial_delay: 0.5
    backoff_factor: 2
  config:
    level: info
nodes:
  fetch:
    type: Static
    timeout: 30s
    config:
      users: []
  shape:
    type: JSONTransformer
    required: false
    config:
      level: debug
  alert:
    type: Logger
connections:
  - source: fetch
    target: shape
    target_input: data
    default: {}
error_handling:
  default_strategy: stop
  nodes:
    fetch:
      redirect: alert
outputs:
  shaped:
    node: shape
    path: output
`

const chainYAML = `
name: user-sync
version: "1.2"
start_node_id: fetch
defaults:
  retry:
    max_attempts: 3
    initial_delay: 500ms
    backoff_factor: 2
  config:
    level: info
nodes:
  - id: fetch
    type: Static
    timeout: 30
    config:
      users: []
    next_node_id: shape
    on_failure_node_id: alert
  - id: shape
    type: JSONTransformer
    required: false
    config:
      level: debug
  - id: alert
    type: Logger
error_handling:
  default_strategy: stop
outputs:
  shaped:
    node: shape
    path: output
`

func TestDecodeConnectionsShape(t *testing.T) {
	doc, err := Decode([]byte(connectionsYAML), FormatYAML)
	require.NoError(t, err)

	graph, err := Normalize(doc)
	require.NoError(t, err)

	assert.Equal(t, "user-sync", graph.Name())
	assert.Equal(t, []string{"fetch", "shape", "alert"}, graph.NodeIDs())
	assert.Equal(t, []string{"fetch"}, graph.Entry())

	fetch, ok := graph.Node("fetch")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, fetch.Timeout)
	assert.Equal(t, "info", fetch.Config["level"])

	shape, _ := graph.Node("shape")
	assert.Equal(t, "debug", shape.Config["level"], "node config must win over defaults")

	edges := graph.Incoming("shape")
	require.Len(t, edges, 1)
	assert.True(t, edges[0].HasFallback)
	assert.Equal(t, map[string]interface{}{}, edges[0].Fallback)

	assert.Equal(t, "alert", graph.ErrorHandling("fetch").Redirect)
	assert.Equal(t, domain.StrategyContinue, graph.ErrorHandling("shape").Strategy)
	assert.True(t, graph.IsFailureHandler("alert"))

	retry := graph.DefaultRetry()
	require.NotNil(t, retry)
	assert.Equal(t, 3, retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, retry.InitialDelay)
}

const explicitYAML = `
name: user-sync
version: "1.2"
start: [fetch]
defaults:
  retry: {max_attempts: 3, initial_delay: 500ms, backoff_factor: 2}
  config: {level: info}
nodes:
  fetch: {type: Static, timeout: 30s, config: {users: []}}
  shape: {type: JSONTransformer, required: false, config: {level: debug}}
  alert: {type: Logger}
connections:
  - {source: fetch, source_output: output, target: shape, target_input: fetch}
error_handling:
  default_strategy: stop
  nodes:
    fetch: {redirect: alert}
outputs:
  shaped: {node: shape, path: output}
`

func TestBothShapesNormalizeToTheSameGraph(t *testing.T) {
	chainDoc, err := Decode([]byte(chainYAML), FormatYAML)
	require.NoError(t, err)
	chain, err := Normalize(chainDoc)
	require.NoError(t, err)

	explicitDoc, err := Decode([]byte(explicitYAML), FormatYAML)
	require.NoError(t, err)
	connections, err := Normalize(explicitDoc)
	require.NoError(t, err)

	assert.Equal(t, connections.NodeIDs(), chain.NodeIDs())
	assert.Equal(t, connections.Edges(), chain.Edges())
	assert.Equal(t, connections.Entry(), chain.Entry())
	assert.Equal(t, connections.TopologicalOrder(), chain.TopologicalOrder())
	assert.Equal(t, connections.Outputs(), chain.Outputs())
	for _, id := range chain.NodeIDs() {
		a, _ := connections.Node(id)
		b, _ := chain.Node(id)
		assert.Equal(t, a, b, "node %s", id)
		assert.Equal(t, connections.ErrorHandling(id), chain.ErrorHandling(id), "handling of %s", id)
	}
}

// echoNode returns its input and fails permanently when the input asks it to.
type echoNode struct{}

func (echoNode) ValidateInput(map[string]interface{}, ports.Schema) error { return nil }

func (echoNode) Execute(_ context.Context, input, _ map[string]interface{}, _ ports.ExecutionScope) (map[string]interface{}, error) {
	if fail, _ := input["fail"].(bool); fail {
		return nil, domain.NewPermanentError("asked to fail")
	}
	return input, nil
}

func (echoNode) DeclaredSchema() ports.Schema { return ports.Schema{} }

func (echoNode) DeclaredRetryPolicy() *domain.RetryPolicy { return nil }

func TestBothShapesRunTheSameWay(t *testing.T) {
	registry := node_registry.NewAdapter(nil)
	for _, typ := range []string{"Static", "JSONTransformer", "Logger"} {
		require.NoError(t, registry.Register(typ, func(domain.NodeDefinition) (ports.NodeContract, error) {
			return echoNode{}, nil
		}, ports.NodeTypeInfo{}))
	}
	eng := engine.NewEngine(domain.DefaultEngineConfig(), engine.Dependencies{Registry: registry})
	defer eng.Shutdown(context.Background())

	graphs := make([]*domain.WorkflowGraph, 0, 2)
	for _, raw := range []string{chainYAML, explicitYAML} {
		doc, err := Decode([]byte(raw), FormatYAML)
		require.NoError(t, err)
		graph, err := Normalize(doc)
		require.NoError(t, err)
		graphs = append(graphs, graph)
	}

	inputs := map[string]map[string]interface{}{
		"success":  {"users": []interface{}{"ada"}},
		"redirect": {"fail": true},
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			var snaps []*domain.RunSnapshot
			for _, graph := range graphs {
				snap, err := eng.Execute(context.Background(), graph, input)
				require.NoError(t, err)
				snaps = append(snaps, snap)
			}

			chain, explicit := snaps[0], snaps[1]
			assert.Equal(t, chain.Status, explicit.Status)
			assert.Equal(t, chain.Order, explicit.Order)
			require.Len(t, explicit.Nodes, len(chain.Nodes))
			for id, state := range chain.Nodes {
				other, ok := explicit.Nodes[id]
				require.True(t, ok, "node %s", id)
				assert.Equal(t, state.Status, other.Status, "status of %s", id)
				assert.Equal(t, state.SkipReason, other.SkipReason, "skip reason of %s", id)
				assert.Equal(t, state.Attempts, other.Attempts, "attempts of %s", id)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	doc, err := Decode([]byte(`{
		"name": "json-flow",
		"nodes": {"b": {"type": "Logger"}, "a": {"type": "Static", "retry": {"max_attempts": 2, "initial_delay": "10ms"}}},
		"edges": [{"source": "a", "target": "b"}]
	}`), FormatJSON)
	require.NoError(t, err)

	graph, err := Normalize(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, graph.NodeIDs())
	assert.Equal(t, []string{"a"}, graph.Entry())

	a, _ := graph.Node("a")
	require.NotNil(t, a.Retry)
	assert.Equal(t, 10*time.Millisecond, a.Retry.InitialDelay)
}

func TestNormalizeRejectsBadDocuments(t *testing.T) {
	testCases := []struct {
		name     string
		doc      string
		expected string
	}{
		{
			name:     "unknown chain target",
			doc:      "nodes:\n  - {id: a, type: Static, next_node_id: ghost}\n",
			expected: "unknown target",
		},
		{
			name:     "template reads a sibling",
			doc:      "nodes:\n  a: {type: Static}\n  b: {type: Static, config: {v: '{{ nodes.a.output.x }}'}}\n",
			expected: "not upstream",
		},
		{
			name:     "cycle",
			doc:      "start: a\nnodes:\n  a: {type: Static}\n  b: {type: Static}\nedges:\n  - {source: a, target: b}\n  - {source: b, target: a}\n",
			expected: "cycle",
		},
		{
			name:     "two failure handlers",
			doc:      "nodes:\n  - {id: a, type: Static, on_failure_node_id: b, error_handling: {redirect: c}}\n  - {id: b, type: Logger}\n  - {id: c, type: Logger}\n",
			expected: "two failure handlers",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Decode([]byte(tc.doc), FormatYAML)
			require.NoError(t, err)

			_, err = Normalize(doc)
			require.Error(t, err)
			assert.True(t, domain.IsDefinitionError(err))
			assert.Contains(t, err.Error(), tc.expected)
		})
	}
}

func TestTemplateReferencingAncestorIsAccepted(t *testing.T) {
	doc, err := Decode([]byte(`
nodes:
  a: {type: Static}
  b: {type: Static, config: {v: '{{ nodes.a.output.x }}'}}
edges:
  - {source: a, target: b}
`), FormatYAML)
	require.NoError(t, err)

	_, err = Normalize(doc)
	assert.NoError(t, err)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte("   "), FormatYAML)
	assert.True(t, domain.IsDefinitionError(err))

	_, err = Decode([]byte("name: x\n  bad: indent"), FormatYAML)
	assert.True(t, domain.IsDefinitionError(err))

	_, err = Decode([]byte("name: x\n"), FormatYAML)
	assert.True(t, domain.IsDefinitionError(err))

	_, err = Decode([]byte(`{"nodes": {"a": {"type": "Static", "timeout": true}}}`), FormatJSON)
	assert.True(t, domain.IsDefinitionError(err))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(chainYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"nodes": [{"id": "x", "type": "Static"}]}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	docs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "a", docs[0].WorkflowName())
	assert.Equal(t, "user-sync", docs[1].WorkflowName())
	assert.Equal(t, filepath.Join(dir, "b.yaml"), docs[1].Source)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatFor("flow.json", nil))
	assert.Equal(t, FormatYAML, FormatFor("flow.yml", nil))
	assert.Equal(t, FormatJSON, FormatFor("flow", []byte(" {\"nodes\": []}")))
	assert.Equal(t, FormatYAML, FormatFor("flow", []byte("nodes: []")))
}

func TestExampleDefinitionsNormalize(t *testing.T) {
	docs, err := LoadDir(filepath.Join("..", "..", "..", "examples", "workflows"))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	for _, doc := range docs {
		graph, err := Normalize(doc)
		require.NoError(t, err, doc.Source)

		switch graph.Name() {
		case "notify-chain":
			assert.Equal(t, []string{"prepare"}, graph.Entry())
			assert.Equal(t, "alert", graph.ErrorHandling("prepare").Redirect)
		case "user-profiles":
			assert.Equal(t, []string{"users", "profiles", "customers", "report"}, graph.TopologicalOrder())
		default:
			t.Errorf("unexpected workflow %q from %s", graph.Name(), doc.Source)
		}
	}
}
