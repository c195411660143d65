package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/conduit/internal/adapters/node_registry"
	"github.com/eleven-am/conduit/internal/adapters/retry"
	"github.com/eleven-am/conduit/internal/adapters/schema"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nodeFunc func(ctx context.Context, input, config map[string]interface{}, scope ports.ExecutionScope) (map[string]interface{}, error)

type testNode struct {
	schema ports.Schema
	policy *domain.RetryPolicy
	fn     nodeFunc
}

func (n *testNode) ValidateInput(input map[string]interface{}, s ports.Schema) error {
	return schema.CheckInput(input, s)
}

func (n *testNode) Execute(ctx context.Context, input, config map[string]interface{}, scope ports.ExecutionScope) (map[string]interface{}, error) {
	return n.fn(ctx, input, config, scope)
}

func (n *testNode) DeclaredSchema() ports.Schema             { return n.schema }
func (n *testNode) DeclaredRetryPolicy() *domain.RetryPolicy { return n.policy }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Emit(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) types(nodeID string) []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EventType
	for _, e := range s.events {
		if nodeID == "*" || e.NodeID == nodeID {
			out = append(out, e.Type)
		}
	}
	return out
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type harness struct {
	engine   *Engine
	registry *node_registry.Adapter
	events   *recordingSink
	sleeps   *sleepRecorder
}

func newHarness(t *testing.T, configure ...func(*domain.EngineConfig)) *harness {
	t.Helper()

	config := domain.DefaultEngineConfig()
	config.DefaultRetry = domain.SingleAttempt()
	for _, fn := range configure {
		fn(&config)
	}

	h := &harness{
		registry: node_registry.NewAdapter(nil),
		events:   &recordingSink{},
		sleeps:   &sleepRecorder{},
	}
	h.engine = NewEngine(config, Dependencies{
		Registry: h.registry,
		Events:   h.events,
		Retry:    retry.NewExecutor(nil, retry.WithSleep(h.sleeps.sleep)),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
	})

	h.register(t, "Static", func(_ context.Context, _, config map[string]interface{}, _ ports.ExecutionScope) (map[string]interface{}, error) {
		return config, nil
	})
	h.register(t, "Echo", func(_ context.Context, input, _ map[string]interface{}, _ ports.ExecutionScope) (map[string]interface{}, error) {
		return input, nil
	})
	h.register(t, "Fail", func(context.Context, map[string]interface{}, map[string]interface{}, ports.ExecutionScope) (map[string]interface{}, error) {
		return nil, domain.NewPermanentError("upstream rejected request")
	})
	return h
}

func (h *harness) register(t *testing.T, typeName string, fn nodeFunc) {
	t.Helper()
	h.registerNode(t, typeName, &testNode{fn: fn})
}

func (h *harness) registerNode(t *testing.T, typeName string, node *testNode) {
	t.Helper()
	require.NoError(t, h.registry.Register(typeName, func(domain.NodeDefinition) (ports.NodeContract, error) {
		return node, nil
	}, ports.NodeTypeInfo{Description: typeName}))
}

func (h *harness) execute(t *testing.T, spec domain.GraphSpec, input map[string]interface{}) *domain.RunSnapshot {
	t.Helper()
	graph, err := domain.NewWorkflowGraph(spec)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := h.engine.Execute(ctx, graph, input)
	require.NoError(t, err)
	return snap
}

func node(id, typeName string, config map[string]interface{}) domain.NodeDefinition {
	return domain.NodeDefinition{ID: id, Type: typeName, Config: config}
}

func edge(source, sourceOutput, target, targetInput string) domain.Edge {
	return domain.Edge{Source: source, SourceOutput: sourceOutput, Target: target, TargetInput: targetInput}
}

func TestEngine_LinearChain(t *testing.T) {
	h := newHarness(t)

	snap := h.execute(t, domain.GraphSpec{
		Name: "greeting",
		Nodes: []domain.NodeDefinition{
			node("fetch", "Static", map[string]interface{}{
				"user": map[string]interface{}{"name": "{{ initialInput.name }}", "age": 36},
			}),
			node("shape", "Static", map[string]interface{}{
				"greeting": "hello {{ nodes.fetch.output.user.name }}",
			}),
			node("store", "Echo", nil),
		},
		Edges: []domain.Edge{
			edge("fetch", "user", "shape", "profile"),
			edge("shape", "greeting", "store", "message"),
		},
		Outputs: map[string]domain.OutputRef{
			"message": {Node: "store", Path: "message"},
		},
	}, map[string]interface{}{"name": "ada"})

	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	assert.Equal(t, []string{"fetch", "shape", "store"}, snap.Order)
	assert.Equal(t, "hello ada", snap.Output["message"])
	assert.Equal(t, "ada", snap.Nodes["fetch"].Output["user"].(map[string]interface{})["name"])
	assert.EqualValues(t, 36, snap.Nodes["fetch"].Output["user"].(map[string]interface{})["age"])
	for _, id := range snap.Order {
		assert.Equal(t, 1, snap.Nodes[id].Attempts, id)
	}

	assert.Equal(t, []domain.EventType{
		domain.EventNodeStarted, domain.EventNodeSucceeded,
	}, h.events.types("store"))
	all := h.events.types("*")
	assert.Equal(t, domain.EventRunStarted, all[0])
	assert.Equal(t, domain.EventRunCompleted, all[len(all)-1])
}

func TestEngine_SiblingsRunConcurrently(t *testing.T) {
	h := newHarness(t)

	var arrived sync.WaitGroup
	arrived.Add(2)
	h.register(t, "Barrier", func(ctx context.Context, _, _ map[string]interface{}, _ ports.ExecutionScope) (map[string]interface{}, error) {
		arrived.Done()
		done := make(chan struct{})
		go func() {
			arrived.Wait()
			close(done)
		}()
		select {
		case <-done:
			return map[string]interface{}{"ok": true}, nil
		case <-time.After(2 * time.Second):
			return nil, domain.NewPermanentError("sibling never started")
		}
	})

	snap := h.execute(t, domain.GraphSpec{
		Name: "fan-out",
		Nodes: []domain.NodeDefinition{
			node("root", "Static", map[string]interface{}{"v": 1}),
			node("left", "Barrier", nil),
			node("right", "Barrier", nil),
		},
		Edges: []domain.Edge{
			edge("root", "", "left", ""),
			edge("root", "", "right", ""),
		},
	}, nil)

	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	assert.Equal(t, domain.NodeStatusSucceeded, snap.Nodes["left"].Status)
	assert.Equal(t, domain.NodeStatusSucceeded, snap.Nodes["right"].Status)
}

func TestEngine_ContinueStrategySkipsDependants(t *testing.T) {
	h := newHarness(t)

	snap := h.execute(t, domain.GraphSpec{
		Name: "continue",
		Nodes: []domain.NodeDefinition{
			node("root", "Static", map[string]interface{}{"v": 1}),
			node("bad", "Fail", nil),
			node("dependent", "Echo", nil),
			node("independent", "Echo", nil),
		},
		Edges: []domain.Edge{
			edge("root", "", "bad", ""),
			edge("bad", "", "dependent", ""),
			edge("root", "", "independent", ""),
		},
		ErrorHandling: map[string]domain.ErrorHandling{
			"bad": {Strategy: domain.StrategyContinue},
		},
	}, nil)

	assert.Equal(t, domain.RunStatusPartial, snap.Status)
	assert.Equal(t, domain.NodeStatusFailed, snap.Nodes["bad"].Status)
	assert.Equal(t, domain.ErrorKindNode, snap.Nodes["bad"].Error.Kind)
	assert.Equal(t, domain.NodeStatusSkipped, snap.Nodes["dependent"].Status)
	assert.Equal(t, domain.SkipUpstreamFailed, snap.Nodes["dependent"].SkipReason)
	assert.Equal(t, domain.NodeStatusSucceeded, snap.Nodes["independent"].Status)
	assert.Nil(t, snap.Error)
}

func TestEngine_StopStrategyFailsRun(t *testing.T) {
	h := newHarness(t)

	snap := h.execute(t, domain.GraphSpec{
		Name: "stop",
		Nodes: []domain.NodeDefinition{
			node("bad", "Fail", nil),
			node("after", "Echo", nil),
		},
		Edges: []domain.Edge{edge("bad", "", "after", "")},
	}, nil)

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "bad", snap.Error.NodeID)
	assert.Equal(t, domain.NodeStatusSkipped, snap.Nodes["after"].Status)
	assert.Equal(t, domain.SkipRunAborted, snap.Nodes["after"].SkipReason)
	assert.Equal(t, []string{"bad"}, snap.Order)
}

func TestEngine_EngineDefaultStrategyApplies(t *testing.T) {
	h := newHarness(t, func(c *domain.EngineConfig) {
		c.DefaultStrategy = domain.StrategyContinue
	})

	snap := h.execute(t, domain.GraphSpec{
		Name:  "engine-default",
		Nodes: []domain.NodeDefinition{node("bad", "Fail", nil), node("other", "Static", nil)},
	}, nil)

	assert.Equal(t, domain.RunStatusPartial, snap.Status)
	assert.Equal(t, domain.NodeStatusSucceeded, snap.Nodes["other"].Status)
}

func TestEngine_FallbackEdgeBindsDefault(t *testing.T) {
	h := newHarness(t)

	snap := h.execute(t, domain.GraphSpec{
		Name: "fallback",
		Nodes: []domain.NodeDefinition{
			node("bad", "Fail", nil),
			node("consumer", "Echo", nil),
		},
		Edges: []domain.Edge{{
			Source: "bad", SourceOutput: "value", Target: "consumer", TargetInput: "value",
			Fallback: "n/a", HasFallback: true,
		}},
		DefaultStrategy: domain.StrategyContinue,
	}, nil)

	assert.Equal(t, domain.RunStatusPartial, snap.Status)
	assert.Equal(t, domain.NodeStatusSucceeded, snap.Nodes["consumer"].Status)
	assert.Equal(t, "n/a", snap.Nodes["consumer"].Output["value"])
}

func TestEngine_MissingSourcePathFailsTarget(t *testing.T) {
	h := newHarness(t)

	snap := h.execute(t, domain.GraphSpec{
		Name: "missing-path",
		Nodes: []domain.NodeDefinition{
			node("source", "Static", map[string]interface{}{"a": 1}),
			node("target", "Echo", nil),
		},
		Edges: []domain.Edge{edge("source", "b", "target", "b")},
	}, nil)

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	assert.Equal(t, domain.ErrorKindValidation, snap.Nodes["target"].Error.Kind)
	assert.Equal(t, 0, snap.Nodes["target"].Attempts)
}

func TestEngine_RedirectRunsFailureHandler(t *testing.T) {
	h := newHarness(t)

	snap := h.execute(t, domain.GraphSpec{
		Name: "redirect",
		Nodes: []domain.NodeDefinition{
			node("fetch", "Static", map[string]interface{}{"v": 1}),
			node("shape", "Fail", nil),
			node("store", "Echo", nil),
			node("alert", "Echo", nil),
		},
		Edges: []domain.Edge{
			edge("fetch", "", "shape", ""),
			edge("shape", "", "store", ""),
		},
		ErrorHandling: map[string]domain.ErrorHandling{
			"shape": {Redirect: "alert"},
		},
	}, nil)

	assert.Equal(t, domain.RunStatusPartial, snap.Status)
	assert.Equal(t, domain.NodeStatusSkipped, snap.Nodes["store"].Status)
	assert.Equal(t, domain.SkipUpstreamFailed, snap.Nodes["store"].SkipReason)

	alert := snap.Nodes["alert"]
	require.Equal(t, domain.NodeStatusSucceeded, alert.Status)
	assert.Equal(t, "shape", alert.Output["failed_node"])
	errDoc := alert.Output["error"].(map[string]interface{})
	assert.Equal(t, "node", errDoc["kind"])
	assert.Equal(t, "upstream rejected request", errDoc["message"])
	assert.Equal(t, []string{"fetch", "shape", "alert"}, snap.Order)
}

func TestEngine_RedirectNotTakenDoesNotDegradeRun(t *testing.T) {
	h := newHarness(t)

	snap := h.execute(t, domain.GraphSpec{
		Name: "redirect-idle",
		Nodes: []domain.NodeDefinition{
			node("shape", "Static", map[string]interface{}{"v": 1}),
			node("alert", "Echo", nil),
		},
		ErrorHandling: map[string]domain.ErrorHandling{
			"shape": {Redirect: "alert"},
		},
	}, nil)

	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	assert.Equal(t, domain.NodeStatusSkipped, snap.Nodes["alert"].Status)
	assert.Equal(t, domain.SkipBranchNotTaken, snap.Nodes["alert"].SkipReason)
}

func TestEngine_RetryWithBackoff(t *testing.T) {
	h := newHarness(t)

	var calls int32
	h.registerNode(t, "Flaky", &testNode{
		policy: &domain.RetryPolicy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, BackoffFactor: 2},
		fn: func(context.Context, map[string]interface{}, map[string]interface{}, ports.ExecutionScope) (map[string]interface{}, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, domain.NewRetryableError("connection reset")
			}
			return map[string]interface{}{"ok": true}, nil
		},
	})

	snap := h.execute(t, domain.GraphSpec{
		Name:  "flaky",
		Nodes: []domain.NodeDefinition{node("call", "Flaky", nil)},
	}, nil)

	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.Nodes["call"].Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, h.sleeps.delays)
	assert.Equal(t, []domain.EventType{
		domain.EventNodeStarted, domain.EventNodeRetrying, domain.EventNodeRetrying, domain.EventNodeSucceeded,
	}, h.events.types("call"))
}

func TestEngine_DefinitionRetryOverridesWorkflowDefault(t *testing.T) {
	h := newHarness(t)

	var calls int32
	h.register(t, "AlwaysFlaky", func(context.Context, map[string]interface{}, map[string]interface{}, ports.ExecutionScope) (map[string]interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, domain.NewRetryableError("still down")
	})

	def := node("call", "AlwaysFlaky", nil)
	def.Retry = &domain.RetryPolicy{MaxAttempts: 2, BackoffFactor: 1}

	snap := h.execute(t, domain.GraphSpec{
		Name:         "override",
		Nodes:        []domain.NodeDefinition{def},
		DefaultRetry: &domain.RetryPolicy{MaxAttempts: 5, BackoffFactor: 1},
	}, nil)

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	assert.Equal(t, 2, snap.Nodes["call"].Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.True(t, snap.Nodes["call"].Error.Retryable)
}

func TestEngine_NodeTimeout(t *testing.T) {
	h := newHarness(t)
	h.register(t, "Hang", func(ctx context.Context, _, _ map[string]interface{}, _ ports.ExecutionScope) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	def := node("hang", "Hang", nil)
	def.Timeout = 20 * time.Millisecond

	snap := h.execute(t, domain.GraphSpec{Name: "timeout", Nodes: []domain.NodeDefinition{def}}, nil)

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	assert.Equal(t, domain.ErrorKindTimeout, snap.Nodes["hang"].Error.Kind)
}

func TestEngine_RunTimeout(t *testing.T) {
	h := newHarness(t, func(c *domain.EngineConfig) {
		c.RunTimeout = 50 * time.Millisecond
	})
	h.register(t, "Hang", func(context.Context, map[string]interface{}, map[string]interface{}, ports.ExecutionScope) (map[string]interface{}, error) {
		time.Sleep(time.Second)
		return map[string]interface{}{}, nil
	})

	snap := h.execute(t, domain.GraphSpec{
		Name:  "run-timeout",
		Nodes: []domain.NodeDefinition{node("hang", "Hang", nil), node("next", "Echo", nil)},
		Edges: []domain.Edge{edge("hang", "", "next", "")},
	}, nil)

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, domain.ErrorKindTimeout, snap.Error.Kind)
	assert.Equal(t, domain.NodeStatusFailed, snap.Nodes["hang"].Status)
	assert.Equal(t, domain.ErrorKindTimeout, snap.Nodes["hang"].Error.Kind)
	assert.Equal(t, domain.NodeStatusSkipped, snap.Nodes["next"].Status)
}

func TestEngine_CancelMidRun(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	h.register(t, "Block", func(ctx context.Context, _, _ map[string]interface{}, _ ports.ExecutionScope) (map[string]interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	graph, err := domain.NewWorkflowGraph(domain.GraphSpec{
		Name:  "cancel",
		Nodes: []domain.NodeDefinition{node("block", "Block", nil), node("next", "Echo", nil)},
		Edges: []domain.Edge{edge("block", "", "next", "")},
	})
	require.NoError(t, err)

	ctx := context.Background()
	runID, err := h.engine.Start(ctx, graph, nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("node never started")
	}

	require.NoError(t, h.engine.Cancel(runID))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := h.engine.Wait(waitCtx, runID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCancelled, snap.Status)
	assert.Equal(t, domain.SkipCancelled, snap.Nodes["block"].SkipReason)
	assert.Equal(t, domain.NodeStatusSkipped, snap.Nodes["next"].Status)
	assert.Equal(t, domain.SkipCancelled, snap.Nodes["next"].SkipReason)
	assert.Contains(t, h.events.types("*"), domain.EventRunCancelled)

	require.NoError(t, h.engine.Cancel(runID), "cancelling a finished run is a no-op")
}

func TestEngine_TemplatesOnlySeeAncestors(t *testing.T) {
	h := newHarness(t)

	snap := h.execute(t, domain.GraphSpec{
		Name: "scoped",
		Nodes: []domain.NodeDefinition{
			node("a", "Static", map[string]interface{}{"x": 1}),
			node("b", "Static", map[string]interface{}{"copy": "{{ nodes.a.output.x }}"}),
		},
	}, nil)

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	assert.Equal(t, domain.ErrorKindTemplateResolution, snap.Nodes["b"].Error.Kind)
}

func TestEngine_InputValidationPreventsExecution(t *testing.T) {
	h := newHarness(t)

	var executed int32
	h.registerNode(t, "Strict", &testNode{
		schema: ports.Schema{InputKeys: []string{"payload"}},
		fn: func(context.Context, map[string]interface{}, map[string]interface{}, ports.ExecutionScope) (map[string]interface{}, error) {
			atomic.AddInt32(&executed, 1)
			return nil, nil
		},
	})

	snap := h.execute(t, domain.GraphSpec{
		Name:  "strict",
		Nodes: []domain.NodeDefinition{node("strict", "Strict", nil)},
	}, map[string]interface{}{"other": 1})

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	assert.Equal(t, domain.ErrorKindValidation, snap.Nodes["strict"].Error.Kind)
	assert.Equal(t, int32(0), atomic.LoadInt32(&executed))
}

func TestEngine_OutputKeysAreEnforced(t *testing.T) {
	h := newHarness(t)
	h.registerNode(t, "Sloppy", &testNode{
		schema: ports.Schema{OutputKeys: []string{"result"}},
		fn: func(context.Context, map[string]interface{}, map[string]interface{}, ports.ExecutionScope) (map[string]interface{}, error) {
			return map[string]interface{}{"other": 1}, nil
		},
	})

	snap := h.execute(t, domain.GraphSpec{Name: "sloppy", Nodes: []domain.NodeDefinition{node("n", "Sloppy", nil)}}, nil)

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	assert.Equal(t, domain.ErrorKindValidation, snap.Nodes["n"].Error.Kind)
}

func TestEngine_UnknownNodeType(t *testing.T) {
	h := newHarness(t)

	snap := h.execute(t, domain.GraphSpec{Name: "unknown", Nodes: []domain.NodeDefinition{node("n", "Missing", nil)}}, nil)

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	assert.Equal(t, domain.ErrorKindNotFound, snap.Nodes["n"].Error.Kind)
}

func TestEngine_PanickingNode(t *testing.T) {
	h := newHarness(t)
	h.register(t, "Panic", func(context.Context, map[string]interface{}, map[string]interface{}, ports.ExecutionScope) (map[string]interface{}, error) {
		panic("nil map write")
	})

	snap := h.execute(t, domain.GraphSpec{Name: "panic", Nodes: []domain.NodeDefinition{node("n", "Panic", nil)}}, nil)

	assert.Equal(t, domain.RunStatusFailed, snap.Status)
	assert.Equal(t, domain.ErrorKindInternal, snap.Nodes["n"].Error.Kind)
	assert.Contains(t, snap.Nodes["n"].Error.Message, "nil map write")
}

func TestEngine_ScopeExposesRunInfo(t *testing.T) {
	h := newHarness(t)

	var (
		mu       sync.Mutex
		captured domain.RunInfo
		visible  bool
	)
	h.register(t, "Inspect", func(ctx context.Context, _, _ map[string]interface{}, scope ports.ExecutionScope) (map[string]interface{}, error) {
		info, _ := domain.GetRunInfo(ctx)
		_, ok := scope.NodeOutput("root")
		mu.Lock()
		captured, visible = info, ok
		mu.Unlock()
		return map[string]interface{}{"workflow": scope.Workflow()}, nil
	})

	snap := h.execute(t, domain.GraphSpec{
		Name:  "inspect",
		Nodes: []domain.NodeDefinition{node("root", "Static", map[string]interface{}{"v": 1}), node("probe", "Inspect", nil)},
		Edges: []domain.Edge{edge("root", "", "probe", "")},
	}, nil)

	require.Equal(t, domain.RunStatusCompleted, snap.Status)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, snap.ID, captured.RunID)
	assert.Equal(t, "probe", captured.NodeID)
	assert.Equal(t, 1, captured.Attempt)
	assert.True(t, visible)
}

func TestEngine_ConcurrentRunLimit(t *testing.T) {
	h := newHarness(t, func(c *domain.EngineConfig) {
		c.MaxConcurrentRuns = 1
	})

	release := make(chan struct{})
	h.register(t, "Gate", func(context.Context, map[string]interface{}, map[string]interface{}, ports.ExecutionScope) (map[string]interface{}, error) {
		<-release
		return map[string]interface{}{}, nil
	})

	graph, err := domain.NewWorkflowGraph(domain.GraphSpec{Name: "gate", Nodes: []domain.NodeDefinition{node("g", "Gate", nil)}})
	require.NoError(t, err)

	ctx := context.Background()
	first, err := h.engine.Start(ctx, graph, nil)
	require.NoError(t, err)
	second, err := h.engine.Start(ctx, graph, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, _ := h.engine.Snapshot(ctx, first)
		b, _ := h.engine.Snapshot(ctx, second)
		running := 0
		pending := 0
		for _, s := range []*domain.RunSnapshot{a, b} {
			switch s.Status {
			case domain.RunStatusRunning:
				running++
			case domain.RunStatusPending:
				pending++
			}
		}
		return running == 1 && pending == 1
	}, 2*time.Second, 10*time.Millisecond)

	close(release)

	for _, id := range []string{first, second} {
		snap, err := h.engine.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	}

	runs, err := h.engine.List(ctx, domain.RunFilter{Workflow: "gate"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	metrics := h.engine.Metrics()
	assert.Equal(t, int64(2), metrics.RunsCompleted)
}

func TestEngine_ShutdownRejectsNewRuns(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Shutdown(context.Background()))

	graph, err := domain.NewWorkflowGraph(domain.GraphSpec{Name: "late", Nodes: []domain.NodeDefinition{node("n", "Static", nil)}})
	require.NoError(t, err)

	_, err = h.engine.Start(context.Background(), graph, nil)
	assert.True(t, errors.Is(err, domain.ErrClosed))
}

func TestEngine_UnknownRun(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Snapshot(context.Background(), "missing")
	assert.True(t, domain.IsNotFound(err))
	assert.True(t, domain.IsNotFound(h.engine.Cancel("missing")))
}
