package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/conduit/internal/adapters/retry"
	"github.com/eleven-am/conduit/internal/adapters/schema"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/xjson"
)

type completion struct {
	nodeID   string
	output   map[string]interface{}
	err      error
	attempts int
	ended    time.Time
}

// dispatch is a node that has been moved to running. A non-nil err means
// its input could not be assembled and the node fails without executing.
type dispatch struct {
	nodeID string
	input  map[string]interface{}
	err    error
}

// run drives one execution of a workflow graph. A single dispatcher
// goroutine owns every state transition; node goroutines only report
// completions back to it.
type run struct {
	id     string
	engine *Engine
	graph  *domain.WorkflowGraph
	exec   *ExecutionContext
	logger *slog.Logger

	base   context.Context
	cancel context.CancelCauseFunc
	ctx    context.Context
	done   chan struct{}

	topoIndex map[string]int
	entry     map[string]bool

	mu           sync.RWMutex
	state        *domain.RunSnapshot
	redirected   map[string]bool
	handlerInput map[string]map[string]interface{}
	outcome      domain.RunStatus
	failure      *domain.NodeError
	pending      []domain.Event
}

func newRun(e *Engine, id string, graph *domain.WorkflowGraph, input map[string]interface{}) *run {
	base, cancel := context.WithCancelCause(e.ctx)

	r := &run{
		id:           id,
		engine:       e,
		graph:        graph,
		exec:         NewExecutionContext(id, graph.Name(), input, e.credentials, e.logger),
		logger:       e.logger.With("run_id", id, "workflow", graph.Name()),
		base:         base,
		cancel:       cancel,
		ctx:          base,
		done:         make(chan struct{}),
		topoIndex:    make(map[string]int),
		entry:        make(map[string]bool),
		redirected:   make(map[string]bool),
		handlerInput: make(map[string]map[string]interface{}),
	}

	for i, nodeID := range graph.TopologicalOrder() {
		r.topoIndex[nodeID] = i
	}
	for _, nodeID := range graph.Entry() {
		r.entry[nodeID] = true
	}

	nodes := make(map[string]domain.NodeState)
	for _, nodeID := range graph.Reachable() {
		def, _ := graph.Node(nodeID)
		nodes[nodeID] = domain.NodeState{NodeID: nodeID, Type: def.Type, Status: domain.NodeStatusNotStarted}
	}

	r.state = &domain.RunSnapshot{
		ID:        id,
		Workflow:  graph.Name(),
		Status:    domain.RunStatusPending,
		Input:     domain.CloneMap(input),
		Nodes:     nodes,
		Order:     []string{},
		CreatedAt: e.now(),
	}
	return r
}

func (r *run) snapshot() *domain.RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

func (r *run) execute() {
	defer r.cancel(nil)

	select {
	case r.engine.slots <- struct{}{}:
	case <-r.base.Done():
		r.finish()
		return
	}
	defer func() { <-r.engine.slots }()

	if timeout := r.engine.config.RunTimeout; timeout > 0 {
		ctx, stop := context.WithTimeoutCause(r.base, timeout, domain.ErrRunTimeout)
		defer stop()
		r.ctx = ctx
	}

	started := r.engine.now()
	r.mu.Lock()
	r.state.Status = domain.RunStatusRunning
	r.state.StartedAt = &started
	r.queue(domain.Event{Type: domain.EventRunStarted, Status: string(domain.RunStatusRunning)})
	batch := r.startLocked(r.graph.Entry())
	events, snap := r.drain(), r.state.Clone()
	r.mu.Unlock()

	r.engine.metrics.RunStarted()
	r.logger.Info("run started", "entry", r.graph.Entry())
	r.publish(events)
	r.engine.persist(snap)

	completions := make(chan completion)
	inFlight := 0
	launch := func(batch []dispatch) {
		for _, d := range batch {
			inFlight++
			go r.runNode(d, completions)
		}
	}
	launch(batch)

	for inFlight > 0 {
		c := <-completions
		inFlight--

		r.mu.Lock()
		next := r.completeLocked(c)
		events, snap := r.drain(), r.state.Clone()
		r.mu.Unlock()

		r.publish(events)
		r.engine.persist(snap)
		launch(next)
	}

	r.finish()
}

// finish settles every remaining node, derives the run status and records
// the terminal snapshot before waking waiters.
func (r *run) finish() {
	defer close(r.done)

	r.mu.Lock()
	if r.outcome == "" {
		if status, runErr := r.interruption(); status != "" {
			r.markOutcome(status, runErr)
		}
	}

	sweep := domain.SkipBranchNotTaken
	switch r.outcome {
	case domain.RunStatusCancelled:
		sweep = domain.SkipCancelled
	case domain.RunStatusFailed:
		sweep = domain.SkipRunAborted
	}
	for _, nodeID := range r.graph.Reachable() {
		if r.state.Nodes[nodeID].Status == domain.NodeStatusNotStarted {
			r.skipLocked(nodeID, sweep)
		}
	}

	status := r.outcome
	if status == "" {
		status = domain.RunStatusCompleted
		for _, state := range r.state.Nodes {
			if state.Status == domain.NodeStatusFailed ||
				(state.Status == domain.NodeStatusSkipped && state.SkipReason != domain.SkipBranchNotTaken) {
				status = domain.RunStatusPartial
				break
			}
		}
	}

	ended := r.engine.now()
	r.state.Status = status
	r.state.Error = r.failure
	r.state.EndedAt = &ended
	if status != domain.RunStatusCancelled {
		r.state.Output = r.collectOutputs()
	}

	counts := r.state.CountByStatus()
	r.queue(domain.Event{
		Type:   domain.RunEventFor(status),
		Status: string(status),
		Error:  r.failure,
		Data: map[string]interface{}{
			"duration_ms": r.state.Duration().Milliseconds(),
			"succeeded":   counts[domain.NodeStatusSucceeded],
			"failed":      counts[domain.NodeStatusFailed],
			"skipped":     counts[domain.NodeStatusSkipped],
		},
	})
	events, snap := r.drain(), r.state.Clone()
	r.mu.Unlock()

	r.publish(events)
	r.engine.persist(snap)
	r.engine.metrics.RunFinished(status)

	attrs := []any{"status", status, "duration", snap.Duration(), "nodes_succeeded", counts[domain.NodeStatusSucceeded]}
	if status == domain.RunStatusFailed {
		r.logger.Error("run finished", append(attrs, errorLogAttrs(r.failure)...)...)
	} else {
		r.logger.Info("run finished", attrs...)
	}
}

// startLocked moves ready nodes to running in topological order and
// assembles their inputs.
func (r *run) startLocked(ready []string) []dispatch {
	if r.stopping() || len(ready) == 0 {
		return nil
	}

	ready = append([]string(nil), ready...)
	sort.SliceStable(ready, func(i, j int) bool {
		return r.topoIndex[ready[i]] < r.topoIndex[ready[j]]
	})

	batch := make([]dispatch, 0, len(ready))
	for _, nodeID := range ready {
		state, ok := r.state.Nodes[nodeID]
		if !ok || state.Status != domain.NodeStatusNotStarted {
			continue
		}

		input, err := r.inputLocked(nodeID)

		now := r.engine.now()
		state.Status = domain.NodeStatusRunning
		state.StartedAt = &now
		r.state.Nodes[nodeID] = state
		r.state.Order = append(r.state.Order, nodeID)

		r.queue(domain.Event{Type: domain.EventNodeStarted, NodeID: nodeID, Status: string(domain.NodeStatusRunning)})
		r.logger.Debug("node dispatched", "node_id", nodeID, "node_type", state.Type)

		batch = append(batch, dispatch{nodeID: nodeID, input: input, err: err})
	}
	return batch
}

// inputLocked builds a node's input map from its incoming edges. Entry
// nodes receive the initial input and failure handlers the error context.
func (r *run) inputLocked(nodeID string) (map[string]interface{}, error) {
	if input, ok := r.handlerInput[nodeID]; ok {
		return input, nil
	}
	if r.entry[nodeID] {
		return r.exec.InitialInput(), nil
	}

	input := make(map[string]interface{})
	var problems []string

	for _, edge := range r.graph.Incoming(nodeID) {
		source, ok := r.state.Nodes[edge.Source]
		if !ok || source.Status != domain.NodeStatusSucceeded {
			input[edge.InputKey()] = domain.CloneValue(edge.Fallback)
			continue
		}

		value, found := domain.LookupPath(source.Output, edge.OutputPath())
		if !found {
			if edge.HasFallback {
				input[edge.InputKey()] = domain.CloneValue(edge.Fallback)
				continue
			}
			problems = append(problems, fmt.Sprintf("input %q: %q not found in output of %q", edge.InputKey(), edge.OutputPath(), edge.Source))
			continue
		}
		input[edge.InputKey()] = domain.CloneValue(value)
	}

	if len(problems) > 0 {
		return input, domain.NewValidationError(problems...)
	}
	return input, nil
}

func (r *run) completeLocked(c completion) []dispatch {
	state := r.state.Nodes[c.nodeID]
	ended := c.ended
	state.EndedAt = &ended
	state.Attempts = c.attempts

	if c.err == nil {
		state.Status = domain.NodeStatusSucceeded
		state.Output = c.output
		r.state.Nodes[c.nodeID] = state
		r.exec.record(c.nodeID, c.output)
		r.engine.metrics.NodeFinished(state)

		r.queue(domain.Event{
			Type:    domain.EventNodeSucceeded,
			NodeID:  c.nodeID,
			Status:  string(state.Status),
			Attempt: state.Attempts,
			Data:    map[string]interface{}{"duration_ms": state.Duration().Milliseconds()},
		})
		r.logger.Debug("node succeeded", "node_id", c.nodeID, "attempts", state.Attempts, "duration", state.Duration())

		return r.startLocked(r.settleLocked(c.nodeID))
	}

	nodeErr := domain.Classify(c.err, c.nodeID)

	if status, runErr := r.interruption(); status != "" {
		r.markOutcome(status, runErr)
		if status == domain.RunStatusCancelled {
			r.state.Nodes[c.nodeID] = state
			r.skipLocked(c.nodeID, domain.SkipCancelled)
			return nil
		}
		nodeErr = &domain.NodeError{Kind: domain.ErrorKindTimeout, Message: runErr.Message, NodeID: c.nodeID, Err: domain.ErrRunTimeout}
		r.failLocked(c.nodeID, state, nodeErr)
		return nil
	}

	r.failLocked(c.nodeID, state, nodeErr)
	handling := r.handling(c.nodeID)

	if handling.Redirect != "" {
		r.redirected[c.nodeID] = true
		ready := r.settleLocked(c.nodeID)

		handler := handling.Redirect
		if r.state.Nodes[handler].Status == domain.NodeStatusNotStarted {
			if _, triggered := r.handlerInput[handler]; !triggered {
				r.handlerInput[handler] = map[string]interface{}{
					"error":       errorDocument(nodeErr),
					"failed_node": c.nodeID,
				}
				ready = append(ready, handler)
				r.logger.Info("failure redirected", "node_id", c.nodeID, "handler", handler)
			}
		}
		return r.startLocked(ready)
	}

	switch handling.Strategy {
	case domain.StrategyContinue:
		return r.startLocked(r.settleLocked(c.nodeID))
	default:
		r.markOutcome(domain.RunStatusFailed, nodeErr)
		for _, nodeID := range r.graph.Reachable() {
			if r.state.Nodes[nodeID].Status == domain.NodeStatusNotStarted {
				r.skipLocked(nodeID, domain.SkipRunAborted)
			}
		}
		return nil
	}
}

func (r *run) failLocked(nodeID string, state domain.NodeState, nodeErr *domain.NodeError) {
	state.Status = domain.NodeStatusFailed
	state.Error = nodeErr
	r.state.Nodes[nodeID] = state
	r.engine.metrics.NodeFinished(state)

	r.queue(domain.Event{
		Type:    domain.EventNodeFailed,
		NodeID:  nodeID,
		Status:  string(state.Status),
		Attempt: state.Attempts,
		Error:   nodeErr,
	})
	r.logger.Warn("node failed", append([]any{"node_id", nodeID, "node_type", state.Type, "attempts", state.Attempts}, errorLogAttrs(nodeErr)...)...)
}

func (r *run) skipLocked(nodeID string, reason domain.SkipReason) {
	state := r.state.Nodes[nodeID]
	now := r.engine.now()
	state.Status = domain.NodeStatusSkipped
	state.SkipReason = reason
	state.EndedAt = &now
	r.state.Nodes[nodeID] = state
	r.engine.metrics.NodeFinished(state)

	r.queue(domain.Event{
		Type:   domain.EventNodeSkipped,
		NodeID: nodeID,
		Status: string(state.Status),
		Data:   map[string]interface{}{"reason": string(reason)},
	})
	r.logger.Debug("node skipped", "node_id", nodeID, "reason", reason)
}

type readiness int

const (
	waiting readiness = iota
	ready
	unsatisfiable
)

// settleLocked re-evaluates everything downstream of a node that just
// reached a terminal status. Skips cascade; the nodes that became runnable
// are returned.
func (r *run) settleLocked(nodeID string) []string {
	var runnable []string
	seen := make(map[string]bool)
	queue := []string{nodeID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range r.graph.Outgoing(current) {
			target := edge.Target
			decision, reason := r.readinessLocked(target)
			switch decision {
			case ready:
				if !seen[target] {
					seen[target] = true
					runnable = append(runnable, target)
				}
			case unsatisfiable:
				r.skipLocked(target, reason)
				queue = append(queue, target)
			}
		}

		if handler := r.handling(current).Redirect; handler != "" && r.untriggeredLocked(handler) {
			r.skipLocked(handler, domain.SkipBranchNotTaken)
			queue = append(queue, handler)
		}
	}
	return runnable
}

// readinessLocked decides whether every input of a not yet started node
// can be bound. A failed or skipped source still binds when its edge
// carries a default, unless the failure was redirected.
func (r *run) readinessLocked(nodeID string) (readiness, domain.SkipReason) {
	state, ok := r.state.Nodes[nodeID]
	if !ok || state.Status != domain.NodeStatusNotStarted || r.graph.IsFailureHandler(nodeID) {
		return waiting, ""
	}

	var reason domain.SkipReason
	for _, edge := range r.graph.Incoming(nodeID) {
		source, ok := r.state.Nodes[edge.Source]
		if !ok {
			if !edge.HasFallback && reason == "" {
				reason = domain.SkipBranchNotTaken
			}
			continue
		}

		switch source.Status {
		case domain.NodeStatusSucceeded:
		case domain.NodeStatusFailed, domain.NodeStatusSkipped:
			if edge.HasFallback && !r.redirected[edge.Source] {
				continue
			}
			if source.Status == domain.NodeStatusSkipped && source.SkipReason == domain.SkipBranchNotTaken {
				if reason == "" {
					reason = domain.SkipBranchNotTaken
				}
				continue
			}
			reason = domain.SkipUpstreamFailed
		default:
			return waiting, ""
		}
	}

	if reason != "" {
		return unsatisfiable, reason
	}
	return ready, ""
}

// untriggeredLocked reports a failure handler whose sources all finished
// without a redirected failure.
func (r *run) untriggeredLocked(handler string) bool {
	if r.state.Nodes[handler].Status != domain.NodeStatusNotStarted {
		return false
	}
	if _, triggered := r.handlerInput[handler]; triggered {
		return false
	}
	for _, source := range r.graph.FailureSources(handler) {
		state, ok := r.state.Nodes[source]
		if !ok {
			continue
		}
		if !state.Status.Terminal() || r.redirected[source] {
			return false
		}
	}
	return true
}

func (r *run) handling(nodeID string) domain.ErrorHandling {
	handling := r.graph.ErrorHandling(nodeID)
	spec := r.graph.Spec()
	if spec.ErrorHandling[nodeID].Strategy == "" && spec.DefaultStrategy == "" {
		handling.Strategy = r.engine.config.DefaultStrategy
	}
	return handling
}

func (r *run) stopping() bool {
	return r.outcome != "" || r.ctx.Err() != nil
}

// interruption reports why the run context ended, if it has.
func (r *run) interruption() (domain.RunStatus, *domain.NodeError) {
	if r.ctx.Err() == nil {
		return "", nil
	}
	cause := context.Cause(r.ctx)
	if errors.Is(cause, domain.ErrRunTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return domain.RunStatusFailed, &domain.NodeError{
			Kind:    domain.ErrorKindTimeout,
			Message: fmt.Sprintf("run exceeded %s", r.engine.config.RunTimeout),
			Err:     domain.ErrRunTimeout,
		}
	}
	return domain.RunStatusCancelled, nil
}

func (r *run) markOutcome(status domain.RunStatus, failure *domain.NodeError) {
	if r.outcome != "" {
		return
	}
	r.outcome = status
	r.failure = failure
}

func (r *run) collectOutputs() map[string]interface{} {
	refs := r.graph.Outputs()
	if len(refs) == 0 {
		return nil
	}

	out := make(map[string]interface{}, len(refs))
	for name, ref := range refs {
		state, ok := r.state.Nodes[ref.Node]
		if !ok || state.Status != domain.NodeStatusSucceeded {
			continue
		}
		path := ref.Path
		if path == "" {
			path = "output"
		}
		if value, found := domain.LookupPath(state.Output, path); found {
			out[name] = domain.CloneValue(value)
		}
	}
	return out
}

func (r *run) queue(event domain.Event) {
	event.RunID = r.id
	event.Workflow = r.graph.Name()
	event.Timestamp = r.engine.now()
	r.pending = append(r.pending, event)
}

func (r *run) drain() []domain.Event {
	events := r.pending
	r.pending = nil
	return events
}

func (r *run) publish(events []domain.Event) {
	for _, event := range events {
		r.engine.emit(event)
	}
}

func (r *run) runNode(d dispatch, completions chan<- completion) {
	output, attempts, err := r.executeNode(d)
	completions <- completion{
		nodeID:   d.nodeID,
		output:   output,
		err:      err,
		attempts: attempts,
		ended:    r.engine.now(),
	}
}

// executeNode resolves the node implementation, validates its input and
// runs it under the effective retry policy.
func (r *run) executeNode(d dispatch) (map[string]interface{}, int, error) {
	if d.err != nil {
		return nil, 0, d.err
	}

	def, _ := r.graph.Node(d.nodeID)

	factory, err := r.engine.registry.Resolve(def.Type)
	if err != nil {
		return nil, 0, err
	}

	node, err := factory(def)
	if err != nil {
		return nil, 0, &domain.NodeError{Kind: domain.ErrorKindDefinition, Message: err.Error(), Err: err}
	}

	scope := r.exec.Scope(r.graph, d.nodeID)

	config, err := r.engine.resolver.ResolveConfig(def.Config, scope)
	if err != nil {
		return nil, 0, err
	}

	nodeSchema, err := schema.Merge(node.DeclaredSchema(), def)
	if err != nil {
		return nil, 0, &domain.NodeError{Kind: domain.ErrorKindDefinition, Message: err.Error(), Err: err}
	}

	if err := node.ValidateInput(d.input, nodeSchema); err != nil {
		if !domain.IsValidationError(err) {
			err = domain.NewValidationError(err.Error())
		}
		return nil, 0, err
	}

	policy := r.policyFor(def, node.DeclaredRetryPolicy())

	var (
		mu     sync.Mutex
		result map[string]interface{}
	)

	outcome, err := r.engine.retrier.Run(r.ctx, retry.Call{
		Policy:         policy,
		AttemptTimeout: r.nodeTimeout(def),
		OnRetry: func(attempt int, delay time.Duration, err error) {
			r.engine.emit(domain.Event{
				Type:     domain.EventNodeRetrying,
				RunID:    r.id,
				Workflow: r.graph.Name(),
				NodeID:   d.nodeID,
				Status:   string(domain.NodeStatusRunning),
				Attempt:  attempt,
				Error:    domain.Classify(err, d.nodeID),
				Data:     map[string]interface{}{"delay_ms": delay.Milliseconds()},
			})
		},
	}, func(ctx context.Context, attempt int) error {
		ctx = domain.WithRunInfo(ctx, domain.RunInfo{
			RunID:    r.id,
			Workflow: r.graph.Name(),
			NodeID:   d.nodeID,
			Attempt:  attempt,
		})

		output, err := node.Execute(ctx, domain.CloneMap(d.input), domain.CloneMap(config), scope)
		if err != nil {
			return err
		}

		output, err = normalizeOutput(output)
		if err != nil {
			return err
		}
		if err := schema.CheckOutput(output, nodeSchema); err != nil {
			return err
		}

		mu.Lock()
		result = output
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, outcome.Attempts, err
	}

	mu.Lock()
	defer mu.Unlock()
	return result, outcome.Attempts, nil
}

// policyFor picks the node's own policy first, then the workflow default,
// then the engine default.
func (r *run) policyFor(def domain.NodeDefinition, declared *domain.RetryPolicy) domain.RetryPolicy {
	switch {
	case def.Retry != nil:
		return *def.Retry
	case declared != nil:
		return *declared
	case r.graph.DefaultRetry() != nil:
		return *r.graph.DefaultRetry()
	}
	return r.engine.config.DefaultRetry
}

func (r *run) nodeTimeout(def domain.NodeDefinition) time.Duration {
	if def.Timeout > 0 {
		return def.Timeout
	}
	return r.engine.config.NodeTimeout
}

func normalizeOutput(output map[string]interface{}) (map[string]interface{}, error) {
	if output == nil {
		return map[string]interface{}{}, nil
	}

	normalized, err := xjson.Normalize(output)
	if err != nil {
		return nil, &domain.NodeError{
			Kind:    domain.ErrorKindValidation,
			Message: fmt.Sprintf("output is not JSON-compatible: %v", err),
			Err:     err,
		}
	}

	doc, ok := normalized.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, nil
	}
	return doc, nil
}

func errorDocument(err *domain.NodeError) map[string]interface{} {
	return map[string]interface{}{
		"kind":      string(err.Kind),
		"message":   err.Message,
		"node_id":   err.NodeID,
		"retryable": err.Retryable,
	}
}
