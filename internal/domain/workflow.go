package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

type ErrorStrategy string

const (
	StrategyStop     ErrorStrategy = "stop"
	StrategyRetry    ErrorStrategy = "retry"
	StrategyContinue ErrorStrategy = "continue"
)

func (s ErrorStrategy) Valid() bool {
	switch s {
	case StrategyStop, StrategyRetry, StrategyContinue:
		return true
	}
	return false
}

type RetryPolicy struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	MaxDelay      time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Jitter        float64       `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

func SingleAttempt() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, BackoffFactor: 1}
}

func (p RetryPolicy) Validate() error {
	var problems []string
	if p.MaxAttempts < 1 {
		problems = append(problems, "max_attempts must be at least 1")
	}
	if p.InitialDelay < 0 {
		problems = append(problems, "initial_delay must not be negative")
	}
	if p.BackoffFactor < 1 && p.BackoffFactor != 0 {
		problems = append(problems, "backoff_factor must be >= 1")
	}
	if p.MaxDelay < 0 {
		problems = append(problems, "max_delay must not be negative")
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		problems = append(problems, "jitter must be in [0, 1)")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, ", "))
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based) before the
// next one: InitialDelay * BackoffFactor^(attempt-1), clamped to MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return 0
	}

	factor := p.BackoffFactor
	if factor == 0 {
		factor = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// NodeDefinition is one vertex of a workflow graph.
type NodeDefinition struct {
	ID           string                 `json:"id" yaml:"id"`
	Type         string                 `json:"type" yaml:"type"`
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Retry        *RetryPolicy           `json:"retry,omitempty" yaml:"retry,omitempty"`
	InputSchema  map[string]interface{} `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Timeout      time.Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Edge binds a value taken from the source node's output to one input key of
// the target node. An empty SourceOutput or "output" binds the whole output.
type Edge struct {
	Source       string      `json:"source" yaml:"source"`
	SourceOutput string      `json:"source_output,omitempty" yaml:"source_output,omitempty"`
	Target       string      `json:"target" yaml:"target"`
	TargetInput  string      `json:"target_input,omitempty" yaml:"target_input,omitempty"`
	Fallback     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	HasFallback  bool        `json:"-" yaml:"-"`
}

func (e Edge) InputKey() string {
	if e.TargetInput == "" {
		return e.Source
	}
	return e.TargetInput
}

func (e Edge) OutputPath() string {
	if e.SourceOutput == "" {
		return "output"
	}
	return e.SourceOutput
}

type ErrorHandling struct {
	Strategy ErrorStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Redirect string        `json:"redirect,omitempty" yaml:"redirect,omitempty"`
}

type OutputRef struct {
	Node string `json:"node" yaml:"node"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// GraphSpec is the raw material a WorkflowGraph is validated from.
type GraphSpec struct {
	Name            string
	Description     string
	Version         string
	Nodes           []NodeDefinition
	Edges           []Edge
	Entry           []string
	DefaultStrategy ErrorStrategy
	ErrorHandling   map[string]ErrorHandling
	DefaultRetry    *RetryPolicy
	Outputs         map[string]OutputRef
}

// WorkflowGraph is an immutable, validated workflow. It is safe to share
// between concurrently executing runs.
type WorkflowGraph struct {
	spec       GraphSpec
	nodes      map[string]NodeDefinition
	order      []string
	incoming   map[string][]Edge
	outgoing   map[string][]Edge
	redirectOf map[string][]string
	entry      []string
	reachable  []string
	topo       []string
	ancestors  map[string]map[string]bool
}

func NewWorkflowGraph(spec GraphSpec) (*WorkflowGraph, error) {
	g := &WorkflowGraph{
		nodes:      make(map[string]NodeDefinition, len(spec.Nodes)),
		incoming:   make(map[string][]Edge),
		outgoing:   make(map[string][]Edge),
		redirectOf: make(map[string][]string),
	}

	var problems []string
	addProblem := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(spec.Nodes) == 0 {
		addProblem("workflow has no nodes")
	}

	for _, node := range spec.Nodes {
		if node.ID == "" {
			addProblem("node with empty id")
			continue
		}
		if _, exists := g.nodes[node.ID]; exists {
			addProblem("duplicate node id %q", node.ID)
			continue
		}
		if node.Type == "" {
			addProblem("node %q has no type", node.ID)
		}
		if node.Retry != nil {
			if err := node.Retry.Validate(); err != nil {
				addProblem("node %q retry: %v", node.ID, err)
			}
		}
		if node.Timeout < 0 {
			addProblem("node %q has negative timeout", node.ID)
		}
		node.Config = CloneMap(node.Config)
		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
	}

	bound := make(map[string]Edge)
	for _, edge := range spec.Edges {
		_, srcOK := g.nodes[edge.Source]
		_, dstOK := g.nodes[edge.Target]
		if !srcOK {
			addProblem("edge %s->%s references unknown source %q", edge.Source, edge.Target, edge.Source)
		}
		if !dstOK {
			addProblem("edge %s->%s references unknown target %q", edge.Source, edge.Target, edge.Target)
		}
		if !srcOK || !dstOK {
			continue
		}
		if edge.Source == edge.Target {
			addProblem("edge on node %q points at itself", edge.Source)
			continue
		}

		key := edge.Target + "\x00" + edge.InputKey()
		if prev, dup := bound[key]; dup {
			addProblem("input %q of node %q is bound by both %s and %s", edge.InputKey(), edge.Target, prev.Source, edge.Source)
			continue
		}
		bound[key] = edge

		g.incoming[edge.Target] = append(g.incoming[edge.Target], edge)
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
	}

	if spec.DefaultStrategy != "" && !spec.DefaultStrategy.Valid() {
		addProblem("unknown default strategy %q", spec.DefaultStrategy)
	}
	if spec.DefaultRetry != nil {
		if err := spec.DefaultRetry.Validate(); err != nil {
			addProblem("default retry: %v", err)
		}
	}

	handlingIDs := make([]string, 0, len(spec.ErrorHandling))
	for id := range spec.ErrorHandling {
		handlingIDs = append(handlingIDs, id)
	}
	sort.Strings(handlingIDs)

	for _, id := range handlingIDs {
		handling := spec.ErrorHandling[id]
		if _, ok := g.nodes[id]; !ok {
			addProblem("error handling references unknown node %q", id)
			continue
		}
		if handling.Strategy != "" && !handling.Strategy.Valid() {
			addProblem("node %q has unknown strategy %q", id, handling.Strategy)
		}
		if handling.Redirect == "" {
			continue
		}
		if _, ok := g.nodes[handling.Redirect]; !ok {
			addProblem("node %q redirects failures to unknown node %q", id, handling.Redirect)
			continue
		}
		if handling.Redirect == id {
			addProblem("node %q redirects failures to itself", id)
			continue
		}
		g.redirectOf[handling.Redirect] = append(g.redirectOf[handling.Redirect], id)
	}

	for target := range g.redirectOf {
		if len(g.incoming[target]) > 0 {
			addProblem("failure handler %q must not have incoming data edges", target)
		}
	}

	for _, id := range spec.Entry {
		if _, ok := g.nodes[id]; !ok {
			addProblem("entry node %q does not exist", id)
			continue
		}
		if len(g.incoming[id]) > 0 {
			addProblem("entry node %q has incoming data edges", id)
		}
	}

	for name, ref := range spec.Outputs {
		if _, ok := g.nodes[ref.Node]; !ok {
			addProblem("output %q references unknown node %q", name, ref.Node)
		}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		addProblem("cycle detected: %s", strings.Join(cycle, " -> "))
	}

	if len(problems) > 0 {
		return nil, &DefinitionError{Workflow: spec.Name, Problems: problems}
	}

	g.spec = spec
	g.entry = g.resolveEntry(spec.Entry)
	if len(g.entry) == 0 {
		return nil, &DefinitionError{Workflow: spec.Name, Problems: []string{"workflow has no entry node"}}
	}
	g.reachable = g.computeReachable()
	g.topo = g.computeTopological()
	g.ancestors = g.computeAncestors()

	return g, nil
}

func (g *WorkflowGraph) resolveEntry(explicit []string) []string {
	if len(explicit) > 0 {
		return append([]string(nil), explicit...)
	}

	var entry []string
	for _, id := range g.order {
		if len(g.incoming[id]) == 0 && len(g.redirectOf[id]) == 0 {
			entry = append(entry, id)
		}
	}
	return entry
}

func (g *WorkflowGraph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)

	colour := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colour[id] = grey
		stack = append(stack, id)
		for _, edge := range g.outgoing[id] {
			switch colour[edge.Target] {
			case grey:
				for i, s := range stack {
					if s == edge.Target {
						cycle = append(append([]string(nil), stack[i:]...), edge.Target)
						break
					}
				}
				return true
			case white:
				if visit(edge.Target) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		return false
	}

	for _, id := range g.order {
		if colour[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

func (g *WorkflowGraph) computeReachable() []string {
	seen := make(map[string]bool, len(g.nodes))
	queue := append([]string(nil), g.entry...)
	for _, id := range queue {
		seen[id] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		next := make([]string, 0, len(g.outgoing[id])+1)
		for _, edge := range g.outgoing[id] {
			next = append(next, edge.Target)
		}
		if redirect := g.ErrorHandling(id).Redirect; redirect != "" {
			next = append(next, redirect)
		}
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}

	reachable := make([]string, 0, len(seen))
	for _, id := range g.order {
		if seen[id] {
			reachable = append(reachable, id)
		}
	}
	return reachable
}

func (g *WorkflowGraph) computeTopological() []string {
	inReach := make(map[string]bool, len(g.reachable))
	for _, id := range g.reachable {
		inReach[id] = true
	}

	indegree := make(map[string]int, len(g.reachable))
	for _, id := range g.reachable {
		for _, edge := range g.incoming[id] {
			if inReach[edge.Source] {
				indegree[id]++
			}
		}
	}

	done := make(map[string]bool, len(g.reachable))
	topo := make([]string, 0, len(g.reachable))
	for len(topo) < len(g.reachable) {
		progressed := false
		for _, id := range g.reachable {
			if done[id] || indegree[id] > 0 {
				continue
			}
			done[id] = true
			topo = append(topo, id)
			for _, edge := range g.outgoing[id] {
				indegree[edge.Target]--
			}
			progressed = true
			break
		}
		if !progressed {
			break
		}
	}
	return topo
}

// computeAncestors memoises, per node, every node that must finish before it
// can start. The graph is acyclic by the time this runs.
func (g *WorkflowGraph) computeAncestors() map[string]map[string]bool {
	ancestors := make(map[string]map[string]bool, len(g.order))

	var resolve func(id string) map[string]bool
	resolve = func(id string) map[string]bool {
		if set, ok := ancestors[id]; ok {
			return set
		}
		set := make(map[string]bool)
		ancestors[id] = set

		for _, edge := range g.incoming[id] {
			set[edge.Source] = true
			for a := range resolve(edge.Source) {
				set[a] = true
			}
		}
		for _, src := range g.redirectOf[id] {
			set[src] = true
			for a := range resolve(src) {
				set[a] = true
			}
		}
		return set
	}

	for _, id := range g.topo {
		resolve(id)
	}
	for _, id := range g.order {
		resolve(id)
	}
	return ancestors
}

func (g *WorkflowGraph) Name() string {
	return g.spec.Name
}

func (g *WorkflowGraph) Description() string {
	return g.spec.Description
}

func (g *WorkflowGraph) Version() string {
	return g.spec.Version
}

func (g *WorkflowGraph) Node(id string) (NodeDefinition, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// NodeIDs returns every node id in declaration order.
func (g *WorkflowGraph) NodeIDs() []string {
	return append([]string(nil), g.order...)
}

func (g *WorkflowGraph) Edges() []Edge {
	return append([]Edge(nil), g.spec.Edges...)
}

func (g *WorkflowGraph) Incoming(id string) []Edge {
	return g.incoming[id]
}

func (g *WorkflowGraph) Outgoing(id string) []Edge {
	return g.outgoing[id]
}

// IsAncestor reports whether ancestor is guaranteed to have finished before
// id starts, following data edges and failure redirects.
func (g *WorkflowGraph) IsAncestor(id, ancestor string) bool {
	return g.ancestors[id][ancestor]
}

func (g *WorkflowGraph) Ancestors(id string) []string {
	out := make([]string, 0, len(g.ancestors[id]))
	for _, candidate := range g.order {
		if g.ancestors[id][candidate] {
			out = append(out, candidate)
		}
	}
	return out
}

func (g *WorkflowGraph) Entry() []string {
	return append([]string(nil), g.entry...)
}

// Reachable lists the nodes a run can touch, in declaration order.
func (g *WorkflowGraph) Reachable() []string {
	return append([]string(nil), g.reachable...)
}

func (g *WorkflowGraph) TopologicalOrder() []string {
	return append([]string(nil), g.topo...)
}

// IsFailureHandler reports whether the node is only entered through a
// failure redirect.
func (g *WorkflowGraph) IsFailureHandler(id string) bool {
	return len(g.redirectOf[id]) > 0
}

func (g *WorkflowGraph) FailureSources(id string) []string {
	return g.redirectOf[id]
}

// ErrorHandling resolves the node's strategy, falling back to the workflow
// default and finally to stop.
func (g *WorkflowGraph) ErrorHandling(id string) ErrorHandling {
	handling := g.spec.ErrorHandling[id]
	if handling.Strategy == "" {
		handling.Strategy = g.spec.DefaultStrategy
	}
	if handling.Strategy == "" {
		handling.Strategy = StrategyStop
	}
	return handling
}

func (g *WorkflowGraph) DefaultRetry() *RetryPolicy {
	return g.spec.DefaultRetry
}

func (g *WorkflowGraph) Outputs() map[string]OutputRef {
	return g.spec.Outputs
}

func (g *WorkflowGraph) Spec() GraphSpec {
	return g.spec
}
