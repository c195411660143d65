package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"dario.cat/mergo"
	"github.com/eleven-am/conduit/internal/adapters/credentials"
	"github.com/eleven-am/conduit/internal/adapters/definition"
	"github.com/eleven-am/conduit/internal/adapters/engine"
	"github.com/eleven-am/conduit/internal/adapters/events"
	"github.com/eleven-am/conduit/internal/adapters/node_registry"
	"github.com/eleven-am/conduit/internal/adapters/nodes"
	"github.com/eleven-am/conduit/internal/adapters/storage"
	"github.com/eleven-am/conduit/internal/adapters/template"
	"github.com/eleven-am/conduit/internal/adapters/transform"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
	"github.com/hashicorp/go-hclog"
)

// Manager owns one engine together with its registry, run store, event bus
// and the workflows it knows by name.
type Manager struct {
	config   *domain.Config
	logger   *slog.Logger
	registry *node_registry.Adapter
	engine   *engine.Engine
	store    ports.RunStore
	events   *events.Manager
	journal  *events.Journal
	resolver *template.Resolver
	metrics  *domain.ExecutionMetrics

	mu        sync.RWMutex
	workflows map[string]*domain.WorkflowGraph

	running atomic.Bool
	stopped atomic.Bool
}

type WorkflowInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Version     string   `json:"version,omitempty"`
	Entry       []string `json:"entry"`
	Nodes       []string `json:"nodes"`
}

// New validates config and wires every collaborator. A nil config means
// DefaultConfig. The returned manager is not serving until Start.
func New(ctx context.Context, config *domain.Config) (*Manager, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	if err := mergo.Merge(&config.Engine, domain.DefaultEngineConfig()); err != nil {
		return nil, domain.NewConfigError("engine", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		config:    config,
		logger:    logger.With("component", "manager"),
		registry:  node_registry.NewAdapter(logger),
		events:    events.NewManager(config.Engine.EventBufferSize, logger),
		resolver:  template.NewResolver(),
		metrics:   domain.NewExecutionMetrics(),
		workflows: make(map[string]*domain.WorkflowGraph),
	}

	store, err := m.openStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	m.store = store

	m.events.AddSink(events.NewSlogSink(logger))
	if config.Logging.HCLog {
		m.events.AddSink(events.NewHCLogSink(hclog.New(&hclog.LoggerOptions{
			Name:  "conduit",
			Level: hclog.LevelFromString(config.Logging.Level),
		})))
	}
	if m.journal != nil {
		m.events.AddSink(m.journal)
	}

	if err := nodes.Register(m.registry); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register built-in nodes: %w", err)
	}
	if err := transform.Register(m.registry, logger); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register transform node: %w", err)
	}

	m.engine = engine.NewEngine(config.Engine, engine.Dependencies{
		Registry:    m.registry,
		Store:       store,
		Events:      m.events,
		Credentials: credentials.NewEnvResolver(config.Credentials.EnvPrefix, logger),
		Metrics:     m.metrics,
		Logger:      logger,
	})

	return m, nil
}

func (m *Manager) openStore(ctx context.Context, logger *slog.Logger) (ports.RunStore, error) {
	retain := m.config.Engine.RetainRuns

	switch m.config.Storage.Type {
	case domain.StorageBadger:
		store, err := storage.OpenBadgerStore(m.config.Storage.Path, retain, logger)
		if err != nil {
			return nil, err
		}
		m.journal = events.NewJournal(store.DB(), 0, logger)
		return store, nil

	case domain.StoragePostgres:
		store, err := storage.OpenPostgresStore(ctx, m.config.Storage.DSN, retain, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil

	default:
		return storage.NewMemoryStore(retain, logger), nil
	}
}

// RegisterNode adds a single shared node instance under typeName.
func (m *Manager) RegisterNode(typeName string, node ports.NodeContract, description string) error {
	return m.registry.RegisterNode(typeName, node, description)
}

// RegisterFactory adds a factory that builds a node per definition.
func (m *Manager) RegisterFactory(typeName string, factory ports.NodeFactory, info ports.NodeTypeInfo) error {
	return m.registry.Register(typeName, factory, info)
}

func (m *Manager) NodeTypes() []ports.NodeTypeInfo {
	types := m.registry.ListTypes()
	out := make([]ports.NodeTypeInfo, 0, len(types))
	for _, name := range types {
		if info, ok := m.registry.Describe(name); ok {
			out = append(out, info)
		}
	}
	return out
}

// LoadDefinitions reads every definition file in dir. A missing directory
// is not an error; an invalid file is, and nothing from dir is added.
func (m *Manager) LoadDefinitions(dir string) (int, error) {
	docs, err := definition.LoadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Debug("no definitions directory", "dir", dir)
			return 0, nil
		}
		return 0, err
	}

	graphs := make([]*domain.WorkflowGraph, 0, len(docs))
	for _, doc := range docs {
		graph, err := m.compile(doc)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", doc.Source, err)
		}
		graphs = append(graphs, graph)
	}

	for _, graph := range graphs {
		m.addGraph(graph)
	}
	m.logger.Info("loaded workflow definitions", "dir", dir, "count", len(graphs))
	return len(graphs), nil
}

// AddWorkflow normalizes doc and registers it under its name, replacing any
// workflow with the same name.
func (m *Manager) AddWorkflow(doc *definition.Document) (*domain.WorkflowGraph, error) {
	graph, err := m.compile(doc)
	if err != nil {
		return nil, err
	}
	m.addGraph(graph)
	return graph, nil
}

func (m *Manager) AddWorkflowGraph(graph *domain.WorkflowGraph) error {
	if graph == nil {
		return domain.NewValidationError("workflow graph is required")
	}
	if err := m.checkNodeTypes(graph); err != nil {
		return err
	}
	m.addGraph(graph)
	return nil
}

func (m *Manager) compile(doc *definition.Document) (*domain.WorkflowGraph, error) {
	graph, err := definition.NormalizeWith(doc, m.resolver)
	if err != nil {
		return nil, err
	}
	if err := m.checkNodeTypes(graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func (m *Manager) checkNodeTypes(graph *domain.WorkflowGraph) error {
	var problems []string
	for _, id := range graph.NodeIDs() {
		def, _ := graph.Node(id)
		if !m.registry.HasType(def.Type) {
			problems = append(problems, fmt.Sprintf("node %q has unknown type %q", id, def.Type))
		}
	}
	if len(problems) > 0 {
		return &domain.DefinitionError{Workflow: graph.Name(), Problems: problems}
	}
	return nil
}

func (m *Manager) addGraph(graph *domain.WorkflowGraph) {
	m.mu.Lock()
	_, replaced := m.workflows[graph.Name()]
	m.workflows[graph.Name()] = graph
	m.mu.Unlock()

	m.logger.Debug("workflow registered", "workflow", graph.Name(), "nodes", len(graph.NodeIDs()), "replaced", replaced)
}

func (m *Manager) Workflow(name string) (*domain.WorkflowGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	graph, ok := m.workflows[name]
	if !ok {
		return nil, domain.NewNotFoundError("workflow", name)
	}
	return graph, nil
}

func (m *Manager) Workflows() []WorkflowInfo {
	m.mu.RLock()
	out := make([]WorkflowInfo, 0, len(m.workflows))
	for _, graph := range m.workflows {
		out = append(out, describe(graph))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) DescribeWorkflow(name string) (WorkflowInfo, error) {
	graph, err := m.Workflow(name)
	if err != nil {
		return WorkflowInfo{}, err
	}
	return describe(graph), nil
}

func describe(graph *domain.WorkflowGraph) WorkflowInfo {
	return WorkflowInfo{
		Name:        graph.Name(),
		Description: graph.Description(),
		Version:     graph.Version(),
		Entry:       graph.Entry(),
		Nodes:       graph.TopologicalOrder(),
	}
}

// Start loads the configured definitions directory and marks the manager
// as serving.
func (m *Manager) Start(ctx context.Context) error {
	if m.stopped.Load() {
		return domain.ErrClosed
	}
	if m.running.Load() {
		return nil
	}

	if dir := m.config.Definitions.Dir; dir != "" {
		if _, err := m.LoadDefinitions(dir); err != nil {
			return err
		}
	}

	m.running.Store(true)
	m.logger.Info("manager started",
		"storage", m.config.Storage.Type,
		"workflows", len(m.Workflows()),
		"node_types", len(m.registry.ListTypes()))
	return nil
}

// Trigger starts a run of the named workflow and returns its id.
func (m *Manager) Trigger(ctx context.Context, name string, input map[string]interface{}) (string, error) {
	graph, err := m.runnable(name)
	if err != nil {
		return "", err
	}
	return m.engine.Start(ctx, graph, input)
}

// Run executes the named workflow and blocks until the run is terminal.
func (m *Manager) Run(ctx context.Context, name string, input map[string]interface{}) (*domain.RunSnapshot, error) {
	graph, err := m.runnable(name)
	if err != nil {
		return nil, err
	}
	return m.engine.Execute(ctx, graph, input)
}

// Execute runs an ad-hoc graph that is not registered by name.
func (m *Manager) Execute(ctx context.Context, graph *domain.WorkflowGraph, input map[string]interface{}) (*domain.RunSnapshot, error) {
	if m.stopped.Load() {
		return nil, domain.ErrClosed
	}
	return m.engine.Execute(ctx, graph, input)
}

func (m *Manager) runnable(name string) (*domain.WorkflowGraph, error) {
	if m.stopped.Load() {
		return nil, domain.ErrClosed
	}
	return m.Workflow(name)
}

func (m *Manager) Wait(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	return m.engine.Wait(ctx, runID)
}

func (m *Manager) Cancel(runID string) error {
	return m.engine.Cancel(runID)
}

func (m *Manager) Snapshot(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	return m.engine.Snapshot(ctx, runID)
}

func (m *Manager) ListRuns(ctx context.Context, filter domain.RunFilter) ([]*domain.RunSnapshot, error) {
	return m.engine.List(ctx, filter)
}

func (m *Manager) Subscribe(pattern string, handler ports.EventHandler) (string, func()) {
	return m.events.Subscribe(pattern, handler)
}

func (m *Manager) RecentEvents(limit int) []domain.Event {
	return m.events.Recent(limit)
}

// RunEvents returns the transitions of one run, oldest first. Without a
// persistent journal only events still in the ring buffer are available.
func (m *Manager) RunEvents(ctx context.Context, runID string, limit int) ([]domain.Event, error) {
	if _, err := m.engine.Snapshot(ctx, runID); err != nil {
		return nil, err
	}
	if m.journal != nil {
		return m.journal.History(ctx, runID, limit)
	}

	var out []domain.Event
	for _, event := range m.events.Recent(0) {
		if event.RunID == runID {
			out = append(out, event)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Manager) Metrics() domain.ExecutionMetrics {
	return m.engine.Metrics()
}

func (m *Manager) ActiveRuns() int {
	return m.engine.ActiveRuns()
}

func (m *Manager) Healthy() bool {
	return m.running.Load() && !m.stopped.Load()
}

func (m *Manager) Config() domain.Config {
	return *m.config
}

// Stop cancels active runs, waits for them within ctx and closes the store.
// Calling Stop more than once is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	m.running.Store(false)
	m.logger.Info("stopping manager", "active_runs", m.engine.ActiveRuns())

	var errs []error
	if err := m.engine.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	m.events.Close()
	if err := m.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close run store: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		m.logger.Error("manager stopped with errors", "error", err)
		return err
	}
	m.logger.Debug("manager stopped")
	return nil
}
