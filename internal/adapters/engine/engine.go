package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/conduit/internal/adapters/retry"
	"github.com/eleven-am/conduit/internal/adapters/storage"
	"github.com/eleven-am/conduit/internal/adapters/template"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
	"github.com/eleven-am/conduit/internal/xjson"
	"github.com/google/uuid"
)

// Dependencies are the collaborators an Engine runs against. Only Registry
// is required; everything else falls back to an in-process default.
type Dependencies struct {
	Registry    ports.NodeRegistryPort
	Store       ports.RunStore
	Events      ports.EventSink
	Credentials ports.CredentialResolver
	Metrics     *domain.ExecutionMetrics
	Retry       *retry.Executor
	Logger      *slog.Logger
}

type Engine struct {
	config      domain.EngineConfig
	registry    ports.NodeRegistryPort
	store       ports.RunStore
	events      ports.EventSink
	credentials ports.CredentialResolver
	retrier     *retry.Executor
	resolver    *template.Resolver
	logger      *slog.Logger
	metrics     *domain.ExecutionMetrics
	slots       chan struct{}
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	runs   map[string]*run
	closed bool
}

func NewEngine(config domain.EngineConfig, deps Dependencies) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if config.MaxConcurrentRuns < 1 {
		config.MaxConcurrentRuns = 1
	}
	if config.DefaultRetry.MaxAttempts < 1 {
		config.DefaultRetry = domain.SingleAttempt()
	}
	if config.DefaultStrategy == "" {
		config.DefaultStrategy = domain.StrategyStop
	}

	store := deps.Store
	if store == nil {
		store = storage.NewMemoryStore(config.RetainRuns, logger)
	}

	events := deps.Events
	if events == nil {
		events = discardSink{}
	}

	credentials := deps.Credentials
	if credentials == nil {
		credentials = noCredentials{}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = domain.NewExecutionMetrics()
	}

	retrier := deps.Retry
	if retrier == nil {
		retrier = retry.NewExecutor(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		config:      config,
		registry:    deps.Registry,
		store:       store,
		events:      events,
		credentials: credentials,
		retrier:     retrier,
		resolver:    template.NewResolver(),
		logger:      logger.With("component", "engine"),
		metrics:     metrics,
		slots:       make(chan struct{}, config.MaxConcurrentRuns),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		runs:        make(map[string]*run),
	}
}

// Execute starts a run and blocks until it reaches a terminal status.
// Cancelling ctx cancels the run.
func (e *Engine) Execute(ctx context.Context, graph *domain.WorkflowGraph, input map[string]interface{}) (*domain.RunSnapshot, error) {
	runID, err := e.Start(ctx, graph, input)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = e.Cancel(runID)
	})
	defer stop()

	return e.Wait(context.WithoutCancel(ctx), runID)
}

// Start registers a new run and returns its id immediately. The run waits
// for a free slot when max_concurrent_runs runs are already executing.
func (e *Engine) Start(ctx context.Context, graph *domain.WorkflowGraph, input map[string]interface{}) (string, error) {
	if graph == nil {
		return "", domain.NewValidationError("workflow graph is required")
	}
	if e.registry == nil {
		return "", fmt.Errorf("%w: engine has no node registry", domain.ErrInvalidConfig)
	}

	normalized, err := normalizeInput(input)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", domain.ErrClosed
	}

	r := newRun(e, uuid.NewString(), graph, normalized)
	e.runs[r.id] = r
	e.wg.Add(1)
	e.mu.Unlock()

	if err := e.store.Save(ctx, r.snapshot()); err != nil {
		e.logger.Warn("failed to persist pending run", "run_id", r.id, "error", err)
	}

	e.logger.Info("run accepted", "run_id", r.id, "workflow", graph.Name(), "nodes", len(graph.Reachable()))

	go func() {
		defer e.wg.Done()
		r.execute()

		e.mu.Lock()
		delete(e.runs, r.id)
		e.mu.Unlock()
	}()

	return r.id, nil
}

// Wait blocks until the run is terminal or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	if r, ok := e.active(runID); ok {
		select {
		case <-r.done:
			return r.snapshot(), nil
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for run %s: %w", runID, ctx.Err())
		}
	}
	return e.store.Get(ctx, runID)
}

// Cancel asks a run to stop. Cancelling a finished run is a no-op.
func (e *Engine) Cancel(runID string) error {
	if r, ok := e.active(runID); ok {
		e.logger.Info("cancelling run", "run_id", runID)
		r.cancel(domain.ErrCancelled)
		return nil
	}

	if _, err := e.store.Get(context.Background(), runID); err != nil {
		return err
	}
	return nil
}

func (e *Engine) Snapshot(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	if r, ok := e.active(runID); ok {
		return r.snapshot(), nil
	}
	return e.store.Get(ctx, runID)
}

// List merges in-flight runs with stored ones, newest first.
func (e *Engine) List(ctx context.Context, filter domain.RunFilter) ([]*domain.RunSnapshot, error) {
	stored, err := e.store.List(ctx, domain.RunFilter{Workflow: filter.Workflow, Status: filter.Status})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.RunSnapshot, len(stored))
	for _, snap := range stored {
		byID[snap.ID] = snap
	}

	e.mu.RLock()
	active := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		active = append(active, r)
	}
	e.mu.RUnlock()

	for _, r := range active {
		snap := r.snapshot()
		if filter.Matches(snap) {
			byID[snap.ID] = snap
		} else {
			delete(byID, snap.ID)
		}
	}

	out := make([]*domain.RunSnapshot, 0, len(byID))
	for _, snap := range byID {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Shutdown refuses new runs, cancels the active ones and waits for them to
// settle or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	active := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		active = append(active, r)
	}
	e.mu.Unlock()

	e.logger.Info("shutting down engine", "active_runs", len(active))
	for _, r := range active {
		r.cancel(domain.ErrCancelled)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.logger.Debug("engine stopped")
		return nil
	case <-ctx.Done():
		e.cancel()
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

func (e *Engine) Metrics() domain.ExecutionMetrics {
	return e.metrics.GetSnapshot()
}

func (e *Engine) ActiveRuns() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.runs)
}

func (e *Engine) active(runID string) (*run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	return r, ok
}

func (e *Engine) emit(event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	e.events.Emit(event)
}

func (e *Engine) persist(snap *domain.RunSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.store.Save(ctx, snap); err != nil {
		e.logger.Warn("failed to persist run snapshot",
			append([]any{"run_id", snap.ID, "status", snap.Status}, errorLogAttrs(err)...)...)
	}
}

func normalizeInput(input map[string]interface{}) (map[string]interface{}, error) {
	if len(input) == 0 {
		return map[string]interface{}{}, nil
	}

	normalized, err := xjson.Normalize(input)
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("initial input is not JSON-compatible: %v", err))
	}

	doc, ok := normalized.(map[string]interface{})
	if !ok {
		return nil, domain.NewValidationError("initial input must be an object")
	}
	return doc, nil
}

type discardSink struct{}

func (discardSink) Emit(domain.Event) {}

type noCredentials struct{}

func (noCredentials) Get(_ context.Context, name string) (string, error) {
	return "", domain.NewNotFoundError("credential", name)
}

var _ ports.WorkflowEngine = (*Engine)(nil)
