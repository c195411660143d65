package node_registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
)

type entry struct {
	factory ports.NodeFactory
	info    ports.NodeTypeInfo
}

// Adapter is the node catalog: node factories keyed by type name. Lookups
// are safe for concurrent use by many runs.
type Adapter struct {
	types  map[string]entry
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		types:  make(map[string]entry),
		logger: logger.With("component", "node-registry"),
	}
}

func (r *Adapter) Register(typeName string, factory ports.NodeFactory, info ports.NodeTypeInfo) error {
	if factory == nil {
		r.logger.Error("attempted to register nil factory", "node_type", typeName)
		return &ports.NodeRegistrationError{
			NodeType: typeName,
			Reason:   "factory cannot be nil",
		}
	}

	r.logger.Debug("attempting to register node type", "node_type", typeName)

	if typeName == "" {
		r.logger.Error("attempted to register node type with empty name")
		return &ports.NodeRegistrationError{
			NodeType: typeName,
			Reason:   "node type cannot be empty",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[typeName]; exists {
		r.logger.Debug("node type registration failed - already exists", "node_type", typeName)
		return &ports.NodeRegistrationError{
			NodeType: typeName,
			Reason:   "node type already registered",
		}
	}

	info.Type = typeName
	r.types[typeName] = entry{factory: factory, info: info}
	r.logger.Debug("node type registered successfully", "node_type", typeName, "total_types", len(r.types))
	return nil
}

func (r *Adapter) Resolve(typeName string) (ports.NodeFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.types[typeName]
	if !exists {
		r.logger.Debug("node type not found", "node_type", typeName)
		return nil, domain.NewNotFoundError("node type", typeName)
	}

	return e.factory, nil
}

func (r *Adapter) Describe(typeName string) (ports.NodeTypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.types[typeName]
	return e.info, exists
}

func (r *Adapter) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (r *Adapter) Unregister(typeName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug("attempting to unregister node type", "node_type", typeName)

	if _, exists := r.types[typeName]; !exists {
		r.logger.Debug("node type unregistration failed - not found", "node_type", typeName)
		return domain.NewNotFoundError("node type", typeName)
	}

	delete(r.types, typeName)
	r.logger.Debug("node type unregistered successfully", "node_type", typeName, "remaining_types", len(r.types))
	return nil
}

func (r *Adapter) HasType(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.types[typeName]
	return exists
}

// RegisterNode registers a node that keeps no per-run state: the same
// instance is handed to every run.
func (r *Adapter) RegisterNode(typeName string, node ports.NodeContract, description string) error {
	if node == nil {
		return &ports.NodeRegistrationError{NodeType: typeName, Reason: "node cannot be nil"}
	}

	factory := func(domain.NodeDefinition) (ports.NodeContract, error) {
		return node, nil
	}
	return r.Register(typeName, factory, ports.NodeTypeInfo{
		Description: description,
		Schema:      node.DeclaredSchema(),
	})
}
