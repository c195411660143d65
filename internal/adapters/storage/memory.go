package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
)

// MemoryStore keeps snapshots in process. When retain is positive the
// oldest terminal runs are evicted once more than retain are stored.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*domain.RunSnapshot
	order  []string
	retain int
	closed bool
	logger *slog.Logger
}

func NewMemoryStore(retain int, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		runs:   make(map[string]*domain.RunSnapshot),
		retain: retain,
		logger: logger.With("component", "run-store", "backend", "memory"),
	}
}

func (s *MemoryStore) Save(_ context.Context, run *domain.RunSnapshot) error {
	if err := validateSnapshot(run); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrClosed
	}

	if _, exists := s.runs[run.ID]; !exists {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run.Clone()

	s.evictLocked()
	return nil
}

func (s *MemoryStore) evictLocked() {
	if s.retain <= 0 || len(s.runs) <= s.retain {
		return
	}

	kept := s.order[:0]
	excess := len(s.runs) - s.retain
	for _, id := range s.order {
		run := s.runs[id]
		if excess > 0 && run.Status.Terminal() {
			delete(s.runs, id)
			excess--
			s.logger.Debug("evicted run snapshot", "run_id", id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrClosed
	}

	run, ok := s.runs[id]
	if !ok {
		return nil, domain.NewNotFoundError("run", id)
	}
	return run.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter domain.RunFilter) ([]*domain.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrClosed
	}

	out := make([]*domain.RunSnapshot, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Matches(run) {
			out = append(out, run.Clone())
		}
	}
	newestFirst(out)

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return domain.NewNotFoundError("run", id)
	}
	delete(s.runs, id)

	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ ports.RunStore = (*MemoryStore)(nil)
