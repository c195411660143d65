package events

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
	"github.com/google/uuid"
)

const defaultRecentEvents = 256

// Manager fans engine events out to sinks and pattern subscriptions and
// keeps the most recent ones in memory. Delivery is synchronous and in
// emit order; a panicking handler is logged and skipped.
type Manager struct {
	logger *slog.Logger

	mu            sync.RWMutex
	sinks         []ports.EventSink
	subscriptions map[string]subscription
	recent        *ring
	closed        bool
}

type subscription struct {
	id      string
	pattern string
	handler ports.EventHandler
}

func NewManager(bufferSize int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = defaultRecentEvents
	}

	return &Manager{
		logger:        logger.With("component", "event-manager"),
		subscriptions: make(map[string]subscription),
		recent:        newRing(bufferSize),
	}
}

func (m *Manager) Emit(event domain.Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.recent.push(event)
	sinks := append([]ports.EventSink(nil), m.sinks...)
	var handlers []ports.EventHandler
	for _, sub := range m.subscriptions {
		if patternMatches(sub.pattern, string(event.Type)) {
			handlers = append(handlers, sub.handler)
		}
	}
	m.mu.Unlock()

	for _, sink := range sinks {
		m.safeCall(event, func() { sink.Emit(event) })
	}
	for _, handler := range handlers {
		m.safeCall(event, func() { handler(event) })
	}
}

func (m *Manager) AddSink(sink ports.EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Subscribe registers handler for event types matching pattern: "*", an
// exact type such as "run.failed" or a prefix such as "node.*". The returned
// function removes the subscription.
func (m *Manager) Subscribe(pattern string, handler ports.EventHandler) (string, func()) {
	id := uuid.New().String()

	m.mu.Lock()
	m.subscriptions[id] = subscription{id: id, pattern: pattern, handler: handler}
	m.mu.Unlock()

	m.logger.Debug("event subscription added", "subscription_id", id, "pattern", pattern)
	return id, func() { m.Unsubscribe(id) }
}

func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, id)
}

// Recent returns up to limit of the latest events, oldest first. A
// non-positive limit returns everything buffered.
func (m *Manager) Recent(limit int) []domain.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recent.last(limit)
}

// Close drops subscriptions and ignores later events.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subscriptions = make(map[string]subscription)
	m.sinks = nil
}

func patternMatches(pattern, key string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}

func (m *Manager) safeCall(event domain.Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", "panic", r, "event_type", event.Type, "run_id", event.RunID)
		}
	}()
	fn()
}

var _ ports.EventManager = (*Manager)(nil)
