package events

import (
	"context"
	"log/slog"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/hashicorp/go-hclog"
)

// eventLevel ranks transitions: run start and finish are Info, retries and
// skips Warn, failures Error and node progress Debug.
func eventLevel(t domain.EventType) slog.Level {
	switch t {
	case domain.EventRunStarted, domain.EventRunCompleted, domain.EventRunCancelled:
		return slog.LevelInfo
	case domain.EventNodeRetrying, domain.EventNodeSkipped, domain.EventRunPartial:
		return slog.LevelWarn
	case domain.EventNodeFailed, domain.EventRunFailed:
		return slog.LevelError
	}
	return slog.LevelDebug
}

func eventAttrs(event domain.Event) []any {
	attrs := []any{"event_type", string(event.Type), "run_id", event.RunID}
	if event.Workflow != "" {
		attrs = append(attrs, "workflow", event.Workflow)
	}
	if event.NodeID != "" {
		attrs = append(attrs, "node_id", event.NodeID)
	}
	if event.Status != "" {
		attrs = append(attrs, "status", event.Status)
	}
	if event.Attempt > 0 {
		attrs = append(attrs, "attempt", event.Attempt)
	}
	if event.Error != nil {
		attrs = append(attrs, "error", event.Error.Message, "error_kind", string(event.Error.Kind))
	}
	return attrs
}

// SlogSink writes every event through a slog logger.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "events")}
}

func (s *SlogSink) Emit(event domain.Event) {
	s.logger.Log(context.Background(), eventLevel(event.Type), "workflow event", eventAttrs(event)...)
}

// HCLogSink renders events through an hclog logger for operators that
// aggregate hclog output.
type HCLogSink struct {
	logger hclog.Logger
}

func NewHCLogSink(logger hclog.Logger) *HCLogSink {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "conduit", Level: hclog.Info})
	}
	return &HCLogSink{logger: logger.Named("events")}
}

func (s *HCLogSink) Emit(event domain.Event) {
	attrs := eventAttrs(event)
	switch eventLevel(event.Type) {
	case slog.LevelError:
		s.logger.Error("workflow event", attrs...)
	case slog.LevelWarn:
		s.logger.Warn("workflow event", attrs...)
	case slog.LevelInfo:
		s.logger.Info("workflow event", attrs...)
	default:
		s.logger.Debug("workflow event", attrs...)
	}
}
