package domain

import (
	"time"
)

type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventRunCompleted  EventType = "run.completed"
	EventRunFailed     EventType = "run.failed"
	EventRunPartial    EventType = "run.partial"
	EventRunCancelled  EventType = "run.cancelled"
	EventNodeStarted   EventType = "node.started"
	EventNodeRetrying  EventType = "node.retrying"
	EventNodeSucceeded EventType = "node.succeeded"
	EventNodeFailed    EventType = "node.failed"
	EventNodeSkipped   EventType = "node.skipped"
)

// RunEventFor maps a terminal run status to its event type.
func RunEventFor(status RunStatus) EventType {
	switch status {
	case RunStatusCompleted:
		return EventRunCompleted
	case RunStatusFailed:
		return EventRunFailed
	case RunStatusPartial:
		return EventRunPartial
	case RunStatusCancelled:
		return EventRunCancelled
	}
	return EventRunStarted
}

type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	Workflow  string                 `json:"workflow,omitempty"`
	NodeID    string                 `json:"node_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Attempt   int                    `json:"attempt,omitempty"`
	Error     *NodeError             `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func (e Event) IsNodeEvent() bool {
	return e.NodeID != ""
}
