package domain

import (
	"time"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusCancelled RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return true
	}
	return false
}

func ParseRunStatus(s string) (RunStatus, bool) {
	status := RunStatus(s)
	switch status {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return status, true
	}
	return "", false
}

// RunSnapshot is a point-in-time copy of an execution run. Once Status is
// terminal the snapshot never changes.
type RunSnapshot struct {
	ID        string                 `json:"id"`
	Workflow  string                 `json:"workflow"`
	Status    RunStatus              `json:"status"`
	Input     map[string]interface{} `json:"input,omitempty"`
	Nodes     map[string]NodeState   `json:"nodes"`
	Order     []string               `json:"order"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     *NodeError             `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	StartedAt *time.Time             `json:"started_at,omitempty"`
	EndedAt   *time.Time             `json:"ended_at,omitempty"`
}

func (r *RunSnapshot) Clone() *RunSnapshot {
	if r == nil {
		return nil
	}
	out := *r
	out.Input = CloneMap(r.Input)
	out.Output = CloneMap(r.Output)
	out.Order = append([]string(nil), r.Order...)
	out.Nodes = make(map[string]NodeState, len(r.Nodes))
	for id, state := range r.Nodes {
		out.Nodes[id] = state.Clone()
	}
	if r.Error != nil {
		errCopy := *r.Error
		out.Error = &errCopy
	}
	return &out
}

func (r *RunSnapshot) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

func (r *RunSnapshot) CountByStatus() map[NodeStatus]int {
	counts := make(map[NodeStatus]int)
	for _, state := range r.Nodes {
		counts[state.Status]++
	}
	return counts
}

type RunFilter struct {
	Workflow string
	Status   RunStatus
	Limit    int
}

func (f RunFilter) Matches(r *RunSnapshot) bool {
	if f.Workflow != "" && r.Workflow != f.Workflow {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
