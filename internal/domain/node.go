package domain

import (
	"time"
)

type NodeStatus string

const (
	NodeStatusNotStarted NodeStatus = "not_started"
	NodeStatusRunning    NodeStatus = "running"
	NodeStatusSucceeded  NodeStatus = "succeeded"
	NodeStatusFailed     NodeStatus = "failed"
	NodeStatusSkipped    NodeStatus = "skipped"
)

func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSucceeded || s == NodeStatusFailed || s == NodeStatusSkipped
}

type SkipReason string

const (
	SkipUpstreamFailed SkipReason = "upstream_failed"
	SkipBranchNotTaken SkipReason = "branch_not_taken"
	SkipRunAborted     SkipReason = "run_aborted"
	SkipCancelled      SkipReason = "cancelled"
)

// NodeState is the per-node row of a run's execution table.
type NodeState struct {
	NodeID     string                 `json:"node_id"`
	Type       string                 `json:"type"`
	Status     NodeStatus             `json:"status"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      *NodeError             `json:"error,omitempty"`
	SkipReason SkipReason             `json:"skip_reason,omitempty"`
	Attempts   int                    `json:"attempts"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	EndedAt    *time.Time             `json:"ended_at,omitempty"`
}

func (s NodeState) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}

func (s NodeState) Clone() NodeState {
	out := s
	out.Output = CloneMap(s.Output)
	if s.Error != nil {
		errCopy := *s.Error
		out.Error = &errCopy
	}
	return out
}
