package domain

import (
	"sync/atomic"
	"time"
)

type ExecutionMetrics struct {
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsFailed    int64 `json:"runs_failed"`
	RunsPartial   int64 `json:"runs_partial"`
	RunsCancelled int64 `json:"runs_cancelled"`

	NodesExecuted  int64 `json:"nodes_executed"`
	NodesSucceeded int64 `json:"nodes_succeeded"`
	NodesFailed    int64 `json:"nodes_failed"`
	NodesSkipped   int64 `json:"nodes_skipped"`
	NodesTimedOut  int64 `json:"nodes_timed_out"`
	NodesRetried   int64 `json:"nodes_retried"`

	TotalNodeTimeNs    int64 `json:"total_node_time_ns"`
	NodeExecutionCount int64 `json:"node_execution_count"`
}

func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{}
}

func (m *ExecutionMetrics) RunStarted() {
	atomic.AddInt64(&m.RunsStarted, 1)
}

func (m *ExecutionMetrics) RunFinished(status RunStatus) {
	switch status {
	case RunStatusCompleted:
		atomic.AddInt64(&m.RunsCompleted, 1)
	case RunStatusFailed:
		atomic.AddInt64(&m.RunsFailed, 1)
	case RunStatusPartial:
		atomic.AddInt64(&m.RunsPartial, 1)
	case RunStatusCancelled:
		atomic.AddInt64(&m.RunsCancelled, 1)
	}
}

func (m *ExecutionMetrics) NodeFinished(state NodeState) {
	switch state.Status {
	case NodeStatusSucceeded:
		atomic.AddInt64(&m.NodesExecuted, 1)
		atomic.AddInt64(&m.NodesSucceeded, 1)
	case NodeStatusFailed:
		atomic.AddInt64(&m.NodesExecuted, 1)
		atomic.AddInt64(&m.NodesFailed, 1)
		if state.Error != nil && state.Error.Kind == ErrorKindTimeout {
			atomic.AddInt64(&m.NodesTimedOut, 1)
		}
	case NodeStatusSkipped:
		atomic.AddInt64(&m.NodesSkipped, 1)
		return
	}

	if state.Attempts > 1 {
		atomic.AddInt64(&m.NodesRetried, int64(state.Attempts-1))
	}
	if d := state.Duration(); d > 0 {
		atomic.AddInt64(&m.TotalNodeTimeNs, int64(d))
		atomic.AddInt64(&m.NodeExecutionCount, 1)
	}
}

func (m *ExecutionMetrics) GetSnapshot() ExecutionMetrics {
	return ExecutionMetrics{
		RunsStarted:        atomic.LoadInt64(&m.RunsStarted),
		RunsCompleted:      atomic.LoadInt64(&m.RunsCompleted),
		RunsFailed:         atomic.LoadInt64(&m.RunsFailed),
		RunsPartial:        atomic.LoadInt64(&m.RunsPartial),
		RunsCancelled:      atomic.LoadInt64(&m.RunsCancelled),
		NodesExecuted:      atomic.LoadInt64(&m.NodesExecuted),
		NodesSucceeded:     atomic.LoadInt64(&m.NodesSucceeded),
		NodesFailed:        atomic.LoadInt64(&m.NodesFailed),
		NodesSkipped:       atomic.LoadInt64(&m.NodesSkipped),
		NodesTimedOut:      atomic.LoadInt64(&m.NodesTimedOut),
		NodesRetried:       atomic.LoadInt64(&m.NodesRetried),
		TotalNodeTimeNs:    atomic.LoadInt64(&m.TotalNodeTimeNs),
		NodeExecutionCount: atomic.LoadInt64(&m.NodeExecutionCount),
	}
}

func (m *ExecutionMetrics) GetAverageNodeTime() time.Duration {
	totalNs := atomic.LoadInt64(&m.TotalNodeTimeNs)
	count := atomic.LoadInt64(&m.NodeExecutionCount)

	if count == 0 {
		return 0
	}

	return time.Duration(totalNs / count)
}
