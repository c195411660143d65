package domain

import "context"

type contextKey string

const RunInfoKey contextKey = "conduit:run_info"

// RunInfo identifies the run and node a context belongs to.
type RunInfo struct {
	RunID    string
	Workflow string
	NodeID   string
	Attempt  int
}

func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, RunInfoKey, info)
}

func GetRunInfo(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(RunInfoKey).(RunInfo)
	return info, ok
}
