package ports

import (
	"context"

	"github.com/eleven-am/conduit/internal/domain"
)

type WorkflowEngine interface {
	Execute(ctx context.Context, graph *domain.WorkflowGraph, input map[string]interface{}) (*domain.RunSnapshot, error)
	Start(ctx context.Context, graph *domain.WorkflowGraph, input map[string]interface{}) (string, error)
	Wait(ctx context.Context, runID string) (*domain.RunSnapshot, error)
	Cancel(runID string) error
	Snapshot(ctx context.Context, runID string) (*domain.RunSnapshot, error)
	List(ctx context.Context, filter domain.RunFilter) ([]*domain.RunSnapshot, error)
	Shutdown(ctx context.Context) error
}
