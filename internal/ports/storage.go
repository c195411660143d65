package ports

import (
	"context"

	"github.com/eleven-am/conduit/internal/domain"
)

// RunStore persists run snapshots for later inspection.
type RunStore interface {
	Save(ctx context.Context, run *domain.RunSnapshot) error
	Get(ctx context.Context, id string) (*domain.RunSnapshot, error)
	List(ctx context.Context, filter domain.RunFilter) ([]*domain.RunSnapshot, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
