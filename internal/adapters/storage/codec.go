package storage

import (
	"fmt"
	"sort"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/xjson"
)

func encodeSnapshot(run *domain.RunSnapshot) ([]byte, error) {
	data, err := xjson.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*domain.RunSnapshot, error) {
	var run domain.RunSnapshot
	if err := xjson.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run snapshot: %w", err)
	}
	if run.Nodes == nil {
		run.Nodes = map[string]domain.NodeState{}
	}
	return &run, nil
}

func validateSnapshot(run *domain.RunSnapshot) error {
	if run == nil || run.ID == "" {
		return domain.NewValidationError("run snapshot requires an id")
	}
	return nil
}

// newestFirst orders runs by creation time, breaking ties on id so listings
// are stable.
func newestFirst(runs []*domain.RunSnapshot) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
