package domain

import "fmt"

const (
	RunSnapshotPrefix = "run:snapshot:"
	RunIndexPrefix    = "run:index:"
	EventPrefix       = "event:"
)

// RunSnapshotKey builds the canonical key for run snapshot storage
func RunSnapshotKey(id string) string {
	return fmt.Sprintf("%s%s", RunSnapshotPrefix, id)
}

// RunIndexKey orders runs by creation time so prefix scans return newest last
func RunIndexKey(createdUnixNano int64, id string) string {
	return fmt.Sprintf("%s%020d:%s", RunIndexPrefix, createdUnixNano, id)
}

// EventKey orders a run's events by their sequence number.
func EventKey(runID string, seq int64, eventID string) string {
	return fmt.Sprintf("%s%s:%010d:%s", EventPrefix, runID, seq, eventID)
}

func RunEventsPrefix(runID string) string {
	return EventPrefix + runID + ":"
}
