package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/xjson"
)

const defaultJournalTTL = 24 * time.Hour

// Journal is an event sink that keeps each run's event history in badger
// under event:<run_id>:<sequence>:<event_id>. Entries expire after ttl.
type Journal struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	sequence map[string]int64
}

func NewJournal(db *badger.DB, ttl time.Duration, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultJournalTTL
	}

	return &Journal{
		db:       db,
		ttl:      ttl,
		logger:   logger.With("component", "event-journal"),
		sequence: make(map[string]int64),
	}
}

func (j *Journal) Emit(event domain.Event) {
	if err := j.Append(event); err != nil {
		j.logger.Warn("failed to journal event", "error", err, "run_id", event.RunID, "event_type", event.Type)
	}
}

// Append stores one event. Terminal run events release the run's sequence
// counter.
func (j *Journal) Append(event domain.Event) error {
	if event.RunID == "" || event.ID == "" {
		return domain.NewValidationError("event needs a run id and an event id")
	}

	data, err := xjson.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	j.mu.Lock()
	j.sequence[event.RunID]++
	seq := j.sequence[event.RunID]
	if isRunTerminal(event.Type) {
		delete(j.sequence, event.RunID)
	}
	j.mu.Unlock()

	key := domain.EventKey(event.RunID, seq, event.ID)
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data).WithTTL(j.ttl))
	})
	if err != nil {
		return fmt.Errorf("store event %s: %w", event.ID, err)
	}
	return nil
}

// History returns the stored events of a run in emit order, at most limit
// when limit is positive.
func (j *Journal) History(_ context.Context, runID string, limit int) ([]domain.Event, error) {
	if runID == "" {
		return nil, domain.NewValidationError("run id is required")
	}

	var events []domain.Event
	err := j.db.View(func(txn *badger.Txn) error {
		prefix := []byte(domain.RunEventsPrefix(runID))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(events) >= limit {
				break
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var event domain.Event
				if err := xjson.Unmarshal(val, &event); err != nil {
					j.logger.Warn("skipping malformed journal entry", "error", err, "key", string(item.Key()))
					return nil
				}
				events = append(events, event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read events of run %s: %w", runID, err)
	}
	return events, nil
}

// Forget deletes a run's journal.
func (j *Journal) Forget(runID string) error {
	prefix := []byte(domain.RunEventsPrefix(runID))
	err := j.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("forget run %s: %w", runID, err)
	}

	j.mu.Lock()
	delete(j.sequence, runID)
	j.mu.Unlock()
	return nil
}

func isRunTerminal(t domain.EventType) bool {
	switch t {
	case domain.EventRunCompleted, domain.EventRunFailed, domain.EventRunPartial, domain.EventRunCancelled:
		return true
	}
	return false
}
