package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
)

// BadgerStore persists snapshots under run:snapshot:<id> and keeps a
// creation-ordered index under run:index:<created>:<id>.
type BadgerStore struct {
	db     *badger.DB
	retain int
	owned  bool
	logger *slog.Logger
}

// OpenBadgerStore opens (or creates) a database at path. An empty path
// keeps the database in memory.
func OpenBadgerStore(path string, retain int, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}

	store := NewBadgerStore(db, retain, logger)
	store.owned = true
	return store, nil
}

func NewBadgerStore(db *badger.DB, retain int, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{
		db:     db,
		retain: retain,
		logger: logger.With("component", "run-store", "backend", "badger"),
	}
}

func (s *BadgerStore) Save(_ context.Context, run *domain.RunSnapshot) error {
	if err := validateSnapshot(run); err != nil {
		return err
	}

	data, err := encodeSnapshot(run)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(domain.RunSnapshotKey(run.ID)), data); err != nil {
			return err
		}
		return txn.Set([]byte(domain.RunIndexKey(run.CreatedAt.UnixNano(), run.ID)), []byte(run.ID))
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if run.Status.Terminal() && s.retain > 0 {
		if err := s.prune(); err != nil {
			s.logger.Warn("failed to prune run snapshots", "error", err)
		}
	}
	return nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (*domain.RunSnapshot, error) {
	var run *domain.RunSnapshot

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		run, err = readSnapshot(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func readSnapshot(txn *badger.Txn, id string) (*domain.RunSnapshot, error) {
	item, err := txn.Get([]byte(domain.RunSnapshotKey(id)))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.NewNotFoundError("run", id)
		}
		return nil, err
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(data)
}

// List walks the index backwards so the newest runs come first.
func (s *BadgerStore) List(_ context.Context, filter domain.RunFilter) ([]*domain.RunSnapshot, error) {
	var out []*domain.RunSnapshot

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(domain.RunIndexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append([]byte(domain.RunIndexPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			run, err := readSnapshot(txn, string(id))
			if err != nil {
				if domain.IsNotFound(err) {
					continue
				}
				return err
			}
			if !filter.Matches(run) {
				continue
			}

			out = append(out, run)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		run, err := readSnapshot(txn, id)
		if err != nil {
			return err
		}
		return deleteRun(txn, run)
	})
}

func deleteRun(txn *badger.Txn, run *domain.RunSnapshot) error {
	if err := txn.Delete([]byte(domain.RunSnapshotKey(run.ID))); err != nil {
		return err
	}
	return txn.Delete([]byte(domain.RunIndexKey(run.CreatedAt.UnixNano(), run.ID)))
}

// prune drops the oldest terminal runs beyond the retention limit.
func (s *BadgerStore) prune() error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(domain.RunIndexPrefix)
		opts.PrefetchValues = false

		total := 0
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			total++
		}
		it.Close()

		excess := total - s.retain
		if excess <= 0 {
			return nil
		}

		var victims []*domain.RunSnapshot
		opts.PrefetchValues = true
		it = txn.NewIterator(opts)
		for it.Rewind(); it.Valid() && len(victims) < excess; it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			run, err := readSnapshot(txn, string(id))
			if err != nil || !run.Status.Terminal() {
				continue
			}
			victims = append(victims, run)
		}
		it.Close()

		for _, run := range victims {
			if err := deleteRun(txn, run); err != nil {
				return err
			}
		}
		if len(victims) > 0 {
			s.logger.Debug("pruned run snapshots", "count", len(victims))
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

var _ ports.RunStore = (*BadgerStore)(nil)

// DB exposes the underlying database so other components can share it.
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}
