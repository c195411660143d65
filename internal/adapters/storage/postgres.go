package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conduit_runs (
	id         TEXT PRIMARY KEY,
	workflow   TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	snapshot   JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS conduit_runs_created_idx ON conduit_runs (created_at DESC, id);
CREATE INDEX IF NOT EXISTS conduit_runs_workflow_idx ON conduit_runs (workflow, status);
`

type PostgresStore struct {
	pool   *pgxpool.Pool
	retain int
	logger *slog.Logger
}

// OpenPostgresStore connects to dsn and creates the runs table if needed.
func OpenPostgresStore(ctx context.Context, dsn string, retain int, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewPostgresStore(pool, retain, logger)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func NewPostgresStore(pool *pgxpool.Pool, retain int, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		retain: retain,
		logger: logger.With("component", "run-store", "backend", "postgres"),
	}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate run store: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, run *domain.RunSnapshot) error {
	if err := validateSnapshot(run); err != nil {
		return err
	}

	data, err := encodeSnapshot(run)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conduit_runs (id, workflow, status, created_at, updated_at, snapshot)
		VALUES ($1, $2, $3, $4, now(), $5::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = now(), snapshot = EXCLUDED.snapshot`,
		run.ID, run.Workflow, string(run.Status), run.CreatedAt, string(data))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if run.Status.Terminal() && s.retain > 0 {
		if err := s.prune(ctx); err != nil {
			s.logger.Warn("failed to prune run snapshots", "error", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.RunSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM conduit_runs WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("run", id)
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return decodeSnapshot(data)
}

func (s *PostgresStore) List(ctx context.Context, filter domain.RunFilter) ([]*domain.RunSnapshot, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Workflow != "" {
		args = append(args, filter.Workflow)
		clauses = append(clauses, fmt.Sprintf("workflow = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := "SELECT snapshot FROM conduit_runs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.RunSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		run, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conduit_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("run", id)
	}
	return nil
}

func (s *PostgresStore) prune(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM conduit_runs WHERE id IN (
			SELECT id FROM conduit_runs
			WHERE status IN ('completed', 'failed', 'partial', 'cancelled')
			ORDER BY created_at DESC, id ASC
			OFFSET $1
		)`, s.retain)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ ports.RunStore = (*PostgresStore)(nil)
