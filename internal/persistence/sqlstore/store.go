// Package sqlstore implements the persistence repositories on database/sql
// for SQLite (modernc.org/sqlite) and Postgres (github.com/lib/pq).
//
// Queries are written once with ? placeholders and rebound per dialect.
// Instants are stored as fixed-width UTC text.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"

	"github.com/example/meeting-scheduler/internal/persistence"
	"github.com/example/meeting-scheduler/internal/persistence/sqlstore/migration"
)

//go:embed migrations
var migrationFiles embed.FS

// Store implements persistence.Store on a Pool.
type Store struct {
	pool  *Pool
	retry *RetryHelper
}

var _ persistence.Store = (*Store)(nil)

// NewStore wraps pool. Transactions are retried with DefaultRetryConfig.
func NewStore(pool *Pool) *Store {
	return NewStoreWithRetry(pool, DefaultRetryConfig())
}

// NewStoreWithRetry wraps pool with a custom retry policy.
func NewStoreWithRetry(pool *Pool, retry RetryConfig) *Store {
	return &Store{pool: pool, retry: NewRetryHelper(retry)}
}

// Pool returns the underlying pool.
func (s *Store) Pool() *Pool {
	return s.pool
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Migrate applies the embedded migrations for the pool's dialect.
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) error {
	return s.MigrationManager(logger).Run(ctx)
}

// MigrationManager returns a manager over the embedded migrations for the
// pool's dialect.
func (s *Store) MigrationManager(logger *slog.Logger) *migration.Manager {
	dialect := s.pool.Dialect()
	executor := migration.NewExecutor(s.pool.DB(), func(query string) string {
		return rebind(dialect, query)
	})
	return migration.NewManager(migrationFiles, "migrations/"+string(dialect), executor, logger)
}

// Repositories returns repositories bound to the connection pool.
func (s *Store) Repositories() persistence.Repositories {
	return s.bind(s.pool.DB())
}

// WithinTransaction runs fn inside a transaction, retrying the whole
// transaction when the database reports a lock conflict.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos persistence.Repositories) error) error {
	return s.retry.WithRetry(ctx, func() error {
		return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			return fn(ctx, s.bind(tx))
		})
	})
}

func (s *Store) bind(q queryer) persistence.Repositories {
	helper := newQueryHelper(q, s.pool.Dialect())
	mapper := NewErrorMapper()
	return persistence.Repositories{
		Recurrences: &RecurrenceRepository{helper: helper, mapper: mapper},
		Meetings:    &MeetingRepository{helper: helper, mapper: mapper},
		Tasks:       &TaskRepository{helper: helper, mapper: mapper},
		Users:       &UserRepository{helper: helper, mapper: mapper},
		Replicas:    &ReplicaRepository{helper: helper, mapper: mapper},
		Events:      &EventLogRepository{helper: helper, mapper: mapper},
	}
}
