package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/meeting-scheduler/internal/persistence"
	"github.com/example/meeting-scheduler/internal/persistence/sqlstore"
)

// NewStore opens a migrated SQLite store in a temporary directory. The pool
// is closed when the test finishes.
func NewStore(tb testing.TB) *sqlstore.Store {
	tb.Helper()

	ctx := context.Background()
	cfg := sqlstore.DefaultConfig(sqlstore.DialectSQLite, filepath.Join(tb.TempDir(), "scheduler.db"))
	pool, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		tb.Fatalf("failed to open store: %v", err)
	}
	tb.Cleanup(func() { _ = pool.Close() })

	store := sqlstore.NewStore(pool)
	if err := store.Migrate(ctx, DiscardLogger()); err != nil {
		tb.Fatalf("failed to migrate store: %v", err)
	}
	return store
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SeedReplicas inserts replicated users directly, bypassing the replicator.
func SeedReplicas(tb testing.TB, store persistence.Store, replicas ...persistence.ReplicatedUser) {
	tb.Helper()

	ctx := context.Background()
	for _, replica := range replicas {
		if _, err := store.Repositories().Replicas.InsertReplicaIfAbsent(ctx, replica); err != nil {
			tb.Fatalf("failed to seed replica %s: %v", replica.ID, err)
		}
	}
}

// SeedRecurrence inserts a recurrence together with its meetings.
func SeedRecurrence(tb testing.TB, store persistence.Store, rule persistence.RecurrenceRule, meetings ...persistence.Meeting) {
	tb.Helper()

	err := store.WithinTransaction(context.Background(), func(ctx context.Context, repos persistence.Repositories) error {
		if err := repos.Recurrences.CreateRecurrence(ctx, rule); err != nil {
			return err
		}
		if len(meetings) == 0 {
			return nil
		}
		return repos.Meetings.CreateMeetings(ctx, meetings)
	})
	if err != nil {
		tb.Fatalf("failed to seed recurrence %s: %v", rule.ID, err)
	}
}

// SeedTasks inserts tasks and links each one to meetingID when it is set.
func SeedTasks(tb testing.TB, store persistence.Store, meetingID string, tasks ...persistence.Task) {
	tb.Helper()

	err := store.WithinTransaction(context.Background(), func(ctx context.Context, repos persistence.Repositories) error {
		for _, task := range tasks {
			if err := repos.Tasks.CreateTask(ctx, task); err != nil {
				return err
			}
			if meetingID == "" {
				continue
			}
			if err := repos.Tasks.LinkTask(ctx, persistence.MeetingTask{MeetingID: meetingID, TaskID: task.ID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tb.Fatalf("failed to seed tasks: %v", err)
	}
}
