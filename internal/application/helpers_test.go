package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/meeting-scheduler/internal/persistence"
	"github.com/example/meeting-scheduler/internal/persistence/sqlstore"
)

// tuesday is 2024-01-02, a Tuesday.
var tuesday = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

const weeklyTuesday = "FREQ=WEEKLY;BYDAY=TU"

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()

	ctx := context.Background()
	pool, err := sqlstore.Open(ctx, sqlstore.DefaultConfig(sqlstore.DialectSQLite, filepath.Join(t.TempDir(), "scheduler.db")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	store := sqlstore.NewStore(pool)
	if err := store.Migrate(ctx, discardLogger()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func fixedNow() time.Time { return tuesday }

func strPtr(s string) *string { return &s }

func seedReplica(t *testing.T, store persistence.Store, id, email string) {
	t.Helper()

	_, err := store.Repositories().Replicas.InsertReplicaIfAbsent(context.Background(), persistence.ReplicatedUser{
		ID: id, Email: email, FirstName: id, UpdatedAt: tuesday,
	})
	if err != nil {
		t.Fatalf("seed replica: %v", err)
	}
}

// seedSeries stores a weekly recurrence and one meeting per start.
func seedSeries(t *testing.T, store persistence.Store, id string, starts ...time.Time) []Meeting {
	t.Helper()

	meetings := make([]Meeting, len(starts))
	for i, start := range starts {
		end := start.Add(45 * time.Minute)
		meetings[i] = Meeting{
			ID:           fmt.Sprintf("%s-m%d", id, i+1),
			RecurrenceID: strPtr(id),
			Title:        "Weekly sync",
			StartDate:    start,
			EndDate:      &end,
			Duration:     45 * time.Minute,
			Location:     "Room A",
			Notes:        "agenda",
			CreatedAt:    tuesday,
		}
	}

	err := store.WithinTransaction(context.Background(), func(ctx context.Context, repos persistence.Repositories) error {
		if err := repos.Recurrences.CreateRecurrence(ctx, Recurrence{ID: id, Title: "Weekly sync", Rule: weeklyTuesday, CreatedAt: tuesday}); err != nil {
			return err
		}
		if len(meetings) == 0 {
			return nil
		}
		return repos.Meetings.CreateMeetings(ctx, meetings)
	})
	if err != nil {
		t.Fatalf("seed series: %v", err)
	}
	return meetings
}

func seedTasks(t *testing.T, store persistence.Store, meetingID string, tasks ...Task) {
	t.Helper()

	err := store.WithinTransaction(context.Background(), func(ctx context.Context, repos persistence.Repositories) error {
		for _, task := range tasks {
			if err := repos.Tasks.CreateTask(ctx, task); err != nil {
				return err
			}
			if err := repos.Tasks.LinkTask(ctx, persistence.MeetingTask{MeetingID: meetingID, TaskID: task.ID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed tasks: %v", err)
	}
}

func expectValidationField(t *testing.T, err error, field string) {
	t.Helper()

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if _, ok := vErr.FieldErrors[field]; !ok {
		t.Fatalf("expected error on %q, got %#v", field, vErr.FieldErrors)
	}
}

func taskIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}
