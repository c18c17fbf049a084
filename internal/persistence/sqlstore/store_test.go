package sqlstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/meeting-scheduler/internal/persistence"
)

var baseTime = time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	cfg := DefaultConfig(DialectSQLite, filepath.Join(t.TempDir(), "scheduler.db"))
	pool, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	store := NewStore(pool)
	require.NoError(t, store.Migrate(ctx, slog.New(slog.NewTextHandler(io.Discard, nil))))
	return store
}

func strPtr(s string) *string { return &s }

func seedSeries(t *testing.T, repos persistence.Repositories, id string, starts ...time.Time) []persistence.Meeting {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, repos.Recurrences.CreateRecurrence(ctx, persistence.RecurrenceRule{
		ID: id, Title: "Weekly sync", Rule: "FREQ=WEEKLY;BYDAY=TU", CreatedAt: baseTime,
	}))

	meetings := make([]persistence.Meeting, len(starts))
	for i, start := range starts {
		meetings[i] = persistence.Meeting{
			ID:           id + "-m" + string(rune('a'+i)),
			RecurrenceID: strPtr(id),
			Title:        "Weekly sync",
			StartDate:    start,
			Duration:     30 * time.Minute,
			CreatedAt:    baseTime,
		}
	}
	require.NoError(t, repos.Meetings.CreateMeetings(ctx, meetings))
	return meetings
}

func TestMigrate_IsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, store.Migrate(ctx, logger))

	status, err := store.MigrationManager(logger).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "004", status.CurrentVersion)
	assert.Empty(t, status.Pending)
	assert.Len(t, status.Applied, 4)
}

func TestMeetingRepository_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()
	ctx := context.Background()

	end := baseTime.Add(2 * time.Hour)
	meeting := persistence.Meeting{
		ID:        "m1",
		Title:     "Kickoff",
		StartDate: baseTime.In(time.FixedZone("JST", 9*60*60)),
		EndDate:   &end,
		Duration:  45 * time.Minute,
		Location:  "Room A",
		Notes:     "bring slides",
		CreatedAt: baseTime,
	}
	require.NoError(t, repos.Meetings.CreateMeeting(ctx, meeting))

	got, err := repos.Meetings.GetMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.StartDate.Equal(baseTime))
	assert.Equal(t, time.UTC, got.StartDate.Location())
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(end))
	assert.Equal(t, 45*time.Minute, got.Duration)
	assert.Nil(t, got.RecurrenceID)
	assert.False(t, got.InSeries())

	got.Completed = true
	got.NumReschedules = 2
	require.NoError(t, repos.Meetings.UpdateMeeting(ctx, got))

	got, err = repos.Meetings.GetMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Equal(t, 2, got.NumReschedules)

	_, err = repos.Meetings.GetMeeting(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.ErrorIs(t, repos.Meetings.UpdateMeeting(ctx, persistence.Meeting{ID: "missing", StartDate: baseTime}), persistence.ErrNotFound)
}

func TestMeetingRepository_SeriesQueries(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()
	ctx := context.Background()

	week := 7 * 24 * time.Hour
	seeded := seedSeries(t, repos, "r1", baseTime.Add(2*week), baseTime, baseTime.Add(week))

	next, err := repos.Meetings.NextInSeries(ctx, "r1", baseTime)
	require.NoError(t, err)
	assert.Equal(t, seeded[2].ID, next.ID)

	_, err = repos.Meetings.NextInSeries(ctx, "r1", baseTime.Add(2*week))
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	latest, err := repos.Meetings.LatestInSeries(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, seeded[0].ID, latest.ID)

	_, err = repos.Meetings.LatestInSeries(ctx, "other")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	listed, err := repos.Meetings.ListMeetings(ctx, persistence.MeetingFilter{RecurrenceID: "r1"})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, []string{seeded[1].ID, seeded[2].ID, seeded[0].ID}, []string{listed[0].ID, listed[1].ID, listed[2].ID})

	from := baseTime.Add(week)
	listed, err = repos.Meetings.ListMeetings(ctx, persistence.MeetingFilter{RecurrenceID: "r1", StartsFrom: &from, Limit: 1})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, seeded[2].ID, listed[0].ID)
}

func TestMeetingRepository_Attendees(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()
	ctx := context.Background()

	meetings := seedSeries(t, repos, "r1", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, repos.Meetings.AddAttendee(ctx, meetings[0].ID, "u1"))
	require.NoError(t, repos.Meetings.AddAttendee(ctx, meetings[0].ID, "u1"))
	require.NoError(t, repos.Meetings.AddAttendee(ctx, meetings[0].ID, "u2"))

	ids, err := repos.Meetings.ListAttendees(ctx, meetings[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	byUser, err := repos.Meetings.ListMeetings(ctx, persistence.MeetingFilter{AttendeeID: "u2"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, meetings[0].ID, byUser[0].ID)

	require.NoError(t, repos.Meetings.RemoveAttendee(ctx, meetings[0].ID, "u2"))
	assert.ErrorIs(t, repos.Meetings.RemoveAttendee(ctx, meetings[0].ID, "u2"), persistence.ErrNotFound)
}

func TestRecurrenceRepository_DeleteDetachesMeetings(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()
	ctx := context.Background()

	meetings := seedSeries(t, repos, "r1", baseTime)
	require.NoError(t, repos.Recurrences.DeleteRecurrence(ctx, "r1"))

	got, err := repos.Meetings.GetMeeting(ctx, meetings[0].ID)
	require.NoError(t, err)
	assert.Nil(t, got.RecurrenceID)

	assert.ErrorIs(t, repos.Recurrences.DeleteRecurrence(ctx, "r1"), persistence.ErrNotFound)
}

func TestTaskRepository_ReassignTasks(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()
	ctx := context.Background()

	meetings := seedSeries(t, repos, "r1", baseTime, baseTime.Add(time.Hour))
	from, to := meetings[0].ID, meetings[1].ID

	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, repos.Tasks.CreateTask(ctx, persistence.Task{ID: id, Title: id, CreatedAt: baseTime}))
		require.NoError(t, repos.Tasks.LinkTask(ctx, persistence.MeetingTask{MeetingID: from, TaskID: id}))
	}
	// t2 already lives on the target too.
	require.NoError(t, repos.Tasks.LinkTask(ctx, persistence.MeetingTask{MeetingID: to, TaskID: "t2"}))

	require.NoError(t, repos.Tasks.ReassignTasks(ctx, from, to, []string{"t1", "t2"}))

	onSource, err := repos.Tasks.ListTasksForMeeting(ctx, from)
	require.NoError(t, err)
	require.Len(t, onSource, 1)
	assert.Equal(t, "t3", onSource[0].ID)

	onTarget, err := repos.Tasks.ListTasksForMeeting(ctx, to)
	require.NoError(t, err)
	assert.Len(t, onTarget, 2)
}

func TestTaskRepository_ListOpenTasks(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()
	ctx := context.Background()

	meetings := seedSeries(t, repos, "r1", baseTime)
	done := baseTime.Add(time.Hour)
	require.NoError(t, repos.Tasks.CreateTask(ctx, persistence.Task{ID: "open", Title: "open", AssigneeID: strPtr("u1"), CreatedAt: baseTime}))
	require.NoError(t, repos.Tasks.CreateTask(ctx, persistence.Task{ID: "done", Title: "done", Completed: true, CompletedDate: &done, CreatedAt: baseTime}))
	for _, id := range []string{"open", "done"} {
		require.NoError(t, repos.Tasks.LinkTask(ctx, persistence.MeetingTask{MeetingID: meetings[0].ID, TaskID: id}))
	}

	open, err := repos.Tasks.ListOpenTasksForMeeting(ctx, meetings[0].ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "open", open[0].ID)
	require.NotNil(t, open[0].AssigneeID)
	assert.Equal(t, "u1", *open[0].AssigneeID)

	got, err := repos.Tasks.GetTask(ctx, "done")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedDate)
	assert.True(t, got.CompletedDate.Equal(done))
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()
	ctx := context.Background()

	user := persistence.User{ID: "u1", Email: "a@example.com", HashedPassword: "x", CreatedAt: baseTime, UpdatedAt: baseTime}
	require.NoError(t, repos.Users.CreateUser(ctx, user))

	user.ID = "u2"
	assert.ErrorIs(t, repos.Users.CreateUser(ctx, user), persistence.ErrDuplicate)

	got, err := repos.Users.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
}

func TestReplicaRepository_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()
	ctx := context.Background()

	replica := persistence.ReplicatedUser{ID: "u1", Email: "a@example.com", FirstName: "Ada", LastName: "Lovelace", UpdatedAt: baseTime}
	inserted, err := repos.Replicas.InsertReplicaIfAbsent(ctx, replica)
	require.NoError(t, err)
	assert.True(t, inserted)

	replica.Email = "other@example.com"
	inserted, err = repos.Replicas.InsertReplicaIfAbsent(ctx, replica)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, repos.Replicas.PatchReplica(ctx, "u1", persistence.ReplicatedUserPatch{LastName: strPtr("King")}, baseTime.Add(time.Minute)))
	got, err := repos.Replicas.GetReplica(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, "King", got.LastName)
	assert.True(t, got.UpdatedAt.Equal(baseTime.Add(time.Minute)))

	assert.ErrorIs(t, repos.Replicas.PatchReplica(ctx, "missing", persistence.ReplicatedUserPatch{}, baseTime), persistence.ErrNotFound)

	removed, err := repos.Replicas.DeleteReplica(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repos.Replicas.DeleteReplica(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestEventLogRepository_ReadAfterCursor(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()
	ctx := context.Background()

	var seqs []int64
	for _, body := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		seq, err := repos.Events.AppendEvent(ctx, "user-events", []byte(body), baseTime)
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}
	_, err := repos.Events.AppendEvent(ctx, "other-events", []byte(`{}`), baseTime)
	require.NoError(t, err)

	cursor, err := repos.Events.GetCursor(ctx, "replica", "user-events")
	require.NoError(t, err)
	assert.Zero(t, cursor)

	require.NoError(t, repos.Events.SaveCursor(ctx, "replica", "user-events", seqs[0]))
	require.NoError(t, repos.Events.SaveCursor(ctx, "replica", "user-events", seqs[1]))
	cursor, err = repos.Events.GetCursor(ctx, "replica", "user-events")
	require.NoError(t, err)
	assert.Equal(t, seqs[1], cursor)

	events, err := repos.Events.ReadEvents(ctx, "user-events", cursor, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, seqs[2], events[0].Sequence)
	assert.JSONEq(t, `{"n":3}`, string(events[0].Body))
}

func TestStore_WithinTransactionRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if err := repos.Recurrences.CreateRecurrence(ctx, persistence.RecurrenceRule{ID: "r1", Title: "t", Rule: "FREQ=DAILY", CreatedAt: baseTime}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Repositories().Recurrences.GetRecurrence(ctx, "r1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestRetryHelper_RetriesOnlyLockErrors(t *testing.T) {
	helper := NewRetryHelper(RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2})
	ctx := context.Background()

	calls := 0
	err := helper.WithRetry(ctx, func() error {
		calls++
		if calls < 3 {
			return persistence.ErrLocked
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = helper.WithRetry(ctx, func() error {
		calls++
		return persistence.ErrDuplicate
	})
	assert.ErrorIs(t, err, persistence.ErrDuplicate)
	assert.Equal(t, 1, calls)
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		want    string
	}{
		{"sqlite untouched", DialectSQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres numbered", DialectPostgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"postgres skips literals", DialectPostgres, "SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rebind(tt.dialect, tt.query))
		})
	}
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	d, err = ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}
