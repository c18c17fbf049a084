package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/meeting-scheduler/internal/application"
	"github.com/example/meeting-scheduler/internal/testfixtures"
)

func TestHorizonJob_RunOnce_ExtendsEverySeries(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewStore(t)
	factory := testfixtures.NewServiceFactory(store)
	ctx := context.Background()

	testfixtures.SeedRecurrence(t, store,
		testfixtures.NewRecurrenceFixture(testfixtures.WithRecurrenceID("rec-weekly")).Persistence(),
		testfixtures.NewMeetingFixture(testfixtures.WithMeetingRecurrence("rec-weekly")).Persistence(),
	)
	testfixtures.SeedRecurrence(t, store,
		testfixtures.NewRecurrenceFixture(testfixtures.WithRecurrenceID("rec-empty")).Persistence(),
	)

	job := NewHorizonJob(factory.Recurrences(), factory.Meetings(), 21*24*time.Hour, factory.Clock.NowFunc(), testfixtures.DiscardLogger())

	report, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Series)
	assert.Equal(t, 2, report.Created)
	assert.Zero(t, report.Failed)
	assert.True(t, report.Until.Equal(testfixtures.ReferenceTime().Add(21*24*time.Hour)))

	meetings, err := factory.Meetings().ListMeetings(ctx, application.ListMeetingsParams{RecurrenceID: "rec-weekly"})
	require.NoError(t, err)
	require.Len(t, meetings, 3)
	assert.True(t, meetings[2].StartDate.Equal(testfixtures.ReferenceTime().AddDate(0, 0, 14)))

	again, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Created, "a second pass over the same horizon creates nothing")
}

type stubLister struct {
	rules []application.Recurrence
	err   error
}

func (s stubLister) ListRecurrences(context.Context) ([]application.Recurrence, error) {
	return s.rules, s.err
}

type stubExtender struct {
	failFor string
	calls   atomic.Int32
}

func (s *stubExtender) ExtendSeries(_ context.Context, recurrenceID string, _ time.Time) (application.BatchResult, error) {
	s.calls.Add(1)
	if recurrenceID == s.failFor {
		return application.BatchResult{}, errors.New("database is on fire")
	}
	return application.BatchResult{Created: []application.Meeting{{ID: recurrenceID + "-next"}}}, nil
}

func TestHorizonJob_RunOnce_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	lister := stubLister{rules: []application.Recurrence{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	extender := &stubExtender{failFor: "b"}
	job := NewHorizonJob(lister, extender, time.Hour, nil, testfixtures.DiscardLogger())

	report, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Series)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Failed)
	assert.EqualValues(t, 3, extender.calls.Load())
}

func TestHorizonJob_RunOnce_ListFailure(t *testing.T) {
	t.Parallel()

	job := NewHorizonJob(stubLister{err: errors.New("no connection")}, &stubExtender{}, time.Hour, nil, testfixtures.DiscardLogger())

	_, err := job.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list recurrences")
}

func TestNewRunner(t *testing.T) {
	t.Parallel()

	job := NewHorizonJob(stubLister{}, &stubExtender{}, time.Hour, nil, testfixtures.DiscardLogger())

	_, err := NewRunner("not a schedule", job, nil)
	require.Error(t, err)

	_, err = NewRunner("", nil, nil)
	require.Error(t, err)

	runner, err := NewRunner("", job, nil)
	require.NoError(t, err)
	next := runner.Next(time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC))
	assert.Equal(t, time.Date(2024, time.January, 2, 16, 0, 0, 0, time.UTC), next)
}

func TestRunner_RunFiresAndStops(t *testing.T) {
	t.Parallel()

	extender := &stubExtender{}
	job := NewHorizonJob(stubLister{rules: []application.Recurrence{{ID: "a"}}}, extender, time.Hour, nil, testfixtures.DiscardLogger())
	runner, err := NewRunner("@every 1s", job, testfixtures.DiscardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return extender.calls.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}
