package application

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestTaskService_CreateTask_LinksMeeting(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	seeded := seedSeries(t, store, "rec-1", tuesday)
	seedReplica(t, store, "user-1", "ada@example.com")
	svc := NewTaskService(store, sequentialIDs("task"), fixedNow, discardLogger())
	ctx := context.Background()

	due := week(1)
	task, err := svc.CreateTask(ctx, TaskInput{
		Title:      " Prepare slides ",
		AssigneeID: strPtr(" user-1 "),
		DueDate:    &due,
		MeetingID:  &seeded[0].ID,
	})
	if err != nil {
		t.Fatalf("CreateTask returned error: %v", err)
	}
	if task.ID != "task-1" || task.Title != "Prepare slides" {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.AssigneeID == nil || *task.AssigneeID != "user-1" {
		t.Fatalf("expected trimmed assignee, got %v", task.AssigneeID)
	}
	if task.Completed || task.CompletedDate != nil {
		t.Fatalf("expected open task, got %+v", task)
	}

	linked, err := svc.ListTasksForMeeting(ctx, seeded[0].ID)
	if err != nil {
		t.Fatalf("ListTasksForMeeting returned error: %v", err)
	}
	if !slices.Equal(taskIDs(linked), []string{"task-1"}) {
		t.Fatalf("expected linked task, got %v", taskIDs(linked))
	}
	if linked[0].DueDate == nil || !linked[0].DueDate.Equal(due) {
		t.Fatalf("expected due date to round trip, got %v", linked[0].DueDate)
	}
}

func TestTaskService_CreateTask_ValidatesInput(t *testing.T) {
	t.Parallel()

	svc := NewTaskService(newTestStore(t), nil, fixedNow, discardLogger())

	tests := []struct {
		name  string
		input TaskInput
		field string
	}{
		{name: "missing title", input: TaskInput{Title: "  "}, field: "title"},
		{name: "unknown assignee", input: TaskInput{Title: "Review", AssigneeID: strPtr("ghost")}, field: "assignee_id"},
		{name: "unknown meeting", input: TaskInput{Title: "Review", MeetingID: strPtr("nope")}, field: "meeting_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateTask(context.Background(), tt.input)
			expectValidationField(t, err, tt.field)
		})
	}
}

func TestTaskService_CompleteTask_KeepsFirstCompletionDate(t *testing.T) {
	t.Parallel()

	now := tuesday
	svc := NewTaskService(newTestStore(t), nil, func() time.Time { return now }, discardLogger())
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, TaskInput{Title: "Write minutes"})
	if err != nil {
		t.Fatalf("CreateTask returned error: %v", err)
	}

	now = tuesday.Add(2 * time.Hour)
	completed, err := svc.CompleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("CompleteTask returned error: %v", err)
	}
	if !completed.Completed || completed.CompletedDate == nil || !completed.CompletedDate.Equal(now) {
		t.Fatalf("unexpected completion %+v", completed)
	}

	now = tuesday.Add(48 * time.Hour)
	again, err := svc.CompleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("second CompleteTask returned error: %v", err)
	}
	if !again.CompletedDate.Equal(tuesday.Add(2 * time.Hour)) {
		t.Fatalf("expected original completion date, got %s", again.CompletedDate)
	}

	updated, err := svc.UpdateTask(ctx, task.ID, TaskInput{Title: "Write and send minutes", Description: "by Friday"})
	if err != nil {
		t.Fatalf("UpdateTask returned error: %v", err)
	}
	if !updated.Completed || updated.Description != "by Friday" {
		t.Fatalf("expected update to keep completion, got %+v", updated)
	}
}

func TestTaskService_NotFound(t *testing.T) {
	t.Parallel()

	svc := NewTaskService(newTestStore(t), nil, fixedNow, discardLogger())
	ctx := context.Background()

	if _, err := svc.GetTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.UpdateTask(ctx, "missing", TaskInput{Title: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateTask: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.CompleteTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CompleteTask: expected ErrNotFound, got %v", err)
	}
	if err := svc.DeleteTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteTask: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.ListTasksForMeeting(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ListTasksForMeeting: expected ErrNotFound, got %v", err)
	}
}

func TestTaskService_DeleteTask_RemovesLinks(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	seeded := seedSeries(t, store, "rec-1", tuesday)
	seedTasks(t, store, seeded[0].ID,
		Task{ID: "task-a", Title: "One", CreatedAt: tuesday},
		Task{ID: "task-b", Title: "Two", CreatedAt: tuesday.Add(time.Minute)},
	)
	svc := NewTaskService(store, nil, fixedNow, discardLogger())
	ctx := context.Background()

	if err := svc.DeleteTask(ctx, "task-a"); err != nil {
		t.Fatalf("DeleteTask returned error: %v", err)
	}

	linked, err := svc.ListTasksForMeeting(ctx, seeded[0].ID)
	if err != nil {
		t.Fatalf("ListTasksForMeeting returned error: %v", err)
	}
	if !slices.Equal(taskIDs(linked), []string{"task-b"}) {
		t.Fatalf("expected only task-b linked, got %v", taskIDs(linked))
	}

	all, err := svc.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks returned error: %v", err)
	}
	if !slices.Equal(taskIDs(all), []string{"task-b"}) {
		t.Fatalf("expected only task-b stored, got %v", taskIDs(all))
	}
}

func TestTaskService_LinkAndUnlink(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	seeded := seedSeries(t, store, "rec-1", tuesday, week(1))
	seedTasks(t, store, seeded[0].ID, Task{ID: "task-a", Title: "Draft agenda", CreatedAt: tuesday})
	svc := NewTaskService(store, nil, fixedNow, discardLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.LinkTask(ctx, seeded[1].ID, "task-a"); err != nil {
			t.Fatalf("LinkTask attempt %d returned error: %v", i+1, err)
		}
	}
	linked, err := svc.ListTasksForMeeting(ctx, seeded[1].ID)
	if err != nil {
		t.Fatalf("ListTasksForMeeting returned error: %v", err)
	}
	if !slices.Equal(taskIDs(linked), []string{"task-a"}) {
		t.Fatalf("expected task-a linked once, got %v", taskIDs(linked))
	}

	if err := svc.LinkTask(ctx, "missing", "task-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LinkTask to missing meeting: expected ErrNotFound, got %v", err)
	}
	if err := svc.LinkTask(ctx, seeded[1].ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LinkTask of missing task: expected ErrNotFound, got %v", err)
	}

	if err := svc.UnlinkTask(ctx, seeded[0].ID, "task-a"); err != nil {
		t.Fatalf("UnlinkTask returned error: %v", err)
	}
	if err := svc.UnlinkTask(ctx, seeded[0].ID, "task-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UnlinkTask twice: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetTask(ctx, "task-a"); err != nil {
		t.Fatalf("expected the task to survive unlinking, got %v", err)
	}
}

func TestTaskService_ReassignOpenTasks(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	seeded := seedSeries(t, store, "rec-1", tuesday, week(1))
	done := tuesday.Add(-time.Hour)
	seedTasks(t, store, seeded[0].ID,
		Task{ID: "task-b", Title: "Book room", CreatedAt: tuesday},
		Task{ID: "task-a", Title: "Draft agenda", CreatedAt: tuesday},
		Task{ID: "task-c", Title: "Send notes", Completed: true, CompletedDate: &done, CreatedAt: tuesday},
	)
	seedTasks(t, store, seeded[1].ID, Task{ID: "task-d", Title: "Already there", CreatedAt: tuesday})
	svc := NewTaskService(store, nil, fixedNow, discardLogger())
	ctx := context.Background()

	moved, err := svc.ReassignOpenTasks(ctx, seeded[0].ID, seeded[1].ID)
	if err != nil {
		t.Fatalf("ReassignOpenTasks returned error: %v", err)
	}
	if !slices.Equal(moved, []string{"task-a", "task-b"}) {
		t.Fatalf("unexpected moved ids %v", moved)
	}

	source, err := svc.ListTasksForMeeting(ctx, seeded[0].ID)
	if err != nil {
		t.Fatalf("ListTasksForMeeting returned error: %v", err)
	}
	if !slices.Equal(taskIDs(source), []string{"task-c"}) {
		t.Fatalf("expected only the completed task on the source, got %v", taskIDs(source))
	}
	target, err := svc.ListTasksForMeeting(ctx, seeded[1].ID)
	if err != nil {
		t.Fatalf("ListTasksForMeeting returned error: %v", err)
	}
	if len(target) != 3 {
		t.Fatalf("expected three tasks on the target, got %v", taskIDs(target))
	}

	again, err := svc.ReassignOpenTasks(ctx, seeded[0].ID, seeded[1].ID)
	if err != nil {
		t.Fatalf("second ReassignOpenTasks returned error: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected nothing left to move, got %v", again)
	}

	_, err = svc.ReassignOpenTasks(ctx, seeded[0].ID, seeded[0].ID)
	expectValidationField(t, err, "target_meeting_id")
	_, err = svc.ReassignOpenTasks(ctx, seeded[0].ID, " ")
	expectValidationField(t, err, "target_meeting_id")
	_, err = svc.ReassignOpenTasks(ctx, seeded[0].ID, "missing")
	expectValidationField(t, err, "target_meeting_id")
	if _, err := svc.ReassignOpenTasks(ctx, "missing", seeded[1].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing source: expected ErrNotFound, got %v", err)
	}
}

func TestTaskService_ListTasksByAssignee(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	seedReplica(t, store, "user-1", "ada@example.com")
	seedReplica(t, store, "user-2", "grace@example.com")
	svc := NewTaskService(store, sequentialIDs("task"), fixedNow, discardLogger())
	ctx := context.Background()

	for _, input := range []TaskInput{
		{Title: "Mine", AssigneeID: strPtr("user-1")},
		{Title: "Theirs", AssigneeID: strPtr("user-2")},
		{Title: "Unassigned"},
		{Title: "Also mine", AssigneeID: strPtr("user-1")},
	} {
		if _, err := svc.CreateTask(ctx, input); err != nil {
			t.Fatalf("CreateTask(%s) returned error: %v", input.Title, err)
		}
	}

	mine, err := svc.ListTasksByAssignee(ctx, " user-1 ")
	if err != nil {
		t.Fatalf("ListTasksByAssignee returned error: %v", err)
	}
	if !slices.Equal(taskIDs(mine), []string{"task-1", "task-4"}) {
		t.Fatalf("expected task-1 and task-4, got %v", taskIDs(mine))
	}
}
