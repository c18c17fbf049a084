package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/meeting-scheduler/internal/persistence"
)

// TaskService manages tasks and their meeting links.
type TaskService struct {
	store       persistence.Store
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewTaskService wires dependencies for task operations.
func NewTaskService(store persistence.Store, idGenerator func() string, now func() time.Time, logger *slog.Logger) *TaskService {
	if idGenerator == nil {
		idGenerator = NewID
	}
	if now == nil {
		now = time.Now
	}
	return &TaskService{store: store, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
}

func (s *TaskService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "TaskService", operation, attrs...)
}

// CreateTask stores a task and optionally links it to a meeting.
func (s *TaskService) CreateTask(ctx context.Context, input TaskInput) (task Task, err error) {
	logger := s.loggerWith(ctx, "CreateTask")
	defer func() {
		logOutcome(ctx, logger, err, "failed to create task", "task created", "task_id", task.ID)
	}()

	normalized, vErr := normalizeTaskInput(input)
	if vErr.HasErrors() {
		return Task{}, vErr
	}

	task = Task{
		ID:          s.idGenerator(),
		AssigneeID:  normalized.AssigneeID,
		Title:       normalized.Title,
		Description: normalized.Description,
		DueDate:     normalized.DueDate,
		CreatedAt:   s.now().UTC(),
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if err := ensureAssignee(ctx, repos.Replicas, task.AssigneeID); err != nil {
			return err
		}
		if normalized.MeetingID != nil {
			if _, err := repos.Meetings.GetMeeting(ctx, *normalized.MeetingID); err != nil {
				if errors.Is(err, persistence.ErrNotFound) {
					return fieldError("meeting_id", "meeting does not exist")
				}
				return err
			}
		}
		if err := repos.Tasks.CreateTask(ctx, task); err != nil {
			return err
		}
		if normalized.MeetingID != nil {
			return repos.Tasks.LinkTask(ctx, persistence.MeetingTask{MeetingID: *normalized.MeetingID, TaskID: task.ID})
		}
		return nil
	})
	if err != nil {
		return Task{}, mapRepoError(err)
	}
	return task, nil
}

// UpdateTask replaces the task fields. Completion state is kept.
func (s *TaskService) UpdateTask(ctx context.Context, id string, input TaskInput) (task Task, err error) {
	logger := s.loggerWith(ctx, "UpdateTask", "task_id", id)
	defer func() {
		logOutcome(ctx, logger, err, "failed to update task", "task updated")
	}()

	normalized, vErr := normalizeTaskInput(input)
	if vErr.HasErrors() {
		return Task{}, vErr
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		existing, err := repos.Tasks.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if err := ensureAssignee(ctx, repos.Replicas, normalized.AssigneeID); err != nil {
			return err
		}
		existing.AssigneeID = normalized.AssigneeID
		existing.Title = normalized.Title
		existing.Description = normalized.Description
		existing.DueDate = normalized.DueDate
		if err := repos.Tasks.UpdateTask(ctx, existing); err != nil {
			return err
		}
		task = existing
		return nil
	})
	if err != nil {
		return Task{}, mapRepoError(err)
	}
	return task, nil
}

// CompleteTask marks a task completed. Completing twice keeps the first
// completion date.
func (s *TaskService) CompleteTask(ctx context.Context, id string) (task Task, err error) {
	logger := s.loggerWith(ctx, "CompleteTask", "task_id", id)
	defer func() {
		logOutcome(ctx, logger, err, "failed to complete task", "task completed")
	}()

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		existing, err := repos.Tasks.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if !existing.Completed {
			completedAt := s.now().UTC()
			existing.Completed = true
			existing.CompletedDate = &completedAt
			if err := repos.Tasks.UpdateTask(ctx, existing); err != nil {
				return err
			}
		}
		task = existing
		return nil
	})
	if err != nil {
		return Task{}, mapRepoError(err)
	}
	return task, nil
}

// GetTask loads a task by id.
func (s *TaskService) GetTask(ctx context.Context, id string) (Task, error) {
	task, err := s.store.Repositories().Tasks.GetTask(ctx, id)
	if err != nil {
		return Task{}, mapRepoError(err)
	}
	return task, nil
}

// ListTasks returns every task ordered by creation.
func (s *TaskService) ListTasks(ctx context.Context) ([]Task, error) {
	tasks, err := s.store.Repositories().Tasks.ListTasks(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return tasks, nil
}

// ListTasksForMeeting returns the tasks linked to a meeting.
func (s *TaskService) ListTasksForMeeting(ctx context.Context, meetingID string) ([]Task, error) {
	repos := s.store.Repositories()
	if _, err := repos.Meetings.GetMeeting(ctx, meetingID); err != nil {
		return nil, mapRepoError(err)
	}
	tasks, err := repos.Tasks.ListTasksForMeeting(ctx, meetingID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return tasks, nil
}

// ListTasksByAssignee returns the tasks assigned to a user.
func (s *TaskService) ListTasksByAssignee(ctx context.Context, assigneeID string) ([]Task, error) {
	tasks, err := s.store.Repositories().Tasks.ListTasksByAssignee(ctx, strings.TrimSpace(assigneeID))
	if err != nil {
		return nil, mapRepoError(err)
	}
	return tasks, nil
}

// LinkTask attaches an existing task to a meeting. Linking twice is a no-op.
func (s *TaskService) LinkTask(ctx context.Context, meetingID, taskID string) (err error) {
	logger := s.loggerWith(ctx, "LinkTask", "meeting_id", meetingID, "task_id", taskID)
	defer func() {
		logOutcome(ctx, logger, err, "failed to link task", "task linked")
	}()

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if _, err := repos.Meetings.GetMeeting(ctx, meetingID); err != nil {
			return err
		}
		if _, err := repos.Tasks.GetTask(ctx, taskID); err != nil {
			return err
		}
		return repos.Tasks.LinkTask(ctx, persistence.MeetingTask{MeetingID: meetingID, TaskID: taskID})
	})
	return mapRepoError(err)
}

// UnlinkTask detaches a task from a meeting. The task itself is kept.
func (s *TaskService) UnlinkTask(ctx context.Context, meetingID, taskID string) (err error) {
	logger := s.loggerWith(ctx, "UnlinkTask", "meeting_id", meetingID, "task_id", taskID)
	defer func() {
		logOutcome(ctx, logger, err, "failed to unlink task", "task unlinked")
	}()

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		return repos.Tasks.UnlinkTask(ctx, persistence.MeetingTask{MeetingID: meetingID, TaskID: taskID})
	})
	return mapRepoError(err)
}

// ReassignOpenTasks moves every uncompleted task linked to fromMeetingID over
// to toMeetingID and returns the moved task ids in order. Completed tasks stay
// where they are.
func (s *TaskService) ReassignOpenTasks(ctx context.Context, fromMeetingID, toMeetingID string) (moved []string, err error) {
	logger := s.loggerWith(ctx, "ReassignOpenTasks", "meeting_id", fromMeetingID, "target_meeting_id", toMeetingID)
	defer func() {
		logOutcome(ctx, logger, err, "failed to reassign tasks", "tasks reassigned", "reassigned_tasks", len(moved))
	}()

	toMeetingID = strings.TrimSpace(toMeetingID)
	switch {
	case toMeetingID == "":
		return nil, fieldError("target_meeting_id", "target meeting is required")
	case toMeetingID == fromMeetingID:
		return nil, fieldError("target_meeting_id", "target meeting must differ from the source meeting")
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		moved = nil
		if _, err := repos.Meetings.GetMeeting(ctx, fromMeetingID); err != nil {
			return err
		}
		if _, err := repos.Meetings.GetMeeting(ctx, toMeetingID); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return fieldError("target_meeting_id", "meeting does not exist")
			}
			return err
		}

		open, err := repos.Tasks.ListOpenTasksForMeeting(ctx, fromMeetingID)
		if err != nil {
			return err
		}
		ids := make([]string, len(open))
		for i, task := range open {
			ids[i] = task.ID
		}
		sort.Strings(ids)
		if err := repos.Tasks.ReassignTasks(ctx, fromMeetingID, toMeetingID, ids); err != nil {
			return err
		}
		moved = ids
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return moved, nil
}

// DeleteTask removes a task and its meeting links.
func (s *TaskService) DeleteTask(ctx context.Context, id string) (err error) {
	logger := s.loggerWith(ctx, "DeleteTask", "task_id", id)
	defer func() {
		logOutcome(ctx, logger, err, "failed to delete task", "task deleted")
	}()

	return mapRepoError(s.store.Repositories().Tasks.DeleteTask(ctx, id))
}

func normalizeTaskInput(input TaskInput) (TaskInput, *ValidationError) {
	normalized := TaskInput{
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		AssigneeID:  trimmedOptional(input.AssigneeID),
		MeetingID:   trimmedOptional(input.MeetingID),
	}
	if input.DueDate != nil {
		due := input.DueDate.UTC()
		normalized.DueDate = &due
	}

	vErr := &ValidationError{}
	if normalized.Title == "" {
		vErr.add("title", "title is required")
	}
	return normalized, vErr
}

func ensureAssignee(ctx context.Context, replicas persistence.ReplicatedUserRepository, assigneeID *string) error {
	if assigneeID == nil {
		return nil
	}
	return ensureReplicas(ctx, replicas, "assignee_id", []string{*assigneeID})
}

func trimmedOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
