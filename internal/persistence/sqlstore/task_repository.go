package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/meeting-scheduler/internal/persistence"
)

const taskColumns = `t.id, t.assignee_id, t.title, t.description, t.due_date, t.completed, t.completed_date, t.created_at`

// TaskRepository implements persistence.TaskRepository.
type TaskRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// CreateTask inserts a task.
func (r *TaskRepository) CreateTask(ctx context.Context, task persistence.Task) error {
	if task.ID == "" {
		return persistence.ErrConstraintViolation
	}

	const query = `
		INSERT INTO tasks (id, assignee_id, title, description, due_date, completed, completed_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.helper.Exec(ctx, query,
		task.ID,
		nullString(task.AssigneeID),
		task.Title,
		task.Description,
		nullTime(task.DueDate),
		boolToInt(task.Completed),
		nullTime(task.CompletedDate),
		formatTime(task.CreatedAt),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// UpdateTask overwrites the mutable columns of a task.
func (r *TaskRepository) UpdateTask(ctx context.Context, task persistence.Task) error {
	const query = `
		UPDATE tasks
		SET assignee_id = ?, title = ?, description = ?, due_date = ?, completed = ?, completed_date = ?
		WHERE id = ?
	`
	result, err := r.helper.Exec(ctx, query,
		nullString(task.AssigneeID),
		task.Title,
		task.Description,
		nullTime(task.DueDate),
		boolToInt(task.Completed),
		nullTime(task.CompletedDate),
		task.ID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// GetTask loads a task by id.
func (r *TaskRepository) GetTask(ctx context.Context, id string) (persistence.Task, error) {
	if id == "" {
		return persistence.Task{}, persistence.ErrNotFound
	}
	task, err := scanTask(r.helper.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id))
	if err != nil {
		return persistence.Task{}, r.mapper.MapError(err)
	}
	return task, nil
}

// ListTasks returns every task ordered by creation.
func (r *TaskRepository) ListTasks(ctx context.Context) ([]persistence.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t ORDER BY t.created_at ASC, t.id ASC`)
}

// ListTasksByAssignee returns the tasks assigned to a user ordered by creation.
func (r *TaskRepository) ListTasksByAssignee(ctx context.Context, assigneeID string) ([]persistence.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t
		WHERE t.assignee_id = ?
		ORDER BY t.created_at ASC, t.id ASC`
	return r.queryTasks(ctx, query, assigneeID)
}

// DeleteTask removes a task and its meeting links.
func (r *TaskRepository) DeleteTask(ctx context.Context, id string) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// LinkTask attaches a task to a meeting. Linking twice is a no-op.
func (r *TaskRepository) LinkTask(ctx context.Context, link persistence.MeetingTask) error {
	const query = `
		INSERT INTO meeting_tasks (meeting_id, task_id)
		VALUES (?, ?)
		ON CONFLICT (meeting_id, task_id) DO NOTHING
	`
	if _, err := r.helper.Exec(ctx, query, link.MeetingID, link.TaskID); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// UnlinkTask detaches a task from a meeting.
func (r *TaskRepository) UnlinkTask(ctx context.Context, link persistence.MeetingTask) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM meeting_tasks WHERE meeting_id = ? AND task_id = ?`, link.MeetingID, link.TaskID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// ListTasksForMeeting returns every task linked to the meeting.
func (r *TaskRepository) ListTasksForMeeting(ctx context.Context, meetingID string) ([]persistence.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t
		JOIN meeting_tasks mt ON mt.task_id = t.id
		WHERE mt.meeting_id = ?
		ORDER BY t.created_at ASC, t.id ASC`
	return r.queryTasks(ctx, query, meetingID)
}

// ListOpenTasksForMeeting returns the uncompleted tasks linked to the meeting.
func (r *TaskRepository) ListOpenTasksForMeeting(ctx context.Context, meetingID string) ([]persistence.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t
		JOIN meeting_tasks mt ON mt.task_id = t.id
		WHERE mt.meeting_id = ? AND t.completed = 0
		ORDER BY t.created_at ASC, t.id ASC`
	return r.queryTasks(ctx, query, meetingID)
}

// ReassignTasks moves task links between meetings in two statements: links
// are repointed where the target does not already hold them, then any
// leftovers on the source are removed.
func (r *TaskRepository) ReassignTasks(ctx context.Context, fromMeetingID, toMeetingID string, taskIDs []string) error {
	if len(taskIDs) == 0 || fromMeetingID == toMeetingID {
		return nil
	}

	ids := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		ids[i] = id
	}
	in := placeholders(len(taskIDs))

	update := fmt.Sprintf(`
		UPDATE meeting_tasks SET meeting_id = ?
		WHERE meeting_id = ? AND task_id IN (%s)
		AND task_id NOT IN (SELECT task_id FROM meeting_tasks WHERE meeting_id = ?)
	`, in)
	args := append([]any{toMeetingID, fromMeetingID}, ids...)
	args = append(args, toMeetingID)
	if _, err := r.helper.Exec(ctx, update, args...); err != nil {
		return r.mapper.MapError(err)
	}

	cleanup := fmt.Sprintf(`DELETE FROM meeting_tasks WHERE meeting_id = ? AND task_id IN (%s)`, in)
	if _, err := r.helper.Exec(ctx, cleanup, append([]any{fromMeetingID}, ids...)...); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]persistence.Task, error) {
	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var tasks []persistence.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (persistence.Task, error) {
	var (
		task          persistence.Task
		assigneeID    sql.NullString
		dueDate       sql.NullString
		completed     int64
		completedDate sql.NullString
		createdAt     string
	)
	if err := row.Scan(&task.ID, &assigneeID, &task.Title, &task.Description, &dueDate, &completed, &completedDate, &createdAt); err != nil {
		return persistence.Task{}, err
	}

	var err error
	task.AssigneeID = stringPtr(assigneeID)
	task.Completed = completed != 0
	if task.DueDate, err = parseNullTime(dueDate); err != nil {
		return persistence.Task{}, fmt.Errorf("task %s: %w", task.ID, err)
	}
	if task.CompletedDate, err = parseNullTime(completedDate); err != nil {
		return persistence.Task{}, fmt.Errorf("task %s: %w", task.ID, err)
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Task{}, fmt.Errorf("task %s: %w", task.ID, err)
	}
	return task, nil
}
