package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/meeting-scheduler/internal/application"
)

type taskService interface {
	CreateTask(ctx context.Context, input application.TaskInput) (application.Task, error)
	UpdateTask(ctx context.Context, id string, input application.TaskInput) (application.Task, error)
	CompleteTask(ctx context.Context, id string) (application.Task, error)
	GetTask(ctx context.Context, id string) (application.Task, error)
	ListTasks(ctx context.Context) ([]application.Task, error)
	ListTasksByAssignee(ctx context.Context, assigneeID string) ([]application.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

type TaskHandler struct {
	service   taskService
	responder responder
	logger    *slog.Logger
}

func NewTaskHandler(service taskService, logger *slog.Logger) *TaskHandler {
	base := defaultLogger(logger)
	return &TaskHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *TaskHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "TaskHandler", operation, attrs...)
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode task request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	input, fields := req.toInput()
	if fields != nil {
		h.responder.writeFieldErrors(r.Context(), w, fields)
		return
	}

	logger := h.log(r.Context(), "Create")
	task, err := h.service.CreateTask(r.Context(), input)
	if err != nil {
		logger.ErrorContext(r.Context(), "task creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("task_id", task.ID).InfoContext(r.Context(), "task created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, taskResponse{Task: toTaskDTO(task)})
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var (
		tasks []application.Task
		err   error
	)
	if assignee := strings.TrimSpace(r.URL.Query().Get("assignee_id")); assignee != "" {
		tasks, err = h.service.ListTasksByAssignee(r.Context(), assignee)
	} else {
		tasks, err = h.service.ListTasks(r.Context())
	}
	if err != nil {
		h.log(r.Context(), "List").ErrorContext(r.Context(), "task list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listTasksResponse{Tasks: toTaskDTOs(tasks)})
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	task, err := h.service.GetTask(r.Context(), id)
	if err != nil {
		h.log(r.Context(), "Get", "task_id", id).WarnContext(r.Context(), "task lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, taskResponse{Task: toTaskDTO(task)})
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Update", "task_id", id, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode task update", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	input, fields := req.toInput()
	if fields != nil {
		h.responder.writeFieldErrors(r.Context(), w, fields)
		return
	}

	logger := h.log(r.Context(), "Update", "task_id", id)
	task, err := h.service.UpdateTask(r.Context(), id, input)
	if err != nil {
		logger.ErrorContext(r.Context(), "task update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "task updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, taskResponse{Task: toTaskDTO(task)})
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	logger := h.log(r.Context(), "Complete", "task_id", id)
	task, err := h.service.CompleteTask(r.Context(), id)
	if err != nil {
		logger.ErrorContext(r.Context(), "task completion failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "task completed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, taskResponse{Task: toTaskDTO(task)})
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	logger := h.log(r.Context(), "Delete", "task_id", id)
	if err := h.service.DeleteTask(r.Context(), id); err != nil {
		logger.ErrorContext(r.Context(), "task delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "task deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type taskRequest struct {
	AssigneeID  *string `json:"assignee_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DueDate     *string `json:"due_date"`
	MeetingID   *string `json:"meeting_id"`
}

func (r taskRequest) toInput() (application.TaskInput, map[string]string) {
	due, err := parseOptionalTime(r.DueDate)
	if err != nil {
		return application.TaskInput{}, map[string]string{"due_date": invalidTimeMessage}
	}
	return application.TaskInput{
		AssigneeID:  nonEmpty(r.AssigneeID),
		Title:       r.Title,
		Description: r.Description,
		DueDate:     due,
		MeetingID:   nonEmpty(r.MeetingID),
	}, nil
}

func nonEmpty(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type taskResponse struct {
	Task taskDTO `json:"task"`
}

type listTasksResponse struct {
	Tasks []taskDTO `json:"tasks"`
}

type taskDTO struct {
	ID            string  `json:"id"`
	AssigneeID    *string `json:"assignee_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	DueDate       *string `json:"due_date"`
	Completed     bool    `json:"completed"`
	CompletedDate *string `json:"completed_date"`
	CreatedAt     string  `json:"created_at"`
}

func toTaskDTO(task application.Task) taskDTO {
	return taskDTO{
		ID:            task.ID,
		AssigneeID:    task.AssigneeID,
		Title:         task.Title,
		Description:   task.Description,
		DueDate:       formatOptionalTime(task.DueDate),
		Completed:     task.Completed,
		CompletedDate: formatOptionalTime(task.CompletedDate),
		CreatedAt:     formatTime(task.CreatedAt),
	}
}

func toTaskDTOs(tasks []application.Task) []taskDTO {
	out := make([]taskDTO, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, toTaskDTO(task))
	}
	return out
}
