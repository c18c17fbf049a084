package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/meeting-scheduler/internal/application"
)

type meetingService interface {
	CreateMeeting(ctx context.Context, input application.MeetingInput) (application.Meeting, error)
	UpdateMeeting(ctx context.Context, id string, input application.MeetingInput) (application.Meeting, error)
	GetMeeting(ctx context.Context, id string) (application.Meeting, error)
	ListMeetings(ctx context.Context, params application.ListMeetingsParams) ([]application.Meeting, error)
	DeleteMeeting(ctx context.Context, id string) error
	CompleteMeeting(ctx context.Context, meetingID string) (application.Completion, error)
	AdvanceSeries(ctx context.Context, meetingID string) (application.Meeting, error)
	GetOrCreateSubsequent(ctx context.Context, meetingID string, afterDate time.Time) (application.Meeting, error)
	ListAttendees(ctx context.Context, meetingID string) ([]string, error)
	AddAttendee(ctx context.Context, meetingID, userID string) error
	RemoveAttendee(ctx context.Context, meetingID, userID string) error
}

type meetingTaskService interface {
	ListTasksForMeeting(ctx context.Context, meetingID string) ([]application.Task, error)
	LinkTask(ctx context.Context, meetingID, taskID string) error
	UnlinkTask(ctx context.Context, meetingID, taskID string) error
	ReassignOpenTasks(ctx context.Context, fromMeetingID, toMeetingID string) ([]string, error)
}

// MeetingHandler serves meeting occurrences, their attendees and the series
// transitions started from a single meeting.
type MeetingHandler struct {
	service   meetingService
	tasks     meetingTaskService
	responder responder
	logger    *slog.Logger
}

func NewMeetingHandler(service meetingService, tasks meetingTaskService, logger *slog.Logger) *MeetingHandler {
	base := defaultLogger(logger)
	return &MeetingHandler{service: service, tasks: tasks, responder: newResponder(base), logger: base}
}

func (h *MeetingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "MeetingHandler", operation, attrs...)
}

func (h *MeetingHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *MeetingHandler) meetingID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
	}
	return id, ok
}

func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req meetingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode meeting request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	input, fields := req.toInput()
	if fields != nil {
		h.responder.writeFieldErrors(r.Context(), w, fields)
		return
	}

	logger := h.log(r.Context(), "Create")
	meeting, err := h.service.CreateMeeting(r.Context(), input)
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("meeting_id", meeting.ID).InfoContext(r.Context(), "meeting created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

// List accepts ?user_id=, ?recurrence_id=, ?from=, ?limit= and ?offset=.
func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	query := newQueryParser(r)
	params := application.ListMeetingsParams{
		UserID:       query.String("user_id"),
		RecurrenceID: query.String("recurrence_id"),
		From:         query.Time("from"),
		Limit:        query.Int("limit"),
		Offset:       query.Int("offset"),
	}
	if fields := query.Errors(); fields != nil {
		h.responder.writeFieldErrors(r.Context(), w, fields)
		return
	}

	logger := h.log(r.Context(), "List", "user_id", params.UserID, "recurrence_id", params.RecurrenceID)
	meetings, err := h.service.ListMeetings(r.Context(), params)
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(meetings)).InfoContext(r.Context(), "meetings listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMeetingsResponse{Meetings: toMeetingDTOs(meetings)})
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	meeting, err := h.service.GetMeeting(r.Context(), id)
	if err != nil {
		h.log(r.Context(), "Get", "meeting_id", id).WarnContext(r.Context(), "meeting lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

func (h *MeetingHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	var req meetingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Update", "meeting_id", id, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode meeting update", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	input, fields := req.toInput()
	if fields != nil {
		h.responder.writeFieldErrors(r.Context(), w, fields)
		return
	}

	logger := h.log(r.Context(), "Update", "meeting_id", id)
	meeting, err := h.service.UpdateMeeting(r.Context(), id, input)
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "meeting updated", "num_reschedules", meeting.NumReschedules)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

func (h *MeetingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	logger := h.log(r.Context(), "Delete", "meeting_id", id)
	if err := h.service.DeleteMeeting(r.Context(), id); err != nil {
		logger.ErrorContext(r.Context(), "meeting delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "meeting deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Complete marks the meeting completed and rolls its open tasks over to the
// next occurrence of the series.
func (h *MeetingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	logger := h.log(r.Context(), "Complete", "meeting_id", id)
	completion, err := h.service.CompleteMeeting(r.Context(), id)
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting completion failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := completionResponse{
		Meeting:           toMeetingDTO(completion.Meeting),
		ReassignedTaskIDs: completion.ReassignedTaskIDs,
	}
	if resp.ReassignedTaskIDs == nil {
		resp.ReassignedTaskIDs = []string{}
	}
	if completion.Successor != nil {
		successor := toMeetingDTO(*completion.Successor)
		resp.Successor = &successor
	}

	logger.InfoContext(r.Context(), "meeting completed", "reassigned_tasks", len(resp.ReassignedTaskIDs))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// Advance creates the occurrence that follows the meeting.
func (h *MeetingHandler) Advance(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	logger := h.log(r.Context(), "Advance", "meeting_id", id)
	next, err := h.service.AdvanceSeries(r.Context(), id)
	if err != nil {
		logger.ErrorContext(r.Context(), "series advance failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "series advanced", "next_meeting_id", next.ID)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, meetingResponse{Meeting: toMeetingDTO(next)})
}

// Next returns the occurrence following ?after=, creating it when the series
// does not hold it yet.
func (h *MeetingHandler) Next(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	query := newQueryParser(r)
	after := query.Time("after")
	if fields := query.Errors(); fields != nil {
		h.responder.writeFieldErrors(r.Context(), w, fields)
		return
	}
	var afterDate time.Time
	if after != nil {
		afterDate = *after
	}

	logger := h.log(r.Context(), "Next", "meeting_id", id)
	next, err := h.service.GetOrCreateSubsequent(r.Context(), id, afterDate)
	if err != nil {
		logger.ErrorContext(r.Context(), "subsequent lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(next)})
}

func (h *MeetingHandler) ListAttendees(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	ids, err := h.service.ListAttendees(r.Context(), id)
	if err != nil {
		h.log(r.Context(), "ListAttendees", "meeting_id", id).WarnContext(r.Context(), "attendee list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, attendeesResponse{AttendeeIDs: ids})
}

func (h *MeetingHandler) AddAttendee(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	var req attendeeRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		h.log(r.Context(), "AddAttendee", "meeting_id", id, "error_kind", "bad_request").ErrorContext(r.Context(), "invalid attendee request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID := strings.TrimSpace(req.UserID)
	logger := h.log(r.Context(), "AddAttendee", "meeting_id", id, "user_id", userID)
	if err := h.service.AddAttendee(r.Context(), id, userID); err != nil {
		logger.ErrorContext(r.Context(), "attendee add failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "attendee added")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *MeetingHandler) RemoveAttendee(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	logger := h.log(r.Context(), "RemoveAttendee", "meeting_id", id, "user_id", userID)
	if err := h.service.RemoveAttendee(r.Context(), id, userID); err != nil {
		logger.ErrorContext(r.Context(), "attendee removal failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "attendee removed")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Tasks lists the tasks linked to the meeting.
func (h *MeetingHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.tasks == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	tasks, err := h.tasks.ListTasksForMeeting(r.Context(), id)
	if err != nil {
		h.log(r.Context(), "Tasks", "meeting_id", id).WarnContext(r.Context(), "meeting task list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listTasksResponse{Tasks: toTaskDTOs(tasks)})
}

func (h *MeetingHandler) taskLink(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if h == nil || h.tasks == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", "", false
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return "", "", false
	}
	taskID, ok := pathID(r, "taskID")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return "", "", false
	}
	return id, taskID, true
}

// LinkTask attaches an existing task to the meeting.
func (h *MeetingHandler) LinkTask(w http.ResponseWriter, r *http.Request) {
	id, taskID, ok := h.taskLink(w, r)
	if !ok {
		return
	}

	logger := h.log(r.Context(), "LinkTask", "meeting_id", id, "task_id", taskID)
	if err := h.tasks.LinkTask(r.Context(), id, taskID); err != nil {
		logger.ErrorContext(r.Context(), "task link failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "task linked")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// UnlinkTask detaches a task from the meeting.
func (h *MeetingHandler) UnlinkTask(w http.ResponseWriter, r *http.Request) {
	id, taskID, ok := h.taskLink(w, r)
	if !ok {
		return
	}

	logger := h.log(r.Context(), "UnlinkTask", "meeting_id", id, "task_id", taskID)
	if err := h.tasks.UnlinkTask(r.Context(), id, taskID); err != nil {
		logger.ErrorContext(r.Context(), "task unlink failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "task unlinked")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// ReassignTasks moves the meeting's open tasks to the target meeting.
func (h *MeetingHandler) ReassignTasks(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.tasks == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := h.meetingID(w, r)
	if !ok {
		return
	}

	var req reassignRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "ReassignTasks", "meeting_id", id, "error_kind", "bad_request").ErrorContext(r.Context(), "invalid reassign request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "ReassignTasks", "meeting_id", id, "target_meeting_id", req.TargetMeetingID)
	moved, err := h.tasks.ReassignOpenTasks(r.Context(), id, req.TargetMeetingID)
	if err != nil {
		logger.ErrorContext(r.Context(), "task reassignment failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if moved == nil {
		moved = []string{}
	}

	logger.InfoContext(r.Context(), "tasks reassigned", "reassigned_tasks", len(moved))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reassignResponse{ReassignedTaskIDs: moved})
}

type reassignRequest struct {
	TargetMeetingID string `json:"target_meeting_id"`
}

type reassignResponse struct {
	ReassignedTaskIDs []string `json:"reassigned_task_ids"`
}

type meetingRequest struct {
	RecurrenceID    *string  `json:"recurrence_id"`
	Title           string   `json:"title"`
	StartDate       string   `json:"start_date"`
	EndDate         *string  `json:"end_date"`
	DurationMinutes int      `json:"duration_minutes"`
	Location        string   `json:"location"`
	Notes           string   `json:"notes"`
	AttendeeIDs     []string `json:"attendee_ids"`
}

// toInput converts the request, reporting unparseable timestamps per field.
func (r meetingRequest) toInput() (application.MeetingInput, map[string]string) {
	fields := map[string]string{}
	start, err := parseTime(r.StartDate)
	if err != nil {
		fields["start_date"] = invalidTimeMessage
	}
	end, err := parseOptionalTime(r.EndDate)
	if err != nil {
		fields["end_date"] = invalidTimeMessage
	}
	if len(fields) > 0 {
		return application.MeetingInput{}, fields
	}

	var recurrenceID *string
	if r.RecurrenceID != nil && strings.TrimSpace(*r.RecurrenceID) != "" {
		id := strings.TrimSpace(*r.RecurrenceID)
		recurrenceID = &id
	}

	return application.MeetingInput{
		RecurrenceID: recurrenceID,
		Title:        r.Title,
		StartDate:    start,
		EndDate:      end,
		Duration:     time.Duration(r.DurationMinutes) * time.Minute,
		Location:     r.Location,
		Notes:        r.Notes,
		AttendeeIDs:  r.AttendeeIDs,
	}, nil
}

type attendeeRequest struct {
	UserID string `json:"user_id"`
}

type meetingResponse struct {
	Meeting meetingDTO `json:"meeting"`
}

type listMeetingsResponse struct {
	Meetings []meetingDTO `json:"meetings"`
}

type attendeesResponse struct {
	AttendeeIDs []string `json:"attendee_ids"`
}

type completionResponse struct {
	Meeting           meetingDTO  `json:"meeting"`
	Successor         *meetingDTO `json:"successor"`
	ReassignedTaskIDs []string    `json:"reassigned_task_ids"`
}

type meetingDTO struct {
	ID              string  `json:"id"`
	RecurrenceID    *string `json:"recurrence_id"`
	Title           string  `json:"title"`
	StartDate       string  `json:"start_date"`
	EndDate         *string `json:"end_date"`
	DurationMinutes int     `json:"duration_minutes"`
	Location        string  `json:"location"`
	Notes           string  `json:"notes"`
	Completed       bool    `json:"completed"`
	NumReschedules  int     `json:"num_reschedules"`
	CreatedAt       string  `json:"created_at"`
}

func toMeetingDTO(meeting application.Meeting) meetingDTO {
	return meetingDTO{
		ID:              meeting.ID,
		RecurrenceID:    meeting.RecurrenceID,
		Title:           meeting.Title,
		StartDate:       formatTime(meeting.StartDate),
		EndDate:         formatOptionalTime(meeting.EndDate),
		DurationMinutes: int(meeting.Duration / time.Minute),
		Location:        meeting.Location,
		Notes:           meeting.Notes,
		Completed:       meeting.Completed,
		NumReschedules:  meeting.NumReschedules,
		CreatedAt:       formatTime(meeting.CreatedAt),
	}
}

func toMeetingDTOs(meetings []application.Meeting) []meetingDTO {
	out := make([]meetingDTO, 0, len(meetings))
	for _, meeting := range meetings {
		out = append(out, toMeetingDTO(meeting))
	}
	return out
}
