package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/meeting-scheduler/internal/application"
	"github.com/example/meeting-scheduler/internal/calendar"
)

type recurrenceService interface {
	CreateRecurrence(ctx context.Context, input application.RecurrenceInput) (application.Recurrence, error)
	UpdateRecurrence(ctx context.Context, id string, input application.RecurrenceInput) (application.Recurrence, error)
	GetRecurrence(ctx context.Context, id string) (application.Recurrence, error)
	ListRecurrences(ctx context.Context) ([]application.Recurrence, error)
	DeleteRecurrence(ctx context.Context, id string) error
	Occurrences(ctx context.Context, id string, from, to time.Time, limit int) ([]time.Time, error)
}

// seriesService is the part of the meeting service that works on a whole
// series.
type seriesService interface {
	BatchMaterialize(ctx context.Context, recurrenceID string, template application.MeetingTemplate, dates []time.Time) (application.BatchResult, error)
	ListMeetings(ctx context.Context, params application.ListMeetingsParams) ([]application.Meeting, error)
}

// RecurrenceHandler serves recurrence rules and the series operations keyed
// by a rule.
type RecurrenceHandler struct {
	service   recurrenceService
	series    seriesService
	now       func() time.Time
	responder responder
	logger    *slog.Logger
}

func NewRecurrenceHandler(service recurrenceService, series seriesService, now func() time.Time, logger *slog.Logger) *RecurrenceHandler {
	base := defaultLogger(logger)
	if now == nil {
		now = time.Now
	}
	return &RecurrenceHandler{service: service, series: series, now: now, responder: newResponder(base), logger: base}
}

func (h *RecurrenceHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "RecurrenceHandler", operation, attrs...)
}

func (h *RecurrenceHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req recurrenceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode recurrence request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create")
	rule, err := h.service.CreateRecurrence(r.Context(), req.toInput())
	if err != nil {
		logger.ErrorContext(r.Context(), "recurrence creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("recurrence_id", rule.ID).InfoContext(r.Context(), "recurrence created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, recurrenceResponse{Recurrence: toRecurrenceDTO(rule)})
}

func (h *RecurrenceHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	rules, err := h.service.ListRecurrences(r.Context())
	if err != nil {
		h.log(r.Context(), "List").ErrorContext(r.Context(), "recurrence list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]recurrenceDTO, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRecurrenceDTO(rule))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listRecurrencesResponse{Recurrences: out})
}

func (h *RecurrenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	rule, err := h.service.GetRecurrence(r.Context(), id)
	if err != nil {
		h.log(r.Context(), "Get", "recurrence_id", id).WarnContext(r.Context(), "recurrence lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, recurrenceResponse{Recurrence: toRecurrenceDTO(rule)})
}

func (h *RecurrenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	var req recurrenceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Update", "recurrence_id", id, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode recurrence update", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Update", "recurrence_id", id)
	rule, err := h.service.UpdateRecurrence(r.Context(), id, req.toInput())
	if err != nil {
		logger.ErrorContext(r.Context(), "recurrence update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "recurrence updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, recurrenceResponse{Recurrence: toRecurrenceDTO(rule)})
}

func (h *RecurrenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	logger := h.log(r.Context(), "Delete", "recurrence_id", id)
	if err := h.service.DeleteRecurrence(r.Context(), id); err != nil {
		logger.ErrorContext(r.Context(), "recurrence delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "recurrence deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Occurrences previews the rule over ?from=&to=&limit=.
func (h *RecurrenceHandler) Occurrences(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	query := newQueryParser(r)
	from := query.Time("from")
	to := query.Time("to")
	limit := query.Int("limit")
	if fields := query.Errors(); fields != nil {
		h.responder.writeFieldErrors(r.Context(), w, fields)
		return
	}

	var fromValue, toValue time.Time
	if from != nil {
		fromValue = *from
	}
	if to != nil {
		toValue = *to
	}

	occurrences, err := h.service.Occurrences(r.Context(), id, fromValue, toValue, limit)
	if err != nil {
		h.log(r.Context(), "Occurrences", "recurrence_id", id).WarnContext(r.Context(), "occurrence preview failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, occurrencesResponse{Occurrences: formatTimes(occurrences)})
}

// Materialize creates the requested occurrences of the series. It answers
// 201 when at least one meeting was created and 200 when every date was
// already present.
func (h *RecurrenceHandler) Materialize(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.series == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	var req materializeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Materialize", "recurrence_id", id, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode materialize request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	dates := make([]time.Time, 0, len(req.Dates))
	for _, raw := range req.Dates {
		date, err := parseTime(raw)
		if err != nil {
			h.responder.writeFieldErrors(r.Context(), w, map[string]string{"dates": invalidTimeMessage})
			return
		}
		dates = append(dates, date)
	}

	logger := h.log(r.Context(), "Materialize", "recurrence_id", id, "requested", len(dates))
	result, err := h.series.BatchMaterialize(r.Context(), id, req.toTemplate(), dates)
	if err != nil {
		logger.ErrorContext(r.Context(), "series materialization failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if len(result.Created) > 0 {
		status = http.StatusCreated
	}
	logger.InfoContext(r.Context(), "series materialized", "created", len(result.Created), "skipped", len(result.Skipped))
	h.responder.writeJSON(r.Context(), w, status, materializeResponse{
		Created: toMeetingDTOs(result.Created),
		Skipped: formatTimes(result.Skipped),
	})
}

// Calendar exports every stored occurrence of the series as iCalendar.
func (h *RecurrenceHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil || h.series == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	logger := h.log(r.Context(), "Calendar", "recurrence_id", id)
	rule, err := h.service.GetRecurrence(r.Context(), id)
	if err != nil {
		logger.WarnContext(r.Context(), "recurrence lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	meetings, err := h.series.ListMeetings(r.Context(), application.ListMeetingsParams{RecurrenceID: id})
	if err != nil {
		logger.ErrorContext(r.Context(), "series listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", calendar.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.ics"`)
	w.WriteHeader(http.StatusOK)
	if err := calendar.Encode(w, rule.Title, meetings, h.now()); err != nil {
		logger.ErrorContext(r.Context(), "calendar export failed", "error", err)
		return
	}
	logger.InfoContext(r.Context(), "calendar exported", "events", len(meetings))
}

type recurrenceRequest struct {
	Title string `json:"title"`
	Rule  string `json:"rule"`
}

func (r recurrenceRequest) toInput() application.RecurrenceInput {
	return application.RecurrenceInput{
		Title: strings.TrimSpace(r.Title),
		Rule:  strings.TrimSpace(r.Rule),
	}
}

type materializeRequest struct {
	Title           string   `json:"title"`
	DurationMinutes int      `json:"duration_minutes"`
	Location        string   `json:"location"`
	Notes           string   `json:"notes"`
	Dates           []string `json:"dates"`
}

func (r materializeRequest) toTemplate() application.MeetingTemplate {
	return application.MeetingTemplate{
		Title:    strings.TrimSpace(r.Title),
		Duration: time.Duration(r.DurationMinutes) * time.Minute,
		Location: strings.TrimSpace(r.Location),
		Notes:    r.Notes,
	}
}

type recurrenceResponse struct {
	Recurrence recurrenceDTO `json:"recurrence"`
}

type listRecurrencesResponse struct {
	Recurrences []recurrenceDTO `json:"recurrences"`
}

type occurrencesResponse struct {
	Occurrences []string `json:"occurrences"`
}

type materializeResponse struct {
	Created []meetingDTO `json:"created"`
	Skipped []string     `json:"skipped"`
}

type recurrenceDTO struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Rule      string `json:"rule"`
	CreatedAt string `json:"created_at"`
}

func toRecurrenceDTO(rule application.Recurrence) recurrenceDTO {
	return recurrenceDTO{
		ID:        rule.ID,
		Title:     rule.Title,
		Rule:      rule.Rule,
		CreatedAt: formatTime(rule.CreatedAt),
	}
}

func formatTimes(times []time.Time) []string {
	out := make([]string, 0, len(times))
	for _, t := range times {
		out = append(out, formatTime(t))
	}
	return out
}
