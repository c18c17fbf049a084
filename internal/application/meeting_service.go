package application

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/example/meeting-scheduler/internal/persistence"
	"github.com/example/meeting-scheduler/internal/recurrence"
)

// MeetingService manages meetings and drives recurring series forward.
type MeetingService struct {
	store       persistence.Store
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
	rules       *ruleCache
}

// NewMeetingService wires dependencies for meeting operations.
func NewMeetingService(store persistence.Store, idGenerator func() string, now func() time.Time, logger *slog.Logger) *MeetingService {
	if idGenerator == nil {
		idGenerator = NewID
	}
	if now == nil {
		now = time.Now
	}
	return &MeetingService{
		store:       store,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
		rules:       newRuleCache(0, 0, now),
	}
}

func (s *MeetingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MeetingService", operation, attrs...)
}

// CreateMeeting validates input and stores a meeting with its attendees.
// Attendees must already be present in the local user replica.
func (s *MeetingService) CreateMeeting(ctx context.Context, input MeetingInput) (meeting Meeting, err error) {
	logger := s.loggerWith(ctx, "CreateMeeting")
	defer func() {
		logOutcome(ctx, logger, err, "failed to create meeting", "meeting created", "meeting_id", meeting.ID)
	}()

	normalized, vErr := normalizeMeetingInput(input)
	if vErr.HasErrors() {
		return Meeting{}, vErr
	}

	meeting = Meeting{
		ID:           s.idGenerator(),
		RecurrenceID: normalized.RecurrenceID,
		Title:        normalized.Title,
		StartDate:    normalized.StartDate,
		EndDate:      normalized.EndDate,
		Duration:     normalized.Duration,
		Location:     normalized.Location,
		Notes:        normalized.Notes,
		CreatedAt:    s.now().UTC(),
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if err := ensureRecurrence(ctx, repos.Recurrences, meeting.RecurrenceID); err != nil {
			return err
		}
		if err := ensureReplicas(ctx, repos.Replicas, "attendee_ids", normalized.AttendeeIDs); err != nil {
			return err
		}
		if err := repos.Meetings.CreateMeeting(ctx, meeting); err != nil {
			return err
		}
		for _, userID := range normalized.AttendeeIDs {
			if err := repos.Meetings.AddAttendee(ctx, meeting.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Meeting{}, mapRepoError(err)
	}
	return meeting, nil
}

// UpdateMeeting replaces the meeting fields. Moving the start counts as a
// reschedule. A nil AttendeeIDs leaves attendees unchanged.
func (s *MeetingService) UpdateMeeting(ctx context.Context, id string, input MeetingInput) (meeting Meeting, err error) {
	logger := s.loggerWith(ctx, "UpdateMeeting", "meeting_id", id)
	defer func() {
		logOutcome(ctx, logger, err, "failed to update meeting", "meeting updated", "num_reschedules", meeting.NumReschedules)
	}()

	normalized, vErr := normalizeMeetingInput(input)
	if vErr.HasErrors() {
		return Meeting{}, vErr
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		existing, err := repos.Meetings.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		if err := ensureRecurrence(ctx, repos.Recurrences, normalized.RecurrenceID); err != nil {
			return err
		}

		updated := existing
		updated.RecurrenceID = normalized.RecurrenceID
		updated.Title = normalized.Title
		updated.StartDate = normalized.StartDate
		updated.EndDate = normalized.EndDate
		updated.Duration = normalized.Duration
		updated.Location = normalized.Location
		updated.Notes = normalized.Notes
		if !updated.StartDate.Equal(existing.StartDate) {
			updated.NumReschedules++
		}
		if err := repos.Meetings.UpdateMeeting(ctx, updated); err != nil {
			return err
		}

		if input.AttendeeIDs != nil {
			if err := s.replaceAttendees(ctx, repos, id, normalized.AttendeeIDs); err != nil {
				return err
			}
		}
		meeting = updated
		return nil
	})
	if err != nil {
		return Meeting{}, mapRepoError(err)
	}
	return meeting, nil
}

func (s *MeetingService) replaceAttendees(ctx context.Context, repos persistence.Repositories, meetingID string, want []string) error {
	if err := ensureReplicas(ctx, repos.Replicas, "attendee_ids", want); err != nil {
		return err
	}
	current, err := repos.Meetings.ListAttendees(ctx, meetingID)
	if err != nil {
		return err
	}
	for _, userID := range current {
		if !slices.Contains(want, userID) {
			if err := repos.Meetings.RemoveAttendee(ctx, meetingID, userID); err != nil {
				return err
			}
		}
	}
	for _, userID := range want {
		if !slices.Contains(current, userID) {
			if err := repos.Meetings.AddAttendee(ctx, meetingID, userID); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetMeeting loads a meeting by id.
func (s *MeetingService) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	meeting, err := s.store.Repositories().Meetings.GetMeeting(ctx, id)
	if err != nil {
		return Meeting{}, mapRepoError(err)
	}
	return meeting, nil
}

// ListMeetings returns meetings ordered by start.
func (s *MeetingService) ListMeetings(ctx context.Context, params ListMeetingsParams) ([]Meeting, error) {
	if params.Limit < 0 || params.Offset < 0 {
		return nil, fieldError("limit", "limit and offset must not be negative")
	}
	var from *time.Time
	if params.From != nil {
		utc := params.From.UTC()
		from = &utc
	}
	meetings, err := s.store.Repositories().Meetings.ListMeetings(ctx, persistence.MeetingFilter{
		RecurrenceID: strings.TrimSpace(params.RecurrenceID),
		AttendeeID:   strings.TrimSpace(params.UserID),
		StartsFrom:   from,
		Limit:        params.Limit,
		Offset:       params.Offset,
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return meetings, nil
}

// DeleteMeeting removes a meeting with its attendee and task links.
func (s *MeetingService) DeleteMeeting(ctx context.Context, id string) (err error) {
	logger := s.loggerWith(ctx, "DeleteMeeting", "meeting_id", id)
	defer func() {
		logOutcome(ctx, logger, err, "failed to delete meeting", "meeting deleted")
	}()

	return mapRepoError(s.store.Repositories().Meetings.DeleteMeeting(ctx, id))
}

// ListAttendees returns the attendee ids of a meeting.
func (s *MeetingService) ListAttendees(ctx context.Context, meetingID string) ([]string, error) {
	repos := s.store.Repositories()
	if _, err := repos.Meetings.GetMeeting(ctx, meetingID); err != nil {
		return nil, mapRepoError(err)
	}
	ids, err := repos.Meetings.ListAttendees(ctx, meetingID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return ids, nil
}

// AddAttendee links a replicated user to a meeting. A user not yet replicated
// is reported as ErrNotFound.
func (s *MeetingService) AddAttendee(ctx context.Context, meetingID, userID string) (err error) {
	logger := s.loggerWith(ctx, "AddAttendee", "meeting_id", meetingID, "user_id", userID)
	defer func() {
		logOutcome(ctx, logger, err, "failed to add attendee", "attendee added")
	}()

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if _, err := repos.Meetings.GetMeeting(ctx, meetingID); err != nil {
			return err
		}
		if _, err := repos.Replicas.GetReplica(ctx, userID); err != nil {
			return err
		}
		return repos.Meetings.AddAttendee(ctx, meetingID, userID)
	})
	return mapRepoError(err)
}

// RemoveAttendee unlinks a user from a meeting.
func (s *MeetingService) RemoveAttendee(ctx context.Context, meetingID, userID string) (err error) {
	logger := s.loggerWith(ctx, "RemoveAttendee", "meeting_id", meetingID, "user_id", userID)
	defer func() {
		logOutcome(ctx, logger, err, "failed to remove attendee", "attendee removed")
	}()

	return mapRepoError(s.store.Repositories().Meetings.RemoveAttendee(ctx, meetingID, userID))
}

// AdvanceSeries creates and returns the occurrence that follows the meeting
// in its series.
func (s *MeetingService) AdvanceSeries(ctx context.Context, meetingID string) (next Meeting, err error) {
	logger := s.loggerWith(ctx, "AdvanceSeries", "meeting_id", meetingID)
	defer func() {
		logOutcome(ctx, logger, err, "failed to advance series", "series advanced", "next_meeting_id", next.ID, "start_date", next.StartDate)
	}()

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		meeting, err := repos.Meetings.GetMeeting(ctx, meetingID)
		if err != nil {
			return err
		}
		next, err = s.advance(ctx, repos, meeting, meeting.StartDate)
		return err
	})
	if err != nil {
		return Meeting{}, mapRepoError(err)
	}
	return next, nil
}

// GetOrCreateSubsequent returns the first stored occurrence of the series
// that starts after afterDate, creating it from the rule when none exists.
// afterDate earlier than the meeting's own start is raised to that start; a
// zero afterDate means the meeting's start.
func (s *MeetingService) GetOrCreateSubsequent(ctx context.Context, meetingID string, afterDate time.Time) (next Meeting, err error) {
	logger := s.loggerWith(ctx, "GetOrCreateSubsequent", "meeting_id", meetingID)
	var created bool
	defer func() {
		logOutcome(ctx, logger, err, "failed to resolve subsequent meeting", "subsequent meeting resolved",
			"next_meeting_id", next.ID, "created", created)
	}()

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		meeting, err := repos.Meetings.GetMeeting(ctx, meetingID)
		if err != nil {
			return err
		}
		next, created, err = s.getOrCreateSubsequent(ctx, repos, meeting, afterDate)
		return err
	})
	if err != nil {
		return Meeting{}, mapRepoError(err)
	}
	return next, nil
}

func (s *MeetingService) getOrCreateSubsequent(ctx context.Context, repos persistence.Repositories, meeting Meeting, afterDate time.Time) (Meeting, bool, error) {
	if !meeting.InSeries() {
		return Meeting{}, false, notInSeriesError()
	}

	after := meeting.StartDate
	if afterDate.After(after) {
		after = afterDate.UTC()
	}

	if err := repos.Recurrences.LockRecurrence(ctx, *meeting.RecurrenceID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Meeting{}, false, fieldError("recurrence_id", "recurrence does not exist")
		}
		return Meeting{}, false, err
	}

	existing, err := repos.Meetings.NextInSeries(ctx, *meeting.RecurrenceID, after)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return Meeting{}, false, err
	}

	next, err := s.advance(ctx, repos, meeting, after)
	if err != nil {
		return Meeting{}, false, err
	}
	return next, true, nil
}

// advance stores the occurrence following after, anchoring the rule at the
// meeting's start and carrying the meeting's fields forward.
func (s *MeetingService) advance(ctx context.Context, repos persistence.Repositories, meeting Meeting, after time.Time) (Meeting, error) {
	if !meeting.InSeries() {
		return Meeting{}, notInSeriesError()
	}
	rule, err := s.loadRule(ctx, repos, *meeting.RecurrenceID)
	if err != nil {
		return Meeting{}, err
	}

	start, ok := rule.Next(meeting.StartDate, after)
	if !ok {
		return Meeting{}, seriesExhaustedError()
	}

	next := Meeting{
		ID:           s.idGenerator(),
		RecurrenceID: meeting.RecurrenceID,
		Title:        meeting.Title,
		StartDate:    start,
		Duration:     meeting.Duration,
		Location:     meeting.Location,
		Notes:        meeting.Notes,
		CreatedAt:    s.now().UTC(),
	}
	if meeting.EndDate != nil {
		end := start.Add(meeting.EndDate.Sub(meeting.StartDate))
		next.EndDate = &end
	}
	if err := repos.Meetings.CreateMeeting(ctx, next); err != nil {
		return Meeting{}, err
	}
	return next, nil
}

func (s *MeetingService) loadRule(ctx context.Context, repos persistence.Repositories, recurrenceID string) (recurrence.Rule, error) {
	stored, err := repos.Recurrences.GetRecurrence(ctx, recurrenceID)
	if err != nil {
		return recurrence.Rule{}, err
	}
	rule, err := s.rules.Parse(stored.Rule)
	if err != nil {
		return recurrence.Rule{}, ruleValidationError(err)
	}
	return rule, nil
}

// BatchMaterialize creates one occurrence per date that the series does not
// already hold. Dates matching a stored occurrence, or repeated in the input,
// are reported as skipped. Nothing is written when every date is skipped.
func (s *MeetingService) BatchMaterialize(ctx context.Context, recurrenceID string, template MeetingTemplate, dates []time.Time) (result BatchResult, err error) {
	logger := s.loggerWith(ctx, "BatchMaterialize", "recurrence_id", recurrenceID, "requested", len(dates))
	defer func() {
		logOutcome(ctx, logger, err, "failed to materialize series", "series materialized",
			"created", len(result.Created), "skipped", len(result.Skipped))
	}()

	vErr := &ValidationError{}
	if len(dates) == 0 {
		vErr.add("dates", "at least one date is required")
	}
	for _, date := range dates {
		if date.IsZero() {
			vErr.add("dates", "dates must not be empty")
			break
		}
	}
	if template.Duration < 0 {
		vErr.add("duration", "duration must not be negative")
	}
	if vErr.HasErrors() {
		return BatchResult{}, vErr
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		series, err := repos.Recurrences.GetRecurrence(ctx, recurrenceID)
		if err != nil {
			return err
		}

		normalized := make([]time.Time, len(dates))
		earliest := dates[0].UTC()
		for i, date := range dates {
			normalized[i] = date.UTC()
			if normalized[i].Before(earliest) {
				earliest = normalized[i]
			}
		}

		existing, err := repos.Meetings.ListMeetings(ctx, persistence.MeetingFilter{
			RecurrenceID: recurrenceID,
			StartsFrom:   &earliest,
		})
		if err != nil {
			return err
		}

		taken := make([]time.Time, 0, len(existing)+len(normalized))
		for _, meeting := range existing {
			taken = append(taken, meeting.StartDate)
		}

		result = BatchResult{Created: []Meeting{}, Skipped: []time.Time{}}
		var remaining []time.Time
		for _, date := range normalized {
			if containsInstant(taken, date) {
				result.Skipped = append(result.Skipped, date)
				continue
			}
			taken = append(taken, date)
			remaining = append(remaining, date)
		}
		if len(remaining) == 0 {
			return nil
		}

		title := strings.TrimSpace(template.Title)
		if title == "" {
			title = series.Title
		}
		createdAt := s.now().UTC()
		seriesID := series.ID
		for _, date := range remaining {
			meeting := Meeting{
				ID:           s.idGenerator(),
				RecurrenceID: &seriesID,
				Title:        title,
				StartDate:    date,
				Duration:     template.Duration,
				Location:     strings.TrimSpace(template.Location),
				Notes:        template.Notes,
				CreatedAt:    createdAt,
			}
			if template.Duration > 0 {
				end := date.Add(template.Duration)
				meeting.EndDate = &end
			}
			result.Created = append(result.Created, meeting)
		}
		return repos.Meetings.CreateMeetings(ctx, result.Created)
	})
	if err != nil {
		return BatchResult{}, mapRepoError(err)
	}
	return result, nil
}

// ExtendSeries materializes the occurrences the rule generates between the
// latest stored occurrence and until. Empty series are left alone.
func (s *MeetingService) ExtendSeries(ctx context.Context, recurrenceID string, until time.Time) (BatchResult, error) {
	repos := s.store.Repositories()

	latest, err := repos.Meetings.LatestInSeries(ctx, recurrenceID)
	if errors.Is(err, persistence.ErrNotFound) {
		return BatchResult{Created: []Meeting{}, Skipped: []time.Time{}}, nil
	}
	if err != nil {
		return BatchResult{}, mapRepoError(err)
	}
	if !until.After(latest.StartDate) {
		return BatchResult{Created: []Meeting{}, Skipped: []time.Time{}}, nil
	}

	anchor, err := seriesAnchor(ctx, repos.Meetings, recurrenceID)
	if err != nil {
		return BatchResult{}, err
	}
	rule, err := s.loadRule(ctx, repos, recurrenceID)
	if err != nil {
		return BatchResult{}, mapRepoError(err)
	}

	var dates []time.Time
	for _, date := range rule.Between(anchor, latest.StartDate, until, maxOccurrenceLimit) {
		if date.After(latest.StartDate) {
			dates = append(dates, date)
		}
	}
	if len(dates) == 0 {
		return BatchResult{Created: []Meeting{}, Skipped: []time.Time{}}, nil
	}

	return s.BatchMaterialize(ctx, recurrenceID, MeetingTemplate{
		Title:    latest.Title,
		Duration: latest.Duration,
		Location: latest.Location,
		Notes:    latest.Notes,
	}, dates)
}

// CompleteMeeting marks the meeting completed and, for series meetings,
// moves its open tasks to the next occurrence, creating that occurrence when
// needed. Everything happens in one transaction. Open tasks of a standalone
// meeting, or of the last occurrence a series rule allows, stay linked to it.
func (s *MeetingService) CompleteMeeting(ctx context.Context, meetingID string) (completion Completion, err error) {
	logger := s.loggerWith(ctx, "CompleteMeeting", "meeting_id", meetingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to complete meeting", "error", err, "error_kind", ErrorKind(err))
			return
		}
		attrs := []any{"reassigned_tasks", len(completion.ReassignedTaskIDs)}
		if completion.Successor != nil {
			attrs = append(attrs, "successor_id", completion.Successor.ID)
		}
		logger.InfoContext(ctx, "meeting completed", attrs...)
	}()

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		completion = Completion{}

		meeting, err := repos.Meetings.GetMeeting(ctx, meetingID)
		if err != nil {
			return err
		}
		meeting.Completed = true
		if err := repos.Meetings.UpdateMeeting(ctx, meeting); err != nil {
			return err
		}
		completion.Meeting = meeting

		open, err := repos.Tasks.ListOpenTasksForMeeting(ctx, meeting.ID)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return nil
		}

		if !meeting.InSeries() {
			logger.InfoContext(ctx, "standalone meeting completed with open tasks; tasks stay attached",
				"open_tasks", len(open))
			return nil
		}

		successor, _, err := s.getOrCreateSubsequent(ctx, repos, meeting, meeting.StartDate)
		if errors.Is(err, errSeriesExhausted) {
			logger.InfoContext(ctx, "last occurrence of the series completed with open tasks; tasks stay attached",
				"open_tasks", len(open))
			return nil
		}
		if err != nil {
			return err
		}

		ids := make([]string, len(open))
		for i, task := range open {
			ids[i] = task.ID
		}
		sort.Strings(ids)
		if err := repos.Tasks.ReassignTasks(ctx, meeting.ID, successor.ID, ids); err != nil {
			return err
		}

		completion.Successor = &successor
		completion.ReassignedTaskIDs = ids
		return nil
	})
	if err != nil {
		return Completion{}, mapRepoError(err)
	}
	return completion, nil
}

func normalizeMeetingInput(input MeetingInput) (MeetingInput, *ValidationError) {
	normalized := MeetingInput{
		Title:       strings.TrimSpace(input.Title),
		StartDate:   input.StartDate.UTC(),
		Duration:    input.Duration,
		Location:    strings.TrimSpace(input.Location),
		Notes:       input.Notes,
		AttendeeIDs: uniqueStrings(input.AttendeeIDs),
	}
	if input.RecurrenceID != nil {
		if id := strings.TrimSpace(*input.RecurrenceID); id != "" {
			normalized.RecurrenceID = &id
		}
	}
	if input.EndDate != nil {
		end := input.EndDate.UTC()
		normalized.EndDate = &end
	}

	vErr := &ValidationError{}
	if normalized.Title == "" {
		vErr.add("title", "title is required")
	}
	if input.StartDate.IsZero() {
		vErr.add("start_date", "start date is required")
	}
	if normalized.EndDate != nil && !normalized.EndDate.After(normalized.StartDate) {
		vErr.add("end_date", "end date must be after start date")
	}
	if normalized.Duration < 0 {
		vErr.add("duration", "duration must not be negative")
	}
	if normalized.Duration%time.Minute != 0 {
		vErr.add("duration", "duration must be whole minutes")
	}
	return normalized, vErr
}

func ensureRecurrence(ctx context.Context, recurrences persistence.RecurrenceRepository, id *string) error {
	if id == nil {
		return nil
	}
	_, err := recurrences.GetRecurrence(ctx, *id)
	if errors.Is(err, persistence.ErrNotFound) {
		return fieldError("recurrence_id", "recurrence does not exist")
	}
	return err
}

// ensureReplicas reports the ids not present in the local user replica as a
// validation error on field.
func ensureReplicas(ctx context.Context, replicas persistence.ReplicatedUserRepository, field string, ids []string) error {
	var missing []string
	for _, id := range ids {
		_, err := replicas.GetReplica(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return fieldError(field, "unknown users: "+strings.Join(missing, ", "))
	}
	return nil
}

// errSeriesExhausted marks a rule with no occurrence after the requested
// instant.
var errSeriesExhausted = errors.New("series has no further occurrence")

func seriesExhaustedError() *ValidationError {
	vErr := fieldError("start_date", "no future occurrence")
	vErr.cause = errSeriesExhausted
	return vErr
}

func notInSeriesError() *ValidationError {
	return fieldError("recurrence_id", "meeting does not belong to a series")
}

func containsInstant(instants []time.Time, t time.Time) bool {
	for _, candidate := range instants {
		if candidate.Equal(t) {
			return true
		}
	}
	return false
}

func uniqueStrings(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
