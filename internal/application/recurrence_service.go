package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/meeting-scheduler/internal/persistence"
	"github.com/example/meeting-scheduler/internal/recurrence"
)

const (
	defaultOccurrenceLimit = 100
	maxOccurrenceLimit     = 1000
)

// RecurrenceService manages recurrence rules and previews their occurrences.
type RecurrenceService struct {
	store       persistence.Store
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
	rules       *ruleCache
}

// NewRecurrenceService wires dependencies for recurrence operations.
func NewRecurrenceService(store persistence.Store, idGenerator func() string, now func() time.Time, logger *slog.Logger) *RecurrenceService {
	if idGenerator == nil {
		idGenerator = NewID
	}
	if now == nil {
		now = time.Now
	}
	return &RecurrenceService{
		store:       store,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
		rules:       newRuleCache(0, 0, now),
	}
}

func (s *RecurrenceService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RecurrenceService", operation, attrs...)
}

// CreateRecurrence validates the rule text and stores it.
func (s *RecurrenceService) CreateRecurrence(ctx context.Context, input RecurrenceInput) (rule Recurrence, err error) {
	logger := s.loggerWith(ctx, "CreateRecurrence")
	defer func() {
		logOutcome(ctx, logger, err, "failed to create recurrence", "recurrence created", "recurrence_id", rule.ID)
	}()

	normalized, err := validateRecurrenceInput(input)
	if err != nil {
		return Recurrence{}, err
	}

	rule = Recurrence{
		ID:        s.idGenerator(),
		Title:     normalized.Title,
		Rule:      normalized.Rule,
		CreatedAt: s.now().UTC(),
	}
	if err = s.store.Repositories().Recurrences.CreateRecurrence(ctx, rule); err != nil {
		return Recurrence{}, mapRepoError(err)
	}
	return rule, nil
}

// UpdateRecurrence replaces the title and rule text. Occurrences that already
// exist are left untouched.
func (s *RecurrenceService) UpdateRecurrence(ctx context.Context, id string, input RecurrenceInput) (rule Recurrence, err error) {
	logger := s.loggerWith(ctx, "UpdateRecurrence", "recurrence_id", id)
	defer func() {
		logOutcome(ctx, logger, err, "failed to update recurrence", "recurrence updated")
	}()

	normalized, err := validateRecurrenceInput(input)
	if err != nil {
		return Recurrence{}, err
	}

	repo := s.store.Repositories().Recurrences
	rule, err = repo.GetRecurrence(ctx, id)
	if err != nil {
		return Recurrence{}, mapRepoError(err)
	}
	rule.Title = normalized.Title
	rule.Rule = normalized.Rule
	if err = repo.UpdateRecurrence(ctx, rule); err != nil {
		return Recurrence{}, mapRepoError(err)
	}
	return rule, nil
}

// GetRecurrence loads a recurrence by id.
func (s *RecurrenceService) GetRecurrence(ctx context.Context, id string) (Recurrence, error) {
	rule, err := s.store.Repositories().Recurrences.GetRecurrence(ctx, id)
	if err != nil {
		return Recurrence{}, mapRepoError(err)
	}
	return rule, nil
}

// ListRecurrences returns every recurrence ordered by creation.
func (s *RecurrenceService) ListRecurrences(ctx context.Context) ([]Recurrence, error) {
	rules, err := s.store.Repositories().Recurrences.ListRecurrences(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return rules, nil
}

// DeleteRecurrence removes a recurrence. Its meetings become standalone.
func (s *RecurrenceService) DeleteRecurrence(ctx context.Context, id string) (err error) {
	logger := s.loggerWith(ctx, "DeleteRecurrence", "recurrence_id", id)
	defer func() {
		logOutcome(ctx, logger, err, "failed to delete recurrence", "recurrence deleted")
	}()

	return mapRepoError(s.store.Repositories().Recurrences.DeleteRecurrence(ctx, id))
}

// Occurrences previews the instants the rule generates in [from, to). The
// series is anchored at its earliest stored meeting, or at from when the
// series has none.
func (s *RecurrenceService) Occurrences(ctx context.Context, id string, from, to time.Time, limit int) ([]time.Time, error) {
	vErr := &ValidationError{}
	if from.IsZero() {
		vErr.add("from", "from is required")
	}
	if to.IsZero() {
		vErr.add("to", "to is required")
	} else if !to.After(from) {
		vErr.add("to", "to must be after from")
	}
	if limit < 0 {
		vErr.add("limit", "limit must not be negative")
	} else if limit > maxOccurrenceLimit {
		vErr.add("limit", fmt.Sprintf("limit must be at most %d", maxOccurrenceLimit))
	}
	if vErr.HasErrors() {
		return nil, vErr
	}
	if limit == 0 {
		limit = defaultOccurrenceLimit
	}

	repos := s.store.Repositories()
	stored, err := repos.Recurrences.GetRecurrence(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	rule, err := s.rules.Parse(stored.Rule)
	if err != nil {
		return nil, ruleValidationError(err)
	}

	anchor, err := seriesAnchor(ctx, repos.Meetings, id)
	if err != nil {
		return nil, err
	}
	if anchor.IsZero() {
		anchor = from
	}

	occurrences := rule.Between(anchor, from.UTC(), to.UTC(), limit)
	if occurrences == nil {
		occurrences = []time.Time{}
	}
	return occurrences, nil
}

// seriesAnchor returns the start of the earliest stored occurrence, or the
// zero time when the series is empty.
func seriesAnchor(ctx context.Context, meetings persistence.MeetingRepository, recurrenceID string) (time.Time, error) {
	first, err := meetings.ListMeetings(ctx, persistence.MeetingFilter{RecurrenceID: recurrenceID, Limit: 1})
	if err != nil {
		return time.Time{}, mapRepoError(err)
	}
	if len(first) == 0 {
		return time.Time{}, nil
	}
	return first[0].StartDate, nil
}

func validateRecurrenceInput(input RecurrenceInput) (RecurrenceInput, error) {
	normalized := RecurrenceInput{
		Title: strings.TrimSpace(input.Title),
		Rule:  strings.TrimSpace(input.Rule),
	}

	vErr := &ValidationError{}
	if normalized.Title == "" {
		vErr.add("title", "title is required")
	}
	if normalized.Rule == "" {
		vErr.add("rule", "rule is required")
	} else if parsed, err := recurrence.Parse(normalized.Rule); err != nil {
		var ruleErr *recurrence.InvalidRuleError
		if !errors.As(err, &ruleErr) {
			return RecurrenceInput{}, err
		}
		vErr.add("rule", ruleErr.Reason)
		vErr.cause = err
	} else {
		normalized.Rule = parsed.String()
	}

	if vErr.HasErrors() {
		return RecurrenceInput{}, vErr
	}
	return normalized, nil
}
