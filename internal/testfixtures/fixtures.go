package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/meeting-scheduler/internal/application"
	"github.com/example/meeting-scheduler/internal/persistence"
)

var (
	recurrenceCounter uint64
	meetingCounter    uint64
	taskCounter       uint64
	userCounter       uint64
)

// referenceTime is a Tuesday.
var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// WeeklyTuesdayRule recurs every Tuesday at the reference time of day.
const WeeklyTuesdayRule = "FREQ=WEEKLY;BYDAY=TU;BYHOUR=15;BYMINUTE=4;BYSECOND=5"

// ----------------------------- Recurrence fixtures -----------------------------

// RecurrenceFixture is a deterministic recurrence rule.
type RecurrenceFixture struct {
	ID        string
	Title     string
	Rule      string
	CreatedAt time.Time
}

// RecurrenceOption configures the generated recurrence fixture.
type RecurrenceOption func(*RecurrenceFixture)

// NewRecurrenceFixture returns a weekly recurrence with optional overrides.
func NewRecurrenceFixture(opts ...RecurrenceOption) RecurrenceFixture {
	idx := atomic.AddUint64(&recurrenceCounter, 1)
	fixture := RecurrenceFixture{
		ID:        fmt.Sprintf("recurrence-%03d", idx),
		Title:     fmt.Sprintf("Series %03d", idx),
		Rule:      WeeklyTuesdayRule,
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRecurrenceID overrides the generated recurrence ID.
func WithRecurrenceID(id string) RecurrenceOption {
	return func(f *RecurrenceFixture) {
		f.ID = id
	}
}

// WithRecurrenceRule overrides the rule text.
func WithRecurrenceRule(rule string) RecurrenceOption {
	return func(f *RecurrenceFixture) {
		f.Rule = rule
	}
}

// WithRecurrenceTitle overrides the recurrence title.
func WithRecurrenceTitle(title string) RecurrenceOption {
	return func(f *RecurrenceFixture) {
		f.Title = title
	}
}

// Persistence returns the fixture as a stored record.
func (f RecurrenceFixture) Persistence() persistence.RecurrenceRule {
	return persistence.RecurrenceRule{ID: f.ID, Title: f.Title, Rule: f.Rule, CreatedAt: f.CreatedAt}
}

// Input returns the fixture as service input.
func (f RecurrenceFixture) Input() application.RecurrenceInput {
	return application.RecurrenceInput{Title: f.Title, Rule: f.Rule}
}

// ----------------------------- Meeting fixtures -----------------------------

// MeetingFixture is a deterministic meeting occurrence.
type MeetingFixture struct {
	ID             string
	RecurrenceID   *string
	Title          string
	StartDate      time.Time
	EndDate        *time.Time
	Duration       time.Duration
	Location       string
	Notes          string
	Completed      bool
	NumReschedules int
	CreatedAt      time.Time
}

// MeetingOption configures the generated meeting fixture.
type MeetingOption func(*MeetingFixture)

// NewMeetingFixture returns a standalone thirty minute meeting starting at
// the reference time.
func NewMeetingFixture(opts ...MeetingOption) MeetingFixture {
	idx := atomic.AddUint64(&meetingCounter, 1)
	fixture := MeetingFixture{
		ID:        fmt.Sprintf("meeting-%03d", idx),
		Title:     fmt.Sprintf("Meeting %03d", idx),
		StartDate: referenceTime,
		Duration:  30 * time.Minute,
		Location:  "Room A",
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithMeetingID overrides the generated meeting ID.
func WithMeetingID(id string) MeetingOption {
	return func(f *MeetingFixture) {
		f.ID = id
	}
}

// WithMeetingRecurrence places the meeting in a series.
func WithMeetingRecurrence(recurrenceID string) MeetingOption {
	return func(f *MeetingFixture) {
		f.RecurrenceID = &recurrenceID
	}
}

// WithMeetingStart overrides the start instant.
func WithMeetingStart(start time.Time) MeetingOption {
	return func(f *MeetingFixture) {
		f.StartDate = start
	}
}

// WithMeetingEnd sets an explicit end instant.
func WithMeetingEnd(end time.Time) MeetingOption {
	return func(f *MeetingFixture) {
		f.EndDate = &end
	}
}

// WithMeetingTitle overrides the meeting title.
func WithMeetingTitle(title string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Title = title
	}
}

// WithMeetingCompleted marks the meeting completed.
func WithMeetingCompleted() MeetingOption {
	return func(f *MeetingFixture) {
		f.Completed = true
	}
}

// Persistence returns the fixture as a stored record.
func (f MeetingFixture) Persistence() persistence.Meeting {
	return persistence.Meeting{
		ID:             f.ID,
		RecurrenceID:   f.RecurrenceID,
		Title:          f.Title,
		StartDate:      f.StartDate,
		EndDate:        f.EndDate,
		Duration:       f.Duration,
		Location:       f.Location,
		Notes:          f.Notes,
		Completed:      f.Completed,
		NumReschedules: f.NumReschedules,
		CreatedAt:      f.CreatedAt,
	}
}

// Input returns the fixture as service input.
func (f MeetingFixture) Input() application.MeetingInput {
	return application.MeetingInput{
		RecurrenceID: f.RecurrenceID,
		Title:        f.Title,
		StartDate:    f.StartDate,
		EndDate:      f.EndDate,
		Duration:     f.Duration,
		Location:     f.Location,
		Notes:        f.Notes,
	}
}

// ----------------------------- Task fixtures -----------------------------

// TaskFixture is a deterministic open task.
type TaskFixture struct {
	ID            string
	AssigneeID    *string
	Title         string
	Description   string
	DueDate       *time.Time
	Completed     bool
	CompletedDate *time.Time
	CreatedAt     time.Time
}

// TaskOption configures the generated task fixture.
type TaskOption func(*TaskFixture)

// NewTaskFixture returns an open task with optional overrides.
func NewTaskFixture(opts ...TaskOption) TaskFixture {
	idx := atomic.AddUint64(&taskCounter, 1)
	fixture := TaskFixture{
		ID:        fmt.Sprintf("task-%03d", idx),
		Title:     fmt.Sprintf("Task %03d", idx),
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithTaskID overrides the generated task ID.
func WithTaskID(id string) TaskOption {
	return func(f *TaskFixture) {
		f.ID = id
	}
}

// WithTaskAssignee sets the assignee.
func WithTaskAssignee(userID string) TaskOption {
	return func(f *TaskFixture) {
		f.AssigneeID = &userID
	}
}

// WithTaskCompletedAt marks the task completed at t.
func WithTaskCompletedAt(t time.Time) TaskOption {
	return func(f *TaskFixture) {
		f.Completed = true
		f.CompletedDate = &t
	}
}

// Persistence returns the fixture as a stored record.
func (f TaskFixture) Persistence() persistence.Task {
	return persistence.Task{
		ID:            f.ID,
		AssigneeID:    f.AssigneeID,
		Title:         f.Title,
		Description:   f.Description,
		DueDate:       f.DueDate,
		Completed:     f.Completed,
		CompletedDate: f.CompletedDate,
		CreatedAt:     f.CreatedAt,
	}
}

// ----------------------------- User fixtures -----------------------------

// UserFixture is a deterministic account, usable both as an authoritative
// user and as its replica.
type UserFixture struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Password  string
	UpdatedAt time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	fixture := UserFixture{
		ID:        id,
		Email:     id + "@example.com",
		FirstName: "User",
		LastName:  fmt.Sprintf("%03d", idx),
		Password:  "s3cret-" + id,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithUserName overrides the first and last name.
func WithUserName(first, last string) UserOption {
	return func(f *UserFixture) {
		f.FirstName = first
		f.LastName = last
	}
}

// Input returns the fixture as user service input.
func (f UserFixture) Input() application.UserInput {
	return application.UserInput{Email: f.Email, FirstName: f.FirstName, LastName: f.LastName, Password: f.Password}
}

// Replica returns the fixture as a replicated user row.
func (f UserFixture) Replica() persistence.ReplicatedUser {
	return persistence.ReplicatedUser{
		ID:        f.ID,
		Email:     f.Email,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		UpdatedAt: f.UpdatedAt,
	}
}
