package application

import (
	"time"

	"github.com/example/meeting-scheduler/internal/persistence"
)

// Records shared with the storage layer.
type (
	Recurrence     = persistence.RecurrenceRule
	Meeting        = persistence.Meeting
	Task           = persistence.Task
	ReplicatedUser = persistence.ReplicatedUser
)

// RecurrenceInput captures caller provided recurrence fields.
type RecurrenceInput struct {
	Title string
	Rule  string
}

// MeetingInput captures caller provided meeting fields.
type MeetingInput struct {
	RecurrenceID *string
	Title        string
	StartDate    time.Time
	EndDate      *time.Time
	Duration     time.Duration
	Location     string
	Notes        string
	AttendeeIDs  []string
}

// MeetingTemplate holds the fields copied onto every batch materialized
// occurrence.
type MeetingTemplate struct {
	Title    string
	Duration time.Duration
	Location string
	Notes    string
}

// ListMeetingsParams narrows meeting listings.
type ListMeetingsParams struct {
	UserID       string
	RecurrenceID string
	From         *time.Time
	Limit        int
	Offset       int
}

// BatchResult reports which requested dates produced new occurrences and
// which already existed.
type BatchResult struct {
	Created []Meeting
	Skipped []time.Time
}

// Completion is the outcome of completing a meeting.
type Completion struct {
	Meeting           Meeting
	Successor         *Meeting
	ReassignedTaskIDs []string
}

// TaskInput captures caller provided task fields.
type TaskInput struct {
	AssigneeID  *string
	Title       string
	Description string
	DueDate     *time.Time
	// MeetingID links the task to a meeting on creation.
	MeetingID *string
}

// UserInput captures caller provided user attributes. An empty Password on
// update keeps the current hash.
type UserInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// User is an account as exposed by the user service. The password hash never
// leaves the service.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func userFromRecord(record persistence.User) User {
	return User{
		ID:        record.ID,
		Email:     record.Email,
		FirstName: record.FirstName,
		LastName:  record.LastName,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}
