package persistence

import "time"

// RecurrenceRule is a named recurrence expression owning a meeting series.
type RecurrenceRule struct {
	ID        string
	Title     string
	Rule      string
	CreatedAt time.Time
}

// Meeting is a single concrete meeting occurrence.
type Meeting struct {
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

// InSeries reports whether the meeting belongs to a recurrence.
func (m Meeting) InSeries() bool {
	return m.RecurrenceID != nil && *m.RecurrenceID != ""
}

// Task is an obligation that may be linked to one or more meetings.
type Task struct {
	ID            string
	AssigneeID    *string
	Title         string
	Description   string
	DueDate       *time.Time
	Completed     bool
	CompletedDate *time.Time
	CreatedAt     time.Time
}

// MeetingTask links a task to a meeting.
type MeetingTask struct {
	MeetingID string
	TaskID    string
}

// User is the authoritative account record owned by the user service.
type User struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	HashedPassword string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReplicatedUser is the read-only local copy of a user kept current by
// replication events.
type ReplicatedUser struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	UpdatedAt time.Time
}

// ReplicatedUserPatch carries the fields present in a partial update event.
type ReplicatedUserPatch struct {
	Email     *string
	FirstName *string
	LastName  *string
}

// IsEmpty reports whether the patch changes nothing.
func (p ReplicatedUserPatch) IsEmpty() bool {
	return p.Email == nil && p.FirstName == nil && p.LastName == nil
}

// LoggedEvent is a message persisted in the durable event log.
type LoggedEvent struct {
	Sequence  int64
	Channel   string
	Body      []byte
	CreatedAt time.Time
}
