package persistence

import (
	"context"
	"time"
)

// RecurrenceRepository stores recurrence rules.
type RecurrenceRepository interface {
	CreateRecurrence(ctx context.Context, rule RecurrenceRule) error
	UpdateRecurrence(ctx context.Context, rule RecurrenceRule) error
	GetRecurrence(ctx context.Context, id string) (RecurrenceRule, error)
	ListRecurrences(ctx context.Context) ([]RecurrenceRule, error)
	DeleteRecurrence(ctx context.Context, id string) error
	// LockRecurrence holds the recurrence row for the rest of the enclosing
	// transaction so concurrent writers to the series queue behind it.
	// Returns ErrNotFound when the row does not exist.
	LockRecurrence(ctx context.Context, id string) error
}

// MeetingFilter narrows meeting list queries. Zero fields are ignored and
// Offset only applies together with a positive Limit.
type MeetingFilter struct {
	RecurrenceID string
	AttendeeID   string
	StartsAfter  *time.Time
	StartsFrom   *time.Time
	Limit        int
	Offset       int
}

// MeetingRepository stores meeting occurrences and their attendees.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting) error
	CreateMeetings(ctx context.Context, meetings []Meeting) error
	UpdateMeeting(ctx context.Context, meeting Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]Meeting, error)
	// NextInSeries returns the earliest occurrence of the series starting
	// strictly after the given instant, or ErrNotFound.
	NextInSeries(ctx context.Context, recurrenceID string, after time.Time) (Meeting, error)
	// LatestInSeries returns the occurrence of the series with the latest
	// start, or ErrNotFound when the series is empty.
	LatestInSeries(ctx context.Context, recurrenceID string) (Meeting, error)
	DeleteMeeting(ctx context.Context, id string) error

	AddAttendee(ctx context.Context, meetingID, userID string) error
	RemoveAttendee(ctx context.Context, meetingID, userID string) error
	ListAttendees(ctx context.Context, meetingID string) ([]string, error)
}

// TaskRepository stores tasks and their meeting links.
type TaskRepository interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context) ([]Task, error)
	DeleteTask(ctx context.Context, id string) error

	ListTasksByAssignee(ctx context.Context, assigneeID string) ([]Task, error)

	LinkTask(ctx context.Context, link MeetingTask) error
	// UnlinkTask returns ErrNotFound when the link does not exist.
	UnlinkTask(ctx context.Context, link MeetingTask) error
	ListTasksForMeeting(ctx context.Context, meetingID string) ([]Task, error)
	ListOpenTasksForMeeting(ctx context.Context, meetingID string) ([]Task, error)
	// ReassignTasks moves the links of the given tasks from one meeting to
	// another. Links already present on the target are not duplicated.
	ReassignTasks(ctx context.Context, fromMeetingID, toMeetingID string, taskIDs []string) error
}

// UserRepository stores authoritative user accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, id string) error
}

// ReplicatedUserRepository stores the local user replica.
type ReplicatedUserRepository interface {
	// InsertReplicaIfAbsent reports whether a row was inserted.
	InsertReplicaIfAbsent(ctx context.Context, user ReplicatedUser) (bool, error)
	// PatchReplica returns ErrNotFound when the row does not exist.
	PatchReplica(ctx context.Context, id string, patch ReplicatedUserPatch, updatedAt time.Time) error
	// DeleteReplica reports whether a row was removed.
	DeleteReplica(ctx context.Context, id string) (bool, error)
	GetReplica(ctx context.Context, id string) (ReplicatedUser, error)
	ListReplicas(ctx context.Context) ([]ReplicatedUser, error)
}

// EventLogRepository stores the durable event log and consumer cursors.
type EventLogRepository interface {
	AppendEvent(ctx context.Context, channel string, body []byte, createdAt time.Time) (int64, error)
	ReadEvents(ctx context.Context, channel string, afterSequence int64, limit int) ([]LoggedEvent, error)
	GetCursor(ctx context.Context, consumer, channel string) (int64, error)
	SaveCursor(ctx context.Context, consumer, channel string, sequence int64) error
}

// Repositories groups the repositories bound to one connection or
// transaction.
type Repositories struct {
	Recurrences RecurrenceRepository
	Meetings    MeetingRepository
	Tasks       TaskRepository
	Users       UserRepository
	Replicas    ReplicatedUserRepository
	Events      EventLogRepository
}

// Store provides repositories and transaction scoping.
type Store interface {
	Repositories() Repositories
	// WithinTransaction runs fn with repositories bound to a single
	// transaction. The transaction commits when fn returns nil and rolls back
	// otherwise.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
