package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/meeting-scheduler/internal/persistence"
)

const meetingColumns = `m.id, m.recurrence_id, m.title, m.start_date, m.end_date, m.duration_minutes,
	m.location, m.notes, m.completed, m.num_reschedules, m.created_at`

// MeetingRepository implements persistence.MeetingRepository.
type MeetingRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// CreateMeeting inserts a single meeting.
func (r *MeetingRepository) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	return r.CreateMeetings(ctx, []persistence.Meeting{meeting})
}

// CreateMeetings inserts meetings with one multi-row statement.
func (r *MeetingRepository) CreateMeetings(ctx context.Context, meetings []persistence.Meeting) error {
	if len(meetings) == 0 {
		return nil
	}

	var (
		query strings.Builder
		args  = make([]any, 0, len(meetings)*11)
	)
	query.WriteString(`INSERT INTO meetings (id, recurrence_id, title, start_date, end_date, duration_minutes,
		location, notes, completed, num_reschedules, created_at) VALUES `)
	for i, meeting := range meetings {
		if meeting.ID == "" {
			return persistence.ErrConstraintViolation
		}
		if i > 0 {
			query.WriteString(", ")
		}
		query.WriteString("(" + placeholders(11) + ")")
		args = append(args,
			meeting.ID,
			nullString(meeting.RecurrenceID),
			meeting.Title,
			formatTime(meeting.StartDate),
			nullTime(meeting.EndDate),
			int64(meeting.Duration/time.Minute),
			meeting.Location,
			meeting.Notes,
			boolToInt(meeting.Completed),
			meeting.NumReschedules,
			formatTime(meeting.CreatedAt),
		)
	}

	if _, err := r.helper.Exec(ctx, query.String(), args...); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// UpdateMeeting overwrites every mutable column of the meeting.
func (r *MeetingRepository) UpdateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	const query = `
		UPDATE meetings
		SET recurrence_id = ?, title = ?, start_date = ?, end_date = ?, duration_minutes = ?,
			location = ?, notes = ?, completed = ?, num_reschedules = ?
		WHERE id = ?
	`
	result, err := r.helper.Exec(ctx, query,
		nullString(meeting.RecurrenceID),
		meeting.Title,
		formatTime(meeting.StartDate),
		nullTime(meeting.EndDate),
		int64(meeting.Duration/time.Minute),
		meeting.Location,
		meeting.Notes,
		boolToInt(meeting.Completed),
		meeting.NumReschedules,
		meeting.ID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// GetMeeting loads a meeting by id.
func (r *MeetingRepository) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	if id == "" {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	query := `SELECT ` + meetingColumns + ` FROM meetings m WHERE m.id = ?`
	meeting, err := scanMeeting(r.helper.QueryRow(ctx, query, id))
	if err != nil {
		return persistence.Meeting{}, r.mapper.MapError(err)
	}
	return meeting, nil
}

// ListMeetings returns meetings matching filter ordered by start.
func (r *MeetingRepository) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	var (
		query strings.Builder
		where []string
		args  []any
	)
	query.WriteString(`SELECT ` + meetingColumns + ` FROM meetings m`)

	if filter.AttendeeID != "" {
		query.WriteString(` JOIN meeting_attendees a ON a.meeting_id = m.id`)
		where = append(where, `a.user_id = ?`)
		args = append(args, filter.AttendeeID)
	}
	if filter.RecurrenceID != "" {
		where = append(where, `m.recurrence_id = ?`)
		args = append(args, filter.RecurrenceID)
	}
	if filter.StartsAfter != nil {
		where = append(where, `m.start_date > ?`)
		args = append(args, formatTime(*filter.StartsAfter))
	}
	if filter.StartsFrom != nil {
		where = append(where, `m.start_date >= ?`)
		args = append(args, formatTime(*filter.StartsFrom))
	}
	if len(where) > 0 {
		query.WriteString(` WHERE ` + strings.Join(where, ` AND `))
	}
	query.WriteString(` ORDER BY m.start_date ASC, m.id ASC`)
	if filter.Limit > 0 {
		query.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query.WriteString(` OFFSET ?`)
			args = append(args, filter.Offset)
		}
	}

	return r.queryMeetings(ctx, query.String(), args...)
}

// NextInSeries returns the earliest occurrence of the series strictly after
// the given instant.
func (r *MeetingRepository) NextInSeries(ctx context.Context, recurrenceID string, after time.Time) (persistence.Meeting, error) {
	meetings, err := r.ListMeetings(ctx, persistence.MeetingFilter{
		RecurrenceID: recurrenceID,
		StartsAfter:  &after,
		Limit:        1,
	})
	if err != nil {
		return persistence.Meeting{}, err
	}
	if len(meetings) == 0 {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return meetings[0], nil
}

// LatestInSeries returns the occurrence with the latest start.
func (r *MeetingRepository) LatestInSeries(ctx context.Context, recurrenceID string) (persistence.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings m
		WHERE m.recurrence_id = ?
		ORDER BY m.start_date DESC, m.id DESC
		LIMIT 1`
	meeting, err := scanMeeting(r.helper.QueryRow(ctx, query, recurrenceID))
	if err != nil {
		return persistence.Meeting{}, r.mapper.MapError(err)
	}
	return meeting, nil
}

// DeleteMeeting removes a meeting along with its attendee and task links.
func (r *MeetingRepository) DeleteMeeting(ctx context.Context, id string) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// AddAttendee links a user to a meeting. Adding an existing attendee is a
// no-op.
func (r *MeetingRepository) AddAttendee(ctx context.Context, meetingID, userID string) error {
	const query = `
		INSERT INTO meeting_attendees (meeting_id, user_id)
		VALUES (?, ?)
		ON CONFLICT (meeting_id, user_id) DO NOTHING
	`
	if _, err := r.helper.Exec(ctx, query, meetingID, userID); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// RemoveAttendee unlinks a user from a meeting.
func (r *MeetingRepository) RemoveAttendee(ctx context.Context, meetingID, userID string) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM meeting_attendees WHERE meeting_id = ? AND user_id = ?`, meetingID, userID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// ListAttendees returns the attendee ids of a meeting.
func (r *MeetingRepository) ListAttendees(ctx context.Context, meetingID string) ([]string, error) {
	rows, err := r.helper.Query(ctx, `SELECT user_id FROM meeting_attendees WHERE meeting_id = ? ORDER BY user_id ASC`, meetingID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, r.mapper.MapError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return ids, nil
}

func (r *MeetingRepository) queryMeetings(ctx context.Context, query string, args ...any) ([]persistence.Meeting, error) {
	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var meetings []persistence.Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, meeting)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return meetings, nil
}

func scanMeeting(row rowScanner) (persistence.Meeting, error) {
	var (
		meeting         persistence.Meeting
		recurrenceID    sql.NullString
		startDate       string
		endDate         sql.NullString
		durationMinutes int64
		completed       int64
		createdAt       string
	)
	if err := row.Scan(
		&meeting.ID,
		&recurrenceID,
		&meeting.Title,
		&startDate,
		&endDate,
		&durationMinutes,
		&meeting.Location,
		&meeting.Notes,
		&completed,
		&meeting.NumReschedules,
		&createdAt,
	); err != nil {
		return persistence.Meeting{}, err
	}

	var err error
	meeting.RecurrenceID = stringPtr(recurrenceID)
	meeting.Duration = time.Duration(durationMinutes) * time.Minute
	meeting.Completed = completed != 0
	if meeting.StartDate, err = parseTime(startDate); err != nil {
		return persistence.Meeting{}, fmt.Errorf("meeting %s: %w", meeting.ID, err)
	}
	if meeting.EndDate, err = parseNullTime(endDate); err != nil {
		return persistence.Meeting{}, fmt.Errorf("meeting %s: %w", meeting.ID, err)
	}
	if meeting.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Meeting{}, fmt.Errorf("meeting %s: %w", meeting.ID, err)
	}
	return meeting, nil
}
