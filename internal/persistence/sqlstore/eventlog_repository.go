package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/meeting-scheduler/internal/persistence"
)

// EventLogRepository implements persistence.EventLogRepository.
type EventLogRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// AppendEvent appends body to the channel and returns its sequence number.
func (r *EventLogRepository) AppendEvent(ctx context.Context, channel string, body []byte, createdAt time.Time) (int64, error) {
	const query = `
		INSERT INTO event_log (channel, body, created_at)
		VALUES (?, ?, ?)
		RETURNING seq
	`
	var seq int64
	if err := r.helper.QueryRow(ctx, query, channel, string(body), formatTime(createdAt)).Scan(&seq); err != nil {
		return 0, r.mapper.MapError(err)
	}
	return seq, nil
}

// ReadEvents returns up to limit events of the channel after the given
// sequence, oldest first.
func (r *EventLogRepository) ReadEvents(ctx context.Context, channel string, afterSequence int64, limit int) ([]persistence.LoggedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT seq, channel, body, created_at FROM event_log
		WHERE channel = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`
	rows, err := r.helper.Query(ctx, query, channel, afterSequence, limit)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var events []persistence.LoggedEvent
	for rows.Next() {
		var (
			event     persistence.LoggedEvent
			body      string
			createdAt string
		)
		if err := rows.Scan(&event.Sequence, &event.Channel, &body, &createdAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		event.Body = []byte(body)
		if event.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("event %d: %w", event.Sequence, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return events, nil
}

// GetCursor returns the last acknowledged sequence of the consumer on the
// channel, or 0 when the consumer has never acknowledged anything.
func (r *EventLogRepository) GetCursor(ctx context.Context, consumer, channel string) (int64, error) {
	const query = `SELECT position FROM event_cursors WHERE consumer = ? AND channel = ?`
	var position int64
	err := r.helper.QueryRow(ctx, query, consumer, channel).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, r.mapper.MapError(err)
	}
	return position, nil
}

// SaveCursor records the last acknowledged sequence.
func (r *EventLogRepository) SaveCursor(ctx context.Context, consumer, channel string, sequence int64) error {
	const query = `
		INSERT INTO event_cursors (consumer, channel, position)
		VALUES (?, ?, ?)
		ON CONFLICT (consumer, channel) DO UPDATE SET position = excluded.position
	`
	if _, err := r.helper.Exec(ctx, query, consumer, channel, sequence); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}
