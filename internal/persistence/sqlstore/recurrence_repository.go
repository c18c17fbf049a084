package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/meeting-scheduler/internal/persistence"
)

// RecurrenceRepository implements persistence.RecurrenceRepository.
type RecurrenceRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// CreateRecurrence inserts a new recurrence rule.
func (r *RecurrenceRepository) CreateRecurrence(ctx context.Context, rule persistence.RecurrenceRule) error {
	if rule.ID == "" {
		return persistence.ErrConstraintViolation
	}

	const query = `
		INSERT INTO recurrences (id, title, rule, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := r.helper.Exec(ctx, query, rule.ID, rule.Title, rule.Rule, formatTime(rule.CreatedAt)); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// UpdateRecurrence replaces the title and rule text.
func (r *RecurrenceRepository) UpdateRecurrence(ctx context.Context, rule persistence.RecurrenceRule) error {
	const query = `UPDATE recurrences SET title = ?, rule = ? WHERE id = ?`
	result, err := r.helper.Exec(ctx, query, rule.Title, rule.Rule, rule.ID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// GetRecurrence loads a recurrence by id.
func (r *RecurrenceRepository) GetRecurrence(ctx context.Context, id string) (persistence.RecurrenceRule, error) {
	if id == "" {
		return persistence.RecurrenceRule{}, persistence.ErrNotFound
	}

	const query = `SELECT id, title, rule, created_at FROM recurrences WHERE id = ?`
	rule, err := scanRecurrence(r.helper.QueryRow(ctx, query, id))
	if err != nil {
		return persistence.RecurrenceRule{}, r.mapper.MapError(err)
	}
	return rule, nil
}

// ListRecurrences returns all recurrences ordered by creation time.
func (r *RecurrenceRepository) ListRecurrences(ctx context.Context) ([]persistence.RecurrenceRule, error) {
	const query = `SELECT id, title, rule, created_at FROM recurrences ORDER BY created_at ASC, id ASC`
	rows, err := r.helper.Query(ctx, query)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var rules []persistence.RecurrenceRule
	for rows.Next() {
		rule, err := scanRecurrence(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return rules, nil
}

// DeleteRecurrence removes a recurrence. Its meetings become standalone.
func (r *RecurrenceRepository) DeleteRecurrence(ctx context.Context, id string) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM recurrences WHERE id = ?`, id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// LockRecurrence takes a row lock on Postgres. SQLite transactions start
// with BEGIN IMMEDIATE and already hold the database write lock, so a plain
// read is enough there.
func (r *RecurrenceRepository) LockRecurrence(ctx context.Context, id string) error {
	query := `SELECT id FROM recurrences WHERE id = ?`
	if r.helper.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	var locked string
	if err := r.helper.QueryRow(ctx, query, id).Scan(&locked); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecurrence(row rowScanner) (persistence.RecurrenceRule, error) {
	var (
		rule      persistence.RecurrenceRule
		createdAt string
	)
	if err := row.Scan(&rule.ID, &rule.Title, &rule.Rule, &createdAt); err != nil {
		return persistence.RecurrenceRule{}, err
	}
	var err error
	if rule.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("recurrence %s: %w", rule.ID, err)
	}
	return rule, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireAffected(result rowsAffecter) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, persistence.ErrNotFound)
}
