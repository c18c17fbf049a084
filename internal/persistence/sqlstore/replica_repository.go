package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/meeting-scheduler/internal/persistence"
)

// ReplicaRepository implements persistence.ReplicatedUserRepository.
type ReplicaRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// InsertReplicaIfAbsent inserts the replica row unless one already exists
// for the id.
func (r *ReplicaRepository) InsertReplicaIfAbsent(ctx context.Context, user persistence.ReplicatedUser) (bool, error) {
	if user.ID == "" {
		return false, persistence.ErrConstraintViolation
	}

	const query = `
		INSERT INTO replicated_users (id, email, first_name, last_name, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.helper.Exec(ctx, query, user.ID, user.Email, user.FirstName, user.LastName, formatTime(user.UpdatedAt))
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// PatchReplica applies the non-nil fields of patch.
func (r *ReplicaRepository) PatchReplica(ctx context.Context, id string, patch persistence.ReplicatedUserPatch, updatedAt time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(updatedAt)}
	if patch.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *patch.Email)
	}
	if patch.FirstName != nil {
		sets = append(sets, "first_name = ?")
		args = append(args, *patch.FirstName)
	}
	if patch.LastName != nil {
		sets = append(sets, "last_name = ?")
		args = append(args, *patch.LastName)
	}
	args = append(args, id)

	query := `UPDATE replicated_users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := r.helper.Exec(ctx, query, args...)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// DeleteReplica removes the replica row if present.
func (r *ReplicaRepository) DeleteReplica(ctx context.Context, id string) (bool, error) {
	result, err := r.helper.Exec(ctx, `DELETE FROM replicated_users WHERE id = ?`, id)
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	switch err := requireAffected(result); {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// GetReplica loads a replica by id.
func (r *ReplicaRepository) GetReplica(ctx context.Context, id string) (persistence.ReplicatedUser, error) {
	if id == "" {
		return persistence.ReplicatedUser{}, persistence.ErrNotFound
	}
	const query = `SELECT id, email, first_name, last_name, updated_at FROM replicated_users WHERE id = ?`
	user, err := scanReplica(r.helper.QueryRow(ctx, query, id))
	if err != nil {
		return persistence.ReplicatedUser{}, r.mapper.MapError(err)
	}
	return user, nil
}

// ListReplicas returns every replica ordered by email.
func (r *ReplicaRepository) ListReplicas(ctx context.Context) ([]persistence.ReplicatedUser, error) {
	const query = `SELECT id, email, first_name, last_name, updated_at FROM replicated_users ORDER BY email ASC, id ASC`
	rows, err := r.helper.Query(ctx, query)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var users []persistence.ReplicatedUser
	for rows.Next() {
		user, err := scanReplica(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return users, nil
}

func scanReplica(row rowScanner) (persistence.ReplicatedUser, error) {
	var (
		user      persistence.ReplicatedUser
		updatedAt string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &updatedAt); err != nil {
		return persistence.ReplicatedUser{}, err
	}
	var err error
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.ReplicatedUser{}, fmt.Errorf("replicated user %s: %w", user.ID, err)
	}
	return user, nil
}
