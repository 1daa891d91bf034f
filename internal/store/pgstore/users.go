package pgstore

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/dupwatch/internal/access"
)

// AddAllowedUser inserts u; false means the user was already present.
func (s *Store) AddAllowedUser(ctx context.Context, u *access.User) (bool, error) {
	ctx, span := startSpan(ctx, "AddAllowedUser", "INSERT")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO allowed_users (user_id, is_admin, added_by, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`, u.UserID, u.IsAdmin, u.AddedBy, ts(u.CreatedAt))
	if err != nil {
		return false, fail(span, fmt.Errorf("add allowed user: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveAllowedUser deletes the user; false means nothing matched.
func (s *Store) RemoveAllowedUser(ctx context.Context, userID string) (bool, error) {
	ctx, span := startSpan(ctx, "RemoveAllowedUser", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM allowed_users WHERE user_id = $1`, userID)
	if err != nil {
		return false, fail(span, fmt.Errorf("remove allowed user: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// ListAllowedUsers returns the allow-list ordered by creation time.
func (s *Store) ListAllowedUsers(ctx context.Context) ([]*access.User, error) {
	ctx, span := startSpan(ctx, "ListAllowedUsers", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, is_admin, added_by, created_at FROM allowed_users ORDER BY created_at, user_id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("list allowed users: %w", err))
	}
	defer rows.Close()

	out := make([]*access.User, 0)
	for rows.Next() {
		var u access.User
		if err := rows.Scan(&u.UserID, &u.IsAdmin, &u.AddedBy, &u.CreatedAt); err != nil {
			return nil, fail(span, fmt.Errorf("scan allowed user: %w", err))
		}
		u.CreatedAt = utc(u.CreatedAt)
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// IsAllowedUser reports whether the user is on the allow-list.
func (s *Store) IsAllowedUser(ctx context.Context, userID string) (bool, error) {
	ctx, span := startSpan(ctx, "IsAllowedUser", "SELECT")
	defer span.End()

	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM allowed_users WHERE user_id = $1)`, userID).Scan(&ok)
	if err != nil {
		return false, fail(span, fmt.Errorf("check allowed user: %w", err))
	}
	return ok, nil
}
