package sqlitestore

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/dupwatch/internal/access"
)

// AddAllowedUser inserts u; false means the user was already present.
func (s *Store) AddAllowedUser(ctx context.Context, u *access.User) (bool, error) {
	var added bool
	err := s.do(ctx, "AddAllowedUser", "INSERT", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO allowed_users (user_id, is_admin, added_by, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id) DO NOTHING`, u.UserID, u.IsAdmin, u.AddedBy, nanos(u.CreatedAt))
		if err != nil {
			return fmt.Errorf("add allowed user: %w", err)
		}
		n, err := res.RowsAffected()
		added = n == 1
		return err
	})
	return added, err
}

// RemoveAllowedUser deletes the user; false means nothing matched.
func (s *Store) RemoveAllowedUser(ctx context.Context, userID string) (bool, error) {
	var removed bool
	err := s.do(ctx, "RemoveAllowedUser", "DELETE", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM allowed_users WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("remove allowed user: %w", err)
		}
		n, err := res.RowsAffected()
		removed = n == 1
		return err
	})
	return removed, err
}

// ListAllowedUsers returns the allow-list ordered by creation time.
func (s *Store) ListAllowedUsers(ctx context.Context) ([]*access.User, error) {
	var out []*access.User
	err := s.do(ctx, "ListAllowedUsers", "SELECT", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT user_id, is_admin, added_by, created_at FROM allowed_users ORDER BY created_at, user_id`)
		if err != nil {
			return fmt.Errorf("list allowed users: %w", err)
		}
		defer rows.Close()

		out = make([]*access.User, 0)
		for rows.Next() {
			var (
				u       access.User
				created int64
			)
			if err := rows.Scan(&u.UserID, &u.IsAdmin, &u.AddedBy, &created); err != nil {
				return fmt.Errorf("scan allowed user: %w", err)
			}
			u.CreatedAt = fromNanos(created)
			out = append(out, &u)
		}
		return rows.Err()
	})
	return out, err
}

// IsAllowedUser reports whether the user is on the allow-list.
func (s *Store) IsAllowedUser(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := s.do(ctx, "IsAllowedUser", "SELECT", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM allowed_users WHERE user_id = ?)`, userID).Scan(&ok)
		if err != nil {
			return fmt.Errorf("check allowed user: %w", err)
		}
		return nil
	})
	return ok, err
}
