package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/dupwatch/internal/alert"
)

const alertColumns = `id, task_id, owner_id, task_label, conversation_id, duplicate_message_id,
	original_message_id, text, sender_id, sender_name, status, reply_text,
	created_at, notified_at, replied_at, delivered_at`

// CreateAlert inserts a pending alert or returns the id already recorded
// for the same duplicate message.
func (s *Store) CreateAlert(ctx context.Context, a *alert.NewAlert) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := s.do(ctx, "CreateAlert", "INSERT", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO alerts (task_id, owner_id, task_label, conversation_id, duplicate_message_id,
				original_message_id, text, sender_id, sender_name, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
			ON CONFLICT (task_id, conversation_id, duplicate_message_id) DO NOTHING
			RETURNING id`,
			a.TaskID, a.OwnerID, a.TaskLabel, a.ConversationID, a.DuplicateMessageID,
			a.OriginalMessageID, a.Text, a.SenderID, a.SenderName, nanos(a.CreatedAt),
		).Scan(&id)
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("insert alert: %w", err)
		}
		created = false
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM alerts WHERE task_id = ? AND conversation_id = ? AND duplicate_message_id = ?`,
			a.TaskID, a.ConversationID, a.DuplicateMessageID,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("lookup existing alert: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// GetAlert retrieves an alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (*alert.Alert, bool, error) {
	var out *alert.Alert
	err := s.do(ctx, "GetAlert", "SELECT", func(ctx context.Context) error {
		var err error
		out, err = scanAlert(s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			out = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}
		return nil
	})
	if err != nil || out == nil {
		return nil, false, err
	}
	return out, true, nil
}

// MarkNotified moves a pending alert to notified.
func (s *Store) MarkNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	var changed bool
	err := s.do(ctx, "MarkNotified", "UPDATE", func(ctx context.Context) error {
		var err error
		changed, err = s.transition(ctx,
			`UPDATE alerts SET status = 'notified', notified_at = ? WHERE id = ? AND status = 'pending'`,
			nanos(at), id)
		if err != nil || changed {
			return err
		}
		_, found, err := s.alertStatus(ctx, id)
		if err != nil {
			return err
		}
		return alert.NotifyOutcome(found)
	})
	return changed, err
}

// SubmitReply stores the reply on a pending or notified alert.
func (s *Store) SubmitReply(ctx context.Context, id int64, text string, at time.Time) error {
	return s.do(ctx, "SubmitReply", "UPDATE", func(ctx context.Context) error {
		changed, err := s.transition(ctx,
			`UPDATE alerts SET status = 'replied', reply_text = ?, replied_at = ?
			WHERE id = ? AND status IN ('pending', 'notified')`,
			text, nanos(at), id)
		if err != nil || changed {
			return err
		}
		current, found, err := s.alertStatus(ctx, id)
		if err != nil {
			return err
		}
		return alert.ReplyRejection(current, found)
	})
}

// MarkDelivered moves a replied alert to delivered.
func (s *Store) MarkDelivered(ctx context.Context, id int64, at time.Time) (bool, error) {
	var changed bool
	err := s.do(ctx, "MarkDelivered", "UPDATE", func(ctx context.Context) error {
		var err error
		changed, err = s.transition(ctx,
			`UPDATE alerts SET status = 'delivered', delivered_at = ? WHERE id = ? AND status = 'replied'`,
			nanos(at), id)
		if err != nil || changed {
			return err
		}
		current, found, err := s.alertStatus(ctx, id)
		if err != nil {
			return err
		}
		return alert.DeliveryOutcome(current, found)
	})
	return changed, err
}

func (s *Store) transition(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) alertStatus(ctx context.Context, id int64) (alert.Status, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read alert status: %w", err)
	}
	return alert.Status(status), true, nil
}

// ListByStatus returns up to limit alerts in status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status alert.Status, limit int) ([]*alert.Alert, error) {
	var out []*alert.Alert
	err := s.do(ctx, "ListByStatus", "SELECT", func(ctx context.Context) error {
		var err error
		out, err = s.queryAlerts(ctx,
			`SELECT `+alertColumns+` FROM alerts WHERE status = ? ORDER BY created_at, id LIMIT ?`,
			string(status), limit)
		return err
	})
	return out, err
}

// ListAlerts returns the owner's alerts oldest first. An empty status
// matches all.
func (s *Store) ListAlerts(ctx context.Context, ownerID string, status alert.Status, limit int) ([]*alert.Alert, error) {
	var out []*alert.Alert
	err := s.do(ctx, "ListAlerts", "SELECT", func(ctx context.Context) error {
		var err error
		out, err = s.queryAlerts(ctx,
			`SELECT `+alertColumns+` FROM alerts
			WHERE owner_id = ?1 AND (?2 = '' OR status = ?2)
			ORDER BY created_at, id LIMIT ?3`,
			ownerID, string(status), limit)
		return err
	})
	return out, err
}

// Stats counts the owner's message records and alerts by status.
func (s *Store) Stats(ctx context.Context, ownerID string) (*alert.Stats, error) {
	var st *alert.Stats
	err := s.do(ctx, "Stats", "SELECT", func(ctx context.Context) error {
		st = &alert.Stats{ByStatus: make(map[alert.Status]int64)}
		err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM messages m JOIN tasks t ON t.id = m.task_id WHERE t.owner_id = ?`, ownerID,
		).Scan(&st.Messages)
		if err != nil {
			return fmt.Errorf("count messages: %w", err)
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT status, count(*) FROM alerts WHERE owner_id = ? GROUP BY status`, ownerID)
		if err != nil {
			return fmt.Errorf("count alerts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				status string
				n      int64
			)
			if err := rows.Scan(&status, &n); err != nil {
				return fmt.Errorf("scan alert count: %w", err)
			}
			st.ByStatus[alert.Status(status)] = n
			st.Alerts += n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]*alert.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := make([]*alert.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(row rowScanner) (*alert.Alert, error) {
	var (
		a                            alert.Alert
		status                       string
		created                      int64
		notified, replied, delivered sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.TaskID, &a.OwnerID, &a.TaskLabel, &a.ConversationID, &a.DuplicateMessageID,
		&a.OriginalMessageID, &a.Text, &a.SenderID, &a.SenderName, &status, &a.ReplyText,
		&created, &notified, &replied, &delivered); err != nil {
		return nil, err
	}
	a.Status = alert.Status(status)
	a.CreatedAt = fromNanos(created)
	a.NotifiedAt = nullNanos(notified)
	a.RepliedAt = nullNanos(replied)
	a.DeliveredAt = nullNanos(delivered)
	return &a, nil
}
