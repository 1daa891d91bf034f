package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/dupwatch/internal/alert"
)

const alertColumns = `id, task_id, owner_id, task_label, conversation_id, duplicate_message_id,
	original_message_id, text, sender_id, sender_name, status, reply_text,
	created_at, notified_at, replied_at, delivered_at`

// CreateAlert inserts a pending alert or returns the id already recorded
// for the same duplicate message.
func (s *Store) CreateAlert(ctx context.Context, a *alert.NewAlert) (int64, bool, error) {
	ctx, span := startSpan(ctx, "CreateAlert", "INSERT")
	defer span.End()

	insert := `INSERT INTO alerts (task_id, owner_id, task_label, conversation_id, duplicate_message_id,
		original_message_id, text, sender_id, sender_name, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10)
	ON CONFLICT (task_id, conversation_id, duplicate_message_id) DO NOTHING
	RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, insert,
		a.TaskID, a.OwnerID, a.TaskLabel, a.ConversationID, a.DuplicateMessageID,
		a.OriginalMessageID, a.Text, a.SenderID, a.SenderName, ts(a.CreatedAt),
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fail(span, fmt.Errorf("insert alert: %w", err))
	}

	existing := `SELECT id FROM alerts WHERE task_id = $1 AND conversation_id = $2 AND duplicate_message_id = $3`
	if err := s.pool.QueryRow(ctx, existing, a.TaskID, a.ConversationID, a.DuplicateMessageID).Scan(&id); err != nil {
		return 0, false, fail(span, fmt.Errorf("lookup existing alert: %w", err))
	}
	return id, false, nil
}

// GetAlert retrieves an alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (*alert.Alert, bool, error) {
	ctx, span := startSpan(ctx, "GetAlert", "SELECT")
	defer span.End()

	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get alert: %w", err))
	}
	return a, true, nil
}

// MarkNotified moves a pending alert to notified.
func (s *Store) MarkNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "MarkNotified", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = 'notified', notified_at = $2 WHERE id = $1 AND status = 'pending'`, id, ts(at))
	if err != nil {
		return false, fail(span, fmt.Errorf("mark notified: %w", err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	_, found, err := s.alertStatus(ctx, id)
	if err != nil {
		return false, fail(span, err)
	}
	return false, alert.NotifyOutcome(found)
}

// SubmitReply stores the reply on a pending or notified alert.
func (s *Store) SubmitReply(ctx context.Context, id int64, text string, at time.Time) error {
	ctx, span := startSpan(ctx, "SubmitReply", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = 'replied', reply_text = $2, replied_at = $3
		WHERE id = $1 AND status IN ('pending', 'notified')`, id, text, ts(at))
	if err != nil {
		return fail(span, fmt.Errorf("submit reply: %w", err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, found, err := s.alertStatus(ctx, id)
	if err != nil {
		return fail(span, err)
	}
	return alert.ReplyRejection(current, found)
}

// MarkDelivered moves a replied alert to delivered.
func (s *Store) MarkDelivered(ctx context.Context, id int64, at time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "MarkDelivered", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = 'delivered', delivered_at = $2 WHERE id = $1 AND status = 'replied'`, id, ts(at))
	if err != nil {
		return false, fail(span, fmt.Errorf("mark delivered: %w", err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	current, found, err := s.alertStatus(ctx, id)
	if err != nil {
		return false, fail(span, err)
	}
	return false, alert.DeliveryOutcome(current, found)
}

func (s *Store) alertStatus(ctx context.Context, id int64) (alert.Status, bool, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM alerts WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read alert status: %w", err)
	}
	return alert.Status(status), true, nil
}

// ListByStatus returns up to limit alerts in status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status alert.Status, limit int) ([]*alert.Alert, error) {
	ctx, span := startSpan(ctx, "ListByStatus", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE status = $1 ORDER BY created_at, id LIMIT $2`
	out, err := s.queryAlerts(ctx, query, string(status), limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// ListAlerts returns the owner's alerts oldest first. An empty status
// matches all.
func (s *Store) ListAlerts(ctx context.Context, ownerID string, status alert.Status, limit int) ([]*alert.Alert, error) {
	ctx, span := startSpan(ctx, "ListAlerts", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts
	WHERE owner_id = $1 AND ($2::text = '' OR status = $2::text)
	ORDER BY created_at, id LIMIT $3`
	out, err := s.queryAlerts(ctx, query, ownerID, string(status), limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// Stats counts the owner's message records and alerts by status.
func (s *Store) Stats(ctx context.Context, ownerID string) (*alert.Stats, error) {
	ctx, span := startSpan(ctx, "Stats", "SELECT")
	defer span.End()

	st := &alert.Stats{ByStatus: make(map[alert.Status]int64)}
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages m JOIN tasks t ON t.id = m.task_id WHERE t.owner_id = $1`, ownerID,
	).Scan(&st.Messages)
	if err != nil {
		return nil, fail(span, fmt.Errorf("count messages: %w", err))
	}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM alerts WHERE owner_id = $1 GROUP BY status`, ownerID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("count alerts: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fail(span, fmt.Errorf("scan alert count: %w", err))
		}
		st.ByStatus[alert.Status(status)] = n
		st.Alerts += n
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err)
	}
	return st, nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]*alert.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a      alert.Alert
		status string
	)
	if err := row.Scan(&a.ID, &a.TaskID, &a.OwnerID, &a.TaskLabel, &a.ConversationID, &a.DuplicateMessageID,
		&a.OriginalMessageID, &a.Text, &a.SenderID, &a.SenderName, &status, &a.ReplyText,
		&a.CreatedAt, &a.NotifiedAt, &a.RepliedAt, &a.DeliveredAt); err != nil {
		return nil, err
	}
	a.Status = alert.Status(status)
	a.CreatedAt = utc(a.CreatedAt)
	a.NotifiedAt = utcPtr(a.NotifiedAt)
	a.RepliedAt = utcPtr(a.RepliedAt)
	a.DeliveredAt = utcPtr(a.DeliveredAt)
	return &a, nil
}
