package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/dupwatch/internal/dedup"
)

// InsertMessage lands rec or reports the in-window record holding its key.
// The upsert only overwrites a held row observed at or before cutoff, or
// one observed after rec, so the earliest message in the window stays the
// original when events arrive out of order.
func (s *Store) InsertMessage(ctx context.Context, rec *dedup.Record, cutoff time.Time) (*dedup.Record, bool, error) {
	var (
		orig     *dedup.Record
		inserted bool
	)
	err := s.do(ctx, "InsertMessage", "UPSERT", func(ctx context.Context) error {
		var err error
		orig, inserted, err = s.insertMessage(ctx, rec, cutoff)
		return err
	})
	return orig, inserted, err
}

func (s *Store) insertMessage(ctx context.Context, rec *dedup.Record, cutoff time.Time) (*dedup.Record, bool, error) {
	for range insertAttempts {
		var id int64
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO messages (task_id, conversation_id, message_id, digest, text, sender_id, sender_name, observed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (task_id, conversation_id, digest) DO UPDATE SET
				message_id  = excluded.message_id,
				text        = excluded.text,
				sender_id   = excluded.sender_id,
				sender_name = excluded.sender_name,
				observed_at = excluded.observed_at
			WHERE messages.observed_at <= ? OR messages.observed_at > excluded.observed_at
			RETURNING id`,
			rec.TaskID, rec.ConversationID, rec.MessageID, rec.Digest, rec.Text,
			rec.SenderID, rec.SenderName, nanos(rec.ObservedAt), nanos(cutoff),
		).Scan(&id)
		if err == nil {
			return nil, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("upsert message: %w", err)
		}

		orig := dedup.Record{
			TaskID:         rec.TaskID,
			ConversationID: rec.ConversationID,
			Digest:         rec.Digest,
		}
		var observed int64
		err = s.db.QueryRowContext(ctx,
			`SELECT message_id, text, sender_id, sender_name, observed_at
			FROM messages WHERE task_id = ? AND conversation_id = ? AND digest = ?`,
			rec.TaskID, rec.ConversationID, rec.Digest,
		).Scan(&orig.MessageID, &orig.Text, &orig.SenderID, &orig.SenderName, &observed)
		if errors.Is(err, sql.ErrNoRows) {
			// pruned in between; the next upsert lands
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("lookup original: %w", err)
		}
		orig.ObservedAt = fromNanos(observed)
		return &orig, false, nil
	}
	return nil, false, fmt.Errorf("insert message: key kept vanishing after %d attempts", insertAttempts)
}

// PruneMessages deletes the task's records observed before the given time.
func (s *Store) PruneMessages(ctx context.Context, taskID int64, before time.Time) (int64, error) {
	var n int64
	err := s.do(ctx, "PruneMessages", "DELETE", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE task_id = ? AND observed_at < ?`, taskID, nanos(before))
		if err != nil {
			return fmt.Errorf("prune messages: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
