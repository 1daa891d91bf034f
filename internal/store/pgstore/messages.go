package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/dupwatch/internal/dedup"
)

// InsertMessage lands rec or reports the in-window record holding its key.
// The upsert only overwrites a held row whose observed_at is at or before
// cutoff, or after rec's, so at most one of any set of concurrent callers
// sees inserted and the earliest message in the window stays the original.
func (s *Store) InsertMessage(ctx context.Context, rec *dedup.Record, cutoff time.Time) (*dedup.Record, bool, error) {
	ctx, span := startSpan(ctx, "InsertMessage", "UPSERT")
	defer span.End()

	upsert := `INSERT INTO messages (task_id, conversation_id, message_id, digest, text, sender_id, sender_name, observed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (task_id, conversation_id, digest) DO UPDATE SET
		message_id  = EXCLUDED.message_id,
		text        = EXCLUDED.text,
		sender_id   = EXCLUDED.sender_id,
		sender_name = EXCLUDED.sender_name,
		observed_at = EXCLUDED.observed_at
	WHERE messages.observed_at <= $9 OR messages.observed_at > EXCLUDED.observed_at
	RETURNING id`

	lookup := `SELECT message_id, text, sender_id, sender_name, observed_at
	FROM messages WHERE task_id = $1 AND conversation_id = $2 AND digest = $3`

	for range insertAttempts {
		var id int64
		err := s.pool.QueryRow(ctx, upsert,
			rec.TaskID, rec.ConversationID, rec.MessageID, rec.Digest, rec.Text,
			rec.SenderID, rec.SenderName, ts(rec.ObservedAt), ts(cutoff),
		).Scan(&id)
		if err == nil {
			return nil, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fail(span, fmt.Errorf("upsert message: %w", err))
		}

		orig := dedup.Record{
			TaskID:         rec.TaskID,
			ConversationID: rec.ConversationID,
			Digest:         rec.Digest,
		}
		err = s.pool.QueryRow(ctx, lookup, rec.TaskID, rec.ConversationID, rec.Digest).
			Scan(&orig.MessageID, &orig.Text, &orig.SenderID, &orig.SenderName, &orig.ObservedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// pruned in between; the next upsert lands
			continue
		}
		if err != nil {
			return nil, false, fail(span, fmt.Errorf("lookup original: %w", err))
		}
		orig.ObservedAt = utc(orig.ObservedAt)
		return &orig, false, nil
	}
	return nil, false, fail(span, fmt.Errorf("insert message: key kept vanishing after %d attempts", insertAttempts))
}

// PruneMessages deletes the task's records observed before the given time.
func (s *Store) PruneMessages(ctx context.Context, taskID int64, before time.Time) (int64, error) {
	ctx, span := startSpan(ctx, "PruneMessages", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE task_id = $1 AND observed_at < $2`, taskID, ts(before))
	if err != nil {
		return 0, fail(span, fmt.Errorf("prune messages: %w", err))
	}
	return tag.RowsAffected(), nil
}
