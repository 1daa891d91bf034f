package dedup

import (
	"context"
	"time"
)

// Record is one remembered message occurrence.
type Record struct {
	TaskID         int64
	ConversationID string
	MessageID      string
	Digest         string
	Text           string
	SenderID       string
	SenderName     string
	ObservedAt     time.Time
}

// Store is the message history persistence interface.
//
// InsertMessage is the uniqueness primitive. In one atomic statement it
// either lands rec (inserted=true) or reports the record already holding
// the (task, conversation, digest) key with observed_at after cutoff and
// not after rec's (inserted=false, original set). A held key observed at or
// before cutoff is stale, and one observed after rec arrived out of order;
// both are overwritten by rec.
//
// PruneMessages deletes the task's records observed before the given time.
type Store interface {
	InsertMessage(ctx context.Context, rec *Record, cutoff time.Time) (original *Record, inserted bool, err error)
	PruneMessages(ctx context.Context, taskID int64, before time.Time) (int64, error)
}
