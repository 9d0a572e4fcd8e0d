package relay

import (
	"context"
	"time"
)

// Archive is the durable message store collaborator.
//
// Requirements:
//   - Append is idempotent per (conversation_key, id); re-appending the same
//     message is a silent no-op.
//   - HistoryBefore returns messages strictly older than the cursor,
//     oldest-first, bounded by limit.
type Archive interface {
	Append(ctx context.Context, msg Message) error
	HistoryBefore(ctx context.Context, conversationKey string, before time.Time, limit int) ([]Message, error)
	Close() error
}
