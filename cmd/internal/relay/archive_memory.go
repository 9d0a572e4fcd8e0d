package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const memMaxMessagesPerConversation = 10_000

// MemoryArchive is a dev-only fallback when the database is not configured.
type MemoryArchive struct {
	mu    sync.Mutex
	convs map[string]*memArchiveConv
}

type memArchiveConv struct {
	seen map[string]struct{} // message id -> present
	msgs []Message           // ordered by timestamp
}

// NewMemoryArchive constructs an in-memory Archive implementation.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{convs: make(map[string]*memArchiveConv)}
}

// Close closes the archive (noop for in-memory).
func (a *MemoryArchive) Close() error { return nil }

// Append persists msg, deduplicating by id within its conversation.
func (a *MemoryArchive) Append(ctx context.Context, msg Message) error {
	if msg.ConversationKey == "" || msg.ID == "" {
		return errors.New("invalid message: missing conversationKey or id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.convs[msg.ConversationKey]
	if c == nil {
		c = &memArchiveConv{seen: make(map[string]struct{})}
		a.convs[msg.ConversationKey] = c
	}

	if _, dup := c.seen[msg.ID]; dup {
		return nil
	}
	c.seen[msg.ID] = struct{}{}
	c.msgs = append(c.msgs, msg)
	sort.SliceStable(c.msgs, func(i, j int) bool { return c.msgs[i].Timestamp.Before(c.msgs[j].Timestamp) })

	// Bound memory to avoid unbounded growth in dev.
	if len(c.msgs) > memMaxMessagesPerConversation {
		drop := c.msgs[:len(c.msgs)-memMaxMessagesPerConversation]
		for _, m := range drop {
			delete(c.seen, m.ID)
		}
		c.msgs = append([]Message(nil), c.msgs[len(drop):]...)
	}
	return nil
}

// HistoryBefore returns up to limit messages older than before, oldest first.
func (a *MemoryArchive) HistoryBefore(ctx context.Context, conversationKey string, before time.Time, limit int) ([]Message, error) {
	if conversationKey == "" {
		return nil, errors.New("missing conversationKey")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	a.mu.Lock()
	c := a.convs[conversationKey]
	var snap []Message
	if c != nil {
		snap = append([]Message(nil), c.msgs...)
	}
	a.mu.Unlock()

	// Walk backwards collecting the newest `limit` entries older than the
	// cursor, then reverse into oldest-first order.
	newestFirst := make([]Message, 0, limit)
	for i := len(snap) - 1; i >= 0 && len(newestFirst) < limit; i-- {
		if snap[i].Timestamp.Before(before) {
			newestFirst = append(newestFirst, snap[i])
		}
	}

	out := make([]Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		out = append(out, newestFirst[i])
	}
	return out, nil
}
