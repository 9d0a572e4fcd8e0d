package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// cacheMaxMessages is the fixed sliding-window bound per conversation.
const cacheMaxMessages = 15

// ConversationCache keeps the last N messages per conversation key in the
// list store, so opening a chat does not hit the archive.
//
// Eviction is purely by recency within the conversation (FIFO trim on every
// append), never by access. Cache content is always a suffix of the persisted
// history: entries are only ever trimmed, never invented.
type ConversationCache struct {
	log   *slog.Logger
	lists ListStore
}

// NewConversationCache constructs a cache over lists.
func NewConversationCache(log *slog.Logger, lists ListStore) *ConversationCache {
	return &ConversationCache{log: log, lists: lists}
}

// Append records msg under key and trims the window to the newest entries.
func (c *ConversationCache) Append(ctx context.Context, key string, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode cached message: %w", err)
	}

	if err := c.lists.Push(ctx, key, b); err != nil {
		return fmt.Errorf("cache append: %w", err)
	}
	if err := c.lists.Trim(ctx, key, -cacheMaxMessages, -1); err != nil {
		return fmt.Errorf("cache trim: %w", err)
	}
	return nil
}

// Recent returns the cached window for key, oldest first.
func (c *ConversationCache) Recent(ctx context.Context, key string) ([]Message, error) {
	raw, err := c.lists.Range(ctx, key, -cacheMaxMessages, -1)
	if err != nil {
		return nil, fmt.Errorf("cache read: %w", err)
	}

	out := make([]Message, 0, len(raw))
	for _, b := range raw {
		var m Message
		if err := json.Unmarshal(b, &m); err != nil {
			c.log.Warn("cache.decode.fail", "key", key, "err", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Invalidate drops the cached window for key. Used after a failed append so
// the cache never presents a window with a hole in it.
func (c *ConversationCache) Invalidate(ctx context.Context, key string) error {
	return c.lists.Delete(ctx, key)
}
