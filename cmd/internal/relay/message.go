// Package relay contains Courier's realtime core: presence, message routing,
// offline queuing, room fanout and call-signaling forwarding.
package relay

import (
	"sort"
	"strings"
	"time"
)

// Message is the canonical relayed message representation.
// It is JSON-encoded as-is when cached or queued in the list store.
type Message struct {
	ID              string    `json:"id"`
	From            string    `json:"from"`
	To              string    `json:"to,omitempty"`
	Room            string    `json:"room,omitempty"`
	RoomID          string    `json:"roomId,omitempty"`
	ConversationKey string    `json:"conversationKey"`
	Text            string    `json:"text"`
	Timestamp       time.Time `json:"timestamp"`
}

// SystemIdentity is the sender recorded on server-generated messages.
const SystemIdentity = "system"

// PrivateConversationKey returns the deterministic key for a one-to-one
// conversation: the two identities sorted and joined, so both sides compute
// the same key regardless of direction.
func PrivateConversationKey(a, b string) string {
	pair := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(pair)
	return "chat:" + pair[0] + ":" + pair[1]
}

// RoomConversationKey returns the deterministic key for a room instance.
func RoomConversationKey(room, roomID string) string {
	return strings.TrimSpace(room) + ":" + strings.TrimSpace(roomID)
}
