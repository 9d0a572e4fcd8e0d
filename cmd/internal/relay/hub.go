package relay

import (
	"log/slog"
	"sync"

	v1 "courier/shared/contracts/relay/v1"
)

// Hub owns the in-memory broadcast groups, one per room instance.
// It is intentionally minimal: persisted participation lives in RoomDirectory.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	groups map[string]*Group
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:    log,
		groups: make(map[string]*Group),
	}
}

// GetOrCreateGroup returns a stable broadcast-group handle for roomID.
func (h *Hub) GetOrCreateGroup(roomID string) *Group {
	h.mu.Lock()
	defer h.mu.Unlock()

	if g, ok := h.groups[roomID]; ok {
		return g
	}

	g := NewGroup(h.log, roomID)
	h.groups[roomID] = g
	return g
}

// Group is the set of live connections currently subscribed to one room's
// broadcast stream. Subscription is per-connection and is NOT restored on
// reconnect; a recorded participant must re-join after connecting.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Group struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewGroup constructs a broadcast group.
func NewGroup(log *slog.Logger, id string) *Group {
	return &Group{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join subscribes a client to the group.
func (g *Group) Join(client *Client) {
	if g == nil || client == nil || client.SessionID == "" {
		return
	}

	g.mu.Lock()
	g.members[client.SessionID] = client
	g.mu.Unlock()

	g.log.Info("room.member.join", "room_id", g.ID, "session_id", client.SessionID)
}

// Leave unsubscribes a session from the group. The client itself stays alive;
// it may be subscribed to other groups or still exchanging private messages.
func (g *Group) Leave(sessionID string) {
	if g == nil || sessionID == "" {
		return
	}

	g.mu.Lock()
	_, ok := g.members[sessionID]
	delete(g.members, sessionID)
	g.mu.Unlock()

	if ok {
		g.log.Info("room.member.leave", "room_id", g.ID, "session_id", sessionID)
	}
}

// Broadcast fanouts an envelope to all members except exceptSession.
// Pass an empty exceptSession to reach every member (system announcements).
// Non-blocking: if a member queue is full or the client is shutting down,
// that member is skipped.
func (g *Group) Broadcast(env v1.Envelope, exceptSession string) {
	if g == nil {
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for sid, m := range g.members {
		if m == nil || sid == exceptSession {
			continue
		}
		if !m.TryEnqueue(env) {
			// Drop rather than block the whole group.
			g.log.Warn("room.broadcast.drop", "room_id", g.ID, "session_id", sid)
		}
	}
}

// Members reports the current subscriber count.
func (g *Group) Members() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}
