package relay

import (
	"log/slog"
	"sync"
)

// Presence is the bidirectional mapping between a logical identity and the
// live connection currently speaking for it.
//
// Invariants:
//   - at most one live connection per identity
//   - at most one identity per live connection
//
// None of the operations can fail; an absent identity is a normal routing
// outcome, not an error. All methods are safe for concurrent use and never
// perform I/O under the lock.
type Presence struct {
	log *slog.Logger

	mu                sync.RWMutex
	byIdentity        map[string]*Client
	identityBySession map[string]string
}

// NewPresence constructs an empty registry.
func NewPresence(log *slog.Logger) *Presence {
	return &Presence{
		log:               log,
		byIdentity:        make(map[string]*Client),
		identityBySession: make(map[string]string),
	}
}

// Register binds identity<->client in both directions.
//
// Re-registration is last-writer-wins: when the identity was already bound to
// a different connection, that binding is replaced and the displaced client is
// returned so the caller can tear it down. When the session had previously
// registered under another identity, the stale binding is removed first.
func (p *Presence) Register(identity string, c *Client) (displaced *Client) {
	if identity == "" || c == nil || c.SessionID == "" {
		return nil
	}

	p.mu.Lock()

	if old, ok := p.identityBySession[c.SessionID]; ok && old != identity {
		if cur := p.byIdentity[old]; cur != nil && cur.SessionID == c.SessionID {
			delete(p.byIdentity, old)
		}
	}

	if cur := p.byIdentity[identity]; cur != nil && cur.SessionID != c.SessionID {
		displaced = cur
		delete(p.identityBySession, cur.SessionID)
	}

	p.byIdentity[identity] = c
	p.identityBySession[c.SessionID] = identity
	p.mu.Unlock()

	p.log.Info("presence.register", "identity", identity, "session_id", c.SessionID, "displaced", displaced != nil)
	return displaced
}

// Lookup returns the live connection for identity, or nil when offline.
func (p *Presence) Lookup(identity string) *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byIdentity[identity]
}

// IdentityOf returns the identity registered by sessionID, or "".
func (p *Presence) IdentityOf(sessionID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identityBySession[sessionID]
}

// Unregister removes both directions of the mapping for sessionID.
// It is idempotent and a no-op for sessions that never registered. The
// identity binding is only removed while the session still owns it, so a
// disconnect racing a last-writer-wins re-registration cannot evict the
// newer connection.
func (p *Presence) Unregister(sessionID string) (identity string, ok bool) {
	if sessionID == "" {
		return "", false
	}

	p.mu.Lock()
	identity, ok = p.identityBySession[sessionID]
	if ok {
		delete(p.identityBySession, sessionID)
		if cur := p.byIdentity[identity]; cur != nil && cur.SessionID == sessionID {
			delete(p.byIdentity, identity)
		}
	}
	p.mu.Unlock()

	if ok {
		p.log.Info("presence.unregister", "identity", identity, "session_id", sessionID)
	}
	return identity, ok
}

// Online reports how many identities currently have a live connection.
func (p *Presence) Online() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byIdentity)
}
