package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

const (
	pendingKeySuffix = ":pending"

	// maxPendingPerIdentity caps an identity's offline backlog.
	// Overflow drops the oldest entries first.
	maxPendingPerIdentity = 1000
)

// PendingStore is the per-identity ordered queue of messages addressed to a
// currently-absent identity, backed by the external list store.
//
// Delivery order equals enqueue order (FIFO) per identity; there is no
// cross-identity ordering guarantee.
//
// Mutations are serialized per identity: Remove is a read-filter-write
// sequence over the backing list, and an enqueue landing between its read
// and its write would be erased by the rewrite. The keyed lock closes that
// window for every multi-step operation on one identity's queue.
type PendingStore struct {
	log   *slog.Logger
	lists ListStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPendingStore constructs a PendingStore over lists.
func NewPendingStore(log *slog.Logger, lists ListStore) *PendingStore {
	return &PendingStore{
		log:   log,
		lists: lists,
		locks: make(map[string]*sync.Mutex),
	}
}

func pendingKey(identity string) string {
	return identity + pendingKeySuffix
}

// identityLock returns the mutex serializing mutations of identity's queue.
func (s *PendingStore) identityLock(identity string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		s.locks[identity] = l
	}
	return l
}

// Enqueue appends msg to identity's queue, creating it lazily, then trims the
// queue to its cap (oldest entries dropped).
func (s *PendingStore) Enqueue(ctx context.Context, identity string, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode pending message: %w", err)
	}

	l := s.identityLock(identity)
	l.Lock()
	defer l.Unlock()

	key := pendingKey(identity)
	if err := s.lists.Push(ctx, key, b); err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	if err := s.lists.Trim(ctx, key, -maxPendingPerIdentity, -1); err != nil {
		return fmt.Errorf("trim pending: %w", err)
	}
	return nil
}

// Drain returns and atomically removes all queued messages for identity, in
// enqueue order. Entries that no longer decode are dropped with a log line
// rather than poisoning the whole drain.
func (s *PendingStore) Drain(ctx context.Context, identity string) ([]Message, error) {
	l := s.identityLock(identity)
	l.Lock()
	defer l.Unlock()

	raw, err := s.lists.Drain(ctx, pendingKey(identity))
	if err != nil {
		return nil, fmt.Errorf("drain pending: %w", err)
	}

	out := make([]Message, 0, len(raw))
	for _, b := range raw {
		var m Message
		if err := json.Unmarshal(b, &m); err != nil {
			s.log.Warn("pending.decode.fail", "identity", identity, "err", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Restore re-queues messages that were drained but could not be delivered.
// They land behind anything enqueued since the drain; within the restored
// batch the original order is preserved.
func (s *PendingStore) Restore(ctx context.Context, identity string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	vals := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode pending message: %w", err)
		}
		vals = append(vals, b)
	}

	l := s.identityLock(identity)
	l.Lock()
	defer l.Unlock()

	if err := s.lists.Push(ctx, pendingKey(identity), vals...); err != nil {
		return fmt.Errorf("restore pending: %w", err)
	}
	return nil
}

// Remove deletes all queued messages matching conversationKey without
// affecting others. Used when a client opens a conversation and has already
// fetched its history another way.
func (s *PendingStore) Remove(ctx context.Context, identity, conversationKey string) error {
	key := pendingKey(identity)

	l := s.identityLock(identity)
	l.Lock()
	defer l.Unlock()

	raw, err := s.lists.Drain(ctx, key)
	if err != nil {
		return fmt.Errorf("read pending: %w", err)
	}

	kept := make([][]byte, 0, len(raw))
	for _, b := range raw {
		var m Message
		if err := json.Unmarshal(b, &m); err != nil {
			s.log.Warn("pending.decode.fail", "identity", identity, "err", err)
			continue
		}
		if m.ConversationKey != conversationKey {
			kept = append(kept, b)
		}
	}

	if err := s.lists.Replace(ctx, key, kept); err != nil {
		return fmt.Errorf("restore pending: %w", err)
	}
	return nil
}
