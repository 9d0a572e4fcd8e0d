package relay

import "context"

// ListStore is the short-term ordered list collaborator backing both the
// per-identity pending queues and the per-conversation recent-message caches.
//
// Index semantics follow Redis lists: zero-based from the head, negative
// indexes count from the tail (-1 is the newest element). Both indexes are
// inclusive.
type ListStore interface {
	// Push appends values to the tail of key, creating the list lazily.
	Push(ctx context.Context, key string, values ...[]byte) error

	// Range reads the inclusive [start, stop] window without mutating the list.
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	// Trim truncates the list to the inclusive [start, stop] window.
	Trim(ctx context.Context, key string, start, stop int64) error

	// Drain atomically reads the whole list and deletes the key.
	// Concurrent Push calls either land before the drain (and are returned)
	// or after it (and stay queued); a partial snapshot is never observed.
	Drain(ctx context.Context, key string) ([][]byte, error)

	// Replace atomically deletes the key and restores it with values.
	// An empty values slice just deletes the key.
	Replace(ctx context.Context, key string, values [][]byte) error

	// Delete removes the key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
}
