package relay

import (
	"context"
	"sync"
)

// MemoryListStore is a dev/test fallback used when Redis is not configured.
// It mirrors Redis list semantics, including negative index handling.
type MemoryListStore struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

// NewMemoryListStore constructs an in-memory ListStore implementation.
func NewMemoryListStore() *MemoryListStore {
	return &MemoryListStore{lists: make(map[string][][]byte)}
}

// Push appends values to the tail of key.
func (s *MemoryListStore) Push(ctx context.Context, key string, values ...[]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range values {
		s.lists[key] = append(s.lists[key], cloneBytes(v))
	}
	return nil
}

// Range reads the inclusive [start, stop] window.
func (s *MemoryListStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	lo, hi, ok := normalizeListWindow(int64(len(list)), start, stop)
	if !ok {
		return nil, nil
	}

	out := make([][]byte, 0, hi-lo+1)
	for _, v := range list[lo : hi+1] {
		out = append(out, cloneBytes(v))
	}
	return out, nil
}

// Trim truncates the list to the inclusive [start, stop] window.
func (s *MemoryListStore) Trim(ctx context.Context, key string, start, stop int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	lo, hi, ok := normalizeListWindow(int64(len(list)), start, stop)
	if !ok {
		delete(s.lists, key)
		return nil
	}

	s.lists[key] = append([][]byte(nil), list[lo:hi+1]...)
	return nil
}

// Drain reads the whole list and deletes the key in one critical section.
func (s *MemoryListStore) Drain(ctx context.Context, key string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	delete(s.lists, key)
	return list, nil
}

// Replace deletes the key and restores it with values.
func (s *MemoryListStore) Replace(ctx context.Context, key string, values [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(values) == 0 {
		delete(s.lists, key)
		return nil
	}

	list := make([][]byte, 0, len(values))
	for _, v := range values {
		list = append(list, cloneBytes(v))
	}
	s.lists[key] = list
	return nil
}

// Delete removes the key.
func (s *MemoryListStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.lists, key)
	s.mu.Unlock()
	return nil
}

// normalizeListWindow resolves Redis-style inclusive indexes against length n.
// It reports ok=false when the resolved window is empty.
func normalizeListWindow(n, start, stop int64) (lo, hi int64, ok bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n || stop < 0 {
		return 0, 0, false
	}
	return start, stop, true
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
