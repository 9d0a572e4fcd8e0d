package relay

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisListStore is the production ListStore backed by Redis lists
// (RPUSH / LRANGE / LTRIM / DEL).
//
// Ownership model:
// - RedisListStore does NOT own the client. The caller closes it.
//
// Atomicity model:
// - Single-command operations rely on Redis' own atomicity.
// - Drain and Replace run as Lua scripts so a concurrent enqueue can never
//   observe or produce a partial list.
type RedisListStore struct {
	rdb *redis.Client
}

// drainScript reads the whole list and deletes the key atomically.
var drainScript = redis.NewScript(`
local vals = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return vals
`)

// replaceScript deletes the key and restores it with ARGV in order.
var replaceScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
if #ARGV > 0 then
	redis.call('RPUSH', KEYS[1], unpack(ARGV))
end
return #ARGV
`)

// NewRedisListStore constructs a Redis-backed ListStore.
func NewRedisListStore(rdb *redis.Client) (*RedisListStore, error) {
	if rdb == nil {
		return nil, errors.New("relay: nil redis client")
	}
	return &RedisListStore{rdb: rdb}, nil
}

// Push appends values to the tail of key.
func (s *RedisListStore) Push(ctx context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	return s.rdb.RPush(ctx, key, args...).Err()
}

// Range reads the inclusive [start, stop] window.
func (s *RedisListStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := s.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return stringsToBytes(vals), nil
}

// Trim truncates the list to the inclusive [start, stop] window.
func (s *RedisListStore) Trim(ctx context.Context, key string, start, stop int64) error {
	return s.rdb.LTrim(ctx, key, start, stop).Err()
}

// Drain atomically reads the whole list and deletes the key.
func (s *RedisListStore) Drain(ctx context.Context, key string) ([][]byte, error) {
	res, err := drainScript.Run(ctx, s.rdb, []string{key}).Result()
	if err != nil {
		return nil, err
	}

	items, ok := res.([]interface{})
	if !ok {
		return nil, errors.New("relay: unexpected drain script reply")
	}

	out := make([][]byte, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out, nil
}

// Replace atomically deletes the key and restores it with values.
func (s *RedisListStore) Replace(ctx context.Context, key string, values [][]byte) error {
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	return replaceScript.Run(ctx, s.rdb, []string{key}, args...).Err()
}

// Delete removes the key.
func (s *RedisListStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func stringsToBytes(vals []string) [][]byte {
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out
}
