package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Store implements TTL leases and JSON snapshots on Redis.
type Store struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Acquire takes key for owner unless someone else holds it. Re-acquiring an
// own lease extends it. The current holder is always returned.
func (s *Store) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (string, bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return owner, true, nil
	}
	holder, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls.
		return s.Acquire(ctx, key, owner, ttl)
	}
	if err != nil {
		return "", false, err
	}
	if holder == owner {
		if _, err := s.Refresh(ctx, key, owner, ttl); err != nil {
			return "", false, err
		}
		return owner, true, nil
	}
	return holder, false, nil
}

// Refresh extends the lease when owner still holds it.
func (s *Store) Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, s.rdb, []string{key}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release drops the lease only if owner holds it.
func (s *Store) Release(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{key}, owner).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ForceRelease(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Holder returns the owner and remaining TTL, or "" when free.
func (s *Store) Holder(ctx context.Context, key string) (string, time.Duration, error) {
	pipe := s.rdb.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, err
	}
	holder, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return holder, ttl.Val(), nil
}

// SetJSON stores v encoded as JSON.
func (s *Store) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, ttl).Err()
}

// GetJSON decodes key into dst and reports whether it existed.
func (s *Store) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, dst)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
