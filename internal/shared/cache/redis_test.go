package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to OMS_TEST_REDIS or skips.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("OMS_TEST_REDIS")
	if addr == "" {
		t.Skip("OMS_TEST_REDIS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { rdb.Close() })
	s := New(rdb)
	if err := s.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return s
}

func TestLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "oms:test:lease:" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _ = s.ForceRelease(ctx, key) })

	holder, ok, err := s.Acquire(ctx, key, "ana", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ana", holder)

	holder, ok, err = s.Acquire(ctx, key, "luis", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "ana", holder)

	_, ok, err = s.Acquire(ctx, key, "ana", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	refreshed, err := s.Refresh(ctx, key, "luis", time.Minute)
	require.NoError(t, err)
	assert.False(t, refreshed)

	h, ttl, err := s.Holder(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ana", h)
	assert.Greater(t, ttl, time.Minute)

	released, err := s.Release(ctx, key, "luis")
	require.NoError(t, err)
	assert.False(t, released)
	released, err = s.Release(ctx, key, "ana")
	require.NoError(t, err)
	assert.True(t, released)

	h, _, err = s.Holder(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestJSONSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "oms:test:json:" + time.Now().Format("150405.000000")

	var dst map[string]int
	found, err := s.GetJSON(ctx, key, &dst)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetJSON(ctx, key, map[string]int{"available": 150000}, time.Minute))
	found, err = s.GetJSON(ctx, key, &dst)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 150000, dst["available"])
	_ = s.ForceRelease(ctx, key)
}
