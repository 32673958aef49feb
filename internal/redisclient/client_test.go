package redisclient

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() {
		_ = c.Close()
		mr.Close()
	})
	return mr, c
}

func TestLockOwnership(t *testing.T) {
	mr, c := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "reservation:r1", "token-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "reservation:r1", "token-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := c.ReleaseLock(ctx, "reservation:r1", "token-b")
	require.NoError(t, err)
	assert.False(t, released, "a foreign token must not release the lock")
	assert.True(t, mr.Exists("lock:reservation:r1"))

	released, err = c.ReleaseLock(ctx, "reservation:r1", "token-a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("lock:reservation:r1"))
}

func TestLockExpiresAndRefresh(t *testing.T) {
	mr, c := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "k", "tok", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	refreshed, err := c.RefreshLock(ctx, "k", "tok", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, refreshed)

	mr.FastForward(5 * time.Second)
	assert.True(t, mr.Exists("lock:k"))

	mr.FastForward(6 * time.Second)
	assert.False(t, mr.Exists("lock:k"))

	refreshed, err = c.RefreshLock(ctx, "k", "tok", time.Second)
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestIdempotencyKeys(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()

	first, err := c.ClaimIdempotencyKey(ctx, "pay-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := c.ClaimIdempotencyKey(ctx, "pay-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, c.ReleaseIdempotencyKey(ctx, "pay-1"))
	again, err := c.ClaimIdempotencyKey(ctx, "pay-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, again)
}
