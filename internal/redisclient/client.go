package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/refresh_lock.lua
var refreshLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	refreshScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return Wrap(rdb), nil
}

// Wrap builds a Client around an existing connection.
func Wrap(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		refreshScript: redis.NewScript(refreshLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection, used by the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ClaimIdempotencyKey stores key if it is not present yet.
// Returns false when the key was already claimed.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// ReleaseIdempotencyKey forgets a claimed key so the request can be retried.
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}

// AcquireLock acquires a distributed lock owned by token
func (c *Client) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
}

// ReleaseLock releases the lock only if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) (bool, error) {
	result, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return false, fmt.Errorf("release lock script failed: %w", err)
	}

	released, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return released == 1, nil
}

// RefreshLock extends the TTL of a lock still owned by token
func (c *Client) RefreshLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	result, err := c.refreshScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("refresh lock script failed: %w", err)
	}

	refreshed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return refreshed == 1, nil
}
