// Package lock serialises workflow runs per reservation.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reservation-service/internal/redisclient"
	"reservation-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when a lock could not be acquired before the wait elapsed.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker hands out exclusive locks by key. The returned function releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an in-process locker
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, e)
		return nil, fmt.Errorf("failed to lock %s: %w", key, ctx.Err())
	}
	util.LockWaitLatency.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.drop(key, e)
		})
	}, nil
}

func (k *KeyedMutex) drop(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// RedisLocker is a Locker shared by every process using the same Redis.
// Each acquisition owns a random token so only the holder can release it.
type RedisLocker struct {
	client *redisclient.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a distributed locker. ttl bounds how long a crashed
// holder blocks others; a live holder renews it until unlock. wait bounds
// how long Lock polls.
func NewRedisLocker(client *redisclient.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  25 * time.Millisecond,
		logger: util.GetLogger(),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	start := time.Now()
	deadline := start.Add(l.wait)

	for {
		ok, err := l.client.AcquireLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, ErrLockTimeout)
		}
		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to lock %s: %w", key, ctx.Err())
		}
	}
	util.LockWaitLatency.Observe(time.Since(start).Seconds())

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			released, err := l.client.ReleaseLock(context.Background(), key, token)
			if err != nil {
				l.logger.Error("Failed to release lock", zap.String("key", key), zap.Error(err))
				return
			}
			if !released {
				l.logger.Warn("Lock expired before release", zap.String("key", key), zap.Duration("ttl", l.ttl))
			}
		})
	}, nil
}

// keepAlive extends the lock every ttl/3 until stop is closed or the lock
// is no longer owned by token.
func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			ok, err := l.client.RefreshLock(ctx, key, token, l.ttl)
			cancel()
			if err != nil {
				l.logger.Warn("Failed to refresh lock", zap.String("key", key), zap.Error(err))
				continue
			}
			if !ok {
				l.logger.Warn("Lock lost before release", zap.String("key", key), zap.Duration("ttl", l.ttl))
				return
			}
		}
	}
}
