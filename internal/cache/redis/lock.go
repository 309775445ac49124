package redis

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// releaseScript deletes the lock only while it still carries our token, so a
// holder whose TTL lapsed cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

const (
	lockMinBackoff = 10 * time.Millisecond
	lockMaxBackoff = 250 * time.Millisecond
)

// LockManager is a domain.LockManager over SET NX PX.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// TryAcquire makes one attempt; a taken key is domain.ErrLockHeld.
func (lm *LockManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := lm.c.Key("lock", key)
	token := uuid.NewString()

	ok, err := lm.c.rdb.SetNX(ctx, k, token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	case !ok:
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released on a fresh context: the caller's may be cancelled already.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			releaseScript.Run(ctx, lm.c.rdb, []string{k}, token)
		})
	}, nil
}

// Acquire retries with jittered exponential backoff until the lock is taken
// or ctx ends.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	backoff := lockMinBackoff
	for {
		release, err := lm.TryAcquire(ctx, key, ttl)
		if !errors.Is(err, domain.ErrLockHeld) {
			return release, err
		}

		wait := backoff/2 + rand.N(backoff/2+1)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, ctx.Err())
		case <-time.After(wait):
		}
		backoff = min(backoff*2, lockMaxBackoff)
	}
}

var _ domain.LockManager = (*LockManager)(nil)
