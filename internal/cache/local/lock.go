// Package local implements the domain lock, bus and rate limiter interfaces
// in-process, for the memory mode and tests.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// LockManager is a keyed mutex. The ttl argument is ignored: a holder keeps
// the lock until it calls unlock.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*keyedLock)}
}

// Acquire blocks until key is free or ctx is done.
func (lm *LockManager) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	lm.mu.Lock()
	l, ok := lm.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		lm.locks[key] = l
	}
	l.refs++
	lm.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		lm.release(key, l)
		return nil, fmt.Errorf("local: acquire lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			lm.release(key, l)
		})
	}, nil
}

func (lm *LockManager) release(key string, l *keyedLock) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(lm.locks, key)
	}
}

var _ domain.LockManager = (*LockManager)(nil)
