package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// RateLimiter keeps one token bucket per key. A bucket's shape is fixed by
// the first limit/window it is asked about.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	// Wait uses waitLimit requests per waitWindow.
	waitLimit  int
	waitWindow time.Duration
}

// NewRateLimiter creates a RateLimiter. Wait admits limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		waitLimit:  limit,
		waitWindow: window,
	}
}

func (rl *RateLimiter) limiter(key string, limit int, window time.Duration) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		if limit < 1 {
			limit = 1
		}
		l = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.limiters[key] = l
	}
	return l
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	return rl.limiter(key, limit, window).Allow(), nil
}

func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	if err := rl.limiter(key, rl.waitLimit, rl.waitWindow).Wait(ctx); err != nil {
		return fmt.Errorf("local: rate limit wait %s: %w", key, err)
	}
	return nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
