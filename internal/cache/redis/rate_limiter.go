package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowSrc string

var slidingWindow = redis.NewScript(slidingWindowSrc)

// RateLimiter is a domain.RateLimiter with one sliding window per key, kept
// in a sorted set and updated atomically in Lua.
type RateLimiter struct {
	c          *Client
	waitLimit  int
	waitWindow time.Duration
}

// NewRateLimiter creates a RateLimiter; Wait admits limit requests per
// window.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{c: c, waitLimit: limit, waitWindow: window}
}

// verdict is the decoded script result.
type verdict struct {
	admitted bool
	inWindow int64
	retryIn  time.Duration
}

func (rl *RateLimiter) check(ctx context.Context, key string, limit int, window time.Duration) (verdict, error) {
	k := rl.c.Key("ratelimit", key)
	res, err := slidingWindow.Run(ctx, rl.c.rdb,
		[]string{k, k + ":seq"},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return verdict{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return verdict{}, fmt.Errorf("redis: rate limit %s: script returned %d values", key, len(res))
	}
	return verdict{
		admitted: res[0] == 1,
		inWindow: res[1],
		retryIn:  time.Duration(res[2]) * time.Microsecond,
	}, nil
}

// Allow records a request for key when it fits the window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	v, err := rl.check(ctx, key, limit, window)
	return v.admitted, err
}

// Wait blocks until key is admitted, sleeping until the oldest request in
// the window expires.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		v, err := rl.check(ctx, key, rl.waitLimit, rl.waitWindow)
		if err != nil {
			return err
		}
		if v.admitted {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-time.After(max(v.retryIn, time.Millisecond)):
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
