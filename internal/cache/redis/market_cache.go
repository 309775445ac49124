package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// MarketCache implements domain.MarketCache as JSON strings with a TTL.
//
// Key schema:
//
//	market:{id} - JSON encoded domain.Market
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache whose entries expire after ttl.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) key(id common.Hash) string { return mc.c.Key("market", id.Hex()) }

// Set stores market until the TTL elapses.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID.Hex(), err)
	}
	if err := mc.c.rdb.Set(ctx, mc.key(market.ID), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID.Hex(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (mc *MarketCache) Get(ctx context.Context, id common.Hash) (domain.Market, error) {
	data, err := mc.c.rdb.Get(ctx, mc.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id.Hex(), err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id.Hex(), err)
	}
	return market, nil
}

// Invalidate drops the cached market.
func (mc *MarketCache) Invalidate(ctx context.Context, id common.Hash) error {
	if err := mc.c.rdb.Del(ctx, mc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id.Hex(), err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
