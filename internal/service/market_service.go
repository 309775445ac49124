// Package service holds the read-side and background services that sit
// around the ledger: cached market views and liveness settlement.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// MarketReader is the ledger's read API.
type MarketReader interface {
	GetMarket(ctx context.Context, id common.Hash) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Supply(ctx context.Context, id common.Hash) (*big.Int, *big.Int, error)
	PendingAssertion(ctx context.Context, id common.Hash) (domain.PendingAssertion, error)
}

// MarketView is a market together with its derived read-side data.
type MarketView struct {
	Market    domain.Market
	State     domain.MarketState
	Supply1   *big.Int
	Supply2   *big.Int
	Assertion *domain.PendingAssertion
}

// MarketService serves market reads through an optional cache and keeps the
// cache coherent by listening to lifecycle events.
type MarketService struct {
	ledger MarketReader
	cache  domain.MarketCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewMarketService creates a MarketService. cache and bus may be nil.
func NewMarketService(
	ledger MarketReader,
	cache domain.MarketCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		ledger: ledger,
		cache:  cache,
		bus:    bus,
		logger: logger,
	}
}

// GetMarket retrieves a market, checking the cache first and falling back
// to the ledger on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id common.Hash) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.ledger.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", id.Hex(), err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id.Hex()),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// View assembles the market, its state, leg supplies and live assertion.
// Supplies are nil when the outcome tokens are not loaded in this process.
func (s *MarketService) View(ctx context.Context, id common.Hash) (MarketView, error) {
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return MarketView{}, err
	}
	v := MarketView{Market: m, State: m.State()}

	if s1, s2, err := s.ledger.Supply(ctx, id); err == nil {
		v.Supply1, v.Supply2 = s1, s2
	}
	if m.State() == domain.MarketStateAsserting {
		a, err := s.ledger.PendingAssertion(ctx, id)
		switch {
		case err == nil:
			v.Assertion = &a
		case !errors.Is(err, domain.ErrNotFound):
			return MarketView{}, fmt.Errorf("market_service: assertion for %s: %w", id.Hex(), err)
		}
	}
	return v, nil
}

// List returns markets newest first from the ledger.
func (s *MarketService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.ledger.ListMarkets(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Run invalidates cached markets as lifecycle events arrive. It returns
// immediately when there is no cache or bus.
func (s *MarketService) Run(ctx context.Context) error {
	if s.cache == nil || s.bus == nil {
		return nil
	}
	ch, err := s.bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		return fmt.Errorf("market_service: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var evt domain.Event
			if err := json.Unmarshal(data, &evt); err != nil || evt.MarketID == "" {
				continue
			}
			if err := s.cache.Invalidate(ctx, common.HexToHash(evt.MarketID)); err != nil {
				// The entry expires on its own.
				s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
					slog.String("market_id", evt.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
