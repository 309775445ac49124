package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/cache/local"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/service"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeLedger struct {
	markets map[common.Hash]domain.Market
	pending map[common.Hash]domain.PendingAssertion
	reads   int
}

func (f *fakeLedger) GetMarket(_ context.Context, id common.Hash) (domain.Market, error) {
	f.reads++
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrMarketDoesNotExist
	}
	return m, nil
}

func (f *fakeLedger) ListMarkets(context.Context, domain.ListOpts) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeLedger) Supply(_ context.Context, id common.Hash) (*big.Int, *big.Int, error) {
	return big.NewInt(7), big.NewInt(7), nil
}

func (f *fakeLedger) PendingAssertion(_ context.Context, id common.Hash) (domain.PendingAssertion, error) {
	a, ok := f.pending[id]
	if !ok {
		return domain.PendingAssertion{}, fmt.Errorf("wrapped: %w", domain.ErrNotFound)
	}
	return a, nil
}

type mapCache struct {
	mu sync.Mutex
	m  map[common.Hash]domain.Market
}

func (c *mapCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[m.ID] = m
	return nil
}

func (c *mapCache) Get(_ context.Context, id common.Hash) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.m[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *mapCache) Invalidate(_ context.Context, id common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

func (c *mapCache) has(id common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[id]
	return ok
}

var (
	marketID    = common.HexToHash("0x01")
	assertionID = common.HexToHash("0xa1")
)

func TestMarketService_CachesAndViews(t *testing.T) {
	ctx := context.Background()
	fl := &fakeLedger{
		markets: map[common.Hash]domain.Market{marketID: {ID: marketID, AssertedOutcomeID: common.HexToHash("0xbb")}},
		pending: map[common.Hash]domain.PendingAssertion{marketID: {ID: assertionID, MarketID: marketID}},
	}
	cache := &mapCache{m: map[common.Hash]domain.Market{}}
	svc := service.NewMarketService(fl, cache, nil, discard())

	_, err := svc.GetMarket(ctx, marketID)
	require.NoError(t, err)
	_, err = svc.GetMarket(ctx, marketID)
	require.NoError(t, err)
	assert.Equal(t, 1, fl.reads, "second read is served from cache")

	v, err := svc.View(ctx, marketID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateAsserting, v.State)
	require.NotNil(t, v.Assertion)
	assert.Equal(t, assertionID, v.Assertion.ID)
	assert.Equal(t, int64(7), v.Supply1.Int64())

	_, err = svc.GetMarket(ctx, common.HexToHash("0x02"))
	assert.ErrorIs(t, err, domain.ErrMarketDoesNotExist)
}

func TestMarketService_InvalidatesOnEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := local.NewSignalBus()
	cache := &mapCache{m: map[common.Hash]domain.Market{marketID: {ID: marketID}}}
	svc := service.NewMarketService(&fakeLedger{}, cache, bus, discard())
	go func() { _ = svc.Run(ctx) }()

	evt, err := json.Marshal(domain.Event{Type: domain.EventMarketResolved, MarketID: marketID.Hex()})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.ChannelMarkets, evt)
		return !cache.has(marketID)
	}, time.Second, 10*time.Millisecond)
}

type fakeOracle struct {
	due     []common.Hash
	fail    map[common.Hash]error
	settled []common.Hash
}

func (f *fakeOracle) Expired() []common.Hash { return f.due }

func (f *fakeOracle) Settle(_ context.Context, id common.Hash) error {
	if err := f.fail[id]; err != nil {
		return err
	}
	f.settled = append(f.settled, id)
	return nil
}

func TestLivenessSettler_SettlesDue(t *testing.T) {
	a, b := common.HexToHash("0x0a"), common.HexToHash("0x0b")
	o := &fakeOracle{due: []common.Hash{a, b}, fail: map[common.Hash]error{a: errors.New("callback failed")}}
	s := service.NewLivenessSettler(o, time.Second, discard())

	assert.Equal(t, 1, s.SettleDue(context.Background()))
	assert.Equal(t, []common.Hash{b}, o.settled)
}
