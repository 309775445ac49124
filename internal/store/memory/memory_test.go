package memory_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/store/memory"
)

func TestMarketStore_CreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := memory.NewMarketStore()
	m := domain.Market{ID: common.HexToHash("0x01"), Description: "d", Reward: big.NewInt(5), CreatedAt: time.Now()}

	require.NoError(t, s.Create(ctx, m))
	assert.ErrorIs(t, s.Create(ctx, m), domain.ErrAlreadyExists)

	got, err := s.GetByID(ctx, m.ID)
	require.NoError(t, err)
	got.Reward.SetInt64(99)

	again, err := s.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.Reward.Int64(), "returned markets must not alias stored state")
}

func TestMarketStore_ListResolved(t *testing.T) {
	ctx := context.Background()
	s := memory.NewMarketStore()
	now := time.Now()
	resolvedAt := now.Add(time.Minute)

	require.NoError(t, s.Create(ctx, domain.Market{ID: common.HexToHash("0x01"), CreatedAt: now}))
	require.NoError(t, s.Create(ctx, domain.Market{ID: common.HexToHash("0x02"), CreatedAt: now, Resolved: true, ResolvedAt: &resolvedAt}))

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	resolved, err := s.ListResolved(ctx, domain.ListOpts{Since: &now})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, common.HexToHash("0x02"), resolved[0].ID)
}

func TestAssertionStore_OnePerMarket(t *testing.T) {
	ctx := context.Background()
	s := memory.NewAssertionStore()
	market := common.HexToHash("0xaa")

	require.NoError(t, s.Create(ctx, domain.PendingAssertion{ID: common.HexToHash("0x01"), MarketID: market}))
	assert.ErrorIs(t, s.Create(ctx, domain.PendingAssertion{ID: common.HexToHash("0x02"), MarketID: market}), domain.ErrAlreadyExists)

	got, err := s.GetByMarket(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), got.ID)

	require.NoError(t, s.Delete(ctx, got.ID))
	_, err = s.GetByMarket(ctx, market)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, s.Create(ctx, domain.PendingAssertion{ID: common.HexToHash("0x02"), MarketID: market}))
}

func TestPoolStore_LookupByPoolAddress(t *testing.T) {
	ctx := context.Background()
	s := memory.NewPoolStore()
	rec := domain.PoolRecord{MarketID: common.HexToHash("0x01"), Pool: common.HexToAddress("0x99")}

	require.NoError(t, s.Create(ctx, rec))
	assert.ErrorIs(t, s.Create(ctx, rec), domain.ErrAlreadyExists)

	got, err := s.GetByPool(ctx, rec.Pool)
	require.NoError(t, err)
	assert.Equal(t, rec.MarketID, got.MarketID)
	assert.False(t, got.Initialized)

	require.NoError(t, s.MarkInitialized(ctx, rec.MarketID))
	got, err = s.GetByMarket(ctx, rec.MarketID)
	require.NoError(t, err)
	assert.True(t, got.Initialized)

	_, err = s.GetByPool(ctx, common.HexToAddress("0x98"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStore(t *testing.T) {
	ctx := context.Background()
	s := memory.NewPositionStore()
	user := common.HexToAddress("0x01")
	market := common.HexToHash("0x02")

	require.NoError(t, s.Create(ctx, domain.Position{User: user, MarketID: market, Handle: 7}))
	assert.ErrorIs(t, s.Create(ctx, domain.Position{User: user, MarketID: market, Handle: 8}), domain.ErrAlreadyExists)

	got, err := s.Get(ctx, user, market)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionHandle(7), got.Handle)

	list, err := s.ListByUser(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAuditStore_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := memory.NewAuditStore()
	require.NoError(t, s.Log(ctx, "first", nil))
	require.NoError(t, s.Log(ctx, "second", map[string]any{"k": "v"}))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Event)
}
