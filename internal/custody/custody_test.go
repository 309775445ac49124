package custody_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/cache/local"
	"github.com/alanyoungcy/outcomeledger/internal/claim"
	"github.com/alanyoungcy/outcomeledger/internal/custody"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/engine/memengine"
	"github.com/alanyoungcy/outcomeledger/internal/journal"
	"github.com/alanyoungcy/outcomeledger/internal/store/memory"
	"github.com/alanyoungcy/outcomeledger/internal/token"
)

var (
	custodyAddr = common.HexToAddress("0x000000000000000000000000000000000000c057")
	engineAddr  = common.HexToAddress("0x00000000000000000000000000000000000e6e00")
	alice       = common.HexToAddress("0x0000000000000000000000000000000000a11ce0")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	marketID    = common.HexToHash("0x6d61726b6574")
)

type failingEngine struct {
	domain.LiquidityEngine
}

func (failingEngine) CreatePool(context.Context, common.Address, common.Address, uint32) (common.Address, error) {
	return common.Address{}, errors.New("factory unavailable")
}

type fixture struct {
	custody *custody.Custodian
	a, b    *token.Token
	pools   *memory.PoolStore
	audit   *memory.AuditStore
}

func newFixture(t *testing.T, wrap func(domain.LiquidityEngine) domain.LiquidityEngine) *fixture {
	t.Helper()
	ctx := context.Background()
	reg := token.NewRegistry()
	alloc := token.NewAddressAllocator(common.HexToAddress("0xde"), 0)

	a, ha := token.NewMintable(alloc.Next(), "YES", 18)
	b, hb := token.NewMintable(alloc.Next(), "NO", 18)
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))
	for _, h := range []*token.MintBurnHandle{ha, hb} {
		for _, who := range []common.Address{alice, bob} {
			require.NoError(t, h.Mint(ctx, who, big.NewInt(10_000_000)))
			require.NoError(t, h.Token().Approve(ctx, who, custodyAddr, big.NewInt(10_000_000)))
		}
	}

	var engine domain.LiquidityEngine = memengine.New(engineAddr, reg, alloc)
	if wrap != nil {
		engine = wrap(engine)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pools := memory.NewPoolStore()
	audit := memory.NewAuditStore()
	c := custody.New(
		custody.Config{Address: custodyAddr},
		engine,
		reg,
		pools,
		memory.NewPositionStore(),
		local.NewLockManager(),
		journal.New(local.NewSignalBus(), audit, logger),
		logger,
	)
	return &fixture{custody: c, a: a, b: b, pools: pools, audit: audit}
}

func (f *fixture) ensurePool(t *testing.T) common.Address {
	t.Helper()
	pool, err := f.custody.EnsurePool(context.Background(), f.a.Address(), f.b.Address(), claim.FeeTierMedium, marketID)
	require.NoError(t, err)
	return pool
}

func (f *fixture) add(t *testing.T, user common.Address, amountA, amountB int64) custody.LiquidityResult {
	t.Helper()
	res, err := f.custody.AddLiquidity(context.Background(), user, custody.AddLiquidityRequest{
		MarketID:  marketID,
		User:      user,
		AmountA:   big.NewInt(amountA),
		AmountB:   big.NewInt(amountB),
		TickLower: -887220,
		TickUpper: 887220,
	})
	require.NoError(t, err)
	return res
}

func bal(t *testing.T, tok *token.Token, who common.Address) int64 {
	t.Helper()
	v, err := tok.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return v.Int64()
}

func TestEnsurePool(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pool := f.ensurePool(t)

	rec, err := f.custody.Pool(ctx, marketID)
	require.NoError(t, err)
	assert.Equal(t, pool, rec.Pool)
	assert.True(t, rec.Initialized)
	lo, hi := claim.SortTokens(f.a.Address(), f.b.Address())
	assert.Equal(t, lo, rec.TokenA)
	assert.Equal(t, hi, rec.TokenB)

	st, err := f.custody.PoolState(ctx, marketID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.SqrtPriceX96.Cmp(claim.StartingSqrtPriceX96()))

	_, err = f.custody.EnsurePool(ctx, f.a.Address(), f.b.Address(), claim.FeeTierMedium, marketID)
	assert.ErrorIs(t, err, domain.ErrPoolAlreadyExists)

	_, err = f.custody.EnsurePool(ctx, f.a.Address(), f.a.Address(), claim.FeeTierMedium, common.HexToHash("0x02"))
	assert.ErrorIs(t, err, domain.ErrTokensIdentical)
}

func TestEnsurePool_EngineFailure(t *testing.T) {
	f := newFixture(t, func(e domain.LiquidityEngine) domain.LiquidityEngine { return failingEngine{e} })
	_, err := f.custody.EnsurePool(context.Background(), f.a.Address(), f.b.Address(), claim.FeeTierMedium, marketID)
	assert.ErrorIs(t, err, domain.ErrPoolCreationFailed)

	_, err = f.pools.GetByMarket(context.Background(), marketID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "nothing recorded for a failed pool")
}

func TestAddLiquidity_ReusesHandle(t *testing.T) {
	f := newFixture(t, nil)
	f.ensurePool(t)

	first := f.add(t, alice, 100, 100)
	assert.True(t, first.Created)
	assert.Equal(t, int64(100), first.Liquidity.Int64())

	second := f.add(t, alice, 50, 50)
	assert.False(t, second.Created)
	assert.Equal(t, first.Handle, second.Handle)
	assert.Equal(t, int64(150), second.Liquidity.Int64())

	views, err := f.custody.Positions(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, int64(150), views[0].Liquidity.Int64())

	assert.Equal(t, int64(0), bal(t, f.a, custodyAddr))
	assert.Equal(t, int64(0), bal(t, f.b, custodyAddr))
}

func TestAddLiquidity_RefundsUnconsumed(t *testing.T) {
	f := newFixture(t, nil)
	f.ensurePool(t)

	res := f.add(t, alice, 100, 60)
	assert.Equal(t, int64(60), res.AmountA.Int64())
	assert.Equal(t, int64(60), res.AmountB.Int64())
	assert.Equal(t, int64(40), res.RefundA.Int64())
	assert.Equal(t, int64(0), res.RefundB.Int64())

	assert.Equal(t, int64(10_000_000-60), bal(t, f.a, alice))
	assert.Equal(t, int64(10_000_000-60), bal(t, f.b, alice))
	assert.Equal(t, int64(0), bal(t, f.a, custodyAddr))
}

func TestAddLiquidity_NoPool(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.custody.AddLiquidity(context.Background(), alice, custody.AddLiquidityRequest{
		MarketID: marketID,
		User:     alice,
		AmountA:  big.NewInt(10),
		AmountB:  big.NewInt(10),
	})
	assert.ErrorIs(t, err, domain.ErrPoolNotActive)
	assert.Equal(t, int64(10_000_000), bal(t, f.a, alice))
}

func TestRemoveLiquidity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.ensurePool(t)
	f.add(t, alice, 1000, 1000)

	_, err := f.custody.RemoveLiquidity(ctx, bob, custody.RemoveLiquidityRequest{MarketID: marketID, Liquidity: big.NewInt(10)})
	assert.ErrorIs(t, err, domain.ErrNoPosition)

	_, err = f.custody.RemoveLiquidity(ctx, alice, custody.RemoveLiquidityRequest{MarketID: marketID, Liquidity: big.NewInt(1001)})
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	_, err = f.custody.RemoveLiquidity(ctx, alice, custody.RemoveLiquidityRequest{
		MarketID:  marketID,
		Liquidity: big.NewInt(400),
		MinA:      big.NewInt(401),
	})
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)

	res, err := f.custody.RemoveLiquidity(ctx, alice, custody.RemoveLiquidityRequest{MarketID: marketID, Liquidity: big.NewInt(400)})
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.CollectedA.Int64())
	assert.Equal(t, int64(400), res.CollectedB.Int64())
	assert.Equal(t, int64(10_000_000-600), bal(t, f.a, alice))

	view, err := f.custody.Position(ctx, alice, marketID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), view.Liquidity.Int64())
}

func TestSwap_Routed(t *testing.T) {
	f := newFixture(t, nil)
	f.ensurePool(t)
	f.add(t, alice, 1_000_000, 1_000_000)
	rec, err := f.pools.GetByMarket(context.Background(), marketID)
	require.NoError(t, err)
	in, out := f.a, f.b
	if rec.TokenA != f.a.Address() {
		in, out = f.b, f.a
	}

	res, err := f.custody.Swap(context.Background(), bob, custody.SwapRequest{
		MarketID:     marketID,
		TokenIn:      in.Address(),
		AmountIn:     big.NewInt(10_000),
		MinAmountOut: big.NewInt(9000),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9871), res.AmountOut.Int64())
	assert.Equal(t, int64(10_000_000-10_000), bal(t, in, bob))
	assert.Equal(t, int64(10_000_000+9871), bal(t, out, bob))
	assert.Equal(t, int64(0), bal(t, in, custodyAddr))
}

func TestSwap_SlippageRefunds(t *testing.T) {
	f := newFixture(t, nil)
	f.ensurePool(t)
	f.add(t, alice, 1000, 1000)

	_, err := f.custody.Swap(context.Background(), bob, custody.SwapRequest{
		MarketID:     marketID,
		TokenIn:      f.a.Address(),
		AmountIn:     big.NewInt(100),
		MinAmountOut: big.NewInt(100),
	})
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Equal(t, int64(10_000_000), bal(t, f.a, bob))
	assert.Equal(t, int64(0), bal(t, f.a, custodyAddr))
}

func TestDirectSwap_PaysThroughCallback(t *testing.T) {
	f := newFixture(t, nil)
	pool := f.ensurePool(t)
	f.add(t, alice, 1_000_000, 1_000_000)
	rec, err := f.pools.GetByMarket(context.Background(), marketID)
	require.NoError(t, err)
	in, out := f.a, f.b
	if rec.TokenA != f.a.Address() {
		in, out = f.b, f.a
	}
	poolBefore := bal(t, in, pool)

	res, err := f.custody.DirectSwap(context.Background(), bob, custody.SwapRequest{
		MarketID: marketID,
		TokenIn:  in.Address(),
		AmountIn: big.NewInt(10_000),
	})
	require.NoError(t, err)
	assert.True(t, res.Direct)
	assert.Equal(t, int64(9871), res.AmountOut.Int64())
	assert.Equal(t, poolBefore+10_000, bal(t, in, pool))
	assert.Equal(t, int64(10_000_000+9871), bal(t, out, bob))
	assert.Equal(t, int64(0), bal(t, in, custodyAddr))
}

func TestDirectSwap_QuoteBelowMinimum(t *testing.T) {
	f := newFixture(t, nil)
	f.ensurePool(t)
	f.add(t, alice, 1000, 1000)

	_, err := f.custody.DirectSwap(context.Background(), bob, custody.SwapRequest{
		MarketID:     marketID,
		TokenIn:      f.a.Address(),
		AmountIn:     big.NewInt(100),
		MinAmountOut: big.NewInt(100),
	})
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Equal(t, int64(10_000_000), bal(t, f.a, bob))
}

func TestHandleSwapCallback_RejectsForgedSender(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.ensurePool(t)
	f.add(t, alice, 1000, 1000)

	// Seed custody so a successful forgery would be observable.
	require.NoError(t, f.a.Transfer(ctx, bob, custodyAddr, big.NewInt(500)))
	forger := common.HexToAddress("0x00000000000000000000000000000000000bad00")

	err := f.custody.HandleSwapCallback(ctx, domain.SwapPayment{
		Sender:       forger,
		Amount0Delta: big.NewInt(500),
		Amount1Delta: big.NewInt(500),
		MarketID:     marketID,
	})
	assert.ErrorIs(t, err, domain.ErrUnknownCallbackSource)
	assert.Equal(t, int64(500), bal(t, f.a, custodyAddr))
	assert.Equal(t, int64(0), bal(t, f.a, forger))
}

func TestHandleSwapCallback_RequiresSwapInFlight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pool := f.ensurePool(t)
	require.NoError(t, f.a.Transfer(ctx, bob, custodyAddr, big.NewInt(500)))

	err := f.custody.HandleSwapCallback(ctx, domain.SwapPayment{
		Sender:       pool,
		Amount0Delta: big.NewInt(500),
		Amount1Delta: big.NewInt(-1),
		MarketID:     marketID,
	})
	assert.ErrorIs(t, err, domain.ErrUnknownCallbackSource)
	assert.Equal(t, int64(500), bal(t, f.a, custodyAddr))
}

// greedyPool pays the recipient nothing and asks custody for both legs.
type greedyPool struct {
	domain.LiquidityEngine
}

func (greedyPool) PoolSwap(ctx context.Context, poolAddr, _ common.Address, _ bool, amountIn *big.Int, marketID common.Hash, cb domain.SwapCallback) (*big.Int, *big.Int, error) {
	err := cb.HandleSwapCallback(ctx, domain.SwapPayment{
		Sender:       poolAddr,
		Amount0Delta: new(big.Int).Set(amountIn),
		Amount1Delta: new(big.Int).Set(amountIn),
		MarketID:     marketID,
	})
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(amountIn), new(big.Int).Neg(amountIn), nil
}

func TestHandleSwapCallback_PaysOnlyInputLeg(t *testing.T) {
	f := newFixture(t, func(e domain.LiquidityEngine) domain.LiquidityEngine { return greedyPool{e} })
	ctx := context.Background()
	pool := f.ensurePool(t)
	f.add(t, alice, 1_000_000, 1_000_000)

	// Custody holds some of the output leg that must not leak to the pool.
	require.NoError(t, f.b.Transfer(ctx, bob, custodyAddr, big.NewInt(500)))
	poolA, poolB := bal(t, f.a, pool), bal(t, f.b, pool)

	_, err := f.custody.DirectSwap(ctx, bob, custody.SwapRequest{
		MarketID: marketID,
		TokenIn:  f.a.Address(),
		AmountIn: big.NewInt(100),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(500), bal(t, f.b, custodyAddr))
	assert.Equal(t, poolA, bal(t, f.a, pool))
	assert.Equal(t, poolB, bal(t, f.b, pool))
	assert.Equal(t, int64(10_000_000), bal(t, f.a, bob))
	assert.Equal(t, int64(0), bal(t, f.a, custodyAddr))
}

func TestEvents_AreAudited(t *testing.T) {
	f := newFixture(t, nil)
	f.ensurePool(t)
	f.add(t, alice, 100, 100)

	entries, err := f.audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, e.Event)
	}
	assert.ElementsMatch(t, []string{domain.EventPoolCreated, domain.EventLiquidityAdded}, kinds)
}
