// Package custody implements the position custodian: it creates one pool per
// market, holds every liquidity position in custody on behalf of its user,
// refunds whatever the engine does not consume and pays pool-level swap
// callbacks only to pools it registered itself.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/claim"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/journal"
)

const defaultLockTTL = 30 * time.Second

// Config configures a Custodian.
type Config struct {
	// Address is the account that holds custody balances and owns positions.
	Address common.Address
	LockTTL time.Duration
}

// Custodian implements the position custodian.
type Custodian struct {
	address   common.Address
	lockTTL   time.Duration
	engine    domain.LiquidityEngine
	assets    domain.AssetRegistry
	pools     domain.PoolStore
	positions domain.PositionStore
	locks     domain.LockManager
	journal   *journal.Journal
	logger    *slog.Logger
	now       func() time.Time

	// inflight holds, per pool, the input custody has set aside for a direct
	// swap currently waiting on its payment callback.
	inflightMu sync.Mutex
	inflight   map[common.Address]*reservation
}

// reservation is the unpaid part of a direct swap's input.
type reservation struct {
	token common.Address
	left  *big.Int
}

// New creates a Custodian.
func New(
	cfg Config,
	engine domain.LiquidityEngine,
	assets domain.AssetRegistry,
	pools domain.PoolStore,
	positions domain.PositionStore,
	locks domain.LockManager,
	j *journal.Journal,
	logger *slog.Logger,
) *Custodian {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Custodian{
		address:   cfg.Address,
		lockTTL:   ttl,
		engine:    engine,
		assets:    assets,
		pools:     pools,
		positions: positions,
		locks:     locks,
		journal:   j,
		logger:    logger.With(slog.String("component", "custody")),
		now:       time.Now,
		inflight:  make(map[common.Address]*reservation),
	}
}

// Address is the custody account. Depositors approve it before AddLiquidity
// and swaps.
func (c *Custodian) Address() common.Address { return c.address }

func (c *Custodian) lock(ctx context.Context, marketID common.Hash) (func(), error) {
	unlock, err := c.locks.Acquire(ctx, "custody:"+marketID.Hex(), c.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("custody: lock market %s: %w", marketID.Hex(), err)
	}
	return unlock, nil
}

// EnsurePool creates and initializes the market's pool at a 1:1 price.
func (c *Custodian) EnsurePool(ctx context.Context, tokenA, tokenB common.Address, feeTier uint32, marketID common.Hash) (common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, fmt.Errorf("custody: ensure pool %s: %w", marketID.Hex(), domain.ErrTokensIdentical)
	}
	unlock, err := c.lock(ctx, marketID)
	if err != nil {
		return common.Address{}, err
	}
	defer unlock()

	if _, err := c.pools.GetByMarket(ctx, marketID); err == nil {
		return common.Address{}, fmt.Errorf("custody: ensure pool %s: %w", marketID.Hex(), domain.ErrPoolAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return common.Address{}, fmt.Errorf("custody: ensure pool %s: %w", marketID.Hex(), err)
	}

	token0, token1 := claim.SortTokens(tokenA, tokenB)
	pool, err := c.engine.CreatePool(ctx, token0, token1, feeTier)
	if err != nil {
		return common.Address{}, fmt.Errorf("custody: ensure pool %s: %w: %w", marketID.Hex(), domain.ErrPoolCreationFailed, err)
	}
	if err := c.engine.Initialize(ctx, pool, claim.StartingSqrtPriceX96()); err != nil {
		return common.Address{}, fmt.Errorf("custody: initialize pool %s: %w: %w", pool.Hex(), domain.ErrPoolCreationFailed, err)
	}

	rec := domain.PoolRecord{
		MarketID:    marketID,
		Pool:        pool,
		TokenA:      token0,
		TokenB:      token1,
		FeeTier:     feeTier,
		Initialized: true,
		CreatedAt:   c.now().UTC(),
	}
	if err := c.pools.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return common.Address{}, fmt.Errorf("custody: ensure pool %s: %w", marketID.Hex(), domain.ErrPoolAlreadyExists)
		}
		return common.Address{}, fmt.Errorf("custody: record pool %s: %w", marketID.Hex(), err)
	}

	c.journal.Record(ctx, domain.ChannelLiquidity, domain.Event{
		Type:     domain.EventPoolCreated,
		MarketID: marketID.Hex(),
		Fields: map[string]string{
			"pool":     pool.Hex(),
			"token_a":  token0.Hex(),
			"token_b":  token1.Hex(),
			"fee_tier": fmt.Sprint(feeTier),
		},
	})
	c.logger.InfoContext(ctx, "custody: pool created",
		slog.String("market_id", marketID.Hex()),
		slog.String("pool", pool.Hex()),
		slog.Int("fee_tier", int(feeTier)),
	)
	return pool, nil
}

// activePool returns the market's pool or domain.ErrPoolNotActive.
func (c *Custodian) activePool(ctx context.Context, marketID common.Hash) (domain.PoolRecord, error) {
	rec, err := c.pools.GetByMarket(ctx, marketID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PoolRecord{}, fmt.Errorf("custody: market %s: %w", marketID.Hex(), domain.ErrPoolNotActive)
	}
	if err != nil {
		return domain.PoolRecord{}, fmt.Errorf("custody: get pool %s: %w", marketID.Hex(), err)
	}
	if !rec.Initialized {
		return domain.PoolRecord{}, fmt.Errorf("custody: market %s: %w", marketID.Hex(), domain.ErrPoolNotActive)
	}
	return rec, nil
}

// Pool returns the market's pool record.
func (c *Custodian) Pool(ctx context.Context, marketID common.Hash) (domain.PoolRecord, error) {
	rec, err := c.pools.GetByMarket(ctx, marketID)
	if err != nil {
		return domain.PoolRecord{}, fmt.Errorf("custody: get pool %s: %w", marketID.Hex(), err)
	}
	return rec, nil
}

// PoolState returns the engine's reserves and price for the market's pool.
func (c *Custodian) PoolState(ctx context.Context, marketID common.Hash) (domain.PoolState, error) {
	rec, err := c.Pool(ctx, marketID)
	if err != nil {
		return domain.PoolState{}, err
	}
	st, err := c.engine.PoolState(ctx, rec.Pool)
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("custody: pool state %s: %w", marketID.Hex(), err)
	}
	return st, nil
}

// Position returns the user's position in a market with its live liquidity.
func (c *Custodian) Position(ctx context.Context, user common.Address, marketID common.Hash) (domain.PositionView, error) {
	pos, err := c.positions.Get(ctx, user, marketID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PositionView{}, fmt.Errorf("custody: position %s/%s: %w", user.Hex(), marketID.Hex(), domain.ErrNoPosition)
	}
	if err != nil {
		return domain.PositionView{}, fmt.Errorf("custody: position %s/%s: %w", user.Hex(), marketID.Hex(), err)
	}
	liq, err := c.engine.PositionLiquidity(ctx, pos.Handle)
	if err != nil {
		return domain.PositionView{}, fmt.Errorf("custody: position %d liquidity: %w", pos.Handle, err)
	}
	return domain.PositionView{Position: pos, Liquidity: liq}, nil
}

// Positions lists every position held for user.
func (c *Custodian) Positions(ctx context.Context, user common.Address) ([]domain.PositionView, error) {
	list, err := c.positions.ListByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("custody: list positions %s: %w", user.Hex(), err)
	}
	out := make([]domain.PositionView, 0, len(list))
	for _, pos := range list {
		liq, err := c.engine.PositionLiquidity(ctx, pos.Handle)
		if err != nil {
			return nil, fmt.Errorf("custody: position %d liquidity: %w", pos.Handle, err)
		}
		out = append(out, domain.PositionView{Position: pos, Liquidity: liq})
	}
	return out, nil
}

func (c *Custodian) asset(addr common.Address) (domain.Asset, error) {
	a, err := c.assets.Asset(addr)
	if err != nil {
		return nil, fmt.Errorf("custody: %w", err)
	}
	return a, nil
}

// pullFrom moves amount from owner into custody using custody's allowance.
func (c *Custodian) pullFrom(ctx context.Context, a domain.Asset, owner common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := a.TransferFrom(ctx, c.address, owner, c.address, amount); err != nil {
		return fmt.Errorf("custody: pull %s %s from %s: %w", amount, a.Symbol(), owner.Hex(), err)
	}
	return nil
}

// pay moves amount out of custody.
func (c *Custodian) pay(ctx context.Context, a domain.Asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := a.Transfer(ctx, c.address, to, amount); err != nil {
		return fmt.Errorf("custody: pay %s %s to %s: %w", amount, a.Symbol(), to.Hex(), err)
	}
	return nil
}

// refund pays amount back and logs, rather than returns, a failure. Used on
// paths that are already returning an error.
func (c *Custodian) refund(ctx context.Context, a domain.Asset, to common.Address, amount *big.Int) {
	if err := c.pay(ctx, a, to, amount); err != nil {
		c.logger.ErrorContext(ctx, "custody: refund failed",
			slog.String("to", to.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
	}
}

func nonNegative(v *big.Int) bool { return v != nil && v.Sign() >= 0 }
