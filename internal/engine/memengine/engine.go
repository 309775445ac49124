// Package memengine is an in-process liquidity engine. Pools are full-range
// constant-product pools priced from their reserves; positions accrue swap
// fees through Q128 fee-growth accumulators. Token movements go through the
// asset registry, so every pool holds real balances at its own address.
package memengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/claim"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

var (
	q128 = new(big.Int).Lsh(big.NewInt(1), 128)
	q192 = new(big.Int).Lsh(big.NewInt(1), 192)

	feeDenominator = big.NewInt(1_000_000)
)

var (
	errPoolExists         = errors.New("pool exists")
	errPoolNotInitialized = errors.New("pool not initialized")
	errUnsortedTokens     = errors.New("tokens not sorted")
)

// AddressSource hands out fresh pool addresses.
type AddressSource interface {
	Next() common.Address
}

type poolKey struct {
	token0, token1 common.Address
	fee            uint32
}

type pool struct {
	addr           common.Address
	key            poolKey
	sqrtPriceX96   *big.Int
	reserve0       *big.Int
	reserve1       *big.Int
	liquidity      *big.Int
	feeGrowth0X128 *big.Int
	feeGrowth1X128 *big.Int
}

type position struct {
	handle         domain.PositionHandle
	pool           *pool
	owner          common.Address
	liquidity      *big.Int
	feeGrowth0Last *big.Int
	feeGrowth1Last *big.Int
	tokensOwed0    *big.Int
	tokensOwed1    *big.Int
	tickLower      int32
	tickUpper      int32
}

// Engine implements domain.LiquidityEngine. Swap callbacks run with the
// engine lock held and must not call back into the engine.
type Engine struct {
	address common.Address
	assets  domain.AssetRegistry
	addrs   AddressSource

	mu         sync.Mutex
	pools      map[common.Address]*pool
	byKey      map[poolKey]*pool
	positions  map[domain.PositionHandle]*position
	nextHandle domain.PositionHandle
}

// New creates an Engine that pulls approved tokens as address.
func New(address common.Address, assets domain.AssetRegistry, addrs AddressSource) *Engine {
	return &Engine{
		address:    address,
		assets:     assets,
		addrs:      addrs,
		pools:      make(map[common.Address]*pool),
		byKey:      make(map[poolKey]*pool),
		positions:  make(map[domain.PositionHandle]*position),
		nextHandle: 1,
	}
}

var _ domain.LiquidityEngine = (*Engine)(nil)

// Address is the spender callers approve for mints and routed swaps.
func (e *Engine) Address() common.Address { return e.address }

// CreatePool registers a pool for a sorted token pair and fee tier.
func (e *Engine) CreatePool(_ context.Context, token0, token1 common.Address, feeTier uint32) (common.Address, error) {
	if token0 == token1 {
		return common.Address{}, fmt.Errorf("memengine: create pool: %w", domain.ErrTokensIdentical)
	}
	if lo, _ := claim.SortTokens(token0, token1); lo != token0 {
		return common.Address{}, fmt.Errorf("memengine: create pool: %w", errUnsortedTokens)
	}
	if !claim.ValidFeeTier(feeTier) {
		return common.Address{}, fmt.Errorf("memengine: create pool fee %d: %w", feeTier, domain.ErrInvalidFeeTier)
	}
	for _, t := range []common.Address{token0, token1} {
		if _, err := e.assets.Asset(t); err != nil {
			return common.Address{}, fmt.Errorf("memengine: create pool: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	key := poolKey{token0, token1, feeTier}
	if _, ok := e.byKey[key]; ok {
		return common.Address{}, fmt.Errorf("memengine: create pool %s/%s/%d: %w", token0.Hex(), token1.Hex(), feeTier, errPoolExists)
	}
	p := &pool{
		addr:           e.addrs.Next(),
		key:            key,
		reserve0:       new(big.Int),
		reserve1:       new(big.Int),
		liquidity:      new(big.Int),
		feeGrowth0X128: new(big.Int),
		feeGrowth1X128: new(big.Int),
	}
	e.pools[p.addr] = p
	e.byKey[key] = p
	return p.addr, nil
}

// Initialize sets the starting price of an empty pool.
func (e *Engine) Initialize(_ context.Context, poolAddr common.Address, sqrtPriceX96 *big.Int) error {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return fmt.Errorf("memengine: initialize %s: %w", poolAddr.Hex(), domain.ErrInvalidAmount)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(poolAddr)
	if err != nil {
		return err
	}
	if p.sqrtPriceX96 != nil {
		return fmt.Errorf("memengine: initialize %s: already initialized", poolAddr.Hex())
	}
	p.sqrtPriceX96 = new(big.Int).Set(sqrtPriceX96)
	return nil
}

// MintPosition opens a position owned by p.Recipient, funded by p.Payer.
func (e *Engine) MintPosition(ctx context.Context, mp domain.MintParams) (domain.LiquidityChange, error) {
	if mp.TickLower >= mp.TickUpper {
		return domain.LiquidityChange{}, fmt.Errorf("memengine: mint [%d,%d]: %w", mp.TickLower, mp.TickUpper, domain.ErrInvalidRange)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byKey[poolKey{mp.Token0, mp.Token1, mp.FeeTier}]
	if !ok {
		return domain.LiquidityChange{}, fmt.Errorf("memengine: mint: pool %s/%s/%d: %w", mp.Token0.Hex(), mp.Token1.Hex(), mp.FeeTier, domain.ErrNotFound)
	}

	pos := &position{
		pool:           p,
		owner:          mp.Recipient,
		liquidity:      new(big.Int),
		feeGrowth0Last: new(big.Int).Set(p.feeGrowth0X128),
		feeGrowth1Last: new(big.Int).Set(p.feeGrowth1X128),
		tokensOwed0:    new(big.Int),
		tokensOwed1:    new(big.Int),
		tickLower:      mp.TickLower,
		tickUpper:      mp.TickUpper,
	}
	change, err := e.addLiquidity(ctx, p, pos, mp.Payer, mp.Amount0Desired, mp.Amount1Desired)
	if err != nil {
		return domain.LiquidityChange{}, err
	}

	pos.handle = e.nextHandle
	e.nextHandle++
	e.positions[pos.handle] = pos
	change.Handle = pos.handle
	return change, nil
}

// IncreaseLiquidity adds to an existing position.
func (e *Engine) IncreaseLiquidity(ctx context.Context, payer common.Address, handle domain.PositionHandle, amount0, amount1 *big.Int) (domain.LiquidityChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.position(handle)
	if err != nil {
		return domain.LiquidityChange{}, err
	}
	change, err := e.addLiquidity(ctx, pos.pool, pos, payer, amount0, amount1)
	if err != nil {
		return domain.LiquidityChange{}, err
	}
	change.Handle = handle
	return change, nil
}

// addLiquidity requires e.mu held.
func (e *Engine) addLiquidity(ctx context.Context, p *pool, pos *position, payer common.Address, want0, want1 *big.Int) (domain.LiquidityChange, error) {
	if p.sqrtPriceX96 == nil {
		return domain.LiquidityChange{}, fmt.Errorf("memengine: add liquidity %s: %w", p.addr.Hex(), errPoolNotInitialized)
	}
	if want0 == nil || want1 == nil || want0.Sign() < 0 || want1.Sign() < 0 {
		return domain.LiquidityChange{}, fmt.Errorf("memengine: add liquidity: %w", domain.ErrInvalidAmount)
	}

	liq, used0, used1 := quoteAdd(p, want0, want1)
	if liq.Sign() == 0 {
		return domain.LiquidityChange{}, fmt.Errorf("memengine: add liquidity %s: %w", p.addr.Hex(), domain.ErrInsufficientLiquidity)
	}

	if err := e.pull(ctx, p.key.token0, payer, p.addr, used0); err != nil {
		return domain.LiquidityChange{}, err
	}
	if err := e.pull(ctx, p.key.token1, payer, p.addr, used1); err != nil {
		_ = e.push(ctx, p.key.token0, p.addr, payer, used0)
		return domain.LiquidityChange{}, err
	}

	accrue(pos)
	p.reserve0.Add(p.reserve0, used0)
	p.reserve1.Add(p.reserve1, used1)
	p.liquidity.Add(p.liquidity, liq)
	pos.liquidity.Add(pos.liquidity, liq)

	return domain.LiquidityChange{Liquidity: liq, Amount0: used0, Amount1: used1}, nil
}

// quoteAdd returns the liquidity minted and the amounts consumed for a
// deposit of at most (want0, want1).
func quoteAdd(p *pool, want0, want1 *big.Int) (liq, used0, used1 *big.Int) {
	if p.liquidity.Sign() == 0 {
		// Empty pool: deposit at the initialized price, amount1 = amount0 * P.
		priceX192 := new(big.Int).Mul(p.sqrtPriceX96, p.sqrtPriceX96)
		used0 = new(big.Int).Set(want0)
		used1 = mulDiv(want0, priceX192, q192)
		if used1.Cmp(want1) > 0 {
			used1 = new(big.Int).Set(want1)
			used0 = mulDiv(want1, q192, priceX192)
		}
		liq = new(big.Int).Sqrt(new(big.Int).Mul(used0, used1))
		return liq, used0, used1
	}

	l0 := mulDiv(want0, p.liquidity, p.reserve0)
	l1 := mulDiv(want1, p.liquidity, p.reserve1)
	liq = l0
	if l1.Cmp(l0) < 0 {
		liq = l1
	}
	used0 = mulDivUp(liq, p.reserve0, p.liquidity)
	used1 = mulDivUp(liq, p.reserve1, p.liquidity)
	return liq, used0, used1
}

// DecreaseLiquidity moves the position's share of reserves into its owed
// balances. Nothing leaves the pool until Collect.
func (e *Engine) DecreaseLiquidity(_ context.Context, owner common.Address, handle domain.PositionHandle, liquidity, min0, min1 *big.Int) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.position(handle)
	if err != nil {
		return nil, nil, err
	}
	if pos.owner != owner {
		return nil, nil, fmt.Errorf("memengine: decrease position %d: %w", handle, domain.ErrNotAuthorized)
	}
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, nil, fmt.Errorf("memengine: decrease position %d: %w", handle, domain.ErrInvalidAmount)
	}
	if liquidity.Cmp(pos.liquidity) > 0 {
		return nil, nil, fmt.Errorf("memengine: decrease position %d: %w", handle, domain.ErrInsufficientLiquidity)
	}

	p := pos.pool
	out0, out1 := quoteRemove(p, liquidity)
	if (min0 != nil && out0.Cmp(min0) < 0) || (min1 != nil && out1.Cmp(min1) < 0) {
		return nil, nil, fmt.Errorf("memengine: decrease position %d: %w", handle, domain.ErrSlippageExceeded)
	}

	accrue(pos)
	p.reserve0.Sub(p.reserve0, out0)
	p.reserve1.Sub(p.reserve1, out1)
	p.liquidity.Sub(p.liquidity, liquidity)
	pos.liquidity.Sub(pos.liquidity, liquidity)
	pos.tokensOwed0.Add(pos.tokensOwed0, out0)
	pos.tokensOwed1.Add(pos.tokensOwed1, out1)
	return out0, out1, nil
}

func quoteRemove(p *pool, liquidity *big.Int) (*big.Int, *big.Int) {
	if p.liquidity.Sign() == 0 {
		return new(big.Int), new(big.Int)
	}
	return mulDiv(liquidity, p.reserve0, p.liquidity), mulDiv(liquidity, p.reserve1, p.liquidity)
}

// Collect pays out everything the position is owed, fees included.
func (e *Engine) Collect(ctx context.Context, owner common.Address, handle domain.PositionHandle, recipient common.Address) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.position(handle)
	if err != nil {
		return nil, nil, err
	}
	if pos.owner != owner {
		return nil, nil, fmt.Errorf("memengine: collect position %d: %w", handle, domain.ErrNotAuthorized)
	}

	accrue(pos)
	owed0 := new(big.Int).Set(pos.tokensOwed0)
	owed1 := new(big.Int).Set(pos.tokensOwed1)
	if err := e.push(ctx, pos.pool.key.token0, pos.pool.addr, recipient, owed0); err != nil {
		return nil, nil, err
	}
	if err := e.push(ctx, pos.pool.key.token1, pos.pool.addr, recipient, owed1); err != nil {
		_ = e.push(ctx, pos.pool.key.token0, recipient, pos.pool.addr, owed0)
		return nil, nil, err
	}
	pos.tokensOwed0.SetInt64(0)
	pos.tokensOwed1.SetInt64(0)
	return owed0, owed1, nil
}

// PositionLiquidity returns the position's current liquidity.
func (e *Engine) PositionLiquidity(_ context.Context, handle domain.PositionHandle) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.position(handle)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(pos.liquidity), nil
}

// QuoteDecrease reports what DecreaseLiquidity would return right now.
func (e *Engine) QuoteDecrease(_ context.Context, handle domain.PositionHandle, liquidity *big.Int) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.position(handle)
	if err != nil {
		return nil, nil, err
	}
	a0, a1 := quoteRemove(pos.pool, liquidity)
	return a0, a1, nil
}

// PoolState returns a snapshot of the pool.
func (e *Engine) PoolState(_ context.Context, poolAddr common.Address) (domain.PoolState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(poolAddr)
	if err != nil {
		return domain.PoolState{}, err
	}
	st := domain.PoolState{
		Pool:      p.addr,
		Token0:    p.key.token0,
		Token1:    p.key.token1,
		FeeTier:   p.key.fee,
		Reserve0:  new(big.Int).Set(p.reserve0),
		Reserve1:  new(big.Int).Set(p.reserve1),
		Liquidity: new(big.Int).Set(p.liquidity),
	}
	if p.sqrtPriceX96 != nil {
		st.SqrtPriceX96 = new(big.Int).Set(p.sqrtPriceX96)
	}
	return st, nil
}

func (e *Engine) pool(addr common.Address) (*pool, error) {
	p, ok := e.pools[addr]
	if !ok {
		return nil, fmt.Errorf("memengine: pool %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

func (e *Engine) position(handle domain.PositionHandle) (*position, error) {
	pos, ok := e.positions[handle]
	if !ok {
		return nil, fmt.Errorf("memengine: position %d: %w", handle, domain.ErrNotFound)
	}
	return pos, nil
}

// pull moves approved tokens from payer into the pool.
func (e *Engine) pull(ctx context.Context, tok, payer, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	a, err := e.assets.Asset(tok)
	if err != nil {
		return fmt.Errorf("memengine: %w", err)
	}
	if err := a.TransferFrom(ctx, e.address, payer, to, amount); err != nil {
		return fmt.Errorf("memengine: pull %s: %w", a.Symbol(), err)
	}
	return nil
}

// push pays tokens out of from.
func (e *Engine) push(ctx context.Context, tok, from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	a, err := e.assets.Asset(tok)
	if err != nil {
		return fmt.Errorf("memengine: %w", err)
	}
	if err := a.Transfer(ctx, from, to, amount); err != nil {
		return fmt.Errorf("memengine: pay %s: %w", a.Symbol(), err)
	}
	return nil
}

// accrue credits fees earned since the position was last touched.
func accrue(pos *position) {
	p := pos.pool
	d0 := new(big.Int).Sub(p.feeGrowth0X128, pos.feeGrowth0Last)
	d1 := new(big.Int).Sub(p.feeGrowth1X128, pos.feeGrowth1Last)
	pos.tokensOwed0.Add(pos.tokensOwed0, mulDiv(pos.liquidity, d0, q128))
	pos.tokensOwed1.Add(pos.tokensOwed1, mulDiv(pos.liquidity, d1, q128))
	pos.feeGrowth0Last.Set(p.feeGrowth0X128)
	pos.feeGrowth1Last.Set(p.feeGrowth1X128)
}

func mulDiv(a, b, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

func mulDivUp(a, b, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
