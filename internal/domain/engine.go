package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MintParams opens a new liquidity position. Tokens are pulled from Payer
// and the position is owned by Recipient.
type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	FeeTier        uint32
	TickLower      int32
	TickUpper      int32
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Payer          common.Address
	Recipient      common.Address
}

// LiquidityChange reports what the engine consumed for a mint or increase.
type LiquidityChange struct {
	Handle    PositionHandle
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// ExactInParams describes a routed swap.
type ExactInParams struct {
	TokenIn      common.Address
	TokenOut     common.Address
	FeeTier      uint32
	Payer        common.Address
	Recipient    common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// SwapPayment is the engine's request to be paid during a pool-level swap.
// Positive deltas are owed to the pool.
type SwapPayment struct {
	Sender       common.Address
	Amount0Delta *big.Int
	Amount1Delta *big.Int
	MarketID     common.Hash
}

// SwapCallback settles a pool-level swap.
type SwapCallback interface {
	HandleSwapCallback(ctx context.Context, p SwapPayment) error
}

// PoolState is the engine's view of a pool's reserves and price.
type PoolState struct {
	Pool         common.Address
	Token0       common.Address
	Token1       common.Address
	FeeTier      uint32
	SqrtPriceX96 *big.Int
	Reserve0     *big.Int
	Reserve1     *big.Int
	Liquidity    *big.Int
}

// LiquidityEngine creates pools, manages positions and executes swaps.
type LiquidityEngine interface {
	// Address is the account that pulls tokens on behalf of the engine.
	Address() common.Address
	CreatePool(ctx context.Context, token0, token1 common.Address, feeTier uint32) (common.Address, error)
	Initialize(ctx context.Context, pool common.Address, sqrtPriceX96 *big.Int) error
	MintPosition(ctx context.Context, p MintParams) (LiquidityChange, error)
	IncreaseLiquidity(ctx context.Context, payer common.Address, handle PositionHandle, amount0, amount1 *big.Int) (LiquidityChange, error)
	DecreaseLiquidity(ctx context.Context, owner common.Address, handle PositionHandle, liquidity, min0, min1 *big.Int) (amount0, amount1 *big.Int, err error)
	Collect(ctx context.Context, owner common.Address, handle PositionHandle, recipient common.Address) (amount0, amount1 *big.Int, err error)
	PositionLiquidity(ctx context.Context, handle PositionHandle) (*big.Int, error)
	QuoteDecrease(ctx context.Context, handle PositionHandle, liquidity *big.Int) (amount0, amount1 *big.Int, err error)
	PoolState(ctx context.Context, pool common.Address) (PoolState, error)
	QuoteExactIn(ctx context.Context, pool common.Address, zeroForOne bool, amountIn *big.Int) (*big.Int, error)
	SwapExactIn(ctx context.Context, p ExactInParams) (*big.Int, error)
	PoolSwap(ctx context.Context, pool, recipient common.Address, zeroForOne bool, amountIn *big.Int, marketID common.Hash, cb SwapCallback) (amount0, amount1 *big.Int, err error)
}
