package memengine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/claim"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// swapQuote is the outcome of an exact-input swap against p.
type swapQuote struct {
	amountOut *big.Int
	feeAmount *big.Int
	netIn     *big.Int
}

func quoteSwap(p *pool, zeroForOne bool, amountIn *big.Int) (swapQuote, error) {
	if p.sqrtPriceX96 == nil {
		return swapQuote{}, fmt.Errorf("memengine: swap %s: %w", p.addr.Hex(), errPoolNotInitialized)
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return swapQuote{}, fmt.Errorf("memengine: swap %s: %w", p.addr.Hex(), domain.ErrInvalidAmount)
	}
	if p.liquidity.Sign() == 0 {
		return swapQuote{}, fmt.Errorf("memengine: swap %s: %w", p.addr.Hex(), domain.ErrInsufficientLiquidity)
	}

	rIn, rOut := p.reserve0, p.reserve1
	if !zeroForOne {
		rIn, rOut = p.reserve1, p.reserve0
	}
	fee := mulDivUp(amountIn, big.NewInt(int64(p.key.fee)), feeDenominator)
	netIn := new(big.Int).Sub(amountIn, fee)
	out := mulDiv(rOut, netIn, new(big.Int).Add(rIn, netIn))
	if out.Sign() == 0 {
		return swapQuote{}, fmt.Errorf("memengine: swap %s: %w", p.addr.Hex(), domain.ErrInsufficientLiquidity)
	}
	return swapQuote{amountOut: out, feeAmount: fee, netIn: netIn}, nil
}

// apply books a quoted swap into reserves and fee growth.
func (q swapQuote) apply(p *pool, zeroForOne bool) {
	growth := new(big.Int).Lsh(q.feeAmount, 128)
	growth.Quo(growth, p.liquidity)
	if zeroForOne {
		p.reserve0.Add(p.reserve0, q.netIn)
		p.reserve1.Sub(p.reserve1, q.amountOut)
		p.feeGrowth0X128.Add(p.feeGrowth0X128, growth)
	} else {
		p.reserve1.Add(p.reserve1, q.netIn)
		p.reserve0.Sub(p.reserve0, q.amountOut)
		p.feeGrowth1X128.Add(p.feeGrowth1X128, growth)
	}
}

func (p *pool) tokens(zeroForOne bool) (in, out common.Address) {
	if zeroForOne {
		return p.key.token0, p.key.token1
	}
	return p.key.token1, p.key.token0
}

// QuoteExactIn returns the output of swapping amountIn without executing.
func (e *Engine) QuoteExactIn(_ context.Context, poolAddr common.Address, zeroForOne bool, amountIn *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(poolAddr)
	if err != nil {
		return nil, err
	}
	q, err := quoteSwap(p, zeroForOne, amountIn)
	if err != nil {
		return nil, err
	}
	return q.amountOut, nil
}

// SwapExactIn is the router path: input is pulled from the payer with the
// engine's allowance and output is sent to the recipient.
func (e *Engine) SwapExactIn(ctx context.Context, sp domain.ExactInParams) (*big.Int, error) {
	token0, token1 := claim.SortTokens(sp.TokenIn, sp.TokenOut)

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byKey[poolKey{token0, token1, sp.FeeTier}]
	if !ok {
		return nil, fmt.Errorf("memengine: swap %s->%s: %w", sp.TokenIn.Hex(), sp.TokenOut.Hex(), domain.ErrNotFound)
	}
	zeroForOne := sp.TokenIn == token0

	q, err := quoteSwap(p, zeroForOne, sp.AmountIn)
	if err != nil {
		return nil, err
	}
	if sp.MinAmountOut != nil && q.amountOut.Cmp(sp.MinAmountOut) < 0 {
		return nil, fmt.Errorf("memengine: swap out %s < min %s: %w", q.amountOut, sp.MinAmountOut, domain.ErrSlippageExceeded)
	}

	if err := e.pull(ctx, sp.TokenIn, sp.Payer, p.addr, sp.AmountIn); err != nil {
		return nil, err
	}
	if err := e.push(ctx, sp.TokenOut, p.addr, sp.Recipient, q.amountOut); err != nil {
		_ = e.push(ctx, sp.TokenIn, p.addr, sp.Payer, sp.AmountIn)
		return nil, err
	}
	q.apply(p, zeroForOne)
	return q.amountOut, nil
}

// PoolSwap is the pool-level path: output is sent first, then cb is asked
// to pay the input, then the pool verifies it was paid. Deltas are from the
// pool's point of view; positive is owed to the pool.
func (e *Engine) PoolSwap(ctx context.Context, poolAddr, recipient common.Address, zeroForOne bool, amountIn *big.Int, marketID common.Hash, cb domain.SwapCallback) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(poolAddr)
	if err != nil {
		return nil, nil, err
	}
	q, err := quoteSwap(p, zeroForOne, amountIn)
	if err != nil {
		return nil, nil, err
	}
	tokenIn, tokenOut := p.tokens(zeroForOne)

	inAsset, err := e.assets.Asset(tokenIn)
	if err != nil {
		return nil, nil, fmt.Errorf("memengine: %w", err)
	}
	before, err := inAsset.BalanceOf(ctx, p.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("memengine: balance %s: %w", inAsset.Symbol(), err)
	}

	if err := e.push(ctx, tokenOut, p.addr, recipient, q.amountOut); err != nil {
		return nil, nil, err
	}

	amount0 := new(big.Int).Set(amountIn)
	amount1 := new(big.Int).Neg(q.amountOut)
	if !zeroForOne {
		amount0, amount1 = amount1, amount0
	}
	payment := domain.SwapPayment{
		Sender:       p.addr,
		Amount0Delta: new(big.Int).Set(amount0),
		Amount1Delta: new(big.Int).Set(amount1),
		MarketID:     marketID,
	}
	if err := cb.HandleSwapCallback(ctx, payment); err != nil {
		_ = e.push(ctx, tokenOut, recipient, p.addr, q.amountOut)
		return nil, nil, fmt.Errorf("memengine: swap callback: %w", err)
	}

	after, err := inAsset.BalanceOf(ctx, p.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("memengine: balance %s: %w", inAsset.Symbol(), err)
	}
	if new(big.Int).Sub(after, before).Cmp(amountIn) < 0 {
		_ = e.push(ctx, tokenOut, recipient, p.addr, q.amountOut)
		return nil, nil, fmt.Errorf("memengine: swap %s: %w", p.addr.Hex(), domain.ErrPaymentShortfall)
	}

	q.apply(p, zeroForOne)
	return amount0, amount1, nil
}
