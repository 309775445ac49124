package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// SwapRequest swaps an exact input of one market leg for the other.
type SwapRequest struct {
	MarketID     common.Hash
	TokenIn      common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// SwapResult reports a completed swap.
type SwapResult struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Direct    bool
}

func (c *Custodian) swapLegs(rec domain.PoolRecord, tokenIn common.Address) (common.Address, bool, error) {
	switch tokenIn {
	case rec.TokenA:
		return rec.TokenB, true, nil
	case rec.TokenB:
		return rec.TokenA, false, nil
	}
	return common.Address{}, false, fmt.Errorf("custody: token %s is not a leg of market %s: %w", tokenIn.Hex(), rec.MarketID.Hex(), domain.ErrInvalidAmount)
}

func validSwap(req SwapRequest) error {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return fmt.Errorf("custody: swap: %w", domain.ErrInvalidAmount)
	}
	if req.MinAmountOut != nil && req.MinAmountOut.Sign() < 0 {
		return fmt.Errorf("custody: swap min out: %w", domain.ErrInvalidAmount)
	}
	return nil
}

// Swap routes an exact-input swap through the engine. Input is pulled from
// caller into custody first and output is delivered to caller.
func (c *Custodian) Swap(ctx context.Context, caller common.Address, req SwapRequest) (SwapResult, error) {
	if err := validSwap(req); err != nil {
		return SwapResult{}, err
	}
	unlock, err := c.lock(ctx, req.MarketID)
	if err != nil {
		return SwapResult{}, err
	}
	defer unlock()

	rec, err := c.activePool(ctx, req.MarketID)
	if err != nil {
		return SwapResult{}, err
	}
	tokenOut, _, err := c.swapLegs(rec, req.TokenIn)
	if err != nil {
		return SwapResult{}, err
	}
	in, err := c.asset(req.TokenIn)
	if err != nil {
		return SwapResult{}, err
	}

	if err := c.pullFrom(ctx, in, caller, req.AmountIn); err != nil {
		return SwapResult{}, err
	}
	if err := in.Approve(ctx, c.address, c.engine.Address(), req.AmountIn); err != nil {
		c.refund(ctx, in, caller, req.AmountIn)
		return SwapResult{}, fmt.Errorf("custody: approve %s: %w", in.Symbol(), err)
	}
	out, err := c.engine.SwapExactIn(ctx, domain.ExactInParams{
		TokenIn:      req.TokenIn,
		TokenOut:     tokenOut,
		FeeTier:      rec.FeeTier,
		Payer:        c.address,
		Recipient:    caller,
		AmountIn:     req.AmountIn,
		MinAmountOut: req.MinAmountOut,
	})
	c.resetApprovals(ctx, in)
	if err != nil {
		c.refund(ctx, in, caller, req.AmountIn)
		return SwapResult{}, fmt.Errorf("custody: swap in market %s: %w", req.MarketID.Hex(), err)
	}

	res := SwapResult{TokenIn: req.TokenIn, TokenOut: tokenOut, AmountIn: new(big.Int).Set(req.AmountIn), AmountOut: out}
	c.recordSwap(ctx, req.MarketID, caller, res)
	return res, nil
}

// DirectSwap swaps against the market's pool at the pool level. The pool
// sends output first and calls back HandleSwapCallback for payment, which
// custody covers from the input it pulled from caller beforehand.
func (c *Custodian) DirectSwap(ctx context.Context, caller common.Address, req SwapRequest) (SwapResult, error) {
	if err := validSwap(req); err != nil {
		return SwapResult{}, err
	}
	unlock, err := c.lock(ctx, req.MarketID)
	if err != nil {
		return SwapResult{}, err
	}
	defer unlock()

	rec, err := c.activePool(ctx, req.MarketID)
	if err != nil {
		return SwapResult{}, err
	}
	tokenOut, zeroForOne, err := c.swapLegs(rec, req.TokenIn)
	if err != nil {
		return SwapResult{}, err
	}

	quote, err := c.engine.QuoteExactIn(ctx, rec.Pool, zeroForOne, req.AmountIn)
	if err != nil {
		return SwapResult{}, fmt.Errorf("custody: quote swap in market %s: %w", req.MarketID.Hex(), err)
	}
	if req.MinAmountOut != nil && quote.Cmp(req.MinAmountOut) < 0 {
		return SwapResult{}, fmt.Errorf("custody: swap quote %s < min %s: %w", quote, req.MinAmountOut, domain.ErrSlippageExceeded)
	}

	in, err := c.asset(req.TokenIn)
	if err != nil {
		return SwapResult{}, err
	}
	if err := c.pullFrom(ctx, in, caller, req.AmountIn); err != nil {
		return SwapResult{}, err
	}

	c.inflightMu.Lock()
	c.inflight[rec.Pool] = &reservation{token: req.TokenIn, left: new(big.Int).Set(req.AmountIn)}
	c.inflightMu.Unlock()

	amount0, amount1, err := c.engine.PoolSwap(ctx, rec.Pool, caller, zeroForOne, req.AmountIn, req.MarketID, c)

	c.inflightMu.Lock()
	left := c.inflight[rec.Pool].left
	delete(c.inflight, rec.Pool)
	c.inflightMu.Unlock()

	if err != nil {
		// Whatever the callback did not hand to the pool is still in custody.
		c.refund(ctx, in, caller, left)
		return SwapResult{}, fmt.Errorf("custody: direct swap in market %s: %w", req.MarketID.Hex(), err)
	}

	out := new(big.Int).Neg(amount1)
	if !zeroForOne {
		out = new(big.Int).Neg(amount0)
	}
	res := SwapResult{TokenIn: req.TokenIn, TokenOut: tokenOut, AmountIn: new(big.Int).Set(req.AmountIn), AmountOut: out, Direct: true}
	c.recordSwap(ctx, req.MarketID, caller, res)
	return res, nil
}

var _ domain.SwapCallback = (*Custodian)(nil)

// HandleSwapCallback pays a pool for a swap custody initiated. The sender
// must be the pool registered for p.MarketID and custody must have a swap in
// flight against it; anything else is rejected before any transfer.
func (c *Custodian) HandleSwapCallback(ctx context.Context, p domain.SwapPayment) error {
	rec, err := c.pools.GetByPool(ctx, p.Sender)
	if errors.Is(err, domain.ErrNotFound) {
		c.logger.WarnContext(ctx, "custody: swap callback from unknown pool", slog.String("sender", p.Sender.Hex()))
		return fmt.Errorf("custody: swap callback from %s: %w", p.Sender.Hex(), domain.ErrUnknownCallbackSource)
	}
	if err != nil {
		return fmt.Errorf("custody: swap callback: %w", err)
	}
	if rec.MarketID != p.MarketID {
		return fmt.Errorf("custody: swap callback from %s for market %s: %w", p.Sender.Hex(), p.MarketID.Hex(), domain.ErrUnknownCallbackSource)
	}

	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	r, ok := c.inflight[p.Sender]
	if !ok {
		return fmt.Errorf("custody: swap callback from %s with no swap in flight: %w", p.Sender.Hex(), domain.ErrUnknownCallbackSource)
	}

	// Only the input leg was set aside; the pool owes custody the other one.
	owed, other := p.Amount0Delta, p.Amount1Delta
	if r.token == rec.TokenB {
		owed, other = p.Amount1Delta, p.Amount0Delta
	}
	if other != nil && other.Sign() > 0 {
		c.logger.WarnContext(ctx, "custody: swap callback asks for the output leg",
			slog.String("pool", p.Sender.Hex()),
			slog.String("amount", other.String()),
		)
		return fmt.Errorf("custody: swap callback asks %s of the output leg: %w", other, domain.ErrInsufficientBalance)
	}
	if owed == nil || owed.Sign() <= 0 {
		return nil
	}
	if owed.Cmp(r.left) > 0 {
		return fmt.Errorf("custody: swap callback asks %s, reserved %s: %w", owed, r.left, domain.ErrInsufficientBalance)
	}
	a, err := c.asset(r.token)
	if err != nil {
		return err
	}
	if err := c.pay(ctx, a, p.Sender, owed); err != nil {
		return err
	}
	r.left.Sub(r.left, owed)
	return nil
}

func (c *Custodian) recordSwap(ctx context.Context, marketID common.Hash, caller common.Address, res SwapResult) {
	c.journal.Record(ctx, domain.ChannelLiquidity, domain.Event{
		Type:     domain.EventSwapExecuted,
		MarketID: marketID.Hex(),
		Actor:    caller.Hex(),
		Fields: map[string]string{
			"token_in":   res.TokenIn.Hex(),
			"token_out":  res.TokenOut.Hex(),
			"amount_in":  res.AmountIn.String(),
			"amount_out": res.AmountOut.String(),
			"direct":     fmt.Sprint(res.Direct),
		},
	})
	c.logger.InfoContext(ctx, "custody: swap executed",
		slog.String("market_id", marketID.Hex()),
		slog.String("caller", caller.Hex()),
		slog.String("amount_in", res.AmountIn.String()),
		slog.String("amount_out", res.AmountOut.String()),
		slog.Bool("direct", res.Direct),
	)
}
