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

// AddLiquidityRequest deposits into the (User, MarketID) position.
type AddLiquidityRequest struct {
	MarketID  common.Hash
	User      common.Address
	AmountA   *big.Int
	AmountB   *big.Int
	TickLower int32
	TickUpper int32
}

// LiquidityResult reports the position after a deposit. AmountA and AmountB
// are what the engine consumed; the refunds went back to the payer.
type LiquidityResult struct {
	Handle    domain.PositionHandle
	Liquidity *big.Int
	AmountA   *big.Int
	AmountB   *big.Int
	RefundA   *big.Int
	RefundB   *big.Int
	Created   bool
}

// AddLiquidity pulls both amounts from payer into custody, mints a new
// position or increases the existing one for req.User, and refunds to payer
// whatever the engine did not consume.
func (c *Custodian) AddLiquidity(ctx context.Context, payer common.Address, req AddLiquidityRequest) (LiquidityResult, error) {
	if !nonNegative(req.AmountA) || !nonNegative(req.AmountB) || (req.AmountA.Sign() == 0 && req.AmountB.Sign() == 0) {
		return LiquidityResult{}, fmt.Errorf("custody: add liquidity: %w", domain.ErrInvalidAmount)
	}

	unlock, err := c.lock(ctx, req.MarketID)
	if err != nil {
		return LiquidityResult{}, err
	}
	defer unlock()

	rec, err := c.activePool(ctx, req.MarketID)
	if err != nil {
		return LiquidityResult{}, err
	}
	tokA, err := c.asset(rec.TokenA)
	if err != nil {
		return LiquidityResult{}, err
	}
	tokB, err := c.asset(rec.TokenB)
	if err != nil {
		return LiquidityResult{}, err
	}

	existing, err := c.positions.Get(ctx, req.User, req.MarketID)
	hasPosition := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return LiquidityResult{}, fmt.Errorf("custody: get position: %w", err)
	}

	if err := c.pullFrom(ctx, tokA, payer, req.AmountA); err != nil {
		return LiquidityResult{}, err
	}
	if err := c.pullFrom(ctx, tokB, payer, req.AmountB); err != nil {
		c.refund(ctx, tokA, payer, req.AmountA)
		return LiquidityResult{}, err
	}

	unwind := func() {
		c.resetApprovals(ctx, tokA, tokB)
		c.refund(ctx, tokA, payer, req.AmountA)
		c.refund(ctx, tokB, payer, req.AmountB)
	}
	if err := c.approveEngine(ctx, tokA, tokB, req.AmountA, req.AmountB); err != nil {
		unwind()
		return LiquidityResult{}, err
	}

	var change domain.LiquidityChange
	if hasPosition {
		change, err = c.engine.IncreaseLiquidity(ctx, c.address, existing.Handle, req.AmountA, req.AmountB)
	} else {
		change, err = c.engine.MintPosition(ctx, domain.MintParams{
			Token0:         rec.TokenA,
			Token1:         rec.TokenB,
			FeeTier:        rec.FeeTier,
			TickLower:      req.TickLower,
			TickUpper:      req.TickUpper,
			Amount0Desired: req.AmountA,
			Amount1Desired: req.AmountB,
			Payer:          c.address,
			Recipient:      c.address,
		})
	}
	if err != nil {
		unwind()
		return LiquidityResult{}, fmt.Errorf("custody: deposit into market %s: %w", req.MarketID.Hex(), err)
	}
	c.resetApprovals(ctx, tokA, tokB)

	now := c.now().UTC()
	if hasPosition {
		if err := c.positions.Touch(ctx, req.User, req.MarketID, now); err != nil {
			c.logger.WarnContext(ctx, "custody: touch position failed",
				slog.String("market_id", req.MarketID.Hex()),
				slog.String("error", err.Error()),
			)
		}
	} else {
		pos := domain.Position{User: req.User, MarketID: req.MarketID, Handle: change.Handle, CreatedAt: now, UpdatedAt: now}
		if err := c.positions.Create(ctx, pos); err != nil {
			c.unwindMint(ctx, change, payer)
			c.refund(ctx, tokA, payer, new(big.Int).Sub(req.AmountA, change.Amount0))
			c.refund(ctx, tokB, payer, new(big.Int).Sub(req.AmountB, change.Amount1))
			return LiquidityResult{}, fmt.Errorf("custody: record position: %w", err)
		}
	}

	refundA := new(big.Int).Sub(req.AmountA, change.Amount0)
	refundB := new(big.Int).Sub(req.AmountB, change.Amount1)
	if err := c.pay(ctx, tokA, payer, refundA); err != nil {
		return LiquidityResult{}, err
	}
	if err := c.pay(ctx, tokB, payer, refundB); err != nil {
		return LiquidityResult{}, err
	}

	total, err := c.engine.PositionLiquidity(ctx, change.Handle)
	if err != nil {
		return LiquidityResult{}, fmt.Errorf("custody: position %d liquidity: %w", change.Handle, err)
	}

	c.journal.Record(ctx, domain.ChannelLiquidity, domain.Event{
		Type:     domain.EventLiquidityAdded,
		MarketID: req.MarketID.Hex(),
		Actor:    req.User.Hex(),
		Fields: map[string]string{
			"handle":    fmt.Sprint(change.Handle),
			"liquidity": change.Liquidity.String(),
			"amount_a":  change.Amount0.String(),
			"amount_b":  change.Amount1.String(),
			"refund_a":  refundA.String(),
			"refund_b":  refundB.String(),
		},
	})
	c.logger.InfoContext(ctx, "custody: liquidity added",
		slog.String("market_id", req.MarketID.Hex()),
		slog.String("user", req.User.Hex()),
		slog.Uint64("handle", uint64(change.Handle)),
		slog.Bool("created", !hasPosition),
	)

	return LiquidityResult{
		Handle:    change.Handle,
		Liquidity: total,
		AmountA:   change.Amount0,
		AmountB:   change.Amount1,
		RefundA:   refundA,
		RefundB:   refundB,
		Created:   !hasPosition,
	}, nil
}

// unwindMint withdraws a freshly minted position that could not be recorded
// and returns its tokens to payer.
func (c *Custodian) unwindMint(ctx context.Context, change domain.LiquidityChange, payer common.Address) {
	if _, _, err := c.engine.DecreaseLiquidity(ctx, c.address, change.Handle, change.Liquidity, nil, nil); err != nil {
		c.logger.ErrorContext(ctx, "custody: unwind position failed", slog.Uint64("handle", uint64(change.Handle)), slog.String("error", err.Error()))
		return
	}
	if _, _, err := c.engine.Collect(ctx, c.address, change.Handle, payer); err != nil {
		c.logger.ErrorContext(ctx, "custody: unwind collect failed", slog.Uint64("handle", uint64(change.Handle)), slog.String("error", err.Error()))
	}
}

func (c *Custodian) approveEngine(ctx context.Context, tokA, tokB domain.Asset, amountA, amountB *big.Int) error {
	if err := tokA.Approve(ctx, c.address, c.engine.Address(), amountA); err != nil {
		return fmt.Errorf("custody: approve %s: %w", tokA.Symbol(), err)
	}
	if err := tokB.Approve(ctx, c.address, c.engine.Address(), amountB); err != nil {
		return fmt.Errorf("custody: approve %s: %w", tokB.Symbol(), err)
	}
	return nil
}

func (c *Custodian) resetApprovals(ctx context.Context, assets ...domain.Asset) {
	for _, a := range assets {
		if err := a.Approve(ctx, c.address, c.engine.Address(), new(big.Int)); err != nil {
			c.logger.WarnContext(ctx, "custody: reset approval failed",
				slog.String("token", a.Symbol()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RemoveLiquidityRequest withdraws from the caller's position.
type RemoveLiquidityRequest struct {
	MarketID  common.Hash
	Liquidity *big.Int
	MinA      *big.Int
	MinB      *big.Int
}

// RemoveResult reports the principal released and everything collected,
// trading fees included.
type RemoveResult struct {
	DecreasedA *big.Int
	DecreasedB *big.Int
	CollectedA *big.Int
	CollectedB *big.Int
}

// RemoveLiquidity decreases user's position and collects everything owed
// straight to user.
func (c *Custodian) RemoveLiquidity(ctx context.Context, user common.Address, req RemoveLiquidityRequest) (RemoveResult, error) {
	if req.Liquidity == nil || req.Liquidity.Sign() <= 0 {
		return RemoveResult{}, fmt.Errorf("custody: remove liquidity: %w", domain.ErrInvalidAmount)
	}

	unlock, err := c.lock(ctx, req.MarketID)
	if err != nil {
		return RemoveResult{}, err
	}
	defer unlock()

	pos, err := c.positions.Get(ctx, user, req.MarketID)
	if errors.Is(err, domain.ErrNotFound) {
		return RemoveResult{}, fmt.Errorf("custody: remove liquidity %s/%s: %w", user.Hex(), req.MarketID.Hex(), domain.ErrNoPosition)
	}
	if err != nil {
		return RemoveResult{}, fmt.Errorf("custody: get position: %w", err)
	}

	have, err := c.engine.PositionLiquidity(ctx, pos.Handle)
	if err != nil {
		return RemoveResult{}, fmt.Errorf("custody: position %d liquidity: %w", pos.Handle, err)
	}
	if have.Cmp(req.Liquidity) < 0 {
		return RemoveResult{}, fmt.Errorf("custody: remove %s of %s: %w", req.Liquidity, have, domain.ErrInsufficientLiquidity)
	}

	quoteA, quoteB, err := c.engine.QuoteDecrease(ctx, pos.Handle, req.Liquidity)
	if err != nil {
		return RemoveResult{}, fmt.Errorf("custody: quote decrease: %w", err)
	}
	if (req.MinA != nil && quoteA.Cmp(req.MinA) < 0) || (req.MinB != nil && quoteB.Cmp(req.MinB) < 0) {
		return RemoveResult{}, fmt.Errorf("custody: remove liquidity quote (%s,%s) below minimum: %w", quoteA, quoteB, domain.ErrSlippageExceeded)
	}

	decA, decB, err := c.engine.DecreaseLiquidity(ctx, c.address, pos.Handle, req.Liquidity, req.MinA, req.MinB)
	if err != nil {
		return RemoveResult{}, fmt.Errorf("custody: decrease position %d: %w", pos.Handle, err)
	}
	colA, colB, err := c.engine.Collect(ctx, c.address, pos.Handle, user)
	if err != nil {
		return RemoveResult{}, fmt.Errorf("custody: collect position %d: %w", pos.Handle, err)
	}
	if err := c.positions.Touch(ctx, user, req.MarketID, c.now().UTC()); err != nil {
		c.logger.WarnContext(ctx, "custody: touch position failed", slog.String("error", err.Error()))
	}

	c.journal.Record(ctx, domain.ChannelLiquidity, domain.Event{
		Type:     domain.EventLiquidityRemoved,
		MarketID: req.MarketID.Hex(),
		Actor:    user.Hex(),
		Fields: map[string]string{
			"handle":      fmt.Sprint(pos.Handle),
			"liquidity":   req.Liquidity.String(),
			"decreased_a": decA.String(),
			"decreased_b": decB.String(),
			"collected_a": colA.String(),
			"collected_b": colB.String(),
		},
	})
	c.logger.InfoContext(ctx, "custody: liquidity removed",
		slog.String("market_id", req.MarketID.Hex()),
		slog.String("user", user.Hex()),
		slog.String("liquidity", req.Liquidity.String()),
	)

	return RemoveResult{DecreasedA: decA, DecreasedB: decB, CollectedA: colA, CollectedB: colB}, nil
}
