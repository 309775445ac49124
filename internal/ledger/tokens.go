package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/claim"
	"github.com/alanyoungcy/outcomeledger/internal/custody"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// LiquidityReceipt reports CreateOutcomeTokensWithLiquidity. Deposited is
// what the pool consumed into the caller's position; Returned is what the
// caller received directly.
type LiquidityReceipt struct {
	Handle     domain.PositionHandle
	Liquidity  *big.Int
	Deposited1 *big.Int
	Deposited2 *big.Int
	Returned1  *big.Int
	Returned2  *big.Int
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// MintOutcomeTokens pulls amount of collateral from caller and mints amount
// of each leg to caller.
func (l *Ledger) MintOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return fmt.Errorf("ledger: mint: %w", err)
	}
	unlock, err := l.lock(ctx, marketID)
	if err != nil {
		return err
	}
	defer unlock()

	m, err := l.market(ctx, marketID)
	if err != nil {
		return err
	}
	h, err := l.outcomeHandles(marketID)
	if err != nil {
		return err
	}
	coll, err := l.collateral()
	if err != nil {
		return err
	}

	if err := l.pull(ctx, coll, caller, amount); err != nil {
		return err
	}
	if err := l.mintPair(ctx, h, caller, amount); err != nil {
		l.compensate(ctx, "refund collateral", l.pay(ctx, coll, caller, amount))
		return err
	}

	m.Collateral = new(big.Int).Add(m.Collateral, amount)
	if err := l.markets.Update(ctx, m); err != nil {
		l.compensate(ctx, "burn pair", l.burnPair(ctx, h, caller, amount))
		l.compensate(ctx, "refund collateral", l.pay(ctx, coll, caller, amount))
		return fmt.Errorf("ledger: update market %s: %w", marketID.Hex(), err)
	}

	l.journal.Record(ctx, domain.ChannelMarkets, domain.Event{
		Type:     domain.EventTokensCreated,
		MarketID: marketID.Hex(),
		Actor:    caller.Hex(),
		Fields:   map[string]string{"amount": amount.String()},
	})
	l.logger.InfoContext(ctx, "ledger: outcome tokens minted",
		slog.String("market_id", marketID.Hex()),
		slog.String("to", caller.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// CreateOutcomeTokensWithLiquidity mints amount of each leg into ledger
// custody, deposits half of each as liquidity credited to caller and hands
// caller everything the deposit did not consume.
func (l *Ledger) CreateOutcomeTokensWithLiquidity(ctx context.Context, caller common.Address, marketID common.Hash, amount *big.Int, tickLower, tickUpper int32) (LiquidityReceipt, error) {
	if err := positive(amount); err != nil {
		return LiquidityReceipt{}, fmt.Errorf("ledger: mint with liquidity: %w", err)
	}
	half := new(big.Int).Rsh(amount, 1)
	if half.Sign() == 0 {
		return LiquidityReceipt{}, fmt.Errorf("ledger: mint with liquidity: amount %s too small to split: %w", amount, domain.ErrInvalidAmount)
	}

	unlock, err := l.lock(ctx, marketID)
	if err != nil {
		return LiquidityReceipt{}, err
	}
	defer unlock()

	m, err := l.market(ctx, marketID)
	if err != nil {
		return LiquidityReceipt{}, err
	}
	h, err := l.outcomeHandles(marketID)
	if err != nil {
		return LiquidityReceipt{}, err
	}
	coll, err := l.collateral()
	if err != nil {
		return LiquidityReceipt{}, err
	}
	leg1, leg2 := h.leg1.Token(), h.leg2.Token()

	if err := l.pull(ctx, coll, caller, amount); err != nil {
		return LiquidityReceipt{}, err
	}
	if err := l.mintPair(ctx, h, l.cfg.Address, amount); err != nil {
		l.compensate(ctx, "refund collateral", l.pay(ctx, coll, caller, amount))
		return LiquidityReceipt{}, err
	}
	unwind := func() {
		l.compensate(ctx, "burn pair", l.burnPair(ctx, h, l.cfg.Address, amount))
		l.compensate(ctx, "refund collateral", l.pay(ctx, coll, caller, amount))
	}

	custodyAddr := l.custodian.Address()
	for _, t := range []domain.Asset{leg1, leg2} {
		if err := t.Approve(ctx, l.cfg.Address, custodyAddr, half); err != nil {
			unwind()
			return LiquidityReceipt{}, fmt.Errorf("ledger: approve custody: %w", err)
		}
	}
	resetApprovals := func() {
		for _, t := range []domain.Asset{leg1, leg2} {
			l.resetApproval(ctx, t, custodyAddr)
		}
	}

	// The custodian orders a pool's legs canonically.
	lo, _ := claim.SortTokens(leg1.Address(), leg2.Address())
	res, err := l.custodian.AddLiquidity(ctx, l.cfg.Address, custody.AddLiquidityRequest{
		MarketID:  marketID,
		User:      caller,
		AmountA:   new(big.Int).Set(half),
		AmountB:   new(big.Int).Set(half),
		TickLower: tickLower,
		TickUpper: tickUpper,
	})
	resetApprovals()
	if err != nil {
		unwind()
		return LiquidityReceipt{}, fmt.Errorf("ledger: deposit liquidity for market %s: %w", marketID.Hex(), err)
	}

	dep1, dep2 := res.AmountA, res.AmountB
	if lo != leg1.Address() {
		dep1, dep2 = res.AmountB, res.AmountA
	}
	ret1 := new(big.Int).Sub(amount, dep1)
	ret2 := new(big.Int).Sub(amount, dep2)
	if err := l.pay(ctx, leg1, caller, ret1); err != nil {
		return LiquidityReceipt{}, err
	}
	if err := l.pay(ctx, leg2, caller, ret2); err != nil {
		return LiquidityReceipt{}, err
	}

	m.Collateral = new(big.Int).Add(m.Collateral, amount)
	if err := l.markets.Update(ctx, m); err != nil {
		// Tokens are already out; the record lags until the next update.
		l.logger.ErrorContext(ctx, "ledger: update market collateral failed",
			slog.String("market_id", marketID.Hex()),
			slog.String("error", err.Error()),
		)
	}

	l.journal.Record(ctx, domain.ChannelMarkets, domain.Event{
		Type:     domain.EventTokensCreated,
		MarketID: marketID.Hex(),
		Actor:    caller.Hex(),
		Fields: map[string]string{
			"amount":      amount.String(),
			"handle":      fmt.Sprint(res.Handle),
			"deposited_1": dep1.String(),
			"deposited_2": dep2.String(),
		},
	})
	l.logger.InfoContext(ctx, "ledger: outcome tokens minted with liquidity",
		slog.String("market_id", marketID.Hex()),
		slog.String("to", caller.Hex()),
		slog.String("amount", amount.String()),
		slog.Uint64("handle", uint64(res.Handle)),
	)

	return LiquidityReceipt{
		Handle:     res.Handle,
		Liquidity:  res.Liquidity,
		Deposited1: dep1,
		Deposited2: dep2,
		Returned1:  ret1,
		Returned2:  ret2,
	}, nil
}

// RedeemOutcomeTokens burns amount of each leg from caller and returns amount
// of collateral.
func (l *Ledger) RedeemOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return fmt.Errorf("ledger: redeem: %w", err)
	}
	unlock, err := l.lock(ctx, marketID)
	if err != nil {
		return err
	}
	defer unlock()

	m, err := l.market(ctx, marketID)
	if err != nil {
		return err
	}
	h, err := l.outcomeHandles(marketID)
	if err != nil {
		return err
	}
	coll, err := l.collateral()
	if err != nil {
		return err
	}

	if err := l.burnPair(ctx, h, caller, amount); err != nil {
		return err
	}
	if err := l.pay(ctx, coll, caller, amount); err != nil {
		l.compensate(ctx, "remint pair", l.mintPair(ctx, h, caller, amount))
		return err
	}

	m.Collateral = new(big.Int).Sub(m.Collateral, amount)
	if m.Collateral.Sign() < 0 {
		m.Collateral.SetInt64(0)
	}
	if err := l.markets.Update(ctx, m); err != nil {
		l.logger.ErrorContext(ctx, "ledger: update market collateral failed",
			slog.String("market_id", marketID.Hex()),
			slog.String("error", err.Error()),
		)
	}

	l.journal.Record(ctx, domain.ChannelMarkets, domain.Event{
		Type:     domain.EventTokensRedeemed,
		MarketID: marketID.Hex(),
		Actor:    caller.Hex(),
		Fields:   map[string]string{"amount": amount.String()},
	})
	l.logger.InfoContext(ctx, "ledger: outcome tokens redeemed",
		slog.String("market_id", marketID.Hex()),
		slog.String("from", caller.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// mintPair mints amount of both legs to to, or neither.
func (l *Ledger) mintPair(ctx context.Context, h outcomeHandles, to common.Address, amount *big.Int) error {
	if err := h.leg1.Mint(ctx, to, amount); err != nil {
		return fmt.Errorf("ledger: mint %s: %w", h.leg1.Token().Symbol(), err)
	}
	if err := h.leg2.Mint(ctx, to, amount); err != nil {
		l.compensate(ctx, "burn leg 1", h.leg1.Burn(ctx, to, amount))
		return fmt.Errorf("ledger: mint %s: %w", h.leg2.Token().Symbol(), err)
	}
	return nil
}

// burnPair burns amount of both legs from from, or neither.
func (l *Ledger) burnPair(ctx context.Context, h outcomeHandles, from common.Address, amount *big.Int) error {
	if err := h.leg1.Burn(ctx, from, amount); err != nil {
		return fmt.Errorf("ledger: burn %s: %w", h.leg1.Token().Symbol(), err)
	}
	if err := h.leg2.Burn(ctx, from, amount); err != nil {
		l.compensate(ctx, "remint leg 1", h.leg1.Mint(ctx, from, amount))
		return fmt.Errorf("ledger: burn %s: %w", h.leg2.Token().Symbol(), err)
	}
	return nil
}
