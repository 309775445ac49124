package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/claim"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// AssertMarket posts a bonded assertion that label is the market's outcome.
// The bond is the larger of the market's required bond and the oracle's
// minimum, and is pulled from caller.
func (l *Ledger) AssertMarket(ctx context.Context, caller common.Address, marketID common.Hash, label string) (common.Hash, error) {
	unlock, err := l.lock(ctx, marketID)
	if err != nil {
		return common.Hash{}, err
	}
	defer unlock()

	m, err := l.market(ctx, marketID)
	if err != nil {
		return common.Hash{}, err
	}
	if m.AssertedOutcomeID != (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("ledger: assert market %s: %w", marketID.Hex(), domain.ErrAssertionActiveOrResolved)
	}
	outcomeID := claim.OutcomeID(label)
	if outcomeID != claim.OutcomeID(m.Outcome1) && outcomeID != claim.OutcomeID(m.Outcome2) && outcomeID != claim.UnresolvableID {
		return common.Hash{}, fmt.Errorf("ledger: assert market %s outcome %q: %w", marketID.Hex(), label, domain.ErrInvalidAssertionOutcome)
	}

	coll, err := l.collateral()
	if err != nil {
		return common.Hash{}, err
	}
	minBond, err := l.oracle.MinimumBond(ctx, coll.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("ledger: oracle minimum bond: %w", err)
	}
	bond := new(big.Int).Set(m.RequiredBond)
	if minBond.Cmp(bond) > 0 {
		bond.Set(minBond)
	}

	if err := l.pull(ctx, coll, caller, bond); err != nil {
		return common.Hash{}, err
	}
	refund := func() { l.compensate(ctx, "refund bond", l.pay(ctx, coll, caller, bond)) }

	prev := m.Clone()
	m.AssertedOutcomeID = outcomeID
	if err := l.markets.Update(ctx, m); err != nil {
		refund()
		return common.Hash{}, fmt.Errorf("ledger: update market %s: %w", marketID.Hex(), err)
	}
	revert := func() { l.compensate(ctx, "revert market", l.markets.Update(ctx, prev)) }

	oracleAddr := l.oracle.Address()
	if err := coll.Approve(ctx, l.cfg.Address, oracleAddr, bond); err != nil {
		revert()
		refund()
		return common.Hash{}, fmt.Errorf("ledger: approve oracle: %w", err)
	}
	now := l.now().UTC()
	assertionID, err := l.oracle.AssertTruth(ctx, domain.AssertionRequest{
		Claim:             claim.Compose(now.Unix(), label, m.Description),
		Asserter:          caller,
		Payer:             l.cfg.Address,
		CallbackRecipient: l.cfg.Address,
		Liveness:          l.cfg.Liveness,
		Currency:          coll.Address(),
		Bond:              bond,
		Identifier:        l.identifier,
	})
	l.resetApproval(ctx, coll, oracleAddr)
	if err != nil {
		revert()
		refund()
		return common.Hash{}, fmt.Errorf("ledger: assert market %s: %w", marketID.Hex(), err)
	}

	pending := domain.PendingAssertion{
		ID:        assertionID,
		MarketID:  marketID,
		Asserter:  caller,
		OutcomeID: outcomeID,
		Bond:      bond,
		CreatedAt: now,
	}
	if err := l.assertions.Create(ctx, pending); err != nil {
		// The oracle keeps the bond and its verdict for this id will be
		// reported as unknown; the market reopens for assertion.
		l.logger.ErrorContext(ctx, "ledger: record pending assertion failed, orphaned assertion",
			slog.String("market_id", marketID.Hex()),
			slog.String("assertion_id", assertionID.Hex()),
			slog.String("error", err.Error()),
		)
		revert()
		return common.Hash{}, fmt.Errorf("ledger: record assertion %s: %w", assertionID.Hex(), err)
	}

	l.journal.Record(ctx, domain.ChannelMarkets, domain.Event{
		Type:     domain.EventMarketAsserted,
		MarketID: marketID.Hex(),
		Actor:    caller.Hex(),
		Fields: map[string]string{
			"assertion_id": assertionID.Hex(),
			"outcome":      label,
			"bond":         bond.String(),
		},
	})
	l.logger.InfoContext(ctx, "ledger: market asserted",
		slog.String("market_id", marketID.Hex()),
		slog.String("assertion_id", assertionID.Hex()),
		slog.String("outcome", label),
		slog.String("bond", bond.String()),
	)
	return assertionID, nil
}

// pendingFor verifies the sender and looks up the assertion.
func (l *Ledger) pendingFor(ctx context.Context, sender common.Address, assertionID common.Hash) (domain.PendingAssertion, error) {
	if sender != l.oracle.Address() {
		l.logger.WarnContext(ctx, "ledger: callback from non-oracle sender",
			slog.String("sender", sender.Hex()),
			slog.String("assertion_id", assertionID.Hex()),
		)
		return domain.PendingAssertion{}, fmt.Errorf("ledger: callback from %s: %w", sender.Hex(), domain.ErrNotAuthorized)
	}
	p, err := l.assertions.GetByID(ctx, assertionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PendingAssertion{}, fmt.Errorf("ledger: assertion %s: %w", assertionID.Hex(), domain.ErrUnknownAssertion)
	}
	if err != nil {
		return domain.PendingAssertion{}, fmt.Errorf("ledger: get assertion %s: %w", assertionID.Hex(), err)
	}
	return p, nil
}

// HandleResolution applies the oracle's verdict. A truthful verdict resolves
// the market and pays its reward to the asserter; otherwise the market
// reopens for assertion. The pending assertion is discarded either way, so a
// redelivered verdict is reported as an unknown assertion.
func (l *Ledger) HandleResolution(ctx context.Context, msg domain.ResolutionMessage) error {
	p, err := l.pendingFor(ctx, msg.Sender, msg.AssertionID)
	if err != nil {
		return err
	}
	unlock, err := l.lock(ctx, p.MarketID)
	if err != nil {
		return err
	}
	defer unlock()

	// Re-read under the market lock: a concurrent delivery of the same
	// verdict may have consumed the assertion since the lookup above.
	p, err = l.pendingFor(ctx, msg.Sender, msg.AssertionID)
	if err != nil {
		return err
	}
	m, err := l.market(ctx, p.MarketID)
	if err != nil {
		return err
	}
	if m.Resolved || m.AssertedOutcomeID != p.OutcomeID {
		l.logger.WarnContext(ctx, "ledger: stale assertion callback",
			slog.String("market_id", p.MarketID.Hex()),
			slog.String("assertion_id", p.ID.Hex()),
			slog.String("state", string(m.State())),
		)
		l.discard(ctx, p.ID)
		return fmt.Errorf("ledger: assertion %s no longer matches market %s: %w",
			p.ID.Hex(), p.MarketID.Hex(), domain.ErrUnknownAssertion)
	}
	prev := m.Clone()
	evt := domain.Event{
		MarketID: p.MarketID.Hex(),
		Actor:    p.Asserter.Hex(),
		Fields:   map[string]string{"assertion_id": p.ID.Hex()},
	}

	if msg.Truthful {
		now := l.now().UTC()
		m.Resolved = true
		m.ResolvedAt = &now
		if err := l.markets.Update(ctx, m); err != nil {
			return fmt.Errorf("ledger: resolve market %s: %w", p.MarketID.Hex(), err)
		}
		coll, err := l.collateral()
		if err == nil {
			err = l.pay(ctx, coll, p.Asserter, m.Reward)
		}
		if err != nil {
			l.compensate(ctx, "revert market", l.markets.Update(ctx, prev))
			return fmt.Errorf("ledger: pay reward for market %s: %w", p.MarketID.Hex(), err)
		}
		evt.Type = domain.EventMarketResolved
		evt.Fields["outcome_id"] = m.AssertedOutcomeID.Hex()
		evt.Fields["outcome"] = l.outcomeLabel(m)
		evt.Fields["reward"] = m.Reward.String()
	} else {
		m.AssertedOutcomeID = common.Hash{}
		if err := l.markets.Update(ctx, m); err != nil {
			return fmt.Errorf("ledger: reopen market %s: %w", p.MarketID.Hex(), err)
		}
		evt.Type = domain.EventAssertionRejected
		evt.Fields["outcome_id"] = p.OutcomeID.Hex()
	}

	l.discard(ctx, p.ID)

	l.journal.Record(ctx, domain.ChannelMarkets, evt)
	l.logger.InfoContext(ctx, "ledger: assertion resolved",
		slog.String("market_id", p.MarketID.Hex()),
		slog.String("assertion_id", p.ID.Hex()),
		slog.Bool("truthful", msg.Truthful),
	)
	return nil
}

func (l *Ledger) discard(ctx context.Context, assertionID common.Hash) {
	if err := l.assertions.Delete(ctx, assertionID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		l.logger.ErrorContext(ctx, "ledger: discard pending assertion failed",
			slog.String("assertion_id", assertionID.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// HandleDispute records that an assertion was disputed. Arbitration happens
// in the oracle; the market stays in the asserting state until its verdict.
func (l *Ledger) HandleDispute(ctx context.Context, msg domain.DisputeMessage) error {
	p, err := l.pendingFor(ctx, msg.Sender, msg.AssertionID)
	if err != nil {
		return err
	}
	l.journal.Record(ctx, domain.ChannelMarkets, domain.Event{
		Type:     domain.EventAssertionDisputed,
		MarketID: p.MarketID.Hex(),
		Actor:    p.Asserter.Hex(),
		Fields:   map[string]string{"assertion_id": p.ID.Hex()},
	})
	l.logger.InfoContext(ctx, "ledger: assertion disputed",
		slog.String("market_id", p.MarketID.Hex()),
		slog.String("assertion_id", p.ID.Hex()),
	)
	return nil
}

func (l *Ledger) outcomeLabel(m domain.Market) string {
	switch m.AssertedOutcomeID {
	case claim.OutcomeID(m.Outcome1):
		return m.Outcome1
	case claim.OutcomeID(m.Outcome2):
		return m.Outcome2
	case claim.UnresolvableID:
		return claim.Unresolvable
	}
	return ""
}

// Payout applies the settlement rule to a holder's leg balances: the winning
// leg pays 1:1, the losing leg nothing, and an unresolvable market pays
// floor((b1+b2)/2).
func Payout(m domain.Market, b1, b2 *big.Int) *big.Int {
	switch m.AssertedOutcomeID {
	case claim.OutcomeID(m.Outcome1):
		return new(big.Int).Set(b1)
	case claim.OutcomeID(m.Outcome2):
		return new(big.Int).Set(b2)
	}
	sum := new(big.Int).Add(b1, b2)
	return sum.Rsh(sum, 1)
}

// SettleOutcomeTokens burns caller's entire balance of both legs of a
// resolved market and pays the settlement in collateral. A caller with no
// balance receives zero.
func (l *Ledger) SettleOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash) (*big.Int, error) {
	unlock, err := l.lock(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m, err := l.market(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !m.Resolved {
		return nil, fmt.Errorf("ledger: settle market %s: %w", marketID.Hex(), domain.ErrMarketNotResolved)
	}
	h, err := l.outcomeHandles(marketID)
	if err != nil {
		return nil, err
	}
	coll, err := l.collateral()
	if err != nil {
		return nil, err
	}

	b1, err := h.leg1.Token().BalanceOf(ctx, caller)
	if err != nil {
		return nil, err
	}
	b2, err := h.leg2.Token().BalanceOf(ctx, caller)
	if err != nil {
		return nil, err
	}
	payout := Payout(m, b1, b2)

	if b1.Sign() > 0 {
		if err := h.leg1.Burn(ctx, caller, b1); err != nil {
			return nil, fmt.Errorf("ledger: settle burn: %w", err)
		}
	}
	if b2.Sign() > 0 {
		if err := h.leg2.Burn(ctx, caller, b2); err != nil {
			l.compensate(ctx, "remint leg 1", mintIfPositive(ctx, h.leg1.Mint, caller, b1))
			return nil, fmt.Errorf("ledger: settle burn: %w", err)
		}
	}
	if err := l.pay(ctx, coll, caller, payout); err != nil {
		l.compensate(ctx, "remint leg 1", mintIfPositive(ctx, h.leg1.Mint, caller, b1))
		l.compensate(ctx, "remint leg 2", mintIfPositive(ctx, h.leg2.Mint, caller, b2))
		return nil, err
	}

	if payout.Sign() > 0 {
		m.Collateral = new(big.Int).Sub(m.Collateral, payout)
		if m.Collateral.Sign() < 0 {
			m.Collateral.SetInt64(0)
		}
		if err := l.markets.Update(ctx, m); err != nil {
			l.logger.ErrorContext(ctx, "ledger: update market collateral failed",
				slog.String("market_id", marketID.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	l.journal.Record(ctx, domain.ChannelMarkets, domain.Event{
		Type:     domain.EventTokensSettled,
		MarketID: marketID.Hex(),
		Actor:    caller.Hex(),
		Fields: map[string]string{
			"outcome1_burned": b1.String(),
			"outcome2_burned": b2.String(),
			"payout":          payout.String(),
		},
	})
	l.logger.InfoContext(ctx, "ledger: outcome tokens settled",
		slog.String("market_id", marketID.Hex()),
		slog.String("holder", caller.Hex()),
		slog.String("payout", payout.String()),
	)
	return payout, nil
}

func mintIfPositive(ctx context.Context, mint func(context.Context, common.Address, *big.Int) error, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	return mint(ctx, to, amount)
}
