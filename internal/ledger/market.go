package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/claim"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/token"
)

// OpenMarketRequest describes a new market. A zero FeeTier selects the
// configured default; nil amounts are zero.
type OpenMarketRequest struct {
	Outcome1     string
	Outcome2     string
	Description  string
	Reward       *big.Int
	RequiredBond *big.Int
	FeeTier      uint32
}

func (r *OpenMarketRequest) validate() error {
	switch {
	case r.Outcome1 == "" || r.Outcome2 == "":
		return domain.ErrEmptyOutcome
	case r.Outcome1 == r.Outcome2:
		return domain.ErrOutcomesIdentical
	case r.Description == "":
		return domain.ErrEmptyDescription
	}
	if r.Reward == nil {
		r.Reward = new(big.Int)
	}
	if r.RequiredBond == nil {
		r.RequiredBond = new(big.Int)
	}
	if r.Reward.Sign() < 0 || r.RequiredBond.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	if !claim.ValidFeeTier(r.FeeTier) {
		return domain.ErrInvalidFeeTier
	}
	return nil
}

// OpenMarket creates a market with two fresh outcome tokens, pulls the
// reward from caller and has the custodian create the market's pool.
func (l *Ledger) OpenMarket(ctx context.Context, caller common.Address, req OpenMarketRequest) (common.Hash, error) {
	if l.gate != nil {
		if err := l.gate.Check(caller); err != nil {
			return common.Hash{}, fmt.Errorf("ledger: open market: %w", err)
		}
	}
	if req.FeeTier == 0 {
		req.FeeTier = l.cfg.DefaultFeeTier
	}
	if err := req.validate(); err != nil {
		return common.Hash{}, fmt.Errorf("ledger: open market: %w", err)
	}

	now := l.now().UTC()
	window := uint64(l.cfg.MarketIDWindow / time.Second)
	if window == 0 {
		window = 1
	}
	id, err := claim.MarketID(uint64(now.Unix())/window, req.Description)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ledger: open market: %w", err)
	}

	unlock, err := l.lock(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	defer unlock()

	if _, err := l.markets.GetByID(ctx, id); err == nil {
		return common.Hash{}, fmt.Errorf("ledger: open market %s: %w", id.Hex(), domain.ErrMarketAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return common.Hash{}, fmt.Errorf("ledger: open market %s: %w", id.Hex(), err)
	}

	coll, err := l.collateral()
	if err != nil {
		return common.Hash{}, err
	}
	leg1, h1 := token.NewMintable(l.addrs.Next(), outcomeSymbol(req.Outcome1, id), coll.Decimals())
	leg2, h2 := token.NewMintable(l.addrs.Next(), outcomeSymbol(req.Outcome2, id), coll.Decimals())
	for _, t := range []*token.Token{leg1, leg2} {
		if err := l.assets.Register(t); err != nil {
			return common.Hash{}, fmt.Errorf("ledger: register outcome token: %w", err)
		}
	}

	if err := l.pull(ctx, coll, caller, req.Reward); err != nil {
		return common.Hash{}, err
	}

	pool, err := l.custodian.EnsurePool(ctx, leg1.Address(), leg2.Address(), req.FeeTier, id)
	if err != nil {
		l.compensate(ctx, "refund reward", l.pay(ctx, coll, caller, req.Reward))
		return common.Hash{}, fmt.Errorf("ledger: open market %s: %w", id.Hex(), err)
	}

	m := domain.Market{
		ID:            id,
		Creator:       caller,
		Outcome1:      req.Outcome1,
		Outcome2:      req.Outcome2,
		Description:   req.Description,
		Outcome1Token: leg1.Address(),
		Outcome2Token: leg2.Address(),
		Reward:        new(big.Int).Set(req.Reward),
		RequiredBond:  new(big.Int).Set(req.RequiredBond),
		FeeTier:       req.FeeTier,
		Collateral:    new(big.Int),
		CreatedAt:     now,
	}
	if err := l.markets.Create(ctx, m); err != nil {
		l.compensate(ctx, "refund reward", l.pay(ctx, coll, caller, req.Reward))
		if errors.Is(err, domain.ErrAlreadyExists) {
			return common.Hash{}, fmt.Errorf("ledger: open market %s: %w", id.Hex(), domain.ErrMarketAlreadyExists)
		}
		return common.Hash{}, fmt.Errorf("ledger: store market %s: %w", id.Hex(), err)
	}

	l.handlesMu.Lock()
	l.handles[id] = outcomeHandles{leg1: h1, leg2: h2}
	l.handlesMu.Unlock()

	l.journal.Record(ctx, domain.ChannelMarkets, domain.Event{
		Type:     domain.EventMarketInitialized,
		MarketID: id.Hex(),
		Actor:    caller.Hex(),
		Fields: map[string]string{
			"outcome1":       req.Outcome1,
			"outcome2":       req.Outcome2,
			"description":    req.Description,
			"outcome1_token": leg1.Address().Hex(),
			"outcome2_token": leg2.Address().Hex(),
			"reward":         req.Reward.String(),
			"required_bond":  req.RequiredBond.String(),
			"pool":           pool.Hex(),
		},
	})
	l.logger.InfoContext(ctx, "ledger: market opened",
		slog.String("market_id", id.Hex()),
		slog.String("creator", caller.Hex()),
		slog.String("pool", pool.Hex()),
	)
	return id, nil
}

// outcomeSymbol names an outcome token after its label and market.
func outcomeSymbol(label string, id common.Hash) string {
	const maxLabel = 16
	if len(label) > maxLabel {
		label = label[:maxLabel]
	}
	return fmt.Sprintf("%s-%x", label, id[:3])
}
