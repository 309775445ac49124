package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketState is the lifecycle state derived from a market record.
type MarketState string

const (
	MarketStateOpen      MarketState = "open"
	MarketStateAsserting MarketState = "asserting"
	MarketStateResolved  MarketState = "resolved"
)

// Market is a binary outcome market. Outcome token addresses are fixed at
// creation; only AssertedOutcomeID, Resolved, Collateral and ResolvedAt change.
type Market struct {
	ID                common.Hash
	Creator           common.Address
	Outcome1          string
	Outcome2          string
	Description       string
	Outcome1Token     common.Address
	Outcome2Token     common.Address
	Reward            *big.Int
	RequiredBond      *big.Int
	FeeTier           uint32
	AssertedOutcomeID common.Hash
	Resolved          bool
	// Collateral is the amount backing outstanding outcome token pairs.
	Collateral *big.Int
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// State derives the lifecycle state.
func (m Market) State() MarketState {
	switch {
	case m.Resolved:
		return MarketStateResolved
	case m.AssertedOutcomeID != (common.Hash{}):
		return MarketStateAsserting
	default:
		return MarketStateOpen
	}
}

// Clone returns a copy whose big.Int fields do not alias m.
func (m Market) Clone() Market {
	out := m
	out.Reward = cloneInt(m.Reward)
	out.RequiredBond = cloneInt(m.RequiredBond)
	out.Collateral = cloneInt(m.Collateral)
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// PendingAssertion links an oracle assertion to the market it resolves.
type PendingAssertion struct {
	ID        common.Hash
	MarketID  common.Hash
	Asserter  common.Address
	OutcomeID common.Hash
	Bond      *big.Int
	CreatedAt time.Time
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
