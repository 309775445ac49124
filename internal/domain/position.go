package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionHandle is the engine's opaque identifier for a liquidity position.
type PositionHandle uint64

// PoolRecord is the liquidity pool paired with a market. TokenA is always the
// lower address.
type PoolRecord struct {
	MarketID    common.Hash
	Pool        common.Address
	TokenA      common.Address
	TokenB      common.Address
	FeeTier     uint32
	Initialized bool
	CreatedAt   time.Time
}

// Position is the single custodied liquidity position a user holds in a
// market's pool.
type Position struct {
	User      common.Address
	MarketID  common.Hash
	Handle    PositionHandle
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PositionView is a position together with its live liquidity.
type PositionView struct {
	Position
	Liquidity *big.Int
}
