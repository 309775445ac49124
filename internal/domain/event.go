package domain

import "time"

// Bus channels and streams.
const (
	ChannelMarkets        = "markets"
	ChannelLiquidity      = "liquidity"
	StreamOracleCallbacks = "oracle:callbacks"
)

// Lifecycle event types published on ChannelMarkets and ChannelLiquidity.
const (
	EventMarketInitialized = "market_initialized"
	EventTokensCreated     = "tokens_created"
	EventTokensRedeemed    = "tokens_redeemed"
	EventMarketAsserted    = "market_asserted"
	EventMarketResolved    = "market_resolved"
	EventAssertionRejected = "assertion_rejected"
	EventAssertionDisputed = "assertion_disputed"
	EventTokensSettled     = "tokens_settled"
	EventLiquidityAdded    = "liquidity_added"
	EventLiquidityRemoved  = "liquidity_removed"
	EventSwapExecuted      = "swap_executed"
	EventPoolCreated       = "pool_created"
)

// Event is the JSON payload published for every state transition. Amounts
// are decimal strings in base units.
type Event struct {
	Type      string            `json:"event"`
	MarketID  string            `json:"market_id"`
	Actor     string            `json:"actor,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
