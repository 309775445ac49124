package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/ledger"
	"github.com/alanyoungcy/outcomeledger/internal/service"
)

// MarketLedger is the mutating surface of the market ledger.
type MarketLedger interface {
	OpenMarket(ctx context.Context, caller common.Address, req ledger.OpenMarketRequest) (common.Hash, error)
	MintOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash, amount *big.Int) error
	CreateOutcomeTokensWithLiquidity(ctx context.Context, caller common.Address, marketID common.Hash, amount *big.Int, tickLower, tickUpper int32) (ledger.LiquidityReceipt, error)
	RedeemOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash, amount *big.Int) error
	AssertMarket(ctx context.Context, caller common.Address, marketID common.Hash, label string) (common.Hash, error)
	SettleOutcomeTokens(ctx context.Context, caller common.Address, marketID common.Hash) (*big.Int, error)
}

// MarketQuerier serves market reads.
type MarketQuerier interface {
	View(ctx context.Context, id common.Hash) (service.MarketView, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	ledger  MarketLedger
	markets MarketQuerier
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(l MarketLedger, markets MarketQuerier, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		ledger:  l,
		markets: markets,
		logger:  logHandler(logger, "markets"),
	}
}

type marketJSON struct {
	ID                string     `json:"id"`
	Creator           string     `json:"creator"`
	Outcome1          string     `json:"outcome1"`
	Outcome2          string     `json:"outcome2"`
	Description       string     `json:"description"`
	Outcome1Token     string     `json:"outcome1_token"`
	Outcome2Token     string     `json:"outcome2_token"`
	Reward            string     `json:"reward"`
	RequiredBond      string     `json:"required_bond"`
	FeeTier           uint32     `json:"fee_tier"`
	AssertedOutcomeID string     `json:"asserted_outcome_id,omitempty"`
	Resolved          bool       `json:"resolved"`
	State             string     `json:"state"`
	Collateral        string     `json:"collateral"`
	CreatedAt         time.Time  `json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

func toMarketJSON(m domain.Market) marketJSON {
	out := marketJSON{
		ID:            m.ID.Hex(),
		Creator:       m.Creator.Hex(),
		Outcome1:      m.Outcome1,
		Outcome2:      m.Outcome2,
		Description:   m.Description,
		Outcome1Token: m.Outcome1Token.Hex(),
		Outcome2Token: m.Outcome2Token.Hex(),
		Reward:        amountString(m.Reward),
		RequiredBond:  amountString(m.RequiredBond),
		FeeTier:       m.FeeTier,
		Resolved:      m.Resolved,
		State:         string(m.State()),
		Collateral:    amountString(m.Collateral),
		CreatedAt:     m.CreatedAt,
		ResolvedAt:    m.ResolvedAt,
	}
	if m.AssertedOutcomeID != (common.Hash{}) {
		out.AssertedOutcomeID = m.AssertedOutcomeID.Hex()
	}
	return out
}

type assertionJSON struct {
	ID        string    `json:"id"`
	Asserter  string    `json:"asserter"`
	OutcomeID string    `json:"outcome_id"`
	Bond      string    `json:"bond"`
	CreatedAt time.Time `json:"created_at"`
}

type marketViewJSON struct {
	marketJSON
	Supply1   string         `json:"outcome1_supply"`
	Supply2   string         `json:"outcome2_supply"`
	Assertion *assertionJSON `json:"assertion,omitempty"`
}

type listMarketsResponse struct {
	Markets []marketJSON `json:"markets"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets newest first.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	markets, err := h.markets.List(r.Context(), opts)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := make([]marketJSON, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketJSON(m))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: out, Limit: opts.Limit, Offset: opts.Offset})
}

// GetMarket returns a market with its outcome supplies and pending assertion.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.markets.View(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := marketViewJSON{
		marketJSON: toMarketJSON(v.Market),
		Supply1:    amountString(v.Supply1),
		Supply2:    amountString(v.Supply2),
	}
	out.State = string(v.State)
	if a := v.Assertion; a != nil {
		out.Assertion = &assertionJSON{
			ID:        a.ID.Hex(),
			Asserter:  a.Asserter.Hex(),
			OutcomeID: a.OutcomeID.Hex(),
			Bond:      amountString(a.Bond),
			CreatedAt: a.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type openMarketRequest struct {
	Outcome1     string `json:"outcome1"`
	Outcome2     string `json:"outcome2"`
	Description  string `json:"description"`
	Reward       string `json:"reward"`
	RequiredBond string `json:"required_bond"`
	FeeTier      uint32 `json:"fee_tier"`
}

// OpenMarket creates a market funded by the caller's reward.
// POST /api/markets
func (h *MarketHandler) OpenMarket(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req openMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reward, err := parseAmount("reward", req.Reward, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bond, err := parseAmount("required_bond", req.RequiredBond, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.ledger.OpenMarket(r.Context(), caller, ledger.OpenMarketRequest{
		Outcome1:     req.Outcome1,
		Outcome2:     req.Outcome2,
		Description:  req.Description,
		Reward:       reward,
		RequiredBond: bond,
		FeeTier:      req.FeeTier,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"market_id": id.Hex()})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// Mint locks collateral and mints a pair of outcome tokens to the caller.
// POST /api/markets/{id}/mint
func (h *MarketHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	caller, id, ok := parseTarget(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ledger.MintOutcomeTokens(r.Context(), caller, id, amount); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": id.Hex(), "minted": amount.String()})
}

type mintWithLiquidityRequest struct {
	Amount    string `json:"amount"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
}

// MintWithLiquidity mints a pair and deposits half of each leg into the
// market's pool on the caller's behalf.
// POST /api/markets/{id}/mint-with-liquidity
func (h *MarketHandler) MintWithLiquidity(w http.ResponseWriter, r *http.Request) {
	var req mintWithLiquidityRequest
	caller, id, ok := parseTarget(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.ledger.CreateOutcomeTokensWithLiquidity(r.Context(), caller, id, amount, req.TickLower, req.TickUpper)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":   id.Hex(),
		"position":    uint64(rec.Handle),
		"liquidity":   amountString(rec.Liquidity),
		"deposited_1": amountString(rec.Deposited1),
		"deposited_2": amountString(rec.Deposited2),
		"returned_1":  amountString(rec.Returned1),
		"returned_2":  amountString(rec.Returned2),
	})
}

// Redeem burns equal amounts of both outcome tokens for collateral.
// POST /api/markets/{id}/redeem
func (h *MarketHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	caller, id, ok := parseTarget(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ledger.RedeemOutcomeTokens(r.Context(), caller, id, amount); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": id.Hex(), "redeemed": amount.String()})
}

type assertRequest struct {
	Outcome string `json:"outcome"`
}

// Assert submits an assertion of the market's outcome to the oracle.
// POST /api/markets/{id}/assert
func (h *MarketHandler) Assert(w http.ResponseWriter, r *http.Request) {
	var req assertRequest
	caller, id, ok := parseTarget(w, r, &req)
	if !ok {
		return
	}
	assertionID, err := h.ledger.AssertMarket(r.Context(), caller, id, req.Outcome)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"market_id": id.Hex(), "assertion_id": assertionID.Hex()})
}

// Settle burns the caller's outcome tokens of a resolved market for their
// collateral payout.
// POST /api/markets/{id}/settle
func (h *MarketHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := parseTarget(w, r, nil)
	if !ok {
		return
	}
	payout, err := h.ledger.SettleOutcomeTokens(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": id.Hex(), "payout": amountString(payout)})
}
