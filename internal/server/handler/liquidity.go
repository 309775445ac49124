package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/custody"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Custodian is the position custodian surface the liquidity endpoints use.
type Custodian interface {
	AddLiquidity(ctx context.Context, payer common.Address, req custody.AddLiquidityRequest) (custody.LiquidityResult, error)
	RemoveLiquidity(ctx context.Context, user common.Address, req custody.RemoveLiquidityRequest) (custody.RemoveResult, error)
	Swap(ctx context.Context, caller common.Address, req custody.SwapRequest) (custody.SwapResult, error)
	DirectSwap(ctx context.Context, caller common.Address, req custody.SwapRequest) (custody.SwapResult, error)
	Pool(ctx context.Context, marketID common.Hash) (domain.PoolRecord, error)
	PoolState(ctx context.Context, marketID common.Hash) (domain.PoolState, error)
}

// LiquidityHandler serves pool, liquidity and swap endpoints.
type LiquidityHandler struct {
	custodian Custodian
	logger    *slog.Logger
}

// NewLiquidityHandler creates a LiquidityHandler.
func NewLiquidityHandler(c Custodian, logger *slog.Logger) *LiquidityHandler {
	return &LiquidityHandler{custodian: c, logger: logHandler(logger, "liquidity")}
}

type poolJSON struct {
	MarketID     string `json:"market_id"`
	Pool         string `json:"pool"`
	TokenA       string `json:"token_a"`
	TokenB       string `json:"token_b"`
	FeeTier      uint32 `json:"fee_tier"`
	Initialized  bool   `json:"initialized"`
	SqrtPriceX96 string `json:"sqrt_price_x96,omitempty"`
	ReserveA     string `json:"reserve_a,omitempty"`
	ReserveB     string `json:"reserve_b,omitempty"`
	Liquidity    string `json:"liquidity,omitempty"`
}

// GetPool returns the market's pool record and, once initialized, its live
// reserves.
// GET /api/markets/{id}/pool
func (h *LiquidityHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.custodian.Pool(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := poolJSON{
		MarketID:    rec.MarketID.Hex(),
		Pool:        rec.Pool.Hex(),
		TokenA:      rec.TokenA.Hex(),
		TokenB:      rec.TokenB.Hex(),
		FeeTier:     rec.FeeTier,
		Initialized: rec.Initialized,
	}
	if rec.Initialized {
		st, err := h.custodian.PoolState(r.Context(), id)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		out.SqrtPriceX96 = amountString(st.SqrtPriceX96)
		out.ReserveA = amountString(st.Reserve0)
		out.ReserveB = amountString(st.Reserve1)
		out.Liquidity = amountString(st.Liquidity)
	}
	writeJSON(w, http.StatusOK, out)
}

type addLiquidityRequest struct {
	User      string `json:"user"`
	AmountA   string `json:"amount_a"`
	AmountB   string `json:"amount_b"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
}

// AddLiquidity deposits both legs from the caller into the position of
// user, which defaults to the caller.
// POST /api/markets/{id}/liquidity
func (h *LiquidityHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req addLiquidityRequest
	caller, id, ok := parseTarget(w, r, &req)
	if !ok {
		return
	}
	user := caller
	if req.User != "" {
		u, err := parseAddress("user", req.User)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		user = u
	}
	amountA, err := parseAmount("amount_a", req.AmountA, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amountB, err := parseAmount("amount_b", req.AmountB, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.custodian.AddLiquidity(r.Context(), caller, custody.AddLiquidityRequest{
		MarketID:  id,
		User:      user,
		AmountA:   amountA,
		AmountB:   amountB,
		TickLower: req.TickLower,
		TickUpper: req.TickUpper,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"market_id": id.Hex(),
		"user":      user.Hex(),
		"position":  uint64(res.Handle),
		"liquidity": amountString(res.Liquidity),
		"amount_a":  amountString(res.AmountA),
		"amount_b":  amountString(res.AmountB),
		"refund_a":  amountString(res.RefundA),
		"refund_b":  amountString(res.RefundB),
		"created":   res.Created,
	})
}

type removeLiquidityRequest struct {
	Liquidity string `json:"liquidity"`
	MinA      string `json:"min_a"`
	MinB      string `json:"min_b"`
}

// RemoveLiquidity withdraws from the caller's position and collects fees.
// POST /api/markets/{id}/liquidity/remove
func (h *LiquidityHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req removeLiquidityRequest
	caller, id, ok := parseTarget(w, r, &req)
	if !ok {
		return
	}
	liq, err := parseAmount("liquidity", req.Liquidity, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minA, err := parseAmount("min_a", req.MinA, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minB, err := parseAmount("min_b", req.MinB, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.custodian.RemoveLiquidity(r.Context(), caller, custody.RemoveLiquidityRequest{
		MarketID:  id,
		Liquidity: liq,
		MinA:      minA,
		MinB:      minB,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"market_id":   id.Hex(),
		"decreased_a": amountString(res.DecreasedA),
		"decreased_b": amountString(res.DecreasedB),
		"collected_a": amountString(res.CollectedA),
		"collected_b": amountString(res.CollectedB),
	})
}

type swapRequest struct {
	TokenIn      string `json:"token_in"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
	Direct       bool   `json:"direct"`
}

// Swap exchanges an exact input of one leg for the other. Direct swaps pay
// the pool from the caller inside the engine callback instead of staging
// the input in custody.
// POST /api/markets/{id}/swap
func (h *LiquidityHandler) Swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	caller, id, ok := parseTarget(w, r, &req)
	if !ok {
		return
	}
	tokenIn, err := parseAddress("token_in", req.TokenIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amountIn, err := parseAmount("amount_in", req.AmountIn, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minOut, err := parseAmount("min_amount_out", req.MinAmountOut, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	swap := h.custodian.Swap
	if req.Direct {
		swap = h.custodian.DirectSwap
	}
	res, err := swap(r.Context(), caller, custody.SwapRequest{
		MarketID:     id,
		TokenIn:      tokenIn,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":  id.Hex(),
		"token_in":   res.TokenIn.Hex(),
		"token_out":  res.TokenOut.Hex(),
		"amount_in":  amountString(res.AmountIn),
		"amount_out": amountString(res.AmountOut),
		"direct":     res.Direct,
	})
}
