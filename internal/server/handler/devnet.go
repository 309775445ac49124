package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Minter mints the devnet collateral.
type Minter interface {
	Mint(ctx context.Context, to common.Address, amount *big.Int) error
}

// DevnetHandler serves helpers for in-process deployments: a collateral
// faucet plus balance and allowance management for any registered asset.
type DevnetHandler struct {
	faucet     Minter
	collateral common.Address
	assets     domain.AssetRegistry
	maxDrip    *big.Int
	logger     *slog.Logger
}

// NewDevnetHandler creates a DevnetHandler. maxDrip caps a single faucet
// request; nil means uncapped.
func NewDevnetHandler(faucet Minter, collateral common.Address, assets domain.AssetRegistry, maxDrip *big.Int, logger *slog.Logger) *DevnetHandler {
	return &DevnetHandler{
		faucet:     faucet,
		collateral: collateral,
		assets:     assets,
		maxDrip:    maxDrip,
		logger:     logHandler(logger, "devnet"),
	}
}

type faucetRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// Faucet mints collateral to an address.
// POST /api/devnet/faucet
func (h *DevnetHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if amount.Sign() == 0 {
		writeError(w, http.StatusBadRequest, "amount: "+domain.ErrInvalidAmount.Error())
		return
	}
	if h.maxDrip != nil && h.maxDrip.Sign() > 0 && amount.Cmp(h.maxDrip) > 0 {
		writeError(w, http.StatusBadRequest, "amount exceeds faucet limit "+h.maxDrip.String())
		return
	}
	if err := h.faucet.Mint(r.Context(), to, amount); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "faucet drip", slog.String("to", to.Hex()), slog.String("amount", amount.String()))
	writeJSON(w, http.StatusOK, map[string]string{
		"token":  h.collateral.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	})
}

type approveRequest struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// Approve sets the caller's allowance for spender on token.
// POST /api/devnet/approve
func (h *DevnetHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := h.assets.Asset(tokenAddr)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := asset.Approve(r.Context(), caller, spender, amount); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   tokenAddr.Hex(),
		"owner":   caller.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	})
}

// Balance returns an address's balance of token, which defaults to the
// collateral.
// GET /api/devnet/balances/{address}?token=0x...
func (h *DevnetHandler) Balance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("address", pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenAddr := h.collateral
	if t := r.URL.Query().Get("token"); t != "" {
		if tokenAddr, err = parseAddress("token", t); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	asset, err := h.assets.Asset(tokenAddr)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	bal, err := asset.BalanceOf(r.Context(), owner)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    tokenAddr.Hex(),
		"symbol":   asset.Symbol(),
		"decimals": asset.Decimals(),
		"owner":    owner.Hex(),
		"balance":  bal.String(),
	})
}
