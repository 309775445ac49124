package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Position(ctx context.Context, user common.Address, marketID common.Hash) (domain.PositionView, error)
	Positions(ctx context.Context, user common.Address) ([]domain.PositionView, error)
}

// PositionHandler serves custodied liquidity positions.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "positions"),
	}
}

type positionJSON struct {
	User      string    `json:"user"`
	MarketID  string    `json:"market_id"`
	Handle    uint64    `json:"position"`
	Liquidity string    `json:"liquidity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPositionJSON(p domain.PositionView) positionJSON {
	liq := p.Liquidity
	if liq == nil {
		liq = new(big.Int)
	}
	return positionJSON{
		User:      p.User.Hex(),
		MarketID:  p.MarketID.Hex(),
		Handle:    uint64(p.Handle),
		Liquidity: liq.String(),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []positionJSON `json:"positions"`
}

// ListPositions returns every position held for a user, optionally narrowed
// to one market.
// GET /api/positions?user=0x...&market=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, err := parseAddress("user", q.Get("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user query parameter required")
		return
	}

	if market := q.Get("market"); market != "" {
		id, err := parseHash("market", market)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p, err := h.positions.Position(r.Context(), user, id)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, listPositionsResponse{Positions: []positionJSON{toPositionJSON(p)}})
		return
	}

	views, err := h.positions.Positions(r.Context(), user)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := make([]positionJSON, 0, len(views))
	for _, p := range views {
		out = append(out, toPositionJSON(p))
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: out})
}
