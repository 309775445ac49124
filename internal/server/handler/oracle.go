package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/crypto"
	"github.com/alanyoungcy/outcomeledger/internal/oracle/memoracle"
)

// CallbackDispatcher verifies a signed oracle callback and delivers it.
type CallbackDispatcher interface {
	Dispatch(ctx context.Context, env crypto.Envelope) error
}

// OracleDesk drives the in-process oracle.
type OracleDesk interface {
	Get(id common.Hash) (memoracle.Assertion, error)
	Settle(ctx context.Context, id common.Hash) error
	Dispute(ctx context.Context, id common.Hash, disputer common.Address) error
	ResolveDispute(ctx context.Context, id common.Hash, truthful bool) error
}

// OracleHandler serves the callback webhook and, when an in-process oracle
// is running, its assertion endpoints. Either dependency may be nil.
type OracleHandler struct {
	dispatcher CallbackDispatcher
	desk       OracleDesk
	logger     *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(dispatcher CallbackDispatcher, desk OracleDesk, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		dispatcher: dispatcher,
		desk:       desk,
		logger:     logHandler(logger, "oracle"),
	}
}

// Callback accepts a signed resolution or dispute envelope from a relay.
// The envelope signer must be the ledger's oracle.
// POST /api/oracle/callback
func (h *OracleHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		writeError(w, http.StatusNotFound, "callback webhook disabled")
		return
	}
	var env crypto.Envelope
	if err := decodeBody(r, &env); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.dispatcher.Dispatch(r.Context(), env); err != nil {
		h.logger.WarnContext(r.Context(), "callback rejected",
			slog.String("kind", env.Kind),
			slog.String("assertion_id", env.AssertionID.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered", "assertion_id": env.AssertionID.Hex()})
}

type oracleAssertionJSON struct {
	ID                string    `json:"id"`
	Claim             string    `json:"claim"`
	Asserter          string    `json:"asserter"`
	CallbackRecipient string    `json:"callback_recipient"`
	Currency          string    `json:"currency"`
	Bond              string    `json:"bond"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Disputer          string    `json:"disputer,omitempty"`
	Status            string    `json:"status"`
	Truthful          bool      `json:"truthful"`
}

// GetAssertion returns the oracle's record of an assertion.
// GET /api/oracle/assertions/{id}
func (h *OracleHandler) GetAssertion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.assertionID(w, r)
	if !ok {
		return
	}
	a, err := h.desk.Get(id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := oracleAssertionJSON{
		ID:                a.ID.Hex(),
		Claim:             a.Claim,
		Asserter:          a.Asserter.Hex(),
		CallbackRecipient: a.CallbackRecipient.Hex(),
		Currency:          a.Currency.Hex(),
		Bond:              amountString(a.Bond),
		CreatedAt:         a.CreatedAt,
		ExpiresAt:         a.ExpiresAt,
		Status:            string(a.Status),
		Truthful:          a.Truthful,
	}
	if a.Disputer != (common.Address{}) {
		out.Disputer = a.Disputer.Hex()
	}
	writeJSON(w, http.StatusOK, out)
}

// SettleAssertion settles an undisputed assertion whose liveness expired.
// POST /api/oracle/assertions/{id}/settle
func (h *OracleHandler) SettleAssertion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.assertionID(w, r)
	if !ok {
		return
	}
	if err := h.desk.Settle(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assertion_id": id.Hex(), "status": string(memoracle.StatusSettled)})
}

// DisputeAssertion disputes a pending assertion, posting the caller's bond.
// POST /api/oracle/assertions/{id}/dispute
func (h *OracleHandler) DisputeAssertion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.assertionID(w, r)
	if !ok {
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.desk.Dispute(r.Context(), id, caller); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assertion_id": id.Hex(), "status": string(memoracle.StatusDisputed)})
}

type resolveRequest struct {
	Truthful bool `json:"truthful"`
}

// ResolveAssertion delivers the arbitration verdict for a disputed
// assertion.
// POST /api/oracle/assertions/{id}/resolve
func (h *OracleHandler) ResolveAssertion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.assertionID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.desk.ResolveDispute(r.Context(), id, req.Truthful); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assertion_id": id.Hex(), "status": string(memoracle.StatusSettled), "truthful": req.Truthful})
}

func (h *OracleHandler) assertionID(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	if h.desk == nil {
		writeError(w, http.StatusNotFound, "oracle endpoints disabled")
		return common.Hash{}, false
	}
	id, err := parseHash("id", pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, false
	}
	return id, true
}
