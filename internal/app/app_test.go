package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/app"
	"github.com/alanyoungcy/outcomeledger/internal/config"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/service"
)

const alice = "0x0000000000000000000000000000000000a11ce0"

type api struct {
	t   *testing.T
	h   http.Handler
	cfg config.Config
}

func newAPI(t *testing.T) *api {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.Server.RateLimit = 0
	cfg.Oracle.Liveness.Duration = time.Millisecond
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := app.Wire(ctx, &cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	comps, err := app.Build(ctx, &cfg, deps, logger)
	require.NoError(t, err)
	assert.Nil(t, comps.Feed, "memory mode calls the ledger directly")

	markets := service.NewMarketService(comps.Ledger, nil, nil, logger)
	srv := app.NewHTTPServer(&cfg, deps, comps, markets, nil, logger)
	return &api{t: t, h: srv.Handler(), cfg: cfg}
}

func (a *api) do(method, path string, body any, want int) map[string]any {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Caller-Address", alice)
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	require.Equal(a.t, want, rec.Code, "%s %s: %s", method, path, rec.Body.String())

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return out
}

func TestMemoryMode_MarketLifecycle(t *testing.T) {
	a := newAPI(t)

	a.do(http.MethodGet, "/api/health", nil, http.StatusOK)

	a.do(http.MethodPost, "/api/devnet/faucet", map[string]string{"to": alice, "amount": "5000"}, http.StatusOK)
	a.do(http.MethodPost, "/api/devnet/approve", map[string]string{
		"token":   a.cfg.Ledger.Collateral,
		"spender": a.cfg.Ledger.Address,
		"amount":  "5000",
	}, http.StatusOK)

	opened := a.do(http.MethodPost, "/api/markets", map[string]any{
		"outcome1":      "Yes",
		"outcome2":      "No",
		"description":   "Will the bridge reopen before March?",
		"reward":        "0",
		"required_bond": "0",
	}, http.StatusCreated)
	id := opened["market_id"].(string)
	require.NotEmpty(t, id)

	a.do(http.MethodPost, "/api/markets/"+id+"/mint", map[string]string{"amount": "1000"}, http.StatusOK)

	view := a.do(http.MethodGet, "/api/markets/"+id, nil, http.StatusOK)
	assert.Equal(t, "1000", view["outcome1_supply"])
	assert.Equal(t, "1000", view["outcome2_supply"])

	asserted := a.do(http.MethodPost, "/api/markets/"+id+"/assert", map[string]string{"outcome": "Yes"}, http.StatusAccepted)
	assertionID := asserted["assertion_id"].(string)

	// A second assertion while one is live is a state conflict.
	a.do(http.MethodPost, "/api/markets/"+id+"/assert", map[string]string{"outcome": "No"}, http.StatusConflict)

	time.Sleep(5 * time.Millisecond)
	a.do(http.MethodPost, "/api/oracle/assertions/"+assertionID+"/settle", nil, http.StatusOK)

	view = a.do(http.MethodGet, "/api/markets/"+id, nil, http.StatusOK)
	assert.Equal(t, true, view["resolved"])

	settled := a.do(http.MethodPost, "/api/markets/"+id+"/settle", nil, http.StatusOK)
	assert.Equal(t, "1000", settled["payout"])

	bal := a.do(http.MethodGet, "/api/devnet/balances/"+alice, nil, http.StatusOK)
	assert.Equal(t, "5000", bal["balance"], "minted 1000, settled 1000 back")
}

func TestMemoryMode_Errors(t *testing.T) {
	a := newAPI(t)

	a.do(http.MethodGet, "/api/markets/0x"+string(bytes.Repeat([]byte("ab"), 32)), nil, http.StatusNotFound)
	a.do(http.MethodGet, "/api/markets/nothex", nil, http.StatusBadRequest)

	// No collateral approved.
	a.do(http.MethodPost, "/api/markets", map[string]any{
		"outcome1":      "Yes",
		"outcome2":      "No",
		"description":   "Unfunded reward",
		"reward":        "10",
		"required_bond": "0",
	}, http.StatusConflict)

	a.do(http.MethodPost, "/api/oracle/callback", map[string]string{}, http.StatusUnauthorized)
}

func TestBuild_RefusesStoredMarkets(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := app.Wire(ctx, &cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	require.NoError(t, deps.MarketStore.Create(ctx, domain.Market{
		ID:          common.HexToHash("0x01"),
		Outcome1:    "Yes",
		Outcome2:    "No",
		Description: "left over from an earlier run",
		Reward:      big.NewInt(0),
		Collateral:  big.NewInt(0),
		CreatedAt:   time.Now(),
	}))

	_, err = app.Build(ctx, &cfg, deps, logger)
	assert.ErrorIs(t, err, domain.ErrUnrecoverableState)
}
