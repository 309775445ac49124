package ledgerctl_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/ledgerctl"
)

const marketID = "0x5c1f0e8e2a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7f8091a2b3c4d5"

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{"markets": []map[string]any{{
			"id":            marketID,
			"outcome1":      "Yes",
			"outcome2":      "No",
			"reward":        "2500000",
			"required_bond": "100000000",
			"fee_tier":      3000,
			"state":         "resolved",
			"resolved":      true,
			"created_at":    time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
		}}})
	})
	mux.HandleFunc("GET /api/positions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user") == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "user query parameter required"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"positions": []map[string]any{{
			"user": r.URL.Query().Get("user"), "market_id": marketID, "position": 7, "liquidity": "4242",
		}}})
	})
	mux.HandleFunc("GET /api/markets/{id}/pool", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"market_id":      r.PathValue("id"),
			"pool":           "0x00000000000000000000000000000000000000aa",
			"fee_tier":       3000,
			"initialized":    true,
			"sqrt_price_x96": "79228162514264337593543950336",
			"reserve_a":      "1000",
			"reserve_b":      "1000",
			"liquidity":      "1000",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMarketsTable(t *testing.T) {
	srv := fakeServer(t)
	c := ledgerctl.NewClient(srv.URL+"/", "secret")

	markets, err := c.Markets(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.True(t, markets[0].Resolved)

	var out bytes.Buffer
	require.NoError(t, ledgerctl.Renderer{Out: &out, Decimals: 6}.Markets(markets))
	s := out.String()
	assert.Contains(t, s, "0x5c1f0e..c4d5")
	assert.Contains(t, s, "Yes / No")
	assert.Contains(t, s, "2.5")
	assert.Contains(t, s, "100")
	assert.Contains(t, s, "0.3%")
	assert.Contains(t, s, "1 markets, 1 resolved")
}

func TestPositionsAndPool(t *testing.T) {
	srv := fakeServer(t)
	c := ledgerctl.NewClient(srv.URL, "")
	r := ledgerctl.Renderer{Decimals: 6}

	positions, err := c.Positions(context.Background(), "0x00000000000000000000000000000000000000b0")
	require.NoError(t, err)
	var out bytes.Buffer
	r.Out = &out
	require.NoError(t, r.Positions("0xb0", positions))
	assert.Contains(t, out.String(), "4242")

	pool, err := c.Pool(context.Background(), marketID)
	require.NoError(t, err)
	assert.Equal(t, marketID, pool.MarketID)
	out.Reset()
	require.NoError(t, r.Pool(pool))
	// sqrtPriceX96 of 2^96 is a price of exactly one.
	assert.Contains(t, out.String(), "1.000000")
}

func TestAPIError(t *testing.T) {
	srv := fakeServer(t)
	_, err := ledgerctl.NewClient(srv.URL, "").Positions(context.Background(), "")

	var apiErr *ledgerctl.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "user query parameter required", apiErr.Message)
}

func TestEmptyListings(t *testing.T) {
	var out bytes.Buffer
	r := ledgerctl.Renderer{Out: &out}
	require.NoError(t, r.Markets(nil))
	require.NoError(t, r.Positions("0xb0", nil))
	assert.Equal(t, "no markets\nno positions for 0xb0\n", out.String())
}
