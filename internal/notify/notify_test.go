package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/notify"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", notify.FormatAmount("1500000", 6))
	assert.Equal(t, "0.000001", notify.FormatAmount("1", 6))
	assert.Equal(t, "42", notify.FormatAmount("42", 0))
	assert.Equal(t, "oops", notify.FormatAmount("oops", 6))
}

func TestFormatEvent(t *testing.T) {
	title, body := notify.FormatEvent(domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: "0xabc",
		Actor:    "0x01",
		Fields:   map[string]string{"reward": "2500000", "outcome": "Yes"},
	}, 6)
	assert.Equal(t, "Market resolved", title)
	assert.Equal(t, "market: 0xabc\nby: 0x01\noutcome: Yes\nreward: 2.5", body)
}

func TestNotifier_FiltersAndDelivers(t *testing.T) {
	type embed struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	var got []embed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Username string  `json:"username"`
			Embeds   []embed `json:"embeds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Embeds, 1)
		assert.Equal(t, "ledgerd", payload.Username)
		got = append(got, payload.Embeds...)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := notify.NewNotifier([]notify.Sender{notify.NewDiscordSender(srv.URL)}, []string{domain.EventMarketResolved}, 6, logger)
	assert.True(t, n.Enabled())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, domain.Event{Type: domain.EventTokensCreated, MarketID: "0x1"}))
	assert.Empty(t, got)

	require.NoError(t, n.Notify(ctx, domain.Event{Type: domain.EventMarketResolved, MarketID: "0x1"}))
	require.Len(t, got, 1)
	assert.Equal(t, "Market resolved", got[0].Title)
	assert.Contains(t, got[0].Description, "market: 0x1")
}

func TestTelegramSender_ReportsStatus(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := notify.NewTelegramSender("tok", "42").WithAPIBase(srv.URL)
	err := s.Send(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "unexpected status 401")
	assert.Equal(t, "/bottok/sendMessage", path)
}
