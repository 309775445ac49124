package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/cache/local"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/server/ws"
)

type frame struct {
	Event    string         `json:"event"`
	MarketID string         `json:"market_id"`
	Fields   map[string]any `json:"fields"`
	Error    string         `json:"error"`
}

func startHub(t *testing.T, cfg ws.Config) (*local.SignalBus, string) {
	t.Helper()
	bus := local.NewSignalBus()
	hub := ws.NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHub_StatusFiltersAndRelay(t *testing.T) {
	bus, url := startHub(t, ws.Config{Mode: "Memory", Ledger: "0x1ed6e0"})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	status := read(t, conn)
	assert.Equal(t, "ledger_status", status.Event)
	assert.Equal(t, "memory", status.Fields["mode"])
	assert.Equal(t, "0x1ed6e0", status.Fields["ledger"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "markets": []string{"0xAA"}}))
	ack := read(t, conn)
	assert.Equal(t, "subscriptions", ack.Event)
	assert.Equal(t, []any{"0xaa"}, ack.Fields["markets"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "channels": []string{"orders"}}))
	assert.Equal(t, "error", read(t, conn).Event)

	// The hub subscribes to the bus asynchronously; publish until relayed.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		other, _ := json.Marshal(domain.Event{Type: domain.EventMarketAsserted, MarketID: "0xbb"})
		mine, _ := json.Marshal(domain.Event{Type: domain.EventMarketAsserted, MarketID: "0xAA"})
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = bus.Publish(context.Background(), domain.ChannelMarkets, other)
				_ = bus.Publish(context.Background(), domain.ChannelMarkets, mine)
			}
		}
	}()

	evt := read(t, conn)
	assert.Equal(t, domain.EventMarketAsserted, evt.Event)
	assert.Equal(t, "0xAA", evt.MarketID)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, url := startHub(t, ws.Config{Origins: []string{"http://localhost:3000"}})

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	conn.Close()
}
