// Package ws relays ledger and custody lifecycle events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Channels lists the bus channels the hub relays. Clients start subscribed to
// all of them.
var Channels = []string{
	domain.ChannelMarkets,
	domain.ChannelLiquidity,
}

// Config captures runtime metadata used in the status frame sent to clients
// on connect.
type Config struct {
	Mode      string
	Ledger    string
	Custodian string
	StartedAt time.Time
	// Origins restricts browser upgrades; empty or "*" allows any origin.
	Origins []string
}

// Hub fans events from the signal bus out to connected clients.
type Hub struct {
	bus      domain.SignalBus
	logger   *slog.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// event is one bus payload routed by channel and market.
type event struct {
	channel  string
	marketID string
	data     []byte
}

// NewHub creates a Hub over bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws_hub")),
		cfg:     cfg,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.Origins) == 0 {
		return true
	}
	return slices.ContainsFunc(h.cfg.Origins, func(o string) bool {
		return o == "*" || strings.EqualFold(o, origin)
	})
}

// Run relays bus events until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	events := make(chan event, 256)
	var wg sync.WaitGroup
	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.forward(ctx, ch, msgs, events)
		}()
	}
	h.logger.Info("ws: relaying", slog.Any("channels", Channels))

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			wg.Wait()
			return ctx.Err()
		case evt := <-events:
			h.deliver(evt)
		}
	}
}

// forward decodes bus payloads for routing. Payloads that are not events are
// dropped.
func (h *Hub) forward(ctx context.Context, channel string, msgs <-chan []byte, out chan<- event) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			var evt domain.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("channel", channel), slog.String("error", err.Error()))
				continue
			}
			select {
			case out <- event{channel: channel, marketID: strings.ToLower(evt.MarketID), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) deliver(evt event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(evt) {
			continue
		}
		select {
		case c.send <- evt.data:
		default:
			h.logger.Warn("ws: dropping event for slow client", slog.String("remote", c.remote))
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.String("remote", c.remote), slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws: client disconnected", slog.String("remote", c.remote), slog.Int("clients", len(h.clients)))
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, r.RemoteAddr)
	if !h.add(c) {
		conn.Close()
		return
	}
	c.reply(h.status())

	go c.writePump()
	go c.readPump()
}

func (h *Hub) status() frame {
	uptime := max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0)
	return frame{
		Event: "ledger_status",
		Fields: map[string]any{
			"mode":           h.cfg.Mode,
			"ledger":         h.cfg.Ledger,
			"custodian":      h.cfg.Custodian,
			"channels":       Channels,
			"uptime_seconds": uptime,
		},
		Timestamp: time.Now().UTC(),
	}
}
