package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be below pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

// request changes a client's filters, e.g.
// {"action":"subscribe","channels":["markets"],"markets":["0xabc..."]}.
// An empty market filter delivers every market.
type request struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Markets  []string `json:"markets"`
}

// frame is a hub-originated message.
type frame struct {
	Event     string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte

	mu       sync.RWMutex
	channels map[string]bool
	markets  map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn, remote string) *client {
	c := &client{
		hub:      h,
		conn:     conn,
		remote:   remote,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]bool, len(Channels)),
		markets:  make(map[string]bool),
	}
	for _, ch := range Channels {
		c.channels[ch] = true
	}
	return c
}

func (c *client) wants(evt event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.channels[evt.channel] {
		return false
	}
	return len(c.markets) == 0 || c.markets[evt.marketID]
}

// apply updates the filters and returns the acknowledgement frame.
func (c *client) apply(req request) frame {
	for _, ch := range req.Channels {
		if !slices.Contains(Channels, ch) {
			return frame{Event: "error", Error: fmt.Sprintf("unknown channel %q", ch), Timestamp: time.Now().UTC()}
		}
	}

	c.mu.Lock()
	switch req.Action {
	case "subscribe":
		for _, ch := range req.Channels {
			c.channels[ch] = true
		}
		for _, m := range req.Markets {
			c.markets[strings.ToLower(m)] = true
		}
	case "unsubscribe":
		for _, ch := range req.Channels {
			delete(c.channels, ch)
		}
		for _, m := range req.Markets {
			delete(c.markets, strings.ToLower(m))
		}
	default:
		c.mu.Unlock()
		return frame{Event: "error", Error: fmt.Sprintf("unknown action %q", req.Action), Timestamp: time.Now().UTC()}
	}
	channels, markets := keys(c.channels), keys(c.markets)
	c.mu.Unlock()

	return frame{
		Event:     "subscriptions",
		Fields:    map[string]any{"channels": channels, "markets": markets},
		Timestamp: time.Now().UTC(),
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// reply queues f without blocking. Clients already removed from the hub are
// skipped since their send channel is closed.
func (c *client) reply(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(frame{Event: "error", Error: "malformed request", Timestamp: time.Now().UTC()})
			continue
		}
		c.reply(c.apply(req))
	}
}

// writePump owns all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
