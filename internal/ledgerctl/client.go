// Package ledgerctl is the read side of the ledgerd HTTP API used by the
// ledgerctl command: a small JSON client and table renderers.
package ledgerctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Market mirrors the market object served by GET /api/markets.
type Market struct {
	ID           string     `json:"id"`
	Outcome1     string     `json:"outcome1"`
	Outcome2     string     `json:"outcome2"`
	Description  string     `json:"description"`
	Reward       string     `json:"reward"`
	RequiredBond string     `json:"required_bond"`
	FeeTier      uint32     `json:"fee_tier"`
	State        string     `json:"state"`
	Resolved     bool       `json:"resolved"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Position mirrors one entry of GET /api/positions.
type Position struct {
	User      string    `json:"user"`
	MarketID  string    `json:"market_id"`
	Handle    uint64    `json:"position"`
	Liquidity string    `json:"liquidity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pool mirrors GET /api/markets/{id}/pool.
type Pool struct {
	MarketID     string `json:"market_id"`
	Pool         string `json:"pool"`
	TokenA       string `json:"token_a"`
	TokenB       string `json:"token_b"`
	FeeTier      uint32 `json:"fee_tier"`
	Initialized  bool   `json:"initialized"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	ReserveA     string `json:"reserve_a"`
	ReserveB     string `json:"reserve_b"`
	Liquidity    string `json:"liquidity"`
}

// APIError is a non-2xx response from ledgerd.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledgerd: %d %s", e.Status, e.Message)
}

// Client queries a ledgerd instance.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// NewClient creates a Client for the server at base, e.g.
// "http://localhost:8000". apiKey may be empty.
func NewClient(base, apiKey string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Markets lists markets newest first.
func (c *Client) Markets(ctx context.Context, limit, offset int) ([]Market, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var resp struct {
		Markets []Market `json:"markets"`
	}
	if err := c.get(ctx, "/api/markets", q, &resp); err != nil {
		return nil, err
	}
	return resp.Markets, nil
}

// Positions lists the liquidity positions held for user.
func (c *Client) Positions(ctx context.Context, user string) ([]Position, error) {
	var resp struct {
		Positions []Position `json:"positions"`
	}
	if err := c.get(ctx, "/api/positions", url.Values{"user": {user}}, &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

// Pool returns the pool backing a market.
func (c *Client) Pool(ctx context.Context, marketID string) (Pool, error) {
	var p Pool
	err := c.get(ctx, "/api/markets/"+url.PathEscape(marketID)+"/pool", nil, &p)
	return p, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledgerd: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("ledgerd: read %s: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("ledgerd: decode %s: %w", path, err)
	}
	return nil
}
