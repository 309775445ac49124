// Package server is the HTTP and WebSocket API in front of the market ledger
// and the position custodian.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/outcomeledger/internal/crypto"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/server/handler"
	"github.com/alanyoungcy/outcomeledger/internal/server/middleware"
	"github.com/alanyoungcy/outcomeledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// CallbackMAC authenticates relays posting to the callback webhook.
	CallbackMAC crypto.RequestMAC

	// RateLimit is the number of requests a caller may make per RateWindow;
	// zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Oracle and Devnet are optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Liquidity *handler.LiquidityHandler
	Positions *handler.PositionHandler
	Oracle    *handler.OracleHandler
	Devnet    *handler.DevnetHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

const (
	healthPath   = "/api/health"
	callbackPath = "/api/oracle/callback"
)

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, cfg, handlers, wsHub)

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	// Relays authenticate the callback webhook with a request MAC instead.
	h = middleware.Auth(cfg.APIKey, healthPath, callbackPath)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

func registerRoutes(mux *http.ServeMux, cfg Config, handlers Handlers, wsHub *ws.Hub) {
	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)

	// Market lifecycle.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.OpenMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/mint", handlers.Markets.Mint)
	mux.HandleFunc("POST /api/markets/{id}/mint-with-liquidity", handlers.Markets.MintWithLiquidity)
	mux.HandleFunc("POST /api/markets/{id}/redeem", handlers.Markets.Redeem)
	mux.HandleFunc("POST /api/markets/{id}/assert", handlers.Markets.Assert)
	mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Markets.Settle)

	// Pool custody.
	mux.HandleFunc("GET /api/markets/{id}/pool", handlers.Liquidity.GetPool)
	mux.HandleFunc("POST /api/markets/{id}/liquidity", handlers.Liquidity.AddLiquidity)
	mux.HandleFunc("POST /api/markets/{id}/liquidity/remove", handlers.Liquidity.RemoveLiquidity)
	mux.HandleFunc("POST /api/markets/{id}/swap", handlers.Liquidity.Swap)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)

	if o := handlers.Oracle; o != nil {
		mux.Handle("POST "+callbackPath, middleware.Signed(cfg.CallbackMAC, nil)(http.HandlerFunc(o.Callback)))
		mux.HandleFunc("GET /api/oracle/assertions/{id}", o.GetAssertion)
		mux.HandleFunc("POST /api/oracle/assertions/{id}/settle", o.SettleAssertion)
		mux.HandleFunc("POST /api/oracle/assertions/{id}/dispute", o.DisputeAssertion)
		mux.HandleFunc("POST /api/oracle/assertions/{id}/resolve", o.ResolveAssertion)
	}

	if d := handlers.Devnet; d != nil {
		mux.HandleFunc("POST /api/devnet/faucet", d.Faucet)
		mux.HandleFunc("POST /api/devnet/approve", d.Approve)
		mux.HandleFunc("GET /api/devnet/balances/{address}", d.Balance)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Handler returns the server's root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
