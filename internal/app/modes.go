package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/outcomeledger/internal/blob/s3"
	"github.com/alanyoungcy/outcomeledger/internal/config"
	"github.com/alanyoungcy/outcomeledger/internal/crypto"
	"github.com/alanyoungcy/outcomeledger/internal/feed"
	"github.com/alanyoungcy/outcomeledger/internal/server"
	"github.com/alanyoungcy/outcomeledger/internal/server/handler"
	"github.com/alanyoungcy/outcomeledger/internal/server/ws"
	"github.com/alanyoungcy/outcomeledger/internal/service"
)

// MemoryMode runs the ledger entirely in process: memory stores, the local
// bus and direct oracle callbacks.
func (a *App) MemoryMode(ctx context.Context, deps *Dependencies, c *Components) error {
	a.logger.InfoContext(ctx, "starting memory mode",
		slog.String("ledger", c.Ledger.Address().Hex()),
		slog.String("oracle", c.Oracle.Address().Hex()),
	)

	g, ctx := errgroup.WithContext(ctx)
	markets := a.startCore(ctx, g, deps, c)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, markets)
	}

	return g.Wait()
}

// FullMode runs the ledger on Postgres and Redis. Oracle callbacks travel
// signed through the callback stream, and resolved markets and the audit log
// are exported to S3.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, c *Components) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.String("ledger", c.Ledger.Address().Hex()),
		slog.String("oracle", c.Oracle.Address().Hex()),
	)

	g, ctx := errgroup.WithContext(ctx)
	markets := a.startCore(ctx, g, deps, c)

	// Signed callback stream -> ledger.
	if c.Feed != nil {
		g.Go(func() error {
			return c.Feed.Run(ctx)
		})
	}

	// Archiver: periodic export of resolved markets and audit entries.
	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		archiver := s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.MarketStore, deps.AuditStore, a.logger)
		start := time.Now().UTC().Add(-a.cfg.Archive.Lookback.Duration)
		g.Go(func() error {
			return archiver.Run(ctx, start, a.cfg.Archive.Interval.Duration)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, markets)
	}

	return g.Wait()
}

// startCore adds the goroutines both modes share: market cache coherence,
// liveness settlement and event notifications.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *Components) *service.MarketService {
	markets := service.NewMarketService(c.Ledger, deps.MarketCache, deps.SignalBus, a.logger)
	g.Go(func() error {
		return markets.Run(ctx)
	})

	if d := a.cfg.Oracle.SettleInterval.Duration; d > 0 {
		settler := service.NewLivenessSettler(c.Oracle, d, a.logger)
		g.Go(func() error {
			return settler.Run(ctx)
		})
	}

	if deps.Notifier.Enabled() {
		notifier := feed.NewEventNotifier(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error {
			return notifier.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "notifications disabled (no telegram or discord configured)")
	}

	return markets
}

// startHTTPServer adds the API server and its WebSocket hub to the given
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *Components, markets *service.MarketService) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Ledger:    c.Ledger.Address().Hex(),
		Custodian: c.Custodian.Address().Hex(),
		StartedAt: time.Now().UTC(),
		Origins:   a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := NewHTTPServer(a.cfg, deps, c, markets, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// NewHTTPServer builds the API server over the ledger components. hub may be
// nil.
func NewHTTPServer(
	cfg *config.Config,
	deps *Dependencies,
	c *Components,
	markets *service.MarketService,
	hub *ws.Hub,
	logger *slog.Logger,
) *server.Server {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(cfg.Mode, deps.Health, logger),
		Markets:   handler.NewMarketHandler(c.Ledger, markets, logger),
		Liquidity: handler.NewLiquidityHandler(c.Custodian, logger),
		Positions: handler.NewPositionHandler(c.Custodian, logger),
	}

	if c.Feed != nil {
		handlers.Oracle = handler.NewOracleHandler(c.Feed, c.Oracle, logger)
	} else {
		handlers.Oracle = handler.NewOracleHandler(nil, c.Oracle, logger)
	}

	if cfg.Devnet.Faucet {
		maxDrip, err := config.Amount(cfg.Devnet.MaxDrip)
		if err != nil {
			logger.Warn("devnet faucet disabled", slog.String("error", err.Error()))
		} else {
			handlers.Devnet = handler.NewDevnetHandler(c.Faucet, c.Collateral.Address(), c.Registry, maxDrip, logger)
		}
	}

	return server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		CallbackMAC: crypto.RequestMAC{
			Secret:  cfg.Oracle.WebhookSecret,
			MaxSkew: cfg.Oracle.WebhookMaxSkew.Duration,
		},
		RateLimit:  cfg.Server.RateLimit,
		RateWindow: cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, logger)
}
