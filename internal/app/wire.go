package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/outcomeledger/internal/blob/s3"
	"github.com/alanyoungcy/outcomeledger/internal/cache/local"
	"github.com/alanyoungcy/outcomeledger/internal/cache/redis"
	"github.com/alanyoungcy/outcomeledger/internal/config"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
	"github.com/alanyoungcy/outcomeledger/internal/notify"
	"github.com/alanyoungcy/outcomeledger/internal/server/handler"
	"github.com/alanyoungcy/outcomeledger/internal/store/memory"
	"github.com/alanyoungcy/outcomeledger/internal/store/postgres"
)

// Dependencies bundles the storage, cache and messaging implementations the
// ledger components run on. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore    domain.MarketStore
	AssertionStore domain.AssertionStore
	PoolStore      domain.PoolStore
	PositionStore  domain.PositionStore
	AuditStore     domain.AuditStore

	// Caches
	MarketCache domain.MarketCache // nil in memory mode
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage, full mode with archiving only.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Notifications
	Notifier *notify.Notifier

	// Health lists the external services /api/health checks.
	Health map[string]handler.Pinger
}

// needsInfrastructure returns true for modes backed by Postgres and Redis.
func needsInfrastructure(mode string) bool {
	return mode == config.ModeFull
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	if !needsInfrastructure(cfg.Mode) {
		deps.MarketStore = memory.NewMarketStore()
		deps.AssertionStore = memory.NewAssertionStore()
		deps.PoolStore = memory.NewPoolStore()
		deps.PositionStore = memory.NewPositionStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.LockManager = local.NewLockManager()
		deps.SignalBus = local.NewSignalBus()
		if cfg.Server.RateLimit > 0 {
			deps.RateLimiter = local.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		}
		deps.Notifier = newNotifier(cfg, logger)
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Health["postgres"] = pgClient

	// Run migrations if enabled.
	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.AssertionStore = postgres.NewAssertionStore(pool)
	deps.PoolStore = postgres.NewPoolStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Health["redis"] = redisClient

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamBlock.Duration)
	if cfg.Redis.MarketCacheTTL.Duration > 0 {
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketCacheTTL.Duration)
	}
	if cfg.Server.RateLimit > 0 {
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	}

	// --- S3 blob storage (only when archiving) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Health["s3"] = handler.PingFunc(s3Client.Health)

		store := s3blob.NewStore(s3Client)
		deps.BlobWriter = store
		deps.BlobReader = store
	}

	deps.Notifier = newNotifier(cfg, logger)

	return deps, cleanup, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, int32(cfg.Ledger.CollateralDecimals), logger)
}
