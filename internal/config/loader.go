package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LEDGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Address, "LEDGER_LEDGER_ADDRESS")
	setStr(&cfg.Ledger.Collateral, "LEDGER_LEDGER_COLLATERAL")
	setStr(&cfg.Ledger.CollateralSymbol, "LEDGER_LEDGER_COLLATERAL_SYMBOL")
	setInt(&cfg.Ledger.CollateralDecimals, "LEDGER_LEDGER_COLLATERAL_DECIMALS")
	setDuration(&cfg.Ledger.MarketIDWindow, "LEDGER_LEDGER_MARKET_ID_WINDOW")
	setInt(&cfg.Ledger.DefaultFeeTier, "LEDGER_LEDGER_DEFAULT_FEE_TIER")
	setStr(&cfg.Ledger.Identifier, "LEDGER_LEDGER_IDENTIFIER")
	setDuration(&cfg.Ledger.LockTTL, "LEDGER_LEDGER_LOCK_TTL")
	setUint64(&cfg.Ledger.DeployNonce, "LEDGER_LEDGER_DEPLOY_NONCE")

	// ── Custody ──
	setStr(&cfg.Custody.Address, "LEDGER_CUSTODY_ADDRESS")
	setStr(&cfg.Custody.EngineAddress, "LEDGER_CUSTODY_ENGINE_ADDRESS")
	setDuration(&cfg.Custody.LockTTL, "LEDGER_CUSTODY_LOCK_TTL")

	// ── Oracle ──
	setStr(&cfg.Oracle.Address, "LEDGER_ORACLE_ADDRESS")
	setStr(&cfg.Oracle.MinBond, "LEDGER_ORACLE_MIN_BOND")
	setDuration(&cfg.Oracle.Liveness, "LEDGER_ORACLE_LIVENESS")
	setDuration(&cfg.Oracle.SettleInterval, "LEDGER_ORACLE_SETTLE_INTERVAL")
	setInt64(&cfg.Oracle.ChainID, "LEDGER_ORACLE_CHAIN_ID")
	setStr(&cfg.Oracle.PrivateKey, "LEDGER_ORACLE_PRIVATE_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "LEDGER_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "LEDGER_ORACLE_KEY_PASSWORD")
	setDuration(&cfg.Oracle.CallbackMaxAge, "LEDGER_ORACLE_CALLBACK_MAX_AGE")
	setDuration(&cfg.Oracle.FeedPollInterval, "LEDGER_ORACLE_FEED_POLL_INTERVAL")
	setStr(&cfg.Oracle.WebhookSecret, "LEDGER_ORACLE_WEBHOOK_SECRET")
	setDuration(&cfg.Oracle.WebhookMaxSkew, "LEDGER_ORACLE_WEBHOOK_MAX_SKEW")

	// ── Access ──
	setBool(&cfg.Access.Enabled, "LEDGER_ACCESS_ENABLED")
	setStr(&cfg.Access.Owner, "LEDGER_ACCESS_OWNER")
	setStringSlice(&cfg.Access.Whitelist, "LEDGER_ACCESS_WHITELIST")

	// ── Devnet ──
	setBool(&cfg.Devnet.Faucet, "LEDGER_DEVNET_FAUCET")
	setStr(&cfg.Devnet.MaxDrip, "LEDGER_DEVNET_MAX_DRIP")
	setStringSlice(&cfg.Devnet.Accounts, "LEDGER_DEVNET_ACCOUNTS")
	setStr(&cfg.Devnet.InitialBalance, "LEDGER_DEVNET_INITIAL_BALANCE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEDGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "LEDGER_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.MarketCacheTTL, "LEDGER_REDIS_MARKET_CACHE_TTL")
	setDuration(&cfg.Redis.StreamBlock, "LEDGER_REDIS_STREAM_BLOCK")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEDGER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "LEDGER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "LEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEDGER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LEDGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LEDGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LEDGER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "LEDGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LEDGER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LEDGER_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "LEDGER_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "LEDGER_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Lookback, "LEDGER_ARCHIVE_LOOKBACK")

	// ── Top-level ──
	setStr(&cfg.Mode, "LEDGER_MODE")
	setStr(&cfg.LogLevel, "LEDGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
