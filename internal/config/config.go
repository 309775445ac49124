// Package config defines the top-level configuration for the ledger service
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LEDGER_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Custody  CustodyConfig  `toml:"custody"`
	Oracle   OracleConfig   `toml:"oracle"`
	Access   AccessConfig   `toml:"access"`
	Devnet   DevnetConfig   `toml:"devnet"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the market ledger's identity and market parameters.
type LedgerConfig struct {
	Address            string   `toml:"address"`
	Collateral         string   `toml:"collateral"`
	CollateralSymbol   string   `toml:"collateral_symbol"`
	CollateralDecimals int      `toml:"collateral_decimals"`
	MarketIDWindow     duration `toml:"market_id_window"`
	DefaultFeeTier     int      `toml:"default_fee_tier"`
	Identifier         string   `toml:"identifier"`
	LockTTL            duration `toml:"lock_ttl"`
	// DeployNonce seeds outcome token address derivation. Restarting with a
	// nonce that was already used reissues the same addresses.
	DeployNonce uint64 `toml:"deploy_nonce"`
}

// CustodyConfig holds the position custodian and liquidity engine accounts.
type CustodyConfig struct {
	Address       string   `toml:"address"`
	EngineAddress string   `toml:"engine_address"`
	LockTTL       duration `toml:"lock_ttl"`
}

// OracleConfig holds the optimistic oracle parameters and the key that signs
// its callbacks in full mode.
type OracleConfig struct {
	// Address is the oracle account in memory mode. In full mode the oracle
	// is the callback signer's address.
	Address  string   `toml:"address"`
	MinBond  string   `toml:"min_bond"`
	Liveness duration `toml:"liveness"`
	// SettleInterval is how often expired assertions are settled; zero
	// leaves settlement to the API.
	SettleInterval duration `toml:"settle_interval"`

	ChainID          int64    `toml:"chain_id"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	CallbackMaxAge   duration `toml:"callback_max_age"`
	FeedPollInterval duration `toml:"feed_poll_interval"`

	// WebhookSecret authenticates relays on POST /api/oracle/callback.
	WebhookSecret  string   `toml:"webhook_secret"`
	WebhookMaxSkew duration `toml:"webhook_max_skew"`
}

// AccessConfig holds the market-creation whitelist.
type AccessConfig struct {
	Enabled   bool     `toml:"enabled"`
	Owner     string   `toml:"owner"`
	Whitelist []string `toml:"whitelist"`
}

// DevnetConfig holds the in-process collateral faucet settings.
type DevnetConfig struct {
	Faucet  bool   `toml:"faucet"`
	MaxDrip string `toml:"max_drip"`
	// Accounts are funded with InitialBalance at startup.
	Accounts       []string `toml:"accounts"`
	InitialBalance string   `toml:"initial_balance"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	KeyPrefix      string   `toml:"key_prefix"`
	MarketCacheTTL duration `toml:"market_cache_ttl"`
	StreamBlock    duration `toml:"stream_block"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig holds the S3 export schedule used in full mode.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	// Lookback is how far before startup the first window begins.
	Lookback duration `toml:"lookback"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Address:            "0x00000000000000000000000000000000001ed6e0",
			Collateral:         "0x0000000000000000000000000000000000000c01",
			CollateralSymbol:   "USDC",
			CollateralDecimals: 6,
			MarketIDWindow:     duration{12 * time.Second},
			DefaultFeeTier:     3000,
			Identifier:         "ASSERT_TRUTH",
			LockTTL:            duration{30 * time.Second},
			DeployNonce:        1,
		},
		Custody: CustodyConfig{
			Address:       "0x000000000000000000000000000000000000c057",
			EngineAddress: "0x00000000000000000000000000000000000e6e00",
			LockTTL:       duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			Address:          "0x000000000000000000000000000000000000a7c1",
			MinBond:          "0",
			Liveness:         duration{2 * time.Hour},
			SettleInterval:   duration{30 * time.Second},
			ChainID:          31337,
			CallbackMaxAge:   duration{10 * time.Minute},
			FeedPollInterval: duration{250 * time.Millisecond},
			WebhookMaxSkew:   duration{5 * time.Minute},
		},
		Devnet: DevnetConfig{
			Faucet:         true,
			MaxDrip:        "1000000000000",
			InitialBalance: "0",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			KeyPrefix:      "ledger",
			MarketCacheTTL: duration{time.Minute},
			StreamBlock:    duration{2 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ledger-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_asserted", "market_resolved", "assertion_rejected", "assertion_disputed"},
		},
		Archive: ArchiveConfig{
			Enabled:  true,
			Interval: duration{time.Hour},
			Lookback: duration{24 * time.Hour},
		},
		Mode:     "memory",
		LogLevel: "info",
	}
}

// Modes.
const (
	ModeMemory = "memory"
	ModeFull   = "full"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeMemory: true,
	ModeFull:   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validFeeTiers = map[int]bool{500: true, 3000: true, 10000: true}

// Address parses a configured hex address. Call after Validate.
func Address(s string) common.Address { return common.HexToAddress(s) }

// Amount parses a configured base-unit amount. Empty is zero.
func Amount(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	addr := func(field, v string) {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("%s: %q is not a hex address", field, v))
		}
	}
	amount := func(field, v string) {
		if _, err := Amount(v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
		}
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: memory, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	addr("ledger.address", c.Ledger.Address)
	addr("ledger.collateral", c.Ledger.Collateral)
	if c.Ledger.CollateralDecimals < 0 || c.Ledger.CollateralDecimals > 36 {
		errs = append(errs, fmt.Sprintf("ledger: collateral_decimals must be 0-36, got %d", c.Ledger.CollateralDecimals))
	}
	if c.Ledger.MarketIDWindow.Duration < time.Second {
		errs = append(errs, "ledger: market_id_window must be at least 1s")
	}
	if !validFeeTiers[c.Ledger.DefaultFeeTier] {
		errs = append(errs, fmt.Sprintf("ledger: default_fee_tier must be 500, 3000 or 10000, got %d", c.Ledger.DefaultFeeTier))
	}
	if c.Ledger.Identifier == "" || len(c.Ledger.Identifier) > 32 {
		errs = append(errs, "ledger: identifier must be 1-32 bytes")
	}

	// Custody
	addr("custody.address", c.Custody.Address)
	addr("custody.engine_address", c.Custody.EngineAddress)
	if strings.EqualFold(c.Custody.Address, c.Ledger.Address) {
		errs = append(errs, "custody: address must differ from ledger.address")
	}

	// Oracle
	amount("oracle.min_bond", c.Oracle.MinBond)
	if c.Oracle.Liveness.Duration <= 0 {
		errs = append(errs, "oracle: liveness must be > 0")
	}
	if mode == ModeMemory {
		addr("oracle.address", c.Oracle.Address)
	}
	if mode == ModeFull {
		if c.Oracle.PrivateKey == "" && c.Oracle.EncryptedKeyPath == "" {
			errs = append(errs, "oracle: either private_key or encrypted_key_path must be set for mode full")
		}
		if c.Oracle.EncryptedKeyPath != "" && c.Oracle.KeyPassword == "" {
			errs = append(errs, "oracle: key_password is required when encrypted_key_path is set")
		}
		if c.Oracle.ChainID <= 0 {
			errs = append(errs, "oracle: chain_id must be positive")
		}
	}

	// Access
	if c.Access.Enabled {
		addr("access.owner", c.Access.Owner)
		for i, a := range c.Access.Whitelist {
			addr(fmt.Sprintf("access.whitelist[%d]", i), a)
		}
	}

	// Devnet
	amount("devnet.max_drip", c.Devnet.MaxDrip)
	amount("devnet.initial_balance", c.Devnet.InitialBalance)
	for i, a := range c.Devnet.Accounts {
		addr(fmt.Sprintf("devnet.accounts[%d]", i), a)
	}

	if mode == ModeFull {
		// Postgres
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		// S3
		if c.Archive.Enabled {
			if c.S3.Endpoint == "" {
				errs = append(errs, "s3: endpoint must not be empty")
			}
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty")
			}
			if c.Archive.Interval.Duration <= 0 {
				errs = append(errs, "archive: interval must be > 0")
			}
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
