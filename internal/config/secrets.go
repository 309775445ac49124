package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// secrets lists every field RedactedConfig masks.
func (c *Config) secrets() []*string {
	return []*string{
		&c.Oracle.PrivateKey,
		&c.Oracle.KeyPassword,
		&c.Oracle.WebhookSecret,
		&c.Postgres.DSN,
		&c.Postgres.Password,
		&c.Redis.Password,
		&c.S3.AccessKey,
		&c.S3.SecretKey,
		&c.Server.APIKey,
		&c.Notify.TelegramToken,
		&c.Notify.DiscordWebhookURL,
	}
}

// RedactedConfig returns a copy of cfg that is safe to log or print: set
// secrets read "***" and slices are cloned so the copy shares no state with
// cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range out.secrets() {
		if *s != "" {
			*s = redacted
		}
	}
	if out.Redis.Addr != "" {
		out.Redis.Addr = redactURL(out.Redis.Addr)
	}

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Access.Whitelist = slices.Clone(cfg.Access.Whitelist)
	out.Devnet.Accounts = slices.Clone(cfg.Devnet.Accounts)
	return out
}

// redactURL masks the password of a redis:// style address; host:port
// addresses pass through.
func redactURL(addr string) string {
	u, err := url.Parse(addr)
	if err != nil || u.User == nil {
		return addr
	}
	return u.Redacted()
}
