package config

import "errors"

// devStakeSecret is the non-production fallback signing secret. Production
// runtimes refuse to start on it; see ResolveStakeSecret.
const devStakeSecret = "hivepredict-dev-stake-secret"

// ErrNoStakeSecret is returned when a production runtime has no configured
// stake-token signing secret. This is intentionally fatal at startup rather
// than a silent fallback to an insecure default.
var ErrNoStakeSecret = errors.New("config: no stake-token signing secret configured")

// ResolveStakeSecret picks the stake-token signing secret from the ordered
// fallback chain: dedicated stake-token secret, then the session encryption
// key, then the session secret. Outside production a fixed development
// fallback is used as a last resort.
func (c *Config) ResolveStakeSecret() (string, error) {
	for _, s := range []string{
		c.Secrets.StakeTokenSecret,
		c.Secrets.SessionEncryptionKey,
		c.Secrets.SessionSecret,
	} {
		if s != "" {
			return s, nil
		}
	}

	if c.IsProduction() {
		return "", ErrNoStakeSecret
	}
	return devStakeSecret, nil
}

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Bridge
	out.Bridge = cfg.Bridge
	redact(&out.Bridge.HMACKey)
	redact(&out.Bridge.KeyPassword)

	// Secrets
	out.Secrets = cfg.Secrets
	redact(&out.Secrets.StakeTokenSecret)
	redact(&out.Secrets.SessionEncryptionKey)
	redact(&out.Secrets.SessionSecret)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
