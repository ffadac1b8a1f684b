// Package config defines the top-level configuration for the prediction
// settlement engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTD_* environment variables.
type Config struct {
	Hive        HiveConfig     `toml:"hive"`
	Token       TokenConfig    `toml:"token"`
	Escrow      EscrowConfig   `toml:"escrow"`
	Fee         FeeConfig      `toml:"fee"`
	Bridge      BridgeConfig   `toml:"bridge"`
	Secrets     SecretsConfig  `toml:"secrets"`
	Postgres    PostgresConfig `toml:"postgres"`
	Redis       RedisConfig    `toml:"redis"`
	S3          S3Config       `toml:"s3"`
	Server      ServerConfig   `toml:"server"`
	Notify      NotifyConfig   `toml:"notify"`
	Environment string         `toml:"environment"`
	Mode        string         `toml:"mode"`
	LogLevel    string         `toml:"log_level"`
}

// HiveConfig holds ledger node endpoints and the sidechain namespace.
type HiveConfig struct {
	NodeURL    string `toml:"node_url"`
	EngineURL  string `toml:"engine_url"`
	ContractID string `toml:"contract_id"`
	// VerifyMaxAttempts bounds the transaction lookup retry loop.
	VerifyMaxAttempts    int      `toml:"verify_max_attempts"`
	VerifyNotFoundDelay  duration `toml:"verify_not_found_delay"`
	VerifyTransportDelay duration `toml:"verify_transport_delay"`
}

// TokenConfig describes the staking token.
type TokenConfig struct {
	Symbol    string `toml:"symbol"`
	Precision int    `toml:"precision"`
}

// EscrowConfig names the platform-controlled ledger accounts.
type EscrowConfig struct {
	Account       string `toml:"account"`
	BurnAccount   string `toml:"burn_account"`
	RewardAccount string `toml:"reward_account"`
}

// FeeConfig holds the platform fee and its burn/reward split.
type FeeConfig struct {
	PlatformPct float64 `toml:"platform_pct"`
	BurnSplit   float64 `toml:"burn_split"`
	RewardSplit float64 `toml:"reward_split"`
}

// BridgeConfig holds the signing-bridge endpoint and its request
// authentication material. The bridge holds the escrow account's ledger key;
// this process never sees it.
type BridgeConfig struct {
	URL                 string   `toml:"url"`
	KeyID               string   `toml:"key_id"`
	HMACKey             string   `toml:"hmac_key"`
	EncryptedKeyPath    string   `toml:"encrypted_key_path"`
	KeyPassword         string   `toml:"key_password"`
	Timeout             duration `toml:"timeout"`
	BroadcastMaxRetries int      `toml:"broadcast_max_retries"`
}

// SecretsConfig holds the stake-token signing secret and its fallbacks.
type SecretsConfig struct {
	StakeTokenSecret     string   `toml:"stake_token_secret"`
	SessionEncryptionKey string   `toml:"session_encryption_key"`
	SessionSecret        string   `toml:"session_secret"`
	StakeTokenTTL        duration `toml:"stake_token_ttl"`
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the admin endpoints (lock, settle, void, audit). Empty
	// leaves them open, which is only acceptable in development.
	APIKey string `toml:"api_key"`
	// RatePerMin caps API requests per client IP. Zero disables the limit.
	RatePerMin int `toml:"rate_per_min"`
	// StakeTokenRatePerMin caps token issuance per user per minute.
	StakeTokenRatePerMin int `toml:"stake_token_rate_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Hive: HiveConfig{
			NodeURL:              "https://api.hive.blog",
			EngineURL:            "https://api.hive-engine.com/rpc",
			ContractID:           "ssc-mainnet-hive",
			VerifyMaxAttempts:    4,
			VerifyNotFoundDelay:  duration{10 * time.Second},
			VerifyTransportDelay: duration{2 * time.Second},
		},
		Token: TokenConfig{
			Symbol:    "BETS",
			Precision: 3,
		},
		Escrow: EscrowConfig{
			Account:       "predict.escrow",
			BurnAccount:   "null",
			RewardAccount: "predict.rewards",
		},
		Fee: FeeConfig{
			PlatformPct: 0.10,
			BurnSplit:   0.5,
			RewardSplit: 0.5,
		},
		Bridge: BridgeConfig{
			KeyID:               "predictd",
			Timeout:             duration{15 * time.Second},
			BroadcastMaxRetries: 3,
		},
		Secrets: SecretsConfig{
			StakeTokenTTL: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hivepredict",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "hivepredict-archives",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:              true,
			Port:                 8000,
			CORSOrigins:          []string{"http://localhost:3000", "http://localhost:5173"},
			RatePerMin:           120,
			StakeTokenRatePerMin: 10,
		},
		Notify: NotifyConfig{
			Events: []string{"prediction_settled", "prediction_voided", "broadcast_failed", "error"},
		},
		Environment: "development",
		Mode:        "full",
		LogLevel:    "info",
	}
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Hive
	if c.Hive.NodeURL == "" {
		errs = append(errs, "hive: node_url must not be empty")
	}
	if c.Hive.EngineURL == "" {
		errs = append(errs, "hive: engine_url must not be empty")
	}
	if c.Hive.ContractID == "" {
		errs = append(errs, "hive: contract_id must not be empty")
	}
	if c.Hive.VerifyMaxAttempts < 1 {
		errs = append(errs, "hive: verify_max_attempts must be >= 1")
	}

	// Token
	if c.Token.Symbol == "" {
		errs = append(errs, "token: symbol must not be empty")
	}
	if c.Token.Precision < 0 || c.Token.Precision > 8 {
		errs = append(errs, fmt.Sprintf("token: precision must be 0-8, got %d", c.Token.Precision))
	}

	// Escrow accounts
	if c.Escrow.Account == "" {
		errs = append(errs, "escrow: account must not be empty")
	}
	if c.Escrow.BurnAccount == "" {
		errs = append(errs, "escrow: burn_account must not be empty")
	}
	if c.Escrow.RewardAccount == "" {
		errs = append(errs, "escrow: reward_account must not be empty")
	}

	// Fee
	if c.Fee.PlatformPct < 0 || c.Fee.PlatformPct >= 1 {
		errs = append(errs, fmt.Sprintf("fee: platform_pct must be in [0,1), got %v", c.Fee.PlatformPct))
	}
	if sum := c.Fee.BurnSplit + c.Fee.RewardSplit; sum < 0.999 || sum > 1.001 {
		errs = append(errs, fmt.Sprintf("fee: burn_split + reward_split must equal 1, got %v", sum))
	}

	// Bridge: required whenever this process settles predictions.
	needsBridge := c.Mode == "monitor" || c.Mode == "full"
	if needsBridge {
		if c.Bridge.URL == "" {
			errs = append(errs, "bridge: url is required for mode "+c.Mode)
		}
		if c.Bridge.HMACKey == "" && c.Bridge.EncryptedKeyPath == "" {
			errs = append(errs, "bridge: either hmac_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Bridge.EncryptedKeyPath != "" && c.Bridge.KeyPassword == "" {
			errs = append(errs, "bridge: key_password is required when encrypted_key_path is set")
		}
	}

	// Secrets: a production runtime must not rely on the dev fallback.
	if c.IsProduction() {
		if c.Secrets.StakeTokenSecret == "" && c.Secrets.SessionEncryptionKey == "" && c.Secrets.SessionSecret == "" {
			errs = append(errs, "secrets: a stake-token signing secret is required in production")
		}
	}
	if c.Secrets.StakeTokenTTL.Duration <= 0 {
		errs = append(errs, "secrets: stake_token_ttl must be positive")
	}

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
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RatePerMin < 0 {
			errs = append(errs, "server: rate_per_min must be >= 0")
		}
		if c.Server.StakeTokenRatePerMin < 1 {
			errs = append(errs, "server: stake_token_rate_per_min must be >= 1")
		}
		if c.IsProduction() && c.Server.APIKey == "" {
			errs = append(errs, "server: api_key is required in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
