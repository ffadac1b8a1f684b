package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/hivepredict/hivepredict/internal/blob/s3"
	"github.com/hivepredict/hivepredict/internal/cache/redis"
	"github.com/hivepredict/hivepredict/internal/config"
	"github.com/hivepredict/hivepredict/internal/crypto"
	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/notify"
	"github.com/hivepredict/hivepredict/internal/platform/hivebridge"
	"github.com/hivepredict/hivepredict/internal/platform/hiveengine"
	"github.com/hivepredict/hivepredict/internal/server/handler"
	"github.com/hivepredict/hivepredict/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Predictions domain.PredictionStore
	Stakes      domain.StakeStore
	Audit       *postgres.AuditStore

	// Caches
	Views       domain.ViewCache
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// Ledger
	Ledger *hiveengine.Client
	// Broadcaster is nil when no signing bridge is configured; such a node
	// serves the read and stake surface but cannot settle.
	Broadcaster domain.Broadcaster

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks holds the deep-health probes, keyed by subsystem name.
	HealthChecks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.Checker),
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

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Predictions = postgres.NewPredictionStore(pool)
	deps.Stakes = postgres.NewStakeStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pool.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Views = redis.NewViewCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 blob storage (settlement archives, audit exports) ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	writer := s3blob.NewWriter(s3Client)
	deps.BlobWriter = writer
	deps.BlobReader = s3blob.NewReader(s3Client)
	deps.Archiver = s3blob.NewArchiver(writer, deps.Audit)
	deps.HealthChecks["s3"] = s3Client.Health

	// --- Ledger read client ---
	deps.Ledger = hiveengine.NewClient(cfg.Hive.NodeURL, cfg.Hive.EngineURL)

	// --- Signing bridge (escrow-out transfers) ---
	if cfg.Bridge.URL != "" {
		secret, err := crypto.LoadBridgeSecret(crypto.SecretConfig{
			RawSecret:           cfg.Bridge.HMACKey,
			EncryptedSecretPath: cfg.Bridge.EncryptedKeyPath,
			Password:            cfg.Bridge.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: bridge secret: %w", err)
		}
		auth := &crypto.BridgeAuth{
			KeyID:  cfg.Bridge.KeyID,
			Secret: secret,
		}
		deps.Broadcaster = hivebridge.NewBroadcaster(
			cfg.Bridge.URL,
			auth,
			cfg.Bridge.Timeout.Duration,
			cfg.Bridge.BroadcastMaxRetries,
			logger,
		)
	}

	// --- Notifications ---
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
