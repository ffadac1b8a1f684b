package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hivepredict/hivepredict/internal/escrow"
	"github.com/hivepredict/hivepredict/internal/server"
	"github.com/hivepredict/hivepredict/internal/server/handler"
	"github.com/hivepredict/hivepredict/internal/server/ws"
	"github.com/hivepredict/hivepredict/internal/service"
	"github.com/hivepredict/hivepredict/internal/settle"
	"github.com/hivepredict/hivepredict/internal/token"
)

const (
	// lockSweepInterval is how often expired open predictions are locked.
	lockSweepInterval = 30 * time.Second

	// auditExportInterval is how often the audit log is exported to blob
	// storage.
	auditExportInterval = 24 * time.Hour
)

// services bundles the domain services built on top of the wired
// dependencies.
type services struct {
	predictions *service.PredictionService
	stakes      *service.StakeService
	// settlements is nil when no signing bridge is configured.
	settlements *service.SettlementService
}

// buildServices constructs the prediction, stake, and settlement services
// from the wired dependencies.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	builder := escrow.NewBuilder(
		escrow.Accounts{
			Escrow:     a.cfg.Escrow.Account,
			Burn:       a.cfg.Escrow.BurnAccount,
			RewardPool: a.cfg.Escrow.RewardAccount,
		},
		a.cfg.Token.Symbol,
		a.cfg.Token.Precision,
		a.cfg.Fee.BurnSplit,
		a.cfg.Fee.RewardSplit,
	)

	verifier := escrow.NewVerifier(
		deps.Ledger,
		a.cfg.Hive.ContractID,
		a.cfg.Escrow.Account,
		a.cfg.Token.Symbol,
		a.cfg.Token.Precision,
		escrow.RetryPolicy{
			MaxAttempts:    a.cfg.Hive.VerifyMaxAttempts,
			NotFoundDelay:  a.cfg.Hive.VerifyNotFoundDelay.Duration,
			TransportDelay: a.cfg.Hive.VerifyTransportDelay.Duration,
		},
		a.logger,
	)

	secret, err := a.cfg.ResolveStakeSecret()
	if err != nil {
		return nil, fmt.Errorf("build services: %w", err)
	}
	signer, err := token.NewSigner(secret, a.cfg.Secrets.StakeTokenTTL.Duration)
	if err != nil {
		return nil, fmt.Errorf("build services: stake-token signer: %w", err)
	}

	svcs := &services{
		predictions: service.NewPredictionService(
			deps.Predictions, deps.Stakes, deps.Views, deps.SignalBus,
			a.cfg.Fee.PlatformPct, a.logger,
		),
		stakes: service.NewStakeService(
			deps.Predictions, deps.Stakes, verifier, signer,
			deps.RateLimiter, builder, deps.Views, deps.SignalBus,
			deps.Audit, a.cfg.Server.StakeTokenRatePerMin, a.logger,
		),
	}

	if deps.Broadcaster != nil {
		svcs.settlements = service.NewSettlementService(
			deps.Predictions, deps.Stakes, deps.Locks, deps.Broadcaster,
			builder, deps.Archiver, deps.Audit, deps.Notifier,
			deps.Views, deps.SignalBus,
			settle.Params{
				FeePct:      a.cfg.Fee.PlatformPct,
				BurnSplit:   a.cfg.Fee.BurnSplit,
				RewardSplit: a.cfg.Fee.RewardSplit,
			},
			a.logger,
		)
	}

	return svcs, nil
}

// ServerMode runs the HTTP and websocket API only. Background maintenance
// (lock sweeps, audit exports) is left to a monitor or full node.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// MonitorMode runs background maintenance only: it locks predictions whose
// lock time has passed and periodically exports the audit log to blob
// storage. No HTTP API is served.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startLockSweeper(ctx, g, svcs)
	a.startAuditExporter(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP API and the background maintenance workers in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	a.startLockSweeper(ctx, g, svcs)
	a.startAuditExporter(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer adds the API server and websocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Predictions: handler.NewPredictionHandler(svcs.predictions, a.logger),
		Stakes:      handler.NewStakeHandler(svcs.stakes, a.logger),
		Balance:     handler.NewBalanceHandler(deps.Ledger, a.cfg.Escrow.Account, a.cfg.Token.Symbol, a.logger),
		Events:      handler.NewEventsHandler(deps.SignalBus, a.logger),
		Audit:       handler.NewAuditHandler(deps.Audit, a.logger),
		Archives:    handler.NewArchiveHandler(deps.BlobReader, a.logger),
	}
	if svcs.settlements != nil {
		handlers.Settlements = handler.NewSettlementHandler(svcs.settlements, a.logger)
	} else {
		a.logger.Warn("no signing bridge configured; settlement endpoints disabled")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RatePerMin:  a.cfg.Server.RatePerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startLockSweeper adds a goroutine that periodically locks open predictions
// whose lock time has passed, so stakes stop being accepted even when nobody
// calls the lock endpoint.
func (a *App) startLockSweeper(ctx context.Context, g *errgroup.Group, svcs *services) {
	g.Go(func() error {
		ticker := time.NewTicker(lockSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				locked, err := svcs.predictions.LockExpired(ctx)
				if err != nil {
					a.logger.WarnContext(ctx, "lock sweep failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if locked > 0 {
					a.logger.InfoContext(ctx, "locked expired predictions",
						slog.Int("count", locked),
					)
				}
			}
		}
	})
}

// startAuditExporter adds a goroutine that periodically exports audit
// entries older than the current month to blob storage. The export is a
// cumulative snapshot, so re-running it within a month overwrites the same
// object with identical content.
func (a *App) startAuditExporter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		ticker := time.NewTicker(auditExportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				now := time.Now().UTC()
				cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
				exported, err := deps.Archiver.ExportAuditLog(ctx, deps.Audit, cutoff)
				if err != nil {
					a.logger.WarnContext(ctx, "audit export failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if exported > 0 {
					a.logger.InfoContext(ctx, "exported audit entries",
						slog.Int64("count", exported),
						slog.Time("cutoff", cutoff),
					)
				}
			}
		}
	})
}
