// Package server assembles the HTTP and websocket API: routing, middleware,
// and graceful lifecycle around the handlers in server/handler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/server/handler"
	"github.com/hivepredict/hivepredict/internal/server/middleware"
	"github.com/hivepredict/hivepredict/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, admin routes are open (development only)

	// RatePerMin bounds API requests per client IP. Zero disables the
	// middleware.
	RatePerMin int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Predictions *handler.PredictionHandler
	Stakes      *handler.StakeHandler
	Settlements *handler.SettlementHandler
	Balance     *handler.BalanceHandler
	Events      *handler.EventsHandler
	Audit       *handler.AuditHandler
	Archives    *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting, admin auth) and
// attaches the WebSocket hub. limiter may be nil when rate limiting is
// disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Prediction endpoints.
	mux.HandleFunc("POST /api/predictions", handlers.Predictions.CreatePrediction)
	mux.HandleFunc("GET /api/predictions", handlers.Predictions.ListPredictions)
	mux.HandleFunc("GET /api/predictions/{id}", handlers.Predictions.GetPrediction)
	mux.HandleFunc("GET /api/users/{username}/stakes", handlers.Predictions.ListUserStakes)

	// Stake endpoints.
	mux.HandleFunc("POST /api/stake-tokens", handlers.Stakes.IssueToken)
	mux.HandleFunc("POST /api/stakes", handlers.Stakes.SubmitStake)

	// Event replay.
	mux.HandleFunc("GET /api/events/{stream}", handlers.Events.Replay)

	// Escrow reconciliation.
	mux.HandleFunc("GET /api/escrow/balance", handlers.Balance.EscrowBalance)

	// Admin endpoints: everything that moves funds or reads the audit log.
	admin := middleware.Auth(cfg.APIKey)
	mux.Handle("POST /api/predictions/{id}/lock", admin(http.HandlerFunc(handlers.Predictions.LockPrediction)))
	mux.Handle("GET /api/audit", admin(http.HandlerFunc(handlers.Audit.ListAudit)))
	mux.Handle("GET /api/archives", admin(http.HandlerFunc(handlers.Archives.ListArchives)))
	mux.Handle("GET /api/archives/{path...}", admin(http.HandlerFunc(handlers.Archives.GetArchive)))

	// Settlement routes require the signing bridge; a node running without
	// one serves the read and stake surface only.
	if handlers.Settlements != nil {
		mux.Handle("POST /api/predictions/{id}/settle", admin(http.HandlerFunc(handlers.Settlements.Settle)))
		mux.Handle("POST /api/predictions/{id}/void", admin(http.HandlerFunc(handlers.Settlements.Void)))
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	if limiter != nil && cfg.RatePerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RatePerMin, time.Minute)(h)
	}
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
