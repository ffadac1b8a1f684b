package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Checker pings one backing dependency.
type Checker func(ctx context.Context) error

// HealthHandler serves the health-check endpoint, optionally probing backing
// dependencies.
type HealthHandler struct {
	checks map[string]Checker
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be nil; each entry is
// probed on ?deep=1 requests.
func NewHealthHandler(checks map[string]Checker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is
// alive. With ?deep=1 it also pings every registered dependency and reports
// 503 when any of them fails.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if r.URL.Query().Get("deep") == "" || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			continue
		}
		deps[name] = "ok"
	}
	resp["dependencies"] = deps

	writeJSON(w, status, resp)
}
