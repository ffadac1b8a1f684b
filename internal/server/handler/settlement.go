package handler

import (
	"log/slog"
	"net/http"

	"github.com/hivepredict/hivepredict/internal/service"
)

// SettlementHandler serves the settle and void operations. Both sit behind
// the API key middleware: they move funds out of escrow.
type SettlementHandler struct {
	settlements *service.SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements *service.SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		logger:      logHandler(logger, "settlement"),
	}
}

type settleBody struct {
	WinningOutcomeID string `json:"winningOutcomeId"`
	SettledBy        string `json:"settledBy"`
}

// Settle resolves a prediction to a winning outcome and returns the payout
// breakdown.
// POST /api/predictions/{id}/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var body settleBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.WinningOutcomeID == "" {
		writeError(w, http.StatusBadRequest, "winningOutcomeId is required")
		return
	}

	res, err := h.settlements.Settle(r.Context(), id, body.WinningOutcomeID, body.SettledBy)
	if err != nil {
		h.logger.WarnContext(r.Context(), "settlement failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type voidBody struct {
	Reason   string `json:"reason"`
	VoidedBy string `json:"voidedBy"`
}

// Void cancels a prediction and refunds all stakes.
// POST /api/predictions/{id}/void
func (h *SettlementHandler) Void(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var body voidBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	refunds, err := h.settlements.Void(r.Context(), id, body.Reason, body.VoidedBy)
	if err != nil {
		h.logger.WarnContext(r.Context(), "void failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"refunds": refunds,
		"count":   len(refunds),
	})
}
