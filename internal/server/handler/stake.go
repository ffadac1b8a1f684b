package handler

import (
	"log/slog"
	"net/http"

	"github.com/hivepredict/hivepredict/internal/service"
)

// StakeHandler serves stake token issuance and stake submission.
type StakeHandler struct {
	stakes *service.StakeService
	logger *slog.Logger
}

// NewStakeHandler creates a StakeHandler.
func NewStakeHandler(stakes *service.StakeService, logger *slog.Logger) *StakeHandler {
	return &StakeHandler{
		stakes: stakes,
		logger: logHandler(logger, "stake"),
	}
}

type issueTokenBody struct {
	Username     string  `json:"username"`
	PredictionID string  `json:"predictionId"`
	OutcomeID    string  `json:"outcomeId"`
	Amount       float64 `json:"amount"`
}

// IssueToken validates a stake intent and returns a short-lived signed token
// plus the escrow transfer the client must broadcast.
// POST /api/stake-tokens
func (h *StakeHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var body issueTokenBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	issued, err := h.stakes.IssueToken(r.Context(), service.IssueTokenRequest{
		Username:     body.Username,
		PredictionID: body.PredictionID,
		OutcomeID:    body.OutcomeID,
		Amount:       body.Amount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

type submitStakeBody struct {
	Token string `json:"token"`
	TxID  string `json:"txId"`
}

// SubmitStake redeems a stake token against a ledger transaction. A valid
// submission persists the stake; a reconciliation failure comes back as 422
// with the verifier's reason.
// POST /api/stakes
func (h *StakeHandler) SubmitStake(w http.ResponseWriter, r *http.Request) {
	var body submitStakeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	stake, res, err := h.stakes.SubmitStake(r.Context(), body.Token, body.TxID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "stake submission failed",
			slog.String("tx_id", body.TxID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"valid": true,
		"stake": stake,
	})
}
