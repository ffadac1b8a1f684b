package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hivepredict/hivepredict/internal/platform/hiveengine"
)

// BalanceReader reads token balances from the sidechain. Satisfied by
// hiveengine.Client.
type BalanceReader interface {
	GetTokenBalance(ctx context.Context, account, symbol string) (hiveengine.TokenBalance, error)
}

// BalanceHandler exposes the escrow account's on-chain token balance, the
// external number the database pool totals should reconcile against.
type BalanceHandler struct {
	ledger        BalanceReader
	escrowAccount string
	symbol        string
	logger        *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler for the given escrow account
// and token symbol.
func NewBalanceHandler(ledger BalanceReader, escrowAccount, symbol string, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{
		ledger:        ledger,
		escrowAccount: escrowAccount,
		symbol:        symbol,
		logger:        logHandler(logger, "balance"),
	}
}

// EscrowBalance returns the escrow account's live token balance.
// GET /api/escrow/balance
func (h *BalanceHandler) EscrowBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.GetTokenBalance(r.Context(), h.escrowAccount, h.symbol)
	if err != nil {
		h.logger.WarnContext(r.Context(), "escrow balance read failed",
			slog.String("account", h.escrowAccount),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, balance)
}
