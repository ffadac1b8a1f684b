package notify

import (
	"context"
	"fmt"

	"github.com/hivepredict/hivepredict/internal/domain"
)

// Event types dispatched by the settlement pipeline. The config's
// notify.events list filters against these names.
const (
	EventPredictionSettled = "prediction_settled"
	EventPredictionVoided  = "prediction_voided"
	EventBroadcastFailed   = "broadcast_failed"
	EventError             = "error"
)

// PredictionSettled notifies operators that a prediction settled, with the
// pool breakdown.
func (n *Notifier) PredictionSettled(ctx context.Context, p domain.Prediction, res domain.SettlementResult) error {
	title := fmt.Sprintf("Prediction settled: %s", p.Title)
	message := fmt.Sprintf(
		"ID: %s\nWinning outcome: %s\nPool: %.3f\nPaid out: %.3f to %d stakes\nFee: %.3f (burn %.3f, rewards %.3f)",
		p.ID, res.WinningOutcomeID, res.TotalPool, res.TotalPaid, len(res.Payouts),
		res.PlatformFee, res.BurnAmount, res.RewardAmount,
	)
	return n.Notify(ctx, EventPredictionSettled, title, message)
}

// PredictionVoided notifies operators that a prediction was voided and its
// stakes refunded.
func (n *Notifier) PredictionVoided(ctx context.Context, p domain.Prediction, reason string, refunds []domain.Refund) error {
	var total float64
	for _, r := range refunds {
		total += r.Amount
	}
	title := fmt.Sprintf("Prediction voided: %s", p.Title)
	message := fmt.Sprintf(
		"ID: %s\nReason: %s\nRefunding %.3f across %d users",
		p.ID, reason, total, len(refunds),
	)
	return n.Notify(ctx, EventPredictionVoided, title, message)
}

// BroadcastFailed alerts that payout or refund transfers could not be
// delivered to the signing bridge. Funds stay in escrow until an operator
// retries, so this needs eyes quickly.
func (n *Notifier) BroadcastFailed(ctx context.Context, predictionID string, opCount int, cause error) error {
	title := "Payout broadcast failed"
	message := fmt.Sprintf(
		"Prediction: %s\nPending transfers: %d\nError: %v",
		predictionID, opCount, cause,
	)
	return n.Notify(ctx, EventBroadcastFailed, title, message)
}

// Error reports a general pipeline error.
func (n *Notifier) Error(ctx context.Context, where string, cause error) error {
	return n.Notify(ctx, EventError, fmt.Sprintf("Error in %s", where), cause.Error())
}
