package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/escrow"
	"github.com/hivepredict/hivepredict/internal/settle"
)

// settleLockTTL bounds how long a crashed settlement run can block the next
// attempt. The status CAS keeps a concurrent run harmless either way.
const settleLockTTL = 2 * time.Minute

// SettlementArchiver writes the immutable off-database settlement record.
// Satisfied by s3blob.Archiver.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, p domain.Prediction, outcomes []domain.Outcome, res domain.SettlementResult, stakes []domain.Stake) (string, error)
	ArchiveVoid(ctx context.Context, p domain.Prediction, reason string, refunds []domain.Refund, stakes []domain.Stake) (string, error)
}

// Alerter delivers operator notifications. Satisfied by notify.Notifier.
type Alerter interface {
	PredictionSettled(ctx context.Context, p domain.Prediction, res domain.SettlementResult) error
	PredictionVoided(ctx context.Context, p domain.Prediction, reason string, refunds []domain.Refund) error
	BroadcastFailed(ctx context.Context, predictionID string, opCount int, cause error) error
}

// SettlementService runs the settlement and void paths. Exactly-once
// application rests on two layers: a redis lock serializes runs cheaply, and
// the status compare-and-swap in Postgres is the final arbiter when the lock
// fails open.
type SettlementService struct {
	predictions domain.PredictionStore
	stakes      domain.StakeStore
	locks       domain.LockManager
	broadcaster domain.Broadcaster
	builder     *escrow.Builder
	archiver    SettlementArchiver
	audit       domain.AuditStore
	alerter     Alerter
	views       domain.ViewCache
	bus         domain.SignalBus
	params      settle.Params
	now         func() time.Time
	logger      *slog.Logger
}

// NewSettlementService creates a SettlementService with all required
// dependencies.
func NewSettlementService(
	predictions domain.PredictionStore,
	stakes domain.StakeStore,
	locks domain.LockManager,
	broadcaster domain.Broadcaster,
	builder *escrow.Builder,
	archiver SettlementArchiver,
	audit domain.AuditStore,
	alerter Alerter,
	views domain.ViewCache,
	bus domain.SignalBus,
	params settle.Params,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		predictions: predictions,
		stakes:      stakes,
		locks:       locks,
		broadcaster: broadcaster,
		builder:     builder,
		archiver:    archiver,
		audit:       audit,
		alerter:     alerter,
		views:       views,
		bus:         bus,
		params:      params,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "settlement_service")),
	}
}

// Settle resolves a prediction to the given winning outcome, persists the
// payout breakdown, and broadcasts the escrow-out transfers. A lost status
// race returns ErrInvalidTransition; the caller that won already did the
// work.
//
// A broadcast failure does not fail the settlement: the financial record is
// durable, funds stay in escrow, and operators are alerted to retry.
func (s *SettlementService) Settle(ctx context.Context, predictionID, winningOutcomeID, settledBy string) (domain.SettlementResult, error) {
	unlock, err := s.locks.Acquire(ctx, "settle:"+predictionID, settleLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.SettlementResult{}, domain.ErrLockHeld
		}
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: acquire lock: %w", err)
	}
	defer unlock()

	p, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: get prediction %s: %w", predictionID, err)
	}

	// Settling an open prediction past its lock time locks it implicitly.
	if p.Status == domain.PredictionStatusOpen {
		if s.now().Before(p.LocksAt) {
			return domain.SettlementResult{}, fmt.Errorf("settlement_service: prediction %s still accepting stakes: %w", predictionID, domain.ErrInvalidTransition)
		}
		if err := s.predictions.TransitionStatus(ctx, predictionID,
			domain.PredictionStatusOpen, domain.PredictionStatusLocked); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return domain.SettlementResult{}, fmt.Errorf("settlement_service: lock %s: %w", predictionID, err)
		}
	}

	outcomes, err := s.predictions.GetOutcomes(ctx, predictionID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: outcomes for %s: %w", predictionID, err)
	}
	if !hasOutcome(outcomes, winningOutcomeID) {
		return domain.SettlementResult{}, fmt.Errorf("%w: unknown winning outcome %q", ErrValidation, winningOutcomeID)
	}

	if err := s.predictions.TransitionStatus(ctx, predictionID,
		domain.PredictionStatusLocked, domain.PredictionStatusSettling); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: enter settling for %s: %w", predictionID, err)
	}

	stakes, err := s.stakes.ListByPrediction(ctx, predictionID)
	if err != nil {
		s.revertToLocked(ctx, predictionID)
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: stakes for %s: %w", predictionID, err)
	}

	res := settle.Calculate(settleInputs(stakes), winningOutcomeID, p.TotalPool, s.params)

	if err := s.predictions.ApplySettlement(ctx, predictionID, res, settledBy); err != nil {
		s.revertToLocked(ctx, predictionID)
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: apply settlement to %s: %w", predictionID, err)
	}

	if err := s.predictions.TransitionStatus(ctx, predictionID,
		domain.PredictionStatusSettling, domain.PredictionStatusSettled); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: finalize %s: %w", predictionID, err)
	}

	s.logger.InfoContext(ctx, "prediction settled",
		slog.String("prediction_id", predictionID),
		slog.String("winning_outcome", winningOutcomeID),
		slog.Float64("total_pool", res.TotalPool),
		slog.Float64("total_paid", res.TotalPaid),
		slog.Float64("platform_fee", res.PlatformFee),
		slog.Int("payouts", len(res.Payouts)),
	)

	ops := s.builder.PayoutOps(predictionID, res.Payouts)
	if burn, reward := s.builder.FeeOps(res.PlatformFee, predictionID); burn != nil {
		ops = append(ops, *burn, *reward)
	}
	s.broadcast(ctx, predictionID, ops)

	if err := s.audit.Log(ctx, "prediction.settled", map[string]any{
		"prediction_id":   predictionID,
		"winning_outcome": winningOutcomeID,
		"settled_by":      settledBy,
		"total_pool":      res.TotalPool,
		"total_paid":      res.TotalPaid,
		"platform_fee":    res.PlatformFee,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("prediction_id", predictionID),
			slog.String("error", err.Error()),
		)
	}

	// Re-read for archival and notification so the record carries the
	// settled financials, not the pre-settlement row.
	if settled, err := s.predictions.GetByID(ctx, predictionID); err == nil {
		p = settled
	}
	if settledStakes, err := s.stakes.ListByPrediction(ctx, predictionID); err == nil {
		stakes = settledStakes
	}

	if s.archiver != nil {
		if _, err := s.archiver.ArchiveSettlement(ctx, p, outcomes, res, stakes); err != nil {
			s.logger.ErrorContext(ctx, "settlement archive failed",
				slog.String("prediction_id", predictionID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.invalidateView(ctx, predictionID)
	publishEvent(ctx, s.bus, s.logger, ChannelSettlements, StreamSettlements, Event{
		Type:         "prediction.settled",
		PredictionID: predictionID,
		Data: map[string]any{
			"winningOutcomeId": res.WinningOutcomeID,
			"totalPool":        res.TotalPool,
			"totalPaid":        res.TotalPaid,
			"platformFee":      res.PlatformFee,
		},
	})

	if s.alerter != nil {
		if err := s.alerter.PredictionSettled(ctx, p, res); err != nil {
			s.logger.WarnContext(ctx, "settlement notification failed",
				slog.String("prediction_id", predictionID),
				slog.String("error", err.Error()),
			)
		}
	}

	return res, nil
}

// Void cancels a prediction and refunds every stake in full. No fee is taken
// on the void path.
func (s *SettlementService) Void(ctx context.Context, predictionID, reason, voidedBy string) ([]domain.Refund, error) {
	unlock, err := s.locks.Acquire(ctx, "settle:"+predictionID, settleLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.ErrLockHeld
		}
		return nil, fmt.Errorf("settlement_service: acquire lock: %w", err)
	}
	defer unlock()

	p, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: get prediction %s: %w", predictionID, err)
	}

	switch p.Status {
	case domain.PredictionStatusOpen, domain.PredictionStatusLocked:
	default:
		return nil, fmt.Errorf("settlement_service: void %s from status %s: %w", predictionID, p.Status, domain.ErrInvalidTransition)
	}

	if err := s.predictions.TransitionStatus(ctx, predictionID,
		p.Status, domain.PredictionStatusRefunded); err != nil {
		return nil, fmt.Errorf("settlement_service: enter refunded for %s: %w", predictionID, err)
	}

	stakes, err := s.stakes.ListByPrediction(ctx, predictionID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: stakes for %s: %w", predictionID, err)
	}
	refunds := settle.Refunds(stakes)

	if err := s.predictions.MarkVoid(ctx, predictionID, reason); err != nil {
		return nil, fmt.Errorf("settlement_service: mark void %s: %w", predictionID, err)
	}

	s.logger.InfoContext(ctx, "prediction voided",
		slog.String("prediction_id", predictionID),
		slog.String("reason", reason),
		slog.Int("refunds", len(refunds)),
	)

	s.broadcast(ctx, predictionID, s.builder.RefundOps(predictionID, refunds))

	if err := s.audit.Log(ctx, "prediction.voided", map[string]any{
		"prediction_id": predictionID,
		"reason":        reason,
		"voided_by":     voidedBy,
		"refund_count":  len(refunds),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("prediction_id", predictionID),
			slog.String("error", err.Error()),
		)
	}

	if voided, err := s.predictions.GetByID(ctx, predictionID); err == nil {
		p = voided
	}
	if s.archiver != nil {
		if _, err := s.archiver.ArchiveVoid(ctx, p, reason, refunds, stakes); err != nil {
			s.logger.ErrorContext(ctx, "void archive failed",
				slog.String("prediction_id", predictionID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.invalidateView(ctx, predictionID)
	publishEvent(ctx, s.bus, s.logger, ChannelSettlements, StreamSettlements, Event{
		Type:         "prediction.voided",
		PredictionID: predictionID,
		Data: map[string]any{
			"reason":      reason,
			"refundCount": len(refunds),
		},
	})

	if s.alerter != nil {
		if err := s.alerter.PredictionVoided(ctx, p, reason, refunds); err != nil {
			s.logger.WarnContext(ctx, "void notification failed",
				slog.String("prediction_id", predictionID),
				slog.String("error", err.Error()),
			)
		}
	}

	return refunds, nil
}

// broadcast delivers escrow-out transfers through the signing bridge.
// Failure is reported, audited, and alerted but never propagated; the
// durable settlement record already exists and an operator retries delivery.
func (s *SettlementService) broadcast(ctx context.Context, predictionID string, ops []domain.TransferOp) {
	if len(ops) == 0 {
		return
	}

	if err := s.broadcaster.Broadcast(ctx, ops); err != nil {
		s.logger.ErrorContext(ctx, "transfer broadcast failed",
			slog.String("prediction_id", predictionID),
			slog.Int("ops", len(ops)),
			slog.String("error", err.Error()),
		)
		if auditErr := s.audit.Log(ctx, "broadcast.failed", map[string]any{
			"prediction_id": predictionID,
			"op_count":      len(ops),
			"error":         err.Error(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("prediction_id", predictionID),
				slog.String("error", auditErr.Error()),
			)
		}
		if s.alerter != nil {
			if alertErr := s.alerter.BroadcastFailed(ctx, predictionID, len(ops), err); alertErr != nil {
				s.logger.WarnContext(ctx, "broadcast failure notification failed",
					slog.String("prediction_id", predictionID),
					slog.String("error", alertErr.Error()),
				)
			}
		}
		return
	}

	s.logger.InfoContext(ctx, "transfers broadcast",
		slog.String("prediction_id", predictionID),
		slog.Int("ops", len(ops)),
	)
}

// revertToLocked is the best-effort rollback when work inside the settling
// window fails. If it loses a race the next settlement attempt's CAS sorts
// it out.
func (s *SettlementService) revertToLocked(ctx context.Context, predictionID string) {
	if err := s.predictions.TransitionStatus(ctx, predictionID,
		domain.PredictionStatusSettling, domain.PredictionStatusLocked); err != nil {
		s.logger.ErrorContext(ctx, "settling revert failed",
			slog.String("prediction_id", predictionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) invalidateView(ctx context.Context, id string) {
	if err := s.views.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "view cache invalidate failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func settleInputs(stakes []domain.Stake) []settle.Stake {
	in := make([]settle.Stake, len(stakes))
	for i, st := range stakes {
		in[i] = settle.Stake{
			ID:        st.ID,
			Username:  st.Username,
			OutcomeID: st.OutcomeID,
			Amount:    st.Amount,
		}
	}
	return in
}
