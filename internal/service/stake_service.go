package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/escrow"
	"github.com/hivepredict/hivepredict/internal/token"
)

// TxVerifier confirms a claimed ledger transaction funds a stake. Satisfied
// by escrow.Verifier.
type TxVerifier interface {
	VerifyStakeTransaction(ctx context.Context, req escrow.VerifyRequest) (escrow.VerifyResult, error)
}

// IssueTokenRequest asks for a stake token for one (prediction, outcome,
// user, amount) tuple.
type IssueTokenRequest struct {
	Username     string
	PredictionID string
	OutcomeID    string
	Amount       float64
}

// IssuedStakeToken is a signed stake authorization plus the exact transfer
// the client must broadcast to escrow before submitting.
type IssuedStakeToken struct {
	Token    string            `json:"token"`
	Transfer domain.TransferOp `json:"transfer"`
}

// StakeService issues stake tokens and reconciles submitted stakes against
// the ledger before persisting them.
type StakeService struct {
	predictions domain.PredictionStore
	stakes      domain.StakeStore
	verifier    TxVerifier
	signer      *token.Signer
	limiter     domain.RateLimiter
	builder     *escrow.Builder
	views       domain.ViewCache
	bus         domain.SignalBus
	audit       domain.AuditStore
	ratePerMin  int
	now         func() time.Time
	logger      *slog.Logger
}

// NewStakeService creates a StakeService with all required dependencies.
// ratePerMin bounds token issuance per username.
func NewStakeService(
	predictions domain.PredictionStore,
	stakes domain.StakeStore,
	verifier TxVerifier,
	signer *token.Signer,
	limiter domain.RateLimiter,
	builder *escrow.Builder,
	views domain.ViewCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	ratePerMin int,
	logger *slog.Logger,
) *StakeService {
	if ratePerMin <= 0 {
		ratePerMin = 10
	}
	return &StakeService{
		predictions: predictions,
		stakes:      stakes,
		verifier:    verifier,
		signer:      signer,
		limiter:     limiter,
		builder:     builder,
		views:       views,
		bus:         bus,
		audit:       audit,
		ratePerMin:  ratePerMin,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "stake_service")),
	}
}

// IssueToken validates the requested stake against the prediction's current
// state and returns a signed stake token plus the transfer the client must
// broadcast. Issuance is rate limited per username.
func (s *StakeService) IssueToken(ctx context.Context, req IssueTokenRequest) (IssuedStakeToken, error) {
	if req.Username == "" {
		return IssuedStakeToken{}, fmt.Errorf("%w: username is required", ErrValidation)
	}
	if req.Amount <= 0 {
		return IssuedStakeToken{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	allowed, err := s.limiter.Allow(ctx, "stake_token:"+req.Username, s.ratePerMin, time.Minute)
	if err != nil {
		return IssuedStakeToken{}, fmt.Errorf("stake_service: rate limit check: %w", err)
	}
	if !allowed {
		return IssuedStakeToken{}, domain.ErrRateLimited
	}

	p, err := s.predictions.GetByID(ctx, req.PredictionID)
	if err != nil {
		return IssuedStakeToken{}, fmt.Errorf("stake_service: get prediction %s: %w", req.PredictionID, err)
	}
	if !p.AcceptsStakes(s.now()) {
		return IssuedStakeToken{}, domain.ErrPredictionClosed
	}

	outcomes, err := s.predictions.GetOutcomes(ctx, req.PredictionID)
	if err != nil {
		return IssuedStakeToken{}, fmt.Errorf("stake_service: outcomes for %s: %w", req.PredictionID, err)
	}
	if !hasOutcome(outcomes, req.OutcomeID) {
		return IssuedStakeToken{}, fmt.Errorf("%w: unknown outcome %q", ErrValidation, req.OutcomeID)
	}

	tok, err := s.signer.Sign(domain.StakeTokenPayload{
		PredictionID: req.PredictionID,
		Username:     req.Username,
		OutcomeID:    req.OutcomeID,
		Amount:       req.Amount,
	})
	if err != nil {
		return IssuedStakeToken{}, fmt.Errorf("stake_service: sign token: %w", err)
	}

	s.logger.InfoContext(ctx, "stake token issued",
		slog.String("prediction_id", req.PredictionID),
		slog.String("username", req.Username),
	)

	return IssuedStakeToken{
		Token:    tok,
		Transfer: s.builder.StakeOp(req.Username, req.Amount, req.PredictionID, req.OutcomeID),
	}, nil
}

// SubmitStake redeems a stake token against a ledger transaction. The token
// authenticates the claim; the ledger read proves the funds actually moved
// into escrow. A reconciliation failure comes back as an invalid
// VerifyResult with a nil error; only transport exhaustion is an error.
//
// Tokens are effectively single-use: the stake's txID is unique in storage,
// so replaying a token requires a fresh escrow transfer anyway.
func (s *StakeService) SubmitStake(ctx context.Context, bearerToken, txID string) (domain.Stake, escrow.VerifyResult, error) {
	payload, ok := s.signer.Verify(bearerToken)
	if !ok {
		return domain.Stake{}, escrow.VerifyResult{}, domain.ErrUnauthorized
	}
	if txID == "" {
		return domain.Stake{}, escrow.VerifyResult{}, fmt.Errorf("%w: transaction id is required", ErrValidation)
	}

	p, err := s.predictions.GetByID(ctx, payload.PredictionID)
	if err != nil {
		return domain.Stake{}, escrow.VerifyResult{}, fmt.Errorf("stake_service: get prediction %s: %w", payload.PredictionID, err)
	}
	if !p.AcceptsStakes(s.now()) {
		// The transfer may have landed on the ledger after lock; operators
		// refund out-of-band, the stake is still rejected.
		return domain.Stake{}, escrow.VerifyResult{}, domain.ErrPredictionClosed
	}

	res, err := s.verifier.VerifyStakeTransaction(ctx, escrow.VerifyRequest{
		TxID:                 txID,
		ExpectedUsername:     payload.Username,
		ExpectedAmount:       payload.Amount,
		ExpectedPredictionID: payload.PredictionID,
		ExpectedOutcomeID:    payload.OutcomeID,
	})
	if err != nil {
		return domain.Stake{}, escrow.VerifyResult{}, fmt.Errorf("stake_service: verify tx %s: %w", txID, err)
	}
	if !res.Valid {
		s.logger.InfoContext(ctx, "stake verification rejected",
			slog.String("prediction_id", payload.PredictionID),
			slog.String("tx_id", txID),
			slog.String("reason", res.Reason),
		)
		return domain.Stake{}, res, nil
	}

	stake := domain.Stake{
		ID:           uuid.New().String(),
		PredictionID: payload.PredictionID,
		OutcomeID:    payload.OutcomeID,
		Username:     payload.Username,
		Amount:       payload.Amount,
		TxID:         txID,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.stakes.Create(ctx, stake); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Stake{}, escrow.VerifyResult{}, fmt.Errorf("stake_service: tx %s already funded a stake: %w", txID, err)
		}
		return domain.Stake{}, escrow.VerifyResult{}, fmt.Errorf("stake_service: create stake: %w", err)
	}

	if err := s.audit.Log(ctx, "stake.created", map[string]any{
		"stake_id":      stake.ID,
		"prediction_id": stake.PredictionID,
		"outcome_id":    stake.OutcomeID,
		"username":      stake.Username,
		"amount":        stake.Amount,
		"tx_id":         stake.TxID,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("stake_id", stake.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.views.Invalidate(ctx, stake.PredictionID); err != nil {
		s.logger.WarnContext(ctx, "view cache invalidate failed",
			slog.String("prediction_id", stake.PredictionID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "stake accepted",
		slog.String("stake_id", stake.ID),
		slog.String("prediction_id", stake.PredictionID),
		slog.String("username", stake.Username),
		slog.Float64("amount", stake.Amount),
	)
	publishEvent(ctx, s.bus, s.logger, ChannelStakes, StreamStakes, Event{
		Type:         "stake.created",
		PredictionID: stake.PredictionID,
		Data: map[string]any{
			"outcomeId": stake.OutcomeID,
			"username":  stake.Username,
			"amount":    stake.Amount,
		},
	})

	return stake, res, nil
}

func hasOutcome(outcomes []domain.Outcome, id string) bool {
	for _, o := range outcomes {
		if o.ID == id {
			return true
		}
	}
	return false
}
