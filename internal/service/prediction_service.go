package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/serialize"
)

// ErrValidation wraps request validation failures so the HTTP layer can map
// them to 400 responses.
var ErrValidation = errors.New("validation failed")

// CreatePredictionRequest carries everything needed to open a prediction.
type CreatePredictionRequest struct {
	CreatorUsername string
	Title           string
	SportCategory   string
	MatchReference  string
	LocksAt         time.Time
	OutcomeLabels   []string
}

// PredictionService handles prediction lifecycle up to the point settlement
// takes over: creation, serialized views, and the open-to-locked transition.
type PredictionService struct {
	predictions domain.PredictionStore
	stakes      domain.StakeStore
	views       domain.ViewCache
	bus         domain.SignalBus
	feePct      float64
	now         func() time.Time
	logger      *slog.Logger
}

// NewPredictionService creates a PredictionService with all required
// dependencies.
func NewPredictionService(
	predictions domain.PredictionStore,
	stakes domain.StakeStore,
	views domain.ViewCache,
	bus domain.SignalBus,
	feePct float64,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		predictions: predictions,
		stakes:      stakes,
		views:       views,
		bus:         bus,
		feePct:      feePct,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "prediction_service")),
	}
}

// Create validates and persists a new open prediction with its outcomes.
func (s *PredictionService) Create(ctx context.Context, req CreatePredictionRequest) (domain.Prediction, error) {
	if err := validateCreate(req, s.now()); err != nil {
		return domain.Prediction{}, err
	}

	p := domain.Prediction{
		ID:              uuid.New().String(),
		CreatorUsername: req.CreatorUsername,
		Title:           strings.TrimSpace(req.Title),
		SportCategory:   req.SportCategory,
		MatchReference:  req.MatchReference,
		Status:          domain.PredictionStatusOpen,
		LocksAt:         req.LocksAt.UTC(),
		CreatedAt:       s.now().UTC(),
	}

	outcomes := make([]domain.Outcome, len(req.OutcomeLabels))
	for i, label := range req.OutcomeLabels {
		outcomes[i] = domain.Outcome{
			ID:           uuid.New().String(),
			PredictionID: p.ID,
			Label:        strings.TrimSpace(label),
		}
	}

	if err := s.predictions.Create(ctx, p, outcomes); err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "prediction created",
		slog.String("prediction_id", p.ID),
		slog.String("creator", p.CreatorUsername),
		slog.Int("outcomes", len(outcomes)),
	)
	publishEvent(ctx, s.bus, s.logger, ChannelPredictions, "", Event{
		Type:         "prediction.created",
		PredictionID: p.ID,
	})

	return p, nil
}

func validateCreate(req CreatePredictionRequest, now time.Time) error {
	if req.CreatorUsername == "" {
		return fmt.Errorf("%w: creator username is required", ErrValidation)
	}
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !req.LocksAt.After(now) {
		return fmt.Errorf("%w: locks_at must be in the future", ErrValidation)
	}
	if len(req.OutcomeLabels) < 2 {
		return fmt.Errorf("%w: at least two outcomes are required", ErrValidation)
	}
	seen := make(map[string]bool, len(req.OutcomeLabels))
	for _, label := range req.OutcomeLabels {
		trimmed := strings.TrimSpace(label)
		if trimmed == "" {
			return fmt.Errorf("%w: outcome labels must not be empty", ErrValidation)
		}
		if seen[trimmed] {
			return fmt.Errorf("%w: duplicate outcome label %q", ErrValidation, trimmed)
		}
		seen[trimmed] = true
	}
	return nil
}

// GetView serves the serialized prediction view through the cache. Viewer and
// staker-inclusion produce distinct cache variants; a miss renders from the
// stores and back-fills.
func (s *PredictionService) GetView(ctx context.Context, id, viewer string, includeStakers bool) (serialize.PredictionView, error) {
	key := domain.ViewCacheKey(id, viewer, includeStakers)

	if cached, err := s.views.Get(ctx, key); err == nil {
		var view serialize.PredictionView
		if err := json.Unmarshal(cached, &view); err == nil {
			return view, nil
		}
		// A corrupt cache entry falls through to a fresh render.
	}

	p, err := s.predictions.GetByID(ctx, id)
	if err != nil {
		return serialize.PredictionView{}, fmt.Errorf("prediction_service: get %s: %w", id, err)
	}
	outcomes, err := s.predictions.GetOutcomes(ctx, id)
	if err != nil {
		return serialize.PredictionView{}, fmt.Errorf("prediction_service: outcomes for %s: %w", id, err)
	}
	stakes, err := s.stakes.ListByPrediction(ctx, id)
	if err != nil {
		return serialize.PredictionView{}, fmt.Errorf("prediction_service: stakes for %s: %w", id, err)
	}

	view := serialize.BuildView(p, outcomes, stakes, serialize.Options{
		Viewer:         viewer,
		ExcludeStakers: !includeStakers,
		FeePct:         s.feePct,
	})

	if data, err := json.Marshal(view); err == nil {
		if cacheErr := s.views.Set(ctx, key, data); cacheErr != nil {
			s.logger.WarnContext(ctx, "view cache set failed",
				slog.String("prediction_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}

	return view, nil
}

// List returns predictions filtered by status (empty matches all).
func (s *PredictionService) List(ctx context.Context, status domain.PredictionStatus, opts domain.ListOpts) ([]domain.Prediction, error) {
	preds, err := s.predictions.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: list: %w", err)
	}
	return preds, nil
}

// ListUserStakes returns a user's stakes, newest first.
func (s *PredictionService) ListUserStakes(ctx context.Context, username string, opts domain.ListOpts) ([]domain.Stake, error) {
	stakes, err := s.stakes.ListByUser(ctx, username, opts)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: stakes for user %s: %w", username, err)
	}
	return stakes, nil
}

// Lock transitions an open prediction to locked, after which no further
// stakes are accepted. The compare-and-swap makes concurrent lock attempts
// settle on exactly one winner; losers see ErrInvalidTransition.
func (s *PredictionService) Lock(ctx context.Context, id string) error {
	err := s.predictions.TransitionStatus(ctx, id,
		domain.PredictionStatusOpen, domain.PredictionStatusLocked)
	if err != nil {
		return fmt.Errorf("prediction_service: lock %s: %w", id, err)
	}

	s.invalidateView(ctx, id)
	s.logger.InfoContext(ctx, "prediction locked", slog.String("prediction_id", id))
	publishEvent(ctx, s.bus, s.logger, ChannelPredictions, "", Event{
		Type:         "prediction.locked",
		PredictionID: id,
	})
	return nil
}

// LockExpired locks every open prediction whose lock time has passed. Run
// periodically by monitor mode; a race with an explicit Lock call is benign
// since only one CAS wins.
func (s *PredictionService) LockExpired(ctx context.Context) (int, error) {
	open, err := s.predictions.List(ctx, domain.PredictionStatusOpen, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("prediction_service: list open: %w", err)
	}

	now := s.now()
	locked := 0
	for _, p := range open {
		if now.Before(p.LocksAt) {
			continue
		}
		if err := s.Lock(ctx, p.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return locked, err
		}
		locked++
	}
	return locked, nil
}

func (s *PredictionService) invalidateView(ctx context.Context, id string) {
	if err := s.views.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "view cache invalidate failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()),
		)
		// Non-fatal: the cache entry expires on its own shortly.
	}
}
