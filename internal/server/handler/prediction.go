package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/service"
)

// PredictionHandler serves prediction lifecycle and view endpoints.
type PredictionHandler struct {
	predictions *service.PredictionService
	logger      *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(predictions *service.PredictionService, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{
		predictions: predictions,
		logger:      logHandler(logger, "prediction"),
	}
}

type createPredictionBody struct {
	CreatorUsername string    `json:"creatorUsername"`
	Title           string    `json:"title"`
	SportCategory   string    `json:"sportCategory"`
	MatchReference  string    `json:"matchReference"`
	LocksAt         time.Time `json:"locksAt"`
	Outcomes        []string  `json:"outcomes"`
}

// CreatePrediction opens a new prediction.
// POST /api/predictions
func (h *PredictionHandler) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	var body createPredictionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := h.predictions.Create(r.Context(), service.CreatePredictionRequest{
		CreatorUsername: body.CreatorUsername,
		Title:           body.Title,
		SportCategory:   body.SportCategory,
		MatchReference:  body.MatchReference,
		LocksAt:         body.LocksAt,
		OutcomeLabels:   body.Outcomes,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "create prediction failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	view, err := h.predictions.GetView(r.Context(), p.ID, body.CreatorUsername, true)
	if err != nil {
		// The prediction exists; fall back to the bare record.
		writeJSON(w, http.StatusCreated, p)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetPrediction serves the serialized view of one prediction. The optional
// viewer query parameter selects the personalized variant;
// includeStakers=false drops the per-outcome staker lists.
// GET /api/predictions/{id}
func (h *PredictionHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	includeStakers := r.URL.Query().Get("includeStakers") != "false"
	view, err := h.predictions.GetView(r.Context(), id, viewer(r), includeStakers)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListPredictions lists predictions, optionally filtered by status.
// GET /api/predictions?status=open
func (h *PredictionHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	status := domain.PredictionStatus(r.URL.Query().Get("status"))

	preds, err := h.predictions.List(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if preds == nil {
		preds = []domain.Prediction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": preds,
		"count":       len(preds),
	})
}

// LockPrediction transitions an open prediction to locked.
// POST /api/predictions/{id}/lock
func (h *PredictionHandler) LockPrediction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if err := h.predictions.Lock(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(domain.PredictionStatusLocked),
	})
}

// ListUserStakes lists a user's stakes, newest first.
// GET /api/users/{username}/stakes
func (h *PredictionHandler) ListUserStakes(w http.ResponseWriter, r *http.Request) {
	username := pathParam(r, "username")

	stakes, err := h.predictions.ListUserStakes(r.Context(), username, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if stakes == nil {
		stakes = []domain.Stake{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": username,
		"stakes":   stakes,
		"count":    len(stakes),
	})
}
