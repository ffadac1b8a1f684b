package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/service"
)

// EventsHandler serves the durable event streams over HTTP, letting clients
// that missed websocket delivery replay recent stake and settlement events.
type EventsHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(bus domain.SignalBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: logHandler(logger, "events"),
	}
}

// streamFor maps the public stream name onto its Redis stream key.
func streamFor(name string) (string, bool) {
	switch name {
	case "stakes":
		return service.StreamStakes, true
	case "settlements":
		return service.StreamSettlements, true
	default:
		return "", false
	}
}

// Replay reads events from a durable stream after the given cursor.
// GET /api/events/{stream}?after=<id>&count=<n>
func (h *EventsHandler) Replay(w http.ResponseWriter, r *http.Request) {
	stream, ok := streamFor(pathParam(r, "stream"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown event stream")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	messages, err := h.bus.StreamRead(r.Context(), stream, after, count)
	if err != nil {
		h.logger.WarnContext(r.Context(), "stream read failed",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	type entry struct {
		ID    string          `json:"id"`
		Event json.RawMessage `json:"event"`
	}
	entries := make([]entry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, entry{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}
