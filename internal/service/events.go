// Package service composes the domain stores, caches, ledger clients, and
// settlement math into the operations the HTTP surface exposes. Services own
// orchestration and side-effect ordering; the underlying packages stay pure.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
)

// Pub/sub channels and durable streams for client-facing events. Websocket
// subscribers attach to the channels; the streams keep a bounded replay
// window for reconnecting clients.
const (
	ChannelPredictions = "predict:events:predictions"
	ChannelStakes      = "predict:events:stakes"
	ChannelSettlements = "predict:events:settlements"

	StreamStakes      = "predict:stream:stakes"
	StreamSettlements = "predict:stream:settlements"
)

// Event is the wire form of every published event.
type Event struct {
	Type         string    `json:"type"`
	PredictionID string    `json:"predictionId"`
	At           time.Time `json:"at"`
	Data         any       `json:"data,omitempty"`
}

// publishEvent marshals and fans out an event. Delivery is best effort:
// failures are logged, never propagated, since the durable record already
// lives in Postgres by the time an event fires.
func publishEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel, stream string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.WarnContext(ctx, "event marshal failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "event publish failed",
			slog.String("type", ev.Type),
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if stream == "" {
		return
	}
	if err := bus.StreamAppend(ctx, stream, payload); err != nil {
		logger.WarnContext(ctx, "event stream append failed",
			slog.String("type", ev.Type),
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}
