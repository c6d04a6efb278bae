package main

import (
	"log/slog"

	"github.com/google/uuid"

	"payflow/core/events"
	"payflow/core/types"
)

// eventLogger publishes engine events to the structured log, tagging each one
// with a unique delivery id so external indexers scraping the log can dedupe
// replays.
type eventLogger struct {
	logger *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	if l.logger == nil || evt == nil {
		return
	}
	attrs := []any{
		slog.String("event", evt.EventType()),
		slog.String("deliveryId", uuid.NewString()),
	}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	l.logger.Info("payment event", attrs...)
}
