package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bookvision/visualization/internal/model"
)

// EventPublisher fans committed events out to every sink. Sink failures are
// logged and never reach the caller.
type EventPublisher struct {
	sinks []EventSink
	log   zerolog.Logger
}

func NewEventPublisher(log zerolog.Logger, sinks ...EventSink) *EventPublisher {
	return &EventPublisher{sinks: sinks, log: log.With().Str("component", "events").Logger()}
}

func (p *EventPublisher) Publish(ctx context.Context, events ...model.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, events...); err != nil {
			p.log.Warn().Err(err).Str("job_id", events[0].JobID).Int("events", len(events)).Msg("failed to publish events")
		}
	}
	return nil
}
