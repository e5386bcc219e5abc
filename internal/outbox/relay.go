// Package outbox moves committed order events from the outbox table to the
// message broker.
package outbox

import (
	"context"
	"time"

	"github.com/safar/electronics-store/internal/models"
	"go.uber.org/zap"
)

// Source hands pending events to publish and marks the accepted ones as
// published. Rejected events stay pending.
type Source interface {
	Dispatch(ctx context.Context, limit int, publish func(context.Context, models.OutboxEvent) error) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.OutboxEvent) error
}

type Relay struct {
	source    Source
	publisher Publisher
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(source Source, publisher Publisher, logger *zap.Logger, interval time.Duration, batchSize int) *Relay {
	return &Relay{
		source:    source,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start polls until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("failed to relay events", zap.Error(err))
			}
		}
	}
}

// RunOnce relays one batch and returns how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published, err := r.source.Dispatch(ctx, r.batchSize, r.publish)
	if published > 0 {
		r.logger.Debug("events relayed", zap.Int("count", published))
	}
	return published, err
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent) error {
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return err
	}

	r.logger.Debug("event published",
		zap.String("event_id", event.EventID),
		zap.Int64("aggregate_id", event.AggregateID))
	return nil
}
