package events

import (
	"context"

	"github.com/rideline/ridectl/internal/common/kafka"
	"github.com/rideline/ridectl/internal/domain/trip"
	"go.uber.org/zap"
)

// EventProducer is the subset of kafka.Producer the publisher needs.
type EventProducer interface {
	PublishEvent(ctx context.Context, topic string, event kafka.CloudEvent) error
}

// TransitionPublisher sends tracker transitions to a Kafka topic as CloudEvents.
type TransitionPublisher struct {
	producer EventProducer
	topic    string
	logger   *zap.Logger
}

// NewTransitionPublisher creates a new TransitionPublisher.
func NewTransitionPublisher(producer EventProducer, topic string, logger *zap.Logger) *TransitionPublisher {
	return &TransitionPublisher{producer: producer, topic: topic, logger: logger}
}

// PublishTransition publishes one transition keyed by trip ID.
func (p *TransitionPublisher) PublishTransition(ctx context.Context, tr trip.Transition) error {
	cloudEvent, err := kafka.NewCloudEvent(Source, TransitionEventType, NewTransitionEvent(tr))
	if err != nil {
		p.logger.Error("failed to create cloud event",
			zap.String("event_type", TransitionEventType),
			zap.Error(err),
		)
		return err
	}
	cloudEvent.Subject = tr.TripID

	if err := p.producer.PublishEvent(ctx, p.topic, cloudEvent); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("topic", p.topic),
			zap.String("trip_id", tr.TripID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
