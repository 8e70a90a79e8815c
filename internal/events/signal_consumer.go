package events

import (
	"context"

	"github.com/rideline/ridectl/internal/common/kafka"
	"github.com/rideline/ridectl/internal/domain/trip"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SignalTarget is the tracker as seen by the signal consumer.
type SignalTarget interface {
	State() trip.Snapshot
	Nudge()
}

// SignalConsumer listens for server-side trip signals and makes the tracker
// poll early when they concern the tracked trip.
type SignalConsumer struct {
	consumer *kafka.Consumer
	target   SignalTarget
	logger   *zap.Logger
}

// NewSignalConsumer creates a new SignalConsumer.
func NewSignalConsumer(
	brokers []string,
	groupID string,
	topic string,
	target SignalTarget,
	logger *zap.Logger,
) *SignalConsumer {
	return &SignalConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, topic, logger),
		target:   target,
		logger:   logger,
	}
}

// Start begins consuming signals. This blocks until the context is cancelled.
func (c *SignalConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *SignalConsumer) Close() error {
	return c.consumer.Close()
}

func (c *SignalConsumer) handleMessage(_ context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from signal topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}

	switch cloudEvent.Type {
	case SignalStatusChanged, SignalDriverNearby:
		return c.handleSignal(cloudEvent)
	default:
		c.logger.Debug("ignoring unhandled signal type", zap.String("type", cloudEvent.Type))
		return nil
	}
}

func (c *SignalConsumer) handleSignal(cloudEvent kafka.CloudEvent) error {
	var evt SignalEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse SignalEvent data", zap.Error(err))
		return nil
	}

	tracked := c.target.State().TripID
	if tracked == "" || tracked != evt.TripID {
		return nil
	}

	c.logger.Info("signal received for tracked trip",
		zap.String("trip_id", evt.TripID),
		zap.String("type", cloudEvent.Type),
		zap.String("reason", evt.Reason),
	)
	c.target.Nudge()
	return nil
}
