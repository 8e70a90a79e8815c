package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rideline/ridectl/internal/domain/trip"
	"go.uber.org/zap"
)

// AMQPChannel is the subset of *amqp.Channel the publisher needs.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends tracker transitions to a RabbitMQ topic exchange with
// routing keys of the form ride.transition.<phase>.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  AMQPChannel
	exchange string
	logger   *zap.Logger
}

// DialAMQP connects to RabbitMQ and declares the durable topic exchange.
func DialAMQP(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	logger.Info("connected to RabbitMQ", zap.String("exchange", exchange))
	p := NewAMQPPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher wraps an already open channel.
func NewAMQPPublisher(ch AMQPChannel, exchange string, logger *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{channel: ch, exchange: exchange, logger: logger}
}

// RoutingKey returns the routing key for a transition.
func RoutingKey(tr trip.Transition) string {
	return "ride.transition." + tr.To.String()
}

// PublishTransition publishes one transition as a persistent JSON message.
func (p *AMQPPublisher) PublishTransition(ctx context.Context, tr trip.Transition) error {
	body, err := json.Marshal(NewTransitionEvent(tr))
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	key := RoutingKey(tr)
	if err := p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    tr.TripID + ":" + tr.To.String(),
		Timestamp:    tr.At,
		Type:         TransitionEventType,
		Body:         body,
	}); err != nil {
		p.logger.Error("failed to publish transition",
			zap.String("routing_key", key),
			zap.String("trip_id", tr.TripID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish transition: %w", err)
	}

	p.logger.Debug("transition published", zap.String("routing_key", key), zap.String("trip_id", tr.TripID))
	return nil
}

// Close closes the channel and, when dialled here, the connection.
func (p *AMQPPublisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
