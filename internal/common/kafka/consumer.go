package kafka

import (
	"context"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes one message. A returned error is logged and the
// message is skipped; its offset is committed like any other.
type MessageHandler func(ctx context.Context, msg kafkago.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads a single topic as part of a consumer group.
type Consumer struct {
	reader messageReader
	logger *zap.Logger
}

// NewConsumer creates a consumer group reader for topic.
func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		logger: logger.With(zap.String("topic", topic), zap.String("group", groupID)),
	}
}

// Consume fetches messages and hands them to handler until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("message handler failed",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
