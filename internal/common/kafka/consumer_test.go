package kafka

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedReader struct {
	messages  []kafkago.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(r.messages) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func TestConsumeSkipsMessagesTheHandlerRejects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{
		messages: []kafkago.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}},
		cancel:   cancel,
	}
	consumer := &Consumer{reader: reader, logger: zap.NewNop()}

	var handled []int64
	err := consumer.Consume(ctx, func(_ context.Context, msg kafkago.Message) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 2 {
			return errors.New("malformed payload")
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, handled, "each message is handled once")
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}
