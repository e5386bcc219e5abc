package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/safar/electronics-store/internal/config"
	"github.com/safar/electronics-store/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeProducer struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeProducer) WriteMessage(_ context.Context, msg kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublishMapsEventToMessage(t *testing.T) {
	producer := &fakeProducer{}
	publisher := NewKafkaPublisher(producer)

	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	event := models.OutboxEvent{
		EventID:     "5f0c3c1e-1a8b-4a53-9d5e-2b7c9e1f0a11",
		AggregateID: 42,
		EventType:   models.EventTypeOrderCreated,
		Payload:     json.RawMessage(`{"orderId":42}`),
		CreatedAt:   createdAt,
	}

	require.NoError(t, publisher.Publish(context.Background(), event))
	require.Len(t, producer.messages, 1)

	msg := producer.messages[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.JSONEq(t, `{"orderId":42}`, string(msg.Value))
	assert.Equal(t, models.EventTypeOrderCreated, headerValue(msg, HeaderEventType))
	assert.Equal(t, event.EventID, headerValue(msg, HeaderEventID))
	assert.Equal(t, createdAt, msg.Time)

	require.NoError(t, publisher.Close())
	assert.True(t, producer.closed)
}

func TestPublishWrapsProducerError(t *testing.T) {
	brokerErr := errors.New("leader not available")
	publisher := NewKafkaPublisher(&fakeProducer{err: brokerErr})

	err := publisher.Publish(context.Background(), models.OutboxEvent{EventType: models.EventTypeOrderCreated})
	assert.ErrorIs(t, err, brokerErr)
}

func TestNewTracedWriter(t *testing.T) {
	writer, err := NewTracedWriter(config.KafkaConfig{Broker: "localhost:9092", OrdersTopic: "orders.created"}, noop.NewTracerProvider())
	require.NoError(t, err)
	require.NotNil(t, writer)
	assert.NoError(t, writer.Close())
}
