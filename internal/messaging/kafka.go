// Package messaging publishes outbox events to Kafka.
package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/safar/electronics-store/internal/config"
	"github.com/safar/electronics-store/internal/models"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderEventType = "event-type"
	HeaderEventID   = "event-id"
)

type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	producer Producer
}

func NewKafkaPublisher(producer Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// NewTracedWriter builds a Kafka writer for topic that injects the caller's
// trace context into every message.
func NewTracedWriter(cfg config.KafkaConfig, tp trace.TracerProvider) (*otelkafka.Writer, error) {
	baseWriter := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Broker),
		Topic:                  cfg.OrdersTopic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(cfg.OrdersTopic),
				attribute.String("messaging.kafka.client_id", config.ServiceName),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka writer: %w", err)
	}

	return writer, nil
}

// Publish writes event keyed by its aggregate id, so all events of one order
// land on the same partition in order.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.AggregateID, 10)),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.EventType)},
			{Key: HeaderEventID, Value: []byte(event.EventID)},
		},
		Time: event.CreatedAt,
	}

	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("write %s message: %w", event.EventType, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
