package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Record is one message to publish.
type Record struct {
	Key   string
	Value []byte
}

// Producer publishes records to Kafka topics.
type Producer interface {
	Publish(ctx context.Context, topic string, records ...Record) error
	Close() error
}

type producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for brokers. Records with the same key land
// on the same partition, so per-owner event order is preserved.
func NewProducer(brokers []string) Producer {
	return &producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}}
}

func (p *producer) Publish(ctx context.Context, topic string, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	headers := make(HeaderCarrier, 0, 2)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	now := time.Now()
	msgs := make([]kafka.Message, len(records))
	for i, r := range records {
		msgs[i] = kafka.Message{
			Topic:   topic,
			Key:     []byte(r.Key),
			Value:   r.Value,
			Headers: []kafka.Header(headers),
			Time:    now,
		}
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish %d records to %s: %w", len(records), topic, err)
	}
	return nil
}

func (p *producer) Close() error {
	return p.writer.Close()
}
