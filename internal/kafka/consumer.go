package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/ramiqadoumi/engageflow/pkg/retry"
)

// Message is a consumed Kafka message.
type Message struct {
	Topic     string
	Partition int
	Key       []byte
	Value     []byte
	Offset    int64
	Time      time.Time
}

// HandlerFunc processes one message. A nil return commits the offset.
// Handlers return errors only for transient failures; poison messages should
// be logged and acknowledged.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consumer reads a topic as part of a consumer group.
type Consumer interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type consumer struct {
	reader fetcher
	retry  retry.Config
	logger *slog.Logger
}

// NewConsumer creates a consumer for topic in groupID.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	return newConsumer(r, logger)
}

func newConsumer(r fetcher, logger *slog.Logger) *consumer {
	return &consumer{
		reader: r,
		retry:  retry.Config{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond},
		logger: logger,
	}
}

// Subscribe runs until ctx is cancelled. Offsets are committed only after the
// handler succeeds. A handler that keeps failing after retries stops the
// subscription with its error so the message is redelivered after restart.
func (c *consumer) Subscribe(ctx context.Context, handler HandlerFunc) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		carrier := HeaderCarrier(m.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)
		msg := Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Key:       m.Key,
			Value:     m.Value,
			Offset:    m.Offset,
			Time:      m.Time,
		}

		cfg := c.retry
		cfg.OnRetry = func(attempt int, err error) {
			c.logger.Warn("message handler failed, retrying",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		if err := retry.Do(ctx, cfg, func() error { return handler(msgCtx, msg) }); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handle %s offset %d: %w", m.Topic, m.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to commit kafka offset",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *consumer) Close() error {
	return c.reader.Close()
}
