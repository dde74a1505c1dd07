package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/engageflow/internal/kafka"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
)

// Ingester is the slice of Service the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, c Candidate) (Outcome, error)
}

// Consumer feeds candidates from a Kafka topic into an Ingester. Messages
// that can never be ingested go to the dead-letter topic.
type Consumer struct {
	consumer kafka.Consumer
	producer kafka.Producer // nil disables the dead-letter topic
	ingester Ingester
	dlqTopic string
	logger   *slog.Logger
}

// NewConsumer wires a Kafka consumer to ingester. Rejected messages are
// published to topic + ".dlq".
func NewConsumer(consumer kafka.Consumer, producer kafka.Producer, ingester Ingester, topic string, logger *slog.Logger) *Consumer {
	return &Consumer{
		consumer: consumer,
		producer: producer,
		ingester: ingester,
		dlqTopic: topic + ".dlq",
		logger:   logger,
	}
}

// Run starts consuming. Blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.consumer.Subscribe(ctx, c.handle)
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := telemetry.Tracer().Start(ctx, "intake.handle")
	defer span.End()

	var cand Candidate
	if err := json.Unmarshal(msg.Value, &cand); err != nil {
		c.logger.Error("malformed candidate, sending to DLQ",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")
		telemetry.IntakeCandidatesTotal.WithLabelValues(string(ResultInvalid)).Inc()
		return c.toDLQ(ctx, msg)
	}
	span.SetAttributes(
		attribute.String("owner.id", cand.OwnerID),
		attribute.String("target.external_id", cand.Target.ExternalID),
	)

	out, err := c.ingester.Ingest(ctx, cand)
	if err != nil {
		var invalid *InvalidCandidateError
		if errors.As(err, &invalid) {
			c.logger.Warn("rejected candidate, sending to DLQ", slog.String("error", err.Error()))
			span.SetStatus(codes.Error, "invalid candidate")
			return c.toDLQ(ctx, msg)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		// Transient: return the error so the offset is not committed.
		return fmt.Errorf("ingest candidate: %w", err)
	}
	span.SetAttributes(attribute.String("intake.result", string(out.Result)))
	return nil
}

func (c *Consumer) toDLQ(ctx context.Context, msg kafka.Message) error {
	if c.producer == nil {
		return nil
	}
	if err := c.producer.Publish(ctx, c.dlqTopic, kafka.Record{Key: string(msg.Key), Value: msg.Value}); err != nil {
		c.logger.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return err
	}
	return nil
}
