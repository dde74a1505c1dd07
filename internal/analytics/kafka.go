package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ramiqadoumi/engageflow/internal/kafka"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
)

const (
	defaultBuffer    = 1024
	defaultBatchSize = 100
	flushInterval    = time.Second
	publishTimeout   = 10 * time.Second
)

// Kafka publishes events to a topic from a background goroutine. When the
// buffer is full new events are dropped and counted.
type Kafka struct {
	producer kafka.Producer
	topic    string
	logger   *slog.Logger

	events chan Event
	once   sync.Once
	done   chan struct{}
}

// NewKafka starts the publishing goroutine. Close flushes and stops it.
func NewKafka(producer kafka.Producer, topic string, logger *slog.Logger) *Kafka {
	k := &Kafka{
		producer: producer,
		topic:    topic,
		logger:   logger,
		events:   make(chan Event, defaultBuffer),
		done:     make(chan struct{}),
	}
	go k.run()
	return k
}

func (k *Kafka) Record(_ context.Context, e Event) {
	select {
	case k.events <- e:
	default:
		telemetry.AnalyticsDroppedTotal.Inc()
	}
}

// Close stops accepting events, publishes what is buffered and returns when done.
// Record must not be called after Close.
func (k *Kafka) Close() {
	k.once.Do(func() { close(k.events) })
	<-k.done
}

func (k *Kafka) run() {
	defer close(k.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Record, 0, defaultBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := k.producer.Publish(ctx, k.topic, batch...); err != nil {
			telemetry.AnalyticsDroppedTotal.Add(float64(len(batch)))
			k.logger.Warn("analytics publish failed",
				slog.Int("events", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-k.events:
			if !ok {
				flush()
				return
			}
			value, err := json.Marshal(e)
			if err != nil {
				telemetry.AnalyticsDroppedTotal.Inc()
				continue
			}
			batch = append(batch, kafka.Record{Key: e.OwnerID, Value: value})
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
