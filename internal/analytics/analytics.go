// Package analytics forwards execution events to an opaque sink. Recording is
// fire-and-forget: sinks never return errors and never block the caller for long.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// EventType classifies analytics events.
type EventType string

const (
	EventExecutionAttempt EventType = "execution_attempt"
	EventAdmissionDenied  EventType = "admission_denied"
	EventScheduled        EventType = "scheduled"
	EventFeedback         EventType = "feedback"
	EventExpired          EventType = "expired"
)

// Event is one analytics record.
type Event struct {
	Type          EventType         `json:"type"`
	OpportunityID string            `json:"opportunity_id"`
	OwnerID       string            `json:"owner_id"`
	ActionType    domain.ActionType `json:"action_type,omitempty"`
	Outcome       string            `json:"outcome,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	ActionID      string            `json:"action_id,omitempty"`
	Attempts      int               `json:"attempts,omitempty"`
	Confidence    float64           `json:"confidence,omitempty"`
	Feedback      domain.Feedback   `json:"feedback,omitempty"`
	DurationMS    int64             `json:"duration_ms,omitempty"`
	At            time.Time         `json:"at"`
}

// Sink records events.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Log writes events to a structured logger at debug level.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Record(ctx context.Context, e Event) {
	l.Logger.DebugContext(ctx, "analytics event",
		slog.String("type", string(e.Type)),
		slog.String("opportunity_id", e.OpportunityID),
		slog.String("owner_id", e.OwnerID),
		slog.String("action_type", string(e.ActionType)),
		slog.String("outcome", e.Outcome),
		slog.String("reason", e.Reason),
	)
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) {
	for _, s := range m {
		s.Record(ctx, e)
	}
}
