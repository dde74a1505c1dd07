// Package execution drives opportunities through their lifecycle: scheduling,
// claiming, admission, content generation, approval and submission.
package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/engageflow/internal/actionapi"
	"github.com/ramiqadoumi/engageflow/internal/admission"
	"github.com/ramiqadoumi/engageflow/internal/analytics"
	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/generator"
	"github.com/ramiqadoumi/engageflow/internal/owners"
	"github.com/ramiqadoumi/engageflow/internal/scheduling"
	"github.com/ramiqadoumi/engageflow/internal/scoring"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
)

// Outcome is the non-error result of an execution.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeFailed          Outcome = "failed"
	OutcomeSkipped         Outcome = "skipped"
	OutcomePendingApproval Outcome = "pending_approval"
	// OutcomeConflict means another worker claimed the opportunity first.
	OutcomeConflict Outcome = "conflict"
	// OutcomeDeferred means the owner was busy; the opportunity is untouched.
	OutcomeDeferred Outcome = "deferred"
)

// Result describes what Execute did.
type Result struct {
	OpportunityID string
	ActionType    domain.ActionType
	Outcome       Outcome
	Status        domain.Status
	Reason        string
	ActionID      string
	Text          string
	Confidence    float64
	Attempts      int
	RetryAt       *time.Time
}

// Timeouts bound each blocking dependency call.
type Timeouts struct {
	Store    time.Duration
	Generate time.Duration
	Submit   time.Duration
}

// DefaultTimeouts are the recommended bounds.
var DefaultTimeouts = Timeouts{Store: 10 * time.Second, Generate: 30 * time.Second, Submit: 30 * time.Second}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Store     store.Store
	Owners    owners.Directory
	Counter   admission.ActivityCounter
	Admission *admission.Controller
	Scheduler *scheduling.Scheduler
	Generator generator.Generator
	Actions   actionapi.Submitter
}

// Engine executes opportunities.
type Engine struct {
	store     store.Store
	owners    owners.Directory
	counter   admission.ActivityCounter
	admission *admission.Controller
	scheduler *scheduling.Scheduler
	scorer    scoring.Engine
	generator generator.Generator
	actions   actionapi.Submitter

	analytics analytics.Sink
	locker    OwnerLocker
	clock     clock.Clock
	logger    *slog.Logger
	workerID  string
	timeouts  Timeouts
	retryBase time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

func WithAnalytics(s analytics.Sink) Option { return func(e *Engine) { e.analytics = s } }
func WithLocker(l OwnerLocker) Option       { return func(e *Engine) { e.locker = l } }
func WithClock(c clock.Clock) Option        { return func(e *Engine) { e.clock = c } }
func WithLogger(l *slog.Logger) Option      { return func(e *Engine) { e.logger = l } }
func WithWorkerID(id string) Option         { return func(e *Engine) { e.workerID = id } }
func WithTimeouts(t Timeouts) Option        { return func(e *Engine) { e.timeouts = t } }

// WithRetryBase sets the base of the quadratic delay before a failed
// opportunity is rescheduled.
func WithRetryBase(d time.Duration) Option { return func(e *Engine) { e.retryBase = d } }

// New builds an Engine.
func New(d Deps, opts ...Option) *Engine {
	e := &Engine{
		store:     d.Store,
		owners:    d.Owners,
		counter:   d.Counter,
		admission: d.Admission,
		scheduler: d.Scheduler,
		generator: d.Generator,
		actions:   d.Actions,
		analytics: analytics.Nop{},
		locker:    NewLocalLocker(),
		clock:     clock.Real(),
		logger:    slog.Default(),
		workerID:  "worker-" + uuid.NewString()[:8],
		timeouts:  DefaultTimeouts,
		retryBase: time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkerID is the identity recorded on claims made by this engine.
func (e *Engine) WorkerID() string { return e.workerID }

func (e *Engine) get(ctx context.Context, id string) (*domain.Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Store)
	defer cancel()
	return e.store.Get(ctx, id)
}

func (e *Engine) update(ctx context.Context, id string, fn store.MutateFunc) (*domain.Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Store)
	defer cancel()
	return e.store.Update(ctx, id, fn)
}

func (e *Engine) claim(ctx context.Context, id string, now time.Time) (*domain.Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Store)
	defer cancel()
	return e.store.Claim(ctx, id, e.workerID, now)
}

// load fetches an opportunity and checks that ownerID may act on it. An empty
// ownerID is an internal caller and skips the check.
func (e *Engine) load(ctx context.Context, id, ownerID string) (*domain.Opportunity, error) {
	o, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && o.OwnerID != ownerID {
		return nil, &domain.AccessDeniedError{OpportunityID: id, OwnerID: ownerID}
	}
	return o, nil
}

func (e *Engine) opLogger(o *domain.Opportunity) *slog.Logger {
	return e.logger.With(
		slog.String("opportunity_id", o.ID),
		slog.String("owner_id", o.OwnerID),
		slog.String("action_type", string(o.ActionType)),
	)
}

// expire marks o Expired if it still can be. Failure only means someone else
// moved it first.
func (e *Engine) expire(ctx context.Context, o *domain.Opportunity, now time.Time, log *slog.Logger) {
	_, err := e.update(context.WithoutCancel(ctx), o.ID, func(cur *domain.Opportunity) error {
		return cur.Expire(now)
	})
	if err != nil {
		log.Debug("expire skipped", slog.String("error", err.Error()))
		return
	}
	e.analytics.Record(ctx, analytics.Event{
		Type: analytics.EventExpired, OpportunityID: o.ID, OwnerID: o.OwnerID, ActionType: o.ActionType, At: now,
	})
}

func resultOf(o *domain.Opportunity, outcome Outcome, reason string) Result {
	r := Result{
		OpportunityID: o.ID,
		ActionType:    o.ActionType,
		Outcome:       outcome,
		Status:        o.Status,
		Reason:        reason,
		Text:          o.SuggestedText,
		Attempts:      o.AttemptsCount,
	}
	if o.ExecutionResult != nil {
		r.ActionID = o.ExecutionResult.ActionID
		r.Confidence = o.ExecutionResult.Confidence
	}
	if o.Status == domain.StatusScheduled && outcome == OutcomeFailed {
		r.RetryAt = o.ScheduledFor
	}
	return r
}
