// Package intake turns discovered candidates into persisted, scheduled
// opportunities: score, threshold, screen, create, schedule.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ramiqadoumi/engageflow/internal/admission"
	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/owners"
	"github.com/ramiqadoumi/engageflow/internal/scoring"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
)

var validate = validator.New()

// Candidate is a discovered target proposed for an action.
type Candidate struct {
	ID                string            `json:"id,omitempty" validate:"omitempty,uuid"`
	OwnerID           string            `json:"owner_id" validate:"required"`
	Target            domain.Target     `json:"target"`
	ActionType        domain.ActionType `json:"action_type" validate:"required"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	DiscoverySource   string            `json:"discovery_source,omitempty"`
	DiscoveryMetadata json.RawMessage   `json:"discovery_metadata,omitempty"`
	AnalysisMetadata  json.RawMessage   `json:"analysis_metadata,omitempty"`
}

// InvalidCandidateError reports a candidate that can never be ingested.
type InvalidCandidateError struct {
	Reason string
}

func (e *InvalidCandidateError) Error() string { return "invalid candidate: " + e.Reason }

// Result classifies what Ingest did with a candidate.
type Result string

const (
	ResultScheduled      Result = "scheduled"
	ResultPending        Result = "pending"
	ResultBelowThreshold Result = "below_threshold"
	ResultScreenedOut    Result = "screened_out"
	ResultDuplicate      Result = "duplicate"
	ResultExpired        Result = "expired"
	ResultInvalid        Result = "invalid"
)

// Outcome is the result of ingesting one candidate. Opportunity is nil when
// nothing was persisted.
type Outcome struct {
	Result      Result
	Reason      string
	Opportunity *domain.Opportunity
}

// Scheduler commits a slot for a Pending opportunity. *execution.Engine satisfies it.
type Scheduler interface {
	Schedule(ctx context.Context, id, ownerID string) (*domain.Opportunity, error)
}

// Service ingests candidates.
type Service struct {
	store         store.Store
	owners        owners.Directory
	admission     *admission.Controller
	scheduler     Scheduler
	scorer        scoring.Engine
	clock         clock.Clock
	threshold     float64
	defaultExpiry time.Duration
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c clock.Clock) Option   { return func(s *Service) { s.clock = c } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithThreshold overrides every owner's comment threshold. Zero keeps the
// owner's own threshold.
func WithThreshold(t float64) Option { return func(s *Service) { s.threshold = t } }

// WithDefaultExpiry sets expires_at for candidates that arrive without one.
// Zero leaves them without a deadline.
func WithDefaultExpiry(d time.Duration) Option { return func(s *Service) { s.defaultExpiry = d } }

// NewService builds an intake Service.
func NewService(st store.Store, dir owners.Directory, ctrl *admission.Controller, sched Scheduler, opts ...Option) *Service {
	s := &Service{
		store:     st,
		owners:    dir,
		admission: ctrl,
		scheduler: sched,
		clock:     clock.Real(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest runs one candidate through the pipeline. Rejections are outcomes;
// errors are either *InvalidCandidateError or a failed dependency.
func (s *Service) Ingest(ctx context.Context, c Candidate) (Outcome, error) {
	out, err := s.ingest(ctx, c)
	result := out.Result
	if err != nil {
		var invalid *InvalidCandidateError
		if !errors.As(err, &invalid) {
			return out, err
		}
		result = ResultInvalid
	}
	telemetry.IntakeCandidatesTotal.WithLabelValues(string(result)).Inc()
	return out, err
}

func (s *Service) ingest(ctx context.Context, c Candidate) (Outcome, error) {
	if err := check(c); err != nil {
		return Outcome{Result: ResultInvalid}, err
	}
	owner, err := s.owners.Owner(ctx, c.OwnerID)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return Outcome{Result: ResultInvalid}, &InvalidCandidateError{Reason: err.Error()}
		}
		return Outcome{}, fmt.Errorf("load owner %s: %w", c.OwnerID, err)
	}
	log := s.logger.With(
		slog.String("owner_id", c.OwnerID),
		slog.String("target_external_id", c.Target.ExternalID),
		slog.String("action_type", string(c.ActionType)),
	)

	if dup, err := s.duplicate(ctx, c); err != nil {
		return Outcome{}, err
	} else if dup != "" {
		log.Debug("duplicate candidate", slog.String("reason", dup))
		return Outcome{Result: ResultDuplicate, Reason: dup}, nil
	}

	now := s.clock.Now()
	o := s.build(c, now)
	if o.IsExpired(now) {
		return Outcome{Result: ResultExpired, Reason: "candidate expired before intake"}, nil
	}
	score := s.scorer.Score(o, owner, now)
	o.ApplyScore(score.ScoreBreakdown)
	o.Reasoning = score.Reasoning

	if !s.passes(score.ScoreBreakdown) {
		reason := fmt.Sprintf("composite score %.2f below threshold", score.Composite)
		log.Debug("candidate below threshold", slog.Float64("composite", score.Composite))
		return Outcome{Result: ResultBelowThreshold, Reason: reason}, nil
	}

	decision, err := s.admission.Screen(ctx, o, owner)
	if err != nil {
		return Outcome{}, fmt.Errorf("screen candidate: %w", err)
	}
	if !decision.Allowed {
		if err := o.Skip(decision.Reason, now); err != nil {
			return Outcome{}, err
		}
		if err := s.store.Create(ctx, o); err != nil {
			return Outcome{}, fmt.Errorf("create skipped opportunity: %w", err)
		}
		log.Info("candidate screened out", slog.String("reason", decision.Reason))
		return Outcome{Result: ResultScreenedOut, Reason: decision.Reason, Opportunity: o}, nil
	}

	if err := s.store.Create(ctx, o); err != nil {
		return Outcome{}, fmt.Errorf("create opportunity: %w", err)
	}
	scheduled, err := s.scheduler.Schedule(ctx, o.ID, o.OwnerID)
	if err != nil {
		// The opportunity stays Pending; an operator can schedule it later.
		log.Warn("schedule failed", slog.String("opportunity_id", o.ID), slog.String("error", err.Error()))
		return Outcome{Result: ResultPending, Reason: err.Error(), Opportunity: o}, nil
	}
	if scheduled.Status == domain.StatusSkipped {
		return Outcome{Result: ResultScreenedOut, Reason: scheduled.SkipReason, Opportunity: scheduled}, nil
	}
	log.Info("opportunity scheduled",
		slog.String("opportunity_id", o.ID),
		slog.Float64("composite", score.Composite),
		slog.Time("scheduled_for", *scheduled.ScheduledFor),
	)
	return Outcome{Result: ResultScheduled, Opportunity: scheduled}, nil
}

func check(c Candidate) error {
	if err := validate.Struct(c); err != nil {
		return &InvalidCandidateError{Reason: err.Error()}
	}
	if c.Target.ExternalID == "" {
		return &InvalidCandidateError{Reason: "target.external_id is required"}
	}
	if _, err := domain.ParseActionType(string(c.ActionType)); err != nil {
		return &InvalidCandidateError{Reason: err.Error()}
	}
	return nil
}

// duplicate returns a reason when the candidate was already ingested or an
// identical action on the same target is still outstanding.
func (s *Service) duplicate(ctx context.Context, c Candidate) (string, error) {
	if c.ID != "" {
		_, err := s.store.Get(ctx, c.ID)
		if err == nil {
			return "opportunity " + c.ID + " already exists", nil
		}
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			return "", fmt.Errorf("lookup %s: %w", c.ID, err)
		}
	}
	n, err := s.store.Count(ctx, store.Filter{
		OwnerID:          c.OwnerID,
		Statuses:         []domain.Status{domain.StatusPending, domain.StatusScheduled, domain.StatusInProgress},
		ActionType:       c.ActionType,
		TargetExternalID: c.Target.ExternalID,
	})
	if err != nil {
		return "", fmt.Errorf("count outstanding: %w", err)
	}
	if n > 0 {
		return fmt.Sprintf("%s on %s already outstanding", c.ActionType, c.Target.ExternalID), nil
	}
	return "", nil
}

func (s *Service) build(c Candidate, now time.Time) *domain.Opportunity {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	o := &domain.Opportunity{
		ID:                id,
		OwnerID:           c.OwnerID,
		Target:            c.Target,
		ActionType:        c.ActionType,
		Priority:          domain.PriorityMedium,
		Tags:              c.Tags,
		AnalysisMetadata:  c.AnalysisMetadata,
		Status:            domain.StatusPending,
		ExpiresAt:         c.ExpiresAt,
		DiscoverySource:   c.DiscoverySource,
		DiscoveryMetadata: c.DiscoveryMetadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if o.ExpiresAt == nil && s.defaultExpiry > 0 {
		exp := now.Add(s.defaultExpiry)
		o.ExpiresAt = &exp
	}
	return o
}

func (s *Service) passes(b domain.ScoreBreakdown) bool {
	if s.threshold > 0 {
		return b.Composite >= s.threshold
	}
	return b.ShouldAct
}
