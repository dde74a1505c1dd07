// Package sweeper runs the periodic maintenance jobs: expiring overdue
// opportunities, requeueing retryable failures and reaping stale claims.
// Only the elected leader sweeps.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ramiqadoumi/engageflow/internal/analytics"
	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
)

const (
	jobExpire  = "expire"
	jobRequeue = "requeue"
	jobReap    = "reap"
)

// Leader reports whether this instance may sweep. *redis.LeaderElector satisfies it.
type Leader interface {
	IsLeader(ctx context.Context) bool
}

// Resigner is implemented by leaders that can hand over early on shutdown.
type Resigner interface {
	Resign(ctx context.Context)
}

// Solo is the Leader for single-instance deployments.
type Solo struct{}

func (Solo) IsLeader(context.Context) bool { return true }

// Retrier moves a Failed opportunity back to Scheduled. *execution.Engine satisfies it.
type Retrier interface {
	Retry(ctx context.Context, id, ownerID string) (*domain.Opportunity, error)
}

// Report counts what one sweep changed.
type Report struct {
	Expired  int
	Requeued int
	Reaped   int
}

// Sweeper owns the maintenance schedule.
type Sweeper struct {
	store     store.Store
	retrier   Retrier
	leader    Leader
	analytics analytics.Sink
	clock     clock.Clock
	schedule  string
	claimTTL  time.Duration
	batchSize int
	logger    *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithAnalytics(a analytics.Sink) Option { return func(s *Sweeper) { s.analytics = a } }
func WithClock(c clock.Clock) Option        { return func(s *Sweeper) { s.clock = c } }
func WithLogger(l *slog.Logger) Option      { return func(s *Sweeper) { s.logger = l } }
func WithBatchSize(n int) Option            { return func(s *Sweeper) { s.batchSize = n } }

// WithSchedule sets the cron spec (standard five fields or @every).
func WithSchedule(spec string) Option { return func(s *Sweeper) { s.schedule = spec } }

// WithClaimTTL sets how long a claim may stay InProgress before it is reaped.
func WithClaimTTL(d time.Duration) Option { return func(s *Sweeper) { s.claimTTL = d } }

// New builds a Sweeper.
func New(st store.Store, retrier Retrier, leader Leader, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     st,
		retrier:   retrier,
		leader:    leader,
		analytics: analytics.Nop{},
		clock:     clock.Real(),
		schedule:  "@every 1m",
		claimTTL:  10 * time.Minute,
		batchSize: 200,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately, then on schedule until ctx is cancelled. A
// sweep in progress finishes before Run returns.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.schedule, err)
	}

	s.Sweep(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	if r, ok := s.leader.(Resigner); ok {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		r.Resign(rctx)
		cancel()
	}
	return nil
}

// Sweep runs every job once if this instance leads.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	var r Report
	if ctx.Err() != nil || !s.leader.IsLeader(ctx) {
		return r
	}
	var err error
	if r.Expired, err = s.ExpireOverdue(ctx); err != nil {
		s.logger.Error("expire sweep failed", slog.String("error", err.Error()))
	}
	if r.Requeued, err = s.RequeueFailed(ctx); err != nil {
		s.logger.Error("requeue sweep failed", slog.String("error", err.Error()))
	}
	if r.Reaped, err = s.ReapStaleClaims(ctx); err != nil {
		s.logger.Error("reap sweep failed", slog.String("error", err.Error()))
	}
	if r != (Report{}) {
		s.logger.Info("sweep finished",
			slog.Int("expired", r.Expired),
			slog.Int("requeued", r.Requeued),
			slog.Int("reaped", r.Reaped),
		)
	}
	return r
}

// ExpireOverdue moves Pending and Scheduled opportunities past expires_at to
// Expired. Rows another actor moved first are left alone.
func (s *Sweeper) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	list, err := s.store.Find(ctx, store.Filter{
		Statuses:  []domain.Status{domain.StatusPending, domain.StatusScheduled},
		ExpiredAt: &now,
		Limit:     s.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("find overdue: %w", err)
	}
	n := 0
	for _, o := range list {
		if _, err := s.store.Update(ctx, o.ID, func(cur *domain.Opportunity) error {
			return cur.Expire(now)
		}); err != nil {
			if !moved(err) {
				s.logger.Warn("expire failed", slog.String("opportunity_id", o.ID), slog.String("error", err.Error()))
			}
			continue
		}
		n++
		s.analytics.Record(ctx, analytics.Event{
			Type: analytics.EventExpired, OpportunityID: o.ID, OwnerID: o.OwnerID, ActionType: o.ActionType, At: now,
		})
	}
	telemetry.SweepTransitionsTotal.WithLabelValues(jobExpire).Add(float64(n))
	return n, nil
}

// RequeueFailed reschedules Failed opportunities whose last failure was
// retryable and which still have attempts left.
func (s *Sweeper) RequeueFailed(ctx context.Context) (int, error) {
	now := s.clock.Now()
	list, err := s.store.Find(ctx, store.Filter{
		Statuses:     []domain.Status{domain.StatusFailed},
		NotExpiredAt: &now,
		Limit:        s.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("find failed: %w", err)
	}
	n := 0
	for _, o := range list {
		if o.FailureKind != domain.FailureRetryable {
			continue
		}
		if _, err := s.retrier.Retry(ctx, o.ID, ""); err != nil {
			var exhausted *domain.RetryExhaustedError
			if !errors.As(err, &exhausted) && !moved(err) {
				s.logger.Warn("requeue failed", slog.String("opportunity_id", o.ID), slog.String("error", err.Error()))
			}
			continue
		}
		n++
	}
	telemetry.SweepTransitionsTotal.WithLabelValues(jobRequeue).Add(float64(n))
	return n, nil
}

// ReapStaleClaims fails InProgress opportunities claimed longer than the claim
// TTL ago. The worker holding them is presumed dead; whether the action went
// out is unknown, so the failure is terminal.
func (s *Sweeper) ReapStaleClaims(ctx context.Context) (int, error) {
	now := s.clock.Now()
	cutoff := now.Add(-s.claimTTL)
	list, err := s.store.Find(ctx, store.Filter{
		Statuses:      []domain.Status{domain.StatusInProgress},
		ClaimedBefore: &cutoff,
		Limit:         s.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("find stale claims: %w", err)
	}
	n := 0
	for _, o := range list {
		_, err := s.store.Update(ctx, o.ID, func(cur *domain.Opportunity) error {
			if cur.Status != domain.StatusInProgress || cur.ClaimedAt == nil || !cur.ClaimedAt.Before(cutoff) {
				return domain.ErrConcurrencyConflict
			}
			cause := fmt.Sprintf("claim by %s abandoned after %s", cur.ClaimedBy, s.claimTTL)
			return cur.Fail(cause, domain.FailureTerminal, now)
		})
		if err != nil {
			if !moved(err) {
				s.logger.Warn("reap failed", slog.String("opportunity_id", o.ID), slog.String("error", err.Error()))
			}
			continue
		}
		s.logger.Warn("stale claim reaped",
			slog.String("opportunity_id", o.ID),
			slog.String("claimed_by", o.ClaimedBy),
		)
		n++
	}
	telemetry.SweepTransitionsTotal.WithLabelValues(jobReap).Add(float64(n))
	return n, nil
}

// moved reports whether err means the row changed under us.
func moved(err error) bool {
	var (
		done *domain.AlreadyProcessedError
		inv  *domain.InvalidTransitionError
	)
	return store.IsConflict(err) || errors.As(err, &done) || errors.As(err, &inv)
}
