package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ramiqadoumi/engageflow/internal/analytics"
	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/generator"
	"github.com/ramiqadoumi/engageflow/pkg/retry"
)

// Schedule commits the optimal execution slot for a Pending opportunity. When
// no slot exists before expires_at the opportunity is Skipped instead. A Failed
// opportunity is routed through Retry.
func (e *Engine) Schedule(ctx context.Context, id, ownerID string) (*domain.Opportunity, error) {
	o, err := e.load(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if o.Status == domain.StatusFailed {
		return e.Retry(ctx, id, ownerID)
	}
	log := e.opLogger(o)
	now := e.clock.Now()
	if o.IsExpired(now) {
		e.expire(ctx, o, now, log)
		return nil, &domain.ExpiredOpportunityError{OpportunityID: o.ID, ExpiredAt: *o.ExpiresAt}
	}

	owner, err := e.owners.Owner(ctx, o.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load owner for %s: %w", o.ID, err)
	}
	at, err := e.scheduler.OptimalTime(ctx, o, owner)
	if err != nil {
		return nil, fmt.Errorf("compute slot for %s: %w", o.ID, err)
	}

	if o.ExpiresAt != nil && !at.Before(*o.ExpiresAt) {
		reason := fmt.Sprintf("no execution slot before expiry (earliest %s, expires %s)",
			at.Format("2006-01-02T15:04Z07:00"), o.ExpiresAt.UTC().Format("2006-01-02T15:04Z07:00"))
		skipped, err := e.update(ctx, id, func(cur *domain.Opportunity) error {
			return cur.Skip(reason, now)
		})
		if err != nil {
			return nil, err
		}
		log.Info("opportunity skipped", slog.String("reason", reason))
		return skipped, nil
	}

	updated, err := e.update(ctx, id, func(cur *domain.Opportunity) error {
		return cur.Schedule(at, now)
	})
	if err != nil {
		return nil, err
	}
	e.analytics.Record(ctx, analytics.Event{
		Type: analytics.EventScheduled, OpportunityID: id, OwnerID: o.OwnerID, ActionType: o.ActionType, At: now,
	})
	log.Info("opportunity scheduled", slog.Time("scheduled_for", *updated.ScheduledFor))
	return updated, nil
}

// Retry moves a Failed opportunity back to Scheduled after the backoff for
// its attempt count. Terminal failures, exhausted attempts and expired
// opportunities are refused.
func (e *Engine) Retry(ctx context.Context, id, ownerID string) (*domain.Opportunity, error) {
	o, err := e.load(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	owner, err := e.owners.Owner(ctx, o.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load owner for %s: %w", o.ID, err)
	}
	maxAttempts := owner.Rules.WithDefaults().MaxAttempts
	now := e.clock.Now()

	updated, err := e.update(ctx, id, func(cur *domain.Opportunity) error {
		return cur.Retry(now.Add(retry.Backoff(e.retryBase, cur.AttemptsCount)), now, maxAttempts)
	})
	if err != nil {
		return nil, err
	}
	e.opLogger(updated).Info("retry scheduled", slog.Time("scheduled_for", *updated.ScheduledFor))
	return updated, nil
}

// Approve stores the owner's final text, if given, and executes with the
// approval gate overridden.
func (e *Engine) Approve(ctx context.Context, id, ownerID, text string) (Result, error) {
	o, err := e.load(ctx, id, ownerID)
	if err != nil {
		return Result{}, err
	}
	if o.Status != domain.StatusPending || !o.RequiresApproval {
		return Result{}, &domain.InvalidTransitionError{OpportunityID: id, From: o.Status, To: domain.StatusInProgress}
	}
	if text != "" {
		clean := generator.Clean(text, o.ActionType.MaxTextLength())
		now := e.clock.Now()
		if _, err := e.update(ctx, id, func(cur *domain.Opportunity) error {
			if cur.Status != domain.StatusPending {
				return &domain.InvalidTransitionError{OpportunityID: id, From: cur.Status, To: domain.StatusInProgress}
			}
			cur.SuggestedText = clean
			cur.UpdatedAt = now
			return nil
		}); err != nil {
			return Result{}, err
		}
	}
	return e.Execute(ctx, id, ownerID, true)
}

// Cancel skips an outstanding opportunity on the owner's request.
func (e *Engine) Cancel(ctx context.Context, id, ownerID, reason string) (*domain.Opportunity, error) {
	if _, err := e.load(ctx, id, ownerID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by owner"
	}
	now := e.clock.Now()
	return e.update(ctx, id, func(cur *domain.Opportunity) error {
		if cur.Status == domain.StatusInProgress {
			return domain.ErrConcurrencyConflict
		}
		return cur.Skip(reason, now)
	})
}

// RecordFeedback stores the owner's verdict on an opportunity.
func (e *Engine) RecordFeedback(ctx context.Context, id, ownerID string, fb domain.Feedback) (*domain.Opportunity, error) {
	if _, err := domain.ParseFeedback(string(fb)); err != nil {
		return nil, err
	}
	if _, err := e.load(ctx, id, ownerID); err != nil {
		return nil, err
	}
	now := e.clock.Now()
	updated, err := e.update(ctx, id, func(cur *domain.Opportunity) error {
		cur.UserFeedback = &fb
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.analytics.Record(ctx, analytics.Event{
		Type: analytics.EventFeedback, OpportunityID: id, OwnerID: updated.OwnerID, ActionType: updated.ActionType, Feedback: fb, At: now,
	})
	return updated, nil
}
