package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/engageflow/internal/actionapi"
	"github.com/ramiqadoumi/engageflow/internal/analytics"
	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/generator"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/pkg/retry"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
)

// Execute runs one opportunity to an outcome. overrideApproval submits even
// when the owner requires manual approval.
//
// Admission denials, lost claims, a busy owner and submission failures are
// outcomes, not errors. Errors mean nothing was decided: the opportunity was
// missing, not the caller's, already finished, expired, or a dependency failed.
func (e *Engine) Execute(ctx context.Context, id, ownerID string, overrideApproval bool) (Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "execution.execute",
		trace.WithAttributes(attribute.String("opportunity.id", id)))
	defer span.End()
	start := time.Now()

	res, err := e.execute(ctx, id, ownerID, overrideApproval)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute failed")
		return res, err
	}
	span.SetAttributes(
		attribute.String("execution.outcome", string(res.Outcome)),
		attribute.String("opportunity.status", string(res.Status)),
	)
	telemetry.ExecutionsTotal.WithLabelValues(string(res.ActionType), string(res.Outcome)).Inc()
	telemetry.ExecutionDurationSeconds.WithLabelValues(string(res.ActionType)).Observe(time.Since(start).Seconds())
	return res, nil
}

func (e *Engine) execute(ctx context.Context, id, ownerID string, overrideApproval bool) (Result, error) {
	o, err := e.load(ctx, id, ownerID)
	if err != nil {
		return Result{}, err
	}
	log := e.opLogger(o)
	now := e.clock.Now()

	switch {
	case o.Status.IsTerminal():
		return Result{}, &domain.AlreadyProcessedError{OpportunityID: o.ID, Status: o.Status}
	case o.Status == domain.StatusFailed:
		return Result{}, &domain.InvalidTransitionError{OpportunityID: o.ID, From: o.Status, To: domain.StatusInProgress}
	case o.Status == domain.StatusInProgress:
		return resultOf(o, OutcomeConflict, "claimed by "+o.ClaimedBy), nil
	}
	if o.IsExpired(now) {
		e.expire(ctx, o, now, log)
		return Result{}, &domain.ExpiredOpportunityError{OpportunityID: o.ID, ExpiredAt: *o.ExpiresAt}
	}

	owner, err := e.owners.Owner(ctx, o.OwnerID)
	if err != nil {
		return Result{}, fmt.Errorf("load owner for %s: %w", o.ID, err)
	}

	unlock, ok, err := e.locker.TryLock(ctx, o.OwnerID)
	if err != nil {
		return Result{}, fmt.Errorf("lock owner %s: %w", o.OwnerID, err)
	}
	if !ok {
		telemetry.WorkerOwnerBusyTotal.Inc()
		return resultOf(o, OutcomeDeferred, "owner busy"), nil
	}
	defer unlock()

	prev := o.Status
	claimed, err := e.claim(ctx, id, now)
	if err != nil {
		if store.IsConflict(err) {
			log.Debug("claim lost")
			return resultOf(o, OutcomeConflict, "claimed by another worker"), nil
		}
		var expired *domain.ExpiredOpportunityError
		if errors.As(err, &expired) {
			e.expire(ctx, o, now, log)
		}
		return Result{}, err
	}
	return e.run(ctx, claimed, owner, prev, overrideApproval, log)
}

// run executes a claimed opportunity. Every path leaves it out of InProgress.
func (e *Engine) run(ctx context.Context, o *domain.Opportunity, owner *domain.Owner, prev domain.Status, overrideApproval bool, log *slog.Logger) (Result, error) {
	rules := owner.Rules.WithDefaults()

	decision, err := e.admission.Admit(ctx, o, owner)
	if err != nil {
		e.release(ctx, o, prev, log)
		return Result{}, fmt.Errorf("admission for %s: %w", o.ID, err)
	}
	if !decision.Allowed {
		telemetry.AdmissionDenialsTotal.WithLabelValues(string(decision.Check)).Inc()
		return e.skip(ctx, o, decision.Reason, analytics.EventAdmissionDenied, log)
	}

	approach := e.approach(o, owner)
	content, err := e.content(ctx, o, owner, approach)
	if err != nil {
		telemetry.GenerationFailuresTotal.WithLabelValues(string(o.ActionType)).Inc()
		log.Warn("content generation failed", slog.String("error", err.Error()))
		e.release(ctx, o, prev, log)
		return Result{}, &domain.GenerationError{OpportunityID: o.ID, Err: err}
	}

	if rules.RequireManualApproval && !overrideApproval {
		now := e.clock.Now()
		updated, err := e.update(context.WithoutCancel(ctx), o.ID, func(cur *domain.Opportunity) error {
			return cur.AwaitApproval(content.Text, now)
		})
		if err != nil {
			return Result{}, fmt.Errorf("park %s for approval: %w", o.ID, err)
		}
		log.Info("awaiting approval")
		res := resultOf(updated, OutcomePendingApproval, "manual approval required")
		res.Confidence = content.Confidence
		return res, nil
	}

	sctx, cancel := context.WithTimeout(ctx, e.timeouts.Submit)
	receipt, subErr := e.actions.Submit(sctx, actionapi.Submission{
		IdempotencyKey:   o.ID,
		ActionType:       o.ActionType,
		TargetExternalID: o.Target.ExternalID,
		TargetURL:        o.Target.URL,
		Text:             content.Text,
	})
	cancel()

	// The network has acted (or refused); record it even if the caller gave up.
	wctx := context.WithoutCancel(ctx)
	if subErr != nil {
		return e.fail(wctx, o, rules, content.Text, subErr, log)
	}
	return e.complete(wctx, o, owner, content, approach, receipt, log)
}

func (e *Engine) approach(o *domain.Opportunity, owner *domain.Owner) domain.Approach {
	if o.Score != nil && o.Score.Approach != "" {
		return o.Score.Approach
	}
	return e.scorer.Score(o, owner, e.clock.Now()).Approach
}

// content returns the text to submit. Actions without text need none, and
// text already on the opportunity (edited or approved by the owner) is reused.
func (e *Engine) content(ctx context.Context, o *domain.Opportunity, owner *domain.Owner, approach domain.Approach) (generator.Content, error) {
	if !o.ActionType.NeedsText() {
		c := generator.Content{}
		if o.Score != nil {
			c.Confidence = o.Score.Composite
		}
		return c, nil
	}
	if o.SuggestedText != "" {
		return generator.Content{Text: o.SuggestedText, Confidence: 1}, nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, "execution.generate")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Generate)
	defer cancel()

	c, err := e.generator.Generate(ctx, generator.Request{
		TargetContent: o.Target.Text(),
		TargetAuthor:  o.Target.Author,
		ToneProfile:   owner.ToneProfile,
		Approach:      approach,
		ActionType:    o.ActionType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return generator.Content{}, err
	}
	return c, nil
}

func (e *Engine) complete(ctx context.Context, o *domain.Opportunity, owner *domain.Owner, content generator.Content, approach domain.Approach, receipt actionapi.Receipt, log *slog.Logger) (Result, error) {
	now := e.clock.Now()
	result := domain.ExecutionResult{
		ActionID:   receipt.ActionID,
		Confidence: content.Confidence,
		Approach:   approach,
		ExecutedAt: now,
	}
	updated, err := e.update(ctx, o.ID, func(cur *domain.Opportunity) error {
		if cur.SuggestedText == "" {
			cur.SuggestedText = content.Text
		}
		return cur.Complete(result, now)
	})
	if err != nil {
		var dup *domain.DuplicateCompletionError
		if errors.As(err, &dup) {
			return e.skipSubmitted(ctx, o, dup.Error(), result, log)
		}
		log.Error("action submitted but completion not recorded",
			slog.String("action_id", receipt.ActionID),
			slog.String("error", err.Error()),
		)
		return Result{}, fmt.Errorf("record completion of %s: %w", o.ID, err)
	}

	if err := e.counter.Record(ctx, owner.ID, o.Target.Author, now); err != nil {
		log.Warn("activity not recorded", slog.String("error", err.Error()))
	}
	e.analytics.Record(ctx, analytics.Event{
		Type:          analytics.EventExecutionAttempt,
		OpportunityID: o.ID,
		OwnerID:       o.OwnerID,
		ActionType:    o.ActionType,
		Outcome:       string(OutcomeCompleted),
		ActionID:      receipt.ActionID,
		Attempts:      updated.AttemptsCount,
		Confidence:    content.Confidence,
		At:            now,
	})
	log.Info("action completed", slog.String("action_id", receipt.ActionID), slog.Int("attempts", updated.AttemptsCount))
	return resultOf(updated, OutcomeCompleted, ""), nil
}

// fail records the attempt and keeps the submitted text so a retry sends the same words.
func (e *Engine) fail(ctx context.Context, o *domain.Opportunity, rules domain.CommentingRules, text string, subErr error, log *slog.Logger) (Result, error) {
	kind := domain.FailureTerminal
	if domain.IsRetryableSubmission(subErr) {
		kind = domain.FailureRetryable
	}
	now := e.clock.Now()
	updated, err := e.update(ctx, o.ID, func(cur *domain.Opportunity) error {
		if err := cur.Fail(subErr.Error(), kind, now); err != nil {
			return err
		}
		if cur.SuggestedText == "" {
			cur.SuggestedText = text
		}
		if cur.CanRetry(now, rules.MaxAttempts) {
			return cur.Retry(now.Add(retry.Backoff(e.retryBase, cur.AttemptsCount)), now, rules.MaxAttempts)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("record failure of %s: %w", o.ID, err)
	}

	if updated.Status == domain.StatusScheduled {
		telemetry.RetriesScheduledTotal.WithLabelValues(string(o.ActionType)).Inc()
	}
	e.analytics.Record(ctx, analytics.Event{
		Type:          analytics.EventExecutionAttempt,
		OpportunityID: o.ID,
		OwnerID:       o.OwnerID,
		ActionType:    o.ActionType,
		Outcome:       string(OutcomeFailed),
		Reason:        subErr.Error(),
		Attempts:      updated.AttemptsCount,
		At:            now,
	})
	log.Warn("action submission failed",
		slog.String("failure_kind", string(kind)),
		slog.Int("attempts", updated.AttemptsCount),
		slog.String("status", string(updated.Status)),
		slog.String("error", subErr.Error()),
	)
	return resultOf(updated, OutcomeFailed, subErr.Error()), nil
}

func (e *Engine) skip(ctx context.Context, o *domain.Opportunity, reason string, event analytics.EventType, log *slog.Logger) (Result, error) {
	now := e.clock.Now()
	updated, err := e.update(context.WithoutCancel(ctx), o.ID, func(cur *domain.Opportunity) error {
		return cur.Skip(reason, now)
	})
	if err != nil {
		return Result{}, fmt.Errorf("skip %s: %w", o.ID, err)
	}
	e.analytics.Record(ctx, analytics.Event{
		Type:          event,
		OpportunityID: o.ID,
		OwnerID:       o.OwnerID,
		ActionType:    o.ActionType,
		Outcome:       string(OutcomeSkipped),
		Reason:        reason,
		At:            now,
	})
	log.Info("opportunity skipped", slog.String("reason", reason))
	return resultOf(updated, OutcomeSkipped, reason), nil
}

// skipSubmitted closes an opportunity whose action was sent but duplicates a
// completion another worker recorded first.
func (e *Engine) skipSubmitted(ctx context.Context, o *domain.Opportunity, reason string, result domain.ExecutionResult, log *slog.Logger) (Result, error) {
	now := e.clock.Now()
	updated, err := e.update(ctx, o.ID, func(cur *domain.Opportunity) error {
		return cur.SkipSubmitted(reason, result, now)
	})
	if err != nil {
		log.Error("action submitted but outcome not recorded",
			slog.String("action_id", result.ActionID),
			slog.String("error", err.Error()),
		)
		return Result{}, fmt.Errorf("skip %s: %w", o.ID, err)
	}
	e.analytics.Record(ctx, analytics.Event{
		Type:          analytics.EventExecutionAttempt,
		OpportunityID: o.ID,
		OwnerID:       o.OwnerID,
		ActionType:    o.ActionType,
		Outcome:       string(OutcomeSkipped),
		Reason:        reason,
		ActionID:      result.ActionID,
		Attempts:      updated.AttemptsCount,
		Confidence:    result.Confidence,
		At:            now,
	})
	log.Warn("submitted action duplicates a recorded completion",
		slog.String("action_id", result.ActionID),
		slog.String("reason", reason),
	)
	return resultOf(updated, OutcomeSkipped, reason), nil
}

// release hands a claimed opportunity back without recording an attempt.
func (e *Engine) release(ctx context.Context, o *domain.Opportunity, to domain.Status, log *slog.Logger) {
	now := e.clock.Now()
	_, err := e.update(context.WithoutCancel(ctx), o.ID, func(cur *domain.Opportunity) error {
		return cur.Release(to, now)
	})
	if err != nil {
		log.Error("release claim failed", slog.String("error", err.Error()))
	}
}
