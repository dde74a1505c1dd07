package domain

import "time"

var transitions = map[Status][]Status{
	StatusPending:    {StatusScheduled, StatusInProgress, StatusSkipped, StatusExpired},
	StatusScheduled:  {StatusInProgress, StatusSkipped, StatusExpired},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusSkipped, StatusPending, StatusScheduled},
	StatusFailed:     {StatusScheduled},
}

// CanTransition reports whether from → to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ClaimableStatuses are the states a worker may claim an opportunity from.
var ClaimableStatuses = []Status{StatusPending, StatusScheduled}

// transition validates and applies a status change. Expired opportunities can
// never move into Scheduled, InProgress or Completed.
func (o *Opportunity) transition(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		if o.Status.IsTerminal() {
			return &AlreadyProcessedError{OpportunityID: o.ID, Status: o.Status}
		}
		return &InvalidTransitionError{OpportunityID: o.ID, From: o.Status, To: to}
	}
	switch to {
	case StatusScheduled, StatusInProgress, StatusCompleted:
		if o.IsExpired(now) {
			return &ExpiredOpportunityError{OpportunityID: o.ID, ExpiredAt: *o.ExpiresAt}
		}
	}
	o.Status = to
	o.UpdatedAt = now
	if to != StatusInProgress {
		o.ClaimedBy = ""
		o.ClaimedAt = nil
	}
	return nil
}

// Schedule commits an execution instant. scheduled_for never moves backwards.
func (o *Opportunity) Schedule(at, now time.Time) error {
	if o.ScheduledFor != nil && at.Before(*o.ScheduledFor) {
		at = *o.ScheduledFor
	}
	if err := o.transition(StatusScheduled, now); err != nil {
		return err
	}
	o.ScheduledFor = &at
	return nil
}

// Claim grants workerID the exclusive right to execute the opportunity.
func (o *Opportunity) Claim(workerID string, now time.Time) error {
	if o.Status != StatusPending && o.Status != StatusScheduled {
		if o.Status.IsTerminal() {
			return &AlreadyProcessedError{OpportunityID: o.ID, Status: o.Status}
		}
		return ErrConcurrencyConflict
	}
	if err := o.transition(StatusInProgress, now); err != nil {
		return err
	}
	o.ClaimedBy = workerID
	o.ClaimedAt = &now
	return nil
}

// Release hands a claimed opportunity back to the pool without recording an attempt.
func (o *Opportunity) Release(to Status, now time.Time) error {
	if to != StatusPending && to != StatusScheduled {
		return &InvalidTransitionError{OpportunityID: o.ID, From: o.Status, To: to}
	}
	return o.transition(to, now)
}

// AwaitApproval parks a claimed opportunity in Pending with its generated text.
func (o *Opportunity) AwaitApproval(text string, now time.Time) error {
	if err := o.transition(StatusPending, now); err != nil {
		return err
	}
	o.SuggestedText = text
	o.RequiresApproval = true
	return nil
}

// Complete records a successful attempt.
func (o *Opportunity) Complete(result ExecutionResult, now time.Time) error {
	if err := o.transition(StatusCompleted, now); err != nil {
		return err
	}
	o.recordAttempt(now)
	o.CompletedAt = &now
	o.ExecutionResult = &result
	o.LastError = ""
	o.FailureKind = FailureNone
	o.RequiresApproval = false
	return nil
}

// Fail records a failed attempt. Terminal failures are never retried.
func (o *Opportunity) Fail(cause string, kind FailureKind, now time.Time) error {
	if err := o.transition(StatusFailed, now); err != nil {
		return err
	}
	o.recordAttempt(now)
	o.LastError = cause
	o.FailureKind = kind
	return nil
}

// Retry moves a failed opportunity back into the scheduled pool.
func (o *Opportunity) Retry(at, now time.Time, maxAttempts int) error {
	if o.Status != StatusFailed {
		return &InvalidTransitionError{OpportunityID: o.ID, From: o.Status, To: StatusScheduled}
	}
	if o.IsExpired(now) {
		return &ExpiredOpportunityError{OpportunityID: o.ID, ExpiredAt: *o.ExpiresAt}
	}
	if !o.CanRetry(now, maxAttempts) {
		return &RetryExhaustedError{OpportunityID: o.ID, Attempts: o.AttemptsCount}
	}
	return o.Schedule(at, now)
}

// Skip records a decision not to act, with its human-readable reason.
func (o *Opportunity) Skip(reason string, now time.Time) error {
	if err := o.transition(StatusSkipped, now); err != nil {
		return err
	}
	o.SkipReason = reason
	return nil
}

// SkipSubmitted records an attempt whose action went out but whose completion
// was refused, keeping the receipt on the opportunity.
func (o *Opportunity) SkipSubmitted(reason string, result ExecutionResult, now time.Time) error {
	if err := o.Skip(reason, now); err != nil {
		return err
	}
	o.recordAttempt(now)
	o.ExecutionResult = &result
	return nil
}

// Expire marks an outstanding opportunity as past its deadline.
func (o *Opportunity) Expire(now time.Time) error {
	if !o.IsExpired(now) {
		return &InvalidTransitionError{OpportunityID: o.ID, From: o.Status, To: StatusExpired}
	}
	return o.transition(StatusExpired, now)
}

func (o *Opportunity) recordAttempt(now time.Time) {
	o.AttemptsCount++
	o.AttemptedAt = &now
}
