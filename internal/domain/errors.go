package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrConcurrencyConflict is returned when another worker already claimed or
// changed the opportunity. Callers treat it as a no-op skip.
var ErrConcurrencyConflict = errors.New("opportunity claimed concurrently")

// NotFoundError is returned when an opportunity or owner does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "opportunity"
	}
	return fmt.Sprintf("%s not found: %s", kind, e.ID)
}

// AccessDeniedError is returned when the caller does not own the opportunity.
type AccessDeniedError struct {
	OpportunityID string
	OwnerID       string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("owner %s may not access opportunity %s", e.OwnerID, e.OpportunityID)
}

// ExpiredOpportunityError is returned when scheduling or executing past expires_at.
type ExpiredOpportunityError struct {
	OpportunityID string
	ExpiredAt     time.Time
}

func (e *ExpiredOpportunityError) Error() string {
	return fmt.Sprintf("opportunity %s expired at %s", e.OpportunityID, e.ExpiredAt.Format(time.RFC3339))
}

// InvalidTransitionError is returned for lifecycle edges that do not exist.
type InvalidTransitionError struct {
	OpportunityID string
	From          Status
	To            Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("opportunity %s: invalid transition %s -> %s", e.OpportunityID, e.From, e.To)
}

// AlreadyProcessedError is returned when an opportunity is already in a terminal state.
type AlreadyProcessedError struct {
	OpportunityID string
	Status        Status
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("opportunity %s already processed with status %s", e.OpportunityID, e.Status)
}

// RetryExhaustedError is returned when a failed opportunity may not be retried.
type RetryExhaustedError struct {
	OpportunityID string
	Attempts      int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("opportunity %s cannot be retried after %d attempts", e.OpportunityID, e.Attempts)
}

// GenerationError wraps a content generator failure.
type GenerationError struct {
	OpportunityID string
	Err           error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate content for opportunity %s: %v", e.OpportunityID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ActionSubmissionError is returned by the action API. Retryable covers
// timeouts, throttling and 5xx; everything else is terminal.
type ActionSubmissionError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ActionSubmissionError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("action submission failed (%s, status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("action submission failed (%s): %v", kind, e.Err)
}

func (e *ActionSubmissionError) Unwrap() error { return e.Err }

// IsRetryableSubmission reports whether err is a retryable submission failure.
// Errors that are not ActionSubmissionError are treated as retryable.
func IsRetryableSubmission(err error) bool {
	var se *ActionSubmissionError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// DuplicateCompletionError is returned by stores when a second opportunity
// would complete the same (owner, target, action) triple.
type DuplicateCompletionError struct {
	OwnerID          string
	TargetExternalID string
	ActionType       ActionType
}

func (e *DuplicateCompletionError) Error() string {
	return fmt.Sprintf("owner %s already completed %s on %s", e.OwnerID, e.ActionType, e.TargetExternalID)
}
