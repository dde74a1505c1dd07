// Package store defines persistence for opportunities and an in-memory backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// Order selects the sort order of Find results.
type Order int

const (
	// OrderCreatedDesc returns newest first.
	OrderCreatedDesc Order = iota
	// OrderDue returns earliest scheduled_for first (NULL first), ties by created_at.
	OrderDue
	// OrderCompletedDesc returns most recently completed first.
	OrderCompletedDesc
)

// Filter narrows Find and Count. Zero-valued fields are ignored.
type Filter struct {
	OwnerID          string
	Statuses         []domain.Status
	ActionType       domain.ActionType
	TargetExternalID string
	TargetAuthor     string
	ExcludeID        string

	// CompletedSince matches completed_at >= t.
	CompletedSince *time.Time
	// DueBy matches scheduled_for IS NULL OR scheduled_for <= t.
	DueBy *time.Time
	// NotExpiredAt matches expires_at IS NULL OR expires_at > t.
	NotExpiredAt *time.Time
	// ExpiredAt matches expires_at <= t.
	ExpiredAt *time.Time
	// ClaimedBefore matches claimed_at < t.
	ClaimedBefore *time.Time

	OrderBy Order
	Limit   int
}

// MutateFunc edits an opportunity inside an atomic update. Returning an error
// aborts the update and nothing is written.
type MutateFunc func(o *domain.Opportunity) error

// Store is the durable home of opportunities.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Opportunity, error)
	Create(ctx context.Context, o *domain.Opportunity) error
	// Update applies fn to the current row under a row lock and persists the result.
	Update(ctx context.Context, id string, fn MutateFunc) (*domain.Opportunity, error)
	// Claim atomically moves a Pending or Scheduled, unexpired opportunity to
	// InProgress. Exactly one concurrent caller succeeds; the others get
	// domain.ErrConcurrencyConflict and nothing is written.
	Claim(ctx context.Context, id, workerID string, now time.Time) (*domain.Opportunity, error)
	Find(ctx context.Context, f Filter) ([]*domain.Opportunity, error)
	Count(ctx context.Context, f Filter) (int, error)
}

// ClaimFailure explains why a claim CAS matched no row, given the row as it is now.
func ClaimFailure(current *domain.Opportunity, now time.Time) error {
	probe := current.Clone()
	err := probe.Claim("", now)
	if err == nil {
		return domain.ErrConcurrencyConflict
	}
	return err
}

// IsConflict reports whether err means another actor got there first.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrConcurrencyConflict)
}

// Matches reports whether o satisfies f.
func Matches(o *domain.Opportunity, f Filter) bool {
	if f.OwnerID != "" && o.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, o.Status) {
		return false
	}
	if f.ActionType != "" && o.ActionType != f.ActionType {
		return false
	}
	if f.TargetExternalID != "" && o.Target.ExternalID != f.TargetExternalID {
		return false
	}
	if f.TargetAuthor != "" && o.Target.Author != f.TargetAuthor {
		return false
	}
	if f.ExcludeID != "" && o.ID == f.ExcludeID {
		return false
	}
	if f.CompletedSince != nil && (o.CompletedAt == nil || o.CompletedAt.Before(*f.CompletedSince)) {
		return false
	}
	if f.DueBy != nil && o.ScheduledFor != nil && o.ScheduledFor.After(*f.DueBy) {
		return false
	}
	if f.NotExpiredAt != nil && o.ExpiresAt != nil && !o.ExpiresAt.After(*f.NotExpiredAt) {
		return false
	}
	if f.ExpiredAt != nil && (o.ExpiresAt == nil || o.ExpiresAt.After(*f.ExpiredAt)) {
		return false
	}
	if f.ClaimedBefore != nil && (o.ClaimedAt == nil || !o.ClaimedAt.Before(*f.ClaimedBefore)) {
		return false
	}
	return true
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// StatusStrings converts statuses for SQL array/IN parameters.
func StatusStrings(list []domain.Status) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}
