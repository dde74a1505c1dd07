// Package storetest holds the behavioural suite every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/store"
)

// Base is the reference instant used by the suite.
var Base = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// NewOpportunity returns a Pending comment opportunity for owner.
func NewOpportunity(owner, target string) *domain.Opportunity {
	return &domain.Opportunity{
		ID:      uuid.NewString(),
		OwnerID: owner,
		Target: domain.Target{
			Type:       "post",
			URL:        "https://social.example/posts/" + target,
			ExternalID: target,
			Author:     "Jane Doe",
			Content:    "What did you learn shipping Go services this year?",
		},
		ActionType: domain.ActionComment,
		Priority:   domain.PriorityMedium,
		Status:     domain.StatusPending,
		CreatedAt:  Base,
		UpdatedAt:  Base,
	}
}

// Run executes the suite against stores produced by newStore. Each subtest
// gets a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("CreateGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := NewOpportunity("owner-a", "t1")
		o.Tags = []string{"go", "backend"}
		o.ApplyScore(domain.ScoreBreakdown{Relevance: 0.8, EngagementPotential: 0.6, Composite: 0.7, Priority: domain.PriorityMedium})
		require.NoError(t, s.Create(ctx, o))

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.OwnerID, got.OwnerID)
		assert.Equal(t, o.Target.ExternalID, got.Target.ExternalID)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, []string{"go", "backend"}, got.Tags)
		require.NotNil(t, got.Score)
		assert.InDelta(t, 0.7, got.Score.Composite, 1e-9)
		assert.Equal(t, 80, got.RelevanceScore)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), uuid.NewString())
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
	})

	t.Run("UpdateAppliesMutation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := NewOpportunity("owner-a", "t2")
		require.NoError(t, s.Create(ctx, o))

		at := Base.Add(time.Hour)
		updated, err := s.Update(ctx, o.ID, func(op *domain.Opportunity) error {
			return op.Schedule(at, Base)
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusScheduled, updated.Status)

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ScheduledFor)
		assert.True(t, at.Equal(*got.ScheduledFor))
	})

	t.Run("UpdateAbortWritesNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := NewOpportunity("owner-a", "t3")
		require.NoError(t, s.Create(ctx, o))

		sentinel := errors.New("abort")
		_, err := s.Update(ctx, o.ID, func(op *domain.Opportunity) error {
			op.Reasoning = "should not persist"
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Reasoning)
	})

	t.Run("ClaimExactlyOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := NewOpportunity("owner-a", "t4")
		require.NoError(t, s.Create(ctx, o))

		const workers = 8
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Claim(ctx, o.ID, fmt.Sprintf("w-%d", i), Base)
				switch {
				case err == nil:
					wins.Add(1)
				case store.IsConflict(err):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected claim error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(workers-1), conflicts.Load())

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInProgress, got.Status)
		assert.NotEmpty(t, got.ClaimedBy)
	})

	t.Run("ClaimExpired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := NewOpportunity("owner-a", "t5")
		exp := Base.Add(-time.Minute)
		o.ExpiresAt = &exp
		require.NoError(t, s.Create(ctx, o))

		_, err := s.Claim(ctx, o.ID, "w", Base)
		var expired *domain.ExpiredOpportunityError
		require.ErrorAs(t, err, &expired)

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
	})

	t.Run("ClaimTerminal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := NewOpportunity("owner-a", "t6")
		o.Status = domain.StatusSkipped
		require.NoError(t, s.Create(ctx, o))

		_, err := s.Claim(ctx, o.ID, "w", Base)
		var processed *domain.AlreadyProcessedError
		require.ErrorAs(t, err, &processed)
	})

	t.Run("DueOrdering", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := Base.Add(2 * time.Hour)

		mk := func(target string, sched *time.Time, created time.Time, status domain.Status) *domain.Opportunity {
			o := NewOpportunity("owner-b", target)
			o.Status = status
			o.ScheduledFor = sched
			o.CreatedAt = created
			o.UpdatedAt = created
			require.NoError(t, s.Create(ctx, o))
			return o
		}
		early := Base.Add(-time.Hour)
		late := Base.Add(time.Hour)
		future := now.Add(time.Hour)

		b := mk("late", &late, Base, domain.StatusScheduled)
		a := mk("early", &early, Base, domain.StatusScheduled)
		c := mk("null-2", nil, Base.Add(time.Minute), domain.StatusScheduled)
		d := mk("null-1", nil, Base, domain.StatusScheduled)
		mk("future", &future, Base, domain.StatusScheduled)
		mk("pending", nil, Base, domain.StatusPending)
		expired := mk("expired", &early, Base, domain.StatusScheduled)
		_, err := s.Update(ctx, expired.ID, func(o *domain.Opportunity) error {
			e := Base
			o.ExpiresAt = &e
			return nil
		})
		require.NoError(t, err)

		due, err := s.Find(ctx, store.Filter{
			Statuses:     []domain.Status{domain.StatusScheduled},
			DueBy:        &now,
			NotExpiredAt: &now,
			OrderBy:      store.OrderDue,
		})
		require.NoError(t, err)
		ids := make([]string, len(due))
		for i, o := range due {
			ids[i] = o.ID
		}
		assert.Equal(t, []string{d.ID, c.ID, a.ID, b.ID}, ids)
	})

	t.Run("CountCompletedSince", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			o := NewOpportunity("owner-c", fmt.Sprintf("c%d", i))
			o.Status = domain.StatusCompleted
			at := Base.Add(time.Duration(i) * time.Hour)
			o.CompletedAt = &at
			require.NoError(t, s.Create(ctx, o))
		}
		since := Base.Add(time.Hour)
		n, err := s.Count(ctx, store.Filter{
			OwnerID:        "owner-c",
			Statuses:       []domain.Status{domain.StatusCompleted},
			CompletedSince: &since,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.Count(ctx, store.Filter{OwnerID: "nobody"})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("UniqueCompletion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := NewOpportunity("owner-d", "dup")
		first.Status = domain.StatusCompleted
		done := Base
		first.CompletedAt = &done
		require.NoError(t, s.Create(ctx, first))

		second := NewOpportunity("owner-d", "dup")
		second.Status = domain.StatusScheduled
		require.NoError(t, s.Create(ctx, second))
		_, err := s.Claim(ctx, second.ID, "w", Base)
		require.NoError(t, err)

		_, err = s.Update(ctx, second.ID, func(o *domain.Opportunity) error {
			return o.Complete(domain.ExecutionResult{ActionID: "a2"}, Base)
		})
		var dup *domain.DuplicateCompletionError
		require.ErrorAs(t, err, &dup)

		got, err := s.Get(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInProgress, got.Status)
	})

	t.Run("FindByAuthorAndLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			o := NewOpportunity("owner-e", fmt.Sprintf("e%d", i))
			o.CreatedAt = Base.Add(time.Duration(i) * time.Minute)
			if i%2 == 0 {
				o.Target.Author = "Sam Lee"
			}
			require.NoError(t, s.Create(ctx, o))
		}
		got, err := s.Find(ctx, store.Filter{OwnerID: "owner-e", TargetAuthor: "Sam Lee", Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e2", got[0].Target.ExternalID, "newest first by default")
	})
}
