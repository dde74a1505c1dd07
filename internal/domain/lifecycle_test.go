package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newOpp(status domain.Status) *domain.Opportunity {
	return &domain.Opportunity{
		ID:         "opp-1",
		OwnerID:    "owner-1",
		ActionType: domain.ActionComment,
		Status:     status,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusCompleted, domain.StatusSkipped, domain.StatusExpired} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []domain.Status{domain.StatusPending, domain.StatusScheduled, domain.StatusInProgress, domain.StatusFailed} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestCanTransition_Table(t *testing.T) {
	tests := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.StatusPending, domain.StatusScheduled, true},
		{domain.StatusPending, domain.StatusCompleted, false},
		{domain.StatusScheduled, domain.StatusInProgress, true},
		{domain.StatusScheduled, domain.StatusPending, false},
		{domain.StatusInProgress, domain.StatusCompleted, true},
		{domain.StatusInProgress, domain.StatusFailed, true},
		{domain.StatusFailed, domain.StatusScheduled, true},
		{domain.StatusFailed, domain.StatusCompleted, false},
		{domain.StatusCompleted, domain.StatusScheduled, false},
		{domain.StatusSkipped, domain.StatusScheduled, false},
		{domain.StatusExpired, domain.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, domain.CanTransition(tt.from, tt.to))
		})
	}
}

func TestSchedule_NeverMovesBackwards(t *testing.T) {
	o := newOpp(domain.StatusPending)
	later := t0.Add(3 * time.Hour)
	o.ScheduledFor = &later

	require.NoError(t, o.Schedule(t0.Add(time.Hour), t0))
	assert.Equal(t, domain.StatusScheduled, o.Status)
	assert.Equal(t, later, *o.ScheduledFor)
}

func TestSchedule_ExpiredRejected(t *testing.T) {
	o := newOpp(domain.StatusPending)
	exp := t0.Add(-time.Minute)
	o.ExpiresAt = &exp

	err := o.Schedule(t0.Add(time.Hour), t0)
	var expired *domain.ExpiredOpportunityError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, domain.StatusPending, o.Status, "rejected transition must not mutate status")
}

func TestClaim_Conflicts(t *testing.T) {
	o := newOpp(domain.StatusInProgress)
	err := o.Claim("w2", t0)
	assert.True(t, errors.Is(err, domain.ErrConcurrencyConflict))

	done := newOpp(domain.StatusCompleted)
	var processed *domain.AlreadyProcessedError
	assert.ErrorAs(t, done.Claim("w2", t0), &processed)
}

func TestComplete_SetsAuditFields(t *testing.T) {
	o := newOpp(domain.StatusScheduled)
	require.NoError(t, o.Claim("w1", t0))
	assert.Equal(t, "w1", o.ClaimedBy)

	o.LastError = "previous failure"
	now := t0.Add(time.Minute)
	require.NoError(t, o.Complete(domain.ExecutionResult{ActionID: "act-1"}, now))

	assert.Equal(t, domain.StatusCompleted, o.Status)
	assert.Equal(t, 1, o.AttemptsCount)
	require.NotNil(t, o.CompletedAt)
	require.NotNil(t, o.AttemptedAt)
	assert.Equal(t, now, *o.CompletedAt)
	assert.Empty(t, o.LastError)
	assert.Empty(t, o.ClaimedBy, "claim is released on terminal transition")
}

func TestSkipSubmitted_CountsTheAttempt(t *testing.T) {
	o := newOpp(domain.StatusScheduled)
	require.NoError(t, o.Claim("w1", t0))

	now := t0.Add(time.Minute)
	require.NoError(t, o.SkipSubmitted("already completed", domain.ExecutionResult{ActionID: "act-9"}, now))

	assert.Equal(t, domain.StatusSkipped, o.Status)
	assert.Equal(t, "already completed", o.SkipReason)
	assert.Equal(t, 1, o.AttemptsCount)
	require.NotNil(t, o.AttemptedAt)
	assert.Equal(t, now, *o.AttemptedAt)
	require.NotNil(t, o.ExecutionResult)
	assert.Equal(t, "act-9", o.ExecutionResult.ActionID)
	assert.Nil(t, o.CompletedAt)

	var processed *domain.AlreadyProcessedError
	assert.ErrorAs(t, o.SkipSubmitted("again", domain.ExecutionResult{}, now), &processed)
	assert.Equal(t, 1, o.AttemptsCount)
}

func TestFail_ThenRetry(t *testing.T) {
	o := newOpp(domain.StatusScheduled)
	require.NoError(t, o.Claim("w1", t0))
	require.NoError(t, o.Fail("timeout", domain.FailureRetryable, t0))
	assert.Nil(t, o.CompletedAt, "completed_at is only set for Completed")
	assert.True(t, o.CanRetry(t0, 3))

	require.NoError(t, o.Retry(t0.Add(5*time.Minute), t0, 3))
	assert.Equal(t, domain.StatusScheduled, o.Status)
	assert.Equal(t, 1, o.AttemptsCount)
}

func TestRetry_TerminalFailureNeverRetried(t *testing.T) {
	o := newOpp(domain.StatusScheduled)
	require.NoError(t, o.Claim("w1", t0))
	require.NoError(t, o.Fail("403 forbidden", domain.FailureTerminal, t0))

	assert.False(t, o.CanRetry(t0, 3))
	var exhausted *domain.RetryExhaustedError
	assert.ErrorAs(t, o.Retry(t0.Add(time.Minute), t0, 3), &exhausted)
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	o := newOpp(domain.StatusFailed)
	o.AttemptsCount = 3
	o.FailureKind = domain.FailureRetryable
	assert.False(t, o.CanRetry(t0, 3))
}

func TestCompleted_CannotBeReopened(t *testing.T) {
	o := newOpp(domain.StatusCompleted)
	var processed *domain.AlreadyProcessedError
	assert.ErrorAs(t, o.Schedule(t0, t0), &processed)
}

func TestExpire_RequiresDeadline(t *testing.T) {
	o := newOpp(domain.StatusScheduled)
	var invalid *domain.InvalidTransitionError
	assert.ErrorAs(t, o.Expire(t0), &invalid)

	exp := t0
	o.ExpiresAt = &exp
	require.NoError(t, o.Expire(t0))
	assert.Equal(t, domain.StatusExpired, o.Status)
}

func TestAwaitApproval_KeepsText(t *testing.T) {
	o := newOpp(domain.StatusScheduled)
	require.NoError(t, o.Claim("w1", t0))
	require.NoError(t, o.AwaitApproval("Great point!", t0))
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.True(t, o.RequiresApproval)
	assert.Equal(t, "Great point!", o.SuggestedText)
	assert.Zero(t, o.AttemptsCount, "approval gating is not an attempt")
}

func TestClone_IsDeep(t *testing.T) {
	o := newOpp(domain.StatusPending)
	at := t0
	o.ScheduledFor = &at
	o.Tags = []string{"a"}

	c := o.Clone()
	c.Tags[0] = "b"
	*c.ScheduledFor = t0.Add(time.Hour)

	assert.Equal(t, "a", o.Tags[0])
	assert.Equal(t, t0, *o.ScheduledFor)
}

func TestTargetAge_FallsBackToCreatedAt(t *testing.T) {
	o := newOpp(domain.StatusPending)
	assert.Equal(t, 2*time.Hour, o.TargetAge(t0.Add(2*time.Hour)))

	pub := t0.Add(-time.Hour)
	o.Target.PublishedAt = &pub
	assert.Equal(t, 3*time.Hour, o.TargetAge(t0.Add(2*time.Hour)))
}

func TestActionType_NeedsText(t *testing.T) {
	assert.True(t, domain.ActionComment.NeedsText())
	assert.True(t, domain.ActionMessage.NeedsText())
	assert.False(t, domain.ActionLike.NeedsText())
	assert.False(t, domain.ActionFollow.NeedsText())

	_, err := domain.ParseActionType("poke")
	assert.Error(t, err)
}
