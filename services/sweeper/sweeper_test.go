package sweeper_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ramiqadoumi/engageflow/internal/admission"
	"github.com/ramiqadoumi/engageflow/internal/analytics"
	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/execution"
	"github.com/ramiqadoumi/engageflow/internal/owners"
	"github.com/ramiqadoumi/engageflow/internal/scheduling"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/internal/store/storetest"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
	"github.com/ramiqadoumi/engageflow/services/sweeper"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	now           = storetest.Base
	discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// ── mocks ────────────────────────────────────────────────────────────────────

type follower struct{ asked atomic.Int32 }

func (f *follower) IsLeader(context.Context) bool {
	f.asked.Add(1)
	return false
}

type resigningLeader struct{ resigned atomic.Bool }

func (*resigningLeader) IsLeader(context.Context) bool { return true }
func (l *resigningLeader) Resign(context.Context)      { l.resigned.Store(true) }

type recordingSink struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recordingSink) Record(_ context.Context, e analytics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// ── fixture ──────────────────────────────────────────────────────────────────

type fixture struct {
	store *store.Memory
	clock *clock.Manual
	sink  *recordingSink
	sw    *sweeper.Sweeper
}

func newFixture(t *testing.T, leader sweeper.Leader) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), clock: clock.NewManual(now), sink: &recordingSink{}}
	counter := admission.NewMemoryCounter()
	owner := &domain.Owner{ID: "owner-1", Active: true, Timezone: "UTC", Rules: domain.DefaultRules()}
	engine := execution.New(execution.Deps{
		Store:     f.store,
		Owners:    owners.NewStatic(owner),
		Counter:   counter,
		Admission: admission.NewController(f.store, counter, f.clock),
		Scheduler: scheduling.New(counter, f.clock),
	}, execution.WithClock(f.clock), execution.WithLogger(discardLogger))

	f.sw = sweeper.New(f.store, engine, leader,
		sweeper.WithClock(f.clock),
		sweeper.WithLogger(discardLogger),
		sweeper.WithAnalytics(f.sink),
		sweeper.WithClaimTTL(10*time.Minute),
	)
	return f
}

func (f *fixture) seed(t *testing.T, target string, mutate func(*domain.Opportunity)) string {
	t.Helper()
	o := storetest.NewOpportunity("owner-1", target)
	mutate(o)
	require.NoError(t, f.store.Create(context.Background(), o))
	return o.ID
}

func (f *fixture) status(t *testing.T, id string) domain.Status {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func ptr(t time.Time) *time.Time { return &t }

// ── tests ────────────────────────────────────────────────────────────────────

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t, sweeper.Solo{})
	overduePending := f.seed(t, "a", func(o *domain.Opportunity) { o.ExpiresAt = ptr(now.Add(-time.Minute)) })
	overdueScheduled := f.seed(t, "b", func(o *domain.Opportunity) {
		o.Status = domain.StatusScheduled
		o.ScheduledFor = ptr(now.Add(-time.Hour))
		o.ExpiresAt = ptr(now)
	})
	fresh := f.seed(t, "c", func(o *domain.Opportunity) { o.ExpiresAt = ptr(now.Add(time.Hour)) })
	noExpiry := f.seed(t, "d", func(*domain.Opportunity) {})
	completed := f.seed(t, "e", func(o *domain.Opportunity) {
		o.Status = domain.StatusCompleted
		o.CompletedAt = ptr(now.Add(-2 * time.Hour))
		o.ExpiresAt = ptr(now.Add(-time.Hour))
	})

	n, err := f.sw.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, domain.StatusExpired, f.status(t, overduePending))
	assert.Equal(t, domain.StatusExpired, f.status(t, overdueScheduled))
	assert.Equal(t, domain.StatusPending, f.status(t, fresh))
	assert.Equal(t, domain.StatusPending, f.status(t, noExpiry))
	assert.Equal(t, domain.StatusCompleted, f.status(t, completed), "terminal rows are never expired")
	assert.Len(t, f.sink.events, 2)

	n, err = f.sw.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep is a no-op")
}

func TestRequeueFailed(t *testing.T) {
	f := newFixture(t, sweeper.Solo{})
	retryable := f.seed(t, "a", func(o *domain.Opportunity) {
		o.Status = domain.StatusFailed
		o.FailureKind = domain.FailureRetryable
		o.AttemptsCount = 1
	})
	terminal := f.seed(t, "b", func(o *domain.Opportunity) {
		o.Status = domain.StatusFailed
		o.FailureKind = domain.FailureTerminal
		o.AttemptsCount = 1
	})
	exhausted := f.seed(t, "c", func(o *domain.Opportunity) {
		o.Status = domain.StatusFailed
		o.FailureKind = domain.FailureRetryable
		o.AttemptsCount = 3
	})

	n, err := f.sw.RequeueFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.Get(context.Background(), retryable)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, got.Status)
	require.NotNil(t, got.ScheduledFor)
	assert.True(t, got.ScheduledFor.After(now))

	assert.Equal(t, domain.StatusFailed, f.status(t, terminal))
	assert.Equal(t, domain.StatusFailed, f.status(t, exhausted))
}

func TestReapStaleClaims(t *testing.T) {
	f := newFixture(t, sweeper.Solo{})
	stale := f.seed(t, "a", func(o *domain.Opportunity) {
		o.Status = domain.StatusInProgress
		o.ClaimedBy = "worker-dead"
		o.ClaimedAt = ptr(now.Add(-11 * time.Minute))
	})
	live := f.seed(t, "b", func(o *domain.Opportunity) {
		o.Status = domain.StatusInProgress
		o.ClaimedBy = "worker-alive"
		o.ClaimedAt = ptr(now.Add(-time.Minute))
	})

	n, err := f.sw.ReapStaleClaims(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.Get(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.FailureTerminal, got.FailureKind)
	assert.Contains(t, got.LastError, "worker-dead")
	assert.Empty(t, got.ClaimedBy)
	assert.Equal(t, domain.StatusInProgress, f.status(t, live))
}

func TestSweep_FollowerDoesNothing(t *testing.T) {
	leader := &follower{}
	f := newFixture(t, leader)
	id := f.seed(t, "a", func(o *domain.Opportunity) { o.ExpiresAt = ptr(now.Add(-time.Minute)) })

	r := f.sw.Sweep(context.Background())
	assert.Equal(t, sweeper.Report{}, r)
	assert.Equal(t, int32(1), leader.asked.Load())
	assert.Equal(t, domain.StatusPending, f.status(t, id))
}

func TestSweep_RunsAllJobs(t *testing.T) {
	f := newFixture(t, sweeper.Solo{})
	f.seed(t, "a", func(o *domain.Opportunity) { o.ExpiresAt = ptr(now.Add(-time.Minute)) })
	f.seed(t, "b", func(o *domain.Opportunity) {
		o.Status = domain.StatusFailed
		o.FailureKind = domain.FailureRetryable
		o.AttemptsCount = 1
	})
	f.seed(t, "c", func(o *domain.Opportunity) {
		o.Status = domain.StatusInProgress
		o.ClaimedBy = "w"
		o.ClaimedAt = ptr(now.Add(-time.Hour))
	})

	r := f.sw.Sweep(context.Background())
	assert.Equal(t, sweeper.Report{Expired: 1, Requeued: 1, Reaped: 1}, r)
}

func TestRun_SweepsImmediatelyAndResignsOnStop(t *testing.T) {
	leader := &resigningLeader{}
	f := newFixture(t, leader)
	id := f.seed(t, "a", func(o *domain.Opportunity) { o.ExpiresAt = ptr(now.Add(-time.Minute)) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sw.Run(ctx) }()

	require.Eventually(t, func() bool {
		o, err := f.store.Get(context.Background(), id)
		return err == nil && o.Status == domain.StatusExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, leader.resigned.Load())
}

func TestRun_RejectsBadSchedule(t *testing.T) {
	sw := sweeper.New(store.NewMemory(), nil, sweeper.Solo{}, sweeper.WithSchedule("every now and then"))
	err := sw.Run(context.Background())
	assert.ErrorContains(t, err, "parse sweep schedule")
}
