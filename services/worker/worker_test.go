package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ramiqadoumi/engageflow/internal/actionapi"
	"github.com/ramiqadoumi/engageflow/internal/admission"
	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/execution"
	"github.com/ramiqadoumi/engageflow/internal/generator"
	"github.com/ramiqadoumi/engageflow/internal/owners"
	"github.com/ramiqadoumi/engageflow/internal/scheduling"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/internal/store/storetest"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeExecutor struct {
	mu      sync.Mutex
	ids     []string
	err     error
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (e *fakeExecutor) Execute(ctx context.Context, id, _ string, _ bool) (execution.Result, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		seen := e.maxSeen.Load()
		if n <= seen || e.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
		}
	}
	e.mu.Lock()
	e.ids = append(e.ids, id)
	e.mu.Unlock()
	if e.err != nil {
		return execution.Result{}, e.err
	}
	return execution.Result{OpportunityID: id, Outcome: execution.OutcomeCompleted, Status: domain.StatusCompleted}, nil
}

func (e *fakeExecutor) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

type failingFinder struct{}

func (failingFinder) Find(context.Context, store.Filter) ([]*domain.Opportunity, error) {
	return nil, errors.New("database unavailable")
}

// ── helpers ──────────────────────────────────────────────────────────────────

var now = storetest.Base

func seedDue(t *testing.T, s store.Store, n int, due time.Time) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		o := storetest.NewOpportunity("owner-1", "post-"+string(rune('a'+i)))
		o.Status = domain.StatusScheduled
		at := due.Add(time.Duration(i) * time.Second)
		o.ScheduledFor = &at
		require.NoError(t, s.Create(context.Background(), o))
		ids = append(ids, o.ID)
	}
	return ids
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestPollOnce_ExecutesOnlyDue(t *testing.T) {
	s := store.NewMemory()
	due := seedDue(t, s, 3, now.Add(-time.Hour))
	later := storetest.NewOpportunity("owner-1", "later")
	later.Status = domain.StatusScheduled
	future := now.Add(time.Hour)
	later.ScheduledFor = &future
	require.NoError(t, s.Create(context.Background(), later))
	pending := storetest.NewOpportunity("owner-1", "unscheduled")
	require.NoError(t, s.Create(context.Background(), pending))

	exec := &fakeExecutor{}
	w := NewWorker(s, exec, WithClock(clock.NewManual(now)), WithLogger(discardLogger))

	n, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, due, exec.executed())
}

func TestPollOnce_SkipsExpired(t *testing.T) {
	s := store.NewMemory()
	o := storetest.NewOpportunity("owner-1", "stale")
	o.Status = domain.StatusScheduled
	at := now.Add(-time.Hour)
	exp := now.Add(-time.Minute)
	o.ScheduledFor, o.ExpiresAt = &at, &exp
	require.NoError(t, s.Create(context.Background(), o))

	exec := &fakeExecutor{}
	w := NewWorker(s, exec, WithClock(clock.NewManual(now)), WithLogger(discardLogger))

	n, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, exec.executed())
}

func TestPollOnce_RespectsBatchAndConcurrency(t *testing.T) {
	s := store.NewMemory()
	seedDue(t, s, 10, now.Add(-time.Hour))

	exec := &fakeExecutor{delay: 10 * time.Millisecond}
	w := NewWorker(s, exec,
		WithClock(clock.NewManual(now)),
		WithLogger(discardLogger),
		WithBatchSize(6),
		WithConcurrency(2),
	)

	n, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Len(t, exec.executed(), 6)
	assert.LessOrEqual(t, exec.maxSeen.Load(), int32(2))
}

func TestPollOnce_ExecutionErrorsDoNotStopTheBatch(t *testing.T) {
	s := store.NewMemory()
	seedDue(t, s, 3, now.Add(-time.Hour))

	exec := &fakeExecutor{err: errors.New("generator down")}
	w := NewWorker(s, exec, WithClock(clock.NewManual(now)), WithLogger(discardLogger))

	n, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, exec.executed(), 3)
}

func TestPollOnce_FinderError(t *testing.T) {
	w := NewWorker(failingFinder{}, &fakeExecutor{}, WithLogger(discardLogger))
	_, err := w.PollOnce(context.Background())
	assert.ErrorContains(t, err, "database unavailable")
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := store.NewMemory()
	seedDue(t, s, 2, now.Add(-time.Hour))
	exec := &fakeExecutor{}
	w := NewWorker(s, exec,
		WithClock(clock.NewManual(now)),
		WithLogger(discardLogger),
		WithPollInterval(5*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(exec.executed()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ── end to end with the real engine ──────────────────────────────────────────

type acceptAll struct{ n atomic.Int32 }

func (a *acceptAll) Submit(context.Context, actionapi.Submission) (actionapi.Receipt, error) {
	a.n.Add(1)
	return actionapi.Receipt{ActionID: "act"}, nil
}

func TestWorker_DueOpportunityIsCompletedAndLeavesThePoll(t *testing.T) {
	s := store.NewMemory()
	clk := clock.NewManual(now)
	counter := admission.NewMemoryCounter()
	owner := &domain.Owner{ID: "owner-1", Active: true, Timezone: "UTC", Rules: domain.DefaultRules()}
	actions := &acceptAll{}
	engine := execution.New(execution.Deps{
		Store:     s,
		Owners:    owners.NewStatic(owner),
		Counter:   counter,
		Admission: admission.NewController(s, counter, clk),
		Scheduler: scheduling.New(counter, clk),
		Generator: generator.Template{},
		Actions:   actions,
	}, execution.WithClock(clk), execution.WithLogger(discardLogger))

	o := storetest.NewOpportunity("owner-1", "post-1")
	o.Status = domain.StatusScheduled
	due := now.Add(-time.Hour)
	published := now.Add(-90 * time.Minute)
	o.ScheduledFor, o.Target.PublishedAt = &due, &published
	require.NoError(t, s.Create(context.Background(), o))

	w := NewWorker(s, engine, WithClock(clk), WithLogger(discardLogger))
	n, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.SuggestedText)
	assert.Equal(t, int32(1), actions.n.Load())

	n, err = w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "completed opportunities are no longer due")
}
