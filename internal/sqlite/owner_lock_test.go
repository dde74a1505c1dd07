package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/engageflow/internal/actionapi"
	"github.com/ramiqadoumi/engageflow/internal/admission"
	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/execution"
	"github.com/ramiqadoumi/engageflow/internal/generator"
	"github.com/ramiqadoumi/engageflow/internal/owners"
	"github.com/ramiqadoumi/engageflow/internal/scheduling"
	"github.com/ramiqadoumi/engageflow/internal/sqlite"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/internal/store/storetest"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
)

// openShared opens n handles on one database file, as separate processes would.
func openShared(t *testing.T, n int) []*sqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engageflow.db")
	out := make([]*sqlite.Store, n)
	for i := range out {
		s, err := sqlite.Open(context.Background(), path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		out[i] = s
	}
	return out
}

func TestOwnerLock_ExclusiveAcrossHandles(t *testing.T) {
	ctx := context.Background()
	dbs := openShared(t, 2)
	a, b := dbs[0].OwnerLock(time.Minute), dbs[1].OwnerLock(time.Minute)

	unlock, ok, err := a.TryLock(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := b.TryLock(ctx, "owner-2")
	require.NoError(t, err)
	assert.True(t, ok)
	other()

	unlock()
	again, ok, err := b.TryLock(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestOwnerLock_ExpiredLeaseIsTaken(t *testing.T) {
	ctx := context.Background()
	dbs := openShared(t, 2)

	_, ok, err := dbs[0].OwnerLock(20*time.Millisecond).TryLock(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	unlock, ok, err := dbs[1].OwnerLock(time.Minute).TryLock(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, ok, "a crashed holder's lease lapses")
	unlock()
}

// ── two processes, one owner ─────────────────────────────────────────────────

type slowSubmitter struct{ delay time.Duration }

func (s slowSubmitter) Submit(ctx context.Context, sub actionapi.Submission) (actionapi.Receipt, error) {
	time.Sleep(s.delay)
	return actionapi.DryRun{}.Submit(ctx, sub)
}

func TestOwnerLock_EnginesInSeparateProcessesRespectDailyCap(t *testing.T) {
	ctx := context.Background()
	dbs := openShared(t, 2)
	clk := clock.NewManual(storetest.Base)

	rules := domain.DefaultRules()
	rules.MaxPerDay = 1
	owner := &domain.Owner{ID: "owner-1", Active: true, Timezone: "UTC", Rules: rules}
	dir := owners.NewStatic(owner)

	engines := make([]*execution.Engine, len(dbs))
	for i, s := range dbs {
		counter := admission.StoreCounter{Store: s}
		engines[i] = execution.New(execution.Deps{
			Store:     s,
			Owners:    dir,
			Counter:   counter,
			Admission: admission.NewController(s, counter, clk),
			Scheduler: scheduling.New(counter, clk),
			Generator: generator.Template{},
			Actions:   slowSubmitter{delay: 50 * time.Millisecond},
		},
			execution.WithLocker(s.OwnerLock(time.Minute)),
			execution.WithClock(clk),
			execution.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
	}

	ids := make([]string, len(engines))
	for i, target := range []string{"post-a", "post-b"} {
		o := storetest.NewOpportunity(owner.ID, target)
		published := storetest.Base.Add(-time.Hour)
		o.Target.PublishedAt = &published
		o.Target.Author = "Author " + target
		due := storetest.Base.Add(-time.Minute)
		o.Status = domain.StatusScheduled
		o.ScheduledFor = &due
		require.NoError(t, dbs[0].Create(ctx, o))
		ids[i] = o.ID
	}

	var wg sync.WaitGroup
	results := make([]execution.Result, len(engines))
	for i, e := range engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Execute(ctx, ids[i], owner.ID, false)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	n, err := dbs[0].Count(ctx, store.Filter{OwnerID: owner.ID, Statuses: []domain.Status{domain.StatusCompleted}})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "outcomes: %s, %s", results[0].Outcome, results[1].Outcome)
}
