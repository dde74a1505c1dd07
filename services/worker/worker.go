// Package worker polls for due opportunities and executes them on a bounded pool.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/execution"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
)

// Finder is the slice of store.Store the poll loop reads.
type Finder interface {
	Find(ctx context.Context, f store.Filter) ([]*domain.Opportunity, error)
}

// Executor runs one opportunity. *execution.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, id, ownerID string, overrideApproval bool) (execution.Result, error)
}

// Worker drains due Scheduled opportunities.
type Worker struct {
	finder      Finder
	exec        Executor
	clock       clock.Clock
	concurrency int
	batchSize   int
	interval    time.Duration
	timeout     time.Duration
	logger      *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

func WithConcurrency(n int) Option          { return func(w *Worker) { w.concurrency = n } }
func WithBatchSize(n int) Option            { return func(w *Worker) { w.batchSize = n } }
func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.interval = d } }
func WithLogger(l *slog.Logger) Option      { return func(w *Worker) { w.logger = l } }
func WithClock(c clock.Clock) Option        { return func(w *Worker) { w.clock = c } }

// WithTimeout bounds a single Execute call.
func WithTimeout(d time.Duration) Option { return func(w *Worker) { w.timeout = d } }

// NewWorker constructs a Worker with the given dependencies and options.
func NewWorker(finder Finder, exec Executor, opts ...Option) *Worker {
	w := &Worker{
		finder:      finder,
		exec:        exec,
		clock:       clock.Real(),
		concurrency: 4,
		batchSize:   20,
		interval:    5 * time.Second,
		timeout:     2 * time.Minute,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.concurrency < 1 {
		w.concurrency = 1
	}
	return w
}

// Run polls until ctx is cancelled. In-flight executions finish before Run
// returns.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.PollOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// Wait blocks until all in-flight executions finish.
func (w *Worker) Wait() { w.wg.Wait() }

// PollOnce executes one batch of due opportunities and returns how many it
// picked up. It returns once the whole batch is done.
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	now := w.clock.Now()
	due, err := w.finder.Find(ctx, store.Filter{
		Statuses:     []domain.Status{domain.StatusScheduled},
		DueBy:        &now,
		NotExpiredAt: &now,
		OrderBy:      store.OrderDue,
		Limit:        w.batchSize,
	})
	if err != nil {
		return 0, err
	}
	telemetry.WorkerPolledTotal.Add(float64(len(due)))
	if len(due) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, o := range due {
		if ctx.Err() != nil {
			break
		}
		w.wg.Add(1)
		g.Go(func() error {
			defer w.wg.Done()
			w.process(ctx, o)
			return nil
		})
	}
	_ = g.Wait()
	return len(due), nil
}

// process executes o. Failures are logged; the opportunity's own state
// records what happened.
func (w *Worker) process(parent context.Context, o *domain.Opportunity) {
	telemetry.WorkerInFlight.Inc()
	defer telemetry.WorkerInFlight.Dec()

	// Execution gets its own deadline so shutdown does not abandon a submitted action.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.timeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "worker.process")
	defer span.End()
	span.SetAttributes(attribute.String("opportunity.id", o.ID))

	log := w.logger.With(
		slog.String("opportunity_id", o.ID),
		slog.String("owner_id", o.OwnerID),
	)

	res, err := w.exec.Execute(ctx, o.ID, o.OwnerID, false)
	if err != nil {
		span.RecordError(err)
		var (
			done    *domain.AlreadyProcessedError
			expired *domain.ExpiredOpportunityError
		)
		switch {
		case errors.As(err, &done), errors.As(err, &expired):
			log.Debug("opportunity no longer due", slog.String("reason", err.Error()))
		default:
			log.Error("execution failed", slog.String("error", err.Error()))
		}
		return
	}
	log.Debug("executed",
		slog.String("outcome", string(res.Outcome)),
		slog.String("status", string(res.Status)),
	)
}
