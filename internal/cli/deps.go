package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/engageflow/internal/actionapi"
	"github.com/ramiqadoumi/engageflow/internal/admission"
	"github.com/ramiqadoumi/engageflow/internal/analytics"
	"github.com/ramiqadoumi/engageflow/internal/config"
	"github.com/ramiqadoumi/engageflow/internal/execution"
	"github.com/ramiqadoumi/engageflow/internal/generator"
	"github.com/ramiqadoumi/engageflow/internal/kafka"
	"github.com/ramiqadoumi/engageflow/internal/owners"
	"github.com/ramiqadoumi/engageflow/internal/postgres"
	redisstore "github.com/ramiqadoumi/engageflow/internal/redis"
	"github.com/ramiqadoumi/engageflow/internal/scheduling"
	"github.com/ramiqadoumi/engageflow/internal/sqlite"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
)

// app holds the collaborators every long-running subcommand shares.
// close releases them in reverse order of acquisition.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	instanceID string

	store     store.Store
	pool      *pgxpool.Pool
	sqlite    *sqlite.Store
	redis     *goredis.Client
	owners    *owners.File
	counter   admission.ActivityCounter
	admission *admission.Controller
	producer  kafka.Producer
	analytics analytics.Sink

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, service string) (*app, error) {
	logger := buildLogger(cfg.LogLevel, service)
	rt := &app{cfg: cfg, logger: logger, instanceID: instanceID(service)}
	rt.logger = logger.With(slog.String("instance_id", rt.instanceID))

	shutdownTracer, err := telemetry.InitTracer(ctx, appName+"-"+service, cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.onClose(shutdownTracer)

	if err := rt.openStore(ctx); err != nil {
		rt.close()
		return nil, err
	}
	if cfg.RedisAddr != "" {
		rt.redis = redisstore.NewClient(cfg.RedisAddr)
		rt.onClose(func() { _ = rt.redis.Close() })
	}

	rt.owners, err = owners.OpenFile(cfg.OwnersFile, rt.logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("owners: %w", err)
	}
	if err := rt.owners.Watch(ctx); err != nil {
		rt.logger.Warn("owners file will not reload", slog.String("error", err.Error()))
	}

	switch {
	case rt.redis != nil:
		// Redis only learns of completions through Record; the store is the record.
		rt.counter = admission.Merged{redisstore.NewActivityCounter(rt.redis), admission.StoreCounter{Store: rt.store}}
	case cfg.StoreDriver == "memory":
		rt.counter = admission.NewMemoryCounter()
	default:
		rt.counter = admission.StoreCounter{Store: rt.store}
	}
	rt.admission = admission.NewController(rt.store, rt.counter, clock.Real())

	rt.analytics = analytics.Log{Logger: rt.logger}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		rt.producer = kafka.NewProducer(brokers)
		rt.onClose(func() { _ = rt.producer.Close() })
		if cfg.AnalyticsTopic != "" {
			k := analytics.NewKafka(rt.producer, cfg.AnalyticsTopic, rt.logger)
			rt.onClose(k.Close)
			rt.analytics = analytics.Multi{rt.analytics, k}
		}
	}
	return rt, nil
}

func (rt *app) openStore(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch rt.cfg.StoreDriver {
	case "postgres":
		pool, err := postgres.NewPool(initCtx, rt.cfg.PostgresDSN, rt.sizePool)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		rt.pool = pool
		rt.onClose(pool.Close)
		rt.store = postgres.NewRepository(pool)
	case "sqlite":
		s, err := sqlite.Open(initCtx, rt.cfg.SQLitePath)
		if err != nil {
			return err
		}
		rt.onClose(func() { _ = s.Close() })
		rt.sqlite = s
		rt.store = s
	case "memory":
		rt.logger.Warn("using in-memory store; state is lost on exit")
		rt.store = store.NewMemory()
	default:
		return fmt.Errorf("unknown store driver %q", rt.cfg.StoreDriver)
	}
	rt.logger.Info("store ready", slog.String("driver", rt.cfg.StoreDriver))
	return nil
}

// engine builds the execution engine. Generation and submission are only
// wired for processes that execute.
func (rt *app) engine(withActions bool) (*execution.Engine, error) {
	cfg := rt.cfg
	deps := execution.Deps{
		Store:     rt.store,
		Owners:    rt.owners,
		Counter:   rt.counter,
		Admission: rt.admission,
		Scheduler: scheduling.New(rt.counter, clock.Real()),
	}
	if withActions {
		gen, err := newGenerator(cfg)
		if err != nil {
			return nil, err
		}
		deps.Generator = gen
		deps.Actions = newSubmitter(cfg, rt.logger)
	}

	opts := []execution.Option{
		execution.WithAnalytics(rt.analytics),
		execution.WithLogger(rt.logger),
		execution.WithWorkerID(rt.instanceID),
		execution.WithRetryBase(cfg.RetryBaseDelay),
		execution.WithTimeouts(execution.Timeouts{
			Store:    cfg.StoreTimeout,
			Generate: cfg.GenerateTimeout,
			Submit:   cfg.SubmitTimeout,
		}),
		execution.WithLocker(rt.ownerLocker()),
	}
	return execution.New(deps, opts...), nil
}

// sizePool leaves room for store calls while every worker slot pins a
// connection for its owner lock.
func (rt *app) sizePool(c *pgxpool.Config) {
	if need := int32(2*rt.cfg.WorkerConcurrency + 4); c.MaxConns < need {
		c.MaxConns = need
	}
}

// ownerLocker picks a lock every process sharing the store can see. Only the
// memory store, which no other process shares, gets a process-local one.
func (rt *app) ownerLocker() execution.OwnerLocker {
	switch {
	case rt.redis != nil:
		return redisstore.NewOwnerLock(rt.redis, rt.cfg.ClaimTTL)
	case rt.pool != nil:
		return postgres.NewOwnerLock(rt.pool)
	case rt.sqlite != nil:
		return rt.sqlite.OwnerLock(rt.cfg.ClaimTTL)
	}
	return execution.NewLocalLocker()
}

func newGenerator(cfg config.Config) (generator.Generator, error) {
	switch cfg.Generator {
	case "anthropic":
		return generator.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	case "ollama":
		g, err := generator.NewOllama(cfg.OllamaURL, cfg.OllamaModel, nil)
		if err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		return g, nil
	case "template":
		return generator.Template{}, nil
	}
	return nil, fmt.Errorf("unknown generator %q", cfg.Generator)
}

func newSubmitter(cfg config.Config, logger *slog.Logger) actionapi.Submitter {
	if cfg.DryRun {
		logger.Warn("dry run: actions are logged, not submitted")
		return actionapi.DryRun{Logger: logger}
	}
	return actionapi.NewClient(cfg.ActionAPIURL, cfg.ActionAPIToken, actionapi.WithRate(cfg.ActionAPIRPS, 1))
}

// ready pings the store's database and Redis when configured.
func (rt *app) ready(ctx context.Context) error {
	var errs []error
	if rt.pool != nil {
		if err := rt.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (rt *app) onClose(fn func()) { rt.closers = append(rt.closers, fn) }

func (rt *app) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func instanceID(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = service
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
