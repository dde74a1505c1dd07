//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ramiqadoumi/engageflow/internal/postgres"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/internal/store/storetest"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	pgCtr, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("engageflow"),
		tcPostgres.WithUsername("engageflow"),
		tcPostgres.WithPassword("engageflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}
	defer pgCtr.Terminate(ctx) //nolint:errcheck

	dsn, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("postgres connection string: %v", err)
	}
	testPool, err = postgres.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer testPool.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := postgres.Migrate(ctx, testPool, logger); err != nil {
		log.Fatalf("run migrations: %v", err)
	}
	return m.Run()
}

func TestPostgresStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := testPool.Exec(context.Background(), "TRUNCATE opportunities")
		require.NoError(t, err)
		return postgres.NewRepository(testPool)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, postgres.Migrate(context.Background(), testPool, logger))
}

func TestOwnerLock_ExclusiveAcrossSessions(t *testing.T) {
	ctx := context.Background()
	a := postgres.NewOwnerLock(testPool)
	b := postgres.NewOwnerLock(testPool)

	unlock, ok, err := a.TryLock(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx, "owner-1")
	require.NoError(t, err)
	require.False(t, ok, "second session must not get a held owner")

	other, ok, err := b.TryLock(ctx, "owner-2")
	require.NoError(t, err)
	require.True(t, ok, "owners are locked independently")
	other()

	unlock()
	again, ok, err := b.TryLock(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ok, "released owner can be taken")
	again()
}
