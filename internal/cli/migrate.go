package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/engageflow/internal/postgres"
	"github.com/ramiqadoumi/engageflow/internal/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply the opportunity schema to the configured store.

PostgreSQL migrations are embedded and recorded in schema_migrations, so
running this twice is safe. SQLite applies its schema on open.`,
	RunE: runMigrate,
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := buildLogger(cfg.LogLevel, "migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.StoreDriver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			return err
		}
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
	default:
		fmt.Printf("store driver %q has no schema\n", cfg.StoreDriver)
		return nil
	}

	fmt.Println("migrations complete")
	return nil
}
