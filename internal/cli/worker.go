package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
	"github.com/ramiqadoumi/engageflow/services/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute due opportunities",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().Int("concurrency", 4, "maximum opportunities executed at once")
	workerCmd.Flags().Duration("poll-interval", 5*time.Second, "how often to look for due opportunities")
	workerCmd.Flags().Int("batch-size", 20, "maximum opportunities picked up per poll")
	workerCmd.Flags().String("generator", "template", "content generator: anthropic | ollama | template")
	workerCmd.Flags().String("action-api-url", "", "base URL of the action API")
	workerCmd.Flags().Bool("dry-run", true, "log actions instead of submitting them")

	bindFlag("worker_concurrency", workerCmd.Flags(), "concurrency")
	bindFlag("poll_interval", workerCmd.Flags(), "poll-interval")
	bindFlag("batch_size", workerCmd.Flags(), "batch-size")
	bindFlag("generator", workerCmd.Flags(), "generator")
	bindFlag("action_api_url", workerCmd.Flags(), "action-api-url")
	bindFlag("dry_run", workerCmd.Flags(), "dry-run")
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(buildLogger(cfg.LogLevel, "worker"))
	defer cancel()

	a, err := newApp(ctx, cfg, "worker")
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.engine(true)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, a.ready, a.logger)

	w := worker.NewWorker(a.store, engine,
		worker.WithConcurrency(cfg.WorkerConcurrency),
		worker.WithBatchSize(cfg.BatchSize),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithTimeout(cfg.GenerateTimeout+cfg.SubmitTimeout+2*cfg.StoreTimeout),
		worker.WithLogger(a.logger),
	)
	a.logger.Info("worker starting",
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Bool("dry_run", cfg.DryRun),
		slog.String("generator", cfg.Generator),
	)
	if err := w.Run(ctx); err != nil {
		return err
	}
	a.logger.Info("stopped")
	return nil
}
