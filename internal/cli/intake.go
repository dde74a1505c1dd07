package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/engageflow/internal/kafka"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
	"github.com/ramiqadoumi/engageflow/services/intake"
)

const intakeGroupID = "engageflow-intake"

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Consume discovered candidates from Kafka and schedule them",
	RunE:  runIntake,
}

func init() {
	intakeCmd.Flags().String("topic", "engageflow.opportunities.discovered", "topic carrying discovered candidates")
	intakeCmd.Flags().Float64("score-threshold", 0, "composite score required to schedule; 0 uses each owner's threshold")

	bindFlag("discovered_topic", intakeCmd.Flags(), "topic")
	bindFlag("score_threshold", intakeCmd.Flags(), "score-threshold")
}

func newIntakeService(a *app, sched intake.Scheduler) *intake.Service {
	return intake.NewService(a.store, a.owners, a.admission, sched,
		intake.WithLogger(a.logger),
		intake.WithThreshold(a.cfg.ScoreThreshold),
		intake.WithDefaultExpiry(a.cfg.DefaultExpiry),
	)
}

func runIntake(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return errors.New("intake needs kafka_brokers")
	}
	ctx, cancel := signalContext(buildLogger(cfg.LogLevel, "intake"))
	defer cancel()

	a, err := newApp(ctx, cfg, "intake")
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.engine(false)
	if err != nil {
		return err
	}
	consumer := kafka.NewConsumer(brokers, cfg.DiscoveredTopic, intakeGroupID, a.logger)
	defer func() { _ = consumer.Close() }()

	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, a.ready, a.logger)

	c := intake.NewConsumer(consumer, a.producer, newIntakeService(a, engine), cfg.DiscoveredTopic, a.logger)
	a.logger.Info("intake starting", slog.String("topic", cfg.DiscoveredTopic), slog.String("dlq", cfg.DiscoveredTopic+".dlq"))
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	a.logger.Info("stopped")
	return nil
}
