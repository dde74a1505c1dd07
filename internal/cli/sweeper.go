package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	redisstore "github.com/ramiqadoumi/engageflow/internal/redis"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
	"github.com/ramiqadoumi/engageflow/services/sweeper"
)

const leaderTTL = 30 * time.Second

var sweeperCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Expire, requeue and reap opportunities on a schedule",
	Long: `Run the maintenance jobs on a cron schedule.

With --redis-addr set, instances elect a leader and only the leader sweeps;
without it the process assumes it is the only sweeper.`,
	RunE: runSweeper,
}

func init() {
	sweeperCmd.Flags().String("schedule", "@every 1m", "cron spec for the sweep")
	sweeperCmd.Flags().Duration("claim-ttl", 10*time.Minute, "how long a claim may stay in progress before it is reaped")

	bindFlag("sweep_schedule", sweeperCmd.Flags(), "schedule")
	bindFlag("claim_ttl", sweeperCmd.Flags(), "claim-ttl")
}

func runSweeper(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(buildLogger(cfg.LogLevel, "sweeper"))
	defer cancel()

	a, err := newApp(ctx, cfg, "sweeper")
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.engine(false)
	if err != nil {
		return err
	}

	var leader sweeper.Leader = sweeper.Solo{}
	if a.redis != nil {
		leader = redisstore.NewLeaderElector(a.redis, "sweeper", a.instanceID, leaderTTL, a.logger)
	}

	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, a.ready, a.logger)

	s := sweeper.New(a.store, engine, leader,
		sweeper.WithAnalytics(a.analytics),
		sweeper.WithLogger(a.logger),
		sweeper.WithSchedule(cfg.SweepSchedule),
		sweeper.WithClaimTTL(cfg.ClaimTTL),
	)
	a.logger.Info("sweeper starting", slog.String("schedule", cfg.SweepSchedule), slog.Bool("elected", a.redis != nil))
	if err := s.Run(ctx); err != nil {
		return err
	}
	a.logger.Info("stopped")
	return nil
}
