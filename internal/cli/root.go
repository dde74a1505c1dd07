// Package cli implements the engageflow command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/engageflow/internal/config"
)

const appName = "engageflow"

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:          appName,
	Short:        "EngageFlow: scores, schedules and executes social engagement opportunities",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/engageflow/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./engageflow.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("store-driver", "postgres", "opportunity store: postgres | sqlite | memory")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "PostgreSQL DSN")
	rootCmd.PersistentFlags().String("sqlite-path", "engageflow.db", "SQLite database file")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address (host:port); empty uses in-process coordination")
	rootCmd.PersistentFlags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables Kafka")
	rootCmd.PersistentFlags().String("owners-file", "owners.yaml", "owners YAML file")
	rootCmd.PersistentFlags().String("metrics-addr", ":9091", "Prometheus metrics server address")
	rootCmd.PersistentFlags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("log_level", rootCmd.PersistentFlags(), "log-level")
	bindFlag("store_driver", rootCmd.PersistentFlags(), "store-driver")
	bindFlag("postgres_dsn", rootCmd.PersistentFlags(), "postgres-dsn")
	bindFlag("sqlite_path", rootCmd.PersistentFlags(), "sqlite-path")
	bindFlag("redis_addr", rootCmd.PersistentFlags(), "redis-addr")
	bindFlag("kafka_brokers", rootCmd.PersistentFlags(), "kafka-brokers")
	bindFlag("owners_file", rootCmd.PersistentFlags(), "owners-file")
	bindFlag("metrics_addr", rootCmd.PersistentFlags(), "metrics-addr")
	bindFlag("otel_endpoint", rootCmd.PersistentFlags(), "otel-endpoint")
	_ = v.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(sweeperCmd)
	rootCmd.AddCommand(intakeCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(newInitCmd(defaultConfigYAML))
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+appName))
		}
		v.AddConfigPath("/etc/" + appName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", v.ConfigFileUsed())
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(v)
}

func buildLogger(level, service string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("service", service))
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := v.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			logger.Info("shutting down...", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
