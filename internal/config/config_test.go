package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/engageflow/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(config.New())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.True(t, cfg.DryRun, "a fresh install never posts")
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 10*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 30*time.Second, cfg.GenerateTimeout)
	assert.Equal(t, 30*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, time.Minute, cfg.RetryBaseDelay)
	assert.Empty(t, cfg.Brokers())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("ENGAGE_STORE_DRIVER", "sqlite")
	t.Setenv("ENGAGE_SQLITE_PATH", "/tmp/engage.db")
	t.Setenv("ENGAGE_WORKER_CONCURRENCY", "16")
	t.Setenv("ENGAGE_POLL_INTERVAL", "750ms")
	t.Setenv("ENGAGE_KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := config.Load(config.New())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/tmp/engage.db", cfg.SQLitePath)
	assert.Equal(t, 16, cfg.WorkerConcurrency)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]any{
		"unknown driver":         {"store_driver": "mongo"},
		"unknown generator":      {"generator": "gpt"},
		"anthropic without key":  {"generator": "anthropic"},
		"live without api url":   {"dry_run": false},
		"bad api url":            {"dry_run": false, "action_api_url": "not a url"},
		"zero concurrency":       {"worker_concurrency": 0},
		"poll interval too fast": {"poll_interval": "10ms"},
		"threshold above one":    {"score_threshold": 1.5},
		"bad log level":          {"log_level": "verbose"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			v := config.New()
			for k, val := range overrides {
				v.Set(k, val)
			}
			_, err := config.Load(v)
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestLoad_LiveActionAPI(t *testing.T) {
	v := config.New()
	v.Set("dry_run", false)
	v.Set("action_api_url", "https://actions.example.com")
	v.Set("generator", "anthropic")
	v.Set("anthropic_api_key", "sk-test")

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "https://actions.example.com", cfg.ActionAPIURL)
}
