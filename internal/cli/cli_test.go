package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/engageflow/internal/config"
	"github.com/ramiqadoumi/engageflow/internal/execution"
	redisstore "github.com/ramiqadoumi/engageflow/internal/redis"
	"github.com/ramiqadoumi/engageflow/internal/sqlite"
)

func TestDefaultConfigYAMLLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engageflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(defaultConfigYAML), 0o644))

	vp := config.New()
	vp.SetConfigFile(path)
	require.NoError(t, vp.ReadInConfig())

	cfg, err := config.Load(vp)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 48*time.Hour, cfg.DefaultExpiry)
	assert.Empty(t, cfg.Brokers())
}

func TestInitCmd(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "engageflow.yaml")
	cfgFile = dest
	t.Cleanup(func() { cfgFile = "" })

	run := func(args ...string) (string, error) {
		cmd := newInitCmd("log_level: debug\n")
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{}, args...))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run()
	require.NoError(t, err)
	assert.Contains(t, out, dest)

	_, err = run()
	assert.ErrorContains(t, err, "already exists")

	_, err = run("--force")
	require.NoError(t, err)
	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "log_level: debug\n", string(raw))
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "engageflow dev")
	assert.Contains(t, out.String(), "go version:")
}

func TestBuildLoggerLevels(t *testing.T) {
	assert.True(t, buildLogger("debug", "t").Handler().Enabled(t.Context(), -4))
	assert.False(t, buildLogger("warn", "t").Handler().Enabled(t.Context(), 0))
	assert.True(t, buildLogger("bogus", "t").Handler().Enabled(t.Context(), 0), "unknown levels fall back to info")
}

func TestOwnerLockerIsSharedAcrossProcesses(t *testing.T) {
	s, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "engageflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rt := &app{cfg: config.Config{ClaimTTL: time.Minute}, store: s, sqlite: s}
	assert.IsType(t, &sqlite.OwnerLock{}, rt.ownerLocker(), "sqlite without redis")

	mr := miniredis.RunT(t)
	rt.redis = redisstore.NewClient(mr.Addr())
	t.Cleanup(func() { _ = rt.redis.Close() })
	assert.IsType(t, &redisstore.OwnerLock{}, rt.ownerLocker(), "redis wins when configured")

	assert.IsType(t, &execution.LocalLocker{}, (&app{}).ownerLocker(), "memory store")
}

func TestSizePool(t *testing.T) {
	rt := &app{cfg: config.Config{WorkerConcurrency: 8}}

	small := &pgxpool.Config{MaxConns: 4}
	rt.sizePool(small)
	assert.Equal(t, int32(20), small.MaxConns)

	large := &pgxpool.Config{MaxConns: 50}
	rt.sizePool(large)
	assert.Equal(t, int32(50), large.MaxConns)
}
