package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGofireConfig_Defaults(t *testing.T) {
	cfg, err := NewGofireConfig("node-a")
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Instance)
	assert.Equal(t, Postgres, cfg.StorageDriver)
	assert.Equal(t, 7500*time.Millisecond, cfg.CheckinInterval)
	assert.Equal(t, 3, cfg.DeadNodeMultiplier)
	assert.Equal(t, time.Minute, cfg.MisfireThreshold)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.WorkerPoolSize)
	assert.Equal(t, 22500*time.Millisecond, cfg.DeadNodeTimeout())
}

func TestNewGofireConfig_GeneratesInstance(t *testing.T) {
	a, err := NewGofireConfig("")
	require.NoError(t, err)
	b, err := NewGofireConfig("  ")
	require.NoError(t, err)

	assert.NotEmpty(t, a.Instance)
	assert.NotEqual(t, a.Instance, b.Instance)
}

func TestNewGofireConfig_CollectsAllErrors(t *testing.T) {
	cfg, err := NewGofireConfig("node-a",
		WithWorkerPoolSize(0),
		WithPollInterval(0),
		WithDeadNodeMultiplier(0),
		WithPostgresConfig(PostgresConfig{}),
	)
	require.Error(t, err)
	assert.Nil(t, cfg)

	var vErr *custom_errors.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Errors, 4)
	assert.Contains(t, err.Error(), "worker pool size must be positive")
}

func TestWithAdminConfig(t *testing.T) {
	_, err := NewGofireConfig("n", WithAdminConfig(8080, "admin", "plain-text"))
	assert.ErrorContains(t, err, "bcrypt")

	_, err = NewGofireConfig("n", WithAdminConfig(8080, "admin", ""))
	assert.ErrorContains(t, err, "must be set together")

	cfg, err := NewGofireConfig("n", WithAdminConfig(9090, "", ""))
	require.NoError(t, err)
	assert.True(t, cfg.AdminEnabled)
	assert.Equal(t, uint(9090), cfg.AdminPort)
}

func TestWithSQLiteConfig_SwitchesDriver(t *testing.T) {
	cfg, err := NewGofireConfig("n", WithSQLiteConfig(SQLiteConfig{Path: "/tmp/gofire.db"}))
	require.NoError(t, err)
	assert.Equal(t, SQLite, cfg.StorageDriver)
	assert.Equal(t, "sqlite", cfg.StorageDriver.String())
}

func TestLoad_FromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gofire.yaml")
	content := `
instance: node-file
storage:
  driver: sqlite
  sqlite_path: /var/lib/gofire.db
checkin_interval_ms: 2000
misfire_threshold_ms: 5000
worker_pool_size: 4
redis:
  enabled: true
  address: localhost:6379
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))
	t.Setenv("GOFIRE_POLL_INTERVAL_MS", "250")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "node-file", cfg.Instance)
	assert.Equal(t, SQLite, cfg.StorageDriver)
	assert.Equal(t, "/var/lib/gofire.db", cfg.SQLiteConfig.Path)
	assert.Equal(t, 2*time.Second, cfg.CheckinInterval)
	assert.Equal(t, 5*time.Second, cfg.MisfireThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.True(t, cfg.UseRedisNotifier)
	assert.Equal(t, DefaultRedisChannel, cfg.RedisConfig.Channel)
	assert.False(t, cfg.PublishFireEvents)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestJobRegistry(t *testing.T) {
	r := NewJobRegistry()
	noop := func(ctx context.Context, fc *types.FireContext) error { return nil }

	require.NoError(t, r.RegisterFunc("report", noop))
	require.NoError(t, r.RegisterFunc("cleanup", noop))
	assert.Error(t, r.RegisterFunc("report", noop))
	assert.Error(t, r.Register("", types.RunnableFunc(noop)))
	assert.Error(t, r.RegisterFunc("nil", nil))

	assert.True(t, r.Exists("report"))
	assert.False(t, r.Exists("missing"))

	runnable, ok := r.Get("cleanup")
	require.True(t, ok)
	assert.NoError(t, runnable.Run(context.Background(), &types.FireContext{}))

	assert.Equal(t, []string{"cleanup", "report"}, r.List())
}
