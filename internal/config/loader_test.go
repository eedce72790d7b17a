package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "sqlite", cfg.QueueBackend())
	assert.Equal(t, time.Minute, cfg.Schedule.TickInterval)
	assert.Equal(t, 10*time.Minute, cfg.Reminders.MinSinceScheduled)
	assert.Equal(t, 10, cfg.Fanout.OwnerBatchLimit)
	assert.Equal(t, 25, cfg.Fanout.OwnerJobLimit)
	assert.Equal(t, 20*time.Second, cfg.Fanout.PlanTimeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cadence.yaml"), []byte(`
storage:
  backend: memory
fanout:
  owner_job_limit: 3
  plan_timeout: 5s
reminders:
  min_between_batches: 15m
`), 0o600))
	t.Setenv("CADENCE_FANOUT_OWNER_BATCH_LIMIT", "4")
	t.Setenv("CADENCE_LOG_LEVEL", "debug")

	l := NewLoader()
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "memory", cfg.QueueBackend())
	assert.Equal(t, 3, cfg.Fanout.OwnerJobLimit)
	assert.Equal(t, 4, cfg.Fanout.OwnerBatchLimit)
	assert.Equal(t, 5*time.Second, cfg.Fanout.PlanTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Reminders.MinBetweenBatches)
	assert.Equal(t, 10*time.Minute, cfg.Reminders.MinSinceScheduled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Contains(t, l.ConfigFileUsed(), ".cadence.yaml")
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Log:      LogConfig{Format: "auto"},
			Storage:  StorageConfig{Backend: "memory"},
			Schedule: ScheduleConfig{TickInterval: time.Minute},
			Fanout:   FanoutConfig{OwnerBatchLimit: 10, OwnerJobLimit: 5},
			Cache:    CacheConfig{MaxSize: 10},
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(*Config){
		"unknown backend":      func(c *Config) { c.Storage.Backend = "dynamo" },
		"postgres without dsn": func(c *Config) { c.Storage.Backend = "postgres" },
		"queue mismatch":       func(c *Config) { c.Queue.Backend = "redis" },
		"zero tick":            func(c *Config) { c.Schedule.TickInterval = 0 },
		"zero job limit":       func(c *Config) { c.Fanout.OwnerJobLimit = 0 },
		"bad log format":       func(c *Config) { c.Log.Format = "xml" },
		"server without addr":  func(c *Config) { c.Server.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
