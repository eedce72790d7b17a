// Package config loads process configuration from defaults, an optional
// .cadence.yaml file, CADENCE_* environment variables and CLI flags.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Reminders RemindersConfig `mapstructure:"reminders"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Server    ServerConfig    `mapstructure:"server"`
	Summaries SummariesConfig `mapstructure:"summaries"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects the workflow store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // memory, sqlite, postgres, redis, mongo

	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// QueueConfig selects the task queue backend.
type QueueConfig struct {
	// Backend is memory, sqlite, redis or mongo. Empty follows the storage
	// backend where a matching queue exists, memory otherwise.
	Backend  string `mapstructure:"backend"`
	Capacity int    `mapstructure:"capacity"`
}

// ScheduleConfig configures the periodic tick.
type ScheduleConfig struct {
	DefinitionsFile string        `mapstructure:"definitions_file"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	Retention       time.Duration `mapstructure:"retention"`
}

// RemindersConfig holds the two reminder gates.
type RemindersConfig struct {
	MinSinceScheduled time.Duration `mapstructure:"min_since_scheduled"`
	MinBetweenBatches time.Duration `mapstructure:"min_between_batches"`
}

// FanoutConfig bounds dispatch and paces owner messages.
type FanoutConfig struct {
	OwnerBatchLimit int           `mapstructure:"owner_batch_limit"`
	OwnerJobLimit   int           `mapstructure:"owner_job_limit"`
	PlanTimeout     time.Duration `mapstructure:"plan_timeout"`
	PostRate        float64       `mapstructure:"post_rate"` // messages per second
	PostBurst       int           `mapstructure:"post_burst"`
	DedupeWindow    time.Duration `mapstructure:"dedupe_window"`
}

// WorkerConfig configures the queue worker.
type WorkerConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Backoff        time.Duration `mapstructure:"backoff"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// CacheConfig configures the lookup caches.
type CacheConfig struct {
	MaxSize       int           `mapstructure:"max_size"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ServerConfig configures the status endpoint.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SummariesConfig sizes the in-memory summary ring.
type SummariesConfig struct {
	Capacity int `mapstructure:"capacity"`
}

var (
	validBackends      = map[string]bool{"memory": true, "sqlite": true, "postgres": true, "redis": true, "mongo": true}
	validQueueBackends = map[string]bool{"": true, "memory": true, "sqlite": true, "postgres": true, "redis": true, "mongo": true}
	validLogFormats    = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks the configuration for values the process cannot run
// with.
func (c *Config) Validate() error {
	var errs []error

	if !validLogFormats[c.Log.Format] {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	switch {
	case !validBackends[c.Storage.Backend]:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	case c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "":
		errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
	case c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "":
		errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
	case c.Storage.Backend == "redis" && c.Storage.RedisAddr == "":
		errs = append(errs, errors.New("storage.redis_addr is required for the redis backend"))
	case c.Storage.Backend == "mongo" && c.Storage.MongoURI == "":
		errs = append(errs, errors.New("storage.mongo_uri is required for the mongo backend"))
	}

	if !validQueueBackends[c.Queue.Backend] {
		errs = append(errs, fmt.Errorf("queue.backend: unknown backend %q", c.Queue.Backend))
	} else if qb := c.Queue.Backend; qb != "" && qb != "memory" && qb != c.Storage.Backend {
		errs = append(errs, fmt.Errorf("queue.backend %q requires storage.backend %q", qb, qb))
	}

	if c.Schedule.TickInterval <= 0 {
		errs = append(errs, errors.New("schedule.tick_interval must be positive"))
	}
	if c.Fanout.OwnerBatchLimit <= 0 {
		errs = append(errs, errors.New("fanout.owner_batch_limit must be positive"))
	}
	if c.Fanout.OwnerJobLimit <= 0 {
		errs = append(errs, errors.New("fanout.owner_job_limit must be positive"))
	}
	if c.Fanout.PostRate < 0 {
		errs = append(errs, errors.New("fanout.post_rate must not be negative"))
	}
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, errors.New("cache.max_size must be positive"))
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required when the server is enabled"))
	}

	return errors.Join(errs...)
}

// QueueBackend resolves the effective queue backend.
func (c *Config) QueueBackend() string {
	if c.Queue.Backend != "" {
		return c.Queue.Backend
	}
	switch c.Storage.Backend {
	case "sqlite", "postgres", "redis", "mongo":
		return c.Storage.Backend
	default:
		return "memory"
	}
}
