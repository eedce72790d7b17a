package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "CADENCE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads and validates configuration.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (CADENCE_*)
// 3. Project config (.cadence.yaml in current directory)
// 4. User config (~/.config/cadence/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".cadence")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "cadence"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("storage.backend", "sqlite")
	l.v.SetDefault("storage.sqlite_path", "cadence.db")
	l.v.SetDefault("storage.redis_prefix", "cadence:")
	l.v.SetDefault("storage.mongo_database", "cadence")

	l.v.SetDefault("queue.backend", "")
	l.v.SetDefault("queue.capacity", 1024)

	l.v.SetDefault("schedule.definitions_file", "checkins.yaml")
	l.v.SetDefault("schedule.tick_interval", "1m")
	l.v.SetDefault("schedule.retention", "24h")

	l.v.SetDefault("reminders.min_since_scheduled", "10m")
	l.v.SetDefault("reminders.min_between_batches", "10m")

	l.v.SetDefault("fanout.owner_batch_limit", 10)
	l.v.SetDefault("fanout.owner_job_limit", 25)
	l.v.SetDefault("fanout.plan_timeout", "20s")
	l.v.SetDefault("fanout.post_rate", 1.0)
	l.v.SetDefault("fanout.post_burst", 1)
	l.v.SetDefault("fanout.dedupe_window", "5m")

	l.v.SetDefault("worker.max_attempts", 3)
	l.v.SetDefault("worker.backoff", "2s")
	l.v.SetDefault("worker.handler_timeout", "5m")

	l.v.SetDefault("cache.max_size", 500)
	l.v.SetDefault("cache.ttl", "10m")
	l.v.SetDefault("cache.sweep_interval", "1m")

	l.v.SetDefault("server.enabled", true)
	l.v.SetDefault("server.addr", ":8080")

	l.v.SetDefault("summaries.capacity", 200)
}
