// Package config loads planrunner configuration through viper.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Shared context backends.
const (
	SharedContextMemory = "memory"
	SharedContextRedis  = "redis"
)

// Config represents the complete planrunner configuration
type Config struct {
	Project       ProjectConfig       `mapstructure:"project"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Executor      ExecutorConfig      `mapstructure:"executor"`
	SharedContext SharedContextConfig `mapstructure:"shared_context"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ProjectConfig selects the project commands operate on
type ProjectConfig struct {
	// DefaultID is used when --project is not given
	DefaultID string `mapstructure:"default_id"`
}

// StorageConfig controls where plans and instances are persisted
type StorageConfig struct {
	// Backend is "file" (JSON files, default) or "sqlite"
	Backend string `mapstructure:"backend"`
	// Dir is the root of the file store. Empty means DataDir().
	Dir string `mapstructure:"dir"`
	// SQLitePath is the database file for the sqlite backend.
	// Empty means planrunner.db inside the storage directory.
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ExecutorConfig controls task dispatch
type ExecutorConfig struct {
	// MaxParallel is the maximum number of tasks performed at once (default: 3)
	MaxParallel int `mapstructure:"max_parallel"`
	// TaskTimeoutSeconds bounds a single task (0 = no timeout)
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds"`
	// Shell runs task commands (default: /bin/sh)
	Shell string `mapstructure:"shell"`
}

// SharedContextConfig controls where task outputs are shared
type SharedContextConfig struct {
	// Backend is "memory" (default) or "redis"
	Backend string `mapstructure:"backend"`
	// RedisAddr is host:port of the Redis server
	RedisAddr string `mapstructure:"redis_addr"`
	// RedisDB selects the Redis database number
	RedisDB int `mapstructure:"redis_db"`
	// KeyPrefix namespaces Redis keys
	KeyPrefix string `mapstructure:"key_prefix"`
	// TTLSeconds expires Redis entries (0 = never)
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Enabled writes JSON logs to Dir/planrunner.log
	Enabled bool `mapstructure:"enabled"`
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Dir is the log directory. Empty means the storage directory.
	Dir string `mapstructure:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: StorageFile,
		},
		Executor: ExecutorConfig{
			MaxParallel:        3,
			TaskTimeoutSeconds: 0,
			Shell:              "/bin/sh",
		},
		SharedContext: SharedContextConfig{
			Backend:   SharedContextMemory,
			RedisAddr: "localhost:6379",
			KeyPrefix: "planrunner",
		},
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
	}
}

// TaskTimeout returns the task timeout as a time.Duration (0 means disabled)
func (c *ExecutorConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// TTL returns the shared context TTL as a time.Duration (0 means none)
func (c *SharedContextConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ResolveDir returns the storage directory with ~ expanded.
func (s *StorageConfig) ResolveDir() string {
	if s.Dir == "" {
		return DataDir()
	}
	return expandHome(s.Dir)
}

// ResolveSQLitePath returns the sqlite database path with ~ expanded.
func (s *StorageConfig) ResolveSQLitePath() string {
	if s.SQLitePath == "" {
		return filepath.Join(s.ResolveDir(), "planrunner.db")
	}
	return expandHome(s.SQLitePath)
}

// ResolveLogDir returns the directory log files are written to.
func (c *Config) ResolveLogDir() string {
	if c.Logging.Dir != "" {
		return expandHome(c.Logging.Dir)
	}
	return c.Storage.ResolveDir()
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("project.default_id", defaults.Project.DefaultID)

	viper.SetDefault("storage.backend", defaults.Storage.Backend)
	viper.SetDefault("storage.dir", defaults.Storage.Dir)
	viper.SetDefault("storage.sqlite_path", defaults.Storage.SQLitePath)

	viper.SetDefault("executor.max_parallel", defaults.Executor.MaxParallel)
	viper.SetDefault("executor.task_timeout_seconds", defaults.Executor.TaskTimeoutSeconds)
	viper.SetDefault("executor.shell", defaults.Executor.Shell)

	viper.SetDefault("shared_context.backend", defaults.SharedContext.Backend)
	viper.SetDefault("shared_context.redis_addr", defaults.SharedContext.RedisAddr)
	viper.SetDefault("shared_context.redis_db", defaults.SharedContext.RedisDB)
	viper.SetDefault("shared_context.key_prefix", defaults.SharedContext.KeyPrefix)
	viper.SetDefault("shared_context.ttl_seconds", defaults.SharedContext.TTLSeconds)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when it
// cannot be loaded
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "planrunner")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planrunner"
	}
	return filepath.Join(home, ".config", "planrunner")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the default storage directory
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "planrunner")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planrunner"
	}
	return filepath.Join(home, ".local", "share", "planrunner")
}
