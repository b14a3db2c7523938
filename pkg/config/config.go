// Package config loads the runner configuration from YAML with
// DOE_RUNNER_* environment variable overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/strataregula/doe-runner/pkg/runstore"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultCacheDir is the default cache store location.
	DefaultCacheDir = ".doe_cache"

	// DefaultOutputFile is the default metrics table path.
	DefaultOutputFile = "metrics.csv"

	// DefaultRunLogDir is the default run log directory.
	DefaultRunLogDir = "docs/run"

	// DefaultHistoryPath is the default sqlite history database.
	DefaultHistoryPath = ".doe_history.db"

	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// DOE_RUNNER_GLOBAL_LOG_LEVEL.
	EnvPrefix = "DOE_RUNNER"
)

// Config is the root configuration.
type Config struct {
	Global  GlobalConfig  `mapstructure:"global" yaml:"global"`
	Runner  RunnerConfig  `mapstructure:"runner" yaml:"runner"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
	API     APIConfig     `mapstructure:"api" yaml:"api"`
}

// GlobalConfig contains application-wide settings.
type GlobalConfig struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// RunnerConfig contains execution settings.
type RunnerConfig struct {
	MaxWorkers     int    `mapstructure:"max_workers" yaml:"max_workers"`
	FailFast       bool   `mapstructure:"fail_fast" yaml:"fail_fast"`
	OutputFile     string `mapstructure:"output_file" yaml:"output_file"`
	RunLogDir      string `mapstructure:"run_log_dir" yaml:"run_log_dir"`
	ArtifactsDir   string `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`
	SaveOutput     bool   `mapstructure:"save_output" yaml:"save_output"`
	GlobalTimeoutS int    `mapstructure:"global_timeout_s" yaml:"global_timeout_s"`
}

// CacheConfig contains cache store settings.
type CacheConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// HistoryConfig contains run-history settings.
type HistoryConfig struct {
	Enabled  bool                    `mapstructure:"enabled" yaml:"enabled"`
	Database runstore.DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// APIConfig contains inspection API settings.
type APIConfig struct {
	ListenAddr         string   `mapstructure:"listen_addr" yaml:"listen_addr"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" yaml:"cors_allowed_origins"`
}

// Load reads the configuration file (optional) and applies environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("runner.max_workers", 1)
	v.SetDefault("runner.fail_fast", false)
	v.SetDefault("runner.output_file", DefaultOutputFile)
	v.SetDefault("runner.run_log_dir", DefaultRunLogDir)
	v.SetDefault("runner.artifacts_dir", "artifacts")
	v.SetDefault("runner.save_output", false)
	v.SetDefault("runner.global_timeout_s", 0)

	v.SetDefault("cache.dir", DefaultCacheDir)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.database.driver", "sqlite")
	v.SetDefault("history.database.sqlite.path", DefaultHistoryPath)
	v.SetDefault("history.database.postgres.port", 5432)
	v.SetDefault("history.database.postgres.ssl_mode", "disable")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.rate_limit_per_minute", 120)
	v.SetDefault("api.cors_allowed_origins", []string{"*"})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Runner.MaxWorkers < 1 {
		return fmt.Errorf("runner.max_workers must be at least 1, got %d", c.Runner.MaxWorkers)
	}

	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir cannot be empty")
	}

	switch c.History.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported history.database.driver %q (use \"sqlite\" or \"postgres\")",
			c.History.Database.Driver)
	}

	if c.API.RateLimitPerMinute < 0 {
		return fmt.Errorf("api.rate_limit_per_minute cannot be negative")
	}

	return nil
}
