// Package config loads support-elt settings from config.yaml and
// SUPPORT_ELT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the warehouse backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// SourceConfig configures where and how the raw file is read.
type SourceConfig struct {
	Location    string `yaml:"location" mapstructure:"location"`
	Format      string `yaml:"format" mapstructure:"format"`
	Delimiter   string `yaml:"delimiter" mapstructure:"delimiter"`
	Charset     string `yaml:"charset" mapstructure:"charset"`
	Sheet       string `yaml:"sheet" mapstructure:"sheet"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	S3Region    string `yaml:"s3_region" mapstructure:"s3_region"`
}

// PipelineConfig configures the runner.
type PipelineConfig struct {
	Name             string `yaml:"name" mapstructure:"name"`
	Dataset          string `yaml:"dataset" mapstructure:"dataset"`
	Pepper           string `yaml:"pepper" mapstructure:"pepper"`
	StageTimeoutSecs int    `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	TransformWorkers int    `yaml:"transform_workers" mapstructure:"transform_workers"`
}

// StageTimeout returns the per-stage deadline.
func (p PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSecs) * time.Second
}

// LockConfig configures the single-flight run lock.
type LockConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLSecs  int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// ScheduleConfig configures the serve-mode scheduler.
type ScheduleConfig struct {
	IntervalMins     int `yaml:"interval_mins" mapstructure:"interval_mins"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ServerConfig configures the HTTP trigger API.
type ServerConfig struct {
	Port              int `yaml:"port" mapstructure:"port"`
	TriggerRatePerMin int `yaml:"trigger_rate_per_min" mapstructure:"trigger_rate_per_min"`
}

// MonitoringConfig configures quality alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	RejectRateThreshold  float64 `yaml:"reject_rate_threshold" mapstructure:"reject_rate_threshold"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUPPORT_ELT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default to empty so that env vars bind.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("source.location", "data/raw/customer_support_tickets.csv")
	v.SetDefault("source.format", "auto")
	v.SetDefault("source.delimiter", ",")
	v.SetDefault("source.charset", "")
	v.SetDefault("source.sheet", "")
	v.SetDefault("source.timeout_secs", 60)
	v.SetDefault("source.user_agent", "support-elt/1.0")
	v.SetDefault("source.s3_region", "us-east-1")
	v.SetDefault("pipeline.name", "elt_pipeline")
	v.SetDefault("pipeline.dataset", "customer_support")
	v.SetDefault("pipeline.pepper", "")
	v.SetDefault("pipeline.stage_timeout_secs", 300)
	v.SetDefault("pipeline.transform_workers", 4)
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.redis_url", "")
	v.SetDefault("lock.ttl_secs", 3600)
	v.SetDefault("schedule.interval_mins", 60)
	v.SetDefault("schedule.max_attempts", 3)
	v.SetDefault("schedule.initial_backoff_ms", 2000)
	v.SetDefault("schedule.max_backoff_ms", 60000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.trigger_rate_per_min", 6)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.reject_rate_threshold", 0.05)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs: "run", "serve" or
// "migrate". Every problem found is reported.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "serve":
		errs = append(errs, c.validateRun()...)
		if mode == "serve" {
			if c.Server.Port <= 0 {
				errs = append(errs, "server.port must be > 0")
			}
			if c.Schedule.IntervalMins <= 0 {
				errs = append(errs, "schedule.interval_mins must be > 0")
			}
			if c.Schedule.MaxAttempts < 1 {
				errs = append(errs, "schedule.max_attempts must be >= 1")
			}
		}
	case "migrate":
		if c.Store.Driver != "postgres" {
			errs = append(errs, "migrate requires the postgres store driver")
		} else if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRun() []string {
	var errs []string
	if c.Pipeline.Pepper == "" {
		errs = append(errs, "pipeline.pepper is required (SUPPORT_ELT_PIPELINE_PEPPER)")
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.RedisURL == "" {
			errs = append(errs, "lock.redis_url is required for the redis lock")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown lock.driver %q", c.Lock.Driver))
	}
	if c.Source.Location == "" {
		errs = append(errs, "source.location is required")
	}
	if utf8.RuneCountInString(c.Source.Delimiter) > 1 {
		errs = append(errs, fmt.Sprintf("source.delimiter must be a single character, got %q", c.Source.Delimiter))
	}
	if c.Pipeline.StageTimeoutSecs < 0 {
		errs = append(errs, "pipeline.stage_timeout_secs must be >= 0")
	}
	if c.Pipeline.TransformWorkers < 1 || c.Pipeline.TransformWorkers > 64 {
		errs = append(errs, "pipeline.transform_workers must be between 1 and 64")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
