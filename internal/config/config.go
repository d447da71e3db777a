// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Render     RenderConfig     `mapstructure:"render"`
	Store      StoreConfig      `mapstructure:"store"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SchedulerConfig governs worker pool and retry behavior.
type SchedulerConfig struct {
	Concurrency   int `mapstructure:"concurrency"`
	QueueDepth    int `mapstructure:"queue_depth"`
	RateLimit     int `mapstructure:"rate_limit"`
	RateWindowMs  int `mapstructure:"rate_window_ms"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"`
}

// PolitenessConfig governs robots.txt handling.
type PolitenessConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	RobotsTimeoutSec    int    `mapstructure:"robots_timeout_seconds"`
	DefaultCrawlDelayMs int    `mapstructure:"default_crawl_delay_ms"`
}

// RenderConfig configures the headless browser renderer.
type RenderConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int `mapstructure:"settle_delay_ms"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// QueueConfig selects and configures the queue backend.
type QueueConfig struct {
	Driver    string `mapstructure:"driver"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("scheduler.queue_depth", 64)
	v.SetDefault("scheduler.rate_limit", 1)
	v.SetDefault("scheduler.rate_window_ms", 3000)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.backoff_base_ms", 5000)
	v.SetDefault("scheduler.backoff_max_ms", 60000)
	v.SetDefault("politeness.user_agent", "quarry-bot/1.0")
	v.SetDefault("politeness.robots_timeout_seconds", 10)
	v.SetDefault("politeness.default_crawl_delay_ms", 5000)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.nav_timeout_seconds", 30)
	v.SetDefault("render.settle_delay_ms", 2000)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Scheduler.RateLimit <= 0 || c.Scheduler.RateWindowMs <= 0 {
		return fmt.Errorf("scheduler.rate_limit and scheduler.rate_window_ms must be > 0")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be > 0")
	}
	if c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.driver is postgres")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr must be set when queue.driver is redis")
		}
	default:
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}
	return nil
}

// RateWindow converts the window knob to a duration.
func (c SchedulerConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowMs) * time.Millisecond
}

// BackoffBase converts the base backoff knob to a duration.
func (c SchedulerConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffMax converts the backoff cap knob to a duration.
func (c SchedulerConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// RobotsTimeout converts the robots timeout knob to a duration.
func (c PolitenessConfig) RobotsTimeout() time.Duration {
	return time.Duration(c.RobotsTimeoutSec) * time.Second
}

// DefaultCrawlDelay converts the crawl delay knob to a duration.
func (c PolitenessConfig) DefaultCrawlDelay() time.Duration {
	return time.Duration(c.DefaultCrawlDelayMs) * time.Millisecond
}

// NavTimeout converts the navigation timeout knob to a duration.
func (c RenderConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// SettleDelay converts the settle delay knob to a duration.
func (c RenderConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}
