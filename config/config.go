// Package config loads server settings from a YAML file, TINY_* environment
// variables and built-in defaults, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TINY_SERVER_WORKERS.
const EnvPrefix = "TINY"

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Static  StaticConfig  `mapstructure:"static" yaml:"static"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Stats   StatsConfig   `mapstructure:"stats" yaml:"stats"`
}

// ServerConfig covers the acceptor, the worker pool and per-connection
// limits.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	QueueWait       time.Duration `mapstructure:"queue_wait" yaml:"queue_wait"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	MaxHeaders      int           `mapstructure:"max_headers" yaml:"max_headers"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig selects the slog handler and level.
type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	AddSource bool   `mapstructure:"add_source" yaml:"add_source"`
}

// StaticConfig serves Dir under Prefix. An empty Prefix disables it.
type StaticConfig struct {
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

type StatsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Load reads path (optional) and the environment. An empty path searches
// ./tiny-server.yaml and /etc/tiny-server/tiny-server.yaml; a missing file
// there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Default settings
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tiny-server")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tiny-server/")
	}

	// Environment variable settings
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not unmarshal: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:7878")
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.poll_interval", "5ms")
	v.SetDefault("server.queue_wait", "24h")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.max_headers", 100)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.add_source", false)

	v.SetDefault("static.prefix", "")
	v.SetDefault("static.dir", "public")
	v.SetDefault("static.cache_ttl", "0s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "tiny_server")

	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.path", "/_internal/stats")
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.Workers < 1 {
		errs = append(errs, fmt.Errorf("server.workers must be at least 1, got %d", c.Server.Workers))
	}
	for name, d := range map[string]time.Duration{
		"server.poll_interval":    c.Server.PollInterval,
		"server.queue_wait":       c.Server.QueueWait,
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"static.cache_ttl":        c.Static.CacheTTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must not be negative, got %d", c.Server.MaxBodyBytes))
	}
	if c.Static.Prefix != "" && c.Static.Dir == "" {
		errs = append(errs, errors.New("static.dir is required when static.prefix is set"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path))
	}
	if c.Stats.Enabled && !strings.HasPrefix(c.Stats.Path, "/") {
		errs = append(errs, fmt.Errorf("stats.path must start with '/', got %q", c.Stats.Path))
	}
	return errors.Join(errs...)
}

// SlogLevel maps Level to a slog.Level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
