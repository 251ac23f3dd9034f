// Package config resolves toolmesh settings and per-server connection
// parameters from a config file and TOOLMESH_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "TOOLMESH"

// Defaults
const (
	DefaultTimeout                = 30 * time.Second
	DefaultMaxRetries             = 0
	DefaultDevPort                = 8080
	DefaultHealthInterval         = 30 * time.Second
	DefaultHealthTimeout          = 5 * time.Second
	DefaultMaxConsecutiveFailures = 3
	DefaultHistoryRetention       = 7 * 24 * time.Hour
	DefaultMetricsNamespace       = "toolmesh"
)

// Config is the process-wide configuration. Per-server settings are read
// through a Resolver rather than from this struct, so servers declared only
// in the environment are found too.
type Config struct {
	Strict  bool          `mapstructure:"strict"`
	Catalog string        `mapstructure:"catalog"`
	Health  HealthConfig  `mapstructure:"health"`
	History HistoryConfig `mapstructure:"history"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// HealthConfig health monitor settings
type HealthConfig struct {
	Interval               time.Duration `mapstructure:"interval"`
	Schedule               string        `mapstructure:"schedule"` // cron spec, overrides interval
	Timeout                time.Duration `mapstructure:"timeout"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
}

// HistoryConfig execution history settings
type HistoryConfig struct {
	DSN       string        `mapstructure:"dsn"`
	Retention time.Duration `mapstructure:"retention"`
}

// LogConfig logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig prometheus settings
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Addr      string `mapstructure:"addr"`
}

// TracingConfig OpenTelemetry settings
type TracingConfig struct {
	Exporter   string  `mapstructure:"exporter"` // otlp-grpc, otlp-http or none
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("strict", true)
	v.SetDefault("catalog", "")
	v.SetDefault("health.interval", DefaultHealthInterval)
	v.SetDefault("health.schedule", "")
	v.SetDefault("health.timeout", DefaultHealthTimeout)
	v.SetDefault("health.max_consecutive_failures", DefaultMaxConsecutiveFailures)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.retention", DefaultHistoryRetention)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_rate", 1.0)
}

// NewViper returns a viper instance bound to the TOOLMESH environment.
// path may be empty, in which case only the environment is consulted.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads the config file at path (optional) and the environment.
func Load(path string) (*Config, *Resolver, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates a prepared viper instance.
func FromViper(v *viper.Viper) (*Config, *Resolver, error) {
	setDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, NewResolver(v, cfg.Strict), nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Validate checks that values are within acceptable ranges and fills zero
// values with defaults.
func (c *Config) Validate() error {
	if c.Health.Interval < 0 {
		return fmt.Errorf("health.interval must not be negative, got %s", c.Health.Interval)
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = DefaultHealthTimeout
	}
	if c.Health.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("health.max_consecutive_failures must not be negative, got %d", c.Health.MaxConsecutiveFailures)
	}
	if c.Health.MaxConsecutiveFailures == 0 {
		c.Health.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}

	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative, got %s", c.History.Retention)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch level {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error", "fatal":
		c.Log.Level = level
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, fatal; got %q", c.Log.Level)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json; got %q", c.Log.Format)
	}

	if strings.TrimSpace(c.Metrics.Namespace) == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}

	switch c.Tracing.Exporter {
	case "", "none", "otlp-grpc", "otlp-http":
	default:
		return fmt.Errorf("tracing.exporter must be none, otlp-grpc or otlp-http; got %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %f", c.Tracing.SampleRate)
	}

	return nil
}
