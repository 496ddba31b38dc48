// Package config loads and validates the engine configuration. Validation
// failures are fatal at startup and nowhere else.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend types accepted in the backends section.
const (
	BackendPrometheus = "prometheus"
	BackendPostgres   = "postgres"
	BackendRedis      = "redis"
)

// ConfigurationError is a fatal startup-time configuration problem.
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Detail)
}

// BackendConfig declares one metric/event backend.
type BackendConfig struct {
	// Name is the identifier rules reference.
	Name string `yaml:"name"`

	// Type is one of: prometheus | postgres | redis.
	Type string `yaml:"type"`

	// Address is the server address (prometheus base URL, redis host:port).
	// Postgres backends reuse the engine database handle.
	Address string `yaml:"address"`

	// Table overrides the samples table for postgres backends.
	Table string `yaml:"table"`

	// Stream overrides the event stream key for redis backends.
	Stream string `yaml:"stream"`

	// Timeout bounds every query; unreachable within it counts as
	// backend-unavailable.
	Timeout time.Duration `yaml:"timeout"`
}

// CycleConfig controls the evaluation scheduler.
type CycleConfig struct {
	// Spec is the cycle cadence in cron syntax (default "@every 1m").
	Spec string `yaml:"spec"`

	// Workers bounds concurrent alarm evaluations.
	Workers int `yaml:"workers"`

	// Cadence is the re-evaluation interval for alarms without their own
	// granularity.
	Cadence time.Duration `yaml:"cadence"`

	// Grace is the shutdown drain deadline.
	Grace time.Duration `yaml:"grace"`

	// DefaultSeriesBackend and DefaultEventsBackend name the backends used
	// by rules that do not pick one.
	DefaultSeriesBackend string `yaml:"default_series_backend"`
	DefaultEventsBackend string `yaml:"default_events_backend"`

	// PartialPolicy is strict | decisive, governing combination alarms
	// with mixed child states.
	PartialPolicy string `yaml:"partial_policy"`
}

// NotifyConfig controls notification dispatch.
type NotifyConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// AMQPURLEnv names the environment variable holding the broker URL.
	// Empty disables the amqp sink.
	AMQPURLEnv string `yaml:"amqp_url_env"`

	// Grace is the shutdown drain deadline for in-flight sends.
	Grace time.Duration `yaml:"grace"`
}

// Config is the engine configuration.
type Config struct {
	// DatabaseURLEnv names the environment variable holding the alarm
	// store DSN (default DATABASE_URL).
	DatabaseURLEnv string `yaml:"database_url_env"`

	// HTTPAddr serves the metrics endpoint.
	HTTPAddr string `yaml:"http_addr"`

	Backends []BackendConfig `yaml:"backends"`
	Cycle    CycleConfig     `yaml:"cycle"`
	Notify   NotifyConfig    `yaml:"notify"`
}

// DatabaseURL resolves the store DSN from the environment.
func (c Config) DatabaseURL() string {
	key := c.DatabaseURLEnv
	if key == "" {
		key = "DATABASE_URL"
	}
	return os.Getenv(key)
}

// AMQPURL resolves the broker URL from the environment, empty when the
// amqp sink is disabled.
func (c Config) AMQPURL() string {
	if c.Notify.AMQPURLEnv == "" {
		return ""
	}
	return os.Getenv(c.Notify.AMQPURLEnv)
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates configuration bytes.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Cycle.Spec == "" {
		c.Cycle.Spec = "@every 1m"
	}
	if c.Cycle.Workers == 0 {
		c.Cycle.Workers = 8
	}
	if c.Cycle.Cadence == 0 {
		c.Cycle.Cadence = time.Minute
	}
	if c.Cycle.Grace == 0 {
		c.Cycle.Grace = 30 * time.Second
	}
	if c.Cycle.PartialPolicy == "" {
		c.Cycle.PartialPolicy = "strict"
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
	if c.Notify.Workers == 0 {
		c.Notify.Workers = 4
	}
	if c.Notify.MaxAttempts == 0 {
		c.Notify.MaxAttempts = 3
	}
	if c.Notify.InitialBackoff == 0 {
		c.Notify.InitialBackoff = 500 * time.Millisecond
	}
	if c.Notify.MaxBackoff == 0 {
		c.Notify.MaxBackoff = 30 * time.Second
	}
	if c.Notify.Grace == 0 {
		c.Notify.Grace = 10 * time.Second
	}
	for i := range c.Backends {
		if c.Backends[i].Timeout == 0 {
			c.Backends[i].Timeout = 10 * time.Second
		}
	}
}

// Validate checks startup invariants.
func (c Config) Validate() error {
	if c.Cycle.Workers < 1 {
		return &ConfigurationError{Field: "cycle.workers", Detail: "must be >= 1"}
	}
	if c.Cycle.PartialPolicy != "strict" && c.Cycle.PartialPolicy != "decisive" {
		return &ConfigurationError{Field: "cycle.partial_policy", Detail: "must be strict or decisive"}
	}
	if c.Notify.MaxAttempts < 1 {
		return &ConfigurationError{Field: "notify.max_attempts", Detail: "must be >= 1"}
	}
	if len(c.Backends) == 0 {
		return &ConfigurationError{Field: "backends", Detail: "at least one backend is required"}
	}
	names := make(map[string]bool, len(c.Backends))
	for i, backend := range c.Backends {
		field := fmt.Sprintf("backends[%d]", i)
		if backend.Name == "" {
			return &ConfigurationError{Field: field + ".name", Detail: "required"}
		}
		if names[backend.Name] {
			return &ConfigurationError{Field: field + ".name", Detail: "duplicate backend name " + backend.Name}
		}
		names[backend.Name] = true
		switch backend.Type {
		case BackendPrometheus, BackendRedis:
			if backend.Address == "" {
				return &ConfigurationError{Field: field + ".address", Detail: "required for " + backend.Type}
			}
		case BackendPostgres:
		default:
			return &ConfigurationError{Field: field + ".type", Detail: "unknown backend type " + backend.Type}
		}
	}
	if c.Cycle.DefaultSeriesBackend != "" && !names[c.Cycle.DefaultSeriesBackend] {
		return &ConfigurationError{Field: "cycle.default_series_backend", Detail: "unknown backend " + c.Cycle.DefaultSeriesBackend}
	}
	if c.Cycle.DefaultEventsBackend != "" && !names[c.Cycle.DefaultEventsBackend] {
		return &ConfigurationError{Field: "cycle.default_events_backend", Detail: "unknown backend " + c.Cycle.DefaultEventsBackend}
	}
	return nil
}
