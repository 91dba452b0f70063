// Package config loads road-router settings from YAML with environment
// overrides and watches the file for engine tunable changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/road-router/core"
	"github.com/signalsfoundry/road-router/internal/logging"
	"github.com/signalsfoundry/road-router/internal/observability"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROADROUTER_"

// Config is the root configuration document.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Simulation SimulationConfig `yaml:"simulation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// EngineConfig holds the routing tunables. These may change between ticks.
type EngineConfig struct {
	Policy       string  `yaml:"policy"`
	LookaheadMin float64 `yaml:"lookahead_min"`
	Workers      int     `yaml:"workers"`
}

// SimulationConfig drives the host loop.
type SimulationConfig struct {
	Tick        time.Duration `yaml:"tick"`
	Duration    time.Duration `yaml:"duration"`
	Accelerated bool          `yaml:"accelerated"`
	StallTicks  int           `yaml:"stall_ticks"`
	// DeadlineSlack scales the free-flow travel time when a vehicle has no
	// deadline of its own: deadline = travel * (1 + slack).
	DeadlineSlack float64 `yaml:"deadline_slack"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Policy:       core.PolicyCongestionAware,
			LookaheadMin: core.LookaheadMin,
			Workers:      runtime.GOMAXPROCS(0),
		},
		Simulation: SimulationConfig{
			Tick:          time.Second,
			Duration:      5 * time.Minute,
			Accelerated:   true,
			StallTicks:    10,
			DeadlineSlack: 0.5,
		},
		Metrics: MetricsConfig{Address: ":9090"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			ServiceName: "road-router",
			Exporter:    "stdout",
			SampleRatio: 1.0,
		},
	}
}

// Load reads path, applies environment overrides and validates the result.
// An empty path yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := applyEnvOverrides(&cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return &cfg, nil
	}

	// #nosec G304 -- path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, then applies overrides and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*dst = val
		}
	}
	num := func(name string, dst *float64) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	integer := func(name string, dst *int) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*dst = strings.EqualFold(val, "true")
		}
	}

	str("POLICY", &cfg.Engine.Policy)
	num("LOOKAHEAD_MIN", &cfg.Engine.LookaheadMin)
	integer("WORKERS", &cfg.Engine.Workers)

	duration("TICK", &cfg.Simulation.Tick)
	duration("DURATION", &cfg.Simulation.Duration)
	boolean("ACCELERATED", &cfg.Simulation.Accelerated)
	integer("STALL_TICKS", &cfg.Simulation.StallTicks)
	num("DEADLINE_SLACK", &cfg.Simulation.DeadlineSlack)

	str("METRICS_ADDR", &cfg.Metrics.Address)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	boolean("TRACING_ENABLED", &cfg.Tracing.Enabled)
	str("TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	str("TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	num("TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)

	return errors.Join(errs...)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration: %w", err)
	}
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing configuration: %w", err)
	}
	return nil
}

// Validate fills defaults and rejects unknown policies or negative tunables.
func (c *EngineConfig) Validate() error {
	if strings.TrimSpace(c.Policy) == "" {
		c.Policy = core.PolicyCongestionAware
	}
	switch c.Policy {
	case core.PolicyCongestionAware, core.PolicyShortestPath:
	default:
		return fmt.Errorf("%w: %q", core.ErrUnknownPolicy, c.Policy)
	}
	if c.LookaheadMin < 0 {
		return fmt.Errorf("lookahead_min must be non-negative, got %v", c.LookaheadMin)
	}
	if c.LookaheadMin == 0 {
		c.LookaheadMin = core.LookaheadMin
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return nil
}

// Options converts the engine section into router options.
func (c EngineConfig) Options() []core.Option {
	return []core.Option{
		core.WithLookahead(c.LookaheadMin),
		core.WithWorkers(c.Workers),
	}
}

// Validate rejects non-positive ticks and negative limits.
func (c *SimulationConfig) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", c.Tick)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must be non-negative, got %s", c.Duration)
	}
	if c.StallTicks < 0 {
		return fmt.Errorf("stall_ticks must be non-negative, got %d", c.StallTicks)
	}
	if c.DeadlineSlack < 0 {
		return fmt.Errorf("deadline_slack must be non-negative, got %v", c.DeadlineSlack)
	}
	return nil
}

// Validate checks the level and format names.
func (c *LoggingConfig) Validate() error {
	if _, err := logging.ParseLevel(c.Level); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.Format); err != nil {
		return err
	}
	return nil
}

// Logging converts the section into a logging.Config.
func (c LoggingConfig) Logging() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format}
}

// Validate checks the exporter name and sample ratio.
func (c *TracingConfig) Validate() error {
	return c.Observability().Validate()
}

// Observability converts the section into an observability.TracingConfig.
func (c TracingConfig) Observability() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Enabled,
		ServiceName: c.ServiceName,
		Exporter:    c.Exporter,
		Endpoint:    c.Endpoint,
		SampleRatio: c.SampleRatio,
	}
}
