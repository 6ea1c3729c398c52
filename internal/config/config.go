package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/amqpmock-go/internal/logger"
	"github.com/rmacdonaldsmith/amqpmock-go/internal/pattern"
	"github.com/rmacdonaldsmith/amqpmock-go/internal/topology"
)

// EnvPrefix prefixes every environment variable read by Load,
// e.g. AMQPMOCK_LOG_LEVEL or AMQPMOCK_TOPOLOGY_TAG_STRATEGY.
const EnvPrefix = "AMQPMOCK"

var (
	// ErrInvalidTagStrategy is returned for an unknown consumer tag strategy
	ErrInvalidTagStrategy = errors.New("invalid consumer tag strategy")
	// ErrInvalidCacheTTL is returned when the pattern cache TTL is not positive
	ErrInvalidCacheTTL = errors.New("pattern cache TTL must be positive")
	// ErrInvalidCacheCapacity is returned when the pattern cache capacity is zero
	ErrInvalidCacheCapacity = errors.New("pattern cache capacity must be positive")
	// ErrInvalidLogFormat is returned for a log format other than json or console
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// Config represents configuration for a Broker
type Config struct {
	Logger   logger.Config  `yaml:"logger" envconfig:"LOG"`
	Topology TopologyConfig `yaml:"topology" envconfig:"TOPOLOGY"`
}

// TopologyConfig configures the topology store
type TopologyConfig struct {
	// TagStrategy selects how consumer tags are generated: "uuid" or "counter"
	TagStrategy string `yaml:"tag_strategy" split_words:"true"`

	// TagPrefix is prepended to every generated consumer tag
	TagPrefix string `yaml:"tag_prefix" split_words:"true"`

	// PatternCacheTTL is how long an unused compiled binding key stays cached
	PatternCacheTTL time.Duration `yaml:"pattern_cache_ttl" split_words:"true"`

	// PatternCacheCapacity bounds the number of cached compiled binding keys
	PatternCacheCapacity uint64 `yaml:"pattern_cache_capacity" split_words:"true"`
}

// NewConfig creates a new configuration with safe defaults
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields with default values
func (c *Config) SetDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = logger.FormatJSON
	}
	if c.Logger.OutputPath == "" {
		c.Logger.OutputPath = "stdout"
	}
	if c.Topology.TagStrategy == "" {
		c.Topology.TagStrategy = topology.TagStrategyUUID
	}
	if c.Topology.TagPrefix == "" {
		c.Topology.TagPrefix = topology.DefaultTagPrefix
	}
	if c.Topology.PatternCacheTTL == 0 {
		c.Topology.PatternCacheTTL = pattern.DefaultCacheTTL
	}
	if c.Topology.PatternCacheCapacity == 0 {
		c.Topology.PatternCacheCapacity = pattern.DefaultCacheCapacity
	}
}

// Validate validates the configuration and returns every problem found
func (c *Config) Validate() error {
	var err error

	if _, levelErr := zapcore.ParseLevel(c.Logger.Level); levelErr != nil {
		err = multierr.Append(err, fmt.Errorf("invalid log level: %w", levelErr))
	}
	switch c.Logger.Format {
	case logger.FormatJSON, logger.FormatConsole:
	default:
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logger.Format))
	}

	switch c.Topology.TagStrategy {
	case topology.TagStrategyUUID, topology.TagStrategyCounter:
	default:
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrInvalidTagStrategy, c.Topology.TagStrategy))
	}
	if c.Topology.PatternCacheTTL <= 0 {
		err = multierr.Append(err, ErrInvalidCacheTTL)
	}
	if c.Topology.PatternCacheCapacity == 0 {
		err = multierr.Append(err, ErrInvalidCacheCapacity)
	}

	return err
}

// WithLogLevel sets the log level
func (c *Config) WithLogLevel(level string) *Config {
	c.Logger.Level = level
	return c
}

// WithLogFormat sets the log format
func (c *Config) WithLogFormat(format string) *Config {
	c.Logger.Format = format
	return c
}

// WithTagStrategy sets the consumer tag strategy
func (c *Config) WithTagStrategy(strategy string) *Config {
	c.Topology.TagStrategy = strategy
	return c
}

// WithTagPrefix sets the consumer tag prefix
func (c *Config) WithTagPrefix(prefix string) *Config {
	c.Topology.TagPrefix = prefix
	return c
}

// WithPatternCache sets the compiled pattern cache TTL and capacity
func (c *Config) WithPatternCache(ttl time.Duration, capacity uint64) *Config {
	c.Topology.PatternCacheTTL = ttl
	c.Topology.PatternCacheCapacity = capacity
	return c
}

// Load builds a configuration from defaults, then the YAML file at path
// (skipped when path is empty), then AMQPMOCK_* environment variables.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile decodes a YAML file over cfg, rejecting unknown fields
func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
