// Package config loads matchd settings from YAML, environment variables and
// defaults, and validates them before anything is started.
package config

import (
	"fmt"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/trading/engine"
	"github.com/Aidin1998/pincex_matching/internal/trading/fillsink"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderqueue"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full matchd configuration
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Instrument  InstrumentConfig  `mapstructure:"instrument" yaml:"instrument"`
	Ingress     IngressConfig     `mapstructure:"ingress" yaml:"ingress"`
	Engine      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	Fills       FillsConfig       `mapstructure:"fills" yaml:"fills"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency" yaml:"idempotency"`
	Publisher   PublisherConfig   `mapstructure:"publisher" yaml:"publisher"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=json console"`
}

// InstrumentConfig describes the single instrument this process matches.
// TickSize is a decimal string; book prices are integer multiples of it.
type InstrumentConfig struct {
	Symbol   string `mapstructure:"symbol" yaml:"symbol" validate:"required"`
	TickSize string `mapstructure:"tick_size" yaml:"tick_size" validate:"required"`
}

// IngressConfig represents the order ingress queue
type IngressConfig struct {
	Capacity int    `mapstructure:"capacity" yaml:"capacity" validate:"min=1"`
	Policy   string `mapstructure:"policy" yaml:"policy" validate:"oneof=block reject"`
}

// EngineConfig represents matching loop settings
type EngineConfig struct {
	PollTimeout     time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout" validate:"required"`
	DrainOnStop     bool          `mapstructure:"drain_on_stop" yaml:"drain_on_stop"`
	CheckInvariants bool          `mapstructure:"check_invariants" yaml:"check_invariants"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout" validate:"required"`
}

// FillsConfig represents the outbound fill queue
type FillsConfig struct {
	Capacity int    `mapstructure:"capacity" yaml:"capacity" validate:"min=1"`
	Policy   string `mapstructure:"policy" yaml:"policy" validate:"oneof=block drop"`
}

// IdempotencyConfig selects where admitted idempotency keys live
type IdempotencyConfig struct {
	Backend string            `mapstructure:"backend" yaml:"backend" validate:"oneof=memory redis badger"`
	Redis   RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Badger  BadgerStoreConfig `mapstructure:"badger" yaml:"badger"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db" validate:"min=0"`
	Prefix    string        `mapstructure:"prefix" yaml:"prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"min=0s"` // 0 keeps keys forever
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`
}

// BadgerStoreConfig represents the on-disk key store. An empty path keeps it in memory.
type BadgerStoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PublisherConfig selects where forwarded fills go
type PublisherConfig struct {
	Kind      string        `mapstructure:"kind" yaml:"kind" validate:"oneof=log kafka"`
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size" validate:"min=1"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"required"`
	Kafka     KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaConfig represents Kafka configuration
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	Compression  string        `mapstructure:"compression" yaml:"compression" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
}

// MetricsConfig represents the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	Path string `mapstructure:"path" yaml:"path"`
}

// TickSize parses Instrument.TickSize.
func (c *Config) TickSize() (decimal.Decimal, error) {
	tick, err := decimal.NewFromString(c.Instrument.TickSize)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid tick size %q: %w", c.Instrument.TickSize, err)
	}
	if !tick.IsPositive() {
		return decimal.Zero, fmt.Errorf("tick size must be positive, got %s", tick)
	}
	return tick, nil
}

// EngineSettings converts the loaded values into engine.Config.
func (c *Config) EngineSettings() (engine.Config, error) {
	ingressPolicy, err := orderqueue.ParsePolicy(c.Ingress.Policy)
	if err != nil {
		return engine.Config{}, err
	}
	fillPolicy, err := fillsink.ParsePolicy(c.Fills.Policy)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Symbol:          c.Instrument.Symbol,
		IngressCapacity: c.Ingress.Capacity,
		IngressPolicy:   ingressPolicy,
		FillCapacity:    c.Fills.Capacity,
		FillPolicy:      fillPolicy,
		PollTimeout:     c.Engine.PollTimeout,
		DrainOnStop:     c.Engine.DrainOnStop,
		CheckInvariants: c.Engine.CheckInvariants,
	}, nil
}

// YAML renders the effective configuration, e.g. for -print-config. The
// Redis password is masked.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.Idempotency.Redis.Password != "" {
		out.Idempotency.Redis.Password = "******"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}
