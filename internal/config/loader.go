package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MATCHD_INGRESS_CAPACITY.
const EnvPrefix = "MATCHD"

// Load reads configuration from path (optional), then environment variables,
// on top of defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v)
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures viper settings
func setupViper(v *viper.Viper) {
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("instrument.symbol", "BTC-USD")
	v.SetDefault("instrument.tick_size", "0.01")

	v.SetDefault("ingress.capacity", 4096)
	v.SetDefault("ingress.policy", "block")

	v.SetDefault("engine.poll_timeout", 50*time.Millisecond)
	v.SetDefault("engine.drain_on_stop", true)
	v.SetDefault("engine.check_invariants", false)
	v.SetDefault("engine.stop_timeout", 10*time.Second)

	v.SetDefault("fills.capacity", 8192)
	v.SetDefault("fills.policy", "block")

	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.redis.addr", "")
	v.SetDefault("idempotency.redis.password", "")
	v.SetDefault("idempotency.redis.db", 0)
	v.SetDefault("idempotency.redis.prefix", "matchd:idem:")
	v.SetDefault("idempotency.redis.ttl", time.Duration(0))
	v.SetDefault("idempotency.redis.op_timeout", 250*time.Millisecond)
	v.SetDefault("idempotency.badger.path", "")

	v.SetDefault("publisher.kind", "log")
	v.SetDefault("publisher.batch_size", 64)
	v.SetDefault("publisher.timeout", 5*time.Second)
	v.SetDefault("publisher.kafka.brokers", []string{})
	v.SetDefault("publisher.kafka.topic", "matchd.fills")
	v.SetDefault("publisher.kafka.batch_timeout", 5*time.Millisecond)
	v.SetDefault("publisher.kafka.compression", "snappy")

	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("metrics.path", "/metrics")
}

var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if _, err := cfg.TickSize(); err != nil {
		return err
	}
	if cfg.Idempotency.Backend == "redis" && cfg.Idempotency.Redis.Addr == "" {
		return errors.New("idempotency backend redis requires idempotency.redis.addr")
	}
	if cfg.Publisher.Kind == "kafka" {
		if len(cfg.Publisher.Kafka.Brokers) == 0 {
			return errors.New("publisher kafka requires publisher.kafka.brokers")
		}
		if cfg.Publisher.Kafka.Topic == "" {
			return errors.New("publisher kafka requires publisher.kafka.topic")
		}
	}
	return nil
}
