package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/trading/fillsink"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderqueue"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "BTC-USD", cfg.Instrument.Symbol)
	assert.Equal(t, 4096, cfg.Ingress.Capacity)
	assert.Equal(t, "block", cfg.Ingress.Policy)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.PollTimeout)
	assert.True(t, cfg.Engine.DrainOnStop)
	assert.Equal(t, "memory", cfg.Idempotency.Backend)
	assert.Equal(t, "log", cfg.Publisher.Kind)

	tick, err := cfg.TickSize()
	require.NoError(t, err)
	assert.True(t, tick.Equal(decimal.New(1, -2)))
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
instrument:
  symbol: ETH-USD
  tick_size: "0.05"
ingress:
  capacity: 128
  policy: reject
engine:
  poll_timeout: 10ms
  drain_on_stop: false
  check_invariants: true
fills:
  policy: drop
publisher:
  kind: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
    topic: eth.fills
`)
	t.Setenv("MATCHD_INGRESS_CAPACITY", "256")
	t.Setenv("MATCHD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ETH-USD", cfg.Instrument.Symbol)
	assert.Equal(t, 256, cfg.Ingress.Capacity)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Publisher.Kafka.Brokers)

	ec, err := cfg.EngineSettings()
	require.NoError(t, err)
	assert.Equal(t, "ETH-USD", ec.Symbol)
	assert.Equal(t, 256, ec.IngressCapacity)
	assert.Equal(t, orderqueue.PolicyReject, ec.IngressPolicy)
	assert.Equal(t, fillsink.PolicyDrop, ec.FillPolicy)
	assert.Equal(t, 10*time.Millisecond, ec.PollTimeout)
	assert.False(t, ec.DrainOnStop)
	assert.True(t, ec.CheckInvariants)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "idempotency:\n  backend: etcd\n"},
		{"redis without addr", "idempotency:\n  backend: redis\n"},
		{"kafka without brokers", "publisher:\n  kind: kafka\n"},
		{"zero tick", "instrument:\n  tick_size: \"0\"\n"},
		{"bad tick", "instrument:\n  tick_size: abc\n"},
		{"bad policy", "ingress:\n  policy: spill\n"},
		{"zero capacity", "fills:\n  capacity: 0\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfig_YAMLReloads(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Instrument.Symbol = "SOL-USD"
	cfg.Engine.PollTimeout = 7 * time.Millisecond
	cfg.Idempotency.Redis.Password = "secret"

	data, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.Equal(t, "secret", cfg.Idempotency.Redis.Password)

	again, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, "SOL-USD", again.Instrument.Symbol)
	assert.Equal(t, 7*time.Millisecond, again.Engine.PollTimeout)
	assert.Equal(t, cfg.Ingress, again.Ingress)
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "matchd.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Idempotency.Backend)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Publisher.Kafka.Brokers)
	assert.Zero(t, cfg.Idempotency.Redis.TTL)
}

func TestLoad_RedisTTL(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Zero(t, cfg.Idempotency.Redis.TTL, "admitted keys are kept forever by default")

	cfg, err = Load(writeConfig(t, "idempotency:\n  redis:\n    ttl: 1h\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Idempotency.Redis.TTL)

	_, err = Load(writeConfig(t, "idempotency:\n  redis:\n    ttl: -1s\n"))
	assert.Error(t, err)
}
