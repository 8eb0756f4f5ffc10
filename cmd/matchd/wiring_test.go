package main

import (
	"context"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/config"
	"github.com/Aidin1998/pincex_matching/internal/trading/engine"
	"github.com/Aidin1998/pincex_matching/internal/trading/fillsink"
	"github.com/Aidin1998/pincex_matching/internal/trading/idempotency"
	"github.com/Aidin1998/pincex_matching/internal/trading/messaging"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildFilter(t *testing.T) {
	f, closeFn, err := buildFilter(config.IdempotencyConfig{Backend: "memory"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &idempotency.MemoryFilter{}, f)
	closeFn()

	f, closeFn, err = buildFilter(config.IdempotencyConfig{Backend: "badger"}, zap.NewNop())
	require.NoError(t, err)
	ok, err := f.Admit("k")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.Admit("k")
	require.NoError(t, err)
	assert.False(t, ok)
	closeFn()

	_, _, err = buildFilter(config.IdempotencyConfig{Backend: "etcd"}, zap.NewNop())
	assert.Error(t, err)
}

func TestBuildPublisher(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	tick := decimal.New(1, -2)

	p, err := buildPublisher(cfg, tick, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &fillsink.LogPublisher{}, p)

	cfg.Publisher.Kind = "kafka"
	cfg.Publisher.Kafka.Brokers = []string{"127.0.0.1:9092"}
	p, err = buildPublisher(cfg, tick, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &messaging.KafkaPublisher{}, p)
	assert.NoError(t, p.Close())
}

func TestRunDemo(t *testing.T) {
	eng := engine.New(engine.DefaultConfig(), nil, nil, zap.NewNop())
	require.NoError(t, eng.Start())

	var fills []model.Fill
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for f := range eng.Fills() {
			fills = append(fills, f)
		}
	}()

	require.NoError(t, runDemo(context.Background(), eng, decimal.New(1, -2), zap.NewNop()))

	bid, ok := eng.BestBid()
	assert.False(t, ok, "bid %d should have been consumed", bid)
	ask, ok := eng.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(9900), ask)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Stop(ctx))
	<-collected

	require.Len(t, fills, 2)
	assert.Equal(t, model.Fill{Seq: 1, MakerID: 2, TakerID: 3, MakerOwner: "demo-u2", TakerOwner: "demo-u3", TakerSide: model.Buy, Price: 10100, Quantity: 3}, fills[0])
	assert.Equal(t, int64(10000), fills[1].Price)
	assert.Equal(t, int64(10), fills[1].Quantity)
}
