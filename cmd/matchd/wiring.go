package main

import (
	"context"
	"fmt"

	"github.com/Aidin1998/pincex_matching/internal/config"
	"github.com/Aidin1998/pincex_matching/internal/trading/engine"
	"github.com/Aidin1998/pincex_matching/internal/trading/fillsink"
	"github.com/Aidin1998/pincex_matching/internal/trading/idempotency"
	"github.com/Aidin1998/pincex_matching/internal/trading/messaging"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// buildFilter opens the configured idempotency backend. The returned func
// releases it.
func buildFilter(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Filter, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		return idempotency.NewMemoryFilter(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		f := idempotency.NewRedisFilter(client, idempotency.RedisConfig{
			Prefix:    cfg.Redis.Prefix,
			TTL:       cfg.Redis.TTL,
			OpTimeout: cfg.Redis.OpTimeout,
		}, logger)
		return f, closer(f.Close, "redis", logger), nil
	case "badger":
		f, err := idempotency.NewBadgerFilter(cfg.Badger.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return f, closer(f.Close, "badger", logger), nil
	}
	return nil, nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
}

func closer(fn func() error, name string, logger *zap.Logger) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Warn("Failed to close idempotency backend", zap.String("backend", name), zap.Error(err))
		}
	}
}

// buildPublisher creates the downstream sink for forwarded fills.
func buildPublisher(cfg *config.Config, tick decimal.Decimal, logger *zap.Logger) (fillsink.Publisher, error) {
	switch cfg.Publisher.Kind {
	case "", "log":
		return fillsink.NewLogPublisher(logger), nil
	case "kafka":
		kc := messaging.DefaultKafkaConfig()
		kc.Brokers = cfg.Publisher.Kafka.Brokers
		kc.Topic = cfg.Publisher.Kafka.Topic
		kc.Symbol = cfg.Instrument.Symbol
		kc.TickSize = tick
		if cfg.Publisher.Kafka.BatchTimeout > 0 {
			kc.BatchTimeout = cfg.Publisher.Kafka.BatchTimeout
		}
		if cfg.Publisher.Kafka.Compression != "" {
			kc.Compression = cfg.Publisher.Kafka.Compression
		}
		p, err := messaging.NewKafkaPublisher(kc, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown publisher kind %q", cfg.Publisher.Kind)
}

type demoOrder struct {
	side  model.Side
	price string
	qty   int64
	owner string
}

// runDemo submits a small crossing sequence and logs the resulting book.
func runDemo(ctx context.Context, eng *engine.Engine, tick decimal.Decimal, logger *zap.Logger) error {
	orders := []demoOrder{
		{model.Buy, "100.00", 10, "demo-u1"},
		{model.Sell, "101.00", 5, "demo-u2"},
		{model.Buy, "101.00", 3, "demo-u3"},
		{model.Sell, "99.00", 15, "demo-u4"},
	}
	for _, o := range orders {
		price, err := model.ToTicks(decimal.RequireFromString(o.price), tick)
		if err != nil {
			return err
		}
		id, err := eng.Submit(ctx, engine.SubmitRequest{
			Side:           o.side,
			Price:          price,
			Quantity:       o.qty,
			IdempotencyKey: uuid.NewString(),
			OwnerID:        o.owner,
		})
		if err != nil {
			return fmt.Errorf("demo submit: %w", err)
		}
		logger.Info("Demo order submitted",
			zap.Uint64("order_id", id),
			zap.Stringer("side", o.side),
			zap.String("price", o.price),
			zap.Int64("quantity", o.qty),
		)
	}

	depth, err := eng.Snapshot(ctx, 5)
	if err != nil {
		return err
	}
	for _, lvl := range depth.Bids {
		logger.Info("Demo book bid", zap.String("price", model.FromTicks(lvl.Price, tick).String()), zap.Int64("quantity", lvl.Quantity))
	}
	for _, lvl := range depth.Asks {
		logger.Info("Demo book ask", zap.String("price", model.FromTicks(lvl.Price, tick).String()), zap.Int64("quantity", lvl.Quantity))
	}
	return nil
}
