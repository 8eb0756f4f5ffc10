package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("kafka publisher is closed")

// FillEvent is the wire form of a fill.
type FillEvent struct {
	EventID      string    `json:"event_id"`
	Symbol       string    `json:"symbol"`
	Seq          uint64    `json:"seq"`
	MakerOrderID uint64    `json:"maker_order_id"`
	TakerOrderID uint64    `json:"taker_order_id"`
	MakerOwner   string    `json:"maker_owner,omitempty"`
	TakerOwner   string    `json:"taker_owner,omitempty"`
	TakerSide    string    `json:"taker_side"`
	Price        string    `json:"price"`
	PriceTicks   int64     `json:"price_ticks"`
	Quantity     int64     `json:"quantity"`
	PublishedAt  time.Time `json:"published_at"`
}

// NewFillEvent converts a fill into its wire form. Prices leave the engine
// as decimal strings: ticks multiplied by tickSize.
func NewFillEvent(symbol string, tickSize decimal.Decimal, f model.Fill, now time.Time) FillEvent {
	return FillEvent{
		EventID:      uuid.NewString(),
		Symbol:       symbol,
		Seq:          f.Seq,
		MakerOrderID: f.MakerID,
		TakerOrderID: f.TakerID,
		MakerOwner:   f.MakerOwner,
		TakerOwner:   f.TakerOwner,
		TakerSide:    f.TakerSide.String(),
		Price:        model.FromTicks(f.Price, tickSize).String(),
		PriceTicks:   f.Price,
		Quantity:     f.Quantity,
		PublishedAt:  now.UTC(),
	}
}

// KafkaConfig contains configuration options for KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Symbol       string
	TickSize     decimal.Decimal
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
	Compression  string
	RetryMax     int
}

// DefaultKafkaConfig returns low-latency writer settings.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Topic:        "matchd.fills",
		TickSize:     decimal.New(1, -2),
		BatchSize:    100,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: time.Second,
		RequiredAcks: 1, // leader ack only
		Compression:  "snappy",
		RetryMax:     3,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes fills to a Kafka topic, one JSON message per fill,
// keyed by taker order id.
type KafkaPublisher struct {
	cfg    KafkaConfig
	writer messageWriter
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher builds a publisher with a synchronous kafka-go writer.
// The writer connects lazily on first write.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: no topic configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.RetryMax,
		Async:        false,
	}
	switch cfg.Compression {
	case "gzip":
		w.Compression = kafka.Gzip
	case "lz4":
		w.Compression = kafka.Lz4
	case "zstd":
		w.Compression = kafka.Zstd
	case "none":
	default:
		w.Compression = kafka.Snappy
	}
	return newKafkaPublisher(cfg, w, logger), nil
}

func newKafkaPublisher(cfg KafkaConfig, w messageWriter, logger *zap.Logger) *KafkaPublisher {
	if cfg.TickSize.IsZero() {
		cfg.TickSize = DefaultKafkaConfig().TickSize
	}
	return &KafkaPublisher{
		cfg:    cfg,
		writer: w,
		logger: logger.Named("kafka"),
		now:    time.Now,
	}
}

// Publish writes one batch of fills. The batch is written in order in a
// single WriteMessages call.
func (p *KafkaPublisher) Publish(ctx context.Context, fills []model.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	now := p.now()
	msgs := make([]kafka.Message, 0, len(fills))
	for _, f := range fills {
		msg, err := p.message(f, now)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("Failed to publish fills to Kafka",
			zap.String("topic", p.cfg.Topic),
			zap.Int("count", len(msgs)),
			zap.Uint64("first_seq", fills[0].Seq),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish fills to kafka topic %s: %w", p.cfg.Topic, err)
	}
	p.logger.Debug("Published fills",
		zap.String("topic", p.cfg.Topic),
		zap.Int("count", len(msgs)),
	)
	return nil
}

func (p *KafkaPublisher) message(f model.Fill, now time.Time) (kafka.Message, error) {
	ev := NewFillEvent(p.cfg.Symbol, p.cfg.TickSize, f, now)
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding fill %d: %w", f.Seq, err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(f.TakerID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte("matchd")},
			{Key: "symbol", Value: []byte(p.cfg.Symbol)},
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "seq", Value: []byte(strconv.FormatUint(f.Seq, 10))},
			{Key: "timestamp", Value: []byte(ev.PublishedAt.Format(time.RFC3339Nano))},
		},
		Time: now,
	}, nil
}

// Close flushes and closes the writer. Safe to call more than once.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Error closing Kafka writer", zap.Error(err))
		return err
	}
	return nil
}
