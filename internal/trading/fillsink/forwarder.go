package fillsink

import (
	"context"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"go.uber.org/zap"
)

// Publisher delivers batches of fills downstream.
type Publisher interface {
	Publish(ctx context.Context, fills []model.Fill) error
	Close() error
}

// Forwarder drains a sink into a Publisher in batches. A failed batch is
// logged and skipped; the forwarder never pushes back on the sink other
// than by reading slowly.
type Forwarder struct {
	src       <-chan model.Fill
	pub       Publisher
	logger    *zap.Logger
	batchSize int
	timeout   time.Duration
}

// NewForwarder creates a forwarder reading from src.
func NewForwarder(src <-chan model.Fill, pub Publisher, batchSize int, timeout time.Duration, logger *zap.Logger) *Forwarder {
	if batchSize <= 0 {
		batchSize = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Forwarder{
		src:       src,
		pub:       pub,
		logger:    logger.Named("forwarder"),
		batchSize: batchSize,
		timeout:   timeout,
	}
}

// Run forwards until src is closed, then closes the publisher. Cancelling
// ctx stops forwarding early; buffered fills are then left unread.
func (f *Forwarder) Run(ctx context.Context) error {
	defer func() {
		if err := f.pub.Close(); err != nil {
			f.logger.Warn("Error closing fill publisher", zap.Error(err))
		}
	}()

	batch := make([]model.Fill, 0, f.batchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fill, ok := <-f.src:
			if !ok {
				return nil
			}
			batch = append(batch[:0], fill)
		}

		// Take whatever else is already buffered, up to batchSize.
	fill:
		for len(batch) < f.batchSize {
			select {
			case more, ok := <-f.src:
				if !ok {
					break fill
				}
				batch = append(batch, more)
			default:
				break fill
			}
		}

		f.flush(ctx, batch)
	}
}

func (f *Forwarder) flush(ctx context.Context, batch []model.Fill) {
	pctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.pub.Publish(pctx, batch); err != nil {
		f.logger.Error("Failed to forward fills",
			zap.Int("count", len(batch)),
			zap.Uint64("first_seq", batch[0].Seq),
			zap.Uint64("last_seq", batch[len(batch)-1].Seq),
			zap.Error(err),
		)
	}
}

// LogPublisher writes each fill as a structured log line.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher logging at Info level.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("fills")}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, fills []model.Fill) error {
	for _, f := range fills {
		p.logger.Info("Fill",
			zap.Uint64("seq", f.Seq),
			zap.Uint64("maker_id", f.MakerID),
			zap.Uint64("taker_id", f.TakerID),
			zap.Stringer("taker_side", f.TakerSide),
			zap.Int64("price", f.Price),
			zap.Int64("quantity", f.Quantity),
		)
	}
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error {
	_ = p.logger.Sync()
	return nil
}
