// Package fillsink carries fills out of the matching loop. The sink is a
// bounded queue with its own backpressure policy, separate from ingress, so
// fill publication stays off the matching critical path until the buffer
// fills up.
package fillsink

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/pkg/metrics"
	"go.uber.org/zap"
)

// Policy decides what happens to a fill when the sink is full.
type Policy uint8

const (
	// PolicyBlock stalls the matching loop until the consumer makes room. No fill is lost.
	PolicyBlock Policy = iota
	// PolicyDrop discards the fill, counts it and logs it.
	PolicyDrop
)

func (p Policy) String() string {
	if p == PolicyDrop {
		return "drop"
	}
	return "block"
}

// ParsePolicy maps "block"/"drop" ("reject" is accepted as drop).
func ParsePolicy(v string) (Policy, error) {
	switch strings.ToLower(v) {
	case "", "block":
		return PolicyBlock, nil
	case "drop", "reject":
		return PolicyDrop, nil
	}
	return PolicyBlock, fmt.Errorf("unknown fill policy %q", v)
}

// Sink is the outbound fill queue. Publish and Close are called only by the
// matching goroutine; C is drained by an independent consumer.
type Sink struct {
	ch     chan model.Fill
	policy Policy
	logger *zap.Logger

	abort     chan struct{}
	abortOnce sync.Once
	dropped   uint64
}

// New creates a sink buffering up to capacity fills.
func New(capacity int, policy Policy, logger *zap.Logger) *Sink {
	if capacity <= 0 {
		capacity = 1
	}
	return &Sink{
		ch:     make(chan model.Fill, capacity),
		policy: policy,
		logger: logger.Named("fillsink"),
		abort:  make(chan struct{}),
	}
}

// Publish hands a fill to the consumer side. It reports false if the fill was dropped.
func (s *Sink) Publish(f model.Fill) bool {
	select {
	case s.ch <- f:
		return true
	default:
	}

	if s.policy == PolicyBlock {
		select {
		case s.ch <- f:
			return true
		case <-s.abort:
		}
	}

	s.dropped++
	metrics.FillsDropped.Inc()
	metrics.Backpressure.WithLabelValues("fills").Inc()
	s.logger.Warn("Fill dropped, sink full",
		zap.Uint64("fill_seq", f.Seq),
		zap.Uint64("maker_id", f.MakerID),
		zap.Uint64("taker_id", f.TakerID),
		zap.Int64("price", f.Price),
		zap.Int64("quantity", f.Quantity),
		zap.Stringer("policy", s.policy),
	)
	return false
}

// Abort releases a Publish blocked on a full sink; the fill is then dropped.
// Used when shutdown cannot wait for a stalled consumer any longer.
func (s *Sink) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })
}

// Close closes the consumer channel. No Publish may follow.
func (s *Sink) Close() {
	close(s.ch)
}

// C is the channel consumers drain. It is closed after the matching loop exits.
func (s *Sink) C() <-chan model.Fill { return s.ch }

// Dropped returns the number of fills discarded so far. Matching goroutine only.
func (s *Sink) Dropped() uint64 { return s.dropped }

// Len returns the number of buffered fills.
func (s *Sink) Len() int { return len(s.ch) }
