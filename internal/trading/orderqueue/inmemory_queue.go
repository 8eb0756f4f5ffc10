// Package orderqueue implements the ingress queue carrying requests from any
// number of producer goroutines to the single matching goroutine.
//
// Dequeue order is the engine's canonical arrival order. Under concurrent
// producers it need not match wall-clock submission order; it is still the
// only tie-break price-time priority uses.
package orderqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/pkg/metrics"
)

// Kind identifies what a request asks the matching loop to do.
type Kind uint8

const (
	KindSubmit Kind = iota + 1
	KindCancel
	KindSnapshot
)

func (k Kind) String() string {
	switch k {
	case KindSubmit:
		return "submit"
	case KindCancel:
		return "cancel"
	case KindSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Request is one unit of work for the matching loop.
type Request struct {
	Kind    Kind
	Order   *model.Order // KindSubmit
	OrderID uint64       // KindCancel
	Depth   int          // KindSnapshot
	Reply   chan<- model.Depth

	EnqueuedAt time.Time
}

// Policy decides what a producer experiences when the queue is full.
type Policy uint8

const (
	// PolicyBlock makes the producer wait for space (or its context).
	PolicyBlock Policy = iota
	// PolicyReject fails the push immediately with ErrBackpressure.
	PolicyReject
)

func (p Policy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "block"
}

// ParsePolicy maps "block"/"reject" (and "drop" as an alias for reject).
func ParsePolicy(v string) (Policy, error) {
	switch strings.ToLower(v) {
	case "", "block":
		return PolicyBlock, nil
	case "reject", "drop":
		return PolicyReject, nil
	}
	return PolicyBlock, fmt.Errorf("unknown backpressure policy %q", v)
}

var (
	ErrBackpressure = errors.New("queue is full")
	ErrClosed       = errors.New("queue is closed")
)

// Ingress is a bounded multi-producer, single-consumer FIFO.
type Ingress struct {
	name   string
	ch     chan Request
	policy Policy

	closed    chan struct{}
	closeOnce sync.Once

	timer *time.Timer // consumer only
}

// NewIngress creates a queue holding at most capacity requests.
func NewIngress(capacity int, policy Policy) *Ingress {
	if capacity <= 0 {
		capacity = 1
	}
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &Ingress{
		name:   "ingress",
		ch:     make(chan Request, capacity),
		policy: policy,
		closed: make(chan struct{}),
		timer:  t,
	}
}

// Push enqueues req according to the queue's policy.
func (q *Ingress) Push(ctx context.Context, req Request) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}

	if q.policy == PolicyReject {
		select {
		case q.ch <- req:
			return nil
		default:
			metrics.Backpressure.WithLabelValues(q.name).Inc()
			return ErrBackpressure
		}
	}

	select {
	case q.ch <- req:
		return nil
	default:
	}
	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrClosed
	}
}

// Poll waits up to timeout for the next request. Only the consumer may call it.
func (q *Ingress) Poll(timeout time.Duration) (Request, bool) {
	select {
	case req := <-q.ch:
		return req, true
	default:
	}
	q.timer.Reset(timeout)
	select {
	case req := <-q.ch:
		q.timer.Stop()
		return req, true
	case <-q.timer.C:
		return Request{}, false
	}
}

// TryPoll returns the next request without waiting.
func (q *Ingress) TryPoll() (Request, bool) {
	select {
	case req := <-q.ch:
		return req, true
	default:
		return Request{}, false
	}
}

// Close rejects further pushes and wakes producers blocked on a full queue.
// Requests already queued stay available to the consumer.
func (q *Ingress) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Len returns the number of queued requests.
func (q *Ingress) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Ingress) Cap() int { return cap(q.ch) }

// Policy returns the configured backpressure policy.
func (q *Ingress) Policy() Policy { return q.policy }
