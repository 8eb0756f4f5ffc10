// Package engine runs the matching loop for a single instrument.
//
// One goroutine owns the order book and the lifecycle tracker. Producers on
// any goroutine reach it only through the ingress queue; results leave
// through the fill sink, the lifecycle tracker and an atomically published
// top-of-book quote.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/trading/fillsink"
	"github.com/Aidin1998/pincex_matching/internal/trading/idempotency"
	"github.com/Aidin1998/pincex_matching/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderqueue"
	"github.com/Aidin1998/pincex_matching/pkg/metrics"
	"go.uber.org/zap"
)

// SubmitRequest is a new limit order as handed in by a caller.
type SubmitRequest struct {
	Side           model.Side
	Price          int64
	Quantity       int64
	IdempotencyKey string
	OwnerID        string
}

// Engine represents the matching engine for one instrument
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	filter  idempotency.Filter
	tracker *lifecycle.Tracker
	ingress *orderqueue.Ingress
	fills   *fillsink.Sink

	// matching goroutine only
	book    *orderbook.OrderBook
	arrival uint64

	nextID atomic.Uint64
	quote  atomic.Pointer[model.Quote]

	// Producers hold gate for reading while pushing; Stop takes it for
	// writing so that nothing is enqueued after the stop flag is set.
	gate     sync.RWMutex
	stopping atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	fault   error

	done     chan struct{}
	doneOnce sync.Once

	matchHook func(*model.Order) // tests only
}

// New creates an engine. A nil filter defaults to an in-memory one; listener may be nil.
func New(cfg Config, filter idempotency.Filter, listener lifecycle.Listener, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	if filter == nil {
		filter = idempotency.NewMemoryFilter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine").With(zap.String("symbol", cfg.Symbol))

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		filter:  filter,
		tracker: lifecycle.NewTracker(listener),
		ingress: orderqueue.NewIngress(cfg.IngressCapacity, cfg.IngressPolicy),
		fills:   fillsink.New(cfg.FillCapacity, cfg.FillPolicy, logger),
		book:    orderbook.NewOrderBook(cfg.Symbol),
		done:    make(chan struct{}),
	}
	e.quote.Store(&model.Quote{})
	return e
}

// Start launches the matching goroutine.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.stopped:
		return ErrEngineStopped
	case e.started:
		return ErrAlreadyStarted
	}
	e.started = true
	metrics.EngineHalted.Set(0)
	go e.run()

	e.logger.Info("Matching engine started",
		zap.Int("ingress_capacity", e.cfg.IngressCapacity),
		zap.Stringer("ingress_policy", e.cfg.IngressPolicy),
		zap.Int("fill_capacity", e.cfg.FillCapacity),
		zap.Stringer("fill_policy", e.cfg.FillPolicy),
		zap.Duration("poll_timeout", e.cfg.PollTimeout),
		zap.Bool("drain_on_stop", e.cfg.DrainOnStop),
	)
	return nil
}

// Stop refuses new requests and waits for the matching goroutine to exit.
// Queued requests are drained or discarded per Config.DrainOnStop. If ctx
// expires first, a loop stuck on a full fill sink is released by dropping
// fills, and ctx.Err() is returned; Done still closes once the loop exits.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	first := !e.stopped
	e.stopped = true
	started := e.started
	e.mu.Unlock()

	if first {
		e.ingress.Close()
		e.gate.Lock()
		e.stopping.Store(true)
		e.gate.Unlock()
		e.logger.Info("Stopping matching engine", zap.Int("queued", e.ingress.Len()))
	}
	if !started {
		e.finish()
		return nil
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		e.fills.Abort()
		e.logger.Warn("Stop deadline reached, dropping undelivered fills", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// Done is closed after the matching goroutine has exited and the fill stream is closed.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err returns the fault that halted the engine, or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fault
}

// Submit admits an order and enqueues it. The id is returned as soon as the
// order is queued; the outcome is observed through State and Fills.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (uint64, error) {
	if err := e.closedErr(); err != nil {
		return 0, err
	}
	// An empty key is left for the loop to reject.
	if req.IdempotencyKey != "" {
		admitted, err := e.filter.Admit(req.IdempotencyKey)
		if err != nil {
			metrics.AdmissionFailures.Inc()
			return 0, fmt.Errorf("admitting %q: %w", req.IdempotencyKey, err)
		}
		if !admitted {
			metrics.DuplicateSubmissions.Inc()
			return 0, ErrDuplicateSubmission
		}
	}

	id := e.nextID.Add(1)
	order := &model.Order{
		ID:             id,
		Side:           req.Side,
		Price:          req.Price,
		Quantity:       req.Quantity,
		Remaining:      req.Quantity,
		OwnerID:        req.OwnerID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}
	if err := e.push(ctx, orderqueue.Request{Kind: orderqueue.KindSubmit, Order: order}); err != nil {
		if req.IdempotencyKey != "" {
			e.filter.Release(req.IdempotencyKey)
		}
		return 0, err
	}
	return id, nil
}

// Cancel enqueues a cancel request. The outcome is asynchronous: the order
// becomes CANCELLED if it was still resting, otherwise nothing changes.
func (e *Engine) Cancel(ctx context.Context, orderID uint64) error {
	if err := e.closedErr(); err != nil {
		return err
	}
	return e.push(ctx, orderqueue.Request{Kind: orderqueue.KindCancel, OrderID: orderID})
}

// Snapshot returns aggregated depth (up to depth levels per side, all when
// depth <= 0) as of the point the loop dequeues the request.
func (e *Engine) Snapshot(ctx context.Context, depth int) (model.Depth, error) {
	if err := e.closedErr(); err != nil {
		return model.Depth{}, err
	}
	reply := make(chan model.Depth, 1)
	if err := e.push(ctx, orderqueue.Request{Kind: orderqueue.KindSnapshot, Depth: depth, Reply: reply}); err != nil {
		return model.Depth{}, err
	}
	select {
	case d := <-reply:
		return d, nil
	case <-ctx.Done():
		return model.Depth{}, ctx.Err()
	case <-e.done:
		select {
		case d := <-reply:
			return d, nil
		default:
		}
		if err := e.closedErr(); err != nil {
			return model.Depth{}, err
		}
		return model.Depth{}, ErrEngineStopped
	}
}

// BestBid returns the highest resting bid as of the last processed request.
func (e *Engine) BestBid() (int64, bool) {
	q := e.quote.Load()
	return q.BidPrice, q.BidOK
}

// BestAsk returns the lowest resting ask as of the last processed request.
func (e *Engine) BestAsk() (int64, bool) {
	q := e.quote.Load()
	return q.AskPrice, q.AskOK
}

// Quote returns both sides of the top of book from one consistent point.
func (e *Engine) Quote() model.Quote { return *e.quote.Load() }

// Fills is the outbound fill stream. It is closed when the loop exits.
func (e *Engine) Fills() <-chan model.Fill { return e.fills.C() }

// State returns the lifecycle state of an order. An order is unknown until
// the loop has dequeued it.
func (e *Engine) State(orderID uint64) (lifecycle.State, bool) {
	return e.tracker.State(orderID)
}

// Forget drops the lifecycle record of a terminal order.
func (e *Engine) Forget(orderID uint64) bool { return e.tracker.Forget(orderID) }

// Symbol returns the instrument this engine matches.
func (e *Engine) Symbol() string { return e.cfg.Symbol }

func (e *Engine) push(ctx context.Context, req orderqueue.Request) error {
	e.gate.RLock()
	err := e.ingress.Push(ctx, req)
	e.gate.RUnlock()
	if errors.Is(err, orderqueue.ErrClosed) {
		if cerr := e.closedErr(); cerr != nil {
			return cerr
		}
		return ErrEngineStopped
	}
	return err
}

func (e *Engine) closedErr() error {
	if fault := e.Err(); fault != nil {
		return fmt.Errorf("%w: %w", ErrEngineHalted, fault)
	}
	if e.stopping.Load() {
		return ErrEngineStopped
	}
	return nil
}

// halt records a fatal fault and refuses further work.
func (e *Engine) halt(err error) {
	e.mu.Lock()
	e.fault = err
	e.stopped = true
	e.mu.Unlock()

	e.ingress.Close()
	e.stopping.Store(true)
	metrics.EngineHalted.Set(1)

	fields := []zap.Field{zap.Error(err), zap.Int("discarded", e.ingress.Len())}
	var fe *FatalError
	if errors.As(err, &fe) && len(fe.Stack) > 0 {
		fields = append(fields, zap.ByteString("panic_stack", fe.Stack))
	}
	e.logger.Error("Matching engine halted, book state must be rebuilt before resuming", fields...)
}

func (e *Engine) finish() {
	e.doneOnce.Do(func() {
		e.fills.Close()
		close(e.done)
	})
}
