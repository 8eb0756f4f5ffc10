package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderqueue"
	"github.com/Aidin1998/pincex_matching/pkg/metrics"
	"go.uber.org/zap"
)

const reasonDiscarded = "discarded on shutdown"

// run is the matching goroutine.
func (e *Engine) run() {
	defer e.finish()

	for {
		metrics.IngressDepth.Set(float64(e.ingress.Len()))
		if e.stopping.Load() {
			if e.Err() == nil {
				e.shutdown()
			}
			return
		}
		req, ok := e.ingress.Poll(e.cfg.PollTimeout)
		if !ok {
			continue
		}
		if err := e.process(req); err != nil {
			e.halt(err)
			return
		}
	}
}

// shutdown empties the ingress after the stop flag was observed.
func (e *Engine) shutdown() {
	var drained, discarded int
	for {
		req, ok := e.ingress.TryPoll()
		if !ok {
			break
		}
		if !e.cfg.DrainOnStop {
			e.discard(req)
			discarded++
			continue
		}
		if err := e.process(req); err != nil {
			e.halt(err)
			return
		}
		drained++
	}
	metrics.IngressDepth.Set(0)
	e.logger.Info("Matching engine stopped",
		zap.Int("drained", drained),
		zap.Int("discarded", discarded),
		zap.Int("resting_orders", e.book.Len()),
		zap.Uint64("fills_dropped", e.fills.Dropped()),
	)
}

// discard gives a queued submission a terminal outcome without matching it.
func (e *Engine) discard(req orderqueue.Request) {
	if req.Kind != orderqueue.KindSubmit || req.Order == nil {
		return
	}
	e.arrival++
	o := req.Order
	o.Seq = e.arrival
	if err := e.create(o); err != nil {
		e.logger.Warn("Failed to record discarded order", zap.Uint64("order_id", o.ID), zap.Error(err))
		return
	}
	e.transition(o.ID, lifecycle.StateRejected, reasonDiscarded)
}

// process applies one request. A returned error is fatal; anything else that
// goes wrong before the book is touched is logged and confined to this request.
func (e *Engine) process(req orderqueue.Request) error {
	start := time.Now()
	e.arrival++
	seq := e.arrival

	var g guard
	err := g.run(func() error {
		switch req.Kind {
		case orderqueue.KindSubmit:
			return e.handleSubmit(&g, req.Order, seq)
		case orderqueue.KindCancel:
			return e.handleCancel(&g, req.OrderID)
		case orderqueue.KindSnapshot:
			e.handleSnapshot(req)
			return nil
		default:
			return fmt.Errorf("unknown request kind %d", req.Kind)
		}
	})

	q := e.book.Quote()
	q.Seq = seq
	e.quote.Store(&q)

	metrics.RequestsProcessed.WithLabelValues(req.Kind.String()).Inc()
	metrics.MatchLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) || g.fatal() {
		if fe == nil {
			fe = &FatalError{Seq: seq, Cause: err, Stack: g.stack}
		}
		fe.Kind = req.Kind
		return fe
	}

	metrics.RequestFaults.Inc()
	fields := []zap.Field{
		zap.Stringer("kind", req.Kind),
		zap.Uint64("seq", seq),
		zap.Error(err),
	}
	if req.Order != nil {
		fields = append(fields, zap.Uint64("order_id", req.Order.ID))
	}
	if len(g.stack) > 0 {
		fields = append(fields, zap.ByteString("panic_stack", g.stack))
	}
	e.logger.Error("Request failed, continuing with next request", fields...)
	return nil
}

func (e *Engine) handleSubmit(g *guard, o *model.Order, seq uint64) error {
	if o == nil {
		return fmt.Errorf("submit request without order")
	}
	o.Seq = seq
	if err := e.create(o); err != nil {
		return err
	}
	if err := o.Validate(); err != nil {
		metrics.OrdersRejected.Inc()
		e.transition(o.ID, lifecycle.StateRejected, err.Error())
		return nil
	}
	e.transition(o.ID, lifecycle.StateValidated, "")

	var (
		fills []model.Fill
		err   error
	)
	g.book(func() {
		if e.matchHook != nil {
			e.matchHook(o)
		}
		fills, err = e.book.Match(o)
	})
	if err != nil {
		// Match refuses before touching the book.
		metrics.OrdersRejected.Inc()
		e.transition(o.ID, lifecycle.StateRejected, err.Error())
		return nil
	}
	if err := e.checkInvariants(); err != nil {
		return err
	}
	e.transition(o.ID, lifecycle.StateAccepted, "")

	for i := range fills {
		e.makerFilled(fills[i].MakerID)
	}
	switch {
	case o.Remaining == 0:
		e.transition(o.ID, lifecycle.StateFilled, "")
	case len(fills) > 0:
		e.transition(o.ID, lifecycle.StatePartiallyFilled, "resting")
	}

	if len(fills) > 0 {
		metrics.FillsEmitted.Add(float64(len(fills)))
		for _, f := range fills {
			e.fills.Publish(f)
		}
	}
	return nil
}

// makerFilled moves a resting order forward after it took part in a fill.
func (e *Engine) makerFilled(makerID uint64) {
	if _, resting := e.book.Order(makerID); !resting {
		e.transition(makerID, lifecycle.StateFilled, "")
		return
	}
	if st, _ := e.tracker.State(makerID); st == lifecycle.StateAccepted {
		e.transition(makerID, lifecycle.StatePartiallyFilled, "")
	}
}

func (e *Engine) handleCancel(g *guard, orderID uint64) error {
	var ok bool
	g.book(func() { ok = e.book.Cancel(orderID) })
	if !ok {
		metrics.OrdersCancelled.WithLabelValues("miss").Inc()
		e.logger.Debug("Cancel target not resting", zap.Uint64("order_id", orderID))
		return nil
	}
	if err := e.checkInvariants(); err != nil {
		return err
	}
	metrics.OrdersCancelled.WithLabelValues("ok").Inc()
	e.transition(orderID, lifecycle.StateCancelled, "cancel requested")
	return nil
}

func (e *Engine) handleSnapshot(req orderqueue.Request) {
	if req.Reply == nil {
		return
	}
	d := e.book.Depth(req.Depth)
	d.Seq = e.arrival
	select {
	case req.Reply <- d:
	default:
	}
}

func (e *Engine) checkInvariants() error {
	if !e.cfg.CheckInvariants {
		return nil
	}
	if err := e.book.Validate(); err != nil {
		return &FatalError{Seq: e.arrival, Cause: err}
	}
	return nil
}

// create starts tracking o. A failing listener is reported but the order
// is tracked all the same.
func (e *Engine) create(o *model.Order) error {
	err := e.tracker.Create(o.ID, o.OwnerID)
	if errors.Is(err, lifecycle.ErrListenerFailed) {
		e.listenerFailed(o.ID, err)
		return nil
	}
	return err
}

// transition applies a lifecycle change. A refused transition is an engine
// bug; it is logged and counted but does not stop the loop.
func (e *Engine) transition(orderID uint64, to lifecycle.State, reason string) {
	err := e.tracker.Transition(orderID, to, reason)
	switch {
	case err == nil:
	case errors.Is(err, lifecycle.ErrListenerFailed):
		e.listenerFailed(orderID, err)
	default:
		metrics.RequestFaults.Inc()
		e.logger.Error("Lifecycle transition refused", zap.Uint64("order_id", orderID), zap.Error(err))
	}
}

func (e *Engine) listenerFailed(orderID uint64, err error) {
	metrics.ListenerFaults.Inc()
	e.logger.Error("Lifecycle listener failed", zap.Uint64("order_id", orderID), zap.Error(err))
}
