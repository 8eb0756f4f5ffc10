package lifecycle

import (
	"go.uber.org/zap"
)

// Listener is notified after each applied transition. It runs on the
// matching goroutine and must not block. A panic is recovered by the Tracker
// and reported as ErrListenerFailed.
type Listener interface {
	OnTransition(tr Transition)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(tr Transition)

func (f ListenerFunc) OnTransition(tr Transition) { f(tr) }

// NopListener discards transitions.
type NopListener struct{}

func (NopListener) OnTransition(Transition) {}

// MultiListener fans a transition out to several listeners in order.
type MultiListener []Listener

func (m MultiListener) OnTransition(tr Transition) {
	for _, l := range m {
		l.OnTransition(tr)
	}
}

// LogListener writes transitions to a zap logger. Terminal states log at
// info, intermediate ones at debug.
type LogListener struct {
	logger *zap.Logger
}

// NewLogListener creates a listener writing through logger.
func NewLogListener(logger *zap.Logger) *LogListener {
	return &LogListener{logger: logger.Named("lifecycle")}
}

func (l *LogListener) OnTransition(tr Transition) {
	fields := []zap.Field{
		zap.Uint64("order_id", tr.OrderID),
		zap.String("owner_id", tr.OwnerID),
		zap.Stringer("from_state", tr.From),
		zap.Stringer("to_state", tr.To),
	}
	if tr.Reason != "" {
		fields = append(fields, zap.String("reason", tr.Reason))
	}
	if tr.To.IsTerminal() {
		l.logger.Info("State transition", fields...)
		return
	}
	l.logger.Debug("State transition", fields...)
}
