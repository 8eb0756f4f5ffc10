// =============================
// Fault classification for the matching loop
// =============================
package engine

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/Aidin1998/pincex_matching/internal/trading/idempotency"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderqueue"
)

var (
	// ErrDuplicateSubmission is returned when the idempotency key was already admitted.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrAdmissionUnavailable is wrapped when the idempotency store could not
	// decide. Nothing was admitted; the same key may be retried.
	ErrAdmissionUnavailable = idempotency.ErrUnavailable
	// ErrBackpressure is returned when the ingress queue is full under the reject policy.
	ErrBackpressure = orderqueue.ErrBackpressure
	// ErrEngineStopped is returned once Stop has been called.
	ErrEngineStopped = errors.New("engine stopped")
	// ErrEngineHalted is returned after a fatal fault stopped the matching loop.
	ErrEngineHalted = errors.New("engine halted")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("engine already started")
)

// FatalError is a fault the book cannot be trusted to survive: a panic
// during a book mutation or a failed invariant check. It is never retried.
type FatalError struct {
	Kind  orderqueue.Kind
	Seq   uint64
	Cause error
	Stack []byte
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal fault in %s request #%d: %v", e.Kind, e.Seq, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// panicError turns a recovered value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

// guard runs fn and converts a panic into an error. mutating tells the
// caller whether the panic happened while the book was being changed;
// touched stays set once a mutation has completed, since a request that
// fails after that point leaves the book ahead of its fills and lifecycle.
type guard struct {
	mutating bool
	touched  bool
	stack    []byte
}

func (g *guard) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.stack = debug.Stack()
			err = panicError(r)
		}
	}()
	return fn()
}

// book marks fn as a book mutation for the duration of the call.
func (g *guard) book(fn func()) {
	g.mutating = true
	fn()
	g.mutating = false
	g.touched = true
}

// fatal reports whether a failure seen by this guard must halt the engine.
func (g *guard) fatal() bool {
	return g.mutating || g.touched
}
