package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the state of an order in the lifecycle
type State uint8

const (
	StateNone State = iota
	StateCreated
	StateValidated
	StateAccepted
	StatePartiallyFilled
	StateFilled
	StateCancelled
	StateRejected
)

var stateNames = [...]string{
	StateNone:            "NONE",
	StateCreated:         "CREATED",
	StateValidated:       "VALIDATED",
	StateAccepted:        "ACCEPTED",
	StatePartiallyFilled: "PARTIALLY_FILLED",
	StateFilled:          "FILLED",
	StateCancelled:       "CANCELLED",
	StateRejected:        "REJECTED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// IsTerminal reports whether no transition may leave s.
func (s State) IsTerminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateRejected
}

// legal lists every permitted edge. Terminal states have no entry.
var legal = map[State][]State{
	StateCreated:         {StateValidated, StateAccepted, StateCancelled, StateRejected},
	StateValidated:       {StateAccepted, StateCancelled, StateRejected},
	StateAccepted:        {StatePartiallyFilled, StateFilled, StateCancelled},
	StatePartiallyFilled: {StateFilled, StateCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	ErrIllegalTransition = errors.New("illegal lifecycle transition")
	ErrUnknownOrder      = errors.New("order not tracked")
	ErrAlreadyTracked    = errors.New("order already tracked")
	// ErrListenerFailed is returned when the listener panicked. The change it
	// was told about has already been applied.
	ErrListenerFailed = errors.New("lifecycle listener failed")
)

// Transition is one applied state change.
type Transition struct {
	OrderID uint64
	OwnerID string
	From    State
	To      State
	Reason  string
	At      time.Time
}

type record struct {
	owner string
	state State
}

// Tracker holds the current lifecycle state of every known order.
//
// Only the matching loop calls Create, Transition and Forget. The lock exists
// so that State can be served to other goroutines; it never orders writers.
type Tracker struct {
	mu       sync.RWMutex
	records  map[uint64]*record
	listener Listener
	now      func() time.Time
}

// NewTracker creates a tracker. listener may be nil.
func NewTracker(listener Listener) *Tracker {
	if listener == nil {
		listener = NopListener{}
	}
	return &Tracker{
		records:  make(map[uint64]*record),
		listener: listener,
		now:      time.Now,
	}
}

// Create starts tracking an order in StateCreated.
func (t *Tracker) Create(orderID uint64, ownerID string) error {
	t.mu.Lock()
	if _, exists := t.records[orderID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("order %d: %w", orderID, ErrAlreadyTracked)
	}
	t.records[orderID] = &record{owner: ownerID, state: StateCreated}
	t.mu.Unlock()

	return t.notify(Transition{
		OrderID: orderID, OwnerID: ownerID, From: StateNone, To: StateCreated, At: t.now(),
	})
}

// Transition moves an order to state to, rejecting anything CanTransition forbids.
// A rejected transition leaves the record unchanged. An ErrListenerFailed
// error means the record did change.
func (t *Tracker) Transition(orderID uint64, to State, reason string) error {
	t.mu.Lock()
	rec, ok := t.records[orderID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("order %d: %w", orderID, ErrUnknownOrder)
	}
	from := rec.state
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("order %d %s -> %s: %w", orderID, from, to, ErrIllegalTransition)
	}
	rec.state = to
	owner := rec.owner
	t.mu.Unlock()

	return t.notify(Transition{
		OrderID: orderID, OwnerID: owner, From: from, To: to, Reason: reason, At: t.now(),
	})
}

// notify hands tr to the listener. A panicking listener cannot undo or
// interrupt a change that is already recorded.
func (t *Tracker) notify(tr Transition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("order %d %s -> %s: %w: %v", tr.OrderID, tr.From, tr.To, ErrListenerFailed, r)
		}
	}()
	t.listener.OnTransition(tr)
	return nil
}

// State returns the current state of an order. Safe from any goroutine.
func (t *Tracker) State(orderID uint64) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[orderID]
	if !ok {
		return StateNone, false
	}
	return rec.state, true
}

// Forget drops a terminal record. Non-terminal records are kept.
func (t *Tracker) Forget(orderID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[orderID]
	if !ok || !rec.state.IsTerminal() {
		return false
	}
	delete(t.records, orderID)
	return true
}

// Len returns the number of tracked orders.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
