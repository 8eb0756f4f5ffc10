// Package idempotency implements the at-most-once admission gate placed in
// front of the engine ingress. A key is admitted the first time it is seen;
// every later call with the same key, from any goroutine, is refused.
package idempotency

import (
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrUnavailable means the backing store could not answer. The key was not
// admitted and may be retried.
var ErrUnavailable = errors.New("idempotency store unavailable")

// Filter is an at-most-once admission gate keyed by a caller-supplied token.
type Filter interface {
	// Admit records key and returns true the first time key is seen.
	// It returns false for any key admitted before. An error wrapping
	// ErrUnavailable means the filter could not decide; the key is not admitted.
	Admit(key string) (bool, error)
	// Release forgets a key whose submission never reached the engine,
	// so the caller can retry with the same key.
	Release(key string)
}

// MemoryFilter is a process-local Filter backed by a thread-safe set.
// Keys are never evicted: the set grows with every distinct key, which is
// acceptable only while keys are finite and short-lived.
type MemoryFilter struct {
	keys mapset.Set[string]
}

// NewMemoryFilter creates an empty in-memory filter.
func NewMemoryFilter() *MemoryFilter {
	return &MemoryFilter{keys: mapset.NewSet[string]()}
}

// Admit implements Filter. The set's Add is atomic, so concurrent callers
// with the same key see exactly one true.
func (f *MemoryFilter) Admit(key string) (bool, error) {
	return f.keys.Add(key), nil
}

// Release implements Filter.
func (f *MemoryFilter) Release(key string) {
	f.keys.Remove(key)
}

// Len returns the number of admitted keys.
func (f *MemoryFilter) Len() int {
	return f.keys.Cardinality()
}
