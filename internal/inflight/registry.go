// Package inflight deduplicates concurrent computations keyed by an exact
// string. The first caller for a key becomes the owner and must Publish; every
// other caller joins and receives the owner's outcome.
package inflight

import (
	"context"
	"sync"
)

// Call is the shared handle for one in-flight computation.
type Call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	waiters int // joiners, guarded by Registry.mu
}

// Done is closed once the owner publishes.
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Wait blocks until the owner publishes or ctx is done. A ctx error only
// abandons this wait; the owner keeps running and still publishes.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Registry tracks in-flight computations. The zero value is not usable; use New.
type Registry[T any] struct {
	mu    sync.Mutex
	calls map[string]*Call[T]
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{calls: make(map[string]*Call[T])}
}

// ClaimOrJoin returns owner=true for the first caller of key; that caller
// must eventually Publish(key, ...). Later callers get owner=false and the
// same Call to wait on.
func (r *Registry[T]) ClaimOrJoin(key string) (owner bool, call *Call[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.calls[key]; ok {
		c.waiters++
		return false, c
	}

	c := &Call[T]{done: make(chan struct{})}
	r.calls[key] = c
	return true, c
}

// Publish releases every waiter of key with val/err and frees the slot so a
// later ClaimOrJoin starts a new computation. Publishing an unknown key is a no-op.
func (r *Registry[T]) Publish(key string, val T, err error) {
	r.mu.Lock()
	c, ok := r.calls[key]
	if ok {
		delete(r.calls, key)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	c.val = val
	c.err = err
	close(c.done)
}

// Len returns the number of keys currently in flight.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Waiters returns how many callers joined the computation for key.
func (r *Registry[T]) Waiters(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.calls[key]; ok {
		return c.waiters
	}
	return 0
}

// Keys lists the keys currently in flight.
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.calls))
	for k := range r.calls {
		keys = append(keys, k)
	}
	return keys
}
