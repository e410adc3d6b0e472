// Package services – in-flight coalescing
//
// flightGroup is the synchronization core of the generation and translation
// caches: a concurrent map of key → pending-result handle. The first caller
// for an absent key becomes the leader and runs the computation; everyone
// who arrives while the handle exists joins it and observes the leader's
// outcome. The Absent → InFlight transition is atomic under the group mutex,
// so a race between two callers for a never-seen key yields exactly one
// leader.
//
// An entry is removed on completion regardless of outcome: success hands
// reads over to the durable cache, and failure returns the key to Absent so
// that a later caller may retry from scratch. Transient failures never
// poison the cache.
package services

import (
	"context"
	"sync"
)

// flightCall is one pending computation. The result fields are written
// exactly once, before done is closed.
type flightCall[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// wait blocks until the call resolves or the joiner's own context expires.
// A joiner abandoning the wait does not cancel the computation: the call is
// joinable, not caller-owned.
func (c *flightCall[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// flightGroup coalesces concurrent computations per key.
// The zero value is ready to use. Safe for concurrent use.
type flightGroup[T any] struct {
	mu    sync.Mutex
	calls map[string]*flightCall[T]
}

// join returns the call handle for key and whether the caller is the leader.
// The leader must eventually call finish exactly once.
func (g *flightGroup[T]) join(key string) (c *flightCall[T], leader bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]*flightCall[T])
	}
	if existing, ok := g.calls[key]; ok {
		return existing, false
	}
	c = &flightCall[T]{done: make(chan struct{})}
	g.calls[key] = c
	return c, true
}

// finish resolves the call and removes the in-flight entry. Every joiner
// blocked in wait observes the same (val, err) pair.
func (g *flightGroup[T]) finish(key string, c *flightCall[T], val T, err error) {
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()

	c.val, c.err = val, err
	close(c.done)
}

// inflight reports the number of pending keys. Test hook.
func (g *flightGroup[T]) inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
