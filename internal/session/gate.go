package session

import "sync"

// gate is a value guarded by a condition variable. Waiters re-check their
// predicate after every broadcast.
type gate[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond
	v    T
}

func newGate[T any](initial T) *gate[T] {
	g := &gate[T]{v: initial}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *gate[T]) Set(v T) {
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *gate[T]) Get() T {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}

// Wait blocks until ready holds for the current value and returns it.
func (g *gate[T]) Wait(ready func(T) bool) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !ready(g.v) {
		g.cond.Wait()
	}
	return g.v
}

// Do waits like Wait and then runs fn while still holding the gate, so no
// Set can interleave with fn.
func (g *gate[T]) Do(ready func(T) bool, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !ready(g.v) {
		g.cond.Wait()
	}
	fn()
}
