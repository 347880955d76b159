package store

import (
	"context"
	"sync"
)

// GatedStore wraps a Store and holds one Set call on a namespace until
// Release is called. Tests use it to interleave a slow write with other
// operations.
type GatedStore struct {
	Store

	ns   Namespace
	nth  int
	once sync.Once

	mu      sync.Mutex
	sets    int
	entered chan struct{}
	release chan struct{}
}

// NewGatedStore blocks the nth Set on ns (1-based) of inner.
func NewGatedStore(inner Store, ns Namespace, nth int) *GatedStore {
	return &GatedStore{
		Store:   inner,
		ns:      ns,
		nth:     nth,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

// Entered is closed once the gated Set is waiting.
func (g *GatedStore) Entered() <-chan struct{} { return g.entered }

// Release lets the gated Set through. Safe to call more than once.
func (g *GatedStore) Release() {
	g.once.Do(func() { close(g.release) })
}

// Set forwards to the wrapped store, blocking first if this is the gated call.
func (g *GatedStore) Set(ctx context.Context, ns Namespace, data map[string][]byte) error {
	if ns == g.ns {
		g.mu.Lock()
		g.sets++
		gated := g.sets == g.nth
		g.mu.Unlock()

		if gated {
			close(g.entered)
			select {
			case <-g.release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return g.Store.Set(ctx, ns, data)
}
