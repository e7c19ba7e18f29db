// Package gate provides a resettable one-shot readiness signal.
//
// A Gate starts closed. Open releases every current and future waiter until
// Reset arms it again. Each Reset hands out a fresh channel, so a waiter that
// grabbed the previous channel is never confused by a later phase.
package gate

import (
	"context"
	"sync"
)

// Gate is safe for concurrent use. The zero value is not usable; call New.
type Gate struct {
	mu   sync.Mutex
	ch   chan struct{}
	open bool
}

// New returns a closed gate.
func New() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open releases waiters. Calling it twice is a no-op.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.open = true
		close(g.ch)
	}
}

// Reset closes the gate again if it was open.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		g.open = false
		g.ch = make(chan struct{})
	}
}

// C returns a channel that is closed once the current phase opens.
func (g *Gate) C() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

// IsOpen reports whether the current phase has opened.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
