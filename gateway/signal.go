package gateway

import (
	"context"
	"sync"
)

// signal is a one-shot notification. Fire is idempotent.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// Fire marks the signal as fired and wakes every waiter.
func (s *signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done is closed once the signal fired.
func (s *signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether Fire was called.
func (s *signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// waitFirst blocks until a or b fires and returns the one observed first.
// The other one is simply no longer waited on.
func waitFirst(ctx context.Context, a, b *signal) (*signal, error) {
	select {
	case <-a.Done():
		return a, nil
	case <-b.Done():
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
