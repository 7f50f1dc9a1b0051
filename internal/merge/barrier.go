package merge

import (
	"context"
	"fmt"
	"sync"
)

// Barrier is a single-use rendezvous for a fixed number of parties. Arrive
// blocks until all parties have arrived or ctx is done.
type Barrier struct {
	mu      sync.Mutex
	pending int
	done    chan struct{}
}

// NewBarrier returns a barrier for n parties.
func NewBarrier(n int) *Barrier {
	b := &Barrier{pending: n, done: make(chan struct{})}
	if n <= 0 {
		close(b.done)
	}
	return b
}

// Arrive registers the caller and waits for the remaining parties. It returns
// ctx.Err() if the context ends first, which is how a failed worker releases
// the ones already waiting.
func (b *Barrier) Arrive(ctx context.Context) error {
	b.mu.Lock()
	switch {
	case b.pending <= 0:
		b.mu.Unlock()
		return fmt.Errorf("merge: barrier overrun")
	case b.pending == 1:
		b.pending = 0
		close(b.done)
		b.mu.Unlock()
		return nil
	default:
		b.pending--
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once every party has arrived.
func (b *Barrier) Done() <-chan struct{} { return b.done }
