package gate

import (
	"context"
	"sync"
)

// ReadinessGate is a one-shot barrier between result submission and the
// remote session. It moves from pending to exactly one terminal state,
// Ready(runID) or Failed(err), and every waiter past or future observes
// that same state. The terminal value is read-only after resolution.
type ReadinessGate struct {
	done chan struct{}
	once sync.Once

	runID string
	err   error
}

func New() *ReadinessGate {
	return &ReadinessGate{done: make(chan struct{})}
}

// Ready resolves the gate with the remote session identifier. Later calls
// to Ready or Fail are no-ops.
func (g *ReadinessGate) Ready(runID string) {
	g.once.Do(func() {
		g.runID = runID
		close(g.done)
	})
}

// Fail resolves the gate with the session-creation error.
func (g *ReadinessGate) Fail(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

// Await blocks until the gate resolves or ctx is done. It is safe to call
// from any number of goroutines, any number of times, before or after
// resolution; the answer never changes once terminal.
func (g *ReadinessGate) Await(ctx context.Context) (string, error) {
	select {
	case <-g.done:
		return g.runID, g.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolved reports whether the gate has reached a terminal state.
func (g *ReadinessGate) Resolved() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}
