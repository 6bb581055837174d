package dubhe

import (
	"sync"
	"sync/atomic"
)

// Topology is one execution instance of a Graph. live counts pending
// dispatches (incremented by every schedule, decremented by every
// completion, including re-firings of a looping Condition node) so it
// naturally reaches zero exactly when nothing further will ever be
// scheduled, without special-casing loops or conditional branches.
type Topology struct {
	graph    *Graph
	executor *Executor

	live      atomic.Int64
	cancelled atomic.Bool

	mu   sync.Mutex
	err  error
	done chan struct{}
	once sync.Once

	repeat func(round int) bool
	round  int
	onDone func(error)

	parkedMu sync.Mutex
	parked   map[*node]*Semaphore
}

func newTopology(e *Executor, g *Graph) *Topology {
	return &Topology{
		graph:    g,
		executor: e,
		done:     make(chan struct{}),
	}
}

// fail captures the first failure only; later failures are dropped.
// It also implicitly cancels the topology.
func (t *Topology) fail(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	t.cancelled.Store(true)
}

// trackParked records that n is parked waiting on s, so a later
// cancellation can find and unpark it even if s never releases again.
func (t *Topology) trackParked(n *node, s *Semaphore) {
	t.parkedMu.Lock()
	if t.parked == nil {
		t.parked = make(map[*node]*Semaphore)
	}
	t.parked[n] = s
	t.parkedMu.Unlock()
}

// untrackParked clears n's parked bookkeeping once it stops waiting,
// whether because it was handed off by release or force-unparked by
// cancellation.
func (t *Topology) untrackParked(n *node) {
	t.parkedMu.Lock()
	delete(t.parked, n)
	t.parkedMu.Unlock()
}

// Err returns the first captured task failure, if any.
func (t *Topology) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// finish fulfills the completion signal and fires the completion
// callback exactly once.
func (t *Topology) finish() {
	t.once.Do(func() {
		if t.onDone != nil {
			t.onDone(t.Err())
		}
		close(t.done)
	})
}
