package dubhe

import (
	"math/rand"

	"github.com/gottingen/dubhe/internal/deque"
)

// worker owns a fixed id, a set of per-priority deques, and a
// victim-selection RNG. Workers are created once at Executor
// construction and run for the Executor's lifetime.
type worker struct {
	id       int
	executor *Executor
	rng      *rand.Rand
	queues   [numPriorities]*deque.Deque[node]
}

func newWorker(id int, e *Executor) *worker {
	w := &worker{
		id:       id,
		executor: e,
		rng:      rand.New(rand.NewSource(int64(id) + 1)),
	}
	for p := range w.queues {
		w.queues[p] = deque.New[node](256)
	}
	return w
}

// pushLocal pushes n onto this worker's own deque for n's priority.
// Only the owning worker goroutine ever calls this, synchronously
// while it is executing one of its own tasks (successor activation,
// condition-branch dispatch, a runtime task's forced Schedule). Work
// originating from any other goroutine — including initial graph
// seeding — goes through the shared overflow queue instead, since
// Push is not safe to call concurrently with the owner's own Pop.
func (w *worker) pushLocal(n *node) {
	w.queues[n.priority].Push(n)
}

// pop drains HIGH before NORMAL before LOW.
func (w *worker) pop() *node {
	for p := 0; p < numPriorities; p++ {
		if v := w.queues[p].Pop(); v != nil {
			return v
		}
	}
	return nil
}

func workerID(w *worker) int {
	if w == nil {
		return -1
	}
	return w.id
}
