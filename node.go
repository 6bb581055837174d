package dubhe

import "sync/atomic"

// Priority is the advisory, worker-local scheduling priority of a
// task. It only orders tasks drawn from a single worker's own deques;
// it is never ordered across workers.
type Priority int

const (
	High Priority = iota
	Normal
	Low

	numPriorities = int(Low) + 1
)

type kind int

const (
	kindStatic kind = iota
	kindSubflow
	kindCondition
	kindMultiCondition
	kindModule
	kindAsync
	kindDependentAsync
	kindRuntime
)

// node is the engine-internal unit of work. Task is the opaque,
// pointer-equality handle callers hold to a node.
type node struct {
	name string
	kind kind

	// Exactly one of these is populated, selected by kind.
	staticFn    func() error
	subflowFn   func(*Subflow)
	conditionFn func() int
	multiCondFn func() []int
	runtimeFn   func(*RuntimeHandle)
	asyncFn     func() (any, error)
	module      *Graph

	graph *Graph
	pred  []*node
	succ  []*node

	joinCounter atomic.Int32
	priority    Priority
	data        any

	acquire []*Semaphore
	release []*Semaphore

	// topology is set once the node is bound to a running instance of
	// its graph. nil for standalone Async/DependentAsync nodes, which
	// are not part of any graph.
	topology *Topology
}

func newNode(name string, k kind) *node {
	return &node{name: name, kind: k, priority: Normal}
}

// resetJoin recomputes the join counter from the current predecessor
// list. Condition/MultiCondition predecessors never contribute: their
// successors are activated by explicit branch selection, not by join
// counting, so they must not hold a node back from becoming a source.
func (n *node) resetJoin() {
	cnt := 0
	for _, p := range n.pred {
		if p.kind == kindCondition || p.kind == kindMultiCondition {
			continue
		}
		cnt++
	}
	n.joinCounter.Store(int32(cnt))
}

// Task is an opaque handle to a node, with pointer-equality semantics.
type Task struct {
	n *node
}

// Empty reports whether this Task is a zero-value handle.
func (t Task) Empty() bool { return t.n == nil }

// Name returns the task's debug name.
func (t Task) Name() string { return t.n.name }

// SetName sets the task's debug name and returns the task for chaining.
func (t Task) SetName(name string) Task {
	t.n.name = name
	return t
}

// Data attaches an opaque user value to the task and returns it for
// chaining.
func (t Task) Data(d any) Task {
	t.n.data = d
	return t
}

// DataValue returns the value previously attached with Data.
func (t Task) DataValue() any { return t.n.data }

// SetPriority sets the task's advisory local-scheduling priority.
func (t Task) SetPriority(p Priority) Task {
	t.n.priority = p
	return t
}

// GetPriority returns the task's current priority.
func (t Task) GetPriority() Priority { return t.n.priority }

// Precede makes t a predecessor of every task in tasks. Self-precede
// is a contract violation for every variant except Condition and
// MultiCondition, which may precede an ancestor to model a loop.
func (t Task) Precede(tasks ...Task) Task {
	for _, o := range tasks {
		if o.n == t.n && t.n.kind != kindCondition && t.n.kind != kindMultiCondition {
			panic(ErrSelfPrecede)
		}
		t.n.succ = append(t.n.succ, o.n)
		o.n.pred = append(o.n.pred, t.n)
	}
	return t
}

// Succeed makes t a successor of every task in tasks.
func (t Task) Succeed(tasks ...Task) Task {
	for _, o := range tasks {
		o.Precede(t)
	}
	return t
}

// Acquire appends semaphores this task must acquire before it can run.
// Order is significant and must be mirrored by Release calls somewhere
// on every path to completion.
func (t Task) Acquire(sems ...*Semaphore) Task {
	t.n.acquire = append(t.n.acquire, sems...)
	return t
}

// Release appends semaphores this task releases on completion.
func (t Task) Release(sems ...*Semaphore) Task {
	t.n.release = append(t.n.release, sems...)
	return t
}

// NumSuccessors returns the number of declared successors.
func (t Task) NumSuccessors() int { return len(t.n.succ) }

// NumPredecessors returns the number of declared predecessors.
func (t Task) NumPredecessors() int { return len(t.n.pred) }
