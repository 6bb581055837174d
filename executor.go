package dubhe

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gottingen/dubhe/internal/deque"
)

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithStealRetries overrides how many consecutive failed
// pop/steal/overflow-poll rounds a worker runs before parking. The
// default is 2*numWorkers.
func WithStealRetries(n int) Option {
	return func(e *Executor) { e.stealRetries = n }
}

// WithPanicPropagation lets a task callable's panic cross the worker
// goroutine boundary instead of being captured into the topology's
// exception slot. Off by default, mirroring
// DUBHE_DISABLE_EXCEPTION_HANDLING's default-enabled handling.
func WithPanicPropagation() Option {
	return func(e *Executor) { e.propagatePanics = true }
}

// WithObserver registers an instrumentation hook.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observers = append(e.observers, o) }
}

// overflowQueue is the executor's shared MPMC spillover queue: work
// that doesn't belong to any single worker's own deque, including
// initial graph seeding (seedRound), corun-helper dispatch, and
// semaphore wakeups.
type overflowQueue struct {
	mu    sync.Mutex
	items []*node
}

func (q *overflowQueue) push(n *node) {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.mu.Unlock()
}

func (q *overflowQueue) pop() *node {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	n := q.items[0]
	q.items = q.items[1:]
	return n
}

// graphQueue serializes topology runs against the same graph: only
// one topology per graph is live at a time, later runs queue behind
// it.
type graphQueue struct {
	mu      sync.Mutex
	running bool
	pending []*Topology
}

// Executor is a work-stealing scheduler over a fixed pool of worker
// goroutines.
type Executor struct {
	workers []*worker

	overflow *overflowQueue
	notifier *Notifier

	stopping        atomic.Bool
	stealRetries    int
	propagatePanics bool

	observers []Observer

	liveTopologies atomic.Int64
	liveAsync      atomic.Int64

	waitMu   sync.Mutex
	waitCond *sync.Cond

	graphQueues sync.Map // *Graph -> *graphQueue

	// pool is the worker goroutine group; Close waits on it. Every
	// member returns nil (workerLoop has no error to report and no
	// panic is recovered at this level), so the group serves only to
	// spawn the workers and wait for them to exit.
	pool *errgroup.Group
}

// NewExecutor creates an executor with numWorkers worker goroutines
// (default runtime.NumCPU() when numWorkers <= 0).
func NewExecutor(numWorkers int, opts ...Option) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		overflow: &overflowQueue{},
		notifier: NewNotifier(),
	}
	e.waitCond = sync.NewCond(&e.waitMu)
	for _, opt := range opts {
		opt(e)
	}
	if e.stealRetries <= 0 {
		e.stealRetries = 2 * numWorkers
	}

	e.workers = make([]*worker, numWorkers)
	for i := range e.workers {
		e.workers[i] = newWorker(i, e)
	}
	for _, ob := range e.observers {
		ob.SetUp(numWorkers)
	}

	e.pool = new(errgroup.Group)
	for i := range e.workers {
		w := e.workers[i]
		e.pool.Go(func() error {
			e.workerLoop(w)
			return nil
		})
	}
	return e
}

// NumWorkers returns the number of worker goroutines in the pool.
func (e *Executor) NumWorkers() int { return len(e.workers) }

// Close stops every worker goroutine and blocks until they exit. It
// does not wait for in-flight topologies to finalize; call
// WaitForAll first if that matters.
func (e *Executor) Close() {
	e.stopping.Store(true)
	e.notifier.NotifyAll()
	_ = e.pool.Wait()
}

// ---------------------------------------------------------------
// Run / RunN / RunUntil
// ---------------------------------------------------------------

// Run submits g for one execution and returns a Future for it.
func (e *Executor) Run(g *Graph) *Future {
	return e.runRepeat(g, func(int) bool { return false }, nil)
}

// RunN submits g for exactly n executions (repeating in place).
func (e *Executor) RunN(g *Graph, n int) *Future {
	count := 0
	return e.runRepeat(g, func(int) bool {
		count++
		return count < n
	}, nil)
}

// RunUntil submits g for repeated execution until pred returns true,
// checked after each round; cb (if non-nil) fires once, on final
// completion.
func (e *Executor) RunUntil(g *Graph, pred func() bool, cb func(error)) *Future {
	return e.runRepeat(g, func(int) bool { return !pred() }, cb)
}

func (e *Executor) runRepeat(g *Graph, shouldRepeat func(round int) bool, cb func(error)) *Future {
	t := newTopology(e, g)
	t.repeat = shouldRepeat
	t.onDone = cb
	e.enqueueTopology(g, t)
	return &Future{topology: t}
}

func (e *Executor) enqueueTopology(g *Graph, t *Topology) {
	qAny, _ := e.graphQueues.LoadOrStore(g, &graphQueue{})
	q := qAny.(*graphQueue)
	q.mu.Lock()
	if q.running {
		q.pending = append(q.pending, t)
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	e.startTopology(g, t)
}

func (e *Executor) startTopology(g *Graph, t *Topology) {
	e.liveTopologies.Add(1)
	e.seedRound(g, t)
}

// seedRound (re)initializes every node's join counter, resets the
// cancellation flag, and schedules the current sources. An empty
// graph (or one in which every node has at least one non-condition
// predecessor, so none is a source) finalizes immediately.
func (e *Executor) seedRound(g *Graph, t *Topology) {
	nodes := g.allNodes()
	for _, n := range nodes {
		n.topology = t
		n.resetJoin()
	}
	// One extra unit of live is held while seeding, so a source that
	// finishes before the remaining sources are scheduled cannot drive
	// live to zero and finalize the round early.
	t.live.Store(1)
	t.cancelled.Store(false)

	srcs := g.sources()
	if len(srcs) == 0 {
		e.finalizeTopology(t)
		return
	}
	// Routed through the overflow queue, not a specific worker's own
	// deque: seedRound can run on the Run caller's goroutine or on a
	// pool worker finalizing a previous round, neither of which is the
	// owning goroutine of any worker's deque, and Push is only safe
	// from the owner.
	for _, n := range srcs {
		e.scheduleOverflow(n)
	}
	if t.live.Add(-1) == 0 {
		e.finalizeTopology(t)
	}
}

func (e *Executor) topologyFinalizedHook(g *Graph, t *Topology) {
	qAny, ok := e.graphQueues.Load(g)
	if !ok {
		return
	}
	q := qAny.(*graphQueue)
	q.mu.Lock()
	var next *Topology
	if len(q.pending) > 0 {
		next = q.pending[0]
		q.pending = q.pending[1:]
	} else {
		q.running = false
	}
	q.mu.Unlock()
	if next != nil {
		e.startTopology(g, next)
	}
}

func (e *Executor) finalizeTopology(t *Topology) {
	if t.repeat != nil {
		t.round++
		if !t.cancelled.Load() && t.repeat(t.round) {
			e.seedRound(t.graph, t)
			return
		}
	}
	t.finish()
	e.liveTopologies.Add(-1)
	e.broadcastIdle()
	e.topologyFinalizedHook(t.graph, t)
}

// ---------------------------------------------------------------
// Corun
// ---------------------------------------------------------------

// Corun runs g to completion using the calling goroutine as an extra
// draining participant alongside the pool: it does not spawn a new OS
// thread and cannot deadlock on exhaustion of the pool the way
// Run(g).Wait() could if every worker were itself blocked waiting on
// a nested graph.
func (e *Executor) Corun(g *Graph) error {
	t := newTopology(e, g)
	e.liveTopologies.Add(1)
	e.seedRound(g, t)
	e.runInline(t)
	e.liveTopologies.Add(-1)
	e.broadcastIdle()
	return t.Err()
}

// runInline drains the overflow queue and steals from pool workers
// using the calling goroutine until t finalizes.
func (e *Executor) runInline(t *Topology) {
	for {
		select {
		case <-t.done:
			return
		default:
		}
		if n := e.overflow.pop(); n != nil {
			e.invoke(nil, n)
			continue
		}
		if n := e.stealAny(); n != nil {
			e.invoke(nil, n)
			continue
		}
		runtime.Gosched()
	}
}

func (e *Executor) stealAny() *node {
	for _, victim := range e.workers {
		for p := 0; p < numPriorities; p++ {
			if v, res := victim.queues[p].Steal(); res == deque.StealOK {
				return v
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------
// Worker loop
// ---------------------------------------------------------------

func (e *Executor) workerLoop(w *worker) {
	retries := 0
	for !e.stopping.Load() {
		if n := w.pop(); n != nil {
			e.invoke(w, n)
			retries = 0
			continue
		}
		if n := e.steal(w); n != nil {
			e.invoke(w, n)
			retries = 0
			continue
		}
		if n := e.overflow.pop(); n != nil {
			e.invoke(w, n)
			retries = 0
			continue
		}

		retries++
		if retries < e.stealRetries {
			continue
		}

		token := e.notifier.PrepareWait()
		if n := w.pop(); n != nil {
			e.notifier.CancelWait(token)
			e.invoke(w, n)
			retries = 0
			continue
		}
		if n := e.overflow.pop(); n != nil {
			e.notifier.CancelWait(token)
			e.invoke(w, n)
			retries = 0
			continue
		}
		if e.stopping.Load() {
			return
		}
		e.notifier.CommitWait(token)
		retries = 0
	}
}

func (e *Executor) steal(w *worker) *node {
	n := len(e.workers)
	if n <= 1 {
		return nil
	}
	victimIdx := w.rng.Intn(n)
	if victimIdx == w.id {
		victimIdx = (victimIdx + 1) % n
	}
	victim := e.workers[victimIdx]
	for p := 0; p < numPriorities; p++ {
		v, res := victim.queues[p].Steal()
		if res == deque.StealOK {
			return v
		}
	}
	return nil
}

// ---------------------------------------------------------------
// Scheduling primitives shared by every dispatch path
// ---------------------------------------------------------------

// scheduleLocal pushes n onto w's own deque if w is a real pool
// worker, or onto the shared overflow queue when called from a corun
// helper or any other non-pool goroutine (w == nil). It increments
// the owning topology's live counter, since live tracks outstanding
// dispatches rather than node count, and always wakes a parked worker
// — a node pushed onto any queue, local or shared, needs a worker to
// notice it.
func (e *Executor) scheduleLocal(w *worker, n *node) {
	if n.topology != nil {
		n.topology.live.Add(1)
	}
	if w != nil {
		w.pushLocal(n)
	} else {
		e.overflow.push(n)
	}
	e.notifier.NotifyOne()
}

func (e *Executor) scheduleOverflow(n *node) {
	if n.topology != nil {
		n.topology.live.Add(1)
	}
	e.overflow.push(n)
	e.notifier.NotifyOne()
}

// wakeParked reschedules a node that a semaphore just handed off from
// its waiter queue. Unlike scheduleOverflow, it does not touch live:
// the node's dispatch was already counted when it was first scheduled
// and parked, never decremented while parked, so counting it again
// here would leak the topology's live count and it would never reach
// zero.
func (e *Executor) wakeParked(n *node) {
	if n.topology != nil {
		n.topology.untrackParked(n)
	}
	e.overflow.push(n)
	e.notifier.NotifyOne()
}

// cancelParked force-unparks every node of t currently waiting on a
// semaphore, so a cancelled topology doesn't wait forever on a release
// that may never come. Nodes that win the race and get handed off by a
// concurrent release instead (removeWaiter returns false) are left
// alone: they are already being rescheduled through the normal release
// path and will hit the cancelled check at the top of invoke.
func (e *Executor) cancelParked(t *Topology) {
	t.parkedMu.Lock()
	parked := t.parked
	t.parked = nil
	t.parkedMu.Unlock()
	for n, s := range parked {
		if s.removeWaiter(n) {
			e.skip(nil, n)
		}
	}
}

// activateSuccessors decrements every successor's join counter and
// schedules those that reach zero.
func (e *Executor) activateSuccessors(w *worker, n *node) {
	for _, s := range n.succ {
		if s.joinCounter.Add(-1) == 0 {
			e.scheduleLocal(w, s)
		}
	}
}

// finishNode records the completion of one dispatch: for standalone
// async nodes it decrements the executor's live-async count; for
// graph nodes it decrements the topology's live count and finalizes
// the topology once it reaches zero.
func (e *Executor) finishNode(n *node) {
	if n.topology == nil {
		if e.liveAsync.Add(-1) <= 0 {
			e.broadcastIdle()
		}
		return
	}
	if n.topology.live.Add(-1) == 0 {
		e.finalizeTopology(n.topology)
	}
}

func (e *Executor) broadcastIdle() {
	e.waitMu.Lock()
	e.waitCond.Broadcast()
	e.waitMu.Unlock()
}

// WaitForAll blocks until every live topology and every standalone
// async task has completed.
func (e *Executor) WaitForAll() {
	e.waitMu.Lock()
	for e.liveTopologies.Load() > 0 || e.liveAsync.Load() > 0 {
		e.waitCond.Wait()
	}
	e.waitMu.Unlock()
}

// ---------------------------------------------------------------
// Async submission (used by Async/SilentAsync/DependentAsync)
// ---------------------------------------------------------------

func (e *Executor) submitAsync(n *node, handle *AsyncHandle, deps []*AsyncHandle) {
	orig := n.asyncFn
	n.asyncFn = func() (any, error) {
		v, err := orig()
		handle.signal()
		return v, err
	}

	e.liveAsync.Add(1)
	submit := func() { e.scheduleOverflow(n) }
	if len(deps) == 0 {
		submit()
		return
	}
	go func() {
		for _, d := range deps {
			<-d.Done()
		}
		submit()
	}()
}

// ---------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------

func (e *Executor) invoke(w *worker, n *node) {
	if n.topology != nil && n.topology.cancelled.Load() {
		e.skip(w, n)
		return
	}

	if len(n.acquire) > 0 && !e.tryAcquireAll(w, n) {
		return // parked; release() will reschedule it
	}

	switch n.kind {
	case kindStatic:
		e.invokeStatic(w, n)
	case kindSubflow:
		e.invokeSubflow(w, n)
	case kindCondition:
		e.invokeCondition(w, n)
	case kindMultiCondition:
		e.invokeMultiCondition(w, n)
	case kindModule:
		e.invokeModule(w, n)
	case kindRuntime:
		e.invokeRuntime(w, n)
	case kindAsync, kindDependentAsync:
		e.invokeAsync(n)
	default:
		panic(fmt.Sprintf("dubhe: unsupported node kind %d", n.kind))
	}

	for _, s := range n.release {
		if waiter := s.release(); waiter != nil {
			e.wakeParked(waiter)
		}
	}
}

// tryAcquireAll attempts to acquire every semaphore n.acquire lists,
// rolling back and parking on failure. A node that parks is tracked on
// its topology so a later cancellation can find and unpark it; if the
// topology was already cancelled by the time parking finished (it ran
// its own unpark sweep before this node registered), the node is
// immediately pulled back out and skipped instead of waiting on a
// release that cancelParked already gave up on delivering.
func (e *Executor) tryAcquireAll(w *worker, n *node) bool {
	acquired := make([]*Semaphore, 0, len(n.acquire))
	for _, s := range n.acquire {
		if s.tryAcquire(n) {
			acquired = append(acquired, s)
			continue
		}
		for _, a := range acquired {
			if waiter := a.release(); waiter != nil {
				e.wakeParked(waiter)
			}
		}
		if n.topology != nil {
			n.topology.trackParked(n, s)
			if n.topology.cancelled.Load() && s.removeWaiter(n) {
				n.topology.untrackParked(n)
				e.skip(w, n)
			}
		}
		return false
	}
	return true
}

// skip handles a cancelled topology's not-yet-started node as if it
// had completed instantly. Static/Subflow/Module/Runtime successors
// are still join-counted down so the topology drains rapidly;
// Condition/MultiCondition successors are never join-counted in the
// first place (activation is explicit branch selection), so skipping
// one touches no successor — it simply stops the branch from ever
// firing again, which is what lets a cancelled self-looping condition
// node actually finalize instead of looping forever.
func (e *Executor) skip(w *worker, n *node) {
	if n.kind != kindCondition && n.kind != kindMultiCondition {
		e.activateSuccessors(w, n)
	}
	e.finishNode(n)
}

func (e *Executor) runCallable(w *worker, n *node, fn func() error) (err error) {
	if !e.propagatePanics {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dubhe: task %q panicked: %v", n.name, r)
			}
		}()
	}
	for _, ob := range e.observers {
		ob.OnEntry(workerID(w), n.name)
	}
	defer func() {
		for _, ob := range e.observers {
			ob.OnExit(workerID(w), n.name)
		}
	}()
	return fn()
}

func (e *Executor) invokeStatic(w *worker, n *node) {
	if err := e.runCallable(w, n, n.staticFn); err != nil {
		n.topology.fail(err)
	}
	e.activateSuccessors(w, n)
	e.finishNode(n)
}

func (e *Executor) invokeCondition(w *worker, n *node) {
	var choice int
	err := e.runCallable(w, n, func() error {
		choice = n.conditionFn()
		return nil
	})
	if err != nil {
		n.topology.fail(err)
		e.finishNode(n)
		return
	}
	if choice < 0 || choice >= len(n.succ) {
		panic(fmt.Sprintf("dubhe: condition task %q returned out-of-range successor %d of %d", n.name, choice, len(n.succ)))
	}
	e.scheduleLocal(w, n.succ[choice])
	e.finishNode(n)
}

func (e *Executor) invokeMultiCondition(w *worker, n *node) {
	var choices []int
	err := e.runCallable(w, n, func() error {
		choices = n.multiCondFn()
		return nil
	})
	if err != nil {
		n.topology.fail(err)
		e.finishNode(n)
		return
	}
	for _, c := range choices {
		if c < 0 || c >= len(n.succ) {
			panic(fmt.Sprintf("dubhe: multi-condition task %q returned out-of-range successor %d of %d", n.name, c, len(n.succ)))
		}
		e.scheduleLocal(w, n.succ[c])
	}
	e.finishNode(n)
}

func (e *Executor) invokeModule(w *worker, n *node) {
	sub := newTopology(e, n.module)
	e.liveTopologies.Add(1)
	e.seedRound(n.module, sub)
	e.runInline(sub)
	e.liveTopologies.Add(-1)
	e.broadcastIdle()
	if err := sub.Err(); err != nil {
		n.topology.fail(err)
	}
	e.activateSuccessors(w, n)
	e.finishNode(n)
}

func (e *Executor) invokeSubflow(w *worker, n *node) {
	sb := &Subflow{node: n, graph: NewGraph(n.name + ".subflow")}
	err := e.runCallable(w, n, func() error {
		n.subflowFn(sb)
		return nil
	})
	if err != nil {
		n.topology.fail(err)
		e.finishNode(n)
		return
	}

	if !sb.graph.Empty() {
		sub := newTopology(e, sb.graph)
		e.liveTopologies.Add(1)
		e.seedRound(sb.graph, sub)
		if sb.detached {
			go func() {
				<-sub.done
				e.liveTopologies.Add(-1)
				e.broadcastIdle()
			}()
		} else {
			e.runInline(sub)
			e.liveTopologies.Add(-1)
			e.broadcastIdle()
			if sErr := sub.Err(); sErr != nil {
				n.topology.fail(sErr)
			}
		}
	}

	e.activateSuccessors(w, n)
	e.finishNode(n)
}

func (e *Executor) invokeRuntime(w *worker, n *node) {
	rt := &RuntimeHandle{worker: w, executor: e, node: n}
	err := e.runCallable(w, n, func() error {
		n.runtimeFn(rt)
		return nil
	})
	if err != nil {
		n.topology.fail(err)
	}
	e.activateSuccessors(w, n)
	e.finishNode(n)
}

func (e *Executor) invokeAsync(n *node) {
	_, _ = n.asyncFn()
	e.finishNode(n)
}
