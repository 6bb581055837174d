package dubhe

// RuntimeHandle is handed to a Runtime task's callable. It provides
// the escape hatch for patterns the static graph cannot express:
// Schedule forces a named task to run even if its declared
// dependencies have not all completed. This is unsafe for general use
// — the target's predecessors may still be running or not yet
// scheduled at all — and is documented as such rather than guarded.
type RuntimeHandle struct {
	worker   *worker
	executor *Executor
	node     *node
}

// Schedule forcibly enqueues t, bypassing its join counter.
func (rt *RuntimeHandle) Schedule(t Task) {
	rt.executor.scheduleLocal(rt.worker, t.n)
}

// Corun runs g to completion on the calling worker, the same way
// Executor.Corun does, without spawning a new OS thread.
func (rt *RuntimeHandle) Corun(g *Graph) error {
	return rt.executor.Corun(g)
}
