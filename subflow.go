package dubhe

// Subflow is handed to a Subflow task's callable to build a nested
// graph spawned at runtime. By default the parent node waits (joins)
// for every spawned child before its own completion triggers its
// successors; Detach releases the parent from waiting, letting the
// children run as a separate nested topology that the enclosing
// topology does not wait for. At most one of Join/Detach may be
// called, once.
type Subflow struct {
	node     *node
	graph    *Graph
	detached bool
	joined   bool
}

// Emplace creates Static tasks in the subflow's nested graph.
func (sb *Subflow) Emplace(fns ...func()) []Task { return sb.graph.Emplace(fns...) }

// EmplaceErr creates a fallible Static task in the nested graph.
func (sb *Subflow) EmplaceErr(fn func() error) Task { return sb.graph.EmplaceErr(fn) }

// EmplaceSubflow nests another subflow inside this one.
func (sb *Subflow) EmplaceSubflow(fn func(*Subflow)) Task { return sb.graph.EmplaceSubflow(fn) }

// EmplaceCondition creates a Condition task in the nested graph.
func (sb *Subflow) EmplaceCondition(fn func() int) Task { return sb.graph.EmplaceCondition(fn) }

// Placeholder creates a no-op synchronization point in the nested
// graph.
func (sb *Subflow) Placeholder() Task { return sb.graph.Placeholder() }

// SilentAsync schedules fn as a child of the subflow without a
// result future.
func (sb *Subflow) SilentAsync(fn func()) Task {
	return sb.graph.EmplaceErr(func() error { fn(); return nil })
}

// Join marks the subflow as joined. It does not block by itself: the
// children start only after the subflow's callable returns, and the
// parent task then waits for all of them before its successors are
// activated. This is the default if neither Join nor Detach is called.
func (sb *Subflow) Join() {
	if sb.detached || sb.joined {
		panic(ErrDoubleJoin)
	}
	sb.joined = true
}

// Detach releases the parent from waiting on its children; they run
// as a separate nested topology, so the enclosing topology can
// finalize (and its Future return) while they are still running.
// Executor.WaitForAll still waits for them.
func (sb *Subflow) Detach() {
	if sb.joined || sb.detached {
		panic(ErrDoubleJoin)
	}
	sb.detached = true
}
