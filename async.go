package dubhe

import "sync"

// AsyncHandle identifies an individually-scheduled async task for use
// as a dependency of further DependentAsync calls. It keeps no count
// of its dependents; each dependent waits on the Done channel of every
// AsyncHandle it references and becomes ready once all are closed.
type AsyncHandle struct {
	mu   sync.Mutex
	done bool
	ch   chan struct{}
}

func newAsyncHandle() *AsyncHandle {
	return &AsyncHandle{ch: make(chan struct{})}
}

func (h *AsyncHandle) signal() {
	h.mu.Lock()
	if !h.done {
		h.done = true
		close(h.ch)
	}
	h.mu.Unlock()
}

// Done returns a channel closed once the async task completes.
func (h *AsyncHandle) Done() <-chan struct{} { return h.ch }

// AsyncFuture is a typed handle to an Async/DependentAsync call's
// eventual result.
type AsyncFuture[T any] struct {
	handle *AsyncHandle
	value  T
	err    error
}

// Get blocks until the async task completes and returns its result.
func (f *AsyncFuture[T]) Get() (T, error) {
	<-f.handle.ch
	return f.value, f.err
}

// Wait blocks until the async task completes, discarding its result.
func (f *AsyncFuture[T]) Wait() { <-f.handle.ch }

// Async schedules fn directly on the executor, outside of any graph,
// and returns a handle future of its result.
func Async[T any](e *Executor, fn func() (T, error)) (*AsyncHandle, *AsyncFuture[T]) {
	return DependentAsync(e, fn)
}

// SilentAsync schedules fn directly on the executor without a future,
// for lower overhead when the result isn't needed.
func SilentAsync(e *Executor, fn func()) *AsyncHandle {
	return SilentDependentAsync(e, fn)
}

// DependentAsync schedules fn once every AsyncHandle in deps has
// completed; the returned handle can itself be a dependency for
// further calls.
func DependentAsync[T any](e *Executor, fn func() (T, error), deps ...*AsyncHandle) (*AsyncHandle, *AsyncFuture[T]) {
	handle := newAsyncHandle()
	future := &AsyncFuture[T]{handle: handle}
	n := newNode("", kindDependentAsync)
	n.asyncFn = func() (any, error) {
		v, err := fn()
		future.value = v
		future.err = err
		return v, err
	}
	e.submitAsync(n, handle, deps)
	return handle, future
}

// SilentDependentAsync is DependentAsync without a result future.
func SilentDependentAsync(e *Executor, fn func(), deps ...*AsyncHandle) *AsyncHandle {
	handle := newAsyncHandle()
	n := newNode("", kindDependentAsync)
	n.asyncFn = func() (any, error) { fn(); return nil, nil }
	e.submitAsync(n, handle, deps)
	return handle
}
