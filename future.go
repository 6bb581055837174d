package dubhe

import (
	"context"
	"time"
)

// Future is a handle to a submitted topology's completion.
type Future struct {
	topology *Topology
	consumed bool
}

// Valid reports whether this Future refers to a real topology.
func (f *Future) Valid() bool { return f != nil && f.topology != nil }

// Get blocks until the topology finalizes and returns its captured
// failure, if any. Cancellation without a captured failure is not an
// error: Get returns nil. Calling Get on an invalid or
// already-consumed future is a programmer error.
func (f *Future) Get() error {
	if !f.Valid() || f.consumed {
		return ErrInvalidFuture
	}
	f.consumed = true
	<-f.topology.done
	return f.topology.Err()
}

// Wait blocks until the topology finalizes, discarding any error.
func (f *Future) Wait() {
	if !f.Valid() {
		return
	}
	<-f.topology.done
}

// WaitFor blocks until the topology finalizes or the duration
// elapses, returning true if it finalized in time. It never cancels
// the topology.
func (f *Future) WaitFor(d time.Duration) bool {
	if !f.Valid() {
		return true
	}
	select {
	case <-f.topology.done:
		return true
	case <-time.After(d):
		return false
	}
}

// WaitContext blocks until the topology finalizes or ctx is done.
func (f *Future) WaitContext(ctx context.Context) error {
	if !f.Valid() {
		return nil
	}
	select {
	case <-f.topology.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cooperative cancellation of the topology: tasks
// that have not yet started are skipped as soon as a worker dispatches
// them; tasks already running continue to completion. Tasks already
// parked on a semaphore are unparked and skipped immediately rather
// than waiting for a release that may never come. Idempotent; returns
// false if the future is invalid or the topology already finalized.
func (f *Future) Cancel() bool {
	if !f.Valid() {
		return false
	}
	select {
	case <-f.topology.done:
		return false
	default:
	}
	f.topology.cancelled.Store(true)
	f.topology.executor.cancelParked(f.topology)
	return true
}
