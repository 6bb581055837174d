package dubhe

import "sync"

// Semaphore is a counting semaphore that gates admission of tasks
// into the executor. acquire either decrements the count immediately
// or parks the node in the waiter queue; release always gives the
// count back and, if a waiter is parked, pops and returns it (FIFO) so
// the caller can reschedule it to re-acquire normally. The woken node
// is not handed the permit directly: it competes for the count like
// any other acquirer, so count always reflects the true number of
// free units and a woken waiter that re-parks still observes a
// consistent count.
//
// Waiter-queue manipulation crosses the count and the queue together,
// so a single mutex protects both fields.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters []*node
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(count int) *Semaphore {
	return &Semaphore{count: count}
}

// Count returns the semaphore's current count.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// tryAcquire decrements the count and returns true, or parks n in the
// waiter queue and returns false.
func (s *Semaphore) tryAcquire(n *node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	s.waiters = append(s.waiters, n)
	return false
}

// release always gives the unit of concurrency back to count; if a
// waiter is parked it additionally pops the first one (FIFO) and
// returns it so the caller can reschedule it to re-acquire.
func (s *Semaphore) release() *node {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if len(s.waiters) > 0 {
		n := s.waiters[0]
		s.waiters = s.waiters[1:]
		return n
	}
	return nil
}

// removeWaiter removes n from the waiter queue if it is still parked
// there, reporting whether it was found. Used to unpark a node whose
// topology was cancelled before its turn came up.
func (s *Semaphore) removeWaiter(n *node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == n {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// CriticalSection is a Semaphore specialized to serialize a fixed set
// of tasks: Add attaches the same acquire/release pair to every task
// so callers never call Task.Acquire/Release by hand.
type CriticalSection struct {
	*Semaphore
}

// NewCriticalSection creates a critical section admitting at most
// maxWorkers tasks concurrently (default 1).
func NewCriticalSection(maxWorkers int) *CriticalSection {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &CriticalSection{Semaphore: NewSemaphore(maxWorkers)}
}

// Add attaches this critical section's acquire and release to every
// task given.
func (c *CriticalSection) Add(tasks ...Task) {
	for _, t := range tasks {
		t.Acquire(c.Semaphore)
		t.Release(c.Semaphore)
	}
}
