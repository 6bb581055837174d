package dubhe

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type SemaphoreTestSuite struct {
	suite.Suite
}

func TestSemaphoreTestSuite(t *testing.T) {
	suite.Run(t, new(SemaphoreTestSuite))
}

func (ts *SemaphoreTestSuite) TestTryAcquireRelease() {
	s := NewSemaphore(1)
	ts.Equal(1, s.Count())

	n1 := newNode("a", kindStatic)
	ts.True(s.tryAcquire(n1))
	ts.Equal(0, s.Count())

	n2 := newNode("b", kindStatic)
	ts.False(s.tryAcquire(n2)) // parked, no capacity

	woken := s.release()
	ts.Same(n2, woken)     // pops the waiter so the caller can reschedule it
	ts.Equal(1, s.Count()) // count is given back, not held for the waiter

	ts.Nil(s.release())
	ts.Equal(2, s.Count())
}

func (ts *SemaphoreTestSuite) TestRemoveWaiterDropsAParkedNode() {
	s := NewSemaphore(0)
	n := newNode("a", kindStatic)
	ts.False(s.tryAcquire(n))

	ts.True(s.removeWaiter(n))
	ts.False(s.removeWaiter(n)) // already removed

	ts.Nil(s.release())
	ts.Equal(1, s.Count())
}

func (ts *SemaphoreTestSuite) TestCriticalSectionAddAttachesSamePair() {
	cs := NewCriticalSection(1)
	tasks := []Task{{n: newNode("a", kindStatic)}, {n: newNode("b", kindStatic)}}
	cs.Add(tasks...)

	for _, t := range tasks {
		ts.Len(t.n.acquire, 1)
		ts.Len(t.n.release, 1)
		ts.Same(cs.Semaphore, t.n.acquire[0])
		ts.Same(cs.Semaphore, t.n.release[0])
	}
}

func (ts *SemaphoreTestSuite) TestNewCriticalSectionDefaultsToOne() {
	cs := NewCriticalSection(0)
	ts.Equal(1, cs.Count())
}
