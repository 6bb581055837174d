package dubhe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ExecutorTestSuite struct {
	suite.Suite
}

func TestExecutorTestSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}

func (ts *ExecutorTestSuite) TestHundredIndependentTasksIncrementCounter() {
	e := NewExecutor(4)
	defer e.Close()

	var counter atomic.Int64
	g := NewGraph("counter")
	fns := make([]func(), 100)
	for i := range fns {
		fns[i] = func() { counter.Add(1) }
	}
	g.Emplace(fns...)

	ts.NoError(e.Run(g).Get())
	ts.EqualValues(100, counter.Load())
}

func (ts *ExecutorTestSuite) TestEmptyGraphFinishesImmediately() {
	e := NewExecutor(2)
	defer e.Close()

	g := NewGraph("empty")
	done := make(chan error, 1)
	go func() { done <- e.Run(g).Get() }()

	select {
	case err := <-done:
		ts.NoError(err)
	case <-time.After(time.Second):
		ts.Fail("empty graph never finalized")
	}
}

func (ts *ExecutorTestSuite) TestSingleWorkerHonorsPriorityAmongReadySuccessors() {
	e := NewExecutor(1)
	defer e.Close()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	g := NewGraph("diamond")
	a := g.EmplaceErr(func() error { record("A"); return nil })
	b := g.EmplaceErr(func() error { record("B"); return nil }).SetPriority(High)
	c := g.EmplaceErr(func() error { record("C"); return nil }).SetPriority(Normal)
	d := g.EmplaceErr(func() error { record("D"); return nil }).SetPriority(Low)
	end := g.EmplaceErr(func() error { record("E"); return nil })
	a.Precede(b, c, d)
	b.Precede(end)
	c.Precede(end)
	d.Precede(end)

	ts.NoError(e.Run(g).Get())
	ts.Equal([]string{"A", "B", "C", "D", "E"}, order)
}

func (ts *ExecutorTestSuite) TestCriticalSectionSerializesAccess() {
	e := NewExecutor(4)
	defer e.Close()

	cs := NewCriticalSection(1)
	var counter atomic.Int64
	var current atomic.Int64
	var peak atomic.Int64

	g := NewGraph("critical")
	fns := make([]func(), 1000)
	for i := range fns {
		fns[i] = func() {
			c := current.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			counter.Add(1)
			current.Add(-1)
		}
	}
	tasks := g.Emplace(fns...)
	cs.Add(tasks...)

	ts.NoError(e.Run(g).Get())
	ts.EqualValues(1000, counter.Load())
	ts.EqualValues(1, peak.Load())
}

func (ts *ExecutorTestSuite) TestNestedFibonacciViaSubflow() {
	e := NewExecutor(4)
	defer e.Close()

	var build func(sb *Subflow, n int, result *int)
	build = func(sb *Subflow, n int, result *int) {
		if n < 2 {
			*result = n
			return
		}
		var left, right int
		t1 := sb.EmplaceSubflow(func(child *Subflow) { build(child, n-1, &left) })
		t2 := sb.EmplaceSubflow(func(child *Subflow) { build(child, n-2, &right) })
		sum := sb.EmplaceErr(func() error { *result = left + right; return nil })
		t1.Precede(sum)
		t2.Precede(sum)
	}

	result := 0
	g := NewGraph("fib")
	g.EmplaceSubflow(func(sb *Subflow) { build(sb, 10, &result) })

	ts.NoError(e.Run(g).Get())
	ts.Equal(55, result)
}

func (ts *ExecutorTestSuite) TestDependentAsyncChainRunsInDependencyOrder() {
	e := NewExecutor(4)
	defer e.Close()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	handleA, _ := Async(e, func() (int, error) { record("A"); return 1, nil })
	handleB, _ := DependentAsync(e, func() (int, error) { record("B"); return 2, nil }, handleA)
	handleC, _ := DependentAsync(e, func() (int, error) { record("C"); return 3, nil }, handleA)
	_, futureD := DependentAsync(e, func() (int, error) { record("D"); return 4, nil }, handleB, handleC)

	v, err := futureD.Get()
	ts.NoError(err)
	ts.Equal(4, v)

	ts.Equal("D", order[len(order)-1])
	ts.Equal("A", order[0])
}

func (ts *ExecutorTestSuite) TestCancelledSleepingTasksReturnWellBeforeFullDuration() {
	e := NewExecutor(4)
	defer e.Close()

	const total = 10000
	var counter atomic.Int64
	g := NewGraph("sleepers")
	fns := make([]func(), total)
	for i := range fns {
		fns[i] = func() {
			time.Sleep(100 * time.Millisecond)
			counter.Add(1)
		}
	}
	g.Emplace(fns...)

	start := time.Now()
	future := e.Run(g)
	future.Cancel()
	ts.NoError(future.Get())
	elapsed := time.Since(start)

	ts.Less(elapsed, 2*time.Second)
	ts.Less(counter.Load(), int64(total))
}

func (ts *ExecutorTestSuite) TestSelfLoopingConditionRunsUntilCancelled() {
	e := NewExecutor(2)
	defer e.Close()

	var fires atomic.Int64
	g := NewGraph("loop")
	loop := g.EmplaceCondition(func() int {
		fires.Add(1)
		return 0
	})
	loop.Precede(loop)

	future := e.Run(g)
	time.Sleep(30 * time.Millisecond)
	ts.True(future.Cancel())
	ts.NoError(future.Get())
	ts.Greater(fires.Load(), int64(0))
}

func (ts *ExecutorTestSuite) TestCancelIsIdempotent() {
	e := NewExecutor(2)
	defer e.Close()

	g := NewGraph("loop")
	loop := g.EmplaceCondition(func() int { return 0 })
	loop.Precede(loop)

	future := e.Run(g)
	ts.True(future.Cancel())
	ts.NoError(future.Get())
	ts.False(future.Cancel())
}
