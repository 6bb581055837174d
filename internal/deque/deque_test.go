package deque

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DequeTestSuite struct {
	suite.Suite
}

func TestDequeTestSuite(t *testing.T) {
	suite.Run(t, new(DequeTestSuite))
}

func (ts *DequeTestSuite) TestPushPopLIFO() {
	d := New[int](4)
	d.Push(ptr(1))
	d.Push(ptr(2))
	d.Push(ptr(3))

	ts.Equal(3, *d.Pop())
	ts.Equal(2, *d.Pop())
	ts.Equal(1, *d.Pop())
	ts.Nil(d.Pop())
}

func (ts *DequeTestSuite) TestStealFIFO() {
	d := New[int](4)
	d.Push(ptr(1))
	d.Push(ptr(2))
	d.Push(ptr(3))

	v, res := d.Steal()
	ts.Equal(StealOK, res)
	ts.Equal(1, *v)
}

func (ts *DequeTestSuite) TestStealEmpty() {
	d := New[int](4)
	_, res := d.Steal()
	ts.Equal(StealEmpty, res)
}

func (ts *DequeTestSuite) TestGrowsPastInitialCapacity() {
	d := New[int](2)
	for i := 0; i < 100; i++ {
		d.Push(ptr(i))
	}
	count := 0
	for d.Pop() != nil {
		count++
	}
	ts.Equal(100, count)
}

func (ts *DequeTestSuite) TestEmpty() {
	d := New[int](4)
	ts.True(d.Empty())
	d.Push(ptr(1))
	ts.False(d.Empty())
}

// TestConcurrentOwnerAndStealers exercises the deque the way the
// executor does: one owner pushing/popping while several stealers
// race for the same items. Every pushed item must be observed exactly
// once, by either the owner or a stealer.
func (ts *DequeTestSuite) TestConcurrentOwnerAndStealers() {
	const n = 20000
	d := New[int](16)

	var seenMu sync.Mutex
	seen := make(map[int]int)
	record := func(v int) {
		seenMu.Lock()
		seen[v]++
		seenMu.Unlock()
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					if v, res := d.Steal(); res == StealOK {
						record(*v)
					}
					return
				default:
				}
				if v, res := d.Steal(); res == StealOK {
					record(*v)
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		d.Push(ptr(i))
		if v := d.Pop(); v != nil {
			record(*v)
		}
	}
	for {
		v := d.Pop()
		if v == nil {
			break
		}
		record(*v)
	}
	close(stop)
	wg.Wait()

	total := 0
	for _, c := range seen {
		ts.Equal(1, c)
		total += c
	}
	ts.Equal(n, total)
}

func ptr[T any](v T) *T { return &v }
