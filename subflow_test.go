package dubhe

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"
)

type SubflowTestSuite struct {
	suite.Suite
}

func TestSubflowTestSuite(t *testing.T) {
	suite.Run(t, new(SubflowTestSuite))
}

func (ts *SubflowTestSuite) TestJoinedSubflowCompletesBeforeItsSuccessorRuns() {
	e := NewExecutor(4)
	defer e.Close()

	var childRan atomic.Bool
	var successorSawChild atomic.Bool

	g := NewGraph("g")
	sf := g.EmplaceSubflow(func(sb *Subflow) {
		sb.Emplace(func() { childRan.Store(true) })
		sb.Join()
	})
	after := g.EmplaceErr(func() error {
		successorSawChild.Store(childRan.Load())
		return nil
	})
	sf.Precede(after)

	ts.NoError(e.Run(g).Get())
	ts.True(successorSawChild.Load())
}

func (ts *SubflowTestSuite) TestDetachedSubflowLetsParentFinishWithoutWaiting() {
	e := NewExecutor(4)
	defer e.Close()

	childStarted := make(chan struct{})
	releaseChild := make(chan struct{})
	var childFinished atomic.Bool

	g := NewGraph("g")
	g.EmplaceSubflow(func(sb *Subflow) {
		sb.Emplace(func() {
			close(childStarted)
			<-releaseChild
			childFinished.Store(true)
		})
		sb.Detach()
	})

	f := e.Run(g)
	ts.NoError(f.Get())
	// The parent topology finalized without waiting for the detached
	// child, which may still be running.
	ts.False(childFinished.Load())

	<-childStarted
	close(releaseChild)
	e.WaitForAll()
	ts.True(childFinished.Load())
}

func (ts *SubflowTestSuite) TestJoinThenDetachPanics() {
	sb := &Subflow{}
	sb.Join()
	ts.PanicsWithValue(ErrDoubleJoin, func() { sb.Detach() })
}

func (ts *SubflowTestSuite) TestDetachThenJoinPanics() {
	sb := &Subflow{}
	sb.Detach()
	ts.PanicsWithValue(ErrDoubleJoin, func() { sb.Join() })
}

func (ts *SubflowTestSuite) TestEmptySubflowGraphSpawnsNoNestedTopology() {
	e := NewExecutor(2)
	defer e.Close()

	var ran atomic.Bool
	g := NewGraph("g")
	g.EmplaceSubflow(func(sb *Subflow) {
		ran.Store(true)
		// No tasks added: the subflow's nested graph stays empty.
	})

	ts.NoError(e.Run(g).Get())
	ts.True(ran.Load())
}
