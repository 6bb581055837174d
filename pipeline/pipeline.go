// Package pipeline implements a sliding-window token scheduler laid
// over a fixed set of parallel lines. Each line carries tokens through
// the same ordered sequence of pipes; SERIAL pipes admit at most one
// line at a time and preserve token order, PARALLEL pipes admit every
// line at once.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// PipeType selects a pipe's admission discipline.
type PipeType int

const (
	// Serial pipes admit one line at a time, in strict token order.
	Serial PipeType = iota
	// Parallel pipes admit every line concurrently.
	Parallel
)

// Pipe is one stage of a Pipeline.
type Pipe struct {
	typ PipeType
	fn  func(*Pipeflow)
}

// NewPipe creates a pipe stage with the given admission discipline.
func NewPipe(typ PipeType, fn func(*Pipeflow)) Pipe {
	return Pipe{typ: typ, fn: fn}
}

// Pipeflow is handed to a pipe's callable; it carries the token's
// current position and exposes the only pipe-0 controls (Stop,
// Defer) a callable needs.
type Pipeflow struct {
	pl      *Pipeline
	token   uint64
	line    int
	pipeIdx int

	deferrals   int
	deferredOn  []uint64
	stopRequest bool
}

// Token returns the token number currently occupying this line.
func (pf *Pipeflow) Token() uint64 { return pf.token }

// Line returns the line index running this callable.
func (pf *Pipeflow) Line() int { return pf.line }

// Pipe returns the index of the pipe currently executing.
func (pf *Pipeflow) Pipe() int { return pf.pipeIdx }

// NumDeferrals returns how many times this token has been deferred
// and re-presented to pipe 0.
func (pf *Pipeflow) NumDeferrals() int { return pf.deferrals }

// Stop ends token generation at the current token, which is discarded
// without reaching the remaining pipes. Valid only from
// pipe 0; calling it elsewhere is a contract violation left
// unguarded rather than checked on every call's hot path.
func (pf *Pipeflow) Stop() { pf.stopRequest = true }

// Defer records that this token may not leave pipe 0 until other has
// fully traversed the pipeline. Valid only from pipe 0.
func (pf *Pipeflow) Defer(other uint64) {
	pf.deferredOn = append(pf.deferredOn, other)
}

// GetData returns this line's data slot, used by TypedPipe to thread
// typed values between stages.
func (pf *Pipeflow) GetData() any { return pf.pl.getData(pf.line) }

// SetData sets this line's data slot.
func (pf *Pipeflow) SetData(v any) { pf.pl.setData(pf.line, v) }

// serialGate coordinates admission into one SERIAL pipe: only the
// line holding the matching nextToken may enter, and only one line at
// a time.
type serialGate struct {
	occupied  bool
	nextToken uint64
}

// Pipeline runs lines tokens through pipes pipes, round-robin
// assigning token t to line t%len(lines).
type Pipeline struct {
	pipes []Pipe
	lines int

	data []any

	mu          sync.Mutex
	cond        *sync.Cond
	gates       []serialGate // one entry per pipe, meaningful only for Serial pipes
	completed   map[uint64]bool
	deferWaitOn map[uint64][]uint64 // token -> unmet dependencies

	stopped   atomic.Bool
	stopToken atomic.Uint64

	startTok atomic.Uint64 // first token number Run generates; never set, so every Run starts at zero (ScalablePipeline.Reset replaces the whole Pipeline)
}

// New creates a pipeline with the given line count and pipe sequence.
func New(lines int, pipes ...Pipe) *Pipeline {
	p := &Pipeline{
		pipes:     pipes,
		lines:     lines,
		data:      make([]any, lines),
		gates:     make([]serialGate, len(pipes)),
		completed: make(map[uint64]bool),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *Pipeline) getData(line int) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data[line]
}

func (p *Pipeline) setData(line int, v any) {
	p.mu.Lock()
	p.data[line] = v
	p.mu.Unlock()
}

// NumLines returns the pipeline's line count.
func (p *Pipeline) NumLines() int { return p.lines }

// NumPipes returns the pipeline's pipe count.
func (p *Pipeline) NumPipes() int { return len(p.pipes) }

// Run drives every line until a pipe-0 callable calls Stop, blocking
// until all lines finish the token generation they already started.
// Each line runs on its own goroutine via errgroup, the same pattern
// the executor uses for its worker pool. The only error returned is
// the context's, when ctx is done before a line finishes.
func (p *Pipeline) Run(ctx context.Context) error {
	start := p.startTok.Load()
	p.stopped.Store(false)
	p.stopToken.Store(^uint64(0))
	for i := range p.gates {
		p.gates[i] = serialGate{nextToken: start}
	}
	p.completed = make(map[uint64]bool)
	p.deferWaitOn = make(map[uint64][]uint64)

	g, ctx := errgroup.WithContext(ctx)
	for line := 0; line < p.lines; line++ {
		line := line
		g.Go(func() error { return p.runLine(ctx, line, start) })
	}
	return g.Wait()
}

func (p *Pipeline) runLine(ctx context.Context, line int, start uint64) error {
	tok := start + uint64(line)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if p.stopped.Load() && tok >= p.stopToken.Load() {
			return nil
		}

		pf := &Pipeflow{pl: p, token: tok, line: line}
		aborted := false
		for idx := 0; idx < len(p.pipes); idx++ {
			pipe := p.pipes[idx]
			pf.pipeIdx = idx
			if pipe.typ == Serial {
				p.enterSerial(idx, tok)
			}
			// A later token may already have been waiting at pipe 0
			// when an earlier token called Stop; it is dropped here.
			if idx == 0 && p.stopped.Load() && tok >= p.stopToken.Load() {
				if pipe.typ == Serial {
					p.leaveSerial(0, tok)
				}
				return nil
			}
			pipe.fn(pf)

			if idx == 0 {
				if waiting := p.unmetDeps(pf.deferredOn); len(waiting) > 0 {
					p.leaveSerialNoAdvance(0)
					p.parkForDeps(tok, waiting)
					pf.deferrals++
					pf.deferredOn = nil
					idx = -1 // restart the pipe loop at pipe 0 (becomes 0 after idx++)
					continue
				}
				if pf.stopRequest {
					p.stopToken.Store(tok)
					p.stopped.Store(true)
				}
			}

			if pipe.typ == Serial {
				p.leaveSerial(idx, tok)
			}

			// A token that stops pipe 0 never reaches the remaining
			// pipes: it is discarded in place, and generation of every
			// later token (on any line) stops with it.
			if pf.stopRequest {
				aborted = true
				break
			}
		}

		if aborted {
			return nil
		}
		p.markCompleted(tok)
		tok += uint64(p.lines)
	}
}

func (p *Pipeline) enterSerial(pipeIdx int, tok uint64) {
	p.mu.Lock()
	for p.gates[pipeIdx].occupied || p.gates[pipeIdx].nextToken != tok {
		p.cond.Wait()
	}
	p.gates[pipeIdx].occupied = true
	p.mu.Unlock()
}

func (p *Pipeline) leaveSerial(pipeIdx int, tok uint64) {
	p.mu.Lock()
	p.gates[pipeIdx].occupied = false
	p.gates[pipeIdx].nextToken = tok + 1
	p.mu.Unlock()
	p.cond.Broadcast()
}

// leaveSerialNoAdvance releases a SERIAL pipe without admitting the
// next token in order: used when a token defers at pipe 0 and must
// retry at the same position once its dependency completes.
func (p *Pipeline) leaveSerialNoAdvance(pipeIdx int) {
	p.mu.Lock()
	p.gates[pipeIdx].occupied = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pipeline) unmetDeps(deps []uint64) []uint64 {
	if len(deps) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var unmet []uint64
	for _, d := range deps {
		if !p.completed[d] {
			unmet = append(unmet, d)
		}
	}
	return unmet
}

func (p *Pipeline) parkForDeps(tok uint64, deps []uint64) {
	p.mu.Lock()
	p.deferWaitOn[tok] = deps
	for {
		allDone := true
		for _, d := range p.deferWaitOn[tok] {
			if !p.completed[d] {
				allDone = false
				break
			}
		}
		if allDone {
			delete(p.deferWaitOn, tok)
			p.mu.Unlock()
			return
		}
		p.cond.Wait()
	}
}

func (p *Pipeline) markCompleted(tok uint64) {
	p.mu.Lock()
	p.completed[tok] = true
	p.mu.Unlock()
	p.cond.Broadcast()
}
