package pipeline

// ScalablePipeline wraps a Pipeline with the ability to swap its
// active pipe range and restart token numbering between runs, for
// callers that reuse one line/worker allocation across differently
// shaped workloads.
type ScalablePipeline struct {
	*Pipeline
	all []Pipe
}

// NewScalable creates a scalable pipeline over the full pipe set,
// active from the start.
func NewScalable(lines int, pipes ...Pipe) *ScalablePipeline {
	sp := &ScalablePipeline{all: pipes}
	sp.Pipeline = New(lines, pipes...)
	return sp
}

// Reset swaps the active pipe range to all[begin:end] and restarts
// token numbering at zero.
func (sp *ScalablePipeline) Reset(begin, end int) {
	active := sp.all[begin:end]
	lines := sp.Pipeline.lines
	sp.Pipeline = New(lines, active...)
}
