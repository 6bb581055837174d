package pipeline

// TypedPipe builds a pipe stage that reads the previous stage's
// output from its line's data slot and writes its own output back,
// giving pipes a typed In/Out signature instead of manual Pipeflow
// data-slot bookkeeping. The first pipe in a chain (pipeIdx 0) is
// invoked with the zero value of In, since there is no previous
// stage's output to read.
func TypedPipe[In, Out any](typ PipeType, fn func(*Pipeflow, In) Out) Pipe {
	return NewPipe(typ, func(pf *Pipeflow) {
		var in In
		if pf.Pipe() > 0 {
			in, _ = pf.GetData().(In)
		}
		out := fn(pf, in)
		pf.SetData(out)
	})
}

// DataPipeline is a Pipeline whose stages are built with TypedPipe,
// carrying data between pipes in per-line slots instead of requiring
// callables to manage external buffers.
type DataPipeline struct {
	*Pipeline
}

// NewDataPipeline creates a data pipeline; pipes should be built with
// TypedPipe.
func NewDataPipeline(lines int, pipes ...Pipe) *DataPipeline {
	return &DataPipeline{Pipeline: New(lines, pipes...)}
}

// ScalableDataPipeline combines ScalablePipeline's pipe-range reset
// with DataPipeline's typed per-line data slots.
type ScalableDataPipeline struct {
	*ScalablePipeline
}

// NewScalableDataPipeline creates a scalable data pipeline; pipes
// should be built with TypedPipe.
func NewScalableDataPipeline(lines int, pipes ...Pipe) *ScalableDataPipeline {
	return &ScalableDataPipeline{ScalablePipeline: NewScalable(lines, pipes...)}
}
