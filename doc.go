// Package dubhe is a task-graph execution engine: it lets callers
// express a computation as a directed acyclic graph of heterogeneous
// tasks and run it in parallel on a fixed pool of worker goroutines.
//
// The graph model (Graph, Task, Semaphore) sits on top of a
// work-stealing Executor: each worker owns a per-priority set of
// deques, steals from peers when idle, and falls back to a shared
// overflow queue before parking on a Notifier. On top of the executor
// sits the pipeline scheduler (see the pipeline subpackage), a token
// scheduler for sliding-window line/pipe processing.
package dubhe
