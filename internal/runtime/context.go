// Package runtime implements the worker-side execution model: per-thread
// worker contexts holding a local buffer sub-pool, an MPMC task queue
// feeding a fixed pool of worker goroutines, and the pipeline execution
// context a compiled stage runs under.
package runtime

import (
	"sync/atomic"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/telemetry"
)

// WorkerContext is the per-thread state a pipeline stage executes under:
// its own buffer sub-pool (avoiding lock contention on the global pool's
// free list for the common single-buffer-at-a-time case) and a thread id
// used to key per-thread shards in window/join chained maps.
type WorkerContext struct {
	ThreadID int
	Local    *buffer.LocalPool
	sink     *telemetry.Sink

	tasksProcessed atomic.Uint64
}

// NewWorkerContext reserves reservedBuffers from global up front into a
// local sub-pool for threadID.
func NewWorkerContext(threadID int, global *buffer.Pool, reservedBuffers int, sink *telemetry.Sink) (*WorkerContext, error) {
	local, err := buffer.NewLocalPool(global, reservedBuffers)
	if err != nil {
		return nil, err
	}
	return &WorkerContext{
		ThreadID: threadID,
		Local:    local,
		sink:     sink,
	}, nil
}

// RecordTaskProcessed increments this thread's task counter.
func (wc *WorkerContext) RecordTaskProcessed() { wc.tasksProcessed.Add(1) }

// TasksProcessed returns the number of tasks this thread has completed.
func (wc *WorkerContext) TasksProcessed() uint64 { return wc.tasksProcessed.Load() }

// Close returns every buffer this context's local pool is still holding to
// the global pool.
func (wc *WorkerContext) Close() { wc.Local.Close() }
