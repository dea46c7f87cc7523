package runtime

import (
	"context"
	"sync"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
)

// Task is one unit of work handed to a worker thread: run one pipeline
// stage over one input buffer.
type Task struct {
	Stage PipelineStage
	Buf   buffer.TupleBuffer
}

// TaskQueue is a bounded MPMC queue of Tasks feeding a fixed pool of
// worker goroutines, grounded on other_examples' streaming.Pool
// (fixed-size goroutine fan-out reading from a shared channel, context-
// cancellable, WaitGroup-joined shutdown) generalized from a single
// processor function to dispatching on each task's own PipelineStage.
type TaskQueue struct {
	tasks chan Task
	wg    sync.WaitGroup
}

// NewTaskQueue creates a queue with the given channel capacity.
func NewTaskQueue(capacity int) *TaskQueue {
	return &TaskQueue{tasks: make(chan Task, capacity)}
}

// Submit enqueues a task, blocking if the queue is full, or returns
// ctx.Err() if ctx is cancelled first.
func (q *TaskQueue) Submit(ctx context.Context, t Task) error {
	select {
	case q.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of tasks currently queued, for telemetry.
func (q *TaskQueue) Depth() int { return len(q.tasks) }

// Run starts numWorkers goroutines, each pulling from the queue and
// executing tasks against its own WorkerContext until ctx is cancelled or
// the queue is closed and drained. Blocks until every worker has exited.
func (q *TaskQueue) Run(ctx context.Context, contexts []*WorkerContext, onError func(threadID int, err error)) {
	for i, wc := range contexts {
		q.wg.Add(1)
		go func(threadID int, wc *WorkerContext) {
			defer q.wg.Done()
			q.worker(ctx, threadID, wc, onError)
		}(i, wc)
	}
	q.wg.Wait()
}

func (q *TaskQueue) worker(ctx context.Context, threadID int, wc *WorkerContext, onError func(int, error)) {
	for {
		select {
		case t, ok := <-q.tasks:
			if !ok {
				return
			}
			if err := t.Stage.Execute(ctx, wc, t.Buf); err != nil && onError != nil {
				onError(threadID, err)
			}
			wc.RecordTaskProcessed()
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting new tasks. Workers drain whatever remains queued
// before exiting.
func (q *TaskQueue) Close() { close(q.tasks) }
