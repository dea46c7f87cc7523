package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
)

func TestTaskQueue_ProcessesAllTasks(t *testing.T) {
	global := buffer.NewPool(64, 16)
	wc1, err := NewWorkerContext(0, global, 2, nil)
	require.NoError(t, err)
	wc2, err := NewWorkerContext(1, global, 2, nil)
	require.NoError(t, err)
	defer wc1.Close()
	defer wc2.Close()

	var processed atomic.Int64
	stage := StageFunc(func(_ context.Context, _ *WorkerContext, _ buffer.TupleBuffer) error {
		processed.Add(1)
		return nil
	})

	q := NewTaskQueue(16)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	const n = 10
	for i := 0; i < n; i++ {
		buf, err := global.GetBufferNoBlocking()
		require.NoError(t, err)
		require.NoError(t, q.Submit(ctx, Task{Stage: stage, Buf: buf}))
	}
	q.Close()

	q.Run(ctx, []*WorkerContext{wc1, wc2}, nil)

	assert.EqualValues(t, n, processed.Load())
	assert.EqualValues(t, n, wc1.TasksProcessed()+wc2.TasksProcessed())
}

func TestTaskQueue_StopsOnContextCancel(t *testing.T) {
	global := buffer.NewPool(64, 4)
	wc, err := NewWorkerContext(0, global, 1, nil)
	require.NoError(t, err)
	defer wc.Close()

	block := make(chan struct{})
	stage := StageFunc(func(ctx context.Context, _ *WorkerContext, _ buffer.TupleBuffer) error {
		<-block
		return nil
	})

	q := NewTaskQueue(4)
	buf, err := global.GetBufferNoBlocking()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Submit(ctx, Task{Stage: stage, Buf: buf}))

	done := make(chan struct{})
	go func() {
		q.Run(ctx, []*WorkerContext{wc}, nil)
		close(done)
	}()

	cancel()
	close(block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
