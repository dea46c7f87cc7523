package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/network"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/telemetry"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	pool := buffer.NewPool(4096, 64)
	t.Cleanup(pool.Shutdown)

	w, err := New(Config{
		NodeID:           1,
		NumWorkerThreads: 2,
		BuffersPerWorker: 4,
		CacheCapacity:    16,
	}, pool, telemetry.Noop(), network.NewLocalTransport(), newTestLogger())
	require.NoError(t, err)
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w
}

// fakeSource emits the rows handed to it once, then blocks until ctx is
// cancelled, mirroring a connector that has nothing further to read.
type fakeSource struct {
	pool   *buffer.Pool
	schema layout.Schema
	rows   [][]int64
}

func (s *fakeSource) Run(ctx context.Context, emit func(buffer.TupleBuffer) error) error {
	buf, err := s.pool.GetBufferBlocking()
	if err != nil {
		return err
	}
	l := layout.NewRowLayout(s.schema, s.pool.BufferSize())
	for i, row := range s.rows {
		for fieldIdx, v := range row {
			if err := l.WriteInt64(buf.Bytes(), i, fieldIdx, v, uint64(len(s.rows))); err != nil {
				buf.Release()
				return err
			}
		}
	}
	buf.SetNumberOfTuples(uint64(len(s.rows)))
	buf.SetTupleSizeBytes(uint64(s.schema.FixedTupleSize()))
	buf.SetWatermarkTs(time.Now().UnixMilli())
	if err := emit(buf); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// fakeSink records every buffer it's asked to write, retaining each one
// past its caller's Release so assertions can inspect it afterward.
type fakeSink struct {
	mu      sync.Mutex
	written []buffer.TupleBuffer
}

func (s *fakeSink) Write(_ context.Context, buf buffer.TupleBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, buf.Retain())
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

var carSchema = layout.Schema{Fields: []layout.Field{
	{Name: "id", Type: layout.Int64},
	{Name: "speed", Type: layout.Int64},
}}

func sourceSinkPlan(sourceName, sinkName string) *rpc.DeploySubPlanRequest {
	src := plan.Operator{ID: 1, Type: plan.OpSource, Params: sourceName, Schema: carSchema}
	sink := plan.Operator{ID: 2, Type: plan.OpSink, Params: sinkName, Schema: carSchema, Children: []plan.NodeID{1}}
	return &rpc.DeploySubPlanRequest{
		QueryID:   "q-source-sink",
		Operators: []plan.Operator{src, sink},
		Roots:     []plan.NodeID{2},
	}
}

func TestWorker_DeploySubPlanIsIdempotent(t *testing.T) {
	w := newTestWorker(t)
	w.RegisterSourceConnector("cars", &fakeSource{pool: w.pool, schema: carSchema, rows: [][]int64{{1, 10}}})
	w.RegisterSinkConnector("out", &fakeSink{})

	req := sourceSinkPlan("cars", "out")
	resp1, err := w.DeploySubPlan(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp1.Registered)

	w.mu.Lock()
	rp := w.plans[req.QueryID]
	w.mu.Unlock()
	require.NotNil(t, rp)

	resp2, err := w.DeploySubPlan(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp2.Registered)

	w.mu.Lock()
	rp2 := w.plans[req.QueryID]
	w.mu.Unlock()
	assert.Same(t, rp, rp2, "second DeploySubPlan call must not replace the already-deployed plan")
}

func TestWorker_SourceToSinkRunsEndToEnd(t *testing.T) {
	w := newTestWorker(t)
	sink := &fakeSink{}
	w.RegisterSourceConnector("cars", &fakeSource{pool: w.pool, schema: carSchema, rows: [][]int64{{1, 10}, {2, 20}}})
	w.RegisterSinkConnector("out", sink)

	req := sourceSinkPlan("cars", "out")
	_, err := w.DeploySubPlan(context.Background(), req)
	require.NoError(t, err)

	_, err = w.StartSubPlan(context.Background(), &rpc.StartSubPlanRequest{QueryID: req.QueryID})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 5*time.Millisecond)

	_, err = w.StopSubPlan(context.Background(), &rpc.StopSubPlanRequest{QueryID: req.QueryID, Termination: network.Graceful})
	require.NoError(t, err)

	_, err = w.UnregisterSubPlan(context.Background(), &rpc.UnregisterSubPlanRequest{QueryID: req.QueryID})
	require.NoError(t, err)

	w.mu.Lock()
	_, exists := w.plans[req.QueryID]
	w.mu.Unlock()
	assert.False(t, exists)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.written, 1)
	assert.Equal(t, uint64(2), sink.written[0].NumberOfTuples())
}

func TestWorker_ProbeStatCountsEmittedTuples(t *testing.T) {
	w := newTestWorker(t)
	w.RegisterSourceConnector("cars", &fakeSource{pool: w.pool, schema: carSchema, rows: [][]int64{{1, 10}, {2, 20}, {3, 30}}})
	w.RegisterSinkConnector("out", &fakeSink{})

	req := sourceSinkPlan("cars", "out")
	_, err := w.DeploySubPlan(context.Background(), req)
	require.NoError(t, err)
	_, err = w.StartSubPlan(context.Background(), &rpc.StartSubPlanRequest{QueryID: req.QueryID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := w.ProbeStat(context.Background(), &rpc.ProbeStatRequest{PhysicalSourceNames: []string{"cars"}})
		return err == nil && len(resp.Values) == 1 && resp.Values[0] == 3
	}, time.Second, 5*time.Millisecond)

	_, err = w.StopSubPlan(context.Background(), &rpc.StopSubPlanRequest{QueryID: req.QueryID, Termination: network.Graceful})
	require.NoError(t, err)
}

func windowedPlan(sourceName, sinkName string) *rpc.DeploySubPlanRequest {
	src := plan.Operator{ID: 1, Type: plan.OpSource, Params: sourceName, Schema: carSchema}
	win := plan.Operator{
		ID:       2,
		Type:     plan.OpWindow,
		Params:   "size=1000,slide=1000,allowedLateness=0,timeField=0,keyField=1,valueField=1,agg=sum",
		Schema:   carSchema,
		Children: []plan.NodeID{1},
	}
	sink := plan.Operator{ID: 3, Type: plan.OpSink, Params: sinkName, Schema: canonicalWindowOutputSchema, Children: []plan.NodeID{2}}
	return &rpc.DeploySubPlanRequest{
		QueryID:   "q-window",
		Operators: []plan.Operator{src, win, sink},
		Roots:     []plan.NodeID{3},
	}
}

func TestWorker_WindowedAggregationEmitsOnWatermarkAdvance(t *testing.T) {
	w := newTestWorker(t)
	sink := &fakeSink{}
	w.RegisterSourceConnector("cars", &fakeSource{pool: w.pool, schema: carSchema, rows: [][]int64{{1, 10}, {1, 20}}})
	w.RegisterSinkConnector("out", sink)

	req := windowedPlan("cars", "out")
	_, err := w.DeploySubPlan(context.Background(), req)
	require.NoError(t, err)
	_, err = w.StartSubPlan(context.Background(), &rpc.StartSubPlanRequest{QueryID: req.QueryID})
	require.NoError(t, err)

	// The fake source's watermark is real wall-clock time, already past
	// the window's end, so Execute triggers it directly; StopSubPlan's
	// flush-at-max-watermark covers the case where it hadn't.
	time.Sleep(20 * time.Millisecond)
	_, err = w.StopSubPlan(context.Background(), &rpc.StopSubPlanRequest{QueryID: req.QueryID, Termination: network.Graceful})
	require.NoError(t, err)

	require.GreaterOrEqual(t, sink.count(), 1)
}

func joinPlan(leftName, rightName, sinkName string) *rpc.DeploySubPlanRequest {
	left := plan.Operator{ID: 1, Type: plan.OpSource, Params: leftName, Schema: carSchema}
	right := plan.Operator{ID: 2, Type: plan.OpSource, Params: rightName, Schema: carSchema}
	joinOut := carSchema.Concat(carSchema)
	join := plan.Operator{
		ID:       3,
		Type:     plan.OpJoin,
		Params:   "size=1000,slide=1000,allowedLateness=0,leftKey=0,rightKey=0",
		Schema:   joinOut,
		Children: []plan.NodeID{1, 2},
	}
	sink := plan.Operator{ID: 4, Type: plan.OpSink, Params: sinkName, Schema: joinOut, Children: []plan.NodeID{3}}
	return &rpc.DeploySubPlanRequest{
		QueryID:   "q-join",
		Operators: []plan.Operator{left, right, join, sink},
		Roots:     []plan.NodeID{4},
	}
}

func TestWorker_JoinProbesMatchingKeysAcrossSides(t *testing.T) {
	w := newTestWorker(t)
	sink := &fakeSink{}
	w.RegisterSourceConnector("cars-left", &fakeSource{pool: w.pool, schema: carSchema, rows: [][]int64{{1, 10}}})
	w.RegisterSourceConnector("cars-right", &fakeSource{pool: w.pool, schema: carSchema, rows: [][]int64{{1, 99}}})
	w.RegisterSinkConnector("out", sink)

	req := joinPlan("cars-left", "cars-right", "out")
	_, err := w.DeploySubPlan(context.Background(), req)
	require.NoError(t, err)
	_, err = w.StartSubPlan(context.Background(), &rpc.StartSubPlanRequest{QueryID: req.QueryID})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = w.StopSubPlan(context.Background(), &rpc.StopSubPlanRequest{QueryID: req.QueryID, Termination: network.Graceful})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, sink.count(), 1)
}
