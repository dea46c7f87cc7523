package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/compiler"
	"github.com/nebulastream/nebulastream-sub040/internal/join"
	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/network"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/registry"
	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/runtime"
	"github.com/nebulastream/nebulastream-sub040/internal/telemetry"
	"github.com/nebulastream/nebulastream-sub040/internal/window"
)

// compiledSubPlanHandlerID is the one synthetic handler slot a compiled
// subplan's artifact carries: the whole planContext side-effect bundle,
// not a single operator handler. compiler.Cache's unit of caching is
// normally one operator chain's handlers; here it is reused as a
// build-once guard keyed per QueryID rather than as a
// structural cross-query cache, since every compiled stage closes over
// query-instance state (network.Sink connections, SliceStore instances)
// that must never be shared between two different query instances.
const compiledSubPlanHandlerID compiler.HandlerID = 0

func newPlanContext(w *Worker, req *rpc.DeploySubPlanRequest) *planContext {
	nodeByID := make(map[plan.NodeID]*plan.Operator, len(req.Operators))
	for i := range req.Operators {
		op := req.Operators[i]
		nodeByID[op.ID] = &op
	}
	return &planContext{
		nodeByID:      nodeByID,
		pool:          w.pool,
		taskQueue:     w.taskQueue,
		sink:          w.sink,
		netManager:    w.netManager,
		nodeAddresses: req.NodeAddresses,
		connectors:    w.connectors,
		aggRegistry:   w.aggregations,
		hash:          fnv64a,
		sourceStats:   w.sourceStats,
	}
}

// compileSubPlan builds every root in req, reusing w.compiler's cache as a
// retry-safety net: a second DeploySubPlan call for a QueryID already
// compiled returns the same stages/drivers/netSinks instead of building a
// second, disconnected copy of them.
func (w *Worker) compileSubPlan(req *rpc.DeploySubPlanRequest) (*compiledSubPlan, error) {
	pc := newPlanContext(w, req)

	key := compiler.CacheKey{
		SQL:            req.QueryID,
		ExecutionMode:  "interpreted",
		OperatorBuffer: w.pool.BufferSize(),
		Signature:      req.QueryID,
	}

	artifact, err := w.compiler.Compile(key, func() (*compiler.CompiledPipeline, error) {
		for _, root := range req.Roots {
			if err := pc.link(root, nil); err != nil {
				return nil, fmt.Errorf("worker: compiling root %d: %w", root, err)
			}
		}
		csp := &compiledSubPlan{stages: pc.stages, netSinks: pc.netSinks, drivers: pc.drivers}
		noop := runtime.StageFunc(func(context.Context, *runtime.WorkerContext, buffer.TupleBuffer) error { return nil })
		return &compiler.CompiledPipeline{Stage: noop, Handlers: map[compiler.HandlerID]any{compiledSubPlanHandlerID: csp}}, nil
	})
	if err != nil {
		return nil, err
	}

	csp, ok := artifact.Handlers[compiledSubPlanHandlerID].(*compiledSubPlan)
	if !ok {
		return nil, fmt.Errorf("worker: compiled artifact for %q missing its subplan handler", req.QueryID)
	}
	return csp, nil
}

// forwardFunc is what a compiled stage calls once it has produced output:
// the downstream stage's own Execute, or nil at a terminal (Sink/NetSink).
type forwardFunc func(ctx context.Context, wc *runtime.WorkerContext, buf buffer.TupleBuffer) error

// driverFunc drives an OpSource/OpNetSource leaf until ctx is cancelled.
type driverFunc func(ctx context.Context) error

// compiledSubPlan is the product of compiling one pushed decomposition
// subplan: the pipeline stages needing Setup/Stop lifecycle calls, the
// network sinks needing explicit Stop(termination), and the driver
// goroutines that feed buffers into the pipeline from its leaves.
type compiledSubPlan struct {
	stages   []runtime.PipelineStage
	netSinks []*network.Sink
	drivers  []driverFunc
}

// planContext accumulates the side effects of compiling one subplan:
// every constructed stage, driver and network sink, so the top-level
// build loop can hand them to the worker's Start/Stop lifecycle.
type planContext struct {
	nodeByID      map[plan.NodeID]*plan.Operator
	pool          *buffer.Pool
	taskQueue     *runtime.TaskQueue
	sink          *telemetry.Sink
	netManager    *network.Manager
	nodeAddresses map[uint32]string
	connectors    *connectorRegistry
	aggRegistry   *registry.Registry[struct{}, window.Aggregation]
	hash          func(string) uint64
	sourceStats   *statTracker

	stages   []runtime.PipelineStage
	netSinks []*network.Sink
	drivers  []driverFunc
}

func (pc *planContext) childOp(op *plan.Operator, idx int) (*plan.Operator, error) {
	if idx >= len(op.Children) {
		return nil, fmt.Errorf("worker: operator %d has no child at index %d", op.ID, idx)
	}
	child, ok := pc.nodeByID[op.Children[idx]]
	if !ok {
		return nil, fmt.Errorf("worker: operator %d references child %d not present in this subplan", op.ID, op.Children[idx])
	}
	return child, nil
}

// link dispatches operator id to either a leaf driver registration or a
// recursively-built stage, depending on its type. forward is what the
// eventual output (whichever form it takes) should be delivered to.
func (pc *planContext) link(id plan.NodeID, forward forwardFunc) error {
	op, ok := pc.nodeByID[id]
	if !ok {
		return fmt.Errorf("worker: operator %d not present in pushed subplan", id)
	}
	switch op.Type {
	case plan.OpSource:
		return pc.registerSourceDriver(op, forward)
	case plan.OpNetSource:
		return pc.registerNetSourceDriver(op, forward)
	default:
		_, err := pc.buildStage(id, forward)
		return err
	}
}

// buildStage constructs the PipelineStage for a non-leaf operator and
// recurses into its children, wiring this stage's own Execute as their
// forward target.
func (pc *planContext) buildStage(id plan.NodeID, forward forwardFunc) (runtime.PipelineStage, error) {
	op := pc.nodeByID[id]

	if op.Type == plan.OpJoin {
		return pc.buildJoinStages(op, forward)
	}

	var stage runtime.PipelineStage
	var err error
	switch op.Type {
	case plan.OpFilter, plan.OpMap, plan.OpProject, plan.OpUnion:
		// Real predicate/projection evaluation is out of scope (the
		// Nautilus code generator is a non-goal): these operators pass
		// their input through unchanged.
		stage = runtime.StageFunc(func(ctx context.Context, wc *runtime.WorkerContext, buf buffer.TupleBuffer) error {
			if forward == nil {
				return nil
			}
			return forward(ctx, wc, buf)
		})
	case plan.OpSink:
		stage, err = pc.buildSinkStage(op)
	case plan.OpNetSink:
		stage, err = pc.buildNetSinkStage(op)
	case plan.OpWindow:
		stage, err = pc.buildWindowStage(op, forward)
	default:
		return nil, fmt.Errorf("worker: operator type %s cannot be compiled as a local stage", op.Type)
	}
	if err != nil {
		return nil, err
	}
	pc.stages = append(pc.stages, stage)

	for _, child := range op.Children {
		if err := pc.link(child, stage.Execute); err != nil {
			return nil, err
		}
	}
	return stage, nil
}

func (pc *planContext) buildSinkStage(op *plan.Operator) (runtime.PipelineStage, error) {
	conn, err := pc.connectors.sink(op.Params)
	if err != nil {
		return nil, err
	}
	return runtime.StageFunc(func(ctx context.Context, _ *runtime.WorkerContext, buf buffer.TupleBuffer) error {
		return conn.Write(ctx, buf)
	}), nil
}

func (pc *planContext) buildNetSinkStage(op *plan.Operator) (runtime.PipelineStage, error) {
	params, err := parseNetSinkParams(op.Params)
	if err != nil {
		return nil, err
	}
	addr, ok := pc.nodeAddresses[params.peer]
	if !ok {
		return nil, fmt.Errorf("worker: no data-plane address known for node %d", params.peer)
	}
	sink := network.NewSink(pc.netManager, params.channel, addr)
	pc.netSinks = append(pc.netSinks, sink)
	return &netSinkStage{sink: sink}, nil
}

type netSinkStage struct {
	sink *network.Sink
}

// Setup and Stop do nothing: Worker.StartSubPlan and Worker.StopSubPlan
// set up and stop every network sink of the subplan themselves, the latter
// with the requested termination type.
func (s *netSinkStage) Setup(context.Context, *runtime.WorkerContext) error {
	return nil
}

func (s *netSinkStage) Execute(ctx context.Context, _ *runtime.WorkerContext, buf buffer.TupleBuffer) error {
	return s.sink.Send(ctx, buf)
}

func (s *netSinkStage) Stop(context.Context, *runtime.WorkerContext) error {
	return nil
}

// registerSourceDriver registers a driver pulling from the abstract
// SourceConnector bound to op's physical name, submitting every buffer it
// emits to the shared task queue for forward to execute.
func (pc *planContext) registerSourceDriver(op *plan.Operator, forward forwardFunc) error {
	conn, err := pc.connectors.source(op.Params)
	if err != nil {
		return err
	}
	name := op.Params
	pc.drivers = append(pc.drivers, func(ctx context.Context) error {
		return conn.Run(ctx, func(buf buffer.TupleBuffer) error {
			pc.sourceStats.record(name, buf.NumberOfTuples())
			return pc.submit(ctx, forward, buf)
		})
	})
	return nil
}

// registerNetSourceDriver registers a driver running a network.Source for
// the channel named in op's Params, submitting every delivered buffer to
// the shared task queue.
func (pc *planContext) registerNetSourceDriver(op *plan.Operator, forward forwardFunc) error {
	params, err := parseNetSourceParams(op.Params)
	if err != nil {
		return err
	}
	channel := params.channel
	pc.drivers = append(pc.drivers, func(ctx context.Context) error {
		src := network.NewSource(pc.netManager, channel, pc.pool, func(buf buffer.TupleBuffer) error {
			return pc.submit(ctx, forward, buf)
		}, nil)
		_, err := src.Run(ctx)
		return err
	})
	return nil
}

// submit hands a freshly-produced driver buffer to the shared task queue.
// The buffer is released once the whole synchronous downstream chain
// (every stage reached through forward) has run to completion: nothing
// downstream of a driver defers buf past its own Execute call, so this is
// the one place in the pipeline that owns releasing it.
func (pc *planContext) submit(ctx context.Context, forward forwardFunc, buf buffer.TupleBuffer) error {
	if forward == nil {
		buf.Release()
		return nil
	}
	task := runtime.Task{
		Stage: runtime.StageFunc(func(ctx context.Context, wc *runtime.WorkerContext, b buffer.TupleBuffer) error {
			defer b.Release()
			return forward(ctx, wc, b)
		}),
		Buf: buf,
	}
	if err := pc.taskQueue.Submit(ctx, task); err != nil {
		buf.Release()
		return err
	}
	return nil
}

// canonicalWindowOutputSchema is the fixed output record shape every
// windowed aggregate writes: the concrete output schema a real query
// compiler would derive from the SQL projection is out of scope.
var canonicalWindowOutputSchema = layout.Schema{Fields: []layout.Field{
	{Name: "windowStart", Type: layout.Int64},
	{Name: "windowEnd", Type: layout.Int64},
	{Name: "keyHash", Type: layout.Int64},
	{Name: "value", Type: layout.Int64},
}}

func (pc *planContext) buildWindowStage(op *plan.Operator, forward forwardFunc) (runtime.PipelineStage, error) {
	child, err := pc.childOp(op, 0)
	if err != nil {
		return nil, err
	}
	p, err := parseWindowParams(op.Params)
	if err != nil {
		return nil, err
	}
	agg, found, err := pc.aggRegistry.Create(p.agg, struct{}{})
	if err != nil {
		return nil, fmt.Errorf("worker: building aggregation %q: %w", p.agg, err)
	}
	if !found {
		return nil, fmt.Errorf("worker: unknown aggregation %q", p.agg)
	}

	inLayout := layout.NewRowLayout(child.Schema, pc.pool.BufferSize())
	outLayout := layout.NewRowLayout(canonicalWindowOutputSchema, pc.pool.BufferSize())

	pa := window.NewPreAggregation(
		window.Params{Size: p.size, Slide: p.slide, AllowedLateness: p.allowedLateness},
		agg, inLayout,
		fieldAsInt64(p.timeField), fieldAsString(p.keyField), fieldAsInt64(p.valueField),
		pc.sink, pc.hash,
	)

	return &windowStage{pa: pa, outLayout: outLayout, pool: pc.pool, forward: forward}, nil
}

type windowStage struct {
	pa        *window.PreAggregation
	outLayout *layout.Layout
	pool      *buffer.Pool
	wm        maxWatermark
	forward   forwardFunc
}

func (s *windowStage) Setup(context.Context, *runtime.WorkerContext) error { return nil }

func (s *windowStage) Execute(ctx context.Context, wc *runtime.WorkerContext, buf buffer.TupleBuffer) error {
	if err := s.pa.Process(buf, wc.ThreadID); err != nil {
		return fmt.Errorf("worker: window process: %w", err)
	}
	s.wm.update(buf.WatermarkTs())
	wm, ok := s.wm.current()
	if !ok {
		return nil
	}
	records := s.pa.Trigger(wm)
	return s.emit(ctx, wc, records)
}

func (s *windowStage) Stop(ctx context.Context, wc *runtime.WorkerContext) error {
	// Flush every still-open window by triggering at the maximum
	// representable watermark, matching a graceful-shutdown drain.
	records := s.pa.Trigger(1<<63 - 1)
	return s.emit(ctx, wc, records)
}

func (s *windowStage) emit(ctx context.Context, wc *runtime.WorkerContext, records []window.OutputRecord) error {
	if s.forward == nil || len(records) == 0 {
		return nil
	}
	capacity := s.outLayout.Capacity()
	if capacity <= 0 {
		capacity = 1
	}
	for start := 0; start < len(records); start += capacity {
		end := start + capacity
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		out, err := acquireBuffer(wc, s.pool)
		if err != nil {
			return err
		}
		for i, rec := range batch {
			if err := s.outLayout.WriteInt64(out.Bytes(), i, 0, rec.WindowStart, uint64(len(batch))); err != nil {
				out.Release()
				return err
			}
			if err := s.outLayout.WriteInt64(out.Bytes(), i, 1, rec.WindowEnd, uint64(len(batch))); err != nil {
				out.Release()
				return err
			}
			if err := s.outLayout.WriteInt64(out.Bytes(), i, 2, int64(fnv64a(rec.Key)), uint64(len(batch))); err != nil {
				out.Release()
				return err
			}
			if err := s.outLayout.WriteInt64(out.Bytes(), i, 3, rec.Value, uint64(len(batch))); err != nil {
				out.Release()
				return err
			}
		}
		out.SetNumberOfTuples(uint64(len(batch)))
		out.SetTupleSizeBytes(uint64(canonicalWindowOutputSchema.FixedTupleSize()))
		if err := s.forward(ctx, wc, out); err != nil {
			out.Release()
			return err
		}
		out.Release()
	}
	return nil
}

// buildJoinStages wires a binary join operator as two stages sharing one
// join.SliceStore, one per input side. op.Children[0] is the left input
// and op.Children[1] the right, per plan.Graph.Connect's "first call is
// the left child" convention.
func (pc *planContext) buildJoinStages(op *plan.Operator, forward forwardFunc) (runtime.PipelineStage, error) {
	left, err := pc.childOp(op, 0)
	if err != nil {
		return nil, err
	}
	right, err := pc.childOp(op, 1)
	if err != nil {
		return nil, err
	}
	p, err := parseJoinParams(op.Params)
	if err != nil {
		return nil, err
	}

	leftEntrySize := left.Schema.FixedTupleSize()
	rightEntrySize := right.Schema.FixedTupleSize()
	entrySize := leftEntrySize
	if rightEntrySize > entrySize {
		entrySize = rightEntrySize
	}

	store := join.NewSliceStore(
		window.Params{Size: p.size, Slide: p.slide, AllowedLateness: p.allowedLateness},
		pc.pool, entrySize, pc.hash, pc.sink,
	)

	shared := &joinShared{
		store:        store,
		pool:         pc.pool,
		leftLayout:   layout.NewRowLayout(left.Schema, pc.pool.BufferSize()),
		rightLayout:  layout.NewRowLayout(right.Schema, pc.pool.BufferSize()),
		outLayout:    layout.NewRowLayout(left.Schema.Concat(right.Schema), pc.pool.BufferSize()),
		leftEntrySize: leftEntrySize,
		rightEntrySize: rightEntrySize,
		leftKey:      p.leftKey,
		rightKey:     p.rightKey,
		forward:      forward,
	}

	leftStage := &joinSideStage{shared: shared, side: join.Left}
	rightStage := &joinSideStage{shared: shared, side: join.Right}
	pc.stages = append(pc.stages, leftStage, rightStage)

	if err := pc.link(op.Children[0], leftStage.Execute); err != nil {
		return nil, err
	}
	if err := pc.link(op.Children[1], rightStage.Execute); err != nil {
		return nil, err
	}
	return leftStage, nil
}

type joinShared struct {
	store                        *join.SliceStore
	pool                         *buffer.Pool
	leftLayout, rightLayout      *layout.Layout
	outLayout                    *layout.Layout
	leftEntrySize, rightEntrySize int
	leftKey, rightKey            int
	forward                      forwardFunc
	wm                           maxWatermark
}

type joinSideStage struct {
	shared *joinShared
	side   join.Side
}

func (s *joinSideStage) Setup(context.Context, *runtime.WorkerContext) error { return nil }

func (s *joinSideStage) Execute(ctx context.Context, wc *runtime.WorkerContext, buf buffer.TupleBuffer) error {
	sh := s.shared
	l := sh.leftLayout
	keyField := sh.leftKey
	if s.side == join.Right {
		l = sh.rightLayout
		keyField = sh.rightKey
	}

	n := buf.NumberOfTuples()
	ts := buf.WatermarkTs()
	tupleSize := l.Schema().FixedTupleSize()

	it := l.NewIterator(buf.Bytes(), n)
	for i := 0; ; i++ {
		rec, ok := it.Next()
		if !ok {
			break
		}
		v, err := rec.Field(keyField)
		if err != nil {
			return fmt.Errorf("worker: join key extraction: %w", err)
		}
		key := fmt.Sprintf("%v", v)

		slice, ok := sh.store.SliceFor(ts)
		if !ok {
			continue
		}
		srcOff := i * tupleSize
		entry := append([]byte(nil), buf.Bytes()[srcOff:srcOff+tupleSize]...)
		if err := slice.Build(s.side, key, func(dst []byte) { copy(dst, entry) }); err != nil {
			return fmt.Errorf("worker: join build: %w", err)
		}
	}

	sh.wm.update(ts)
	wm, ok := sh.wm.current()
	if !ok {
		return nil
	}
	for _, ready := range sh.store.AdvanceWatermark(wm) {
		if err := sh.probeAndForward(ctx, wc, ready); err != nil {
			return err
		}
	}
	return nil
}

func (s *joinSideStage) Stop(ctx context.Context, wc *runtime.WorkerContext) error {
	sh := s.shared
	for _, ready := range sh.store.AdvanceWatermark(1<<63 - 1) {
		if err := sh.probeAndForward(ctx, wc, ready); err != nil {
			return err
		}
	}
	return nil
}

func (sh *joinShared) probeAndForward(ctx context.Context, wc *runtime.WorkerContext, slice *join.Slice) error {
	defer sh.store.Release(slice.Start)
	if sh.forward == nil {
		return nil
	}

	var combineErr error
	join.Probe(slice, func(leftEntry, rightEntry []byte) {
		if combineErr != nil {
			return
		}
		out, err := acquireBuffer(wc, sh.pool)
		if err != nil {
			combineErr = err
			return
		}
		// Both entries are padded to the slice store's shared entrySize
		// (the larger of the two sides); only the leading
		// left/rightEntrySize bytes of each are real field data.
		tupleSize := sh.outLayout.Schema().FixedTupleSize()
		copy(out.Bytes()[0:sh.leftEntrySize], leftEntry[:sh.leftEntrySize])
		copy(out.Bytes()[sh.leftEntrySize:sh.leftEntrySize+sh.rightEntrySize], rightEntry[:sh.rightEntrySize])
		out.SetNumberOfTuples(1)
		out.SetTupleSizeBytes(uint64(tupleSize))
		if err := sh.forward(ctx, wc, out); err != nil {
			out.Release()
			combineErr = err
			return
		}
		out.Release()
	})
	return combineErr
}

// acquireBuffer draws an output buffer from wc's thread-local reservation
// first, falling back to the global pool if the local reservation is
// exhausted.
func acquireBuffer(wc *runtime.WorkerContext, pool *buffer.Pool) (buffer.TupleBuffer, error) {
	if buf, err := wc.Local.LocalGetBufferNoBlocking(); err == nil {
		return buf, nil
	}
	return pool.GetBufferBlocking()
}

func fieldAsInt64(idx int) func(layout.Record) (int64, error) {
	return func(rec layout.Record) (int64, error) {
		v, err := rec.Field(idx)
		if err != nil {
			return 0, err
		}
		return numericAsInt64(v)
	}
}

func fieldAsString(idx int) func(layout.Record) (string, error) {
	return func(rec layout.Record) (string, error) {
		v, err := rec.Field(idx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", v), nil
	}
}

func numericAsInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("worker: field value %v has unsupported numeric type %T", v, v)
	}
}

// maxWatermark tracks a single running-max watermark timestamp, a
// simplification of watermark.Processor for operators whose upstream
// origin set is only known dynamically as buffers arrive rather than
// fixed at compile time.
type maxWatermark struct {
	v     atomic.Int64
	ready atomic.Bool
}

func (m *maxWatermark) update(ts int64) {
	m.ready.Store(true)
	for {
		cur := m.v.Load()
		if ts <= cur {
			return
		}
		if m.v.CompareAndSwap(cur, ts) {
			return
		}
	}
}

func (m *maxWatermark) current() (int64, bool) {
	if !m.ready.Load() {
		return 0, false
	}
	return m.v.Load(), true
}

// fnv64a hashes a string for use as a window/join ChainedMap key or, in
// the window output schema, a numeric stand-in for a string group key.
func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// statTracker counts tuples emitted per named physical source, backing
// Worker.ProbeStat. Source drivers run concurrently, so the counter map
// itself needs a lock; only the per-name atomic is lock-free on the hot
// path.
type statTracker struct {
	mu     sync.Mutex
	counts map[string]*atomic.Uint64
}

func newStatTracker() *statTracker {
	return &statTracker{counts: make(map[string]*atomic.Uint64)}
}

func (t *statTracker) counter(name string) *atomic.Uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counts[name]
	if !ok {
		c = &atomic.Uint64{}
		t.counts[name] = c
	}
	return c
}

func (t *statTracker) record(name string, n uint64) {
	t.counter(name).Add(n)
}

func (t *statTracker) value(name string) float64 {
	return float64(t.counter(name).Load())
}
