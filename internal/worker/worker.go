package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/compiler"
	"github.com/nebulastream/nebulastream-sub040/internal/network"
	"github.com/nebulastream/nebulastream-sub040/internal/registry"
	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/runtime"
	"github.com/nebulastream/nebulastream-sub040/internal/telemetry"
	"github.com/nebulastream/nebulastream-sub040/internal/window"
)

// runningPlan is a compiled subplan bookkept between DeploySubPlan and
// StopSubPlan/UnregisterSubPlan: its stages have been built but Setup is
// only called once StartSubPlan actually runs it, and its driver
// goroutines are only spawned then too, each on cancel, the plan's own
// context rather than the starting RPC's.
type runningPlan struct {
	compiled *compiledSubPlan
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// Worker implements rpc.WorkerServer: the per-node control surface the
// coordinator's deployment phase drives to push, start, stop and tear
// down compiled query fragments, and to answer stat probes against the
// physical sources this node hosts.
type Worker struct {
	logger *slog.Logger
	nodeID uint32

	pool *buffer.Pool
	sink *telemetry.Sink

	compiler     *compiler.Compiler
	connectors   *connectorRegistry
	aggregations *registry.Registry[struct{}, window.Aggregation]

	netManager   *network.Manager
	netTransport network.Transport

	taskQueue *runtime.TaskQueue
	contexts  []*runtime.WorkerContext

	sourceStats *statTracker

	mu    sync.Mutex
	plans map[string]*runningPlan
}

// Config bundles the sizing knobs New needs beyond the shared
// infrastructure it's handed (pool, sink, transport), mirroring
// config.Worker's runtime fields.
type Config struct {
	NodeID           uint32
	NumWorkerThreads int
	BuffersPerWorker int
	CacheCapacity    int
}

// New wires a worker process's runtime: a shared task queue and its pool
// of worker contexts (one per config.NumWorkerThreads, reserved from pool
// and living for the process's lifetime), an aggregation-name registry
// seeded with the built-in aggregations, and the network manager that
// backs both OpNetSource/OpNetSink bridges and (via
// network.NewDataPlaneServer) the inbound data-plane gRPC service.
func New(cfg Config, pool *buffer.Pool, sink *telemetry.Sink, transport network.Transport, logger *slog.Logger) (*Worker, error) {
	if sink == nil {
		sink = telemetry.Noop()
	}

	cache, err := compiler.NewCache(cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("worker: creating compiled-artifact cache: %w", err)
	}

	contexts := make([]*runtime.WorkerContext, 0, cfg.NumWorkerThreads)
	for i := 0; i < cfg.NumWorkerThreads; i++ {
		wc, err := runtime.NewWorkerContext(i, pool, cfg.BuffersPerWorker, sink)
		if err != nil {
			for _, c := range contexts {
				c.Close()
			}
			return nil, fmt.Errorf("worker: creating worker context %d: %w", i, err)
		}
		contexts = append(contexts, wc)
	}

	aggregations := registry.New[struct{}, window.Aggregation](false)
	for _, agg := range []window.Aggregation{window.SumAggregation{}, window.CountAggregation{}, window.MinAggregation{}, window.MaxAggregation{}} {
		agg := agg
		if err := aggregations.Register(agg.Name(), func(struct{}) (window.Aggregation, error) { return agg, nil }); err != nil {
			return nil, fmt.Errorf("worker: registering aggregation %q: %w", agg.Name(), err)
		}
	}

	return &Worker{
		logger:       logger,
		nodeID:       cfg.NodeID,
		pool:         pool,
		sink:         sink,
		compiler:     compiler.New(cache),
		connectors:   newConnectorRegistry(),
		aggregations: aggregations,
		netManager:   network.NewManager(transport),
		netTransport: transport,
		taskQueue:    runtime.NewTaskQueue(cfg.NumWorkerThreads * 8),
		contexts:     contexts,
		sourceStats:  newStatTracker(),
		plans:        make(map[string]*runningPlan),
	}, nil
}

// Start launches the shared task queue's worker goroutines in the
// background. It returns once they're spawned, not once they exit: call
// Stop (or cancel ctx) to wind them down.
func (w *Worker) Start(ctx context.Context) {
	go w.taskQueue.Run(ctx, w.contexts, func(threadID int, err error) {
		w.logger.Error("task queue worker failed", "thread", threadID, "error", err)
	})
}

// Stop closes the task queue and releases every worker context's local
// buffer reservation. Running plans should be stopped individually via
// StopSubPlan before calling Stop.
func (w *Worker) Stop() {
	w.taskQueue.Close()
	for _, c := range w.contexts {
		c.Close()
	}
}

// NetworkManager exposes the worker's network.Manager so cmd/worker can
// register network.DataPlaneServiceDesc alongside rpc.WorkerServiceDesc on
// the same (or a second) gRPC server.
func (w *Worker) NetworkManager() *network.Manager { return w.netManager }

// RegisterSourceConnector binds a physical source name to the connector a
// compiled OpSource leaf drives. Must happen before any DeploySubPlan
// referencing name.
func (w *Worker) RegisterSourceConnector(name string, c SourceConnector) {
	w.connectors.RegisterSource(name, c)
}

// RegisterSinkConnector binds a physical sink name to the connector a
// compiled OpSink leaf writes to.
func (w *Worker) RegisterSinkConnector(name string, c SinkConnector) {
	w.connectors.RegisterSink(name, c)
}

// DeploySubPlan compiles req's operators into a pipeline and stores it
// under req.QueryID, without starting anything yet. It is idempotent at
// this check, not by relying on the compiler cache's build-skip: a second
// call for an already-deployed QueryID (an RPC retry) returns immediately
// rather than risking a partially-populated runningPlan from a cache hit
// that skipped the build's side effects.
func (w *Worker) DeploySubPlan(_ context.Context, req *rpc.DeploySubPlanRequest) (*rpc.DeploySubPlanResponse, error) {
	w.mu.Lock()
	if _, exists := w.plans[req.QueryID]; exists {
		w.mu.Unlock()
		return &rpc.DeploySubPlanResponse{Registered: true}, nil
	}
	w.mu.Unlock()

	compiled, err := w.compileSubPlan(req)
	if err != nil {
		return nil, fmt.Errorf("worker: deploying %q: %w", req.QueryID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.plans[req.QueryID]; exists {
		return &rpc.DeploySubPlanResponse{Registered: true}, nil
	}
	w.plans[req.QueryID] = &runningPlan{compiled: compiled}
	return &rpc.DeploySubPlanResponse{Registered: true}, nil
}

// StartSubPlan runs Setup on every compiled stage (once, with the first
// worker context: none of this package's stages hold genuinely
// per-thread setup state) and spawns one goroutine per driver on a
// context scoped to the plan's own lifetime, not the RPC's.
func (w *Worker) StartSubPlan(ctx context.Context, req *rpc.StartSubPlanRequest) (*rpc.StartSubPlanResponse, error) {
	w.mu.Lock()
	rp, ok := w.plans[req.QueryID]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("worker: start %q: not deployed", req.QueryID)
	}

	w.mu.Lock()
	if rp.started {
		w.mu.Unlock()
		return &rpc.StartSubPlanResponse{Started: true}, nil
	}
	rp.started = true
	w.mu.Unlock()

	setupCtx := context.Background()
	if len(w.contexts) == 0 {
		return nil, fmt.Errorf("worker: start %q: no worker contexts configured", req.QueryID)
	}
	repr := w.contexts[0]
	for _, stage := range rp.compiled.stages {
		if err := stage.Setup(setupCtx, repr); err != nil {
			return nil, fmt.Errorf("worker: start %q: stage setup: %w", req.QueryID, err)
		}
	}
	for _, sink := range rp.compiled.netSinks {
		if err := sink.Setup(setupCtx); err != nil {
			return nil, fmt.Errorf("worker: start %q: net sink setup: %w", req.QueryID, err)
		}
	}

	planCtx, cancel := context.WithCancel(context.Background())
	rp.cancel = cancel
	for _, drive := range rp.compiled.drivers {
		drive := drive
		rp.wg.Add(1)
		go func() {
			defer rp.wg.Done()
			if err := drive(planCtx); err != nil && planCtx.Err() == nil {
				w.logger.Error("subplan driver failed", "query", req.QueryID, "error", err)
			}
		}()
	}

	return &rpc.StartSubPlanResponse{Started: true}, nil
}

// StopSubPlan cancels the plan's drivers, waits for them to exit, runs
// Stop on every compiled stage (flushing any still-open windows/joins),
// and stops every network sink with the requested termination type.
func (w *Worker) StopSubPlan(ctx context.Context, req *rpc.StopSubPlanRequest) (*rpc.StopSubPlanResponse, error) {
	w.mu.Lock()
	rp, ok := w.plans[req.QueryID]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("worker: stop %q: not deployed", req.QueryID)
	}

	if rp.cancel != nil {
		rp.cancel()
	}
	rp.wg.Wait()

	repr := w.contexts[0]
	stopCtx := context.Background()
	for _, stage := range rp.compiled.stages {
		if err := stage.Stop(stopCtx, repr); err != nil {
			w.logger.Error("stage stop failed", "query", req.QueryID, "error", err)
		}
	}
	for _, sink := range rp.compiled.netSinks {
		if err := sink.Stop(stopCtx, req.Termination); err != nil {
			w.logger.Error("net sink stop failed", "query", req.QueryID, "error", err)
		}
	}

	return &rpc.StopSubPlanResponse{Stopped: true}, nil
}

// UnregisterSubPlan drops a stopped plan's bookkeeping. It does not stop
// anything itself; a caller skipping StopSubPlan leaks the plan's driver
// goroutines.
func (w *Worker) UnregisterSubPlan(_ context.Context, req *rpc.UnregisterSubPlanRequest) (*rpc.UnregisterSubPlanResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.plans, req.QueryID)
	return &rpc.UnregisterSubPlanResponse{Removed: true}, nil
}

// ProbeStat answers against this node's per-physical-source tuple
// counters, incremented by each OpSource driver as it emits buffers.
func (w *Worker) ProbeStat(_ context.Context, req *rpc.ProbeStatRequest) (*rpc.ProbeStatResponse, error) {
	names := req.PhysicalSourceNames
	values := make([]float64, len(names))
	for i, name := range names {
		values[i] = w.sourceStats.value(name)
	}
	return &rpc.ProbeStatResponse{Values: values}, nil
}
