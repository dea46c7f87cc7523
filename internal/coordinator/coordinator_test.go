package coordinator

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// fakeSourceCatalog is an in-memory stand-in for *catalog.SourceCatalog,
// satisfying coordinator.SourceRegistry without a Postgres connection.
type fakeSourceCatalog struct {
	mu       sync.Mutex
	physical map[string][]string
	nodeOf   map[string]uint32
}

func newFakeSourceCatalog() *fakeSourceCatalog {
	return &fakeSourceCatalog{physical: make(map[string][]string), nodeOf: make(map[string]uint32)}
}

func (c *fakeSourceCatalog) RegisterLogicalStream(context.Context, string, layout.Schema) error { return nil }
func (c *fakeSourceCatalog) UnregisterLogicalStream(context.Context, string) error               { return nil }

func (c *fakeSourceCatalog) RegisterPhysicalStream(_ context.Context, logicalName, physicalName string, nodeID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.physical[logicalName] = append(c.physical[logicalName], physicalName)
	c.nodeOf[physicalName] = nodeID
	return nil
}

func (c *fakeSourceCatalog) UnregisterPhysicalStream(context.Context, string, string) error { return nil }

func (c *fakeSourceCatalog) PhysicalSourcesFor(logicalName string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.physical[logicalName]...)
}

func (c *fakeSourceCatalog) NodeForPhysicalSource(physicalName string) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.nodeOf[physicalName]
	return id, ok
}

// fakeQueryCatalog is an in-memory stand-in for *catalog.QueryCatalog.
type fakeQueryCatalog struct {
	mu       sync.Mutex
	rows     map[string]string // sharedPlanID -> state
	deployed []string
	running  []string
}

func newFakeQueryCatalog() *fakeQueryCatalog { return &fakeQueryCatalog{rows: make(map[string]string)} }

func (c *fakeQueryCatalog) Register(_ context.Context, sharedPlanID, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[sharedPlanID] = "Created"
	return nil
}

func (c *fakeQueryCatalog) MarkDeployed(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[id] = "Deployed"
	c.deployed = append(c.deployed, id)
	return nil
}

func (c *fakeQueryCatalog) MarkRunning(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[id] = "Running"
	c.running = append(c.running, id)
	return nil
}

func (c *fakeQueryCatalog) MarkStopped(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[id] = "Stopped"
	return nil
}

func (c *fakeQueryCatalog) MarkFailed(_ context.Context, id string, _ error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[id] = "Failed"
	return nil
}

// singleOpPlanner builds a fixed source -> sink graph for one logical
// source name regardless of the sql text, standing in for a real SQL
// front end in tests.
type singleOpPlanner struct {
	logicalSource string
	schema        layout.Schema
}

func (p singleOpPlanner) Plan(string) (*plan.Graph, []plan.NodeID, error) {
	g := plan.NewGraph()
	src := g.AddOperator(plan.OpSource, p.logicalSource, p.schema)
	sink := g.AddOperator(plan.OpSink, "out", p.schema)
	g.Connect(sink, src)
	g.MarkRoot(sink)
	return g, g.Roots(), nil
}

// recordingWorker answers every WorkerServer RPC successfully and counts
// how many times each was called.
type recordingWorker struct {
	mu                       sync.Mutex
	deployCalls, startCalls  int
}

func (w *recordingWorker) DeploySubPlan(context.Context, *rpc.DeploySubPlanRequest) (*rpc.DeploySubPlanResponse, error) {
	w.mu.Lock()
	w.deployCalls++
	w.mu.Unlock()
	return &rpc.DeploySubPlanResponse{Registered: true}, nil
}
func (w *recordingWorker) StartSubPlan(context.Context, *rpc.StartSubPlanRequest) (*rpc.StartSubPlanResponse, error) {
	w.mu.Lock()
	w.startCalls++
	w.mu.Unlock()
	return &rpc.StartSubPlanResponse{Started: true}, nil
}
func (w *recordingWorker) StopSubPlan(context.Context, *rpc.StopSubPlanRequest) (*rpc.StopSubPlanResponse, error) {
	return &rpc.StopSubPlanResponse{Stopped: true}, nil
}
func (w *recordingWorker) UnregisterSubPlan(context.Context, *rpc.UnregisterSubPlanRequest) (*rpc.UnregisterSubPlanResponse, error) {
	return &rpc.UnregisterSubPlanResponse{Removed: true}, nil
}
func (w *recordingWorker) ProbeStat(_ context.Context, req *rpc.ProbeStatRequest) (*rpc.ProbeStatResponse, error) {
	values := make([]float64, len(req.PhysicalSourceNames))
	for i := range values {
		values[i] = 1
	}
	return &rpc.ProbeStatResponse{Values: values}, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialEmbeddedWorker(t *testing.T, srv rpc.WorkerServer) *rpc.WorkerClient {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { lis.Close() })

	s := grpc.NewServer()
	s.RegisterService(&rpc.WorkerServiceDesc, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return rpc.NewWorkerClient(conn)
}

// singleNodeDialer always returns the same client, standing in for
// GRPCDialer in tests that only exercise one worker node.
type singleNodeDialer struct {
	node   topology.NodeID
	client *rpc.WorkerClient
}

func (d singleNodeDialer) WorkerFor(topology.NodeID) (*rpc.WorkerClient, error) { return d.client, nil }

func (d singleNodeDialer) AddressFor(node topology.NodeID) (string, bool) {
	if node == d.node {
		return "worker:0", true
	}
	return "", false
}

func newTestCoordinator(t *testing.T, worker *recordingWorker) (*Coordinator, *fakeSourceCatalog, *fakeQueryCatalog) {
	t.Helper()
	sources := newFakeSourceCatalog()
	queries := newFakeQueryCatalog()
	schema := layout.Schema{Fields: []layout.Field{{Name: "value", Type: layout.Int64}}}
	planner := singleOpPlanner{logicalSource: "cars", schema: schema}

	client := dialEmbeddedWorker(t, worker)
	dialer := singleNodeDialer{node: 2, client: client}

	logger := newTestLogger()
	coord, err := New(1, "coordinator:0", 4, sources, queries, nil, planner, dialer, logger)
	require.NoError(t, err)

	_, err = coord.RegisterNode(context.Background(), &rpc.RegisterNodeRequest{Node: rpc.NodeDescriptor{
		NodeID: 2, ParentNodeID: 1, HasParent: true, Address: "worker:0", CapacitySlots: 4,
		LinkBandwidthMbps: 1000, LinkLatencyMillis: 1,
	}})
	require.NoError(t, err)

	require.NoError(t, sources.RegisterPhysicalStream(context.Background(), "cars", "cars-lane-1", 2))
	return coord, sources, queries
}

func TestCoordinator_RegisterNodeAddsChildToTopology(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, &recordingWorker{})
	n, ok := coord.topology.Node(2)
	require.True(t, ok)
	assert.Equal(t, "worker:0", n.Address)
}

func TestCoordinator_SubmitQueryOptimizesPlacesAndDeploysAsynchronously(t *testing.T) {
	worker := &recordingWorker{}
	coord, _, queries := newTestCoordinator(t, worker)

	queryID, err := coord.SubmitQuery(context.Background(), "SELECT * FROM cars", "BOTTOMUP")
	require.NoError(t, err)
	require.NotZero(t, queryID)

	require.Eventually(t, func() bool {
		rec, err := coord.lookupSubmission(queryID)
		if err != nil {
			return false
		}
		ready, _, _, _ := rec.snapshot()
		return ready
	}, time.Second, time.Millisecond)

	rec, err := coord.lookupSubmission(queryID)
	require.NoError(t, err)
	ready, sp, _, optErr := rec.snapshot()
	require.True(t, ready)
	require.NoError(t, optErr)
	assert.NotEmpty(t, sp.ID)
	assert.Contains(t, queries.rows, sp.ID)

	startResp, err := coord.StartQuery(context.Background(), &rpc.StartQueryRequest{QueryID: queryID})
	require.NoError(t, err)
	assert.True(t, startResp.Started)
	assert.Equal(t, plan.Running, sp.State())
	assert.Equal(t, []string{sp.ID}, queries.running)

	stopResp, err := coord.StopQuery(context.Background(), &rpc.StopQueryRequest{QueryID: queryID, UserInitiated: true})
	require.NoError(t, err)
	assert.True(t, stopResp.Stopped)
	assert.Equal(t, plan.Stopped, sp.State())
}

func TestCoordinator_ProbeStatMergesReplies(t *testing.T) {
	worker := &recordingWorker{}
	coord, sources, _ := newTestCoordinator(t, worker)
	require.NoError(t, sources.RegisterPhysicalStream(context.Background(), "cars", "cars-lane-2", 2))

	resp, err := coord.ProbeStat(context.Background(), &rpc.ProbeStatRequest{LogicalSourceName: "cars", Merge: true})
	require.NoError(t, err)
	require.Len(t, resp.Values, 2)
	assert.Equal(t, []float64{1, 1}, resp.Values)
}

func TestCoordinator_UnregisterQueryRemovesBookkeepingOnly(t *testing.T) {
	worker := &recordingWorker{}
	coord, _, _ := newTestCoordinator(t, worker)

	queryID, err := coord.SubmitQuery(context.Background(), "SELECT * FROM cars", "BOTTOMUP")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, err := coord.lookupSubmission(queryID)
		if err != nil {
			return false
		}
		ready, _, _, _ := rec.snapshot()
		return ready
	}, time.Second, time.Millisecond)

	_, err = coord.UnregisterQuery(context.Background(), &rpc.UnregisterQueryRequest{QueryID: queryID})
	require.NoError(t, err)

	_, err = coord.lookupSubmission(queryID)
	assert.Error(t, err)
}
