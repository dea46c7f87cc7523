package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/network"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

type fakeWorker struct {
	deployed map[string][]plan.Operator
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{deployed: make(map[string][]plan.Operator)}
}

func (w *fakeWorker) DeploySubPlan(_ context.Context, req *DeploySubPlanRequest) (*DeploySubPlanResponse, error) {
	w.deployed[req.QueryID] = req.Operators
	return &DeploySubPlanResponse{Registered: true}, nil
}

func (w *fakeWorker) StartSubPlan(context.Context, *StartSubPlanRequest) (*StartSubPlanResponse, error) {
	return &StartSubPlanResponse{Started: true}, nil
}

func (w *fakeWorker) StopSubPlan(context.Context, *StopSubPlanRequest) (*StopSubPlanResponse, error) {
	return &StopSubPlanResponse{Stopped: true}, nil
}

func (w *fakeWorker) UnregisterSubPlan(context.Context, *UnregisterSubPlanRequest) (*UnregisterSubPlanResponse, error) {
	return &UnregisterSubPlanResponse{Removed: true}, nil
}

func (w *fakeWorker) ProbeStat(context.Context, *ProbeStatRequest) (*ProbeStatResponse, error) {
	return &ProbeStatResponse{Values: []float64{1}}, nil
}

func dialTestWorker(t *testing.T, srv WorkerServer) *WorkerClient {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { lis.Close() })

	s := grpc.NewServer()
	s.RegisterService(&WorkerServiceDesc, srv)
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

	return NewWorkerClient(conn)
}

func TestWorkerClient_DeployAndStartRoundTrip(t *testing.T) {
	worker := newFakeWorker()
	client := dialTestWorker(t, worker)

	g := plan.NewGraph()
	schema := layout.Schema{Fields: []layout.Field{{Name: "speed", Type: layout.Int64}}}
	src := g.AddOperator(plan.OpSource, "cars", schema)

	deployResp, err := client.DeploySubPlan(context.Background(), &DeploySubPlanRequest{
		QueryID:   "q1",
		Operators: []plan.Operator{*g.Node(src)},
		Roots:     []plan.NodeID{src},
	})
	require.NoError(t, err)
	assert.True(t, deployResp.Registered)
	assert.Len(t, worker.deployed["q1"], 1)

	startResp, err := client.StartSubPlan(context.Background(), &StartSubPlanRequest{QueryID: "q1"})
	require.NoError(t, err)
	assert.True(t, startResp.Started)
}

func TestWorkerClient_StopSubPlanCarriesTerminationType(t *testing.T) {
	worker := newFakeWorker()
	client := dialTestWorker(t, worker)

	resp, err := client.StopSubPlan(context.Background(), &StopSubPlanRequest{QueryID: "q1", Termination: network.Graceful})
	require.NoError(t, err)
	assert.True(t, resp.Stopped)
}
