package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// WorkerServer is implemented by the worker process. The coordinator's
// deployment phase (internal/deployment) is the only client: it pushes
// one SubPlan per node, starts it, and later stops/unregisters it,
// mirroring WorkerRPCClient's registerQuery/startQuery/stopQuery direction
// from coordinator to worker (the reverse of CoordinatorServer above).
type WorkerServer interface {
	DeploySubPlan(ctx context.Context, req *DeploySubPlanRequest) (*DeploySubPlanResponse, error)
	StartSubPlan(ctx context.Context, req *StartSubPlanRequest) (*StartSubPlanResponse, error)
	StopSubPlan(ctx context.Context, req *StopSubPlanRequest) (*StopSubPlanResponse, error)
	UnregisterSubPlan(ctx context.Context, req *UnregisterSubPlanRequest) (*UnregisterSubPlanResponse, error)
	// ProbeStat answers a stat probe against the physical sources this
	// worker owns. The coordinator fans this out to every node hosting a
	// requested physical source and merges the per-node replies itself
	// (StatAggregator), mirroring StatCoordinator's split between
	// per-node collection and coordinator-side combination.
	ProbeStat(ctx context.Context, req *ProbeStatRequest) (*ProbeStatResponse, error)
}

const workerServiceName = "nebulastream.control.Worker"

var WorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: workerServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DeploySubPlan", Handler: unaryHandler(WorkerServer.DeploySubPlan, workerServiceName+"/DeploySubPlan")},
		{MethodName: "StartSubPlan", Handler: unaryHandler(WorkerServer.StartSubPlan, workerServiceName+"/StartSubPlan")},
		{MethodName: "StopSubPlan", Handler: unaryHandler(WorkerServer.StopSubPlan, workerServiceName+"/StopSubPlan")},
		{MethodName: "UnregisterSubPlan", Handler: unaryHandler(WorkerServer.UnregisterSubPlan, workerServiceName+"/UnregisterSubPlan")},
		{MethodName: "ProbeStat", Handler: unaryHandler(WorkerServer.ProbeStat, workerServiceName+"/ProbeStat")},
	},
	Metadata: "nebulastream/control.proto",
}

// WorkerClient invokes WorkerServer methods on one dialed worker connection.
type WorkerClient struct {
	conn *grpc.ClientConn
}

func NewWorkerClient(conn *grpc.ClientConn) *WorkerClient {
	return &WorkerClient{conn: conn}
}

func (c *WorkerClient) invoke(ctx context.Context, method string, req, resp any) error {
	fullMethod := fmt.Sprintf("/%s/%s", workerServiceName, method)
	if err := c.conn.Invoke(ctx, fullMethod, req, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	return nil
}

func (c *WorkerClient) DeploySubPlan(ctx context.Context, req *DeploySubPlanRequest) (*DeploySubPlanResponse, error) {
	resp := new(DeploySubPlanResponse)
	if err := c.invoke(ctx, "DeploySubPlan", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *WorkerClient) StartSubPlan(ctx context.Context, req *StartSubPlanRequest) (*StartSubPlanResponse, error) {
	resp := new(StartSubPlanResponse)
	if err := c.invoke(ctx, "StartSubPlan", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *WorkerClient) StopSubPlan(ctx context.Context, req *StopSubPlanRequest) (*StopSubPlanResponse, error) {
	resp := new(StopSubPlanResponse)
	if err := c.invoke(ctx, "StopSubPlan", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *WorkerClient) UnregisterSubPlan(ctx context.Context, req *UnregisterSubPlanRequest) (*UnregisterSubPlanResponse, error) {
	resp := new(UnregisterSubPlanResponse)
	if err := c.invoke(ctx, "UnregisterSubPlan", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *WorkerClient) ProbeStat(ctx context.Context, req *ProbeStatRequest) (*ProbeStatResponse, error) {
	resp := new(ProbeStatResponse)
	if err := c.invoke(ctx, "ProbeStat", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
