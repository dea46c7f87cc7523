// Command worker runs one NebulaStream worker node: it registers with a
// coordinator, then accepts DeploySubPlan/StartSubPlan/StopSubPlan RPCs
// against the compiled pipeline in internal/worker, and opens its
// data-plane service for the net bridges those pipelines wire between
// nodes. Matches the control-plane/data-plane split and keepalive-tuned
// gRPC server setup of the teacher's service/operator command.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/config"
	"github.com/nebulastream/nebulastream-sub040/internal/logging"
	"github.com/nebulastream/nebulastream-sub040/internal/network"
	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/telemetry"
	"github.com/nebulastream/nebulastream-sub040/internal/worker"
)

// compiledArtifactCacheCapacity bounds the worker's build-once guard
// (internal/compiler.Cache), keyed per QueryID: not a tuning knob exposed
// on the CLI since a deployed subplan is never rebuilt once compiled.
const compiledArtifactCacheCapacity = 256

func main() {
	workerFlags := config.RegisterWorkerFlags()
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP metrics endpoint; telemetry disabled if empty")
	flag.Parse()

	cfg, err := workerFlags.ToConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(config.ExitConfigError))
	}

	logger := logging.New(logging.Config{Level: logging.ParseLevel(cfg.LogLevel), Component: "worker"})

	nodeID, err := strconv.ParseUint(cfg.NodeID, 10, 32)
	if err != nil {
		logger.Error("invalid --node-id", "value", cfg.NodeID, "error", err)
		os.Exit(int(config.ExitConfigError))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := telemetry.New(ctx, telemetry.Config{
		OTLPEndpoint: *otlpEndpoint,
		ServiceName:  "nebulastream-worker",
		Enabled:      *otlpEndpoint != "",
	})
	if err != nil {
		logger.Error("starting telemetry sink", "error", err)
		os.Exit(int(config.ExitConfigError))
	}
	defer sink.Shutdown(context.Background())

	pool := buffer.NewPool(cfg.BufferSizeBytes, cfg.NumberOfBuffers)
	defer pool.Shutdown()

	transport := network.NewGRPCTransport()
	defer transport.Close()

	w, err := worker.New(worker.Config{
		NodeID:           uint32(nodeID),
		NumWorkerThreads: cfg.NumWorkerThreads,
		BuffersPerWorker: cfg.BuffersPerWorker,
		CacheCapacity:    compiledArtifactCacheCapacity,
	}, pool, sink, transport, logger)
	if err != nil {
		logger.Error("constructing worker", "error", err)
		os.Exit(int(config.ExitConfigError))
	}
	w.Start(ctx)
	defer w.Stop()

	if err := registerWithCoordinator(ctx, cfg, logger); err != nil {
		logger.Error("registering with coordinator", "error", err)
		os.Exit(int(config.ExitConfigError))
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 60 * time.Second, Timeout: 20 * time.Second}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 30 * time.Second, PermitWithoutStream: true}),
	}
	grpcServer := grpc.NewServer(opts...)
	grpcServer.RegisterService(&rpc.WorkerServiceDesc, w)
	grpcServer.RegisterService(&network.DataPlaneServiceDesc, network.NewDataPlaneServer(w.NetworkManager()))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Both the control-plane (rpc.WorkerServiceDesc) and data-plane
	// (network.DataPlaneServiceDesc) services share this one listener and
	// port: nothing about the wire dispatch requires them to be split.
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.RPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen", "address", addr, "error", err)
		os.Exit(int(config.ExitBindFailure))
	}
	logger.Info("worker listening", "address", addr, "node_id", nodeID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	errChan := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("received shutdown signal")
	case err := <-errChan:
		logger.Error("server error", "error", err)
	}

	logger.Info("initiating graceful shutdown...")
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("server stopped gracefully")
	case <-time.After(10 * time.Second):
		logger.Warn("graceful shutdown timed out, forcing stop")
		grpcServer.Stop()
	}
}

// registerWithCoordinator dials the coordinator's control plane once at
// startup and announces this node, mirroring the RegisterNode call a real
// deployment would otherwise drive through a join protocol. The address
// the node registers as its own (its RPC port) is also the one peers dial
// for the data plane, since both services are served on that listener.
func registerWithCoordinator(ctx context.Context, cfg config.Worker, logger *slog.Logger) error {
	conn, err := grpc.NewClient(cfg.CoordinatorAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dialing coordinator %s: %w", cfg.CoordinatorAddress, err)
	}
	defer conn.Close()

	client := rpc.NewClient(conn)
	nodeID, err := strconv.ParseUint(cfg.NodeID, 10, 32)
	if err != nil {
		return fmt.Errorf("parsing node id: %w", err)
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, 10*time.Second)
	defer reqCancel()

	req := &rpc.RegisterNodeRequest{
		Node: rpc.NodeDescriptor{
			NodeID:        uint32(nodeID),
			HasParent:     true,
			ParentNodeID:  1,
			Address:       fmt.Sprintf("0.0.0.0:%d", cfg.RPCPort),
			CapacitySlots: uint32(cfg.NumWorkerThreads),
		},
	}
	resp, err := client.RegisterNode(reqCtx, req)
	if err != nil {
		return fmt.Errorf("RegisterNode: %w", err)
	}
	if !resp.Accepted {
		return fmt.Errorf("coordinator rejected node registration")
	}
	logger.Info("registered with coordinator", "coordinator", cfg.CoordinatorAddress)
	return nil
}
