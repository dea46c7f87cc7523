// Command coordinator runs the single control-plane process workers
// register with and clients submit queries against: optimizer, placement,
// decomposition and deployment wired behind internal/rpc.CoordinatorServer,
// backed by the Postgres query/source catalogs and the Redis topology
// catalog. Matches the keepalive-tuned gRPC server setup and graceful
// shutdown of the teacher's service/operator command.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/nebulastream/nebulastream-sub040/internal/catalog"
	"github.com/nebulastream/nebulastream-sub040/internal/config"
	"github.com/nebulastream/nebulastream-sub040/internal/coordinator"
	"github.com/nebulastream/nebulastream-sub040/internal/logging"
	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// rootNodeID is the coordinator's own entry in the topology graph
// (topology.New's single root), matching the coordinator-as-node
// convention placement and decomposition already assume.
const rootNodeID topology.NodeID = 1

// topologyMaxVersions bounds the in-memory capacity history the topology
// catalog hydrates per node.
const topologyMaxVersions = 32

func main() {
	coordinatorFlags := config.RegisterCoordinatorFlags()
	postgresFlags := catalog.RegisterPostgresFlags()
	redisFlags := catalog.RegisterRedisFlags()
	flag.Parse()

	cfg, err := coordinatorFlags.ToConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(config.ExitConfigError))
	}

	logger := logging.New(logging.Config{Level: logging.ParseLevel(cfg.LogLevel), Component: "coordinator"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := catalog.NewPostgresClient(ctx, postgresFlags.ToPostgresConfig(), logger)
	if err != nil {
		logger.Error("connecting to postgres", "error", err)
		os.Exit(int(config.ExitConfigError))
	}
	defer pg.Close()

	redisClient, err := catalog.NewRedisClient(ctx, redisFlags.ToRedisConfig(), logger)
	if err != nil {
		logger.Error("connecting to redis", "error", err)
		os.Exit(int(config.ExitConfigError))
	}
	defer redisClient.Close()

	queries := catalog.NewQueryCatalog(pg)
	sources := catalog.NewSourceCatalog(pg)
	topoCat := catalog.NewTopologyCatalog(redisClient.Client(), topologyMaxVersions)

	dialer := newGRPCWorkerDialer()
	defer dialer.Close()

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.RPCPort)
	coord, err := coordinator.New(rootNodeID, addr, 0, sources, queries, topoCat, jsonPlanner{}, dialer, logger)
	if err != nil {
		logger.Error("constructing coordinator", "error", err)
		os.Exit(int(config.ExitConfigError))
	}
	server := &registeringServer{CoordinatorServer: coord, dialer: dialer}

	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 60 * time.Second, Timeout: 20 * time.Second}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 30 * time.Second, PermitWithoutStream: true}),
	}
	grpcServer := grpc.NewServer(opts...)
	grpcServer.RegisterService(&rpc.ServiceDesc, server)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen", "address", addr, "error", err)
		os.Exit(int(config.ExitBindFailure))
	}
	logger.Info("coordinator listening", "address", addr)

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
