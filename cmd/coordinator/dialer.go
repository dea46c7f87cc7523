package main

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// grpcWorkerDialer resolves a topology node to a cached *rpc.WorkerClient,
// dialing lazily on first use. It learns node addresses the same way the
// coordinator's own topology does: from RegisterNodeRequest.Node.Address,
// recorded by registeringServer before delegating to the real
// rpc.CoordinatorServer.
type grpcWorkerDialer struct {
	mu        sync.Mutex
	addresses map[topology.NodeID]string
	clients   map[topology.NodeID]*rpc.WorkerClient
	conns     map[topology.NodeID]*grpc.ClientConn
}

func newGRPCWorkerDialer() *grpcWorkerDialer {
	return &grpcWorkerDialer{
		addresses: make(map[topology.NodeID]string),
		clients:   make(map[topology.NodeID]*rpc.WorkerClient),
		conns:     make(map[topology.NodeID]*grpc.ClientConn),
	}
}

func (d *grpcWorkerDialer) record(nodeID uint32, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses[topology.NodeID(nodeID)] = address
}

func (d *grpcWorkerDialer) AddressFor(node topology.NodeID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	addr, ok := d.addresses[node]
	return addr, ok
}

func (d *grpcWorkerDialer) WorkerFor(node topology.NodeID) (*rpc.WorkerClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[node]; ok {
		return c, nil
	}
	addr, ok := d.addresses[node]
	if !ok {
		return nil, fmt.Errorf("coordinator: no address registered for node %d", node)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("coordinator: dialing node %d at %s: %w", node, addr, err)
	}
	client := rpc.NewWorkerClient(conn)
	d.conns[node] = conn
	d.clients[node] = client
	return client, nil
}

func (d *grpcWorkerDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for node, conn := range d.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.conns, node)
	}
	return firstErr
}

// registeringServer wraps an rpc.CoordinatorServer to feed every accepted
// RegisterNode call's address into dialer, so placement's chosen worker
// nodes are dialable without a separate address-discovery RPC.
type registeringServer struct {
	rpc.CoordinatorServer
	dialer *grpcWorkerDialer
}

func (s *registeringServer) RegisterNode(ctx context.Context, req *rpc.RegisterNodeRequest) (*rpc.RegisterNodeResponse, error) {
	resp, err := s.CoordinatorServer.RegisterNode(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Accepted {
		s.dialer.record(req.Node.NodeID, req.Node.Address)
	}
	return resp, nil
}
