package coordinator

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// GRPCDialer resolves a topology node to a WorkerClient, dialing lazily
// and caching one connection per node, mirroring GRPCTransport's
// connFor/keepalive-tuned dial options on the control plane rather than
// the data plane.
type GRPCDialer struct {
	topo *topology.Graph

	mu      sync.Mutex
	clients map[topology.NodeID]*rpc.WorkerClient
}

// NewGRPCDialer resolves worker addresses from topo as nodes register.
func NewGRPCDialer(topo *topology.Graph) *GRPCDialer {
	return &GRPCDialer{topo: topo, clients: make(map[topology.NodeID]*rpc.WorkerClient)}
}

// WorkerFor satisfies internal/deployment.WorkerDialer.
func (d *GRPCDialer) WorkerFor(node topology.NodeID) (*rpc.WorkerClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[node]; ok {
		return c, nil
	}

	n, ok := d.topo.Node(node)
	if !ok {
		return nil, fmt.Errorf("coordinator: dialing node %d: not registered in topology", node)
	}

	conn, err := grpc.NewClient(n.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("coordinator: dialing node %d at %s: %w", node, n.Address, err)
	}

	client := rpc.NewWorkerClient(conn)
	d.clients[node] = client
	return client, nil
}

// AddressFor satisfies internal/deployment.WorkerDialer.
func (d *GRPCDialer) AddressFor(node topology.NodeID) (string, bool) {
	n, ok := d.topo.Node(node)
	if !ok {
		return "", false
	}
	return n.Address, true
}

// Forget drops a cached connection, called when a node is unregistered
// from the topology so a future re-registration dials fresh.
func (d *GRPCDialer) Forget(node topology.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clients, node)
}
