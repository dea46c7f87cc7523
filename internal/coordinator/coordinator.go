// Package coordinator wires the optimizer, placement, decomposition and
// deployment phases together behind the control-plane RPC surface
// (internal/rpc.CoordinatorServer), matching QueryController/
// CoordinatorEngine's role as the single process a worker registers with
// and a client submits queries against.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nebulastream/nebulastream-sub040/internal/decomposition"
	"github.com/nebulastream/nebulastream-sub040/internal/deployment"
	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/optimizer"
	"github.com/nebulastream/nebulastream-sub040/internal/placement"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/registry"
	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// QueryPlanner turns SQL text into an initial operator graph and its sink
// roots. SQL parsing is explicitly out of scope (spec.md Non-goals): the
// coordinator depends only on this interface, so a test can inject a
// hand-built graph and a real SQL front end can be wired in later without
// touching anything downstream of it.
type QueryPlanner interface {
	Plan(sql string) (g *plan.Graph, roots []plan.NodeID, err error)
}

// SourceRegistry is the subset of internal/catalog.SourceCatalog the
// coordinator depends on: stream registration plus the two lookups the
// optimizer and placement phases need. Satisfied by *catalog.SourceCatalog.
type SourceRegistry interface {
	RegisterLogicalStream(ctx context.Context, logicalName string, schema layout.Schema) error
	UnregisterLogicalStream(ctx context.Context, logicalName string) error
	RegisterPhysicalStream(ctx context.Context, logicalName, physicalName string, nodeID uint32) error
	UnregisterPhysicalStream(ctx context.Context, logicalName, physicalName string) error
	PhysicalSourcesFor(logicalName string) []string
	NodeForPhysicalSource(physicalName string) (uint32, bool)
}

// QueryRegistry is the subset of internal/catalog.QueryCatalog the
// coordinator depends on: deployment.CatalogWriter's lifecycle
// transitions plus the initial row insert. Satisfied by
// *catalog.QueryCatalog.
type QueryRegistry interface {
	deployment.CatalogWriter
	Register(ctx context.Context, sharedPlanID, sql, placementStrategy string) error
}

// TopologyRecorder records a node's capacity history for later placement-
// failure diagnostics. Satisfied by *catalog.TopologyCatalog; nil is
// accepted by New when no persisted history is wanted (e.g. in tests).
type TopologyRecorder interface {
	RecordCapacity(ctx context.Context, id topology.NodeID, timestamp int64, capacity uint32) error
}

// queryRecord is the coordinator's bookkeeping for one RegisterQuery call:
// which shared plan it landed in (new or merged) and the per-node subplans
// decomposition produced for it, needed again by StartQuery/StopQuery. Its
// own mutex guards the fields runOptimization fills in asynchronously,
// separate from Coordinator.mu which only guards the submissions map.
type queryRecord struct {
	mu         sync.Mutex
	sharedPlan *plan.SharedPlan
	subplans   map[topology.NodeID]*decomposition.SubPlan
	strategy   string
	ready      bool
	err        error
}

func (r *queryRecord) complete(sp *plan.SharedPlan, subplans map[topology.NodeID]*decomposition.SubPlan, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = true
	r.sharedPlan = sp
	r.subplans = subplans
	r.err = err
}

func (r *queryRecord) snapshot() (ready bool, sp *plan.SharedPlan, subplans map[topology.NodeID]*decomposition.SubPlan, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready, r.sharedPlan, r.subplans, r.err
}

// Coordinator implements rpc.CoordinatorServer, holding the process-wide
// topology, catalogs, merger index and placement strategies a query's
// lifecycle moves through between submission and deployment.
type Coordinator struct {
	logger *slog.Logger

	topology *topology.Graph
	sources  SourceRegistry
	queries  QueryRegistry
	topoCat  TopologyRecorder

	merger      *optimizer.Merger
	strategies  *registry.Registry[struct{}, placement.Strategy]
	planner     QueryPlanner
	dialer      deployment.WorkerDialer
	deployer    *deployment.Deployer
	aggregator  rpc.StatAggregator
	nextQueryID atomic.Uint64
	nextChannel atomic.Uint64

	mu          sync.RWMutex
	submissions map[uint64]*queryRecord
	registered  map[string]bool // sharedPlanID -> already has a catalog row
}

// New creates a Coordinator rooted at rootNode (the coordinator's own
// topology entry, matching the coordinator-as-node convention used by
// placement/decomposition), with address/capacitySlots describing
// it. dialer resolves a topology node to a live WorkerClient.
func New(
	rootNode topology.NodeID, address string, capacitySlots uint32,
	sources SourceRegistry, queries QueryRegistry, topoCat TopologyRecorder,
	planner QueryPlanner, dialer deployment.WorkerDialer, logger *slog.Logger,
) (*Coordinator, error) {
	topo := topology.New()
	if err := topo.AddRoot(rootNode, address, capacitySlots); err != nil {
		return nil, fmt.Errorf("coordinator: registering root node: %w", err)
	}

	strategies := registry.New[struct{}, placement.Strategy](false)
	_ = strategies.Register("BOTTOMUP", func(struct{}) (placement.Strategy, error) { return placement.BottomUp{}, nil })
	_ = strategies.Register("TOPDOWN", func(struct{}) (placement.Strategy, error) { return placement.TopDown{}, nil })
	_ = strategies.Register("ILP", func(struct{}) (placement.Strategy, error) { return placement.ILP{}, nil })

	return &Coordinator{
		logger:      logger,
		topology:    topo,
		sources:     sources,
		queries:     queries,
		topoCat:     topoCat,
		merger:      optimizer.NewMerger(),
		strategies:  strategies,
		planner:     planner,
		dialer:      dialer,
		deployer:    deployment.New(dialer, queries),
		submissions: make(map[uint64]*queryRecord),
		registered:  make(map[string]bool),
	}, nil
}

// RegisterNode admits a worker into the topology as a child of
// req.Node.ParentNodeID, and records its initial capacity in the
// topology catalog's version history.
func (c *Coordinator) RegisterNode(ctx context.Context, req *rpc.RegisterNodeRequest) (*rpc.RegisterNodeResponse, error) {
	n := req.Node
	if !n.HasParent {
		return nil, fmt.Errorf("coordinator: registering node %d: a node other than the root must declare a parent", n.NodeID)
	}
	link := topology.Link{BandwidthMbps: n.LinkBandwidthMbps, LatencyMillis: n.LinkLatencyMillis}
	if err := c.topology.AddChild(topology.NodeID(n.ParentNodeID), topology.NodeID(n.NodeID), n.Address, n.CapacitySlots, link); err != nil {
		return nil, fmt.Errorf("coordinator: registering node %d: %w", n.NodeID, err)
	}
	if c.topoCat != nil {
		if err := c.topoCat.RecordCapacity(ctx, topology.NodeID(n.NodeID), time.Now().Unix(), n.CapacitySlots); err != nil {
			c.logger.Warn("recording initial capacity failed", "node", n.NodeID, "error", err)
		}
	}
	c.logger.Info("node registered", "node", n.NodeID, "parent", n.ParentNodeID, "address", n.Address)
	return &rpc.RegisterNodeResponse{Accepted: true}, nil
}

// UnregisterNode removes a leaf node from the topology. A node still
// hosting placed operators must be drained by the caller first;
// RemoveNode refuses to remove a node with children.
func (c *Coordinator) UnregisterNode(ctx context.Context, req *rpc.UnregisterNodeRequest) (*rpc.UnregisterNodeResponse, error) {
	if err := c.topology.RemoveNode(topology.NodeID(req.NodeID)); err != nil {
		return nil, fmt.Errorf("coordinator: unregistering node %d: %w", req.NodeID, err)
	}
	if d, ok := c.dialer.(*GRPCDialer); ok {
		d.Forget(topology.NodeID(req.NodeID))
	}
	return &rpc.UnregisterNodeResponse{Removed: true}, nil
}

func (c *Coordinator) RegisterLogicalStream(ctx context.Context, req *rpc.RegisterLogicalStreamRequest) (*rpc.RegisterLogicalStreamResponse, error) {
	if err := c.sources.RegisterLogicalStream(ctx, req.LogicalName, req.Schema); err != nil {
		return nil, err
	}
	return &rpc.RegisterLogicalStreamResponse{Registered: true}, nil
}

func (c *Coordinator) UnregisterLogicalStream(ctx context.Context, req *rpc.UnregisterLogicalStreamRequest) (*rpc.UnregisterLogicalStreamResponse, error) {
	if err := c.sources.UnregisterLogicalStream(ctx, req.LogicalName); err != nil {
		return nil, err
	}
	return &rpc.UnregisterLogicalStreamResponse{Removed: true}, nil
}

func (c *Coordinator) RegisterPhysicalStream(ctx context.Context, req *rpc.RegisterPhysicalStreamRequest) (*rpc.RegisterPhysicalStreamResponse, error) {
	if err := c.sources.RegisterPhysicalStream(ctx, req.LogicalName, req.PhysicalName, req.NodeID); err != nil {
		return nil, err
	}
	return &rpc.RegisterPhysicalStreamResponse{Registered: true}, nil
}

func (c *Coordinator) UnregisterPhysicalStream(ctx context.Context, req *rpc.UnregisterPhysicalStreamRequest) (*rpc.UnregisterPhysicalStreamResponse, error) {
	if err := c.sources.UnregisterPhysicalStream(ctx, req.LogicalName, req.PhysicalName); err != nil {
		return nil, err
	}
	return &rpc.UnregisterPhysicalStreamResponse{Removed: true}, nil
}
