package coordinator

import (
	"context"
	"fmt"

	"github.com/nebulastream/nebulastream-sub040/internal/decomposition"
	"github.com/nebulastream/nebulastream-sub040/internal/optimizer"
	"github.com/nebulastream/nebulastream-sub040/internal/placement"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/rpc"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// SubmitQuery plans, optimizes and places sql, returning a QueryID before
// any of that work finishes: optimization and placement run in the
// background, and the caller polls lifecycle through the query catalog
// or the StartQuery/StopQuery RPCs, matching the CoordinatorEngineTest
// submit-then-poll pattern (SUPPLEMENTED FEATURES #8).
func (c *Coordinator) SubmitQuery(ctx context.Context, sql, placementStrategy string) (uint64, error) {
	if !c.strategies.Contains(placementStrategy) {
		return 0, fmt.Errorf("coordinator: unknown placement strategy %q", placementStrategy)
	}

	queryID := c.nextQueryID.Add(1)
	rec := &queryRecord{strategy: placementStrategy}
	c.mu.Lock()
	c.submissions[queryID] = rec
	c.mu.Unlock()

	go c.runOptimization(queryID, sql, placementStrategy, rec)
	return queryID, nil
}

func (c *Coordinator) runOptimization(queryID uint64, sql, strategyName string, rec *queryRecord) {
	ctx := context.Background()
	sp, subplans, err := c.optimizeAndPlan(ctx, sql, strategyName)
	rec.complete(sp, subplans, err)
	if err != nil {
		c.logger.Error("query optimization failed", "query", queryID, "error", err)
		return
	}

	c.mu.Lock()
	firstRegistration := !c.registered[sp.ID]
	c.registered[sp.ID] = true
	c.mu.Unlock()

	if firstRegistration {
		if err := c.queries.Register(ctx, sp.ID, sql, strategyName); err != nil {
			c.logger.Error("recording query catalog row failed", "query", queryID, "plan", sp.ID, "error", err)
		}
	}
	c.logger.Info("query optimized", "query", queryID, "plan", sp.ID, "nodes", len(subplans))
}

// optimizeAndPlan runs the standard optimizer pipeline (which also
// performs query merging), then places and decomposes every sink the
// resulting shared plan now has. A sink splicing onto an already-merged
// subtree is placed and decomposed across its whole reachable subtree
// independently of any earlier placement of that subtree; a previously
// placed shared prefix is not reused, a known simplification.
func (c *Coordinator) optimizeAndPlan(ctx context.Context, sql, strategyName string) (*plan.SharedPlan, map[topology.NodeID]*decomposition.SubPlan, error) {
	g, roots, err := c.planner.Plan(sql)
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator: planning query: %w", err)
	}

	pipeline := optimizer.StandardPipeline(c.sources, c.merger)
	g, roots, err = optimizer.Run(g, roots, pipeline)
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator: optimizing query: %w", err)
	}

	sp := c.sharedPlanFor(g)
	if sp == nil {
		return nil, nil, fmt.Errorf("coordinator: optimizer returned a graph not tracked by any shared plan")
	}

	strategy, ok, err := c.strategies.Create(strategyName, struct{}{})
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator: creating placement strategy %q: %w", strategyName, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("coordinator: unknown placement strategy %q", strategyName)
	}

	combined := make(map[topology.NodeID]*decomposition.SubPlan)
	for _, sinkID := range roots {
		pinned, err := c.pinOperators(sp.Graph, sinkID)
		if err != nil {
			return nil, nil, err
		}
		assignment, err := strategy.Place(placement.Request{Graph: sp.Graph, Sink: sinkID, Topology: c.topology, Pinned: pinned})
		if err != nil {
			return nil, nil, fmt.Errorf("coordinator: placing sink %d: %w", sinkID, err)
		}
		subplans, err := decomposition.Decompose(sp.Graph, sinkID, assignment, c.topology, c.allocChannel)
		if err != nil {
			return nil, nil, fmt.Errorf("coordinator: decomposing sink %d: %w", sinkID, err)
		}
		mergeSubplans(combined, subplans)
	}
	return sp, combined, nil
}

func (c *Coordinator) allocChannel() uint64 {
	return c.nextChannel.Add(1)
}

// sharedPlanFor recovers the *plan.SharedPlan a merged/optimized graph
// belongs to. QueryMerger assigns its own plan id internally and returns
// only the resulting graph, so the only way back to the SharedPlan is to
// match it by Graph pointer identity against the merger's tracked plans.
func (c *Coordinator) sharedPlanFor(g *plan.Graph) *plan.SharedPlan {
	for _, candidate := range c.merger.Plans() {
		if candidate.Graph == g {
			return candidate
		}
	}
	return nil
}

// pinOperators pre-populates the sink (pinned to the coordinator's own
// topology root, since a sink has no physical registration of its own)
// and every source operator reachable from sinkID, pinned to the node its
// physical source was registered on.
func (c *Coordinator) pinOperators(g *plan.Graph, sinkID plan.NodeID) (placement.Assignment, error) {
	assignment := placement.Assignment{sinkID: c.topology.Root()}

	var sources []plan.NodeID
	visited := make(map[plan.NodeID]bool)
	collectSources(g, sinkID, visited, &sources)

	for _, srcID := range sources {
		op := g.Node(srcID)
		nodeID, ok := c.nodeForSourceOperator(op.Params)
		if !ok {
			return nil, fmt.Errorf("coordinator: source operator %d: physical source %q has no registered node", srcID, op.Params)
		}
		assignment[srcID] = topology.NodeID(nodeID)
	}
	return assignment, nil
}

// nodeForSourceOperator resolves a source operator's node. TopologyAwareRewrite
// only renames an operator's Params to its physical source name when a
// logical source has more than one; a logical source with exactly one
// physical source is left with its logical name, so that case is
// resolved here by following PhysicalSourcesFor instead.
func (c *Coordinator) nodeForSourceOperator(params string) (uint32, bool) {
	if nodeID, ok := c.sources.NodeForPhysicalSource(params); ok {
		return nodeID, ok
	}
	physical := c.sources.PhysicalSourcesFor(params)
	if len(physical) != 1 {
		return 0, false
	}
	return c.sources.NodeForPhysicalSource(physical[0])
}

func collectSources(g *plan.Graph, id plan.NodeID, visited map[plan.NodeID]bool, out *[]plan.NodeID) {
	if visited[id] {
		return
	}
	visited[id] = true
	op := g.Node(id)
	for _, child := range op.Children {
		collectSources(g, child, visited, out)
	}
	if op.Type == plan.OpSource {
		*out = append(*out, id)
	}
}

// mergeSubplans folds src into dst, deduplicating operators a node
// already has from a previous sink's decomposition within the same
// optimizeAndPlan call.
func mergeSubplans(dst map[topology.NodeID]*decomposition.SubPlan, src map[topology.NodeID]*decomposition.SubPlan) {
	for node, sub := range src {
		existing, ok := dst[node]
		if !ok {
			dst[node] = sub
			continue
		}
		existing.Operators = appendUnique(existing.Operators, sub.Operators)
		existing.Roots = appendUnique(existing.Roots, sub.Roots)
	}
}

func appendUnique(dst []plan.NodeID, src []plan.NodeID) []plan.NodeID {
	seen := make(map[plan.NodeID]bool, len(dst))
	for _, id := range dst {
		seen[id] = true
	}
	for _, id := range src {
		if !seen[id] {
			dst = append(dst, id)
			seen[id] = true
		}
	}
	return dst
}

func (c *Coordinator) lookupSubmission(queryID uint64) (*queryRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.submissions[queryID]
	if !ok {
		return nil, fmt.Errorf("coordinator: no query with id %d", queryID)
	}
	return rec, nil
}

func (c *Coordinator) RegisterQuery(ctx context.Context, req *rpc.RegisterQueryRequest) (*rpc.RegisterQueryResponse, error) {
	queryID, err := c.SubmitQuery(ctx, req.SQL, req.PlacementStrategy)
	if err != nil {
		return nil, err
	}
	return &rpc.RegisterQueryResponse{QueryID: queryID}, nil
}

// StartQuery deploys and starts an already-optimized query's subplans.
// It errors if optimization has not finished yet; the caller is expected
// to poll (directly, or by watching the query catalog) before retrying.
func (c *Coordinator) StartQuery(ctx context.Context, req *rpc.StartQueryRequest) (*rpc.StartQueryResponse, error) {
	rec, err := c.lookupSubmission(req.QueryID)
	if err != nil {
		return nil, err
	}
	ready, sp, subplans, optErr := rec.snapshot()
	if !ready {
		return nil, fmt.Errorf("coordinator: query %d: optimization still running", req.QueryID)
	}
	if optErr != nil {
		return nil, fmt.Errorf("coordinator: query %d: optimization failed: %w", req.QueryID, optErr)
	}
	if err := c.deployer.Deploy(ctx, sp, subplans); err != nil {
		return nil, err
	}
	return &rpc.StartQueryResponse{Started: true}, nil
}

func (c *Coordinator) StopQuery(ctx context.Context, req *rpc.StopQueryRequest) (*rpc.StopQueryResponse, error) {
	rec, err := c.lookupSubmission(req.QueryID)
	if err != nil {
		return nil, err
	}
	ready, sp, subplans, optErr := rec.snapshot()
	if !ready || optErr != nil {
		return nil, fmt.Errorf("coordinator: query %d: not deployed", req.QueryID)
	}
	if err := c.deployer.Stop(ctx, sp, subplans, req.UserInitiated); err != nil {
		return nil, err
	}
	return &rpc.StopQueryResponse{Stopped: true}, nil
}

// UnregisterQuery drops a submission's bookkeeping. The shared plan it
// contributed sinks to, and the merger's index of it, are left alone:
// other queries may still be merged onto the same subtree.
func (c *Coordinator) UnregisterQuery(ctx context.Context, req *rpc.UnregisterQueryRequest) (*rpc.UnregisterQueryResponse, error) {
	c.mu.Lock()
	_, ok := c.submissions[req.QueryID]
	delete(c.submissions, req.QueryID)
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("coordinator: no query with id %d", req.QueryID)
	}
	return &rpc.UnregisterQueryResponse{Removed: true}, nil
}

// ProbeStat fans a stat probe out to every node hosting one of the
// requested physical sources (or every physical source of the logical
// stream, when none are named) and merges the replies when req.Merge is
// set, mirroring StatCoordinator's per-node collection plus
// coordinator-side combination.
func (c *Coordinator) ProbeStat(ctx context.Context, req *rpc.ProbeStatRequest) (*rpc.ProbeStatResponse, error) {
	names := req.PhysicalSourceNames
	if len(names) == 0 {
		names = c.sources.PhysicalSourcesFor(req.LogicalSourceName)
	}

	byNode := make(map[topology.NodeID][]string)
	for _, name := range names {
		nodeID, ok := c.sources.NodeForPhysicalSource(name)
		if !ok {
			return nil, fmt.Errorf("coordinator: probing stat: physical source %q has no registered node", name)
		}
		n := topology.NodeID(nodeID)
		byNode[n] = append(byNode[n], name)
	}

	var replies [][]float64
	for node, subset := range byNode {
		client, err := c.dialer.WorkerFor(node)
		if err != nil {
			return nil, fmt.Errorf("coordinator: probing stat: dialing node %d: %w", node, err)
		}
		resp, err := client.ProbeStat(ctx, &rpc.ProbeStatRequest{
			LogicalSourceName:   req.LogicalSourceName,
			FieldName:           req.FieldName,
			StatCollectorType:   req.StatCollectorType,
			PhysicalSourceNames: subset,
		})
		if err != nil {
			return nil, fmt.Errorf("coordinator: probing stat: node %d: %w", node, err)
		}
		replies = append(replies, resp.Values)
	}

	if !req.Merge {
		var flattened []float64
		for _, r := range replies {
			flattened = append(flattened, r...)
		}
		return &rpc.ProbeStatResponse{Values: flattened}, nil
	}

	merged, err := c.aggregator.Merge(rpc.ReducerSum, replies)
	if err != nil {
		return nil, fmt.Errorf("coordinator: merging stat replies: %w", err)
	}
	return &rpc.ProbeStatResponse{Values: merged}, nil
}
