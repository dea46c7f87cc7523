package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// Linear topology: coordinator(root=1) -> worker(2) -> worker(3, sink lives here).
func linearTopology(t *testing.T, capacityPerNode uint32) *topology.Graph {
	t.Helper()
	g := topology.New()
	require.NoError(t, g.AddRoot(1, "coordinator", capacityPerNode))
	require.NoError(t, g.AddChild(1, 2, "worker-a", capacityPerNode, topology.Link{BandwidthMbps: 1000, LatencyMillis: 1}))
	require.NoError(t, g.AddChild(2, 3, "worker-b", capacityPerNode, topology.Link{BandwidthMbps: 1000, LatencyMillis: 1}))
	return g
}

func linearFilterPlan() (*plan.Graph, plan.NodeID, plan.NodeID, plan.NodeID) {
	g := plan.NewGraph()
	schema := layout.Schema{Fields: []layout.Field{{Name: "value", Type: layout.Int64}}}
	src := g.AddOperator(plan.OpSource, "cars", schema)
	filter := g.AddOperator(plan.OpFilter, "value>0", schema)
	sink := g.AddOperator(plan.OpSink, "out", schema)
	g.Connect(filter, src)
	g.Connect(sink, filter)
	g.MarkRoot(sink)
	return g, src, filter, sink
}

func TestBottomUp_PlacesOperatorClosestToSource(t *testing.T) {
	topo := linearTopology(t, 4)
	g, src, filter, sink := linearFilterPlan()

	req := Request{
		Graph:    g,
		Sink:     sink,
		Topology: topo,
		Pinned:   Assignment{src: 2, sink: 3},
	}
	assignment, err := BottomUp{}.Place(req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, assignment[filter], "bottom-up keeps the filter on the source's node when capacity allows")
}

func TestTopDown_PlacesOperatorClosestToSink(t *testing.T) {
	topo := linearTopology(t, 4)
	g, src, filter, sink := linearFilterPlan()

	req := Request{
		Graph:    g,
		Sink:     sink,
		Topology: topo,
		Pinned:   Assignment{src: 2, sink: 3},
	}
	assignment, err := TopDown{}.Place(req)
	require.NoError(t, err)
	assert.EqualValues(t, 3, assignment[filter])
}

func TestBottomUp_FailsWhenNoCapacityOnPath(t *testing.T) {
	topo := linearTopology(t, 0)
	g, src, _, sink := linearFilterPlan()

	req := Request{
		Graph:    g,
		Sink:     sink,
		Topology: topo,
		Pinned:   Assignment{src: 2, sink: 3},
	}
	_, err := BottomUp{}.Place(req)
	assert.ErrorIs(t, err, ErrPlacementFailed)
}

func TestILP_MinimizesHopDistance(t *testing.T) {
	topo := linearTopology(t, 4)
	g, src, filter, sink := linearFilterPlan()

	req := Request{
		Graph:    g,
		Sink:     sink,
		Topology: topo,
		Pinned:   Assignment{src: 2, sink: 3},
	}
	assignment, err := ILP{}.Place(req)
	require.NoError(t, err)
	// zero-hop placements (filter colocated with either endpoint) both cost the
	// same; ILP must pick a feasible one, not merely any one.
	node, ok := topo.Node(assignment[filter])
	require.True(t, ok)
	assert.True(t, node.ID == 2 || node.ID == 3)
}
