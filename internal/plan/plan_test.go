package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/network"
)

func intSchema(name string) layout.Schema {
	return layout.Schema{Fields: []layout.Field{{Name: name, Type: layout.Int64}}}
}

func buildFilterPlan(g *Graph, srcName string) (src, filter, sink NodeID) {
	src = g.AddOperator(OpSource, srcName, intSchema("value"))
	filter = g.AddOperator(OpFilter, "value>0", intSchema("value"))
	sink = g.AddOperator(OpSink, "out", intSchema("value"))
	g.Connect(filter, src)
	g.Connect(sink, filter)
	g.MarkRoot(sink)
	return
}

func TestGraph_TextSignatureMatchesForIdenticalPlans(t *testing.T) {
	g1 := NewGraph()
	_, _, sink1 := buildFilterPlan(g1, "cars")
	g2 := NewGraph()
	_, _, sink2 := buildFilterPlan(g2, "cars")

	assert.Equal(t, g1.ComputeTextSignature(sink1), g2.ComputeTextSignature(sink2))
}

func TestGraph_SemanticSignatureIgnoresConjunctOrder(t *testing.T) {
	g1 := NewGraph()
	src1 := g1.AddOperator(OpSource, "cars", intSchema("value"))
	f1 := g1.AddOperator(OpFilter, "a>0,b<10", intSchema("value"))
	g1.Connect(f1, src1)

	g2 := NewGraph()
	src2 := g2.AddOperator(OpSource, "cars", intSchema("value"))
	f2 := g2.AddOperator(OpFilter, "b<10,a>0", intSchema("value"))
	g2.Connect(f2, src2)

	assert.Equal(t, g1.ComputeSemanticSignature(f1), g2.ComputeSemanticSignature(f2))
	assert.NotEqual(t, g1.ComputeTextSignature(f1), g2.ComputeTextSignature(f2))
}

func TestGraph_ReparentSplicesSinkOntoSharedSubtree(t *testing.T) {
	g := NewGraph()
	_, filter, sink1 := buildFilterPlan(g, "cars")
	sink2 := g.AddOperator(OpSink, "out2", intSchema("value"))
	// sink2 temporarily wired under a throwaway node, then reparented onto filter
	throwaway := g.AddOperator(OpFilter, "noop", intSchema("value"))
	g.Connect(sink2, throwaway)

	require.NoError(t, g.Reparent(sink2, throwaway, filter))
	assert.Contains(t, g.Node(sink2).Children, filter)
	assert.Contains(t, g.Node(filter).Parents, sink2)
	_ = sink1
}

func TestSharedPlan_LifecycleTransitions(t *testing.T) {
	g := NewGraph()
	_, _, sink := buildFilterPlan(g, "cars")
	p := NewSharedPlan("q1", g)
	p.Merge("q1", []NodeID{sink})

	assert.Equal(t, Created, p.State())
	require.NoError(t, p.MarkDeployed())
	require.NoError(t, p.MarkRunning())
	assert.Equal(t, Running, p.State())

	err := p.MarkDeployed()
	assert.Error(t, err)
	require.NoError(t, p.MarkStopped())
	assert.Equal(t, Stopped, p.State())
}

func TestSharedPlan_TerminationTypeSelection(t *testing.T) {
	g := NewGraph()
	_, _, sink := buildFilterPlan(g, "cars")
	p := NewSharedPlan("q1", g)
	p.Merge("q1", []NodeID{sink})
	require.NoError(t, p.MarkDeployed())
	require.NoError(t, p.MarkRunning())

	assert.Equal(t, network.Graceful, p.TerminationType(false))
	assert.Equal(t, network.HardStop, p.TerminationType(true))

	require.NoError(t, p.MarkFailed())
	assert.Equal(t, network.Failure, p.TerminationType(false))
}

func TestSharedPlan_MergeAppendsChangelogAndSinkOrder(t *testing.T) {
	g := NewGraph()
	_, _, sink1 := buildFilterPlan(g, "cars")
	p := NewSharedPlan("q1", g)
	p.Merge("q1", []NodeID{sink1})

	sink2 := g.AddOperator(OpSink, "out2", intSchema("value"))
	p.Merge("q2", []NodeID{sink2})

	assert.Equal(t, []NodeID{sink1, sink2}, p.Sinks())
	require.Len(t, p.Changelog(), 2)
	assert.Equal(t, "q2", p.Changelog()[1].QueryID)
}
