package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

func valueSchema() layout.Schema {
	return layout.Schema{Fields: []layout.Field{{Name: "value", Type: layout.Int64}}}
}

type fixedPhysicalSources map[string][]string

func (f fixedPhysicalSources) PhysicalSourcesFor(name string) []string { return f[name] }

func buildCarsQuery() (*plan.Graph, plan.NodeID) {
	g := plan.NewGraph()
	src := g.AddOperator(plan.OpSource, "cars", valueSchema())
	filter := g.AddOperator(plan.OpFilter, "value>0&&1=1", valueSchema())
	sink := g.AddOperator(plan.OpSink, "out", valueSchema())
	g.Connect(filter, src)
	g.Connect(sink, filter)
	g.MarkRoot(sink)
	return g, sink
}

func TestQueryRewrite_CanonicalizesConjunctsAndFoldsConstants(t *testing.T) {
	g, sink := buildCarsQuery()
	g2, roots, err := QueryRewrite(g, []plan.NodeID{sink})
	require.NoError(t, err)

	sinkOp := g2.Node(roots[0])
	require.Len(t, sinkOp.Children, 1)
	filterOp := g2.Node(sinkOp.Children[0])
	assert.Equal(t, plan.OpFilter, filterOp.Type)
	assert.Equal(t, "value>0", filterOp.Params)
}

func TestQueryRewrite_CanonicalizesMultiConjunctOrder(t *testing.T) {
	g := plan.NewGraph()
	src := g.AddOperator(plan.OpSource, "cars", valueSchema())
	filter := g.AddOperator(plan.OpFilter, "b<10&&a>0", valueSchema())
	sink := g.AddOperator(plan.OpSink, "out", valueSchema())
	g.Connect(filter, src)
	g.Connect(sink, filter)
	g.MarkRoot(sink)

	g2, roots, err := QueryRewrite(g, []plan.NodeID{sink})
	require.NoError(t, err)

	filterOp := g2.Node(g2.Node(roots[0]).Children[0])
	assert.Equal(t, plan.OpFilter, filterOp.Type, "conjunct canonicalization sorts clauses in place, it no longer splits the filter into a chain")
	assert.Equal(t, "a>0&&b<10", filterOp.Params)
}

func TestTopologyAwareRewrite_ExpandsMultiPhysicalSource(t *testing.T) {
	g := plan.NewGraph()
	src := g.AddOperator(plan.OpSource, "cars", valueSchema())
	sink := g.AddOperator(plan.OpSink, "out", valueSchema())
	g.Connect(sink, src)
	g.MarkRoot(sink)

	lookup := fixedPhysicalSources{"cars": {"cars@node1", "cars@node2", "cars@node3"}}
	g2, roots, err := TopologyAwareRewrite(g, []plan.NodeID{sink}, lookup)
	require.NoError(t, err)

	sinkOp := g2.Node(roots[0])
	require.Len(t, sinkOp.Children, 1)
	top := g2.Node(sinkOp.Children[0])
	assert.Equal(t, plan.OpUnion, top.Type)
}

func TestOriginIDInference_AssignsStableIDsToSourcesOnly(t *testing.T) {
	g, sink := buildCarsQuery()
	g2, roots, err := OriginIDInference(g, []plan.NodeID{sink})
	require.NoError(t, err)

	filterOp := g2.Node(g2.Node(roots[0]).Children[0])
	srcOp := g2.Node(filterOp.Children[0])
	assert.NotZero(t, srcOp.OriginID)
	assert.Zero(t, filterOp.OriginID)
}

func TestQueryMerger_SharesIdenticalSubtree(t *testing.T) {
	merger := NewMerger()

	g1, sink1 := buildCarsQuery()
	SignatureInference(g1, []plan.NodeID{sink1})
	_, roots1, err := QueryMerger(g1, []plan.NodeID{sink1}, merger)
	require.NoError(t, err)
	require.Len(t, merger.Plans(), 1)

	g2, sink2 := buildCarsQuery()
	SignatureInference(g2, []plan.NodeID{sink2})
	g2Out, roots2, err := QueryMerger(g2, []plan.NodeID{sink2}, merger)
	require.NoError(t, err)

	assert.Len(t, merger.Plans(), 1, "second identical query should merge, not create a new shared plan")
	assert.Same(t, g1, g2Out, "merged query should land in the first query's graph")
	_ = roots1
	assert.NotEmpty(t, roots2)
}

func TestQueryMerger_SharesSubtreeAcrossDifferentlyOrderedConjuncts(t *testing.T) {
	merger := NewMerger()
	lookup := fixedPhysicalSources{"cars": {"cars"}}
	phases := StandardPipeline(lookup, merger)

	g1 := plan.NewGraph()
	src1 := g1.AddOperator(plan.OpSource, "cars", valueSchema())
	filter1 := g1.AddOperator(plan.OpFilter, "value>0&&value<100", valueSchema())
	sink1 := g1.AddOperator(plan.OpSink, "out1", valueSchema())
	g1.Connect(filter1, src1)
	g1.Connect(sink1, filter1)
	g1.MarkRoot(sink1)
	_, _, err := Run(g1, []plan.NodeID{sink1}, phases)
	require.NoError(t, err)
	require.Len(t, merger.Plans(), 1)

	g2 := plan.NewGraph()
	src2 := g2.AddOperator(plan.OpSource, "cars", valueSchema())
	filter2 := g2.AddOperator(plan.OpFilter, "value<100&&value>0", valueSchema())
	sink2 := g2.AddOperator(plan.OpSink, "out2", valueSchema())
	g2.Connect(filter2, src2)
	g2.Connect(sink2, filter2)
	g2.MarkRoot(sink2)
	_, _, err = Run(g2, []plan.NodeID{sink2}, phases)
	require.NoError(t, err)

	assert.Len(t, merger.Plans(), 1, "queries whose conjuncts differ only in order must merge onto the same shared plan")
}

func TestRun_ShortCircuitsOnFirstPhaseError(t *testing.T) {
	g := plan.NewGraph()
	src := g.AddOperator(plan.OpSource, "cars", valueSchema())
	filter := g.AddOperator(plan.OpFilter, "missingField>0", valueSchema())
	g.Connect(filter, src)
	g.MarkRoot(filter)

	_, _, err := Run(g, []plan.NodeID{filter}, []namedPhase{{"type-inference", TypeInference}, {"never-runs", func(*plan.Graph, []plan.NodeID) (*plan.Graph, []plan.NodeID, error) {
		t.Fatal("phase after the failing one must not run")
		return nil, nil, nil
	}}})
	require.Error(t, err)
	var phaseErr *ErrPhaseFailed
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, "type-inference", phaseErr.Phase)
}
