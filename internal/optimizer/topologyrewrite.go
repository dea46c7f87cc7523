package optimizer

import "github.com/nebulastream/nebulastream-sub040/internal/plan"

// PhysicalSourceLookup resolves a logical source name to the physical
// source names currently registered for it (one per origin node), so the
// topology-aware rewrite phase can expand a single logical source
// operator into a union over per-physical-source operators.
type PhysicalSourceLookup interface {
	PhysicalSourcesFor(logicalName string) []string
}

// TopologyAwareRewrite replaces every source operator whose logical name
// resolves to more than one physical source with a left-deep union tree
// of per-physical-source operators, per §4.11 step 5. A logical source
// with exactly one physical source is left unchanged.
func TopologyAwareRewrite(g *plan.Graph, roots []plan.NodeID, lookup PhysicalSourceLookup) (*plan.Graph, []plan.NodeID, error) {
	visited := make(map[plan.NodeID]bool)
	for _, r := range roots {
		expandSources(g, r, lookup, visited)
	}
	return g, roots, nil
}

func expandSources(g *plan.Graph, id plan.NodeID, lookup PhysicalSourceLookup, visited map[plan.NodeID]bool) {
	if visited[id] {
		return
	}
	visited[id] = true
	op := g.Node(id)
	for _, c := range op.Children {
		expandSources(g, c, lookup, visited)
	}
	if op.Type != plan.OpSource {
		return
	}
	physical := lookup.PhysicalSourcesFor(op.Params)
	if len(physical) <= 1 {
		return
	}

	originalParents := append([]plan.NodeID(nil), op.Parents...)
	op.Params = physical[0]

	// Fold the remaining physical sources in as a left-deep union tree:
	// each new union wraps (current root, a new per-physical-source leaf).
	root := op.ID
	var immediateWrapper plan.NodeID
	for _, physName := range physical[1:] {
		srcID := g.AddOperator(plan.OpSource, physName, op.Schema)
		unionID := g.AddOperator(plan.OpUnion, "", op.Schema)
		uOp := g.Node(unionID)
		uOp.Children = []plan.NodeID{root, srcID}
		g.Node(root).Parents = []plan.NodeID{unionID}
		g.Node(srcID).Parents = []plan.NodeID{unionID}
		if root == op.ID {
			immediateWrapper = unionID
		}
		root = unionID
	}
	op.Parents = []plan.NodeID{immediateWrapper}

	for _, parentID := range originalParents {
		rewireParentChild(g, parentID, op.ID, root)
	}
	g.Node(root).Parents = append(g.Node(root).Parents, originalParents...)
}
