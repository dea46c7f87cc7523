package optimizer

import (
	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

// MemoryLayoutSelection picks row-major or column-major per operator
// boundary: column-major when an operator narrows the tuple (a
// projection dropping more than half the input's fields) or feeds a
// downstream operator that only ever touches a handful of fields
// (window/join key+value extraction); row-major otherwise, since a wide
// downstream scan (sink serialization, a map touching most fields)
// favors record locality.
func MemoryLayoutSelection(g *plan.Graph, roots []plan.NodeID) (*plan.Graph, []plan.NodeID, error) {
	visited := make(map[plan.NodeID]bool)
	for _, r := range roots {
		selectLayout(g, r, visited)
	}
	return g, roots, nil
}

func selectLayout(g *plan.Graph, id plan.NodeID, visited map[plan.NodeID]bool) {
	if visited[id] {
		return
	}
	visited[id] = true
	op := g.Node(id)
	for _, c := range op.Children {
		selectLayout(g, c, visited)
	}

	op.LayoutKind = layout.RowMajor
	if op.Type == plan.OpProject && len(op.Children) == 1 {
		child := g.Node(op.Children[0])
		if len(child.Schema.Fields) > 0 && len(op.Schema.Fields)*2 < len(child.Schema.Fields) {
			op.LayoutKind = layout.ColumnMajor
		}
	}
	if touchesFewFields(op.Type) {
		op.LayoutKind = layout.ColumnMajor
	}
}

func touchesFewFields(t plan.OperatorType) bool {
	return t == plan.OpWindow || t == plan.OpJoin
}
