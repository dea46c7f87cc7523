package placement

import (
	"fmt"

	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// TopDown walks the plan as if from the sink, placing every operator as
// close to the sink as capacity allows: it only pushes an operator
// further down its admissible path (towards its child) when the nodes
// closer to the sink are already full, per §4.12.
type TopDown struct{}

func (TopDown) Place(req Request) (Assignment, error) {
	result := make(Assignment, len(req.Pinned))
	for k, v := range req.Pinned {
		result[k] = v
	}
	visited := make(map[plan.NodeID]bool)
	var reserved []topology.NodeID

	var walk func(id plan.NodeID) error
	walk = func(id plan.NodeID) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		op := req.Graph.Node(id)
		for _, c := range op.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		if _, pinned := result[id]; pinned {
			return nil
		}

		switch op.Type.Arity() {
		case plan.Binary:
			leftNode, rightNode := result[op.Children[0]], result[op.Children[1]]
			lca, err := req.Topology.LowestCommonAncestor(leftNode, rightNode)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPlacementFailed, err)
			}
			node, err := placeClosestToSink(req, lca, result[req.Sink], &reserved)
			if err != nil {
				return err
			}
			result[id] = node
		default:
			childNode := result[op.Children[0]]
			node, err := placeClosestToSink(req, childNode, result[req.Sink], &reserved)
			if err != nil {
				return err
			}
			result[id] = node
		}
		return nil
	}

	if err := walk(req.Sink); err != nil {
		for _, n := range reserved {
			req.Topology.Release(n, req.slotsPerOp())
		}
		return nil, err
	}
	return result, nil
}

// placeClosestToSink walks the admissible path from sinkNode back towards
// start, reserving capacity on the first (sink-closest) node that has it.
func placeClosestToSink(req Request, start, sinkNode topology.NodeID, reserved *[]topology.NodeID) (topology.NodeID, error) {
	path, err := admissiblePath(req.Topology, start, sinkNode)
	if err != nil {
		return 0, err
	}
	for i := len(path) - 1; i >= 0; i-- {
		node := path[i]
		if reserve(req.Topology, node, req.slotsPerOp()) {
			*reserved = append(*reserved, node)
			return node, nil
		}
	}
	return 0, fmt.Errorf("%w: no capacity on path %v", ErrPlacementFailed, path)
}
