// Package placement assigns physical topology nodes to the intermediate
// operators of a placed query plan, per SPEC_FULL §4.12.
package placement

import (
	"errors"
	"fmt"

	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// ErrPlacementFailed is returned when no admissible path has capacity for
// an operator, or when two children have no common ancestor.
var ErrPlacementFailed = errors.New("placement: no admissible assignment")

// Assignment maps a plan operator to the topology node it runs on.
type Assignment map[plan.NodeID]topology.NodeID

// Request bundles everything a Strategy needs: the operator graph, its
// sink (already pinned to a topology node), and every leaf source
// (already pinned to its physical-source node).
type Request struct {
	Graph      *plan.Graph
	Sink       plan.NodeID
	Topology   *topology.Graph
	Pinned     Assignment // sink + every source, pre-populated by the caller
	SlotsPerOp uint32     // CPU slots an intermediate operator consumes; 1 if unset
}

func (r Request) slotsPerOp() uint32 {
	if r.SlotsPerOp == 0 {
		return 1
	}
	return r.SlotsPerOp
}

// Strategy places every non-pinned operator in the subtree rooted at
// req.Sink, reserving capacity in req.Topology as it goes, and returns
// the full assignment (pinned nodes included).
type Strategy interface {
	Place(req Request) (Assignment, error)
}

// admissiblePath returns the topology path an operator at childNode may
// be placed along, ending at sinkNode, via the topology's tree routing.
func admissiblePath(topo *topology.Graph, childNode, sinkNode topology.NodeID) ([]topology.NodeID, error) {
	path, err := topo.ShortestPath(childNode, sinkNode)
	if err != nil {
		return nil, fmt.Errorf("placement: %w", err)
	}
	return path, nil
}

// reserve attempts to reserve slots on node and reports whether it
// succeeded. It releases nothing on failure; BottomUp and TopDown release
// the slots they already reserved when a placement attempt fails.
func reserve(topo *topology.Graph, node topology.NodeID, slots uint32) bool {
	return topo.Reserve(node, slots)
}
