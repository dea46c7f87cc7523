// Package decomposition splits a placed query plan into per-topology-node
// subplans, inserting network bridges wherever a parent and child
// operator were placed on different nodes, per SPEC_FULL §4.13.
package decomposition

import (
	"fmt"

	"github.com/nebulastream/nebulastream-sub040/internal/placement"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// SubPlan is the slice of one decomposed plan's operators that run on a
// single topology node: every operator in Operators is connected through
// plan.Graph's normal Children/Parents edges (the graph itself is not
// copied; a subplan is just a grouping), and Roots names the operators
// with no parent placed on the same node — the entry points a worker's
// runtime starts pipelines from.
type SubPlan struct {
	Node      topology.NodeID
	Operators []plan.NodeID
	Roots     []plan.NodeID
}

// ChannelAllocator hands out synthetic channel ids for network bridges;
// callers typically supply an atomic counter.
type ChannelAllocator func() uint64

// Decompose walks g top-down from sink, grouping operators by the
// topology node assignment gives them. Whenever a parent and its child
// are assigned to different nodes, a network bridge is inserted: a
// network sink operator (OpNetSink) is added as the data source's new
// consumer on the producer's node, and a network source operator
// (OpNetSource) is added as the data consumer's new producer on the
// consumer's node, connected by a synthetic channel id. When the two
// nodes are not directly linked in topo, one relay hop (network source
// feeding a network sink) is inserted per intermediate topology node
// along the shortest path.
//
// Decompose mutates g in place (adding bridge operators to its arena) and
// returns one SubPlan per topology node touched by the plan.
func Decompose(g *plan.Graph, sink plan.NodeID, assignment placement.Assignment, topo *topology.Graph, allocChannel ChannelAllocator) (map[topology.NodeID]*SubPlan, error) {
	subplans := make(map[topology.NodeID]*SubPlan)
	visited := make(map[plan.NodeID]bool)
	hasLocalParent := make(map[plan.NodeID]bool)

	var walk func(id plan.NodeID) error
	walk = func(id plan.NodeID) error {
		if visited[id] {
			return nil
		}
		visited[id] = true

		node, ok := assignment[id]
		if !ok {
			return fmt.Errorf("decomposition: operator %d has no placement", id)
		}
		subplanFor(subplans, node).Operators = append(subplanFor(subplans, node).Operators, id)

		op := g.Node(id)
		for i, child := range op.Children {
			childNode, ok := assignment[child]
			if !ok {
				return fmt.Errorf("decomposition: operator %d has no placement", child)
			}
			if childNode == node {
				hasLocalParent[child] = true
				if err := walk(child); err != nil {
					return err
				}
				continue
			}

			localSource, err := insertBridge(g, topo, childNode, node, child, allocChannel, subplans)
			if err != nil {
				return err
			}
			op.Children[i] = localSource
			g.Node(localSource).Parents = append(g.Node(localSource).Parents, id)
			hasLocalParent[localSource] = true

			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(sink); err != nil {
		return nil, err
	}

	for _, sp := range subplans {
		for _, opID := range sp.Operators {
			if !hasLocalParent[opID] {
				sp.Roots = append(sp.Roots, opID)
			}
		}
	}
	return subplans, nil
}

func subplanFor(subplans map[topology.NodeID]*SubPlan, node topology.NodeID) *SubPlan {
	sp, ok := subplans[node]
	if !ok {
		sp = &SubPlan{Node: node}
		subplans[node] = sp
	}
	return sp
}

// insertBridge wires a chain of network sink/source pairs along topo's
// shortest path from childNode (where the producing operator lives) to
// parentNode (where the consumer lives), one relay hop per intermediate
// topology node, and returns the id of the network source operator
// placed on parentNode — the operator the caller should connect the
// consumer's child edge to.
func insertBridge(g *plan.Graph, topo *topology.Graph, childNode, parentNode topology.NodeID, child plan.NodeID, allocChannel ChannelAllocator, subplans map[topology.NodeID]*SubPlan) (plan.NodeID, error) {
	path, err := topo.ShortestPath(childNode, parentNode)
	if err != nil {
		return 0, fmt.Errorf("decomposition: %w", err)
	}
	if len(path) < 2 {
		return 0, fmt.Errorf("decomposition: producer and consumer resolved to the same node")
	}

	childSchema := g.Node(child).Schema
	upstream := child // operator currently supplying data at path[i]

	var lastSource plan.NodeID
	for i := 0; i < len(path)-1; i++ {
		cur, next := path[i], path[i+1]
		channel := allocChannel()

		netSink := g.AddOperator(plan.OpNetSink, fmt.Sprintf("channel=%d,to=%d", channel, next), childSchema)
		g.Connect(netSink, upstream)
		subplanFor(subplans, cur).Operators = append(subplanFor(subplans, cur).Operators, netSink)

		netSource := g.AddOperator(plan.OpNetSource, fmt.Sprintf("channel=%d,from=%d", channel, cur), childSchema)
		subplanFor(subplans, next).Operators = append(subplanFor(subplans, next).Operators, netSource)

		upstream = netSource
		lastSource = netSource
	}
	return lastSource, nil
}
