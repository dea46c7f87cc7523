package optimizer

import (
	"sync"

	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

// matchTarget is one node available for a future query to merge onto:
// the shared plan owning it, and the node id within that plan's graph.
type matchTarget struct {
	sharedPlan *plan.SharedPlan
	node       plan.NodeID
}

// Merger is the coordinator-wide index backing query merging (§4.10):
// one entry per distinct subtree signature seen across every live
// SharedPlan, textual first with a semantic fallback for syntactic
// divergence the textual form can't see through (commuted conjuncts).
type Merger struct {
	mu       sync.Mutex
	byText   map[string]matchTarget
	bySem    map[string]matchTarget
	plans    []*plan.SharedPlan
	nextPlan int
}

// NewMerger creates an empty merger index.
func NewMerger() *Merger {
	return &Merger{byText: make(map[string]matchTarget), bySem: make(map[string]matchTarget)}
}

// Plans returns every shared plan currently tracked, for catalog
// inspection and tests.
func (m *Merger) Plans() []*plan.SharedPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*plan.SharedPlan(nil), m.plans...)
}

// QueryMerger implements §4.11 step 6: for each of the target query's
// sinks, look up whether its child subtree's signature (textual, falling
// back to semantic) already exists in some tracked SharedPlan. On a hit,
// the sink is spliced onto that plan's matching node and the merge is
// appended to the plan's changelog instead of duplicating the subtree. A
// graph with no matching subtree becomes a brand-new SharedPlan, and its
// every node's signature is indexed for future queries to match against.
func QueryMerger(g *plan.Graph, roots []plan.NodeID, merger *Merger) (*plan.Graph, []plan.NodeID, error) {
	merger.mu.Lock()
	defer merger.mu.Unlock()

	merger.nextPlan++
	queryID := queryIDFor(merger.nextPlan)

	matchedAny := false
	var matchedSinks []plan.NodeID
	var target *plan.SharedPlan

	for _, sink := range roots {
		op := g.Node(sink)
		if len(op.Children) != 1 {
			continue
		}
		childSig := op.Children[0]
		textSig := g.ComputeTextSignature(childSig)
		if mt, ok := merger.byText[textSig]; ok {
			target = mt.sharedPlan
			newSinkID := spliceSink(target.Graph, op, mt.node)
			matchedSinks = append(matchedSinks, newSinkID)
			matchedAny = true
			continue
		}
		semSig := g.ComputeSemanticSignature(childSig)
		if mt, ok := merger.bySem[semSig]; ok {
			target = mt.sharedPlan
			newSinkID := spliceSink(target.Graph, op, mt.node)
			matchedSinks = append(matchedSinks, newSinkID)
			matchedAny = true
		}
	}

	if matchedAny {
		target.Merge(queryID, matchedSinks)
		return target.Graph, target.Graph.Roots(), nil
	}

	newPlan := plan.NewSharedPlan(queryID, g)
	newPlan.Merge(queryID, roots)
	merger.plans = append(merger.plans, newPlan)
	merger.indexSignatures(g, roots, newPlan)
	return g, roots, nil
}

// spliceSink copies sink (a single operator with no children of its own
// other than the one that already matched) into target, wiring it onto
// matchedNode instead of its original child.
func spliceSink(target *plan.Graph, sink *plan.Operator, matchedNode plan.NodeID) plan.NodeID {
	newID := target.AddOperator(sink.Type, sink.Params, sink.Schema)
	target.Connect(newID, matchedNode)
	return newID
}

func (m *Merger) indexSignatures(g *plan.Graph, roots []plan.NodeID, sp *plan.SharedPlan) {
	visited := make(map[plan.NodeID]bool)
	var walk func(id plan.NodeID)
	walk = func(id plan.NodeID) {
		if visited[id] {
			return
		}
		visited[id] = true
		op := g.Node(id)
		for _, c := range op.Children {
			walk(c)
		}
		if op.TextSignature != "" {
			if _, exists := m.byText[op.TextSignature]; !exists {
				m.byText[op.TextSignature] = matchTarget{sharedPlan: sp, node: id}
			}
		}
		if op.SemanticSignature != "" {
			if _, exists := m.bySem[op.SemanticSignature]; !exists {
				m.bySem[op.SemanticSignature] = matchTarget{sharedPlan: sp, node: id}
			}
		}
	}
	for _, r := range roots {
		walk(r)
	}
}

func queryIDFor(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "q0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append([]byte{alphabet[n%len(alphabet)]}, buf...)
		n /= len(alphabet)
	}
	return "q" + string(buf)
}
