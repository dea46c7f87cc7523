package optimizer

import (
	"sort"
	"strings"

	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

// QueryRewrite canonicalizes the plan: sorts a compound filter's
// conjuncts into a stable order, eliminates double negation,
// constant-folds tautological conjuncts (dropping filters that become
// no-ops), prunes no-op projections, and pushes a filter below a map when
// the filter does not reference the map's introduced field.
func QueryRewrite(g *plan.Graph, roots []plan.NodeID) (*plan.Graph, []plan.NodeID, error) {
	visited := make(map[plan.NodeID]bool)
	for _, r := range roots {
		rewriteNode(g, r, visited)
	}
	return g, roots, nil
}

func rewriteNode(g *plan.Graph, id plan.NodeID, visited map[plan.NodeID]bool) {
	if visited[id] {
		return
	}
	visited[id] = true
	op := g.Node(id)
	for _, c := range op.Children {
		rewriteNode(g, c, visited)
	}

	if op.Type != plan.OpFilter {
		if op.Type == plan.OpProject {
			pruneNoOpProjection(g, op)
		}
		return
	}

	op.Params = eliminateDoubleNegation(op.Params)
	op.Params = constantFold(op.Params)
	if op.Params == "" {
		spliceOutUnary(g, op)
		return
	}
	canonicalizeFilterConjuncts(op)
	pushFilterBelowMap(g, op)
}

// canonicalizeFilterConjuncts sorts a multi-conjunct filter's "&&"-joined
// clauses into a stable order in place, so two queries differing only in
// conjunct order ("a>0&&b<10" vs "b<10&&a>0") end up with identical
// Params and therefore identical text/semantic signatures at the
// signature-inference phase that follows. Keeping the filter as one node
// (rather than splitting it into a chain) means there is exactly one
// Params string to canonicalize, not one per split clause.
func canonicalizeFilterConjuncts(op *plan.Operator) {
	clauses := strings.Split(op.Params, "&&")
	if len(clauses) <= 1 {
		return
	}
	sort.Strings(clauses)
	op.Params = strings.Join(clauses, "&&")
}

// rewireParentChild replaces oldChild with newChild in parent's Children
// list, without adding a duplicate Parents back-reference (used during
// rewrite where the parent/child edges are being restructured, not
// merged).
func rewireParentChild(g *plan.Graph, parent, oldChild, newChild plan.NodeID) {
	p := g.Node(parent)
	for i, c := range p.Children {
		if c == oldChild {
			p.Children[i] = newChild
		}
	}
}

func eliminateDoubleNegation(params string) string {
	const prefix, suffix = "NOT(NOT(", "))"
	if strings.HasPrefix(params, prefix) && strings.HasSuffix(params, suffix) {
		return params[len(prefix) : len(params)-len(suffix)]
	}
	return params
}

// constantFold drops tautological conjuncts ("1=1") from an &&-joined
// clause list, returning "" if every clause folds away (the filter is a
// no-op and should be spliced out).
func constantFold(params string) string {
	clauses := strings.Split(params, "&&")
	kept := clauses[:0]
	for _, c := range clauses {
		if c != "1=1" && c != "true" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, "&&")
}

// spliceOutUnary removes a no-op unary operator, reconnecting its parents
// directly to its child.
func spliceOutUnary(g *plan.Graph, op *plan.Operator) {
	child := op.Children[0]
	for _, parentID := range op.Parents {
		rewireParentChild(g, parentID, op.ID, child)
		g.Node(child).Parents = append(g.Node(child).Parents, parentID)
	}
}

// pushFilterBelowMap swaps a filter and its map child when the filter's
// predicate does not reference the map's introduced field (Params format
// "newField=expr"), letting the filter run on fewer tuples before the map
// computes its output.
func pushFilterBelowMap(g *plan.Graph, filter *plan.Operator) {
	mapID := filter.Children[0]
	mapOp := g.Node(mapID)
	if mapOp.Type != plan.OpMap {
		return
	}
	newField, _, found := strings.Cut(mapOp.Params, "=")
	if found && strings.Contains(filter.Params, newField) {
		return
	}
	mapChild := mapOp.Children[0]

	// filter -> map -> mapChild   becomes   map -> filter -> mapChild
	filter.Children[0] = mapChild
	mapOp.Children[0] = filter.ID
	for i, p := range mapOp.Parents {
		if p == filter.ID {
			mapOp.Parents = append(mapOp.Parents[:i], mapOp.Parents[i+1:]...)
			break
		}
	}
	for _, parentID := range filter.Parents {
		rewireParentChild(g, parentID, filter.ID, mapID)
	}
	mapOp.Parents = append(mapOp.Parents, filter.Parents...)
	filter.Parents = []plan.NodeID{mapID}
	g.Node(mapChild).Parents = append(g.Node(mapChild).Parents, filter.ID)
}

// pruneNoOpProjection removes a Project operator whose output schema is
// field-for-field identical to its child's (a projection that selects
// everything, left over after rewrite elsewhere).
func pruneNoOpProjection(g *plan.Graph, op *plan.Operator) {
	if len(op.Children) != 1 {
		return
	}
	child := g.Node(op.Children[0])
	if schemasEqual(op.Schema, child.Schema) {
		spliceOutUnary(g, op)
	}
}

func schemasEqual(a, b layout.Schema) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i].QualifiedName() != b.Fields[i].QualifiedName() || a.Fields[i].Type != b.Fields[i].Type {
			return false
		}
	}
	return true
}
