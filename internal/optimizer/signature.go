package optimizer

import "github.com/nebulastream/nebulastream-sub040/internal/plan"

// SignatureInference computes both signature flavors (§4.10) for every
// root and the subtree beneath it, so the query-merger phase that
// follows can compare them.
func SignatureInference(g *plan.Graph, roots []plan.NodeID) (*plan.Graph, []plan.NodeID, error) {
	for _, r := range roots {
		g.ComputeTextSignature(r)
		g.ComputeSemanticSignature(r)
	}
	return g, roots, nil
}
