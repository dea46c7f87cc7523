// Package optimizer implements the coordinator's sequenced optimizer
// phases (SPEC_FULL §4.11): type inference, memory-layout selection,
// query rewrite, signature inference, topology-aware rewrite, query
// merger, and origin-id inference.
package optimizer

import (
	"fmt"

	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

// Phase is one pure optimizer step: it consumes a plan and the node ids
// of interest (typically the plan's sinks) and returns a (possibly
// mutated) plan, or an error. Phases mutate the Graph in place and return
// it unchanged on success; they never partially apply on error, matching
// the "pure function (plan) -> (plan, error)" phase shape.
type Phase func(g *plan.Graph, roots []plan.NodeID) (*plan.Graph, []plan.NodeID, error)

// ErrPhaseFailed wraps a phase's name around its underlying error, giving
// the orchestrator a uniform short-circuit point.
type ErrPhaseFailed struct {
	Phase string
	Cause error
}

func (e *ErrPhaseFailed) Error() string {
	return fmt.Sprintf("optimizer phase %q failed: %v", e.Phase, e.Cause)
}

func (e *ErrPhaseFailed) Unwrap() error { return e.Cause }

// namedPhase pairs a Phase with the name used in ErrPhaseFailed and logs.
type namedPhase struct {
	name string
	run  Phase
}

// StandardPipeline returns the seven phases in the order §4.11
// specifies. catalog is consulted by TopologyAwareRewrite to expand
// logical sources into per-physical-source sub-plans; merger is the
// sink registry consulted by QueryMerger.
func StandardPipeline(catalog PhysicalSourceLookup, merger *Merger) []namedPhase {
	return []namedPhase{
		{"type-inference", TypeInference},
		{"memory-layout-selection", MemoryLayoutSelection},
		{"query-rewrite", QueryRewrite},
		{"signature-inference", SignatureInference},
		{"topology-aware-rewrite", func(g *plan.Graph, roots []plan.NodeID) (*plan.Graph, []plan.NodeID, error) {
			return TopologyAwareRewrite(g, roots, catalog)
		}},
		{"query-merger", func(g *plan.Graph, roots []plan.NodeID) (*plan.Graph, []plan.NodeID, error) {
			return QueryMerger(g, roots, merger)
		}},
		{"origin-id-inference", OriginIDInference},
	}
}

// Run executes phases in order against g, short-circuiting on the first
// error (no errors.Join aggregation: the caller needs to know which phase
// failed and stop immediately, per §4.11's sequenced-not-parallel
// semantics).
func Run(g *plan.Graph, roots []plan.NodeID, phases []namedPhase) (*plan.Graph, []plan.NodeID, error) {
	var err error
	for _, p := range phases {
		g, roots, err = p.run(g, roots)
		if err != nil {
			return nil, nil, &ErrPhaseFailed{Phase: p.name, Cause: err}
		}
	}
	return g, roots, nil
}
