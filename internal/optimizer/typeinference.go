package optimizer

import (
	"fmt"
	"strings"

	"github.com/nebulastream/nebulastream-sub040/internal/errs"
	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

// TypeInference assigns a concrete schema to every operator by walking
// the plan leaf-first: a source's schema is already concrete; every
// unary operator without an explicit schema inherits its child's, and a
// binary operator without one inherits the qualified concatenation of
// both children's (the join/union output schema). Fails with
// errs.ErrTypeInferenceFailed if an operator's Params references a field
// name absent from its resolved input schema.
func TypeInference(g *plan.Graph, roots []plan.NodeID) (*plan.Graph, []plan.NodeID, error) {
	visited := make(map[plan.NodeID]bool)
	for _, r := range roots {
		if err := inferNode(g, r, visited); err != nil {
			return nil, nil, err
		}
	}
	return g, roots, nil
}

func inferNode(g *plan.Graph, id plan.NodeID, visited map[plan.NodeID]bool) error {
	if visited[id] {
		return nil
	}
	visited[id] = true
	op := g.Node(id)
	for _, c := range op.Children {
		if err := inferNode(g, c, visited); err != nil {
			return err
		}
	}

	switch op.Type.Arity() {
	case plan.Leaf:
		// already concrete from AddOperator.
	case plan.Unary:
		child := g.Node(op.Children[0])
		if len(op.Schema.Fields) == 0 {
			op.Schema = child.Schema
		}
		if err := checkFieldRefs(op.Params, child.Schema); err != nil {
			return fmt.Errorf("operator %d (%s): %w: %v", op.ID, op.Type, errs.ErrTypeInferenceFailed, err)
		}
	case plan.Binary:
		left := g.Node(op.Children[0])
		right := g.Node(op.Children[1])
		if len(op.Schema.Fields) == 0 {
			op.Schema = left.Schema.Qualify("left").Concat(right.Schema.Qualify("right"))
		}
	}
	return nil
}

// checkFieldRefs validates that every "field=..." / "field>..." style
// reference embedded in params names a field present in schema. Params
// is a flat canonical string (see plan.Operator.Params), not a parsed
// expression tree; this is a lightweight well-formedness check, not a
// full type checker.
func checkFieldRefs(params string, schema layout.Schema) error {
	if params == "" {
		return nil
	}
	for _, conjunct := range strings.Split(params, ",") {
		field := leadingFieldName(conjunct)
		if field == "" {
			continue
		}
		if schema.IndexOf(field) < 0 {
			return fmt.Errorf("unresolved field reference %q", field)
		}
	}
	return nil
}

func leadingFieldName(conjunct string) string {
	for i, r := range conjunct {
		if r == '=' || r == '>' || r == '<' || r == '!' {
			return conjunct[:i]
		}
	}
	return ""
}
