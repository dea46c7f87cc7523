package main

import (
	"encoding/json"
	"fmt"

	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

// jsonPlanner satisfies coordinator.QueryPlanner without a SQL front end
// (explicitly out of scope): RegisterQueryRequest.SQL carries a JSON
// operator-graph description instead of SQL text, letting a client submit
// queries end to end against the real optimizer/placement/deployment
// pipeline without this repo owning a parser.
type jsonPlanner struct{}

// jsonOperator is one node in the JSON graph description. Children is a
// list of indices into the enclosing jsonGraph.Operators slice; for a
// binary operator the first entry is the left child.
type jsonOperator struct {
	Type     string        `json:"type"`
	Params   string        `json:"params"`
	Schema   []jsonField   `json:"schema"`
	Children []int         `json:"children"`
}

type jsonField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type jsonGraph struct {
	Operators []jsonOperator `json:"operators"`
	Roots     []int          `json:"roots"`
}

func (jsonPlanner) Plan(sql string) (*plan.Graph, []plan.NodeID, error) {
	var jg jsonGraph
	if err := json.Unmarshal([]byte(sql), &jg); err != nil {
		return nil, nil, fmt.Errorf("jsonPlanner: decoding query body: %w", err)
	}

	g := plan.NewGraph()
	ids := make([]plan.NodeID, len(jg.Operators))
	for i, op := range jg.Operators {
		schema, err := toSchema(op.Schema)
		if err != nil {
			return nil, nil, fmt.Errorf("jsonPlanner: operator %d: %w", i, err)
		}
		ids[i] = g.AddOperator(plan.OperatorType(op.Type), op.Params, schema)
	}
	for i, op := range jg.Operators {
		for _, childIdx := range op.Children {
			if childIdx < 0 || childIdx >= len(ids) {
				return nil, nil, fmt.Errorf("jsonPlanner: operator %d: child index %d out of range", i, childIdx)
			}
			g.Connect(ids[i], ids[childIdx])
		}
	}

	roots := make([]plan.NodeID, 0, len(jg.Roots))
	for _, idx := range jg.Roots {
		if idx < 0 || idx >= len(ids) {
			return nil, nil, fmt.Errorf("jsonPlanner: root index %d out of range", idx)
		}
		g.MarkRoot(ids[idx])
		roots = append(roots, ids[idx])
	}
	if len(roots) == 0 {
		return nil, nil, fmt.Errorf("jsonPlanner: query body names no roots")
	}
	return g, roots, nil
}

func toSchema(fields []jsonField) (layout.Schema, error) {
	out := make([]layout.Field, len(fields))
	for i, f := range fields {
		t, err := toFieldType(f.Type)
		if err != nil {
			return layout.Schema{}, err
		}
		out[i] = layout.Field{Name: f.Name, Type: t}
	}
	return layout.Schema{Fields: out}, nil
}

func toFieldType(name string) (layout.FieldType, error) {
	switch name {
	case "int64":
		return layout.Int64, nil
	case "int32":
		return layout.Int32, nil
	case "float64":
		return layout.Float64, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", name)
	}
}
