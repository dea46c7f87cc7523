// Package layout maps a schema onto a buffer: row-major and column-major
// variants, typed accessors, a dynamic record iterator, and bulk copy.
package layout

import "fmt"

// FieldType is the static type of one schema field.
type FieldType int

const (
	Int32 FieldType = iota
	Int64
	Float64
	Bool
	// VarString fields are stored indirectly: a 4-byte length followed by
	// payload, or an index into a co-allocated child buffer.
	VarString
)

// Size returns the fixed in-layout footprint of t in bytes. VarString
// stores a 4-byte length/index indirection; its payload lives elsewhere.
func (t FieldType) Size() int {
	switch t {
	case Int32, VarString:
		return 4
	case Int64, Float64:
		return 8
	case Bool:
		return 1
	default:
		return 0
	}
}

func (t FieldType) String() string {
	switch t {
	case Int32:
		return "INT32"
	case Int64:
		return "INT64"
	case Float64:
		return "FLOAT64"
	case Bool:
		return "BOOL"
	case VarString:
		return "VARSTRING"
	default:
		return "UNKNOWN"
	}
}

// Field is one (name, type) pair in a schema, optionally qualified by the
// stream it originated from (e.g. "left$id" vs "right$id").
type Field struct {
	Qualifier string
	Name      string
	Type      FieldType
}

// QualifiedName returns "qualifier$name" if a qualifier is set, else name.
func (f Field) QualifiedName() string {
	if f.Qualifier == "" {
		return f.Name
	}
	return fmt.Sprintf("%s$%s", f.Qualifier, f.Name)
}

// Schema is an ordered list of fields.
type Schema struct {
	Fields []Field
}

// IndexOf returns the field index of qualifiedName, or -1 if absent.
func (s Schema) IndexOf(qualifiedName string) int {
	for i, f := range s.Fields {
		if f.QualifiedName() == qualifiedName {
			return i
		}
	}
	return -1
}

// Qualify returns a copy of the schema with every field's qualifier set to
// q, used to disambiguate fields from multiple streams (e.g. a join's left
// and right schemas).
func (s Schema) Qualify(q string) Schema {
	out := Schema{Fields: make([]Field, len(s.Fields))}
	for i, f := range s.Fields {
		out.Fields[i] = Field{Qualifier: q, Name: f.Name, Type: f.Type}
	}
	return out
}

// Concat appends other's fields after s's fields, used to build a join's
// output schema from its qualified left and right schemas.
func (s Schema) Concat(other Schema) Schema {
	out := Schema{Fields: make([]Field, 0, len(s.Fields)+len(other.Fields))}
	out.Fields = append(out.Fields, s.Fields...)
	out.Fields = append(out.Fields, other.Fields...)
	return out
}

// FixedTupleSize returns the sum of each field's fixed in-layout size,
// i.e. the row-major record stride.
func (s Schema) FixedTupleSize() int {
	total := 0
	for _, f := range s.Fields {
		total += f.Type.Size()
	}
	return total
}
