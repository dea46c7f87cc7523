package layout

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nebulastream/nebulastream-sub040/internal/errs"
)

// Kind distinguishes the two layout variants.
type Kind int

const (
	RowMajor Kind = iota
	ColumnMajor
)

// Layout maps (record index, field index) to a byte offset within a fixed-
// size buffer, for one (schema, bufferSize) pair. Constructed once and
// reused across every buffer of that size.
type Layout struct {
	kind          Kind
	schema        Schema
	bufferSize    int
	tupleSize     int
	fieldOffsets  []int // row-major: offset within one record; column-major: start of the field's column
	fieldSizes    []int
	capacity      int // max records this layout can address in bufferSize bytes
}

// NewRowLayout builds a row-major layout: offset = record*tupleSize + fieldOffset.
func NewRowLayout(schema Schema, bufferSize int) *Layout {
	tupleSize := schema.FixedTupleSize()
	offsets := make([]int, len(schema.Fields))
	sizes := make([]int, len(schema.Fields))
	running := 0
	for i, f := range schema.Fields {
		offsets[i] = running
		sizes[i] = f.Type.Size()
		running += sizes[i]
	}
	capacity := 0
	if tupleSize > 0 {
		capacity = bufferSize / tupleSize
	}
	return &Layout{kind: RowMajor, schema: schema, bufferSize: bufferSize, tupleSize: tupleSize,
		fieldOffsets: offsets, fieldSizes: sizes, capacity: capacity}
}

// NewColumnLayout builds a column-major layout: offset = fieldStart + record*fieldSize.
// Each field's column is sized to hold capacity records, where capacity is
// the largest record count such that every column fits in bufferSize.
func NewColumnLayout(schema Schema, bufferSize int) *Layout {
	tupleSize := schema.FixedTupleSize()
	capacity := 0
	if tupleSize > 0 {
		capacity = bufferSize / tupleSize
	}
	offsets := make([]int, len(schema.Fields))
	sizes := make([]int, len(schema.Fields))
	running := 0
	for i, f := range schema.Fields {
		sizes[i] = f.Type.Size()
		offsets[i] = running
		running += sizes[i] * capacity
	}
	return &Layout{kind: ColumnMajor, schema: schema, bufferSize: bufferSize, tupleSize: tupleSize,
		fieldOffsets: offsets, fieldSizes: sizes, capacity: capacity}
}

// Schema returns the schema this layout was constructed from.
func (l *Layout) Schema() Schema { return l.schema }

// Capacity returns the maximum number of records this layout can address.
func (l *Layout) Capacity() int { return l.capacity }

func (l *Layout) offset(record, fieldIdx int) int {
	switch l.kind {
	case RowMajor:
		return record*l.tupleSize + l.fieldOffsets[fieldIdx]
	default: // ColumnMajor
		return l.fieldOffsets[fieldIdx] + record*l.fieldSizes[fieldIdx]
	}
}

func (l *Layout) checkBounds(data []byte, record, fieldIdx int, numberOfTuples uint64) error {
	if fieldIdx < 0 || fieldIdx >= len(l.schema.Fields) {
		return fmt.Errorf("layout: field index %d out of range: %w", fieldIdx, errs.ErrOutOfBounds)
	}
	if record < 0 || uint64(record) >= numberOfTuples {
		return fmt.Errorf("layout: record %d >= numberOfTuples %d: %w", record, numberOfTuples, errs.ErrOutOfBounds)
	}
	off := l.offset(record, fieldIdx)
	if off+l.fieldSizes[fieldIdx] > len(data) {
		return fmt.Errorf("layout: record %d field %d overruns buffer: %w", record, fieldIdx, errs.ErrOutOfBounds)
	}
	return nil
}

func (l *Layout) checkType(fieldIdx int, want FieldType) error {
	if l.schema.Fields[fieldIdx].Type != want {
		return fmt.Errorf("layout: field %q is %s, not %s: %w",
			l.schema.Fields[fieldIdx].Name, l.schema.Fields[fieldIdx].Type, want, errs.ErrFieldTypeMismatch)
	}
	return nil
}

// ReadInt64 reads an INT64 field, failing with ErrFieldTypeMismatch or
// ErrOutOfBounds.
func (l *Layout) ReadInt64(data []byte, record, fieldIdx int, numberOfTuples uint64) (int64, error) {
	if err := l.checkType(fieldIdx, Int64); err != nil {
		return 0, err
	}
	if err := l.checkBounds(data, record, fieldIdx, numberOfTuples); err != nil {
		return 0, err
	}
	off := l.offset(record, fieldIdx)
	return int64(binary.LittleEndian.Uint64(data[off : off+8])), nil
}

// WriteInt64 writes an INT64 field.
func (l *Layout) WriteInt64(data []byte, record, fieldIdx int, v int64, numberOfTuples uint64) error {
	if err := l.checkType(fieldIdx, Int64); err != nil {
		return err
	}
	if err := l.checkBounds(data, record, fieldIdx, numberOfTuples); err != nil {
		return err
	}
	off := l.offset(record, fieldIdx)
	binary.LittleEndian.PutUint64(data[off:off+8], uint64(v))
	return nil
}

// ReadInt32 reads an INT32 field.
func (l *Layout) ReadInt32(data []byte, record, fieldIdx int, numberOfTuples uint64) (int32, error) {
	if err := l.checkType(fieldIdx, Int32); err != nil {
		return 0, err
	}
	if err := l.checkBounds(data, record, fieldIdx, numberOfTuples); err != nil {
		return 0, err
	}
	off := l.offset(record, fieldIdx)
	return int32(binary.LittleEndian.Uint32(data[off : off+4])), nil
}

// WriteInt32 writes an INT32 field.
func (l *Layout) WriteInt32(data []byte, record, fieldIdx int, v int32, numberOfTuples uint64) error {
	if err := l.checkType(fieldIdx, Int32); err != nil {
		return err
	}
	if err := l.checkBounds(data, record, fieldIdx, numberOfTuples); err != nil {
		return err
	}
	off := l.offset(record, fieldIdx)
	binary.LittleEndian.PutUint32(data[off:off+4], uint32(v))
	return nil
}

// ReadFloat64 reads a FLOAT64 field.
func (l *Layout) ReadFloat64(data []byte, record, fieldIdx int, numberOfTuples uint64) (float64, error) {
	if err := l.checkType(fieldIdx, Float64); err != nil {
		return 0, err
	}
	if err := l.checkBounds(data, record, fieldIdx, numberOfTuples); err != nil {
		return 0, err
	}
	off := l.offset(record, fieldIdx)
	return math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8])), nil
}

// WriteFloat64 writes a FLOAT64 field.
func (l *Layout) WriteFloat64(data []byte, record, fieldIdx int, v float64, numberOfTuples uint64) error {
	if err := l.checkType(fieldIdx, Float64); err != nil {
		return err
	}
	if err := l.checkBounds(data, record, fieldIdx, numberOfTuples); err != nil {
		return err
	}
	off := l.offset(record, fieldIdx)
	binary.LittleEndian.PutUint64(data[off:off+8], math.Float64bits(v))
	return nil
}

// Record is a type-erased view of one record, used by the dynamic record
// iterator.
type Record struct {
	layout         *Layout
	data           []byte
	index          int
	numberOfTuples uint64
}

// Field reads field i as an any, dispatching on its static type.
func (r Record) Field(i int) (any, error) {
	switch r.layout.schema.Fields[i].Type {
	case Int64:
		return r.layout.ReadInt64(r.data, r.index, i, r.numberOfTuples)
	case Int32:
		return r.layout.ReadInt32(r.data, r.index, i, r.numberOfTuples)
	case Float64:
		return r.layout.ReadFloat64(r.data, r.index, i, r.numberOfTuples)
	default:
		return nil, fmt.Errorf("layout: dynamic read of field type %s: %w", r.layout.schema.Fields[i].Type, errs.ErrNotImplemented)
	}
}

// Iterator yields Records 0..numberOfTuples-1 over data.
type Iterator struct {
	layout         *Layout
	data           []byte
	numberOfTuples uint64
	next           int
}

// NewIterator builds a dynamic record iterator over data, which must hold
// exactly numberOfTuples valid records under layout.
func (l *Layout) NewIterator(data []byte, numberOfTuples uint64) *Iterator {
	return &Iterator{layout: l, data: data, numberOfTuples: numberOfTuples}
}

// Next returns the next record and true, or a zero Record and false once
// exhausted.
func (it *Iterator) Next() (Record, bool) {
	if uint64(it.next) >= it.numberOfTuples {
		return Record{}, false
	}
	r := Record{layout: it.layout, data: it.data, index: it.next, numberOfTuples: it.numberOfTuples}
	it.next++
	return r, true
}

// CopyRecord bulk-copies record srcIdx of src into record dstIdx of dst.
// Both buffers must share the same layout (schema and bufferSize).
func CopyRecord(l *Layout, dst []byte, dstIdx int, src []byte, srcIdx int) error {
	for f := range l.schema.Fields {
		srcOff := l.offset(srcIdx, f)
		dstOff := l.offset(dstIdx, f)
		size := l.fieldSizes[f]
		if srcOff+size > len(src) || dstOff+size > len(dst) {
			return fmt.Errorf("layout: bulk copy out of bounds: %w", errs.ErrOutOfBounds)
		}
		copy(dst[dstOff:dstOff+size], src[srcOff:srcOff+size])
	}
	return nil
}
