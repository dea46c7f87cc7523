package layout

import (
	"testing"

	"github.com/nebulastream/nebulastream-sub040/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{Fields: []Field{
		{Name: "id", Type: Int64},
		{Name: "one", Type: Int64},
		{Name: "value", Type: Int64},
	}}
}

func TestRowLayout_ReadWriteRoundTrip(t *testing.T) {
	l := NewRowLayout(testSchema(), 4096)
	buf := make([]byte, 4096)

	for i := 0; i < 10; i++ {
		require.NoError(t, l.WriteInt64(buf, i, 0, int64(i), 10))
		require.NoError(t, l.WriteInt64(buf, i, 1, 1, 10))
		require.NoError(t, l.WriteInt64(buf, i, 2, int64(i%2), 10))
	}

	for i := 0; i < 10; i++ {
		id, err := l.ReadInt64(buf, i, 0, 10)
		require.NoError(t, err)
		assert.EqualValues(t, i, id)
	}
}

func TestColumnLayout_ReadWriteRoundTrip(t *testing.T) {
	l := NewColumnLayout(testSchema(), 4096)
	buf := make([]byte, 4096)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.WriteInt64(buf, i, 0, int64(i*10), 5))
	}
	for i := 0; i < 5; i++ {
		v, err := l.ReadInt64(buf, i, 0, 5)
		require.NoError(t, err)
		assert.EqualValues(t, i*10, v)
	}
}

func TestLayout_FieldTypeMismatch(t *testing.T) {
	l := NewRowLayout(testSchema(), 4096)
	buf := make([]byte, 4096)
	_, err := l.ReadInt32(buf, 0, 0, 1)
	assert.ErrorIs(t, err, errs.ErrFieldTypeMismatch)
}

func TestLayout_OutOfBounds(t *testing.T) {
	l := NewRowLayout(testSchema(), 4096)
	buf := make([]byte, 4096)
	require.NoError(t, l.WriteInt64(buf, 0, 0, 1, 1))

	_, err := l.ReadInt64(buf, 5, 0, 1)
	assert.ErrorIs(t, err, errs.ErrOutOfBounds)
}

func TestLayout_Iterator(t *testing.T) {
	l := NewRowLayout(testSchema(), 4096)
	buf := make([]byte, 4096)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.WriteInt64(buf, i, 0, int64(i), 3))
	}

	it := l.NewIterator(buf, 3)
	count := 0
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		v, err := rec.Field(0)
		require.NoError(t, err)
		assert.EqualValues(t, count, v)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestSchema_QualifyAndConcat(t *testing.T) {
	left := testSchema().Qualify("left")
	right := testSchema().Qualify("right")
	joined := left.Concat(right)

	assert.Equal(t, "left$id", joined.Fields[0].QualifiedName())
	assert.Equal(t, "right$id", joined.Fields[3].QualifiedName())
	assert.Equal(t, 3, joined.IndexOf("right$id"))
}
