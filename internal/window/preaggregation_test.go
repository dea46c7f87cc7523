package window

import (
	"fmt"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/telemetry"
)

func hashString(s string) uint64 { return xxhash.Sum64String(s) }

// TestPreAggregation_TumblingSum mirrors spec.md scenario 2: schema
// (id, one, value), 2ms tumbling window, SUM(one) GROUP BY value, 10
// tuples one millisecond apart.
func TestPreAggregation_TumblingSum(t *testing.T) {
	schema := layout.Schema{Fields: []layout.Field{
		{Name: "ts", Type: layout.Int64},
		{Name: "one", Type: layout.Int64},
		{Name: "value", Type: layout.Int64},
	}}
	l := layout.NewRowLayout(schema, 4096)

	data := make([]byte, 4096)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.WriteInt64(data, i, 0, int64(i), 10))  // ts = 0..9
		require.NoError(t, l.WriteInt64(data, i, 1, 1, 10))         // one = 1
		require.NoError(t, l.WriteInt64(data, i, 2, int64(i%2), 10)) // value = 0/1 alternating
	}

	params := Params{Size: 2, Slide: 2, AllowedLateness: 0}
	pa := NewPreAggregation(params, SumAggregation{}, l,
		func(r layout.Record) (int64, error) { v, err := r.Field(0); return v.(int64), err },
		func(r layout.Record) (string, error) { v, err := r.Field(2); return fmt.Sprintf("%v", v), err },
		func(r layout.Record) (int64, error) { v, err := r.Field(1); return v.(int64), err },
		telemetry.Noop(), hashString)

	it := l.NewIterator(data, 10)
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		ts, err := rec.Field(0)
		require.NoError(t, err)
		require.True(t, pa.insertRecord(rec, ts.(int64)))
	}

	assert.Equal(t, 5, pa.OpenWindows(), "5 tumbling windows of size 2 over ts 0..9")

	out := pa.Trigger(2) // watermark at 2: window [0,2) is ready
	require.Len(t, out, 2, "one per distinct value key in window [0,2)")
	for _, rec := range out {
		assert.Equal(t, int64(0), rec.WindowStart)
		assert.Equal(t, int64(2), rec.WindowEnd)
		assert.EqualValues(t, 1, rec.Value, "each key appears once per 2-tuple window")
	}
	assert.Equal(t, 4, pa.OpenWindows())

	out = pa.Trigger(10) // flush everything
	assert.Equal(t, 8, len(out))
	assert.Equal(t, 0, pa.OpenWindows())
}

func TestSliceStore_LateTupleDropped(t *testing.T) {
	store := NewSliceStore(Params{Size: 10, Slide: 10, AllowedLateness: 0}, SumAggregation{}, telemetry.Noop(), hashString)
	store.AdvanceWatermark(0) // nothing inserted yet, no-op
	ok := store.Insert("k", 1, 5, 0)
	assert.True(t, ok)
	emissions := store.AdvanceWatermark(10)
	require.Len(t, emissions, 1)
	store.Release(emissions[0].Start)

	// now a tuple for the already-triggered slice arrives late
	ok = store.Insert("k", 1, 5, 0)
	assert.False(t, ok, "late tuple after trigger must be dropped")
}

func TestChainedMap_MergeCombinesPartials(t *testing.T) {
	a := NewChainedMap[string, int64](4, hashString)
	b := NewChainedMap[string, int64](4, hashString)
	a.Set("x", 3)
	b.Set("x", 4)
	b.Set("y", 7)
	a.Merge(b, func(x, y int64) int64 { return x + y })

	v, ok := a.Get("x")
	require.True(t, ok)
	assert.EqualValues(t, 7, v)
	v, ok = a.Get("y")
	require.True(t, ok)
	assert.EqualValues(t, 7, v)
}
