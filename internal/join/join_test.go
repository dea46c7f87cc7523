package join

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/window"
)

func hashString(s string) uint64 { return xxhash.Sum64String(s) }

// entrySize = 8 (key) + 8 (value), matching a minimal (joinKey, value) pair.
const testEntrySize = 16

func writeEntry(key, value int64) func(dst []byte) {
	return func(dst []byte) {
		binary.LittleEndian.PutUint64(dst[0:8], uint64(key))
		binary.LittleEndian.PutUint64(dst[8:16], uint64(value))
	}
}

func readEntry(b []byte) (key, value int64) {
	return int64(binary.LittleEndian.Uint64(b[0:8])), int64(binary.LittleEndian.Uint64(b[8:16]))
}

// TestJoin_TwoSourceScenario mirrors spec.md scenario 3: left stream emits
// (key=1,val=100) and (key=2,val=200); right stream emits (key=1,val=1000)
// and (key=1,val=2000); probing key 1 must yield two joined pairs, key 2
// yields none.
func TestJoin_TwoSourceScenario(t *testing.T) {
	pool := buffer.NewPool(4096, 4)
	params := window.Params{Size: 10, Slide: 10, AllowedLateness: 0}
	store := NewSliceStore(params, pool, testEntrySize, hashString, nil)

	sl, ok := store.SliceFor(5)
	require.True(t, ok)

	require.NoError(t, sl.Build(Left, "1", writeEntry(1, 100)))
	require.NoError(t, sl.Build(Left, "2", writeEntry(2, 200)))
	require.NoError(t, sl.Build(Right, "1", writeEntry(1, 1000)))
	require.NoError(t, sl.Build(Right, "1", writeEntry(1, 2000)))

	assert.Equal(t, BuildingBoth, sl.State())

	triggered := store.AdvanceWatermark(10)
	require.Len(t, triggered, 1)
	assert.Equal(t, Probing, triggered[0].State())

	var matches []string
	Probe(triggered[0], func(l, r []byte) {
		lk, lv := readEntry(l)
		rk, rv := readEntry(r)
		require.Equal(t, lk, rk)
		matches = append(matches, fmt.Sprintf("%d:%d-%d", lk, lv, rv))
	})

	assert.ElementsMatch(t, []string{"1:100-1000", "1:100-2000"}, matches)

	require.NoError(t, triggered[0].sm.OnEmitted())
	require.NoError(t, triggered[0].sm.OnReleased())
	store.Release(triggered[0].Start)
	assert.Equal(t, 0, store.OpenSliceCount())
}

func TestPagedVector_MultiPageAppend(t *testing.T) {
	pool := buffer.NewPool(defaultEntriesPerPage*testEntrySize*3, 4)
	pv := NewPagedVector(pool, testEntrySize)

	total := defaultEntriesPerPage + 5
	for i := 0; i < total; i++ {
		entry, err := pv.AppendEntry()
		require.NoError(t, err)
		writeEntry(int64(i), int64(i*2))(entry)
	}

	assert.Equal(t, total, pv.Len())
	assert.Equal(t, 2, pv.NumberOfPages())

	count := 0
	pv.ForEach(func(entry []byte) {
		k, v := readEntry(entry)
		assert.Equal(t, k*2, v)
		count++
	})
	assert.Equal(t, total, count)

	pv.Destroy()
	assert.Equal(t, 0, pv.Len())
}

func TestStateMachine_SingleSideThenOtherBecomesBoth(t *testing.T) {
	sm := NewStateMachine()
	sm.OnFirstTupleOnSide(Left)
	assert.Equal(t, BuildingLeft, sm.State())
	sm.OnFirstTupleOnSide(Right)
	assert.Equal(t, BuildingBoth, sm.State())

	require.NoError(t, sm.OnTrigger())
	assert.Equal(t, Probing, sm.State())
	require.NoError(t, sm.OnEmitted())
	assert.Equal(t, Emitted, sm.State())

	err := sm.OnEmitted()
	require.Error(t, err)
	assert.IsType(t, &ErrInvalidTransition{}, err)
}
