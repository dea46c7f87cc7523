package join

import (
	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/window"
)

// Slice is one join time partition: a bilateral key -> PagedVector map, one
// per side, plus the state machine tracking its build/probe/release
// progress. Grounded on original_source's HJSlice, which holds one
// ChainedHashMap per build side whose value area is a PagedVector.
type Slice struct {
	Start, End int64
	sm         *StateMachine
	sides      map[Side]*window.ChainedMap[string, *PagedVector]
	pool       *buffer.Pool
	entrySize  int
}

// NewSlice creates a join slice covering [start, start+size).
func NewSlice(start, size int64, pool *buffer.Pool, entrySize int, hash func(string) uint64) *Slice {
	return &Slice{
		Start: start,
		End:   start + size,
		sm:    NewStateMachine(),
		sides: map[Side]*window.ChainedMap[string, *PagedVector]{
			Left:  window.NewChainedMap[string, *PagedVector](16, hash),
			Right: window.NewChainedMap[string, *PagedVector](16, hash),
		},
		pool:      pool,
		entrySize: entrySize,
	}
}

// State returns the slice's current lifecycle state.
func (s *Slice) State() State { return s.sm.State() }

// pagedVectorFor returns the per-key paged vector on side, creating it on
// first reference for that key.
func (s *Slice) pagedVectorFor(side Side, key string) *PagedVector {
	pv, existed := s.sides[side].GetOrInsert(key, func() *PagedVector {
		return NewPagedVector(s.pool, s.entrySize)
	})
	if !existed {
		s.sm.OnFirstTupleOnSide(side)
	}
	return pv
}

// Build appends one serialized entry (already laid out by the caller under
// the build-side operator's entry layout) to the key's paged vector on
// side.
func (s *Slice) Build(side Side, key string, writeEntry func(dst []byte)) error {
	pv := s.pagedVectorFor(side, key)
	entry, err := pv.AppendEntry()
	if err != nil {
		return err
	}
	writeEntry(entry)
	return nil
}

// Side returns the chained map of paged vectors for side, used by the
// probe operator to walk matches.
func (s *Slice) Side(side Side) *window.ChainedMap[string, *PagedVector] {
	return s.sides[side]
}

// Destroy tears down both sides' paged vectors. Must be called exactly
// once after the slice has emitted its probe output, matching
// original_source's explicit slice cleanup function.
func (s *Slice) Destroy() {
	for _, side := range []Side{Left, Right} {
		s.sides[side].ForEach(func(_ string, pv *PagedVector) { pv.Destroy() })
	}
}
