package window

import "sync"

// Params describes a windowing operator's slicing configuration. Tumbling
// windows are the special case Size == Slide. Only the "slicing" mode is
// supported: one chained map per slice, combined at trigger time.
type Params struct {
	Size           int64
	Slide          int64
	AllowedLateness int64
}

// SliceIDFor returns the slice start timestamp a record with timestamp ts
// belongs to: floor(ts/slide)*slide.
func (p Params) SliceIDFor(ts int64) int64 {
	if p.Slide <= 0 {
		return 0
	}
	if ts >= 0 {
		return (ts / p.Slide) * p.Slide
	}
	// floor division for negative timestamps
	q := ts / p.Slide
	if ts%p.Slide != 0 {
		q--
	}
	return q * p.Slide
}

// Slice is one time partition [start, start+size). Per worker thread it
// holds one chained map (keyed by the shard index, i.e. thread id).
type Slice[V any] struct {
	Start int64
	End   int64

	mu     sync.Mutex
	shards map[int]*ChainedMap[string, V]
	newMap func() *ChainedMap[string, V]
}

// NewSlice creates a slice covering [start, start+size), lazily allocating
// one chained map per worker thread on first access.
func NewSlice[V any](start int64, size int64, newMap func() *ChainedMap[string, V]) *Slice[V] {
	return &Slice[V]{
		Start:  start,
		End:    start + size,
		shards: make(map[int]*ChainedMap[string, V]),
		newMap: newMap,
	}
}

// Shard returns the chained map owned by threadID, creating it on first
// access. No cross-thread writes happen on the hot path: each thread only
// ever touches its own shard.
func (s *Slice[V]) Shard(threadID int) *ChainedMap[string, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.shards[threadID]
	if !ok {
		m = s.newMap()
		s.shards[threadID] = m
	}
	return m
}

// Merge combines every thread shard into one map under combine, the
// single-writer merge step that happens only at trigger time.
func (s *Slice[V]) Merge(combine func(a, b V) V) *ChainedMap[string, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.newMap()
	for _, shard := range s.shards {
		merged.Merge(shard, combine)
	}
	return merged
}

// ShardCount reports how many thread shards have been materialized, for
// diagnostics.
func (s *Slice[V]) ShardCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shards)
}
