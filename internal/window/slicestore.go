package window

import (
	"context"
	"sort"
	"sync"

	"github.com/nebulastream/nebulastream-sub040/internal/telemetry"
)

// Emission is one triggered slice's output: the window bounds and the
// merged (key -> partial) state ready for Lower().
type Emission struct {
	Start, End int64
	Merged     *ChainedMap[string, any]
}

// SliceStore owns the lazily-created slices for one keyed window operator
// instance and triggers them as the watermark advances, grounded on
// original_source's KeyedSlicePreAggregation slice-store/trigger split.
//
// Late tuples whose slice has already triggered are dropped silently and
// counted, per the allowed-lateness open question: there is no mechanism
// to retract an already-emitted aggregate.
type SliceStore struct {
	params Params
	agg    Aggregation
	sink   *telemetry.Sink
	hash   func(string) uint64

	mu          sync.Mutex
	slices      map[int64]*Slice[any]
	triggered   map[int64]bool
	watermark   int64
}

// NewSliceStore creates an empty slice store for the given window params
// and aggregation function.
func NewSliceStore(params Params, agg Aggregation, sink *telemetry.Sink, hash func(string) uint64) *SliceStore {
	return &SliceStore{
		params:    params,
		agg:       agg,
		sink:      sink,
		hash:      hash,
		slices:    make(map[int64]*Slice[any]),
		triggered: make(map[int64]bool),
	}
}

// Insert folds one (key, value, ts) record into the slice that owns ts on
// thread shard threadID. Returns false if the record was dropped as late.
func (s *SliceStore) Insert(key string, value int64, ts int64, threadID int) bool {
	sliceStart := s.params.SliceIDFor(ts)
	sliceEnd := sliceStart + s.params.Size

	s.mu.Lock()
	if s.triggered[sliceStart] || sliceEnd+s.params.AllowedLateness <= s.watermark {
		s.mu.Unlock()
		if s.sink != nil {
			s.sink.IncrDroppedLateTuples(context.Background(), 1)
		}
		return false
	}
	sl, ok := s.slices[sliceStart]
	if !ok {
		sl = NewSlice[any](sliceStart, s.params.Size, func() *ChainedMap[string, any] {
			return NewChainedMap[string, any](16, s.hash)
		})
		s.slices[sliceStart] = sl
	}
	s.mu.Unlock()

	shard := sl.Shard(threadID)
	shard.GetOrInsert(key, func() any { return s.agg.InitialPartial() })
	cur, _ := shard.Get(key)
	shard.Set(key, s.agg.Lift(cur, value))
	return true
}

// AdvanceWatermark reports a new watermark value and returns every slice
// whose end + allowed lateness has now been passed, in ascending start-
// timestamp order. Each returned slice is merged across thread shards and
// marked triggered; it is not removed from the store until Release is
// called, matching original_source's explicit release step.
func (s *SliceStore) AdvanceWatermark(wm int64) []Emission {
	s.mu.Lock()
	if wm > s.watermark {
		s.watermark = wm
	}
	var ready []int64
	for start, sl := range s.slices {
		if s.triggered[start] {
			continue
		}
		if sl.End+s.params.AllowedLateness <= s.watermark {
			ready = append(ready, start)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	for _, start := range ready {
		s.triggered[start] = true
	}
	s.mu.Unlock()

	emissions := make([]Emission, 0, len(ready))
	for _, start := range ready {
		sl := s.slices[start]
		merged := sl.Merge(func(a, b any) any { return s.agg.Combine(a, b) })
		emissions = append(emissions, Emission{Start: sl.Start, End: sl.End, Merged: merged})
	}
	return emissions
}

// Release frees a triggered slice's state. Must be called exactly once per
// emitted slice once its output has been written downstream.
func (s *SliceStore) Release(start int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slices, start)
	delete(s.triggered, start)
}

// OpenSliceCount reports the number of non-triggered slices currently held,
// for diagnostics and tests.
func (s *SliceStore) OpenSliceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for start := range s.slices {
		if !s.triggered[start] {
			n++
		}
	}
	return n
}
