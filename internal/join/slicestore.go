package join

import (
	"context"
	"sort"
	"sync"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/telemetry"
	"github.com/nebulastream/nebulastream-sub040/internal/window"
)

// SliceStore owns the lazily-created join slices for one binary join
// operator instance, keyed by slice start timestamp. Grounded on
// original_source's SliceAndWindowStore used by HJBuild/HJProbe.
type SliceStore struct {
	params    window.Params
	pool      *buffer.Pool
	entrySize int
	hash      func(string) uint64
	sink      *telemetry.Sink

	mu        sync.Mutex
	slices    map[int64]*Slice
	triggered map[int64]bool
	watermark int64
}

// NewSliceStore creates an empty join slice store.
func NewSliceStore(params window.Params, pool *buffer.Pool, entrySize int, hash func(string) uint64, sink *telemetry.Sink) *SliceStore {
	return &SliceStore{
		params:    params,
		pool:      pool,
		entrySize: entrySize,
		hash:      hash,
		sink:      sink,
		slices:    make(map[int64]*Slice),
		triggered: make(map[int64]bool),
	}
}

// SliceFor returns the slice owning ts, creating it on first reference.
// Returns (nil, false) if ts's slice has already triggered: the caller
// must drop the tuple as late.
func (s *SliceStore) SliceFor(ts int64) (*Slice, bool) {
	start := s.params.SliceIDFor(ts)
	end := start + s.params.Size

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggered[start] || end+s.params.AllowedLateness <= s.watermark {
		if s.sink != nil {
			s.sink.IncrDroppedLateTuples(context.Background(), 1)
		}
		return nil, false
	}
	sl, ok := s.slices[start]
	if !ok {
		sl = NewSlice(start, s.params.Size, s.pool, s.entrySize, s.hash)
		s.slices[start] = sl
	}
	return sl, true
}

// AdvanceWatermark marks every slice whose end + allowed lateness has been
// passed as triggered and returns them in ascending start order, ready for
// probing. Triggered slices are not removed until Release is called.
func (s *SliceStore) AdvanceWatermark(wm int64) []*Slice {
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
	out := make([]*Slice, 0, len(ready))
	for _, start := range ready {
		s.triggered[start] = true
		sl := s.slices[start]
		if err := sl.sm.OnTrigger(); err != nil {
			continue
		}
		out = append(out, sl)
	}
	s.mu.Unlock()
	return out
}

// Release destroys a triggered slice's paged vectors and removes it from
// the store.
func (s *SliceStore) Release(start int64) {
	s.mu.Lock()
	sl := s.slices[start]
	delete(s.slices, start)
	delete(s.triggered, start)
	s.mu.Unlock()
	if sl != nil {
		sl.Destroy()
	}
}

// OpenSliceCount reports the number of non-triggered slices, for
// diagnostics and tests.
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
