// Package watermark implements the multi-origin watermark processor: a set
// of per-origin atomic (maxSeq, maxTs) slots whose minimum maxTs is the
// global watermark.
package watermark

import "sync/atomic"

// slot holds one origin's progress. seq and ts are packed into separate
// atomics rather than a struct so updates can be made without a lock:
// UpdateWatermark claims seq with a compare-and-swap, then stores ts, then
// sets seen, and GetCurrentWatermark reads ts only from slots whose seen
// flag is set. Writers of distinct origins touch distinct slots; a single
// origin is still assumed single-writer, per the windowing/source model.
type slot struct {
	maxSeq atomic.Uint64
	maxTs  atomic.Int64
	seen   atomic.Bool
}

// Processor tracks per-origin sequence/timestamp progress across an
// explicit, fixed set of origin ids and exposes the global watermark as
// the minimum over all origins' maxTs.
type Processor struct {
	slots map[uint64]*slot
}

// New creates a Processor tracking exactly the given origin ids. The
// global watermark cannot advance until every one of these origins has
// reported at least one update.
func New(originIDs []uint64) *Processor {
	p := &Processor{slots: make(map[uint64]*slot, len(originIDs))}
	for _, id := range originIDs {
		p.slots[id] = &slot{}
	}
	return p
}

// UpdateWatermark records (ts, seq) for originID. Idempotent: updates whose
// seq is not greater than the currently recorded seq for that origin are
// ignored. Safe for concurrent callers across different origins.
func (p *Processor) UpdateWatermark(ts int64, seq uint64, originID uint64) {
	s, ok := p.slots[originID]
	if !ok {
		return
	}
	for {
		cur := s.maxSeq.Load()
		if seq <= cur && s.seen.Load() {
			return
		}
		if s.maxSeq.CompareAndSwap(cur, seq) {
			s.maxTs.Store(ts)
			s.seen.Store(true)
			return
		}
	}
}

// GetCurrentWatermark returns the global watermark: the minimum maxTs over
// every tracked origin, or (0, false) if any origin has not yet reported.
// Once a value has been returned it never decreases on subsequent calls,
// because every origin's maxTs is itself non-decreasing.
func (p *Processor) GetCurrentWatermark() (int64, bool) {
	var min int64
	first := true
	for _, s := range p.slots {
		if !s.seen.Load() {
			return 0, false
		}
		ts := s.maxTs.Load()
		if first || ts < min {
			min = ts
			first = false
		}
	}
	return min, true
}

// Origins returns the set of origin ids this processor was constructed with.
func (p *Processor) Origins() []uint64 {
	ids := make([]uint64, 0, len(p.slots))
	for id := range p.slots {
		ids = append(ids, id)
	}
	return ids
}
