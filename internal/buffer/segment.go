package buffer

// segment is one fixed-size, page-aligned byte region plus its control
// block. Segments are pre-allocated once at pool construction and never
// freed individually; only the pool's Shutdown releases them all.
type segment struct {
	data []byte
	cb   controlBlock
	// home is the pool this segment was carved from. It is set at
	// construction; nothing in the package reads it.
	home *Pool
}

func newSegment(size int, home *Pool) *segment {
	return &segment{
		data: make([]byte, size),
		home: home,
	}
}

// TupleBuffer is a handle to a pooled segment. Cloning bumps the refcount;
// Release decrements it. Handles are safe to pass across goroutines: the
// refcount is atomic and the recycler is invoked from whichever goroutine
// observes the zero transition.
type TupleBuffer struct {
	seg *segment
}

// Size returns the size in bytes of the underlying region.
func (b TupleBuffer) Size() int { return len(b.seg.data) }

// Bytes exposes the raw backing region. Callers must not retain the slice
// past Release.
func (b TupleBuffer) Bytes() []byte { return b.seg.data }

// OriginID returns the control block's origin id.
func (b TupleBuffer) OriginID() uint64 { return loadU64(&b.seg.cb.originID) }

// SetOriginID sets the control block's origin id.
func (b TupleBuffer) SetOriginID(id uint64) { storeU64(&b.seg.cb.originID, id) }

// SequenceNumber returns the control block's sequence number.
func (b TupleBuffer) SequenceNumber() uint64 { return loadU64(&b.seg.cb.sequenceNumber) }

// SetSequenceNumber sets the control block's sequence number.
func (b TupleBuffer) SetSequenceNumber(seq uint64) { storeU64(&b.seg.cb.sequenceNumber, seq) }

// WatermarkTs returns the control block's watermark timestamp.
func (b TupleBuffer) WatermarkTs() int64 { return loadI64(&b.seg.cb.watermarkTs) }

// SetWatermarkTs sets the control block's watermark timestamp.
func (b TupleBuffer) SetWatermarkTs(ts int64) { storeI64(&b.seg.cb.watermarkTs, ts) }

// CreationTs returns the time the buffer was acquired, as unix nanos.
func (b TupleBuffer) CreationTs() int64 { return b.seg.cb.creationTs }

// NumberOfTuples returns the number of valid tuples currently written.
func (b TupleBuffer) NumberOfTuples() uint64 { return loadU64(&b.seg.cb.numberOfTuples) }

// SetNumberOfTuples sets the number of valid tuples. The caller is
// responsible for the invariant numberOfTuples <= size/tupleSizeBytes.
func (b TupleBuffer) SetNumberOfTuples(n uint64) { storeU64(&b.seg.cb.numberOfTuples, n) }

// TupleSizeBytes returns the configured per-tuple size for this buffer.
func (b TupleBuffer) TupleSizeBytes() uint64 { return loadU64(&b.seg.cb.tupleSizeBytes) }

// SetTupleSizeBytes sets the per-tuple size.
func (b TupleBuffer) SetTupleSizeBytes(n uint64) { storeU64(&b.seg.cb.tupleSizeBytes, n) }

// RefCount returns the current reference count. Intended for tests and
// invariant assertions, not for control flow.
func (b TupleBuffer) RefCount() int32 { return loadI32(&b.seg.cb.refCount) }

// Retain increments the refcount and returns a new handle sharing the same
// segment. Equivalent to cloning a handle in the spec's reference
// discipline.
func (b TupleBuffer) Retain() TupleBuffer {
	addI32(&b.seg.cb.refCount, 1)
	return TupleBuffer{seg: b.seg}
}

// Release decrements the refcount. On transition to zero it resets the
// control block and returns the segment to its recycler. Returning a
// buffer whose recycler is gone is a contract violation (BufferStillReferenced
// class of bug) and panics, matching the spec's debug-fatal invariant.
func (b TupleBuffer) Release() {
	remaining := addI32(&b.seg.cb.refCount, -1)
	if remaining > 0 {
		return
	}
	if remaining < 0 {
		panic("buffer: refcount dropped below zero")
	}
	recycler := b.seg.cb.recycler
	b.seg.cb.reset()
	if recycler == nil {
		panic("buffer: recycling a segment with no recycler")
	}
	recycler.recycle(b.seg)
}

// IsValid reports whether the handle wraps a live segment.
func (b TupleBuffer) IsValid() bool { return b.seg != nil }
