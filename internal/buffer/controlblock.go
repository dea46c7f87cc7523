package buffer

import (
	"sync/atomic"
	"time"
)

// Recycler is the weak back-reference a TupleBuffer carries to the pool or
// sub-pool it must return to on refcount drop to zero. It never extends the
// pool's lifetime: a TupleBuffer holding a Recycler does not keep the pool
// alive, matching the "weak — it identifies the pool to return to, never
// extends pool lifetime" invariant.
type Recycler interface {
	// recycle returns seg to the recycler's free list. Called exactly once
	// per buffer, when its refcount reaches zero.
	recycle(seg *segment)
}

// controlBlock is the out-of-band metadata attached to every pooled
// segment: refcount, origin/sequence/watermark bookkeeping, and tuple
// accounting. It is reset to zero values whenever the segment returns to
// free, per the Tuple Buffer invariants.
type controlBlock struct {
	refCount        int32
	originID        uint64
	sequenceNumber  uint64
	watermarkTs     int64
	creationTs      int64
	numberOfTuples  uint64
	tupleSizeBytes  uint64
	recycler        Recycler
}

func (cb *controlBlock) reset() {
	atomic.StoreUint64(&cb.originID, 0)
	atomic.StoreUint64(&cb.sequenceNumber, 0)
	atomic.StoreInt64(&cb.watermarkTs, 0)
	atomic.StoreUint64(&cb.numberOfTuples, 0)
	atomic.StoreUint64(&cb.tupleSizeBytes, 0)
	cb.recycler = nil
}

func nowUnixNano() int64 {
	return time.Now().UnixNano()
}
