package buffer

import (
	"sync"

	"github.com/nebulastream/nebulastream-sub040/internal/errs"
)

// LocalPool is a worker-thread-local sub-pool. Unlike a pass-through cache,
// it reserves a fixed number of buffers from the global pool at
// construction (FixedSizeBufferPool reservation semantics, see
// SPEC_FULL.md Supplemented Features #1) and returns every reserved buffer
// to the global pool when Close is called, rather than lending them out
// one at a time on demand.
type LocalPool struct {
	global   *Pool
	mu       sync.Mutex
	reserved []*segment
	closed   bool
}

// NewLocalPool reserves count buffers from global, blocking until all are
// available. The reservation is all-or-nothing: if the global pool shuts
// down mid-reservation, already-reserved buffers are returned and the error
// is surfaced.
func NewLocalPool(global *Pool, count int) (*LocalPool, error) {
	lp := &LocalPool{global: global, reserved: make([]*segment, 0, count)}
	for i := 0; i < count; i++ {
		buf, err := global.GetBufferBlocking()
		if err != nil {
			lp.Close()
			return nil, err
		}
		// Take ownership of the segment directly rather than going through
		// the public handle's refcount so the local pool, not the caller,
		// is the sole owner until LocalGetBuffer hands it out.
		lp.reserved = append(lp.reserved, buf.seg)
	}
	return lp, nil
}

// LocalGetBufferNoBlocking returns a reserved buffer without touching the
// global pool, or ErrBufferAllocationFailed if the local reservation is
// exhausted. Worker-context acquisition always tries this before falling
// back to the global pool.
func (lp *LocalPool) LocalGetBufferNoBlocking() (TupleBuffer, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		return TupleBuffer{}, errs.ErrPoolShutDown
	}
	if len(lp.reserved) == 0 {
		return TupleBuffer{}, errs.ErrBufferAllocationFailed
	}
	last := len(lp.reserved) - 1
	seg := lp.reserved[last]
	lp.reserved = lp.reserved[:last]
	seg.cb = controlBlock{refCount: 1, recycler: lp, creationTs: nowUnixNano()}
	return TupleBuffer{seg: seg}, nil
}

// recycle implements Recycler: a buffer borrowed from this local pool
// returns here, not to the global pool, preserving the reservation.
func (lp *LocalPool) recycle(seg *segment) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		lp.global.recycle(seg)
		return
	}
	lp.reserved = append(lp.reserved, seg)
}

// FreeCount reports how many reserved buffers are currently available
// locally, for the buffer-conservation invariant check.
func (lp *LocalPool) FreeCount() int {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return len(lp.reserved)
}

// Close returns every reserved buffer (free or still checked out, as it is
// returned) to the global pool. After Close, LocalGetBufferNoBlocking
// always fails.
func (lp *LocalPool) Close() {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		return
	}
	lp.closed = true
	for _, seg := range lp.reserved {
		lp.global.recycle(seg)
	}
	lp.reserved = nil
}
