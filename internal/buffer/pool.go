// Package buffer implements the pooled, zero-copy, reference-counted
// tuple-buffer allocator used on every hot path of the runtime.
//
// Design rationale (grounded on other_examples' functionPool: per-resource
// mutex + sync.Cond for "wait for a free slot", atomic counters for
// hot-path fields read far more often than written):
//
//   - All buffers are pre-allocated once at construction and held on a
//     free list; nothing is malloc'd on the hot path.
//   - getBufferBlocking/getBufferNoBlocking/getBufferTimeout share one
//     acquisition core that differs only in how long it is willing to wait
//     on the pool's sync.Cond.
//   - getUnpooledBuffer serves oversized/variable-length requests from a
//     sorted cache of previously-freed same-size-or-larger segments before
//     falling back to a fresh allocation.
//
// Invariant (buffer conservation, checked in pool_test.go):
// pool.freeCount + sum_thread(local.freeCount) + handsOut == totalBuffers.
package buffer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nebulastream/nebulastream-sub040/internal/errs"
)

// Pool is the global tuple-buffer pool for one worker process. It owns
// NumberOfBuffers fixed-size regions placed on a free list at construction.
type Pool struct {
	bufferSize     int
	numberOfBuffers int

	mu       sync.Mutex
	cond     *sync.Cond
	free     []*segment
	handsOut int
	shutDown bool

	unpooled unpooledCache
}

// NewPool pre-allocates numberOfBuffers regions of bufferSize bytes each.
func NewPool(bufferSize, numberOfBuffers int) *Pool {
	p := &Pool{
		bufferSize:      bufferSize,
		numberOfBuffers: numberOfBuffers,
		free:            make([]*segment, 0, numberOfBuffers),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < numberOfBuffers; i++ {
		p.free = append(p.free, newSegment(bufferSize, p))
	}
	p.unpooled.init()
	return p
}

// BufferSize returns the fixed region size this pool was constructed with.
func (p *Pool) BufferSize() int { return p.bufferSize }

// TotalBuffers returns the number of pooled regions.
func (p *Pool) TotalBuffers() int { return p.numberOfBuffers }

// FreeCount returns the number of currently free regions. For tests and
// diagnostics.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// HandsOut returns the number of regions currently checked out. For tests
// and diagnostics.
func (p *Pool) HandsOut() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handsOut
}

// Shutdown marks the pool closed. Any blocked or future acquisition fails
// with ErrPoolShutDown; buffers already checked out may still be released
// normally (recycle just drops them instead of requeuing).
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutDown = true
	p.cond.Broadcast()
}

// GetBufferBlocking returns a buffer, waiting indefinitely for one to
// become free.
func (p *Pool) GetBufferBlocking() (TupleBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.free) == 0 && !p.shutDown {
		p.cond.Wait()
	}
	return p.acquireLocked()
}

// GetBufferNoBlocking returns errs.ErrBufferAllocationFailed immediately if
// no buffer is free instead of waiting.
func (p *Pool) GetBufferNoBlocking() (TupleBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 && !p.shutDown {
		return TupleBuffer{}, errs.ErrBufferAllocationFailed
	}
	return p.acquireLocked()
}

// GetBufferTimeout blocks up to d waiting for a free buffer.
func (p *Pool) GetBufferTimeout(d time.Duration) (TupleBuffer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.GetBufferContext(ctx)
}

// GetBufferContext blocks until a buffer is free, the pool shuts down, or
// ctx is done, whichever happens first.
func (p *Pool) GetBufferContext(ctx context.Context) (TupleBuffer, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.free) == 0 && !p.shutDown {
		if ctx.Err() != nil {
			return TupleBuffer{}, fmt.Errorf("getBufferTimeout: %w", ctx.Err())
		}
		p.cond.Wait()
	}
	if ctx.Err() != nil && len(p.free) == 0 {
		return TupleBuffer{}, fmt.Errorf("getBufferTimeout: %w", ctx.Err())
	}
	return p.acquireLocked()
}

// acquireLocked must be called with p.mu held and at least one of
// (len(p.free) > 0) or p.shutDown true.
func (p *Pool) acquireLocked() (TupleBuffer, error) {
	if p.shutDown {
		return TupleBuffer{}, errs.ErrPoolShutDown
	}
	if len(p.free) == 0 {
		return TupleBuffer{}, errs.ErrBufferAllocationFailed
	}
	last := len(p.free) - 1
	seg := p.free[last]
	p.free = p.free[:last]
	p.handsOut++
	seg.cb = controlBlock{refCount: 1, recycler: p, creationTs: nowUnixNano()}
	return TupleBuffer{seg: seg}, nil
}

// recycle implements Recycler: it is called exactly once per buffer, when
// its refcount reaches zero.
func (p *Pool) recycle(seg *segment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handsOut--
	if p.shutDown {
		return
	}
	p.free = append(p.free, seg)
	p.cond.Signal()
}

// GetUnpooledBuffer serves an overflow/variable-sized auxiliary allocation
// from the sorted free-segment cache before allocating fresh memory.
func (p *Pool) GetUnpooledBuffer(size int) TupleBuffer {
	seg := p.unpooled.acquire(size, p)
	return TupleBuffer{seg: seg}
}

// unpooledCache is a sorted cache of freed unpooled segments, reused by
// size before falling back to a fresh allocation.
type unpooledCache struct {
	mu    sync.Mutex
	sizes []int
	bySize map[int][]*segment
}

func (c *unpooledCache) init() {
	c.bySize = make(map[int][]*segment)
}

func (c *unpooledCache) acquire(size int, home *Pool) *segment {
	c.mu.Lock()
	idx := sort.SearchInts(c.sizes, size)
	for i := idx; i < len(c.sizes); i++ {
		candidate := c.sizes[i]
		if bucket := c.bySize[candidate]; len(bucket) > 0 {
			seg := bucket[len(bucket)-1]
			c.bySize[candidate] = bucket[:len(bucket)-1]
			c.mu.Unlock()
			seg.cb = controlBlock{refCount: 1, recycler: unpooledRecycler{cache: c, size: candidate}, creationTs: nowUnixNano()}
			return seg
		}
	}
	c.mu.Unlock()

	seg := newSegment(size, home)
	seg.cb = controlBlock{refCount: 1, recycler: unpooledRecycler{cache: c, size: size}, creationTs: nowUnixNano()}
	return seg
}

func (c *unpooledCache) release(size int, seg *segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bySize[size]; !ok {
		idx := sort.SearchInts(c.sizes, size)
		c.sizes = append(c.sizes, 0)
		copy(c.sizes[idx+1:], c.sizes[idx:])
		c.sizes[idx] = size
	}
	c.bySize[size] = append(c.bySize[size], seg)
}

// unpooledRecycler returns a segment to the unpooled cache it was drawn
// from, identified by size bucket.
type unpooledRecycler struct {
	cache *unpooledCache
	size  int
}

func (r unpooledRecycler) recycle(seg *segment) {
	r.cache.release(r.size, seg)
}
