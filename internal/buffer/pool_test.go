package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/nebulastream/nebulastream-sub040/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BlockingAcquireRelease(t *testing.T) {
	p := NewPool(64, 4)

	buf, err := p.GetBufferBlocking()
	require.NoError(t, err)
	assert.Equal(t, 3, p.FreeCount())
	assert.Equal(t, 1, p.HandsOut())

	buf.Release()
	assert.Equal(t, 4, p.FreeCount())
	assert.Equal(t, 0, p.HandsOut())
}

func TestPool_NoBlockingFailsWhenExhausted(t *testing.T) {
	p := NewPool(64, 1)
	buf, err := p.GetBufferNoBlocking()
	require.NoError(t, err)

	_, err = p.GetBufferNoBlocking()
	assert.ErrorIs(t, err, errs.ErrBufferAllocationFailed)

	buf.Release()
	_, err = p.GetBufferNoBlocking()
	assert.NoError(t, err)
}

func TestPool_BlockingWaitsForRelease(t *testing.T) {
	p := NewPool(64, 1)
	buf, err := p.GetBufferBlocking()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		b2, err := p.GetBufferBlocking()
		require.NoError(t, err)
		b2.Release()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second acquisition should not have completed before release")
	default:
	}

	buf.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquisition never completed after release")
	}
}

func TestPool_Timeout(t *testing.T) {
	p := NewPool(64, 1)
	buf, err := p.GetBufferBlocking()
	require.NoError(t, err)
	defer buf.Release()

	_, err = p.GetBufferTimeout(20 * time.Millisecond)
	require.Error(t, err)
}

func TestPool_ShutdownFailsAcquisition(t *testing.T) {
	p := NewPool(64, 1)
	p.Shutdown()
	_, err := p.GetBufferBlocking()
	assert.ErrorIs(t, err, errs.ErrPoolShutDown)
}

func TestPool_RefcountSafety(t *testing.T) {
	p := NewPool(64, 1)
	buf, err := p.GetBufferBlocking()
	require.NoError(t, err)

	clone := buf.Retain()
	assert.EqualValues(t, 2, buf.RefCount())

	buf.Release()
	assert.Equal(t, 0, p.FreeCount(), "segment must stay checked out while a clone is alive")

	clone.Release()
	assert.Equal(t, 1, p.FreeCount())
}

func TestPool_ReleaseBelowZeroPanics(t *testing.T) {
	p := NewPool(64, 1)
	buf, err := p.GetBufferBlocking()
	require.NoError(t, err)
	buf.Release()
	assert.Panics(t, func() { buf.Release() })
}

// TestPool_BufferConservation exercises the steady-state invariant:
// pool.freeCount + handsOut == totalBuffers, under concurrent acquire/release.
func TestPool_BufferConservation(t *testing.T) {
	const total = 32
	p := NewPool(64, total)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				buf, err := p.GetBufferBlocking()
				require.NoError(t, err)
				buf.SetNumberOfTuples(1)
				buf.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, total, p.FreeCount())
	assert.Equal(t, 0, p.HandsOut())
}

func TestPool_UnpooledReusesFreedSegmentBySize(t *testing.T) {
	p := NewPool(64, 1)

	a := p.GetUnpooledBuffer(128)
	assert.Equal(t, 128, a.Size())
	a.Release()

	b := p.GetUnpooledBuffer(100)
	assert.Equal(t, 128, b.Size(), "should reuse the 128-byte segment for a 100-byte request")
}

func TestLocalPool_ReservesAndReturnsOnClose(t *testing.T) {
	global := NewPool(64, 8)
	lp, err := NewLocalPool(global, 4)
	require.NoError(t, err)

	assert.Equal(t, 4, global.FreeCount())
	assert.Equal(t, 4, global.HandsOut())

	buf, err := lp.LocalGetBufferNoBlocking()
	require.NoError(t, err)
	assert.Equal(t, 3, lp.FreeCount())

	buf.Release()
	assert.Equal(t, 4, lp.FreeCount())

	lp.Close()
	assert.Equal(t, 8, global.FreeCount())
	assert.Equal(t, 0, global.HandsOut())
}

func TestLocalPool_TriesLocalBeforeGlobal(t *testing.T) {
	global := NewPool(64, 4)
	lp, err := NewLocalPool(global, 2)
	require.NoError(t, err)
	defer lp.Close()

	assert.Equal(t, 2, global.FreeCount())

	_, err = lp.LocalGetBufferNoBlocking()
	require.NoError(t, err)
	_, err = lp.LocalGetBufferNoBlocking()
	require.NoError(t, err)

	_, err = lp.LocalGetBufferNoBlocking()
	assert.ErrorIs(t, err, errs.ErrBufferAllocationFailed)
	assert.Equal(t, 2, global.FreeCount(), "local exhaustion must not fall through to the global pool by itself")
}
