package watermark

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestProcessor_TwoOriginsScenario mirrors spec.md scenario 4: origin A
// reports (10,1) then (20,2); origin B reports (5,1). After both report,
// watermark == 5. After B reports (25,2), watermark == 20.
func TestProcessor_TwoOriginsScenario(t *testing.T) {
	p := New([]uint64{1, 2})

	_, ok := p.GetCurrentWatermark()
	assert.False(t, ok, "watermark must not advance until every origin reports")

	p.UpdateWatermark(10, 1, 1)
	p.UpdateWatermark(20, 2, 1)
	_, ok = p.GetCurrentWatermark()
	assert.False(t, ok, "origin 2 has not reported yet")

	p.UpdateWatermark(5, 1, 2)
	wm, ok := p.GetCurrentWatermark()
	assert.True(t, ok)
	assert.EqualValues(t, 5, wm)

	p.UpdateWatermark(25, 2, 2)
	wm, ok = p.GetCurrentWatermark()
	assert.True(t, ok)
	assert.EqualValues(t, 20, wm)
}

func TestProcessor_IdempotentOnNonIncreasingSeq(t *testing.T) {
	p := New([]uint64{1})
	p.UpdateWatermark(100, 5, 1)
	p.UpdateWatermark(50, 5, 1) // same seq, lower ts: ignored
	p.UpdateWatermark(10, 3, 1) // lower seq: ignored

	wm, ok := p.GetCurrentWatermark()
	assert.True(t, ok)
	assert.EqualValues(t, 100, wm)
}

func TestProcessor_UnknownOriginIgnored(t *testing.T) {
	p := New([]uint64{1})
	p.UpdateWatermark(100, 1, 999)
	_, ok := p.GetCurrentWatermark()
	assert.False(t, ok)
}

// TestProcessor_Monotonicity stresses concurrent updates across origins and
// checks the observed watermark never decreases across successive reads.
func TestProcessor_Monotonicity(t *testing.T) {
	origins := []uint64{1, 2, 3, 4}
	p := New(origins)

	var wg sync.WaitGroup
	for _, origin := range origins {
		origin := origin
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := uint64(1); seq <= 100; seq++ {
				p.UpdateWatermark(int64(seq), seq, origin)
			}
		}()
	}

	var lastSeen int64
	var mu sync.Mutex
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if wm, ok := p.GetCurrentWatermark(); ok {
				mu.Lock()
				assert.GreaterOrEqual(t, wm, lastSeen)
				lastSeen = wm
				mu.Unlock()
			}
		}
	}()

	wg.Wait()
	close(stop)

	wm, ok := p.GetCurrentWatermark()
	assert.True(t, ok)
	assert.EqualValues(t, 100, wm)
}
