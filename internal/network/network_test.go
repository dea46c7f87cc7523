package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
)

// TestBridge_EndToEnd mirrors spec.md scenario 5: a pipeline stage placed
// on node A feeds a network sink; a stage on node B consumes it via a
// network source. One data buffer crosses the bridge, followed by a
// graceful EOS.
func TestBridge_EndToEnd(t *testing.T) {
	transport := NewLocalTransport()
	mgr := NewManager(transport)
	pool := buffer.NewPool(64, 4)

	const partitionID = uint64(42)

	sink := NewSink(mgr, partitionID, "node-b:9000")
	received := make(chan buffer.TupleBuffer, 4)
	events := make(chan Event, 4)
	source := NewSource(mgr, partitionID, pool, func(b buffer.TupleBuffer) error {
		received <- b
		return nil
	}, func(ev Event) { events <- ev })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan TerminationType, 1)
	go func() {
		term, err := source.Run(ctx)
		require.NoError(t, err)
		runDone <- term
	}()

	require.NoError(t, sink.Setup(ctx))

	buf, err := pool.GetBufferNoBlocking()
	require.NoError(t, err)
	buf.SetNumberOfTuples(3)
	require.NoError(t, sink.Send(ctx, buf))

	select {
	case got := <-received:
		assert.Equal(t, uint64(3), got.NumberOfTuples())
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivered buffer")
	}

	require.NoError(t, sink.SendEvent(ctx, Event{Type: StartSourceEvent, OriginID: 7}))
	select {
	case ev := <-events:
		assert.Equal(t, StartSourceEvent, ev.Type)
		assert.EqualValues(t, 7, ev.OriginID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	require.NoError(t, sink.Stop(ctx, Graceful))

	select {
	case term := <-runDone:
		assert.Equal(t, Graceful, term)
	case <-ctx.Done():
		t.Fatal("timed out waiting for source to observe EOS")
	}
}

func TestManager_DuplicateRegistrationRejected(t *testing.T) {
	mgr := NewManager(NewLocalTransport())
	a := &localChannel{frames: make(chan Frame, 1), done: make(chan struct{})}
	b := &localChannel{frames: make(chan Frame, 1), done: make(chan struct{})}

	require.NoError(t, mgr.RegisterProducer(1, a))
	err := mgr.RegisterProducer(1, b)
	assert.ErrorIs(t, err, ErrPartitionAlreadyRegistered)
}
