package network

import (
	"context"
	"fmt"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
)

// Source is the network consumer side of a pipeline bridge: it receives
// framed tuple buffers from a remote Sink and hands them to the local
// task queue via emit, until an EOS frame arrives.
type Source struct {
	manager     *Manager
	partitionID uint64
	pool        *buffer.Pool
	emit        func(buffer.TupleBuffer) error
	onEvent     func(Event)
}

// NewSource creates a network source for partitionID. emit is called once
// per received data frame with a freshly-acquired local buffer (for
// remote frames) or the original pooled handle (for in-process/local
// frames that already carry Buf). onEvent, if non-nil, is called once per
// received control event; a nil onEvent silently discards events.
func NewSource(manager *Manager, partitionID uint64, pool *buffer.Pool, emit func(buffer.TupleBuffer) error, onEvent func(Event)) *Source {
	return &Source{manager: manager, partitionID: partitionID, pool: pool, emit: emit, onEvent: onEvent}
}

// Run blocks registering and then receiving frames until ctx is cancelled
// or an EOS frame arrives, returning the EOS's termination type.
func (src *Source) Run(ctx context.Context) (TerminationType, error) {
	ch, err := src.manager.AwaitProducer(ctx, src.partitionID)
	if err != nil {
		return Graceful, fmt.Errorf("network source: await producer partition %d: %w", src.partitionID, err)
	}
	if err := src.manager.RegisterConsumer(src.partitionID, ch); err != nil {
		return Graceful, fmt.Errorf("network source: register partition %d: %w", src.partitionID, err)
	}

	for {
		f, err := ch.RecvFrame(ctx)
		if err != nil {
			return Graceful, fmt.Errorf("network source: recv partition %d: %w", src.partitionID, err)
		}
		switch f.Kind {
		case FrameEOS:
			return f.Termination, nil
		case FrameData:
			if err := src.deliver(f); err != nil {
				return Graceful, err
			}
		case FrameEvent:
			if src.onEvent != nil {
				src.onEvent(f.Event)
			}
		}
	}
}

func (src *Source) deliver(f Frame) error {
	if f.Buf.IsValid() {
		return src.emit(f.Buf)
	}
	buf := src.pool.GetUnpooledBuffer(len(f.Payload))
	copy(buf.Bytes(), f.Payload)
	buf.SetNumberOfTuples(f.NumTuples)
	if f.NumTuples > 0 {
		buf.SetTupleSizeBytes(f.TupleSize)
	}
	return src.emit(buf)
}
