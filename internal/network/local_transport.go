package network

import (
	"context"
	"sync"
)

// LocalTransport is an in-process Transport used when producer and
// consumer are wired directly (same test process, or a same-node bridge
// that the decomposition phase decided not to route over the wire). It
// implements the same Channel contract as the gRPC transport so operators
// above it never need to special-case locality.
type LocalTransport struct {
	mu       sync.Mutex
	channels map[uint64]*localChannel
}

// NewLocalTransport creates an empty in-process transport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{channels: make(map[uint64]*localChannel)}
}

// Dial returns the shared in-process channel for partitionID, creating it
// on first use. addr is ignored: locality is keyed purely by partition id.
func (t *LocalTransport) Dial(_ context.Context, _ string, partitionID uint64) (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[partitionID]
	if !ok {
		ch = newLocalChannel()
		t.channels[partitionID] = ch
	}
	return ch, nil
}

// Close closes every channel this transport ever created.
func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.channels {
		_ = ch.Close()
	}
	t.channels = make(map[uint64]*localChannel)
	return nil
}

type localChannel struct {
	frames chan Frame
	done   chan struct{}
	once   sync.Once
}

func newLocalChannel() *localChannel {
	return &localChannel{frames: make(chan Frame, 64), done: make(chan struct{})}
}

func (c *localChannel) SendFrame(ctx context.Context, f Frame) error {
	select {
	case c.frames <- f:
		return nil
	case <-c.done:
		return ErrChannelBroken
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *localChannel) RecvFrame(ctx context.Context) (Frame, error) {
	// Frames queued before Close are still delivered.
	select {
	case f, ok := <-c.frames:
		if ok {
			return f, nil
		}
	default:
	}
	select {
	case f, ok := <-c.frames:
		if !ok {
			return Frame{}, ErrChannelBroken
		}
		return f, nil
	case <-c.done:
		return Frame{}, ErrChannelBroken
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *localChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
