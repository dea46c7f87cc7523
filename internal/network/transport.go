package network

import "context"

// Transport abstracts how a Channel to a remote node is established,
// mirroring the teacher's Transport/Stream split so the data plane can run
// over gRPC in production and over an in-process implementation in tests
// without the sink/source operators knowing the difference.
type Transport interface {
	// Dial establishes a Channel to addr for the given partition.
	Dial(ctx context.Context, addr string, partitionID uint64) (Channel, error)
	// Close tears down the transport and every channel it opened.
	Close() error
}

// Channel is a bidirectional, framed connection to one remote partition
// endpoint.
type Channel interface {
	// SendFrame sends one frame. Blocks under backpressure; returns
	// ErrChannelBroken if the underlying connection has failed.
	SendFrame(ctx context.Context, f Frame) error
	// RecvFrame blocks for the next frame. Returns ErrChannelBroken once
	// the channel has been torn down.
	RecvFrame(ctx context.Context) (Frame, error)
	// Close closes the channel.
	Close() error
}
