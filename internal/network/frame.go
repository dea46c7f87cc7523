package network

import "github.com/nebulastream/nebulastream-sub040/internal/buffer"

// TerminationType classifies why a data channel is ending, carried in the
// end-of-stream frame so the consumer knows whether to drain queued tasks
// or discard them.
type TerminationType int

const (
	// Graceful: the producer has emitted every buffer it ever will; the
	// consumer should finish processing anything already queued.
	Graceful TerminationType = iota
	// HardStop: the query is being torn down immediately; the consumer
	// must drop unprocessed tasks rather than draining them.
	HardStop
	// Failure: the channel is ending because of an upstream error; treated
	// like HardStop for queue draining but reported distinctly upstream.
	Failure
)

func (t TerminationType) String() string {
	switch t {
	case Graceful:
		return "Graceful"
	case HardStop:
		return "HardStop"
	case Failure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// FrameKind distinguishes a data frame from an end-of-stream marker on the
// wire.
type FrameKind int

const (
	FrameData FrameKind = iota
	FrameEOS
	// FrameEvent carries a control-channel Event multiplexed onto the same
	// stream as data frames, rather than a second WebSocket connection
	// (see DESIGN.md's dropped-dependency note on gorilla/websocket).
	FrameEvent
)

// Frame is one unit sent over a data-plane channel: a tuple buffer
// payload, an end-of-stream marker with its termination type, or a
// control Event. Buf is populated on the send side (pooled, owned by the
// sender until sent); Payload carries the raw bytes on the receive side,
// before the source operator has copied them into a freshly-acquired
// local buffer.
type Frame struct {
	Kind        FrameKind
	PartitionID uint64
	SequenceNo  uint64
	Buf         buffer.TupleBuffer
	Payload     []byte
	NumTuples   uint64
	TupleSize   uint64
	Termination TerminationType
	Event       Event
}
