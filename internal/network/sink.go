package network

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
)

// Sink is the network producer side of a pipeline bridge inserted by
// decomposition when an operator's downstream consumer lives on a
// different node. It frames each tuple buffer and forwards it over a
// Channel obtained from the Manager, then sends an EOS frame carrying the
// operator's chosen TerminationType once stopped.
type Sink struct {
	manager     *Manager
	partitionID uint64
	addr        string

	ch      Channel
	seq     atomic.Uint64
	stopped atomic.Bool
}

// NewSink creates a network sink for partitionID, targeting addr.
func NewSink(manager *Manager, partitionID uint64, addr string) *Sink {
	return &Sink{manager: manager, partitionID: partitionID, addr: addr}
}

// Setup dials (or waits for rendezvous with) the sink's consumer channel.
func (s *Sink) Setup(ctx context.Context) error {
	ch, err := s.manager.DialWithRetry(ctx, s.addr, s.partitionID)
	if err != nil {
		return fmt.Errorf("network sink: setup partition %d: %w", s.partitionID, err)
	}
	if err := s.manager.RegisterProducer(s.partitionID, ch); err != nil {
		return fmt.Errorf("network sink: register partition %d: %w", s.partitionID, err)
	}
	s.ch = ch
	return nil
}

// Send forwards buf as one data frame. The caller retains its own
// reference; Send does not release buf.
func (s *Sink) Send(ctx context.Context, buf buffer.TupleBuffer) error {
	if s.stopped.Load() {
		return ErrChannelBroken
	}
	f := Frame{
		Kind:        FrameData,
		PartitionID: s.partitionID,
		SequenceNo:  s.seq.Add(1),
		Buf:         buf,
	}
	if err := s.ch.SendFrame(ctx, f); err != nil {
		return fmt.Errorf("network sink: send partition %d: %w", s.partitionID, err)
	}
	return nil
}

// SendEvent forwards a control-channel event (start-source, epoch
// propagation, or a custom payload) on the same stream as data frames.
func (s *Sink) SendEvent(ctx context.Context, ev Event) error {
	if s.stopped.Load() {
		return ErrChannelBroken
	}
	f := Frame{Kind: FrameEvent, PartitionID: s.partitionID, SequenceNo: s.seq.Add(1), Event: ev}
	if err := s.ch.SendFrame(ctx, f); err != nil {
		return fmt.Errorf("network sink: send event partition %d: %w", s.partitionID, err)
	}
	return nil
}

// Stop sends an end-of-stream frame with the given termination type and
// closes the channel. HardStop and Failure terminations are sent
// best-effort: the send context is not waited on beyond ctx, matching the
// decision that a hard stop does not drain in-flight sends.
func (s *Sink) Stop(ctx context.Context, termination TerminationType) error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	eos := Frame{Kind: FrameEOS, PartitionID: s.partitionID, SequenceNo: s.seq.Add(1), Termination: termination}
	sendErr := s.ch.SendFrame(ctx, eos)
	closeErr := s.ch.Close()
	if sendErr != nil {
		return fmt.Errorf("network sink: eos partition %d: %w", s.partitionID, sendErr)
	}
	return closeErr
}
