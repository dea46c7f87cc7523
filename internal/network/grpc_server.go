package network

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
)

const dataPlaneServiceName = "nebulastream.network.DataPlane"

// DataPlaneServiceDesc registers a worker's Manager as the server side of
// the data plane: GRPCTransport.Dial only opens the client half of a
// stream (one bidi RPC per partition), so the node a Source lives on must
// also run this service to accept incoming producer connections and hand
// them to Manager.RegisterProducer.
var DataPlaneServiceDesc = grpc.ServiceDesc{
	ServiceName: dataPlaneServiceName,
	HandlerType: (*dataPlaneServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       dataPlaneStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

type dataPlaneServer struct {
	manager *Manager
}

// NewDataPlaneServer returns a grpc.ServiceDesc handler target that feeds
// every incoming data-plane stream to manager as a producer channel.
// Register it alongside a worker's own control-plane service:
//
//	s := grpc.NewServer()
//	s.RegisterService(&network.DataPlaneServiceDesc, network.NewDataPlaneServer(mgr))
func NewDataPlaneServer(manager *Manager) *dataPlaneServer {
	return &dataPlaneServer{manager: manager}
}

func dataPlaneStreamHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*dataPlaneServer)

	first := &wireFrame{}
	if err := stream.RecvMsg(first); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("network: data plane: initial recv: %w", err)
	}

	ch := &serverChannel{stream: stream, partitionID: first.partitionID, first: first, hasFirst: true, done: make(chan struct{})}
	if err := s.manager.RegisterProducer(first.partitionID, ch); err != nil {
		return fmt.Errorf("network: data plane: registering partition %d: %w", first.partitionID, err)
	}

	// The handler's return ends the RPC, so it must outlive ch: block
	// until ch is closed (serverChannel.Close).
	<-ch.done
	return nil
}

// serverChannel wraps the server half of a data-plane stream as a
// Channel, mirroring grpcChannel on the client side. The frame read to
// learn partitionID before RegisterProducer is replayed on the first
// RecvFrame call.
type serverChannel struct {
	stream      grpc.ServerStream
	partitionID uint64

	first    *wireFrame
	hasFirst bool

	done chan struct{}
}

func (c *serverChannel) SendFrame(_ context.Context, f Frame) error {
	wf := &wireFrame{kind: f.Kind, partitionID: f.PartitionID, sequenceNo: f.SequenceNo, termination: f.Termination}
	switch f.Kind {
	case FrameData:
		if f.Buf.IsValid() {
			wf.numTuples = f.Buf.NumberOfTuples()
			wf.tupleSize = f.Buf.TupleSizeBytes()
			wf.payload = f.Buf.Bytes()[:wf.numTuples*wf.tupleSize]
		}
	case FrameEvent:
		wf.eventType = f.Event.Type
		wf.originID = f.Event.OriginID
		wf.epochID = f.Event.EpochID
		wf.payload = f.Event.Payload
	}
	if err := c.stream.SendMsg(wf); err != nil {
		return fmt.Errorf("network: send: %w", ErrChannelBroken)
	}
	return nil
}

func (c *serverChannel) RecvFrame(_ context.Context) (Frame, error) {
	wf := c.first
	if c.hasFirst {
		c.hasFirst = false
	} else {
		wf = &wireFrame{}
		if err := c.stream.RecvMsg(wf); err != nil {
			if err == io.EOF {
				return Frame{}, ErrChannelBroken
			}
			return Frame{}, fmt.Errorf("network: recv: %w", ErrChannelBroken)
		}
	}
	f := Frame{
		Kind:        wf.kind,
		PartitionID: wf.partitionID,
		SequenceNo:  wf.sequenceNo,
		Termination: wf.termination,
		Payload:     wf.payload,
		NumTuples:   wf.numTuples,
		TupleSize:   wf.tupleSize,
	}
	if wf.kind == FrameEvent {
		f.Event = Event{Type: wf.eventType, PartitionID: wf.partitionID, OriginID: wf.originID, EpochID: wf.epochID, Payload: wf.payload}
	}
	return f, nil
}

func (c *serverChannel) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}
