package network

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/keepalive"
)

const rawCodecName = "nebulastream-raw"

// rawCodec marshals a wireFrame to/from its own byte encoding instead of
// protobuf, so the data-plane service can move framed tuple-buffer bytes
// without a .proto-generated message type.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	wf, ok := v.(*wireFrame)
	if !ok {
		return nil, fmt.Errorf("network: rawCodec cannot marshal %T", v)
	}
	return wf.encode(), nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	wf, ok := v.(*wireFrame)
	if !ok {
		return fmt.Errorf("network: rawCodec cannot unmarshal into %T", v)
	}
	return wf.decode(data)
}

func (rawCodec) Name() string { return rawCodecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// wireFrame is the on-wire encoding of a Frame: the tuple payload travels
// as raw bytes, header fields as a fixed preamble. Buffer acquisition on
// the receive side is left to the caller (RecvFrame returns the raw
// payload in Frame.Payload, not a pooled buffer) since the codec has no pool reference.
type wireFrame struct {
	kind        FrameKind
	partitionID uint64
	sequenceNo  uint64
	termination TerminationType
	numTuples   uint64
	tupleSize   uint64
	eventType   EventType
	originID    uint64
	epochID     uint64
	payload     []byte
}

const wireFrameHeaderSize = 4 + 8 + 8 + 4 + 8 + 8 + 4 + 8 + 8

func (wf *wireFrame) encode() []byte {
	buf := make([]byte, wireFrameHeaderSize+len(wf.payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(wf.kind))
	binary.LittleEndian.PutUint64(buf[4:12], wf.partitionID)
	binary.LittleEndian.PutUint64(buf[12:20], wf.sequenceNo)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(wf.termination))
	binary.LittleEndian.PutUint64(buf[24:32], wf.numTuples)
	binary.LittleEndian.PutUint64(buf[32:40], wf.tupleSize)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(wf.eventType))
	binary.LittleEndian.PutUint64(buf[44:52], wf.originID)
	binary.LittleEndian.PutUint64(buf[52:60], wf.epochID)
	copy(buf[60:], wf.payload)
	return buf
}

func (wf *wireFrame) decode(data []byte) error {
	if len(data) < wireFrameHeaderSize {
		return fmt.Errorf("network: short wire frame: %d bytes", len(data))
	}
	wf.kind = FrameKind(binary.LittleEndian.Uint32(data[0:4]))
	wf.partitionID = binary.LittleEndian.Uint64(data[4:12])
	wf.sequenceNo = binary.LittleEndian.Uint64(data[12:20])
	wf.termination = TerminationType(binary.LittleEndian.Uint32(data[20:24]))
	wf.numTuples = binary.LittleEndian.Uint64(data[24:32])
	wf.tupleSize = binary.LittleEndian.Uint64(data[32:40])
	wf.eventType = EventType(binary.LittleEndian.Uint32(data[40:44]))
	wf.originID = binary.LittleEndian.Uint64(data[44:52])
	wf.epochID = binary.LittleEndian.Uint64(data[52:60])
	wf.payload = append([]byte(nil), data[60:]...)
	return nil
}

var dataStreamDesc = grpc.StreamDesc{
	StreamName:    "DataStream",
	ServerStreams: true,
	ClientStreams: true,
}

const dataStreamMethod = "/nebulastream.network.DataPlane/Stream"

// GRPCTransport dials remote nodes over gRPC, matching the teacher's
// keepalive-tuned dial options. Each partition gets its own bidi stream.
type GRPCTransport struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCTransport creates an empty transport; connections are opened
// lazily per target address on first Dial.
func NewGRPCTransport() *GRPCTransport {
	return &GRPCTransport{conns: make(map[string]*grpc.ClientConn)}
}

func (t *GRPCTransport) connFor(addr string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("network: dial %s: %w", addr, err)
	}
	t.conns[addr] = conn
	return conn, nil
}

// Dial opens a new bidi stream to addr for partitionID.
func (t *GRPCTransport) Dial(ctx context.Context, addr string, partitionID uint64) (Channel, error) {
	conn, err := t.connFor(addr)
	if err != nil {
		return nil, err
	}
	stream, err := conn.NewStream(ctx, &dataStreamDesc, dataStreamMethod)
	if err != nil {
		return nil, fmt.Errorf("network: open stream to %s: %w", addr, err)
	}
	return &grpcChannel{stream: stream, partitionID: partitionID}, nil
}

// Close tears down every connection this transport opened.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for addr, c := range t.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.conns, addr)
	}
	return firstErr
}

type grpcChannel struct {
	stream      grpc.ClientStream
	partitionID uint64
}

func (c *grpcChannel) SendFrame(_ context.Context, f Frame) error {
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

func (c *grpcChannel) RecvFrame(_ context.Context) (Frame, error) {
	wf := &wireFrame{}
	if err := c.stream.RecvMsg(wf); err != nil {
		if err == io.EOF {
			return Frame{}, ErrChannelBroken
		}
		return Frame{}, fmt.Errorf("network: recv: %w", ErrChannelBroken)
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

func (c *grpcChannel) Close() error {
	return c.stream.CloseSend()
}
