package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
)

// dialDataPlane starts an in-memory gRPC server hosting mgr's data-plane
// service and returns a *grpc.ClientConn dialed against it over bufconn,
// exercising DataPlaneServiceDesc's actual wire codec instead of
// LocalTransport's in-process stand-in.
func dialDataPlane(t *testing.T, mgr *Manager) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	srv := grpc.NewServer()
	srv.RegisterService(&DataPlaneServiceDesc, NewDataPlaneServer(mgr))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDataPlaneServer_RegistersProducerOnFirstFrame(t *testing.T) {
	mgr := NewManager(NewLocalTransport())
	conn := dialDataPlane(t, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := conn.NewStream(ctx, &dataStreamDesc, dataStreamMethod)
	require.NoError(t, err)

	pool := buffer.NewPool(256, 1)
	defer pool.Shutdown()
	buf, err := pool.GetBufferBlocking()
	require.NoError(t, err)
	buf.SetNumberOfTuples(1)
	buf.SetTupleSizeBytes(4)

	clientSide := &grpcChannel{stream: stream, partitionID: 7}
	require.NoError(t, clientSide.SendFrame(ctx, Frame{Kind: FrameData, PartitionID: 7, SequenceNo: 1, Buf: buf}))

	ch, err := mgr.AwaitProducer(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, ch)
}

func TestDataPlaneServer_RoundTripsFramesBothWays(t *testing.T) {
	mgr := NewManager(NewLocalTransport())
	conn := dialDataPlane(t, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := conn.NewStream(ctx, &dataStreamDesc, dataStreamMethod)
	require.NoError(t, err)
	clientSide := &grpcChannel{stream: stream, partitionID: 3}

	pool := buffer.NewPool(256, 1)
	defer pool.Shutdown()
	buf, err := pool.GetBufferBlocking()
	require.NoError(t, err)
	buf.SetNumberOfTuples(2)
	buf.SetTupleSizeBytes(8)
	copy(buf.Bytes(), []byte("abcdefghijklmnop"))

	require.NoError(t, clientSide.SendFrame(ctx, Frame{Kind: FrameData, PartitionID: 3, SequenceNo: 1, Buf: buf}))

	serverSide, err := mgr.AwaitProducer(ctx, 3)
	require.NoError(t, err)

	received, err := serverSide.RecvFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, FrameData, received.Kind)
	require.Equal(t, uint64(2), received.NumTuples)
	require.Equal(t, uint64(8), received.TupleSize)
	require.Equal(t, []byte("abcdefghijklmnop"), received.Payload)

	require.NoError(t, serverSide.SendFrame(ctx, Frame{Kind: FrameEvent, PartitionID: 3, Event: Event{Type: EventType(1), OriginID: 9}}))
	reply, err := clientSide.RecvFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, FrameEvent, reply.Kind)
	require.Equal(t, uint64(9), reply.Event.OriginID)

	require.NoError(t, clientSide.Close())
	require.NoError(t, serverSide.Close())
}
