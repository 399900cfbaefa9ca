package mediasvc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func dialBufconn(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	return conn
}

// TestServerClientRoundTrip exercises the hand-assembled grpc.ServiceDesc
// and structpb-based client methods end to end over an in-memory
// connection: a real *LocalTransport backs the server, and every RPC
// is driven through GRPCClient rather than calling Server's methods
// directly.
func TestServerClientRoundTrip(t *testing.T) {
	transport := NewLocalTransport("127.0.0.1", "127.0.0.1", 30500, 30600)
	defer transport.Close()

	gs := grpc.NewServer()
	NewServer(transport).Register(gs)

	lis := bufconn.Listen(1024 * 1024)
	go gs.Serve(lis)
	defer gs.Stop()

	conn := dialBufconn(t, lis)
	defer conn.Close()
	client := &GRPCClient{conn: conn}

	ctx := context.Background()

	healthy, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !healthy {
		t.Fatal("expected Health to report healthy")
	}

	result, err := client.CreateSession(ctx, SessionInfo{
		CallID:        "call-rt",
		RemoteAddr:    "127.0.0.1",
		RemotePort:    40100,
		OfferedCodecs: []string{"PCMU"},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if result.SessionID == "" {
		t.Fatal("expected non-empty session id from CreateSession RPC")
	}
	if result.SelectedCodec != "PCMU" {
		t.Fatalf("selected codec = %q, want PCMU", result.SelectedCodec)
	}

	if err := client.StopAudio(ctx, result.SessionID); err != nil {
		t.Fatalf("StopAudio: %v", err)
	}

	if err := client.DestroySession(ctx, result.SessionID, TerminateNormal); err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
}
