package mediasvc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCConfig holds the client's dial parameters.
type GRPCConfig struct {
	Address           string
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

// DefaultGRPCConfig returns sensible defaults for a mediasvc client.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:           "localhost:9090",
		ConnectTimeout:    10 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// GRPCClient is the Transport implementation that talks to a remote
// mediasvc process, the out-of-process half of the teacher's
// LocalTransport/GRPCTransport split. It calls methods directly via
// grpc.ClientConn.Invoke/NewStream rather than generated stubs, for
// the same reason server.go hand-assembles its grpc.ServiceDesc.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// NewGRPCClient dials addr and returns a ready client.
func NewGRPCClient(cfg GRPCConfig) (*GRPCClient, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveInterval,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	conn, err := grpc.DialContext(ctx, cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("mediasvc: dial %s: %w", cfg.Address, err)
	}
	return &GRPCClient{conn: conn}, nil
}

func (c *GRPCClient) method(name string) string {
	return fmt.Sprintf("/%s/%s", serviceName, name)
}

func (c *GRPCClient) CreateSession(ctx context.Context, info SessionInfo) (*SessionResult, error) {
	codecs := make([]interface{}, 0, len(info.OfferedCodecs))
	for _, name := range info.OfferedCodecs {
		codecs = append(codecs, name)
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"call_id":        info.CallID,
		"remote_addr":    info.RemoteAddr,
		"remote_port":    float64(info.RemotePort),
		"offered_codecs": codecs,
	})
	if err != nil {
		return nil, err
	}
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, c.method("CreateSession"), req, reply); err != nil {
		return nil, err
	}
	f := reply.GetFields()
	return &SessionResult{
		SessionID:     f["session_id"].GetStringValue(),
		LocalAddr:     f["local_addr"].GetStringValue(),
		LocalPort:     int(f["local_port"].GetNumberValue()),
		SDPBody:       []byte(f["sdp_body"].GetStringValue()),
		SelectedCodec: f["selected_codec"].GetStringValue(),
	}, nil
}

func (c *GRPCClient) DestroySession(ctx context.Context, sessionID string, reason TerminateReason) error {
	req, err := structpb.NewStruct(map[string]interface{}{
		"session_id": sessionID,
		"reason":     float64(reason),
	})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, c.method("DestroySession"), req, new(structpb.Struct))
}

func (c *GRPCClient) PlayAudio(ctx context.Context, req PlayRequest) (<-chan PlayStatus, error) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"session_id": req.SessionID,
		"audio_file": req.AudioFile,
		"loop":       req.Loop,
	})
	if err != nil {
		return nil, err
	}

	desc := &grpc.StreamDesc{StreamName: "PlayAudio", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, c.method("PlayAudio"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(msg); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	statusCh := make(chan PlayStatus, 4)
	go func() {
		defer close(statusCh)
		for {
			out := new(structpb.Struct)
			if err := stream.RecvMsg(out); err != nil {
				return
			}
			f := out.GetFields()
			statusCh <- PlayStatus{
				SessionID: f["session_id"].GetStringValue(),
				State:     PlayState(int(f["state"].GetNumberValue())),
				Err:       f["error"].GetStringValue(),
			}
		}
	}()
	return statusCh, nil
}

func (c *GRPCClient) StopAudio(ctx context.Context, sessionID string) error {
	req, err := structpb.NewStruct(map[string]interface{}{"session_id": sessionID})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, c.method("StopAudio"), req, new(structpb.Struct))
}

func (c *GRPCClient) Health(ctx context.Context) (bool, error) {
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, c.method("Health"), new(structpb.Struct), reply); err != nil {
		return false, err
	}
	return reply.GetFields()["healthy"].GetBoolValue(), nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
