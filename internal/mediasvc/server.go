package mediasvc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// serviceName is the gRPC service's fully-qualified name. There is no
// protoc toolchain in this environment to generate the usual *.pb.go
// stubs, so the wire messages are google.golang.org/protobuf's own
// generated structpb.Struct (a real, already-vendored proto.Message)
// carrying dynamic fields, and the grpc.ServiceDesc/method handlers
// below are assembled by hand the same shape protoc-gen-go-grpc would
// produce. This keeps gRPC and protobuf genuinely wired end-to-end
// without fabricating hand-faked generated code.
const serviceName = "pbxcore.media.v1.MediaService"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: _CreateSession_Handler},
		{MethodName: "DestroySession", Handler: _DestroySession_Handler},
		{MethodName: "StopAudio", Handler: _StopAudio_Handler},
		{MethodName: "Health", Handler: _Health_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "PlayAudio", Handler: _PlayAudio_Handler, ServerStreams: true},
	},
}

// Server adapts a Transport (normally a *LocalTransport) onto the
// wire, the server half of the out-of-process media path whose client
// half is GRPCClient.
type Server struct {
	transport Transport
}

// NewServer wraps transport for gRPC serving.
func NewServer(transport Transport) *Server {
	return &Server{transport: transport}
}

// Register attaches the media service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

func (s *Server) createSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	info := SessionInfo{
		CallID:     f["call_id"].GetStringValue(),
		RemoteAddr: f["remote_addr"].GetStringValue(),
		RemotePort: int(f["remote_port"].GetNumberValue()),
	}
	for _, v := range f["offered_codecs"].GetListValue().GetValues() {
		info.OfferedCodecs = append(info.OfferedCodecs, v.GetStringValue())
	}

	result, err := s.transport.CreateSession(ctx, info)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"session_id":     result.SessionID,
		"local_addr":     result.LocalAddr,
		"local_port":     float64(result.LocalPort),
		"sdp_body":       string(result.SDPBody),
		"selected_codec": result.SelectedCodec,
	})
}

func (s *Server) destroySession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	reason := TerminateReason(int(f["reason"].GetNumberValue()))
	err := s.transport.DestroySession(ctx, f["session_id"].GetStringValue(), reason)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(nil)
}

func (s *Server) stopAudio(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	if err := s.transport.StopAudio(ctx, f["session_id"].GetStringValue()); err != nil {
		return nil, err
	}
	return structpb.NewStruct(nil)
}

func (s *Server) health(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	healthy, err := s.transport.Health(ctx)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{"healthy": healthy})
}

func (s *Server) playAudio(in *structpb.Struct, stream mediaPlayAudioServer) error {
	f := in.GetFields()
	req := PlayRequest{
		SessionID: f["session_id"].GetStringValue(),
		AudioFile: f["audio_file"].GetStringValue(),
		Loop:      f["loop"].GetBoolValue(),
	}
	statusCh, err := s.transport.PlayAudio(stream.Context(), req)
	if err != nil {
		return err
	}
	for st := range statusCh {
		msg, merr := structpb.NewStruct(map[string]interface{}{
			"session_id": st.SessionID,
			"state":      float64(st.State),
			"error":      st.Err,
		})
		if merr != nil {
			return merr
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

type mediaPlayAudioServer interface {
	Context() context.Context
	Send(*structpb.Struct) error
}

type playAudioServerStream struct {
	grpc.ServerStream
}

func (x *playAudioServerStream) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func _CreateSession_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.createSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/CreateSession", serviceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.createSession(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _DestroySession_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.destroySession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/DestroySession", serviceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.destroySession(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _StopAudio_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.stopAudio(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/StopAudio", serviceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.stopAudio(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Health_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/Health", serviceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.health(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _PlayAudio_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(*Server).playAudio(m, &playAudioServerStream{stream})
}
