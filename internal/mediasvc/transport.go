// Package mediasvc fronts the channel_tech media boundary (RTP
// sessions, SDP offer/answer, codec negotiation) behind a Transport
// interface that can run in-process or over gRPC in a separate
// process, mirroring the teacher's rtpmanager split.
package mediasvc

import "context"

// SessionInfo describes the parameters needed to create a media
// session for one call leg.
type SessionInfo struct {
	CallID        string
	RemoteAddr    string
	RemotePort    int
	OfferedCodecs []string
}

// SessionResult is the outcome of a successful CreateSession call.
type SessionResult struct {
	SessionID     string
	LocalAddr     string
	LocalPort     int
	SDPBody       []byte
	SelectedCodec string
}

// PlayRequest asks the transport to stream an audio file into a
// session's outbound RTP path.
type PlayRequest struct {
	SessionID string
	AudioFile string
	Loop      bool
}

// PlayState is the lifecycle of one PlayAudio invocation.
type PlayState int

const (
	PlayStateStarted PlayState = iota
	PlayStateProgress
	PlayStateCompleted
	PlayStateStopped
	PlayStateError
)

func (s PlayState) String() string {
	switch s {
	case PlayStateStarted:
		return "started"
	case PlayStateProgress:
		return "progress"
	case PlayStateCompleted:
		return "completed"
	case PlayStateStopped:
		return "stopped"
	case PlayStateError:
		return "error"
	default:
		return "unknown"
	}
}

// PlayStatus is one update in the stream returned by PlayAudio.
type PlayStatus struct {
	SessionID string
	State     PlayState
	Err       string
}

// TerminateReason records why a session was torn down, for back-ends
// that want to distinguish a clean BYE from an error.
type TerminateReason int

const (
	TerminateNormal TerminateReason = iota
	TerminateBYE
	TerminateCancel
	TerminateError
	TerminateTimeout
)

// Transport abstracts the media-session boundary (session setup,
// playback, teardown); internal/sip.Tech does not go through it and
// drives its own media.Session. LocalTransport runs the RTP pump in this process;
// GRPCClient runs it in a separate mediasvc process, exercising the
// same boundary the teacher's rtpmanager split exposes.
type Transport interface {
	CreateSession(ctx context.Context, info SessionInfo) (*SessionResult, error)
	DestroySession(ctx context.Context, sessionID string, reason TerminateReason) error
	PlayAudio(ctx context.Context, req PlayRequest) (<-chan PlayStatus, error)
	StopAudio(ctx context.Context, sessionID string) error
	Health(ctx context.Context) (bool, error)
	Close() error
}
