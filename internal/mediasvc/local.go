package mediasvc

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
)

// LocalTransport runs the RTP pump in this process: CreateSession
// opens a UDP socket from a port pool and keeps a media.Session the
// caller can reach through Session. It is the Transport cmd/mediasvc
// serves over gRPC, the in-process half of the teacher's
// LocalTransport/GRPCTransport split; internal/sip.Tech does not use
// it and opens its own media.Session.
type LocalTransport struct {
	bindAddr      string
	advertiseAddr string
	ports         *portPool

	mu       sync.Mutex
	sessions map[string]*localSession
	playing  map[string]chan struct{}
}

type localSession struct {
	conn    *net.UDPConn
	session *media.Session
	port    int
	codec   media.Codec
}

// NewLocalTransport creates a LocalTransport bound to bindAddr,
// advertising advertiseAddr in SDP, allocating ports from
// [minPort, maxPort).
func NewLocalTransport(bindAddr, advertiseAddr string, minPort, maxPort int) *LocalTransport {
	return &LocalTransport{
		bindAddr:      bindAddr,
		advertiseAddr: advertiseAddr,
		ports:         newPortPool(minPort, maxPort),
		sessions:      make(map[string]*localSession),
		playing:       make(map[string]chan struct{}),
	}
}

func (t *LocalTransport) CreateSession(ctx context.Context, info SessionInfo) (*SessionResult, error) {
	selected, ok := pickCodec(info.OfferedCodecs)
	if !ok {
		return nil, fmt.Errorf("mediasvc: no supported codec in offer %v", info.OfferedCodecs)
	}

	port, err := t.ports.allocate()
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(t.bindAddr), Port: port})
	if err != nil {
		t.ports.release(port)
		return nil, fmt.Errorf("mediasvc: listen rtp: %w", err)
	}

	remote := &net.UDPAddr{IP: net.ParseIP(info.RemoteAddr), Port: info.RemotePort}
	sess := media.NewSession(conn, remote, selected)

	sdpBody, err := media.BuildAnswer(t.advertiseAddr, port, selected, hasDTMF(info.OfferedCodecs))
	if err != nil {
		conn.Close()
		t.ports.release(port)
		return nil, fmt.Errorf("mediasvc: build answer SDP: %w", err)
	}

	sessionID := uuid.New().String()
	t.mu.Lock()
	t.sessions[sessionID] = &localSession{conn: conn, session: sess, port: port, codec: selected}
	t.mu.Unlock()

	return &SessionResult{
		SessionID:     sessionID,
		LocalAddr:     t.advertiseAddr,
		LocalPort:     port,
		SDPBody:       sdpBody,
		SelectedCodec: selected.Name,
	}, nil
}

func (t *LocalTransport) DestroySession(ctx context.Context, sessionID string, reason TerminateReason) error {
	t.mu.Lock()
	ls, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	if stop, playing := t.playing[sessionID]; playing {
		close(stop)
		delete(t.playing, sessionID)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("mediasvc: unknown session %s", sessionID)
	}
	ls.session.Close()
	ls.conn.Close()
	t.ports.release(ls.port)
	return nil
}

// PlayAudio streams audioFile's raw codec-matching samples in 20ms
// frames into the session's RTP path. The audio file is expected to
// already be encoded in the session's negotiated codec; transcoding
// from arbitrary formats belongs to the out-of-scope DSP layer.
func (t *LocalTransport) PlayAudio(ctx context.Context, req PlayRequest) (<-chan PlayStatus, error) {
	t.mu.Lock()
	ls, ok := t.sessions[req.SessionID]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mediasvc: unknown session %s", req.SessionID)
	}

	status := make(chan PlayStatus, 4)
	stop := make(chan struct{})
	t.mu.Lock()
	t.playing[req.SessionID] = stop
	t.mu.Unlock()

	go t.runPlayback(ctx, req, ls, status, stop)
	return status, nil
}

func (t *LocalTransport) runPlayback(ctx context.Context, req PlayRequest, ls *localSession, status chan<- PlayStatus, stop <-chan struct{}) {
	defer close(status)
	defer func() {
		t.mu.Lock()
		delete(t.playing, req.SessionID)
		t.mu.Unlock()
	}()

	status <- PlayStatus{SessionID: req.SessionID, State: PlayStateStarted}

	data, err := os.ReadFile(req.AudioFile)
	if err != nil {
		status <- PlayStatus{SessionID: req.SessionID, State: PlayStateError, Err: err.Error()}
		return
	}

	frameSize := ls.codec.SamplesPerFrame()
	if frameSize <= 0 {
		frameSize = 160
	}

	ticker := time.NewTicker(ls.codec.SampleDur)
	defer ticker.Stop()

	for {
		for off := 0; off < len(data); off += frameSize {
			select {
			case <-ctx.Done():
				status <- PlayStatus{SessionID: req.SessionID, State: PlayStateStopped}
				return
			case <-stop:
				status <- PlayStatus{SessionID: req.SessionID, State: PlayStateStopped}
				return
			case <-ticker.C:
			}
			end := off + frameSize
			if end > len(data) {
				end = len(data)
			}
			vf := frame.NewVoice(int(ls.codec.PayloadType), data[off:end], end-off)
			if err := ls.session.WriteFrame(vf); err != nil {
				status <- PlayStatus{SessionID: req.SessionID, State: PlayStateError, Err: err.Error()}
				return
			}
			status <- PlayStatus{SessionID: req.SessionID, State: PlayStateProgress}
		}
		if !req.Loop {
			break
		}
	}
	status <- PlayStatus{SessionID: req.SessionID, State: PlayStateCompleted}
}

func (t *LocalTransport) StopAudio(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	stop, ok := t.playing[sessionID]
	delete(t.playing, sessionID)
	t.mu.Unlock()
	if ok {
		close(stop)
	}
	return nil
}

func (t *LocalTransport) Health(ctx context.Context) (bool, error) {
	return true, nil
}

func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ls := range t.sessions {
		ls.session.Close()
		ls.conn.Close()
		delete(t.sessions, id)
	}
	return nil
}

// Session returns the underlying media.Session for a created session,
// letting code that co-resides with a LocalTransport drive frame
// read/write directly instead of through PlayAudio.
func (t *LocalTransport) Session(sessionID string) (*media.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ls, ok := t.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return ls.session, true
}

func pickCodec(offered []string) (media.Codec, bool) {
	for _, name := range offered {
		switch name {
		case media.PCMU.Name:
			return media.PCMU, true
		case media.PCMA.Name:
			return media.PCMA, true
		}
	}
	return media.Codec{}, false
}

func hasDTMF(offered []string) bool {
	for _, name := range offered {
		if name == media.TelephoneEvent.Name {
			return true
		}
	}
	return false
}
