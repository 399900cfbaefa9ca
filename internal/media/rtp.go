package media

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"

	"github.com/sebac/pbxcore/internal/frame"
)

// Session is a bidirectional RTP session that turns a channel's Read
// and Write calls into RTP packets on the wire. It is the concrete
// tail of the channel_tech vtable's `read`/`write` path for the SIP
// tech.
type Session struct {
	conn   net.PacketConn
	remote net.Addr
	codec  Codec

	mu        sync.Mutex
	ssrc      uint32
	seq       uint16
	timestamp uint32
	seqTrack  *SequenceTracker
	closed    bool
}

// NewSession creates an RTP session that sends to remote over conn
// using codec as the default voice payload type.
func NewSession(conn net.PacketConn, remote net.Addr, codec Codec) *Session {
	return &Session{
		conn:      conn,
		remote:    remote,
		codec:     codec,
		ssrc:      GenerateSSRC(),
		seq:       GenerateSequenceStart(),
		timestamp: GenerateTimestampStart(),
		seqTrack:  NewSequenceTracker(),
	}
}

// LocalAddr returns the local RTP socket address.
func (s *Session) LocalAddr() string { return s.conn.LocalAddr().String() }

// RemoteAddr returns the configured remote RTP address.
func (s *Session) RemoteAddr() string { return s.remote.String() }

// WriteFrame encodes f (a Voice or DTMF frame) as one RTP packet and
// sends it to the remote endpoint, advancing sequence and timestamp.
func (s *Session) WriteFrame(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}

	pt := s.codec.PayloadType
	var payload []byte
	switch f.Type {
	case frame.Voice:
		payload = f.Data
	case frame.DTMF:
		pt = TelephoneEvent.PayloadType
		payload = DTMFEvent{
			Event:      uint8(f.Subclass),
			EndOfEvent: true,
			Volume:     DefaultDTMFVolume,
			Duration:   uint16(f.Samples),
		}.Encode()
	default:
		return fmt.Errorf("media: frame type %s has no RTP encoding", f.Type)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteTo(data, s.remote); err != nil {
		return err
	}
	s.seq++
	s.timestamp += s.codec.TimestampIncrement()
	return nil
}

// ReadFrame blocks for the next RTP packet on conn and decodes it into
// a Frame, tracking sequence loss along the way.
func (s *Session) ReadFrame(buf []byte) (*frame.Frame, error) {
	n, _, err := s.conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		return nil, err
	}
	s.seqTrack.Update(pkt.SequenceNumber)

	if pkt.PayloadType == TelephoneEvent.PayloadType {
		ev, err := DecodeDTMFEvent(pkt.Payload)
		if err != nil {
			return nil, err
		}
		return frame.NewDTMF(ev.Event, int(ev.Duration)), nil
	}
	codec, ok := ByPayloadType(pkt.PayloadType)
	if !ok {
		codec = s.codec
	}
	return frame.NewVoice(int(pkt.PayloadType), pkt.Payload, codec.SamplesPerFrame()), nil
}

// Stats reports received/lost packet counters for the session.
func (s *Session) Stats() (received, lost uint64) {
	return s.seqTrack.Stats()
}

// Close marks the session closed; further writes fail with
// net.ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
