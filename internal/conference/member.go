package conference

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
)

// MemberType controls a member's talk/listen privileges within a
// conference, the direct analogue of nconference's MEMBERTYPE_* set.
type MemberType int

const (
	// MemberMaster has full privileges and may run admin commands.
	MemberMaster MemberType = iota
	// MemberSpeaker may talk and listen.
	MemberSpeaker
	// MemberListener may not talk.
	MemberListener
	// MemberTalker may talk but receives no audio.
	MemberTalker
	// MemberConsultant may hear and be heard only by masters.
	MemberConsultant
)

func (t MemberType) String() string {
	switch t {
	case MemberMaster:
		return "MASTER"
	case MemberSpeaker:
		return "SPEAKER"
	case MemberListener:
		return "LISTENER"
	case MemberTalker:
		return "TALKER"
	case MemberConsultant:
		return "CONSULTANT"
	default:
		return "UNKNOWN"
	}
}

// CanTalk reports whether a member of this type is ever eligible to
// contribute audio to other members' mixes.
func (t MemberType) CanTalk() bool {
	return t != MemberListener
}

// CanHear reports whether a member of this type ever receives a mix.
func (t MemberType) CanHear() bool {
	return t != MemberTalker
}

// vadSkipFramesAfterVoice mirrors the source's
// OPBX_CONF_SKIP_MS_AFTER_VOICE_DETECTION (210ms) silence-overhang
// constant, expressed in 20ms frame counts, so a member doesn't flicker
// silent between syllables.
const vadSkipFramesAfterVoice = 210 / 20

// Member is one channel's participation in a Conference. Its inbound
// path keeps the latest decoded linear PCM frame in in; its outbound
// path receives the personal mix computed each tick.
type Member struct {
	Channel *channel.Channel
	Type    MemberType

	// VAD enables speech-detection gating of IsSpeaking; when false,
	// IsSpeaking is true unless Muted.
	VAD          bool
	vadThreshold int32
	skipFrames   int
	talkMute     bool
	listenMute   bool
	autoDestroy  bool

	mu         sync.Mutex
	isSpeaking bool
	in         []int16 // most recent decoded inbound frame, one tick's worth
	volume     int

	stop chan struct{}
	done chan struct{}
}

// NewMember creates a conference participant bound to ch.
func NewMember(ch *channel.Channel, typ MemberType) *Member {
	return &Member{
		Channel:     ch,
		Type:        typ,
		autoDestroy: true,
		volume:      100,
	}
}

// SetMuted sets whether this member's inbound audio contributes to
// other members' mixes.
func (m *Member) SetMuted(muted bool) {
	m.mu.Lock()
	m.talkMute = muted
	if muted {
		m.isSpeaking = false
	}
	m.mu.Unlock()
}

// IsMuted reports the current talk-mute state.
func (m *Member) IsMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.talkMute
}

// SetListenMuted sets whether this member receives a mix at all.
func (m *Member) SetListenMuted(muted bool) {
	m.mu.Lock()
	m.listenMute = muted
	m.mu.Unlock()
}

// pushInbound stores the latest decoded frame and updates IsSpeaking,
// applying VAD gating with silence overhang when enabled. Called for
// every inbound voice frame by this member's read pump (see Start).
func (m *Member) pushInbound(samples []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.in = samples

	if m.Type == MemberListener || m.talkMute || !m.Type.CanTalk() {
		m.isSpeaking = false
		return
	}

	if !m.VAD {
		m.isSpeaking = true
		return
	}

	if energy(samples) >= m.vadThreshold {
		m.isSpeaking = true
		m.skipFrames = vadSkipFramesAfterVoice
		return
	}
	if m.skipFrames > 0 {
		m.skipFrames--
		m.isSpeaking = true
		return
	}
	m.isSpeaking = false
}

// snapshot returns the data the mixer needs for one tick without
// holding the lock across the whole mix computation.
func (m *Member) snapshot() (samples []int16, speaking bool, listenMuted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.in, m.isSpeaking, m.listenMute
}

// energy is a crude mean-absolute-sample VAD metric: cheap, no FFT,
// good enough to gate a threshold the same way the source's DSP-based
// probability gate does.
func energy(samples []int16) int32 {
	var sum int32
	for _, s := range samples {
		if s < 0 {
			sum -= int32(s)
		} else {
			sum += int32(s)
		}
	}
	if len(samples) == 0 {
		return 0
	}
	return sum / int32(len(samples))
}

// SetVADThreshold sets the VAD energy threshold above which a member
// is considered speaking.
func (m *Member) SetVADThreshold(threshold int32) {
	m.mu.Lock()
	m.vadThreshold = threshold
	m.mu.Unlock()
}

// Start launches the inbound read pump: the "input smoother" that
// continuously reads frames off the member's channel and decodes them
// into the member's current-tick sample buffer, decoupled from the
// mixer's own tick so a slow or jittery channel never stalls mixing
// for everyone else.
func (m *Member) Start(ctx context.Context, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			default:
			}
			f, err := m.Channel.Read(ctx)
			if err != nil {
				return
			}
			if f == nil || f.Type != frame.Voice {
				continue
			}
			samples, err := media.DecodeToLinear(uint8(f.Subclass), f.Data)
			if err != nil {
				log.Warn("conference: decode inbound frame failed", "channel", m.Channel.State(), "error", err)
				continue
			}
			m.pushInbound(samples)
		}
	}()
}

// Stop halts the read pump and waits for it to exit.
func (m *Member) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
}
