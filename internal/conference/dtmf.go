package conference

import "github.com/sebac/pbxcore/internal/channel"

// DTMFResult reports what HandleDTMF did with a digit, so the caller
// (the dialplan application driving the member's channel) knows
// whether to also emit a manager-style notification.
type DTMFResult int

const (
	// DTMFConsumed means the digit toggled a member/room option and
	// should not be forwarded anywhere else.
	DTMFConsumed DTMFResult = iota
	// DTMFEmit means the digit should additionally be surfaced as an
	// event (DTMFOptions.EmitEvents enables this).
	DTMFEmit
)

// DTMFOptions.EmitEvents controls whether HandleDTMF additionally reports
// DTMFEmit for digits that were still otherwise consumed by the menu.
// Per spec, DTMF inside a conference is consumed by default.
type DTMFOptions struct {
	EmitEvents bool
}

// memberDTMFState tracks the in-progress admin/PIN-entry buffer for
// one member, split out of Member to keep the hot mixing path's
// struct small; HandleDTMF looks this up by member on demand.
type memberDTMFState struct {
	adminMode bool
	pinEntry  bool
	buffer    []rune
}

// conferenceDTMF holds per-member DTMF menu state, keyed by member
// pointer; HandleDTMF accesses it only while holding Conference.dtmfMu.
type conferenceDTMF struct {
	states map[*Member]*memberDTMFState
}

func newConferenceDTMF() *conferenceDTMF {
	return &conferenceDTMF{states: make(map[*Member]*memberDTMFState)}
}

func (d *conferenceDTMF) stateFor(m *Member) *memberDTMFState {
	s, ok := d.states[m]
	if !ok {
		s = &memberDTMFState{}
		d.states[m] = s
	}
	return s
}

// HandleDTMF processes one digit from m within the conference's
// in-call menu: '*' enters admin mode for a master, '#' either hangs
// up (normal mode) or submits the admin/PIN buffer, '1'/'3' step
// volume, '2'/'5' toggle talk-mute, '4' toggles VAD, '9' begins PIN
// entry, '0' announces the member count. Returns DTMFEmit when opts
// additionally wants the digit surfaced as an event even though it was
// consumed by the menu.
func (c *Conference) HandleDTMF(m *Member, digit rune, opts DTMFOptions) DTMFResult {
	c.dtmfMu.Lock()
	defer c.dtmfMu.Unlock()
	if c.dtmf == nil {
		c.dtmf = newConferenceDTMF()
	}
	st := c.dtmf.stateFor(m)

	switch {
	case st.adminMode:
		c.handleAdminDigit(m, st, digit)
	case st.pinEntry:
		c.handlePINDigit(m, st, digit)
	default:
		c.handleNormalDigit(m, st, digit)
	}

	if opts.EmitEvents {
		return DTMFEmit
	}
	return DTMFConsumed
}

func (c *Conference) handleNormalDigit(m *Member, st *memberDTMFState, digit rune) {
	switch digit {
	case '*':
		if m.Type != MemberMaster {
			return
		}
		st.adminMode = true
		st.buffer = st.buffer[:0]
	case '#':
		m.Channel.RequestSoftHangup(channel.SoftHangupExplicit)
	case '1':
		m.adjustVolume(-1)
	case '3':
		m.adjustVolume(1)
	case '2', '5':
		m.SetMuted(!m.IsMuted())
	case '4':
		if m.VAD {
			m.VAD = false
		} else {
			m.VAD = true
		}
	case '9':
		st.pinEntry = true
		st.buffer = st.buffer[:0]
	case '0':
		// Member-count announcement is a playback action; the mixer
		// itself has no TTS/sound-file player, so it only records the
		// count for the dialplan application to announce.
		c.Enqueue(Command{Kind: CmdPlayNumber, Member: m, Payload: itoa(c.MemberCount())})
	}
}

func (c *Conference) handlePINDigit(m *Member, st *memberDTMFState, digit rune) {
	switch digit {
	case '*':
		st.pinEntry = false
	case '#':
		st.pinEntry = false
		c.mu.Lock()
		match := string(st.buffer) == c.pin
		c.mu.Unlock()
		if match {
			m.Type = MemberMaster
		}
		st.buffer = st.buffer[:0]
	default:
		st.buffer = append(st.buffer, digit)
	}
}

func (c *Conference) handleAdminDigit(m *Member, st *memberDTMFState, digit rune) {
	switch digit {
	case '*':
		st.adminMode = false
	case '#':
		st.adminMode = false
		if len(st.buffer) > 0 {
			c.parseAdminCommand(m, string(st.buffer))
		}
		st.buffer = st.buffer[:0]
	default:
		st.buffer = append(st.buffer, digit)
	}
}

// parseAdminCommand interprets a short digit sequence entered in admin
// mode as a room-wide command. The menu is deliberately small: mute
// all (11), unmute all (10), lock (21), unlock (20), kick last joined
// is out of scope here since it needs a member argument the DTMF
// buffer can't express.
func (c *Conference) parseAdminCommand(m *Member, cmd string) {
	switch cmd {
	case "11":
		c.Enqueue(Command{Kind: CmdMuteAll})
	case "10":
		c.Enqueue(Command{Kind: CmdUnmuteAll})
	case "21":
		c.Enqueue(Command{Kind: CmdSetLocked, Bool: true})
	case "20":
		c.Enqueue(Command{Kind: CmdSetLocked, Bool: false})
	}
}

func (m *Member) adjustVolume(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume += delta
	if m.volume < -5 {
		m.volume = -5
	} else if m.volume > 5 {
		m.volume = 5
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
