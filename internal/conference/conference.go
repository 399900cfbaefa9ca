// Package conference implements the audio mixing bridge: one
// goroutine per conference room ticking every 20ms, computing each
// member's personal mix (every other speaking member, saturating
// addition) and writing it to that member's channel.
package conference

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
	"github.com/sebac/pbxcore/internal/metrics"
)

// tickInterval is the mixer's audio tick, 20ms at 8kHz (160 samples).
const tickInterval = 20 * time.Millisecond

// destroyLinger is how long an empty conference with auto-destroy
// cleared lingers before removal, OPBX_CONF_DESTROY_TIME in the
// source.
const destroyLinger = 300 * time.Second

// CommandKind enumerates the administrative actions a conference's
// command queue accepts, drained between ticks so they serialise with
// mixing rather than racing it.
type CommandKind int

const (
	CmdMuteAll CommandKind = iota
	CmdUnmuteAll
	CmdPlaySound
	CmdPlayNumber
	CmdPlayMOH
	CmdHangupMember
	CmdEnableSounds
	CmdDisableSounds
	CmdKick
	CmdSetLocked
	CmdSetAutoDestroy
)

// Command is one administrative action enqueued for the mixer.
type Command struct {
	Kind    CommandKind
	Member  *Member
	Payload string
	Bool    bool
}

// Conference is one mixing room: a fixed set of members, ticked by a
// single owning goroutine.
type Conference struct {
	Name string

	log *slog.Logger

	mu            sync.Mutex
	members       []*Member
	pin           string
	locked        bool
	autoDestroy   bool
	soundsEnabled bool

	cmdMu sync.Mutex
	cmds  []Command

	emptySince time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
	codec  media.Codec

	runCtx context.Context

	dtmfMu sync.Mutex
	dtmf   *conferenceDTMF

	onEmpty func(*Conference)
}

// New creates a conference room, not yet running its mixer goroutine.
// codec is the wire format members' outbound mixes are encoded into.
func New(name string, codec media.Codec, log *slog.Logger) *Conference {
	if log == nil {
		log = slog.Default()
	}
	return &Conference{
		Name:          name,
		log:           log,
		autoDestroy:   true,
		soundsEnabled: true,
		codec:         codec,
		stopCh:        make(chan struct{}),
	}
}

// Join adds m to the conference. If the room is locked and m is not a
// master, pin must match the room's PIN.
func (c *Conference) Join(m *Member, pin string) error {
	c.mu.Lock()
	if c.locked && m.Type != MemberMaster && pin != c.pin {
		c.mu.Unlock()
		return errWrongPIN
	}
	if m.Type == MemberMaster {
		c.autoDestroy = m.autoDestroy
	}
	c.members = append(c.members, m)
	c.emptySince = time.Time{}
	runCtx := c.runCtx
	c.mu.Unlock()

	if runCtx != nil {
		m.Start(runCtx, c.log)
	}
	return nil
}

// Leave removes m from the conference and stops its inbound read pump.
func (c *Conference) Leave(m *Member) {
	c.mu.Lock()
	for i, mm := range c.members {
		if mm == m {
			c.members = append(c.members[:i], c.members[i+1:]...)
			break
		}
	}
	empty := len(c.members) == 0
	if empty {
		c.emptySince = time.Now()
	}
	c.mu.Unlock()
	metrics.ConferenceMembersActive.Dec()
	m.Stop()
}

// MemberCount returns the current number of participants.
func (c *Conference) MemberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// SetPIN sets the room's PIN, master-only in practice (enforced by the
// dialplan application layer, not here).
func (c *Conference) SetPIN(pin string) {
	c.mu.Lock()
	c.pin = pin
	c.mu.Unlock()
}

// SetLocked toggles whether non-master joiners must present the PIN.
func (c *Conference) SetLocked(locked bool) {
	c.mu.Lock()
	c.locked = locked
	c.mu.Unlock()
}

// SetAutoDestroy toggles whether the room is removed immediately on
// going empty (true) or lingers for destroyLinger (false).
func (c *Conference) SetAutoDestroy(on bool) {
	c.mu.Lock()
	c.autoDestroy = on
	c.mu.Unlock()
}

// Enqueue submits an administrative command, drained on the next tick.
func (c *Conference) Enqueue(cmd Command) {
	c.cmdMu.Lock()
	c.cmds = append(c.cmds, cmd)
	c.cmdMu.Unlock()
}

func (c *Conference) drainCommands() []Command {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if len(c.cmds) == 0 {
		return nil
	}
	cmds := c.cmds
	c.cmds = nil
	return cmds
}

// OnEmpty registers a callback fired (from the mixer goroutine) once
// the room has been empty past its destroy policy and is about to
// stop. Used by Manager to remove the room from its registry.
func (c *Conference) OnEmpty(fn func(*Conference)) {
	c.mu.Lock()
	c.onEmpty = fn
	c.mu.Unlock()
}

// Run starts the mixer goroutine and every current member's read pump.
// It returns once Stop is called or ctx is cancelled.
func (c *Conference) Run(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	members := make([]*Member, len(c.members))
	copy(members, c.members)
	c.mu.Unlock()

	for _, m := range members {
		m.Start(ctx, c.log)
	}

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop halts the mixer goroutine and waits for it to exit.
func (c *Conference) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Conference) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.tick(ctx)
			if c.shouldDestroy() {
				c.mu.Lock()
				cb := c.onEmpty
				c.mu.Unlock()
				if cb != nil {
					cb(c)
				}
				return
			}
		}
	}
}

func (c *Conference) shouldDestroy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.members) > 0 || c.emptySince.IsZero() {
		return false
	}
	if c.autoDestroy {
		return true
	}
	return time.Since(c.emptySince) >= destroyLinger
}

func (c *Conference) tick(ctx context.Context) {
	for _, cmd := range c.drainCommands() {
		c.applyCommand(cmd)
	}

	c.mu.Lock()
	members := make([]*Member, len(c.members))
	copy(members, c.members)
	c.mu.Unlock()

	c.mixAndWrite(ctx, members)
}

func (c *Conference) mixAndWrite(ctx context.Context, members []*Member) {
	type snap struct {
		m        *Member
		samples  []int16
		speaking bool
		listen   bool
	}
	snaps := make([]snap, len(members))
	for i, m := range members {
		samples, speaking, listenMuted := m.snapshot()
		snaps[i] = snap{m, samples, speaking, listenMuted}
	}

	samplesPerFrame := c.codec.SamplesPerFrame()

	for i, s := range snaps {
		if s.listen || !s.m.Type.CanHear() {
			continue
		}
		mix := make([]int32, samplesPerFrame)
		for j, other := range snaps {
			if j == i {
				continue
			}
			if !other.speaking {
				continue
			}
			if !crossHearable(s.m.Type, other.m.Type) {
				continue
			}
			for k := 0; k < len(other.samples) && k < samplesPerFrame; k++ {
				mix[k] += int32(other.samples[k])
			}
		}
		out := saturate(mix)
		payload, err := media.EncodeFromLinear(c.codec, out)
		if err != nil {
			c.log.Warn("conference: encode outbound mix failed", "conference", c.Name, "error", err)
			continue
		}
		vf := frame.NewVoice(int(c.codec.PayloadType), payload, samplesPerFrame)
		if err := s.m.Channel.Write(ctx, vf); err != nil {
			c.log.Debug("conference: write to member failed", "conference", c.Name, "error", err)
		}
	}
}

// crossHearable enforces the CONSULTANT restriction: a consultant may
// only hear, and be heard by, masters.
func crossHearable(listener, speaker MemberType) bool {
	if listener == MemberConsultant {
		return speaker == MemberMaster
	}
	if speaker == MemberConsultant {
		return listener == MemberMaster
	}
	return true
}

// saturate sums already-accumulated int32 totals down to int16 range
// with clipping, the "saturation-limited addition" the spec calls for.
func saturate(mix []int32) []int16 {
	out := make([]int16, len(mix))
	for i, v := range mix {
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

func (c *Conference) applyCommand(cmd Command) {
	switch cmd.Kind {
	case CmdMuteAll:
		c.mu.Lock()
		for _, m := range c.members {
			m.SetMuted(true)
		}
		c.mu.Unlock()
	case CmdUnmuteAll:
		c.mu.Lock()
		for _, m := range c.members {
			m.SetMuted(false)
		}
		c.mu.Unlock()
	case CmdEnableSounds:
		c.mu.Lock()
		c.soundsEnabled = true
		c.mu.Unlock()
	case CmdDisableSounds:
		c.mu.Lock()
		c.soundsEnabled = false
		c.mu.Unlock()
	case CmdKick:
		if cmd.Member != nil {
			cmd.Member.Channel.RequestSoftHangup(channel.SoftHangupExplicit)
			c.Leave(cmd.Member)
		}
	case CmdHangupMember:
		if cmd.Member != nil {
			cmd.Member.Channel.RequestSoftHangup(channel.SoftHangupExplicit)
		}
	case CmdSetLocked:
		c.SetLocked(cmd.Bool)
	case CmdSetAutoDestroy:
		c.SetAutoDestroy(cmd.Bool)
	case CmdPlaySound, CmdPlayNumber, CmdPlayMOH:
		// Playback is driven by the dialplan application layer queuing
		// frames directly onto the target member's channel; the
		// command here only records intent for CLI/manager visibility.
		c.log.Debug("conference: playback command", "conference", c.Name, "kind", cmd.Kind, "payload", cmd.Payload)
	}
}

var errWrongPIN = confError("conference: PIN required or incorrect")

type confError string

func (e confError) Error() string { return string(e) }
