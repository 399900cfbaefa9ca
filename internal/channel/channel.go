// Package channel implements the tech-agnostic Channel abstraction
// that the dialplan interpreter, applications and the generic bridger
// all operate on: request/call/answer/hangup, frame read/write with
// transparent format translation, indications, soft-hangup, and
// masquerade.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
	"github.com/sebac/pbxcore/internal/metrics"
	"github.com/sebac/pbxcore/internal/vars"
)

// State is the channel's lifecycle state, the direct analogue of a
// SIP dialog's CallState but generalised across transport techs.
type State int

const (
	StateDown State = iota
	StateReserved
	StateRinging
	StateUp
	StateHangup
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "DOWN"
	case StateReserved:
		return "RESERVED"
	case StateRinging:
		return "RINGING"
	case StateUp:
		return "UP"
	case StateHangup:
		return "HANGUP"
	default:
		return "UNKNOWN"
	}
}

var validTransitions = map[State][]State{
	StateDown:     {StateReserved, StateRinging, StateHangup},
	StateReserved: {StateRinging, StateUp, StateHangup},
	StateRinging:  {StateUp, StateHangup},
	StateUp:       {StateHangup},
	StateHangup:   {},
}

// CanTransitionTo reports whether a state change from s to next is
// allowed by the channel lifecycle.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SoftHangup is a bitmask of reasons a soft hangup was requested,
// observed by the owning goroutine at its next safe point rather than
// acted on immediately by the requester.
type SoftHangup uint32

const (
	SoftHangupDev SoftHangup = 1 << iota
	SoftHangupExplicit
	SoftHangupAppUnload
	SoftHangupShutdown
	SoftHangupTimeout
	SoftHangupAsyncGoto
)

// Indication is a condition signalled to a channel via Indicate,
// translated by the Tech into whatever its wire format uses.
type Indication int

const (
	IndicateRinging Indication = iota
	IndicateBusy
	IndicateCongestion
	IndicateHold
	IndicateUnhold
	IndicateProgress
	// IndicateDialtone signals a local system dialtone, the cue DISA
	// gives a caller before collecting its passcode or extension.
	IndicateDialtone
	// IndicateStutterDialtone is IndicateDialtone with a stutter,
	// the traditional "you have messages" variant.
	IndicateStutterDialtone
)

// Tech is the vtable a transport driver implements to back a Channel.
// Every method receives the Channel so a Tech can be stateless or
// shared across many channels.
type Tech interface {
	Type() string
	Capabilities() []media.Codec
	Call(ctx context.Context, ch *Channel, dest string, timeout time.Duration) error
	Answer(ctx context.Context, ch *Channel) error
	Hangup(ctx context.Context, ch *Channel, cause int) error
	Read(ctx context.Context, ch *Channel) (*frame.Frame, error)
	Write(ctx context.Context, ch *Channel, f *frame.Frame) error
	Indicate(ctx context.Context, ch *Channel, ind Indication) error
	SendDigit(ctx context.Context, ch *Channel, digit rune) error
}

// Channel is the core's tech-agnostic call leg: one goroutine owns it
// (the PBX interpreter thread, or a bridger goroutine), while other
// goroutines may request soft-hangup or masquerade across the
// channel-lock boundary.
type Channel struct {
	mu sync.RWMutex

	UniqueID string
	Name     string
	Tech     Tech

	state State

	soft SoftHangup

	NativeFormats []media.Codec
	WriteFormat   media.Codec
	ReadFormat    media.Codec

	Vars *vars.Store

	CallerIDNum string
	CallerIDNam string
	Exten       string
	Context     string
	Priority    int
	AccountCode string
	Language    string

	HangupCause int

	CreatedAt time.Time

	bridgePeer *Channel

	pendingAdopt *Channel
	adoptReady   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a channel owned by tech, in the DOWN state, with a
// fresh variable store and unique id.
func New(name string, tech Tech, formats []media.Codec) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	metrics.ChannelsCreatedTotal.Inc()
	metrics.ChannelsActive.Inc()
	return &Channel{
		UniqueID:      id,
		Name:          name,
		Tech:          tech,
		state:         StateDown,
		NativeFormats: formats,
		Vars:          vars.NewStore(name),
		CreatedAt:     time.Now(),
		adoptReady:    make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Ctx returns the channel's lifecycle context, cancelled when the
// channel is hung up.
func (c *Channel) Ctx() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) setState(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransitionTo(next) {
		return fmt.Errorf("channel: invalid transition %s -> %s", c.state, next)
	}
	c.state = next
	return nil
}

// Call asks the Tech to initiate outbound signalling toward dest.
func (c *Channel) Call(ctx context.Context, dest string, timeout time.Duration) error {
	if err := c.setState(StateRinging); err != nil {
		return err
	}
	return c.Tech.Call(ctx, c, dest, timeout)
}

// Answer transitions the channel to UP and tells the Tech to answer.
func (c *Channel) Answer(ctx context.Context) error {
	if err := c.setState(StateUp); err != nil {
		return err
	}
	return c.Tech.Answer(ctx, c)
}

// Hangup transitions the channel to HANGUP, records cause, tells the
// Tech to tear down signalling, and cancels the channel's context so
// any blocked Read unblocks.
func (c *Channel) Hangup(ctx context.Context, cause int) error {
	c.mu.Lock()
	already := c.state == StateHangup
	c.state = StateHangup
	c.HangupCause = cause
	c.mu.Unlock()
	if !already {
		metrics.ChannelsActive.Dec()
	}
	c.cancel()
	return c.Tech.Hangup(ctx, c, cause)
}

// RequestSoftHangup sets a soft-hangup reason bit without touching
// signalling state; the owning goroutine observes it at its next
// CheckHangup call.
func (c *Channel) RequestSoftHangup(reason SoftHangup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.soft |= reason
}

// CheckHangup reports whether any soft-hangup bit is set, the
// checkpoint applications are expected to poll between long
// operations.
func (c *Channel) CheckHangup() SoftHangup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.soft
}

// ClearSoftHangup clears specific reason bits, used once the owner
// has acted on ASYNCGOTO so the bit doesn't re-trigger downstream.
func (c *Channel) ClearSoftHangup(reason SoftHangup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.soft &^= reason
}

// Read pulls the next frame from the Tech, translating it into
// ReadFormat first if the channel has a read format set.
func (c *Channel) Read(ctx context.Context) (*frame.Frame, error) {
	f, err := c.Tech.Read(ctx, c)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	target := c.ReadFormat
	c.mu.RUnlock()
	if target == (media.Codec{}) {
		return f, nil
	}
	return media.Translate(f, target)
}

// Write sends f through the Tech, translating into WriteFormat first
// if the channel has negotiated a non-native write format.
func (c *Channel) Write(ctx context.Context, f *frame.Frame) error {
	c.mu.RLock()
	target := c.WriteFormat
	c.mu.RUnlock()
	out := f
	if target != (media.Codec{}) {
		translated, err := media.Translate(f, target)
		if err != nil {
			return err
		}
		out = translated
	}
	return c.Tech.Write(ctx, c, out)
}

// Indicate forwards a ring/busy/congestion/hold condition to the Tech.
func (c *Channel) Indicate(ctx context.Context, ind Indication) error {
	return c.Tech.Indicate(ctx, c, ind)
}

// SetBridgePeer records the other leg of a bridge for diagnostics and
// for the generic bridger's teardown path.
func (c *Channel) SetBridgePeer(peer *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bridgePeer = peer
}

// BridgePeer returns the currently bridged peer, or nil.
func (c *Channel) BridgePeer() *Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bridgePeer
}
