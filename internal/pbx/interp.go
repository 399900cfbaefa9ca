package pbx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/metrics"
	"github.com/sebac/pbxcore/internal/vars"
)

// gotoTarget is a queued asynchronous goto, the payload behind the
// channel's ASYNCGOTO soft-hangup bit.
type gotoTarget struct {
	Context  string
	Exten    string
	Priority int
}

// asyncGotos holds pending async-goto targets keyed by channel unique
// id. A goroutine that does not own the channel's interpreter loop
// requests a jump by calling RequestAsyncGoto; the owning interpreter
// consumes it at its next safe point, the same handoff pattern
// channel.RequestMasquerade uses for identity swaps.
var asyncGotos sync.Map

// RequestAsyncGoto queues an asynchronous jump for ch, to be applied
// by its interpreter loop at the next safe point.
func RequestAsyncGoto(ch *channel.Channel, ctxName, exten string, priority int) {
	asyncGotos.Store(ch.UniqueID, gotoTarget{Context: ctxName, Exten: exten, Priority: priority})
	ch.RequestSoftHangup(channel.SoftHangupAsyncGoto)
}

func takeAsyncGoto(ch *channel.Channel) (gotoTarget, bool) {
	v, ok := asyncGotos.LoadAndDelete(ch.UniqueID)
	if !ok {
		return gotoTarget{}, false
	}
	return v.(gotoTarget), true
}

// Position is a (context, extension, priority) triple, the
// interpreter's program counter.
type Position struct {
	Context  string
	Exten    string
	Priority int
}

// Interpreter runs pbx_run for one channel at a time. A single
// Interpreter value is shared process-wide; state specific to one
// call lives in the Position passed to Run and the channel itself.
type Interpreter struct {
	Registry *Registry
	Apps     *AppRegistry

	ResponseTimeout time.Duration
	DigitTimeout    time.Duration
	AutoFallthrough bool

	// OnPosition, if set, is called whenever the interpreter advances
	// to a new priority, letting a CDR subsystem update its
	// context/extension/priority fields without pbx importing cdr.
	OnPosition func(ch *channel.Channel, pos Position)

	// CollectDigits, if set, collects further dialed digits with the
	// given first/subsequent timeouts at the end of a matching run.
	// DISA does not call it; it collects digits with its own loop.
	CollectDigits func(ctx context.Context, ch *channel.Channel, first, subsequent time.Duration) (string, error)
}

// NewInterpreter returns an interpreter with the traditional 10s
// first-digit / 5s inter-digit timeouts and autofallthrough enabled.
func NewInterpreter(reg *Registry, apps *AppRegistry) *Interpreter {
	return &Interpreter{
		Registry:        reg,
		Apps:            apps,
		ResponseTimeout: 10 * time.Second,
		DigitTimeout:    5 * time.Second,
		AutoFallthrough: true,
	}
}

// channelResolver adapts a Channel and the interpreter's current
// Position into a vars.SyntheticSource, so ${EXTEN}, ${CONTEXT},
// ${PRIORITY} and friends resolve against whichever priority is
// currently executing rather than the channel's original dial string.
type channelResolver struct {
	ch  *channel.Channel
	pos Position
}

func (r *channelResolver) Synthetic(name string) (string, bool) {
	switch name {
	case "EXTEN":
		return r.pos.Exten, true
	case "CONTEXT":
		return r.pos.Context, true
	case "PRIORITY":
		return fmt.Sprintf("%d", r.pos.Priority), true
	case "CHANNEL":
		return r.ch.Name, true
	case "UNIQUEID":
		return r.ch.UniqueID, true
	case "HANGUPCAUSE":
		return fmt.Sprintf("%d", r.ch.HangupCause), true
	case "ACCOUNTCODE":
		return r.ch.AccountCode, true
	case "LANGUAGE":
		return r.ch.Language, true
	case "CALLERIDNUM":
		return r.ch.CallerIDNum, true
	case "CALLERID":
		return r.ch.CallerIDNam, true
	}
	return "", false
}

// Substitute resolves template against ch's variable scope at pos
// (synthetic > channel > builtin-global > global), the same chain
// vars.Resolver implements generally.
func (it *Interpreter) Substitute(ch *channel.Channel, pos Position, global *vars.Store, template string) string {
	r := &vars.Resolver{
		Synthetic: &channelResolver{ch: ch, pos: pos},
		Channel:   ch.Vars,
		Global:    global,
		Funcs:     vars.NewFuncRegistry(),
	}
	out, _ := r.Substitute(template, 1<<20)
	return out
}

// startPosition resolves the channel's requested starting point,
// falling back to "s" in the same context and then to default/s/1.
func (it *Interpreter) startPosition(ctxName, exten string, priority int, cid string, now time.Time) (Position, error) {
	if m, ext, _ := it.Registry.Find(ctxName, exten, cid, lookupExists, now); ext != nil && m.AcceptsExists() {
		if _, ok := ext.PriorityByNumber(priority); ok {
			return Position{ctxName, exten, priority}, nil
		}
	}
	if m, ext, _ := it.Registry.Find(ctxName, "s", cid, lookupExists, now); ext != nil && m.AcceptsExists() {
		return Position{ctxName, "s", 1}, nil
	}
	if m, ext, _ := it.Registry.Find("default", "s", cid, lookupExists, now); ext != nil && m.AcceptsExists() {
		return Position{"default", "s", 1}, nil
	}
	return Position{}, fmt.Errorf("pbx: no starting extension for %s,%s,%d and no default,s,1 fallback", ctxName, exten, priority)
}

// Run executes the dialplan for ch starting at (ctxName, exten,
// priority), implementing the main loop, end-of-match-run digit
// collection, and hangup cleanup described for pbx_run. A matching
// run that ends by jumping to a freshly dialed extension (end-of-run
// digit collection, or the i/t fallback) loops back into the main
// loop rather than recursing, so hangup cleanup runs exactly once.
func (it *Interpreter) Run(ctx context.Context, ch *channel.Channel, ctxName, exten string, priority int, global *vars.Store) error {
	pos, err := it.startPosition(ctxName, exten, priority, ch.CallerIDNum, time.Now())
	if err != nil {
		return err
	}

	keepalive := false

runLoop:
	for {
	mainLoop:
		for {
			_, ext, err := it.Registry.Find(pos.Context, pos.Exten, ch.CallerIDNum, lookupExists, time.Now())
			if err != nil || ext == nil {
				break mainLoop
			}
			p, ok := ext.PriorityByNumber(pos.Priority)
			if !ok {
				break mainLoop
			}

			if it.OnPosition != nil {
				it.OnPosition(ch, pos)
			}

			app, err := it.Apps.Lookup(p.App)
			if err != nil {
				return err
			}
			data := it.Substitute(ch, pos, global, p.Data)
			metrics.DialplanExecutionsTotal.WithLabelValues(p.App).Inc()
			ret, err := app.Run(ctx, ch, data)
			if err != nil {
				return fmt.Errorf("pbx: %s,%s,%d (%s): %w", pos.Context, pos.Exten, pos.Priority, p.App, err)
			}

			if ret.Result == ResultKeepalive {
				keepalive = true
				break runLoop
			}
			if ret.Result == ResultDigit {
				break mainLoop
			}

			if soft := ch.CheckHangup(); soft&channel.SoftHangupAsyncGoto != 0 {
				ch.ClearSoftHangup(channel.SoftHangupAsyncGoto)
				if target, ok := takeAsyncGoto(ch); ok {
					pos = Position{target.Context, target.Exten, target.Priority}
					continue mainLoop
				}
			}
			if soft := ch.CheckHangup(); soft&channel.SoftHangupTimeout != 0 {
				ch.ClearSoftHangup(channel.SoftHangupTimeout)
				if np, ok := it.tryBranch(pos.Context, "T", ch.CallerIDNum); ok {
					pos = np
					continue mainLoop
				}
				break runLoop
			}
			if soft := ch.CheckHangup(); soft != 0 {
				break runLoop
			}

			pos.Priority++
		}

		next, ok, err := it.endOfMatchRun(ctx, ch, pos, global)
		if err != nil {
			return err
		}
		if !ok {
			break runLoop
		}
		pos = next
	}

	if !keepalive {
		it.runHangupExtension(ctx, ch, pos.Context, global)
	}
	return nil
}

// tryBranch looks for priority 1 of a special extension (i, t, T, h)
// in ctxName, returning the Position to jump to if found.
func (it *Interpreter) tryBranch(ctxName, special, cid string) (Position, bool) {
	m, ext, _ := it.Registry.Find(ctxName, special, cid, lookupExists, time.Now())
	if ext == nil || !m.AcceptsExists() {
		return Position{}, false
	}
	if _, ok := ext.PriorityByNumber(1); !ok {
		return Position{}, false
	}
	return Position{ctxName, special, 1}, true
}

// endOfMatchRun collects further digits while matchmore is satisfied
// and reports the Position to resume at, falling back to i/t and then
// autofallthrough per the interpreter's end-of-run contract. ok is
// false when the run should end (timeout/invalid with no i/t handler
// and autofallthrough already handled, or matchmore unsatisfied).
func (it *Interpreter) endOfMatchRun(ctx context.Context, ch *channel.Channel, pos Position, global *vars.Store) (Position, bool, error) {
	if it.CollectDigits == nil {
		return Position{}, false, nil
	}
	m, _, _ := it.Registry.Find(pos.Context, pos.Exten, ch.CallerIDNum, lookupMatchMore, time.Now())
	if !m.AcceptsMatchMore() {
		return Position{}, false, nil
	}

	digits, err := it.CollectDigits(ctx, ch, it.ResponseTimeout, it.DigitTimeout)
	timedOut := err != nil && digits == ""

	if digits != "" {
		candidate := pos.Exten + digits
		if em, ext, _ := it.Registry.Find(pos.Context, candidate, ch.CallerIDNum, lookupExists, time.Now()); ext != nil && em.AcceptsExists() {
			return Position{pos.Context, candidate, 1}, true, nil
		}
		if np, ok := it.tryBranch(pos.Context, "i", ch.CallerIDNum); ok {
			return np, true, nil
		}
	}

	if timedOut {
		if np, ok := it.tryBranch(pos.Context, "t", ch.CallerIDNum); ok {
			return np, true, nil
		}
	}

	if it.AutoFallthrough {
		status, _ := ch.Vars.Get("DIALSTATUS")
		ind := channel.IndicateCongestion
		if status == "BUSY" {
			ind = channel.IndicateBusy
		}
		return Position{}, false, ch.Indicate(ctx, ind)
	}
	return Position{}, false, nil
}

// runHangupExtension jumps to "h" in ctxName and executes its
// priority chain exactly once, ignoring its digit/keepalive returns
// since the channel is already going away.
func (it *Interpreter) runHangupExtension(ctx context.Context, ch *channel.Channel, ctxName string, global *vars.Store) {
	m, ext, _ := it.Registry.Find(ctxName, "h", ch.CallerIDNum, lookupExists, time.Now())
	if ext == nil || !m.AcceptsExists() {
		return
	}
	pos := Position{ctxName, "h", 1}
	for {
		p, ok := ext.PriorityByNumber(pos.Priority)
		if !ok {
			return
		}
		app, err := it.Apps.Lookup(p.App)
		if err != nil {
			return
		}
		data := it.Substitute(ch, pos, global, p.Data)
		metrics.DialplanExecutionsTotal.WithLabelValues(p.App).Inc()
		if _, err := app.Run(ctx, ch, data); err != nil {
			return
		}
		pos.Priority++
	}
}
