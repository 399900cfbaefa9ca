package pbx

import (
	"context"
	"testing"
	"time"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
	"github.com/sebac/pbxcore/internal/vars"
)

// fakeNoopTech is a minimal Tech that answers/hangs up cleanly and
// never produces frames, sufficient for interpreter tests that never
// call Read/Write.
type fakeNoopTech struct{}

func (fakeNoopTech) Type() string                { return "test" }
func (fakeNoopTech) Capabilities() []media.Codec { return nil }
func (fakeNoopTech) Call(ctx context.Context, ch *channel.Channel, dest string, timeout time.Duration) error {
	return nil
}
func (fakeNoopTech) Answer(ctx context.Context, ch *channel.Channel) error            { return nil }
func (fakeNoopTech) Hangup(ctx context.Context, ch *channel.Channel, cause int) error { return nil }
func (fakeNoopTech) Read(ctx context.Context, ch *channel.Channel) (*frame.Frame, error) {
	return frame.NewNull(), nil
}
func (fakeNoopTech) Write(ctx context.Context, ch *channel.Channel, f *frame.Frame) error { return nil }
func (fakeNoopTech) Indicate(ctx context.Context, ch *channel.Channel, ind channel.Indication) error {
	return nil
}
func (fakeNoopTech) SendDigit(ctx context.Context, ch *channel.Channel, digit rune) error { return nil }

func newRegistry() *Registry {
	reg := NewRegistry()
	ctxDefault := NewContext("default")
	extS := &Extension{Pattern: "s", Priorities: []Priority{
		{Number: 1, App: "NoOp", Data: "start"},
	}}
	ctxDefault.AddExtension(extS)
	reg.Load(map[string]*Context{"default": ctxDefault})
	return reg
}

func TestContextExtensionLookup(t *testing.T) {
	reg := NewRegistry()
	internal := NewContext("internal")
	internal.AddExtension(&Extension{Pattern: "_XXXX", Priorities: []Priority{
		{Number: 1, App: "Dial", Data: "${EXTEN}"},
	}})
	reg.Load(map[string]*Context{"internal": internal})

	m, ext, err := reg.Find("internal", "1234", "", lookupExists, time.Now())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if m != MatchExact {
		t.Errorf("match = %s, want EXACT", m)
	}
	if ext == nil || ext.Pattern != "_XXXX" {
		t.Fatalf("ext = %+v, want pattern _XXXX", ext)
	}
}

func TestContextNotFound(t *testing.T) {
	reg := NewRegistry()
	_, _, err := reg.Find("missing", "100", "", lookupExists, time.Now())
	if err == nil {
		t.Error("expected error for missing context, got nil")
	}
}

func TestIncludeResolutionWithTimeGuard(t *testing.T) {
	reg := NewRegistry()
	inner := NewContext("business-hours")
	inner.AddExtension(&Extension{Pattern: "100", Priorities: []Priority{{Number: 1, App: "NoOp", Data: ""}}})
	outer := NewContext("main")
	outer.AddInclude(Include{Context: "business-hours"})
	reg.Load(map[string]*Context{"main": outer, "business-hours": inner})

	m, ext, err := reg.Find("main", "100", "", lookupExists, time.Now())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if m != MatchExact || ext == nil {
		t.Fatalf("expected EXACT match via include, got %s / %+v", m, ext)
	}
}

func TestIncludeGuardExcludesOutsideWindow(t *testing.T) {
	reg := NewRegistry()
	inner := NewContext("never")
	inner.AddExtension(&Extension{Pattern: "100", Priorities: []Priority{{Number: 1, App: "NoOp", Data: ""}}})
	guard := &TimeGuard{} // all-false: never matches
	outer := NewContext("main")
	outer.AddInclude(Include{Context: "never", Guard: guard})
	reg.Load(map[string]*Context{"main": outer, "never": inner})

	_, ext, err := reg.Find("main", "100", "", lookupExists, time.Now())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ext != nil {
		t.Error("expected include to be excluded by an always-false time guard")
	}
}

func TestIncludeCycleDetected(t *testing.T) {
	reg := NewRegistry()
	a := NewContext("a")
	a.AddInclude(Include{Context: "b"})
	b := NewContext("b")
	b.AddInclude(Include{Context: "a"})
	reg.Load(map[string]*Context{"a": a, "b": b})

	_, _, err := reg.Find("a", "100", "", lookupExists, time.Now())
	if err != nil {
		t.Fatalf("cyclic include with no extensions should resolve to FAILURE, not error: %v", err)
	}
}

func TestCIDPatternPreferredOverPlain(t *testing.T) {
	reg := NewRegistry()
	ctx := NewContext("inbound")
	ctx.AddExtension(&Extension{Pattern: "100", Priorities: []Priority{{Number: 1, App: "NoOp", Data: "plain"}}})
	ctx.AddExtension(&Extension{Pattern: "100", CIDPattern: "_555XXXX", Priorities: []Priority{{Number: 1, App: "NoOp", Data: "vip"}}})
	reg.Load(map[string]*Context{"inbound": ctx})

	_, ext, err := reg.Find("inbound", "100", "5551234", lookupExists, time.Now())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ext == nil || ext.Priorities[0].Data != "vip" {
		t.Errorf("expected cid-matching extension to win, got %+v", ext)
	}
}

func TestRunExecutesPriorityChain(t *testing.T) {
	reg := newRegistry()
	var executed []string
	apps := NewAppRegistry()
	apps.Register(AppFunc{AppName: "NoOp", Fn: func(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error) {
		executed = append(executed, data)
		return AppReturn{Result: ResultOK}, nil
	}})

	it := NewInterpreter(reg, apps)
	ch := channel.New("test/1", fakeNoopTech{}, nil)
	global := vars.NewStore("global")

	if err := it.Run(context.Background(), ch, "default", "s", 1, global); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(executed) != 1 || executed[0] != "start" {
		t.Errorf("executed = %v, want [start]", executed)
	}
}

func TestRunMissingStartFallsBackToS(t *testing.T) {
	reg := newRegistry()
	var executed bool
	apps := NewAppRegistry()
	apps.Register(AppFunc{AppName: "NoOp", Fn: func(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error) {
		executed = true
		return AppReturn{Result: ResultOK}, nil
	}})
	it := NewInterpreter(reg, apps)
	ch := channel.New("test/2", fakeNoopTech{}, nil)
	global := vars.NewStore("global")

	if err := it.Run(context.Background(), ch, "default", "9999", 1, global); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !executed {
		t.Error("expected fallback to s,1 to execute NoOp")
	}
}

func TestRunHangupExtensionRunsOnce(t *testing.T) {
	reg := NewRegistry()
	ctxDefault := NewContext("default")
	ctxDefault.AddExtension(&Extension{Pattern: "s", Priorities: []Priority{
		{Number: 1, App: "NoOp", Data: ""},
	}})
	ctxDefault.AddExtension(&Extension{Pattern: "h", Priorities: []Priority{
		{Number: 1, App: "CountHangup", Data: ""},
	}})
	reg.Load(map[string]*Context{"default": ctxDefault})

	var hangupRuns int
	apps := NewAppRegistry()
	apps.Register(AppFunc{AppName: "NoOp", Fn: func(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error) {
		return AppReturn{Result: ResultOK}, nil
	}})
	apps.Register(AppFunc{AppName: "CountHangup", Fn: func(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error) {
		hangupRuns++
		return AppReturn{Result: ResultOK}, nil
	}})

	it := NewInterpreter(reg, apps)
	ch := channel.New("test/3", fakeNoopTech{}, nil)
	global := vars.NewStore("global")

	if err := it.Run(context.Background(), ch, "default", "s", 1, global); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hangupRuns != 1 {
		t.Errorf("hangupRuns = %d, want 1", hangupRuns)
	}
}

func TestAsyncGotoAppliedAtSafePoint(t *testing.T) {
	reg := NewRegistry()
	ctxDefault := NewContext("default")
	ctxDefault.AddExtension(&Extension{Pattern: "s", Priorities: []Priority{
		{Number: 1, App: "Goto", Data: ""},
		{Number: 2, App: "Unreached", Data: ""},
	}})
	ctxDefault.AddExtension(&Extension{Pattern: "200", Priorities: []Priority{
		{Number: 1, App: "Landed", Data: ""},
	}})
	reg.Load(map[string]*Context{"default": ctxDefault})

	var landed, unreached bool
	apps := NewAppRegistry()
	apps.Register(AppFunc{AppName: "Goto", Fn: func(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error) {
		RequestAsyncGoto(ch, "default", "200", 1)
		return AppReturn{Result: ResultOK}, nil
	}})
	apps.Register(AppFunc{AppName: "Unreached", Fn: func(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error) {
		unreached = true
		return AppReturn{Result: ResultOK}, nil
	}})
	apps.Register(AppFunc{AppName: "Landed", Fn: func(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error) {
		landed = true
		return AppReturn{Result: ResultOK}, nil
	}})

	it := NewInterpreter(reg, apps)
	ch := channel.New("test/4", fakeNoopTech{}, nil)
	global := vars.NewStore("global")

	if err := it.Run(context.Background(), ch, "default", "s", 1, global); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if unreached {
		t.Error("priority after the async goto should not have executed")
	}
	if !landed {
		t.Error("expected the async goto target to execute")
	}
}

func TestHintAggregateStateChangesNotifyWatchers(t *testing.T) {
	table := NewHintTable()
	table.Register("default", "100", "SIP/alice&SIP/alice-mobile")

	var seen []DeviceState
	table.Watch("default", "100", func(context, exten string, state DeviceState) {
		seen = append(seen, state)
	})

	table.SetDeviceState("SIP/alice", DeviceRinging)
	table.SetDeviceState("SIP/alice", DeviceRinging) // no change, should not notify again
	table.SetDeviceState("SIP/alice-mobile", DeviceInUse)

	if len(seen) != 2 {
		t.Fatalf("seen = %v, want 2 notifications", seen)
	}
	if seen[0] != DeviceRinging {
		t.Errorf("seen[0] = %s, want RINGING", seen[0])
	}
	if seen[1] != DeviceRingingInUse {
		t.Errorf("seen[1] = %s, want RINGING+INUSE", seen[1])
	}
}
