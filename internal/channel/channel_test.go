package channel

import (
	"context"
	"testing"
	"time"

	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
)

type fakeTech struct {
	typ    string
	reads  chan *frame.Frame
	writes []*frame.Frame
}

func newFakeTech(typ string) *fakeTech {
	return &fakeTech{typ: typ, reads: make(chan *frame.Frame, 8)}
}

func (f *fakeTech) Type() string                  { return f.typ }
func (f *fakeTech) Capabilities() []media.Codec    { return []media.Codec{media.PCMU} }
func (f *fakeTech) Call(ctx context.Context, ch *Channel, dest string, timeout time.Duration) error {
	return nil
}
func (f *fakeTech) Answer(ctx context.Context, ch *Channel) error { return nil }
func (f *fakeTech) Hangup(ctx context.Context, ch *Channel, cause int) error {
	close(f.reads)
	return nil
}
func (f *fakeTech) Read(ctx context.Context, ch *Channel) (*frame.Frame, error) {
	select {
	case fr, ok := <-f.reads:
		if !ok {
			return frame.NewHangup(0), nil
		}
		return fr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (f *fakeTech) Write(ctx context.Context, ch *Channel, fr *frame.Frame) error {
	f.writes = append(f.writes, fr)
	return nil
}
func (f *fakeTech) Indicate(ctx context.Context, ch *Channel, ind Indication) error { return nil }
func (f *fakeTech) SendDigit(ctx context.Context, ch *Channel, digit rune) error    { return nil }

func TestChannelLifecycleTransitions(t *testing.T) {
	ch := New("test/1", newFakeTech("test"), []media.Codec{media.PCMU})
	if ch.State() != StateDown {
		t.Fatalf("initial state = %s, want DOWN", ch.State())
	}
	if err := ch.Call(context.Background(), "1000", time.Second); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ch.State() != StateRinging {
		t.Fatalf("state after Call = %s, want RINGING", ch.State())
	}
	if err := ch.Answer(context.Background()); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ch.State() != StateUp {
		t.Fatalf("state after Answer = %s, want UP", ch.State())
	}
	if err := ch.Hangup(context.Background(), 16); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if ch.State() != StateHangup {
		t.Fatalf("state after Hangup = %s, want HANGUP", ch.State())
	}
	if ch.HangupCause != 16 {
		t.Errorf("HangupCause = %d, want 16", ch.HangupCause)
	}
	select {
	case <-ch.Ctx().Done():
	default:
		t.Error("expected channel context to be cancelled after Hangup")
	}
}

func TestChannelInvalidTransitionRejected(t *testing.T) {
	ch := New("test/2", newFakeTech("test"), nil)
	ch.Hangup(context.Background(), 0)
	if err := ch.Call(context.Background(), "1000", time.Second); err == nil {
		t.Error("expected error calling a channel already in HANGUP, got nil")
	}
}

func TestSoftHangupSetCheckClear(t *testing.T) {
	ch := New("test/3", newFakeTech("test"), nil)
	if ch.CheckHangup() != 0 {
		t.Fatalf("initial soft hangup = %d, want 0", ch.CheckHangup())
	}
	ch.RequestSoftHangup(SoftHangupExplicit)
	ch.RequestSoftHangup(SoftHangupAsyncGoto)
	got := ch.CheckHangup()
	if got&SoftHangupExplicit == 0 || got&SoftHangupAsyncGoto == 0 {
		t.Errorf("CheckHangup() = %b, want both EXPLICIT and ASYNCGOTO bits set", got)
	}
	ch.ClearSoftHangup(SoftHangupAsyncGoto)
	got = ch.CheckHangup()
	if got&SoftHangupAsyncGoto != 0 {
		t.Error("ASYNCGOTO bit still set after clear")
	}
	if got&SoftHangupExplicit == 0 {
		t.Error("EXPLICIT bit cleared unexpectedly")
	}
}

func TestMasqueradeAdoptSwapsIdentity(t *testing.T) {
	target := New("target/1", newFakeTech("test"), nil)
	source := New("source/1", newFakeTech("other"), []media.Codec{media.PCMA})
	source.CallerIDNum = "5551234"
	source.Exten = "100"
	source.Vars.Set("FOO", "bar")

	if err := RequestMasquerade(target, source); err != nil {
		t.Fatalf("RequestMasquerade: %v", err)
	}
	if got := target.CheckHangup(); got&SoftHangupAsyncGoto == 0 {
		t.Error("expected ASYNCGOTO bit set on target after RequestMasquerade")
	}
	src, pending := target.PendingAdopt()
	if !pending || src != source {
		t.Fatalf("PendingAdopt() = (%v, %v), want (source, true)", src, pending)
	}

	if err := target.Adopt(context.Background()); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if target.CallerIDNum != "5551234" {
		t.Errorf("target.CallerIDNum = %q, want 5551234", target.CallerIDNum)
	}
	if target.Exten != "100" {
		t.Errorf("target.Exten = %q, want 100", target.Exten)
	}
	if v, ok := target.Vars.Get("FOO"); !ok || v != "bar" {
		t.Errorf("target.Vars.Get(FOO) = (%q, %v), want (bar, true)", v, ok)
	}
	if target.Tech.Type() != "other" {
		t.Errorf("target.Tech.Type() = %q, want other", target.Tech.Type())
	}
	if source.State() != StateHangup {
		t.Errorf("source.State() = %s, want HANGUP", source.State())
	}
}

func TestRequestMasqueradeRejectsDoublePending(t *testing.T) {
	target := New("target/2", newFakeTech("test"), nil)
	source1 := New("source/2", newFakeTech("test"), nil)
	source2 := New("source/3", newFakeTech("test"), nil)

	if err := RequestMasquerade(target, source1); err != nil {
		t.Fatalf("first RequestMasquerade: %v", err)
	}
	if err := RequestMasquerade(target, source2); err == nil {
		t.Error("expected error on second pending masquerade, got nil")
	}
}

func TestGenericBridgeForwardsUntilHangup(t *testing.T) {
	techA := newFakeTech("a")
	techB := newFakeTech("b")
	a := New("a/1", techA, []media.Codec{media.PCMU})
	b := New("b/1", techB, []media.Codec{media.PCMU})

	voice := frame.NewVoice(int(media.PCMU.PayloadType), []byte{1, 2, 3}, 160)
	techA.reads <- voice
	close(techA.reads)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := Bridge(ctx, a, b, 0)
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if result.EndedBy != a {
		t.Errorf("EndedBy = %v, want a", result.EndedBy)
	}
	if len(techB.writes) != 1 {
		t.Fatalf("len(techB.writes) = %d, want 1", len(techB.writes))
	}
	if string(techB.writes[0].Data) != string(voice.Data) {
		t.Errorf("forwarded frame data mismatch")
	}
}
