package loader

import (
	"context"
	"testing"
	"time"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
)

type noopTech struct{}

func (noopTech) Type() string                { return "test" }
func (noopTech) Capabilities() []media.Codec { return nil }
func (noopTech) Call(ctx context.Context, ch *channel.Channel, dest string, timeout time.Duration) error {
	return nil
}
func (noopTech) Answer(ctx context.Context, ch *channel.Channel) error            { return nil }
func (noopTech) Hangup(ctx context.Context, ch *channel.Channel, cause int) error { return nil }
func (noopTech) Read(ctx context.Context, ch *channel.Channel) (*frame.Frame, error) {
	return frame.NewNull(), nil
}
func (noopTech) Write(ctx context.Context, ch *channel.Channel, f *frame.Frame) error { return nil }
func (noopTech) Indicate(ctx context.Context, ch *channel.Channel, ind channel.Indication) error {
	return nil
}
func (noopTech) SendDigit(ctx context.Context, ch *channel.Channel, digit rune) error { return nil }

func TestLoadRegistersAndInitRuns(t *testing.T) {
	l := New()
	var inited bool
	err := l.Load("pbx_config", "pbx_config", "handle-1", ModuleInfo{
		Init: func() error { inited = true; return nil },
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !inited {
		t.Error("expected Init to run")
	}
	if _, ok := l.Lookup("pbx_config"); !ok {
		t.Error("expected module to be registered")
	}
}

func TestLoadSameHandleIsNoop(t *testing.T) {
	l := New()
	initCount := 0
	info := ModuleInfo{Init: func() error { initCount++; return nil }}
	if err := l.Load("chan_sip", "chan_sip", "handle-a", info); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := l.Load("chan_sip", "chan_sip", "handle-a", info); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if initCount != 1 {
		t.Errorf("initCount = %d, want 1 (second load with same handle is a no-op)", initCount)
	}
}

func TestLoadDifferentHandleDeregistersOld(t *testing.T) {
	l := New()
	var oldDeregistered bool
	oldInfo := ModuleInfo{Deregister: func() int { oldDeregistered = true; return 0 }}
	if err := l.Load("chan_sip", "chan_sip", "handle-a", oldInfo); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var newInited bool
	newInfo := ModuleInfo{Init: func() error { newInited = true; return nil }}
	if err := l.Load("chan_sip", "chan_sip", "handle-b", newInfo); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !oldDeregistered {
		t.Error("expected old module's deregister to run when the handle changes")
	}
	if !newInited {
		t.Error("expected new module's Init to run")
	}
}

func TestUnloadRunsDeregisterAndRemoves(t *testing.T) {
	l := New()
	l.Load("pbx_config", "pbx_config", 1, ModuleInfo{Deregister: func() int { return 0 }})

	if err := l.Unload("pbx_config", false); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, ok := l.Lookup("pbx_config"); ok {
		t.Error("expected module to be removed after unload")
	}
}

func TestUnloadRefusedWhenDeregisterNonzero(t *testing.T) {
	l := New()
	l.Load("chan_sip", "chan_sip", 1, ModuleInfo{Deregister: func() int { return 1 }})

	if err := l.Unload("chan_sip", false); err == nil {
		t.Fatal("expected error when deregister refuses to unload")
	}
	if _, ok := l.Lookup("chan_sip"); !ok {
		t.Error("expected module to remain registered after a refused unload")
	}
}

func TestUnloadWithHangupSoftHangsUpLocalUsers(t *testing.T) {
	l := New()
	l.Load("chan_sip", "chan_sip", 1, ModuleInfo{Deregister: func() int { return 0 }})
	m, _ := l.Lookup("chan_sip")

	ch := channel.New("SIP/1", noopTech{}, nil)
	m.AddLocalUser(ch)

	if err := l.Unload("chan_sip", true); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if ch.CheckHangup()&channel.SoftHangupAppUnload == 0 {
		t.Error("expected local user channel to have the app-unload soft-hangup bit set")
	}
}

func TestUnmapOnIdleReleasesWhenUseCountAlreadyZero(t *testing.T) {
	l := New()
	var released bool
	l.Load("res_rtp", "res_rtp", 1, ModuleInfo{
		Deregister: func() int { return 0 },
		Release:    func() error { released = true; return nil },
	})
	l.Unload("res_rtp", false)
	if !released {
		t.Error("expected Release to fire immediately since use count was already zero")
	}
}

func TestUnmapOnIdleWaitsForOutstandingReferences(t *testing.T) {
	l := New()
	var released bool
	l.Load("res_rtp", "res_rtp", 1, ModuleInfo{
		Deregister: func() int { return 0 },
		Release:    func() error { released = true; return nil },
	})
	m, _ := l.Lookup("res_rtp")

	m.BumpUse(1) // simulates object.New(..., owner: m) pinning the module
	if err := l.Unload("res_rtp", false); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if released {
		t.Fatal("Release must not fire while an exported object is still referenced")
	}

	m.BumpUse(-1) // the last exported object is Put
	if !released {
		t.Error("expected Release to fire once the last reference dropped")
	}
}

func TestReconfigureDispatchesCorePseudoModulesFirst(t *testing.T) {
	l := New()
	var order []string
	l.Load("manager", "res_manager", 1, ModuleInfo{Reconfigure: func() error { order = append(order, "manager"); return nil }})
	l.Load("chan_sip", "chan_sip", 1, ModuleInfo{Reconfigure: func() error { order = append(order, "chan_sip"); return nil }})
	l.Load("cdr", "res_cdr", 1, ModuleInfo{Reconfigure: func() error { order = append(order, "cdr"); return nil }})

	if err := l.Reconfigure(nil); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("order = %v, want 3 entries", order)
	}
	corePos := map[string]int{}
	for i, n := range order {
		corePos[n] = i
	}
	if corePos["chan_sip"] < corePos["manager"] || corePos["chan_sip"] < corePos["cdr"] {
		t.Errorf("expected core pseudo-modules manager/cdr to reconfigure before chan_sip, got order %v", order)
	}
}

func TestReconfigureFiltersByName(t *testing.T) {
	l := New()
	var aRan, bRan bool
	l.Load("a", "chan_a", 1, ModuleInfo{Reconfigure: func() error { aRan = true; return nil }})
	l.Load("b", "chan_b", 1, ModuleInfo{Reconfigure: func() error { bRan = true; return nil }})

	name := "a"
	if err := l.Reconfigure(&name); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if !aRan || bRan {
		t.Errorf("aRan=%v bRan=%v, want only a to reconfigure", aRan, bRan)
	}
}

func TestBootOrdersPreloadThenBasenamePriority(t *testing.T) {
	ResetCatalog()
	defer ResetCatalog()

	var order []string
	RegisterDescriptor(Descriptor{Name: "pbx_config", Basename: "pbx_config", Preload: true,
		Info: ModuleInfo{Init: func() error { order = append(order, "pbx_config"); return nil }}})
	RegisterDescriptor(Descriptor{Name: "chan_sip", Basename: "chan_sip",
		Info: ModuleInfo{Init: func() error { order = append(order, "chan_sip"); return nil }}})
	RegisterDescriptor(Descriptor{Name: "res_rtp", Basename: "res_rtp",
		Info: ModuleInfo{Init: func() error { order = append(order, "res_rtp"); return nil }}})

	l := New()
	l.Boot(BootConfig{}, nil)

	if len(order) != 3 || order[0] != "pbx_config" {
		t.Fatalf("order = %v, want pbx_config first (preload phase)", order)
	}
	resIdx, chanIdx := -1, -1
	for i, n := range order {
		if n == "res_rtp" {
			resIdx = i
		}
		if n == "chan_sip" {
			chanIdx = i
		}
	}
	if resIdx > chanIdx {
		t.Errorf("expected res_rtp to load before chan_sip in the non-preload phase, order=%v", order)
	}
}

func TestBootHonorsNoload(t *testing.T) {
	ResetCatalog()
	defer ResetCatalog()

	var loaded bool
	RegisterDescriptor(Descriptor{Name: "chan_skip", Basename: "chan_skip",
		Info: ModuleInfo{Init: func() error { loaded = true; return nil }}})

	l := New()
	l.Boot(BootConfig{Noload: map[string]bool{"chan_skip": true}}, nil)

	if loaded {
		t.Error("expected noload to prevent the module from loading")
	}
	if _, ok := l.Lookup("chan_skip"); ok {
		t.Error("expected chan_skip to not be registered")
	}
}

func TestBootLoadErrorDoesNotAbortRemainingModules(t *testing.T) {
	ResetCatalog()
	defer ResetCatalog()

	RegisterDescriptor(Descriptor{Name: "broken", Basename: "res_broken",
		Info: ModuleInfo{Init: func() error { return errLoadFailed }}})
	var secondLoaded bool
	RegisterDescriptor(Descriptor{Name: "fine", Basename: "res_fine",
		Info: ModuleInfo{Init: func() error { secondLoaded = true; return nil }}})

	l := New()
	l.Boot(BootConfig{}, nil)

	if !secondLoaded {
		t.Error("expected a later module's load to proceed despite an earlier module's load error")
	}
	if _, ok := l.Lookup("broken"); ok {
		t.Error("expected the failed module to not be registered")
	}
}

var errLoadFailed = errLoadFailedType{}

type errLoadFailedType struct{}

func (errLoadFailedType) Error() string { return "simulated load failure" }
