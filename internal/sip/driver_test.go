package sip

import "testing"

func TestDriverRegisterForgetLookupCall(t *testing.T) {
	d := &Driver{calls: make(map[string]*Tech)}
	tech := newOutboundTech(d, "call-1")

	if _, ok := d.lookupCall("call-1"); ok {
		t.Fatal("lookupCall should fail before registration")
	}

	d.registerCall("call-1", tech)
	got, ok := d.lookupCall("call-1")
	if !ok {
		t.Fatal("lookupCall should succeed after registerCall")
	}
	if got != tech {
		t.Fatal("lookupCall returned a different Tech than was registered")
	}

	d.forgetCall("call-1")
	if _, ok := d.lookupCall("call-1"); ok {
		t.Fatal("lookupCall should fail after forgetCall")
	}
}

func TestDriverNewOutboundChannelAssignsSipTech(t *testing.T) {
	d := &Driver{calls: make(map[string]*Tech), ports: newPortPool(20000, 20010)}
	ch := d.NewOutboundChannel("alice")
	if ch == nil {
		t.Fatal("NewOutboundChannel returned nil")
	}
	if ch.Name != "alice" {
		t.Errorf("channel name = %q, want alice", ch.Name)
	}
	if ch.Tech == nil || ch.Tech.Type() != "sip" {
		t.Errorf("channel Tech = %v, want a sip Tech", ch.Tech)
	}
}

func TestDefaultConfigHasUsablePortRange(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RTPMinPort >= cfg.RTPMaxPort {
		t.Fatalf("RTPMinPort (%d) should be less than RTPMaxPort (%d)", cfg.RTPMinPort, cfg.RTPMaxPort)
	}
	if cfg.Port <= 0 {
		t.Fatal("DefaultConfig should set a positive SIP port")
	}
	if cfg.DialTimeout <= 0 {
		t.Fatal("DefaultConfig should set a positive dial timeout")
	}
}
