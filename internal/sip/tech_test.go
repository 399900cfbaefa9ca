package sip

import (
	"testing"

	"github.com/emiago/sipgo/sip"
)

func TestHasScheme(t *testing.T) {
	cases := []struct {
		name string
		uri  string
		want bool
	}{
		{"sip scheme", "sip:alice@example.com", true},
		{"sips scheme", "sips:alice@example.com", true},
		{"bare user host", "alice@example.com", false},
		{"bare number", "15551234567", false},
		{"empty string", "", false},
		{"colon with nothing before it", ":alice", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := hasScheme(c.uri); got != c.want {
				t.Errorf("hasScheme(%q) = %v, want %v", c.uri, got, c.want)
			}
		})
	}
}

func TestCauseToStatus(t *testing.T) {
	cases := []struct {
		name       string
		cause      int
		wantStatus int
		wantReason string
	}{
		{"user busy", 17, 486, "Busy Here"},
		{"no circuit", 34, 503, "Service Unavailable"},
		{"network out of order", 38, 503, "Service Unavailable"},
		{"switching equipment congestion", 42, 503, "Service Unavailable"},
		{"no answer", 19, 408, "Request Timeout"},
		{"unallocated number", 1, 404, "Not Found"},
		{"unmapped cause falls back", 99, 480, "Temporarily Unavailable"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			status, reason := causeToStatus(c.cause)
			if int(status) != c.wantStatus {
				t.Errorf("causeToStatus(%d) status = %d, want %d", c.cause, status, c.wantStatus)
			}
			if reason != c.wantReason {
				t.Errorf("causeToStatus(%d) reason = %q, want %q", c.cause, reason, c.wantReason)
			}
		})
	}
}

func TestGenerateTagIsUnique(t *testing.T) {
	a := generateTag()
	b := generateTag()
	if a == b {
		t.Fatal("generateTag produced the same tag twice in a row")
	}
	if len(a) == 0 {
		t.Fatal("generateTag returned an empty tag")
	}
}

func TestNewInboundAndOutboundTechDirectionality(t *testing.T) {
	out := newOutboundTech(&Driver{}, "call-1")
	if !out.outbound {
		t.Error("newOutboundTech should set outbound = true")
	}
	if out.callID != "call-1" {
		t.Errorf("callID = %q, want call-1", out.callID)
	}

	invite := newTestInvite(t)
	callIDHdr := sip.CallIDHeader("call-2")
	invite.AppendHeader(&callIDHdr)
	in := newInboundTech(&Driver{}, invite, nil)
	if in.outbound {
		t.Error("newInboundTech should set outbound = false")
	}
}

func TestTechCapabilitiesOffersPCMUFirst(t *testing.T) {
	tech := newOutboundTech(&Driver{}, "call-1")
	caps := tech.Capabilities()
	if len(caps) == 0 {
		t.Fatal("Capabilities returned no codecs")
	}
	if caps[0].PayloadType != 0 {
		t.Errorf("first offered codec payload type = %d, want 0 (PCMU)", caps[0].PayloadType)
	}
}

func TestIsAnsweredReflectsAnsweredField(t *testing.T) {
	tech := newOutboundTech(&Driver{}, "call-1")
	if tech.isAnswered() {
		t.Fatal("a freshly created Tech should not be answered")
	}
	tech.mu.Lock()
	tech.answered = true
	tech.mu.Unlock()
	if !tech.isAnswered() {
		t.Fatal("isAnswered should observe the answered field under lock")
	}
}

func TestOnAckIsIdempotent(t *testing.T) {
	tech := newOutboundTech(&Driver{}, "call-1")
	tech.onAck()
	select {
	case <-tech.acked:
	default:
		t.Fatal("onAck should close the acked channel")
	}
	// A second call must not panic on a double close.
	tech.onAck()
}

func TestOnByeWithNoChannelIsNoop(t *testing.T) {
	tech := newOutboundTech(&Driver{}, "call-1")
	tech.onBye()
}

func newTestInvite(t *testing.T) *sip.Request {
	t.Helper()
	var uri sip.Uri
	if err := sip.ParseUri("sip:bob@example.com", &uri); err != nil {
		t.Fatalf("ParseUri: %v", err)
	}
	req := sip.NewRequest(sip.INVITE, uri)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	return req
}

func TestAuthenticateMissingChallengeHeaderIsError(t *testing.T) {
	tech := &Tech{driver: &Driver{cfg: Config{AuthUser: "trunk", AuthPassword: "secret"}}}
	invite := newTestInvite(t)
	resp := sip.NewResponseFromRequest(invite, 401, "Unauthorized", nil)

	if _, err := tech.authenticate(resp, invite); err == nil {
		t.Fatal("expected an error when the WWW-Authenticate header is absent")
	}
}

func TestAuthenticateBuildsAuthorizationHeader(t *testing.T) {
	tech := &Tech{driver: &Driver{cfg: Config{AuthUser: "trunk", AuthPassword: "secret"}}}
	invite := newTestInvite(t)
	resp := sip.NewResponseFromRequest(invite, 401, "Unauthorized", nil)
	resp.AppendHeader(sip.NewHeader("WWW-Authenticate", `Digest realm="pbxcore", nonce="abc123", algorithm=MD5`))

	authInvite, err := tech.authenticate(resp, invite)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authInvite.GetHeader("Authorization") == nil {
		t.Fatal("authenticate did not attach an Authorization header")
	}
	if authInvite.CSeq().SeqNo != invite.CSeq().SeqNo+1 {
		t.Fatalf("authenticate should increment CSeq, got %d want %d", authInvite.CSeq().SeqNo, invite.CSeq().SeqNo+1)
	}
}

func TestAuthenticateUsesProxyAuthorizationFor407(t *testing.T) {
	tech := &Tech{driver: &Driver{cfg: Config{AuthUser: "trunk", AuthPassword: "secret"}}}
	invite := newTestInvite(t)
	resp := sip.NewResponseFromRequest(invite, 407, "Proxy Authentication Required", nil)
	resp.AppendHeader(sip.NewHeader("Proxy-Authenticate", `Digest realm="pbxcore", nonce="xyz789", algorithm=MD5`))

	authInvite, err := tech.authenticate(resp, invite)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authInvite.GetHeader("Proxy-Authorization") == nil {
		t.Fatal("authenticate should attach Proxy-Authorization for a 407 challenge")
	}
}
