package conference

import (
	"testing"

	"github.com/sebac/pbxcore/internal/channel"
)

func TestPushInboundWithoutVADAlwaysSpeaking(t *testing.T) {
	m := NewMember(channel.New("a", newFakeTech(), nil), MemberSpeaker)
	m.pushInbound(make([]int16, 160))
	if _, speaking, _ := m.snapshot(); !speaking {
		t.Error("without VAD, a speaker should always be considered speaking")
	}
}

func TestPushInboundListenerNeverSpeaks(t *testing.T) {
	m := NewMember(channel.New("a", newFakeTech(), nil), MemberListener)
	m.pushInbound(loudSamples(160, 8000))
	if _, speaking, _ := m.snapshot(); speaking {
		t.Error("a listener must never be marked speaking")
	}
}

func TestPushInboundMutedMemberNotSpeaking(t *testing.T) {
	m := NewMember(channel.New("a", newFakeTech(), nil), MemberSpeaker)
	m.SetMuted(true)
	m.pushInbound(loudSamples(160, 8000))
	if _, speaking, _ := m.snapshot(); speaking {
		t.Error("a muted member must not be marked speaking")
	}
}

func TestPushInboundVADThresholdGating(t *testing.T) {
	m := NewMember(channel.New("a", newFakeTech(), nil), MemberSpeaker)
	m.VAD = true
	m.SetVADThreshold(1000)

	m.pushInbound(make([]int16, 160)) // silence
	if _, speaking, _ := m.snapshot(); speaking {
		t.Error("silence below threshold should not be marked speaking")
	}

	m.pushInbound(loudSamples(160, 8000))
	if _, speaking, _ := m.snapshot(); !speaking {
		t.Error("loud audio above threshold should be marked speaking")
	}
}

func TestAdjustVolumeClampsToRange(t *testing.T) {
	m := NewMember(channel.New("a", newFakeTech(), nil), MemberSpeaker)
	for i := 0; i < 20; i++ {
		m.adjustVolume(-1)
	}
	m.mu.Lock()
	v := m.volume
	m.mu.Unlock()
	if v != -5 {
		t.Errorf("volume = %d, want clamped to -5", v)
	}
}
