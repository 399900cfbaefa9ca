package frame

import "testing"

func TestNewVoiceFields(t *testing.T) {
	f := NewVoice(0, []byte{1, 2, 3}, 160)
	if f.Type != Voice {
		t.Errorf("Type = %v, want Voice", f.Type)
	}
	if f.Samples != 160 {
		t.Errorf("Samples = %d, want 160", f.Samples)
	}
	if f.Ownership != Owned {
		t.Errorf("Ownership = %v, want Owned", f.Ownership)
	}
}

func TestCloneIsIndependentCopy(t *testing.T) {
	orig := NewVoice(0, []byte{1, 2, 3}, 160)
	orig.Ownership = Borrowed

	clone := orig.Clone()
	clone.Data[0] = 99

	if orig.Data[0] == 99 {
		t.Error("mutating clone.Data affected the original")
	}
	if clone.Ownership != Owned {
		t.Errorf("Clone().Ownership = %v, want Owned", clone.Ownership)
	}
}

func TestTypeString(t *testing.T) {
	tests := map[Type]string{
		Voice:   "VOICE",
		DTMF:    "DTMF",
		Control: "CONTROL",
		Image:   "IMAGE",
		Null:    "NULL",
		Hangup:  "HANGUP",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
