// Package frame implements the typed inter-channel communication unit
// (voice samples, DTMF, control events, image, null, hangup) that
// Channel.Read and Channel.Write exchange.
package frame

import "time"

// Type is the frame's basic kind.
type Type int

const (
	Voice Type = iota
	DTMF
	Control
	Image
	Null
	Hangup
)

func (t Type) String() string {
	switch t {
	case Voice:
		return "VOICE"
	case DTMF:
		return "DTMF"
	case Control:
		return "CONTROL"
	case Image:
		return "IMAGE"
	case Null:
		return "NULL"
	case Hangup:
		return "HANGUP"
	default:
		return "UNKNOWN"
	}
}

// ControlSubclass enumerates the CONTROL frame subclasses used for
// ring/busy/congestion/hold indications.
type ControlSubclass int

const (
	ControlRinging ControlSubclass = iota
	ControlBusy
	ControlCongestion
	ControlHold
	ControlUnhold
	ControlProgress
	ControlAnswer
	ControlHangup
	ControlOption
	ControlVidUpdate
)

// Ownership mirrors the source's `mallocd` hint: Borrowed (mallocd=0)
// means the data area belongs to the writer and must not be retained
// past the call; Owned (mallocd=1) means the receiver takes over the
// payload and may hold it indefinitely.
type Ownership int

const (
	Borrowed Ownership = iota
	Owned
)

// Frame is the unit exchanged by Channel.Read/Channel.Write. Subclass
// is interpreted according to Type: a codec id for Voice, a DTMF event
// code for DTMF, a ControlSubclass for Control, unused otherwise.
type Frame struct {
	Type      Type
	Subclass  int
	Data      []byte
	Samples   int
	Timestamp time.Time
	Source    string
	Ownership Ownership
}

// NewVoice builds a Voice frame carrying codec-encoded samples.
func NewVoice(codec int, data []byte, samples int) *Frame {
	return &Frame{
		Type:      Voice,
		Subclass:  codec,
		Data:      data,
		Samples:   samples,
		Timestamp: time.Now(),
		Ownership: Owned,
	}
}

// NewDTMF builds a DTMF frame for a single RFC 4733 event digit.
func NewDTMF(event uint8, durationSamples int) *Frame {
	return &Frame{
		Type:      DTMF,
		Subclass:  int(event),
		Samples:   durationSamples,
		Timestamp: time.Now(),
		Ownership: Owned,
	}
}

// NewControl builds a CONTROL frame carrying an indication.
func NewControl(sub ControlSubclass) *Frame {
	return &Frame{Type: Control, Subclass: int(sub), Timestamp: time.Now(), Ownership: Owned}
}

// NewNull builds a NULL frame (a timing placeholder carrying no media).
func NewNull() *Frame {
	return &Frame{Type: Null, Timestamp: time.Now(), Ownership: Owned}
}

// NewHangup builds a HANGUP frame carrying the hangup cause code.
func NewHangup(cause int) *Frame {
	return &Frame{Type: Hangup, Subclass: cause, Timestamp: time.Now(), Ownership: Owned}
}

// Clone returns a deep copy of f with Owned ownership, safe to retain
// past the lifetime of a Borrowed frame handed to a reader.
func (f *Frame) Clone() *Frame {
	cp := *f
	if f.Data != nil {
		cp.Data = make([]byte, len(f.Data))
		copy(cp.Data, f.Data)
	}
	cp.Ownership = Owned
	return &cp
}
