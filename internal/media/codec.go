// Package media adapts RTP packets, G.711 payloads and SDP offers into
// the core's channel-agnostic frame.Frame, giving the channel_tech
// vtable's "opaque codec/RTP boundary" one real, end-to-end
// implementation.
package media

import "time"

// Codec is an immutable audio codec specification: RTP payload type,
// sample rate and frame duration.
type Codec struct {
	Name        string
	PayloadType uint8
	SampleRate  uint32
	SampleDur   time.Duration
}

var (
	// PCMU is G.711 µ-law (North America, Japan).
	PCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond}
	// PCMA is G.711 A-law (Europe and most of the rest of the world).
	PCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond}
	// TelephoneEvent is RFC 4733 DTMF events carried out-of-band of
	// the voice payload.
	TelephoneEvent = Codec{"telephone-event", 101, 8000, 20 * time.Millisecond}
)

// SamplesPerFrame returns the number of samples in one frame interval.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.SampleDur) / int(time.Second)
}

// TimestampIncrement returns the RTP timestamp advance per frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// ByPayloadType resolves a codec by its RTP payload type, used when
// negotiating native_formats from an SDP offer.
func ByPayloadType(pt uint8) (Codec, bool) {
	switch pt {
	case PCMU.PayloadType:
		return PCMU, true
	case PCMA.PayloadType:
		return PCMA, true
	case TelephoneEvent.PayloadType:
		return TelephoneEvent, true
	}
	return Codec{}, false
}
