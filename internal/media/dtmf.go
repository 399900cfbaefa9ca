package media

import (
	"encoding/binary"
	"fmt"
)

// DTMFEvent is an RFC 4733 telephone-event payload: 4 bytes of event
// code, end-of-event bit, volume, and duration in timestamp units.
type DTMFEvent struct {
	Event      uint8
	EndOfEvent bool
	Volume     uint8
	Duration   uint16
}

// DTMF event codes, 0-15 mapping to 0-9, *, #, A-D.
const (
	DTMF0 uint8 = iota
	DTMF1
	DTMF2
	DTMF3
	DTMF4
	DTMF5
	DTMF6
	DTMF7
	DTMF8
	DTMF9
	DTMFStar
	DTMFPound
	DTMFA
	DTMFB
	DTMFC
	DTMFD
)

// Default DTMF parameters.
const (
	DefaultDTMFVolume   uint8  = 10
	DefaultDTMFDuration uint16 = 1600 // 200ms at 8kHz
	MinDTMFDuration     uint16 = 400  // 50ms minimum
)

// RuneToEvent converts a DTMF digit character to its event code.
func RuneToEvent(r rune) (uint8, bool) {
	switch r {
	case '0':
		return DTMF0, true
	case '1':
		return DTMF1, true
	case '2':
		return DTMF2, true
	case '3':
		return DTMF3, true
	case '4':
		return DTMF4, true
	case '5':
		return DTMF5, true
	case '6':
		return DTMF6, true
	case '7':
		return DTMF7, true
	case '8':
		return DTMF8, true
	case '9':
		return DTMF9, true
	case '*':
		return DTMFStar, true
	case '#':
		return DTMFPound, true
	case 'A', 'a':
		return DTMFA, true
	case 'B', 'b':
		return DTMFB, true
	case 'C', 'c':
		return DTMFC, true
	case 'D', 'd':
		return DTMFD, true
	}
	return 0, false
}

// EventToRune converts a DTMF event code back to its digit character.
func EventToRune(event uint8) (rune, bool) {
	switch event {
	case DTMF0:
		return '0', true
	case DTMF1:
		return '1', true
	case DTMF2:
		return '2', true
	case DTMF3:
		return '3', true
	case DTMF4:
		return '4', true
	case DTMF5:
		return '5', true
	case DTMF6:
		return '6', true
	case DTMF7:
		return '7', true
	case DTMF8:
		return '8', true
	case DTMF9:
		return '9', true
	case DTMFStar:
		return '*', true
	case DTMFPound:
		return '#', true
	case DTMFA:
		return 'A', true
	case DTMFB:
		return 'B', true
	case DTMFC:
		return 'C', true
	case DTMFD:
		return 'D', true
	}
	return 0, false
}

// Encode serialises the event to its RFC 4733 4-byte wire format.
func (e DTMFEvent) Encode() []byte {
	b := make([]byte, 4)
	b[0] = e.Event
	b[1] = e.Volume & 0x3F
	if e.EndOfEvent {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], e.Duration)
	return b
}

// DecodeDTMFEvent parses an RFC 4733 4-byte payload.
func DecodeDTMFEvent(payload []byte) (DTMFEvent, error) {
	if len(payload) < 4 {
		return DTMFEvent{}, fmt.Errorf("media: DTMF payload too short: %d bytes", len(payload))
	}
	return DTMFEvent{
		Event:      payload[0],
		EndOfEvent: payload[1]&0x80 != 0,
		Volume:     payload[1] & 0x3F,
		Duration:   binary.BigEndian.Uint16(payload[2:]),
	}, nil
}
