package media

import (
	"fmt"

	"github.com/zaf/g711"

	"github.com/sebac/pbxcore/internal/frame"
)

// Translate converts a Voice frame's payload between two codecs,
// inserted transparently by Channel.Read/Channel.Write when the two
// sides of a bridge or a requested read/write format disagree on
// native_formats. PCM16 is used as the common intermediate format
// between the two G.711 variants.
func Translate(f *frame.Frame, to Codec) (*frame.Frame, error) {
	if f.Type != frame.Voice {
		return f, nil
	}
	from, ok := ByPayloadType(uint8(f.Subclass))
	if !ok || from.PayloadType == to.PayloadType {
		return f, nil
	}

	pcm, err := decodeToPCM(from, f.Data)
	if err != nil {
		return nil, fmt.Errorf("media: decode %s: %w", from.Name, err)
	}
	out, err := encodeFromPCM(to, pcm)
	if err != nil {
		return nil, fmt.Errorf("media: encode %s: %w", to.Name, err)
	}

	translated := frame.NewVoice(int(to.PayloadType), out, f.Samples)
	translated.Timestamp = f.Timestamp
	translated.Source = f.Source
	return translated, nil
}

// DecodeToLinear decodes a Voice frame's payload into signed 16-bit
// linear PCM samples, the format the conference mixer sums. pt is the
// frame's Subclass (RTP payload type).
func DecodeToLinear(pt uint8, data []byte) ([]int16, error) {
	codec, ok := ByPayloadType(pt)
	if !ok {
		return nil, fmt.Errorf("media: unknown payload type %d", pt)
	}
	pcm, err := decodeToPCM(codec, data)
	if err != nil {
		return nil, err
	}
	return bytesToInt16(pcm), nil
}

// EncodeFromLinear encodes signed 16-bit linear PCM samples into to's
// wire format.
func EncodeFromLinear(to Codec, samples []int16) ([]byte, error) {
	return encodeFromPCM(to, int16ToBytes(samples))
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

func decodeToPCM(codec Codec, data []byte) ([]byte, error) {
	switch codec.PayloadType {
	case PCMU.PayloadType:
		return g711.DecodeUlaw(data), nil
	case PCMA.PayloadType:
		return g711.DecodeAlaw(data), nil
	default:
		return nil, fmt.Errorf("unsupported source codec %s", codec.Name)
	}
}

func encodeFromPCM(codec Codec, pcm []byte) ([]byte, error) {
	switch codec.PayloadType {
	case PCMU.PayloadType:
		return g711.EncodeUlaw(pcm), nil
	case PCMA.PayloadType:
		return g711.EncodeAlaw(pcm), nil
	default:
		return nil, fmt.Errorf("unsupported target codec %s", codec.Name)
	}
}
