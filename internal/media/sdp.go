package media

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"
)

// rtpmapNames maps this package's payload types to their SDP rtpmap
// strings, the subset of codecs native_formats can offer or answer.
var rtpmapNames = map[uint8]string{
	PCMU.PayloadType:           "PCMU/8000",
	PCMA.PayloadType:           "PCMA/8000",
	TelephoneEvent.PayloadType: "telephone-event/8000",
}

// BuildOffer constructs an SDP offer advertising addr:port and the
// given codecs (PCMU/PCMA typically, plus telephone-event for DTMF).
func BuildOffer(addr string, port int, codecs []Codec) ([]byte, error) {
	return build(addr, port, codecs, false)
}

// BuildAnswer constructs an SDP answer selecting one codec from an
// offer, plus telephone-event if the offer included it.
func BuildAnswer(addr string, port int, selected Codec, includeDTMF bool) ([]byte, error) {
	codecs := []Codec{selected}
	if includeDTMF {
		codecs = append(codecs, TelephoneEvent)
	}
	return build(addr, port, codecs, true)
}

func build(addr string, port int, codecs []Codec, answer bool) ([]byte, error) {
	formats := make([]string, 0, len(codecs))
	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(int(c.PayloadType)))
	}

	sessionName := "pbxcore offer"
	if answer {
		sessionName = "pbxcore answer"
	}

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "pbxcore",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: sdp.SessionName(sessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: codecAttributes(codecs),
			},
		},
	}

	return desc.Marshal()
}

func codecAttributes(codecs []Codec) []sdp.Attribute {
	attrs := make([]sdp.Attribute, 0, len(codecs)+2)
	for _, c := range codecs {
		name, ok := rtpmapNames[c.PayloadType]
		if !ok {
			continue
		}
		attrs = append(attrs, sdp.Attribute{
			Key:   "rtpmap",
			Value: fmt.Sprintf("%d %s", c.PayloadType, name),
		})
		if c.PayloadType == TelephoneEvent.PayloadType {
			attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: "101 0-15"})
		}
	}
	attrs = append(attrs, sdp.Attribute{Key: "ptime", Value: "20"})
	attrs = append(attrs, sdp.Attribute{Key: "sendrecv"})
	return attrs
}

// ParseOffer decodes an SDP offer, returning the remote's media
// address/port and the codecs it advertised (in advertised order) for
// the channel_tech's codec negotiation step.
func ParseOffer(data []byte) (addr string, port int, codecs []Codec, err error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(data); err != nil {
		return "", 0, nil, fmt.Errorf("media: parse SDP: %w", err)
	}
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		port = md.MediaName.Port.Value
		for _, f := range md.MediaName.Formats {
			pt, convErr := strconv.Atoi(f)
			if convErr != nil {
				continue
			}
			if c, ok := ByPayloadType(uint8(pt)); ok {
				codecs = append(codecs, c)
			}
		}
	}
	if addr == "" {
		return "", 0, nil, fmt.Errorf("media: SDP offer missing connection address")
	}
	return addr, port, codecs, nil
}
