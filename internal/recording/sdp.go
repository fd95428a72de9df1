package recording

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/pion/sdp/v3"
)

const localIP = "127.0.0.1"

// buildSDP describes one plain-transport RTP stream for the transcoder:
// a single media section carrying the consumer's primary codec, with the
// RTCP port carried as an attribute since the pair is not muxed.
func buildSDP(kind mediasoup.MediaKind, rtpPort, rtcpPort uint16, rtp *mediasoup.RtpParameters) ([]byte, error) {
	if rtp == nil || len(rtp.Codecs) == 0 {
		return nil, errors.New("rtp parameters carry no codec")
	}
	codec := rtp.Codecs[0]
	pt := int(codec.PayloadType)

	subtype := string(codec.MimeType)
	if i := strings.IndexByte(subtype, '/'); i >= 0 {
		subtype = subtype[i+1:]
	}
	rtpmap := fmt.Sprintf("%d %s/%d", pt, subtype, codec.ClockRate)
	if kind == mediasoup.MediaKind("audio") && codec.Channels > 0 {
		rtpmap += "/" + strconv.Itoa(int(codec.Channels))
	}

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localIP,
		},
		SessionName: "castroom",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   string(kind),
					Port:    sdp.RangedPort{Value: int(rtpPort)},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{strconv.Itoa(pt)},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtcp", Value: strconv.Itoa(int(rtcpPort))},
					{Key: "rtpmap", Value: rtpmap},
					{Key: "sendrecv"},
				},
			},
		},
	}
	return desc.Marshal()
}
