package rtcsdk

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestDirectionRoundTrip(t *testing.T) {
	for _, d := range []Direction{DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive} {
		back, ok := fromRTPDirection(toRTPDirection(d))
		require.True(t, ok)
		require.Equal(t, d, back)

		send, recv := sendRecvFromDirection(d)
		require.Equal(t, d, directionFromSendRecv(send, recv))
	}

	_, ok := fromRTPDirection(webrtc.RTPTransceiverDirectionUnknown)
	require.False(t, ok, "pre-negotiation direction must not map")
}

func TestRTPDirectionHasSend(t *testing.T) {
	require.True(t, rtpDirectionHasSend(webrtc.RTPTransceiverDirectionSendrecv))
	require.True(t, rtpDirectionHasSend(webrtc.RTPTransceiverDirectionSendonly))
	require.False(t, rtpDirectionHasSend(webrtc.RTPTransceiverDirectionRecvonly))
	require.False(t, rtpDirectionHasSend(webrtc.RTPTransceiverDirectionInactive))
	require.False(t, rtpDirectionHasSend(webrtc.RTPTransceiverDirectionUnknown))
}

func TestReverseRTPDirection(t *testing.T) {
	require.Equal(t, webrtc.RTPTransceiverDirectionRecvonly, reverseRTPDirection(webrtc.RTPTransceiverDirectionSendonly))
	require.Equal(t, webrtc.RTPTransceiverDirectionSendonly, reverseRTPDirection(webrtc.RTPTransceiverDirectionRecvonly))
	// symmetric directions are their own reverse
	require.Equal(t, webrtc.RTPTransceiverDirectionSendrecv, reverseRTPDirection(webrtc.RTPTransceiverDirectionSendrecv))
	require.Equal(t, webrtc.RTPTransceiverDirectionInactive, reverseRTPDirection(webrtc.RTPTransceiverDirectionInactive))
}

func TestMediaSectionDirection(t *testing.T) {
	section := func(keys ...string) *sdp.MediaDescription {
		m := &sdp.MediaDescription{}
		for _, k := range keys {
			m.Attributes = append(m.Attributes, sdp.Attribute{Key: k})
		}
		return m
	}

	require.Equal(t, webrtc.RTPTransceiverDirectionSendonly, mediaSectionDirection(section("mid", "sendonly")))
	require.Equal(t, webrtc.RTPTransceiverDirectionRecvonly, mediaSectionDirection(section("recvonly")))
	require.Equal(t, webrtc.RTPTransceiverDirectionInactive, mediaSectionDirection(section("inactive")))
	require.Equal(t, webrtc.RTPTransceiverDirectionSendrecv, mediaSectionDirection(section("sendrecv")))
	// absent attribute defaults to sendrecv
	require.Equal(t, webrtc.RTPTransceiverDirectionSendrecv, mediaSectionDirection(section("mid")))
}

func TestStreamIDEncoding(t *testing.T) {
	require.Equal(t, "a;b", encodeStreamIDs([]string{"a", "b"}))
	require.Equal(t, []string{"a", "b"}, decodeStreamIDs("a;b"))
	require.Nil(t, decodeStreamIDs(""))
}

func TestEmulatedStreamIDRoundTrip(t *testing.T) {
	encoded := buildEmulatedStreamID(2, "mic", []string{"s1", "s2"})
	mline, name, ids, err := parseEmulatedStreamID(encoded)
	require.NoError(t, err)
	require.Equal(t, 2, mline)
	require.Equal(t, "mic", name)
	require.Equal(t, []string{"s1", "s2"}, ids)

	// no extra stream IDs
	mline, name, ids, err = parseEmulatedStreamID(buildEmulatedStreamID(0, "cam", nil))
	require.NoError(t, err)
	require.Equal(t, 0, mline)
	require.Equal(t, "cam", name)
	require.Nil(t, ids)

	_, _, _, err = parseEmulatedStreamID("justonepart")
	require.Error(t, err)
	_, _, _, err = parseEmulatedStreamID("notanumber;mic")
	require.Error(t, err)
}
