package rtcsdk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

func toRTPDirection(d Direction) webrtc.RTPTransceiverDirection {
	switch d {
	case DirectionSendRecv:
		return webrtc.RTPTransceiverDirectionSendrecv
	case DirectionSendOnly:
		return webrtc.RTPTransceiverDirectionSendonly
	case DirectionRecvOnly:
		return webrtc.RTPTransceiverDirectionRecvonly
	}
	return webrtc.RTPTransceiverDirectionInactive
}

// fromRTPDirection reports ok=false for the engine's "unknown"
// direction, i.e. before the first negotiation completed.
func fromRTPDirection(d webrtc.RTPTransceiverDirection) (Direction, bool) {
	switch d {
	case webrtc.RTPTransceiverDirectionSendrecv:
		return DirectionSendRecv, true
	case webrtc.RTPTransceiverDirectionSendonly:
		return DirectionSendOnly, true
	case webrtc.RTPTransceiverDirectionRecvonly:
		return DirectionRecvOnly, true
	case webrtc.RTPTransceiverDirectionInactive:
		return DirectionInactive, true
	}
	return DirectionInactive, false
}

// directionFromSendRecv derives a direction from sender/receiver
// presence. This is how the emulated representation computes direction,
// which there is an emergent property rather than a settable one.
func directionFromSendRecv(send, recv bool) Direction {
	switch {
	case send && recv:
		return DirectionSendRecv
	case send:
		return DirectionSendOnly
	case recv:
		return DirectionRecvOnly
	}
	return DirectionInactive
}

func sendRecvFromDirection(d Direction) (send, recv bool) {
	return d == DirectionSendRecv || d == DirectionSendOnly,
		d == DirectionSendRecv || d == DirectionRecvOnly
}

func rtpDirectionHasSend(d webrtc.RTPTransceiverDirection) bool {
	mapped, ok := fromRTPDirection(d)
	if !ok {
		return false
	}
	send, _ := sendRecvFromDirection(mapped)
	return send
}

// reverseRTPDirection flips the point of view of a direction: the
// remote peer's sendonly is the local recvonly.
func reverseRTPDirection(d webrtc.RTPTransceiverDirection) webrtc.RTPTransceiverDirection {
	switch d {
	case webrtc.RTPTransceiverDirectionSendonly:
		return webrtc.RTPTransceiverDirectionRecvonly
	case webrtc.RTPTransceiverDirectionRecvonly:
		return webrtc.RTPTransceiverDirectionSendonly
	}
	return d
}

// mediaSectionDirection reads the direction attribute of one media
// section, defaulting to sendrecv when absent per RFC 3264.
func mediaSectionDirection(m *sdp.MediaDescription) webrtc.RTPTransceiverDirection {
	for _, a := range m.Attributes {
		switch a.Key {
		case "sendrecv":
			return webrtc.RTPTransceiverDirectionSendrecv
		case "sendonly":
			return webrtc.RTPTransceiverDirectionSendonly
		case "recvonly":
			return webrtc.RTPTransceiverDirectionRecvonly
		case "inactive":
			return webrtc.RTPTransceiverDirectionInactive
		}
	}
	return webrtc.RTPTransceiverDirectionSendrecv
}

func encodeStreamIDs(ids []string) string {
	return strings.Join(ids, ";")
}

func decodeStreamIDs(encoded string) []string {
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, ";")
}

// buildEmulatedStreamID packs the media line index, transceiver name
// and encoded stream IDs into the single stream ID the legacy
// track-based model can carry, so the remote side can reconstruct
// transceiver identity.
func buildEmulatedStreamID(mlineIndex int, name string, streamIDs []string) string {
	return strings.Join([]string{strconv.Itoa(mlineIndex), name, encodeStreamIDs(streamIDs)}, ";")
}

func parseEmulatedStreamID(encoded string) (mlineIndex int, name string, streamIDs []string, err error) {
	parts := strings.SplitN(encoded, ";", 3)
	if len(parts) < 2 {
		return 0, "", nil, fmt.Errorf("malformed emulated stream ID %q", encoded)
	}
	mlineIndex, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", nil, fmt.Errorf("malformed emulated stream ID %q: %v", encoded, err)
	}
	name = parts[1]
	if len(parts) == 3 {
		streamIDs = decodeStreamIDs(parts[2])
	}
	return mlineIndex, name, streamIDs, nil
}
