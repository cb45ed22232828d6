package rtcsdk

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func newTestPeerConnection(t *testing.T, opts ...PeerConnectionOption) *PeerConnection {
	t.Helper()
	pc, err := NewPeerConnection(webrtc.Configuration{}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func TestPeerConnectionNativeTransceivers(t *testing.T) {
	resetLibrary(t)

	pc := newTestPeerConnection(t, WithName("caller"))
	require.Equal(t, "caller", pc.Name())

	audio, err := pc.AddAudioTransceiver(DirectionSendRecv)
	require.NoError(t, err)
	require.True(t, audio.IsNative())
	require.Equal(t, TrackKindAudio, audio.Kind())
	require.Equal(t, 0, audio.MlineIndex())
	require.Equal(t, DirectionSendRecv, audio.DesiredDirection())

	video, err := pc.AddVideoTransceiver(DirectionRecvOnly, "camera")
	require.NoError(t, err)
	require.Equal(t, 1, video.MlineIndex())
	require.Equal(t, []string{"camera"}, video.StreamIDs())

	require.Len(t, pc.Transceivers(), 2)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NotEmpty(t, offer.SDP)
	require.NoError(t, pc.SetLocalDescription(offer))
}

func TestPeerConnectionNativeTrackFlow(t *testing.T) {
	resetLibrary(t)

	pc := newTestPeerConnection(t)
	audio, err := pc.AddAudioTransceiver(DirectionSendOnly)
	require.NoError(t, err)

	track := newTestAudioTrack(t, "mic")
	require.NoError(t, audio.SetLocalAudioTrack(track))
	require.Same(t, track, audio.LocalTrack())

	require.NoError(t, audio.SetLocalAudioTrack(nil))
	require.Nil(t, audio.LocalTrack())
}

func TestRemoteDescriptionAdoptsNativeTransceivers(t *testing.T) {
	resetLibrary(t)

	caller := newTestPeerConnection(t, WithName("caller"))
	callee := newTestPeerConnection(t, WithName("callee"))

	_, err := caller.AddAudioTransceiver(DirectionSendOnly)
	require.NoError(t, err)
	offer, err := caller.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, caller.SetLocalDescription(offer))

	require.NoError(t, callee.SetRemoteDescription(offer))
	adopted := callee.Transceivers()
	require.Len(t, adopted, 1)
	require.True(t, adopted[0].IsNative())
	require.Equal(t, TrackKindAudio, adopted[0].Kind())
}

func TestLegacyConnectionSyncsSendersWithTracks(t *testing.T) {
	resetLibrary(t)

	pc := newTestPeerConnection(t, WithLegacyNegotiation())
	audio, err := pc.AddAudioTransceiver(DirectionSendRecv)
	require.NoError(t, err)
	require.True(t, audio.IsEmulated())

	track := newTestAudioTrack(t, "mic")
	require.NoError(t, audio.SetLocalAudioTrack(track))

	// a sender only materializes when an offer is produced
	require.False(t, audio.emulated.hasSender())
	_, err = pc.CreateOffer(nil)
	require.NoError(t, err)
	require.True(t, audio.emulated.hasSender())
	require.NotNil(t, track.sender)

	// detaching the track drops the sender on the next offer
	require.NoError(t, audio.SetLocalAudioTrack(nil))
	_, err = pc.CreateOffer(nil)
	require.NoError(t, err)
	require.False(t, audio.emulated.hasSender())
}

func TestLegacyRemoteDescriptionAdoptsMediaLines(t *testing.T) {
	resetLibrary(t)

	pc := newTestPeerConnection(t, WithLegacyNegotiation())

	const remoteSDP = "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:1\r\n"

	pc.mu.Lock()
	pc.adoptLegacyMediaLinesLocked(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remoteSDP,
	})
	pc.mu.Unlock()

	adopted := pc.Transceivers()
	require.Len(t, adopted, 2)
	require.True(t, adopted[0].IsEmulated())
	require.Equal(t, TrackKindAudio, adopted[0].Kind())
	require.Equal(t, TrackKindVideo, adopted[1].Kind())
	require.Equal(t, DirectionRecvOnly, adopted[1].DesiredDirection())
}

// An applied answer fixes the negotiated direction on both sides: the
// answerer reads its own answer directly, the offerer reads the remote
// answer with the point of view reversed.
func TestAnswerEstablishesNegotiatedDirection(t *testing.T) {
	resetLibrary(t)

	caller := newTestPeerConnection(t, WithName("caller"))
	callee := newTestPeerConnection(t, WithName("callee"))

	sendTr, err := caller.AddAudioTransceiver(DirectionSendOnly)
	require.NoError(t, err)
	_, negotiated := sendTr.CurrentDirection()
	require.False(t, negotiated, "no negotiated direction before the first answer")

	offer, err := caller.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, caller.SetLocalDescription(offer))
	_, negotiated = sendTr.CurrentDirection()
	require.False(t, negotiated, "an offer alone must not negotiate anything")

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, callee.SetLocalDescription(answer))

	recvTr := callee.Transceivers()[0]
	d, ok := recvTr.CurrentDirection()
	require.True(t, ok)
	require.Equal(t, DirectionRecvOnly, d, "answerer of a sendonly offer receives")

	require.NoError(t, caller.SetRemoteDescription(answer))
	d, ok = sendTr.CurrentDirection()
	require.True(t, ok)
	require.Equal(t, DirectionSendOnly, d, "offerer view of a recvonly answer is sendonly")
}

func TestPeerConnectionCloseIdempotent(t *testing.T) {
	resetLibrary(t)

	pc := newTestPeerConnection(t)
	audio, err := pc.AddAudioTransceiver(DirectionSendRecv)
	require.NoError(t, err)

	track, err := CreateLocalAudioTrack("mic")
	require.NoError(t, err)
	require.NoError(t, audio.SetLocalAudioTrack(track))

	require.NoError(t, pc.Close())
	require.NoError(t, pc.Close())

	require.Nil(t, audio.LocalTrack(), "close must detach local tracks")
	require.Nil(t, track.Transceiver())

	_, err = pc.AddAudioTransceiver(DirectionSendRecv)
	require.ErrorIs(t, err, ErrInvalidHandle)

	// only the test's track reference is left
	require.Equal(t, 1, ReportLiveObjects())
	track.RemoveRef()
	require.True(t, TryShutdown())
}

func TestEmulatedStreamIDCarriesMediaLine(t *testing.T) {
	resetLibrary(t)

	pc := newTestPeerConnection(t, WithLegacyNegotiation())
	audio, err := pc.AddAudioTransceiver(DirectionSendRecv, "s1")
	require.NoError(t, err)

	mline, name, ids, err := parseEmulatedStreamID(audio.EmulatedStreamID())
	require.NoError(t, err)
	require.Equal(t, audio.MlineIndex(), mline)
	require.Equal(t, audio.Name(), name)
	require.Equal(t, []string{"s1"}, ids)
}

// The packed stream ID must actually reach the wire: a legacy offer
// announces the attached track under the transceiver identity, not
// under the track's own stream ID.
func TestLegacyOfferPublishesPackedStreamID(t *testing.T) {
	resetLibrary(t)

	pc := newTestPeerConnection(t, WithLegacyNegotiation())
	audio, err := pc.AddAudioTransceiver(DirectionSendRecv, "s1")
	require.NoError(t, err)

	track := newTestAudioTrack(t, "mic")
	require.NoError(t, audio.SetLocalAudioTrack(track))

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.Contains(t, offer.SDP, audio.EmulatedStreamID())
	require.NotContains(t, offer.SDP, track.rtpTrack.StreamID())
}

func TestRemoteTrackMapsToPackedMediaLine(t *testing.T) {
	resetLibrary(t)

	pc := newTestPeerConnection(t, WithLegacyNegotiation())
	first, err := pc.AddAudioTransceiver(DirectionSendRecv)
	require.NoError(t, err)
	second, err := pc.AddAudioTransceiver(DirectionSendRecv)
	require.NoError(t, err)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	// the packed ID selects the exact media line, not the first free
	// transceiver of the kind
	got := pc.findEmulatedForRemoteLocked(TrackKindAudio, second.EmulatedStreamID())
	require.Same(t, second.Transceiver, got)

	// an unpacked ID falls back to kind matching
	got = pc.findEmulatedForRemoteLocked(TrackKindAudio, "bare-stream")
	require.Same(t, first.Transceiver, got)

	require.Nil(t, pc.findEmulatedForRemoteLocked(TrackKindVideo, "bare-stream"))
}

func TestRemoteTrackIgnoredAfterClose(t *testing.T) {
	resetLibrary(t)

	pc := newTestPeerConnection(t, WithLegacyNegotiation())
	_, err := pc.AddAudioTransceiver(DirectionSendRecv)
	require.NoError(t, err)
	require.NoError(t, pc.Close())

	before := ReportLiveObjects()
	pc.adoptRemoteTrack(TrackKindAudio, "id", "stream", nil, nil)
	require.Empty(t, pc.remoteTracks)
	require.Equal(t, before, ReportLiveObjects(), "a track arriving after close must not be registered")
}
