package rtcsdk

// AudioTransceiver is a Transceiver whose media kind is pinned to audio
// at construction.
type AudioTransceiver struct {
	*Transceiver
}

func newAudioTransceiver(t *Transceiver) *AudioTransceiver {
	if t.Kind() != TrackKindAudio {
		panic("rtcsdk: audio transceiver requires an audio media line")
	}
	return &AudioTransceiver{Transceiver: t}
}

// SetLocalAudioTrack is SetLocalTrack with the kind check made explicit
// at the call site.
func (t *AudioTransceiver) SetLocalAudioTrack(track *LocalTrack) error {
	return t.SetLocalTrack(track)
}
