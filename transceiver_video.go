package rtcsdk

// VideoTransceiver is a Transceiver whose media kind is pinned to video
// at construction.
type VideoTransceiver struct {
	*Transceiver
}

func newVideoTransceiver(t *Transceiver) *VideoTransceiver {
	if t.Kind() != TrackKindVideo {
		panic("rtcsdk: video transceiver requires a video media line")
	}
	return &VideoTransceiver{Transceiver: t}
}

// SetLocalVideoTrack is SetLocalTrack with the kind check made explicit
// at the call site.
func (t *VideoTransceiver) SetLocalVideoTrack(track *LocalTrack) error {
	return t.SetLocalTrack(track)
}
