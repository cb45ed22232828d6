package rtcsdk

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// The SDK drives the engine through narrow interfaces so that the two
// transceiver representations, and the tests, can share the same
// surface. Production code uses the pion-backed adapters below.

// TransceiverImpl is the engine-native transceiver consumed by a
// native-backed Transceiver.
type TransceiverImpl interface {
	// Direction returns the engine's desired direction.
	Direction() webrtc.RTPTransceiverDirection
	// CurrentDirection returns the last negotiated direction, or
	// RTPTransceiverDirectionUnknown before the first negotiation.
	CurrentDirection() webrtc.RTPTransceiverDirection
	SetDirection(webrtc.RTPTransceiverDirection) error
	Sender() SenderImpl
	Receiver() ReceiverImpl
}

// SenderImpl is the engine-level RTP sender of one media slot.
type SenderImpl interface {
	ReplaceTrack(webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

// ReceiverImpl is the engine-level RTP receiver of one media slot.
type ReceiverImpl interface {
	Track() *webrtc.TrackRemote
}

// rtpTransceiverImpl adapts a pion transceiver. pion exports neither a
// direction setter nor a negotiated-direction getter, so the adapter
// keeps both as its own state: the desired direction is changed through
// the mechanism pion does support (sender track presence, via
// RemoveTrack), and the negotiated direction is recovered from the
// applied answer by the owning connection, which calls
// setCurrentDirection before fanning out state updates.
type rtpTransceiverImpl struct {
	pc *webrtc.PeerConnection
	tr *webrtc.RTPTransceiver

	mu      sync.Mutex
	desired webrtc.RTPTransceiverDirection
	current webrtc.RTPTransceiverDirection
}

func wrapRTPTransceiver(pc *webrtc.PeerConnection, tr *webrtc.RTPTransceiver, desired webrtc.RTPTransceiverDirection) *rtpTransceiverImpl {
	return &rtpTransceiverImpl{
		pc:      pc,
		tr:      tr,
		desired: desired,
		current: webrtc.RTPTransceiverDirectionUnknown,
	}
}

func (w *rtpTransceiverImpl) Direction() webrtc.RTPTransceiverDirection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.desired
}

func (w *rtpTransceiverImpl) CurrentDirection() webrtc.RTPTransceiverDirection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// SetDirection records the desired direction and pushes the send half
// to the engine. Disabling send removes the sender's track, which is
// what flips pion's offered direction; re-enabling send takes effect
// when a local track is attached. Recv-half changes are negotiated on
// the next offer/answer exchange.
func (w *rtpTransceiverImpl) SetDirection(d webrtc.RTPTransceiverDirection) error {
	w.mu.Lock()
	prev := w.desired
	w.mu.Unlock()

	if rtpDirectionHasSend(prev) && !rtpDirectionHasSend(d) {
		if s := w.tr.Sender(); s != nil && s.Track() != nil {
			if err := w.pc.RemoveTrack(s); err != nil {
				return err
			}
		}
	}

	w.mu.Lock()
	w.desired = d
	w.mu.Unlock()
	return nil
}

// setCurrentDirection is fed by the owning PeerConnection after an
// answer is applied.
func (w *rtpTransceiverImpl) setCurrentDirection(d webrtc.RTPTransceiverDirection) {
	w.mu.Lock()
	w.current = d
	w.mu.Unlock()
}

func (w *rtpTransceiverImpl) Sender() SenderImpl {
	if s := w.tr.Sender(); s != nil {
		return &rtpSenderImpl{sender: s}
	}
	return nil
}

func (w *rtpTransceiverImpl) Receiver() ReceiverImpl {
	if r := w.tr.Receiver(); r != nil {
		return &rtpReceiverImpl{receiver: r}
	}
	return nil
}

type rtpSenderImpl struct {
	sender *webrtc.RTPSender
}

func (w *rtpSenderImpl) ReplaceTrack(track webrtc.TrackLocal) error {
	return w.sender.ReplaceTrack(track)
}

func (w *rtpSenderImpl) Track() webrtc.TrackLocal {
	return w.sender.Track()
}

type rtpReceiverImpl struct {
	receiver *webrtc.RTPReceiver
}

func (w *rtpReceiverImpl) Track() *webrtc.TrackRemote {
	return w.receiver.Track()
}
