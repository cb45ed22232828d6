// Copyright 2024 MediaBridge Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtcsdk

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Direction of one media line: which of the two peers sends media on it.
type Direction int

const (
	DirectionSendRecv Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionInactive
)

func (d Direction) String() string {
	switch d {
	case DirectionSendRecv:
		return "sendrecv"
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// StateUpdateReason tells a state-updated subscriber what triggered the
// notification.
type StateUpdateReason int

const (
	StateUpdateReasonLocalDesc StateUpdateReason = iota
	StateUpdateReasonRemoteDesc
	StateUpdateReasonSetDirection
)

func (r StateUpdateReason) String() string {
	switch r {
	case StateUpdateReasonLocalDesc:
		return "local description changed"
	case StateUpdateReasonRemoteDesc:
		return "remote description changed"
	case StateUpdateReasonSetDirection:
		return "direction explicitly set"
	}
	return fmt.Sprintf("StateUpdateReason(%d)", int(r))
}

// TransceiverStateUpdate is the payload of a state-updated notification.
type TransceiverStateUpdate struct {
	Reason StateUpdateReason
	// Negotiated is only meaningful when HasNegotiated is true, i.e.
	// after the first negotiation completed.
	Negotiated    Direction
	HasNegotiated bool
	Desired       Direction
}

// Transceiver is one bidirectional media slot of one kind, unifying the
// two negotiation models behind a single direction/track state machine.
// Exactly one of two internal representations backs it, chosen at
// construction and fixed for its lifetime: a native engine transceiver
// it delegates to, or an emulation built on a sender/receiver pair for
// engines that only speak the legacy track-based model. Upper layers
// never see the difference.
//
// Direction and track fields are single-writer: the caller serializes
// SetDirection/SetLocalTrack on the same transceiver. Reads from other
// goroutines need the same external discipline; only the callback slot
// carries its own lock.
type Transceiver struct {
	TrackedObject

	kind       TrackKind
	mlineIndex int
	streamIDs  []string

	// exactly one of impl and emulated is set
	impl     TransceiverImpl
	emulated *emulatedTransceiver

	localTrack  *LocalTrack
	remoteTrack *RemoteTrack

	negotiated    Direction
	hasNegotiated bool
	desired       Direction

	cbMu           sync.Mutex
	onStateUpdated func(TransceiverStateUpdate)
}

// newNativeTransceiver wraps an engine-native transceiver. Direction
// changes delegate directly to the engine.
func newNativeTransceiver(ref *FactoryRef, kind TrackKind, mlineIndex int, name string, streamIDs []string, desired Direction, impl TransceiverImpl) *Transceiver {
	t := &Transceiver{
		kind:       kind,
		mlineIndex: mlineIndex,
		streamIDs:  streamIDs,
		impl:       impl,
		desired:    desired,
	}
	t.initObject(ref, transceiverObjectType(kind), name, nil)
	return t
}

// newEmulatedTransceiver mimics a transceiver on top of the legacy
// track-based model, which has no transceiver concept: direction is
// inferred from the presence of an internally managed sender/receiver
// pair instead of delegated.
func newEmulatedTransceiver(ref *FactoryRef, kind TrackKind, mlineIndex int, name string, streamIDs []string, desired Direction) *Transceiver {
	t := &Transceiver{
		kind:       kind,
		mlineIndex: mlineIndex,
		streamIDs:  streamIDs,
		emulated:   &emulatedTransceiver{},
		desired:    desired,
	}
	t.initObject(ref, transceiverObjectType(kind), name, nil)
	return t
}

func transceiverObjectType(kind TrackKind) ObjectType {
	if kind == TrackKindAudio {
		return ObjectTypeAudioTransceiver
	}
	return ObjectTypeVideoTransceiver
}

func (t *Transceiver) Kind() TrackKind {
	return t.kind
}

// MlineIndex is the negotiated media-line position, immutable once
// assigned.
func (t *Transceiver) MlineIndex() int {
	return t.mlineIndex
}

func (t *Transceiver) StreamIDs() []string {
	return t.streamIDs
}

func (t *Transceiver) IsNative() bool {
	return t.impl != nil
}

func (t *Transceiver) IsEmulated() bool {
	return t.emulated != nil
}

// DesiredDirection is the direction the local side wishes to negotiate
// next.
func (t *Transceiver) DesiredDirection() Direction {
	return t.desired
}

// CurrentDirection is the direction last agreed with the remote peer.
// ok is false before the first negotiation completes.
func (t *Transceiver) CurrentDirection() (Direction, bool) {
	return t.negotiated, t.hasNegotiated
}

func (t *Transceiver) LocalTrack() *LocalTrack {
	return t.localTrack
}

func (t *Transceiver) RemoteTrack() *RemoteTrack {
	return t.remoteTrack
}

// OnStateUpdated registers the state-updated subscriber. Single slot,
// last registration wins; pass nil to unregister.
func (t *Transceiver) OnStateUpdated(fn func(TransceiverStateUpdate)) {
	t.cbMu.Lock()
	t.onStateUpdated = fn
	t.cbMu.Unlock()
}

// SetDirection sets the desired direction to use in the next
// offer/answer exchange. Idempotent: setting the current desired
// direction is a no-op success and fires no event. Unsupported on
// emulated transceivers, whose direction is an emergent property of
// track attachment; there the caller's recourse is to attach or detach
// tracks and renegotiate through the legacy path.
func (t *Transceiver) SetDirection(d Direction) error {
	if d == t.desired {
		return nil
	}
	if t.impl == nil {
		return fmt.Errorf("cannot set direction on an emulated transceiver: %w", ErrUnsupported)
	}
	if err := t.impl.SetDirection(toRTPDirection(d)); err != nil {
		return fmt.Errorf("engine rejected direction %s: %w", d, ErrInvalidOperation)
	}
	t.desired = d
	t.fireStateUpdated(StateUpdateReasonSetDirection)
	return nil
}

// SetLocalTrack attaches track to this transceiver's sending half, or
// detaches the current local track when track is nil. No-op success if
// track is already attached here. The old track is always fully
// detached before the new one is attached, so there is never an instant
// with two tracks bound to the same slot. Swapping a track never
// changes direction state.
func (t *Transceiver) SetLocalTrack(track *LocalTrack) error {
	if track == t.localTrack {
		return nil
	}
	if track != nil {
		if track.Kind() != t.kind {
			return fmt.Errorf("cannot attach %s track to %s transceiver %q: %w",
				track.Kind(), t.kind, t.Name(), ErrKindMismatch)
		}
		if track.transceiver != nil && track.transceiver != t {
			return fmt.Errorf("track %q: %w", track.Name(), ErrAlreadyAttached)
		}
	}

	var media webrtc.TrackLocal
	if track != nil {
		media = track.rtpTrack
	}

	var sender SenderImpl
	if t.impl != nil {
		// Swapping the sender track must never touch the direction state
		// machine; the engine is not supposed to change either direction
		// on SetTrack, so verify.
		desired0 := t.impl.Direction()
		negotiated0 := t.impl.CurrentDirection()
		sender = t.impl.Sender()
		if sender == nil {
			return fmt.Errorf("transceiver %q has no sender: %w", t.Name(), ErrInvalidOperation)
		}
		if err := sender.ReplaceTrack(media); err != nil {
			getLogger().Error(err, "failed to set local track",
				"transceiver", t.Name(), "kind", t.kind)
			return fmt.Errorf("engine rejected track swap: %w", ErrInvalidOperation)
		}
		if t.impl.Direction() != desired0 || t.impl.CurrentDirection() != negotiated0 {
			panic("rtcsdk: transceiver direction changed during track swap")
		}
	} else {
		if media != nil {
			// The legacy model negotiates with the track's own stream ID,
			// so the packed transceiver identity has to replace it on the
			// wire.
			media = &emulatedStreamTrack{TrackLocal: media, streamID: t.EmulatedStreamID()}
		}
		if err := t.emulated.setTrack(media); err != nil {
			getLogger().Error(err, "failed to set local track",
				"transceiver", t.Name(), "kind", t.kind)
			return fmt.Errorf("engine rejected track swap: %w", ErrInvalidOperation)
		}
		sender = t.emulated.sender
	}

	// Old-detach fully completes before new-attach begins.
	if old := t.localTrack; old != nil {
		t.localTrack = nil
		old.onDetached()
	}
	if track != nil {
		t.localTrack = track
		track.onAttached(t, sender)
	}
	return nil
}

// onLocalTrackAdded is the engine-side notification used when a track
// attachment originates from negotiation rather than an explicit API
// call. Idempotent against engine re-notification during renegotiation.
func (t *Transceiver) onLocalTrackAdded(track *LocalTrack) {
	if t.localTrack == track {
		return
	}
	if t.localTrack != nil {
		panic("rtcsdk: local track added while another is attached")
	}
	t.localTrack = track
	var sender SenderImpl
	if t.impl != nil {
		sender = t.impl.Sender()
	} else {
		sender = t.emulated.sender
	}
	track.onAttached(t, sender)
}

func (t *Transceiver) onLocalTrackRemoved(track *LocalTrack) {
	if t.localTrack != track {
		return
	}
	t.localTrack = nil
	track.onDetached()
}

func (t *Transceiver) onRemoteTrackAdded(track *RemoteTrack) {
	if t.remoteTrack == track {
		return
	}
	if t.remoteTrack != nil {
		panic("rtcsdk: remote track added while another is attached")
	}
	t.remoteTrack = track
	var receiver ReceiverImpl
	if t.impl != nil {
		receiver = t.impl.Receiver()
	} else {
		receiver = t.emulated.receiver
	}
	track.onAttached(t, receiver)
}

func (t *Transceiver) onRemoteTrackRemoved(track *RemoteTrack) {
	if t.remoteTrack != track {
		return
	}
	t.remoteTrack = nil
	track.onDetached()
}

// onSessionDescUpdated recomputes the observable direction state after a
// local or remote description was applied. This is the single place
// where the two representations' divergent direction semantics are
// normalized into one observable value: the native representation reads
// the engine transceiver, the emulated one derives direction from
// sender/receiver presence. Fires the state-updated event when either
// direction changed, or unconditionally when forced.
func (t *Transceiver) onSessionDescUpdated(remote bool, forced bool) {
	changed := false
	if t.impl != nil {
		if nd, ok := fromRTPDirection(t.impl.CurrentDirection()); ok {
			if !t.hasNegotiated || nd != t.negotiated {
				t.negotiated = nd
				t.hasNegotiated = true
				changed = true
			}
		}
		if dd, ok := fromRTPDirection(t.impl.Direction()); ok && dd != t.desired {
			t.desired = dd
			changed = true
		}
	} else {
		nd := directionFromSendRecv(t.emulated.hasSender(), t.emulated.hasReceiver())
		if !t.hasNegotiated || nd != t.negotiated {
			t.negotiated = nd
			t.hasNegotiated = true
			changed = true
		}
		// Track attachment is the sending/receiving intent for the next
		// negotiation.
		dd := directionFromSendRecv(t.localTrack != nil, t.remoteTrack != nil)
		if dd != t.desired {
			t.desired = dd
			changed = true
		}
	}

	if changed || forced {
		reason := StateUpdateReasonLocalDesc
		if remote {
			reason = StateUpdateReasonRemoteDesc
		}
		t.fireStateUpdated(reason)
	}
}

func (t *Transceiver) fireStateUpdated(reason StateUpdateReason) {
	t.cbMu.Lock()
	fn := t.onStateUpdated
	t.cbMu.Unlock()
	if fn != nil {
		fn(TransceiverStateUpdate{
			Reason:        reason,
			Negotiated:    t.negotiated,
			HasNegotiated: t.hasNegotiated,
			Desired:       t.desired,
		})
	}
}

// EmulatedStreamID returns the stream ID a local track should carry on
// a legacy connection, packing the media line index and transceiver
// name so the remote side can map the bare track back to this media
// line.
func (t *Transceiver) EmulatedStreamID() string {
	return buildEmulatedStreamID(t.mlineIndex, t.Name(), t.streamIDs)
}

// setEmulatedSender installs or drops the engine sender backing an
// emulated transceiver, keeping the attached local track's sender
// handle in step.
func (t *Transceiver) setEmulatedSender(sender SenderImpl) error {
	if t.emulated == nil {
		return fmt.Errorf("transceiver %q is native-backed: %w", t.Name(), ErrInvalidOperation)
	}
	err := t.emulated.syncSender(sender)
	if t.localTrack != nil {
		t.localTrack.sender = sender
	}
	return err
}

func (t *Transceiver) setEmulatedReceiver(receiver ReceiverImpl) error {
	if t.emulated == nil {
		return fmt.Errorf("transceiver %q is native-backed: %w", t.Name(), ErrInvalidOperation)
	}
	t.emulated.setReceiver(receiver)
	if t.remoteTrack != nil {
		t.remoteTrack.receiver = receiver
	}
	return nil
}

// emulatedStreamTrack overrides a local track's stream ID with the
// packed transceiver identity so the ID survives legacy negotiation.
type emulatedStreamTrack struct {
	webrtc.TrackLocal
	streamID string
}

func (t *emulatedStreamTrack) StreamID() string {
	return t.streamID
}

// emulatedTransceiver fakes transceiver semantics for engines that only
// expose the legacy track-based model. The sender only exists while
// sending, so it doubles as the direction marker; a track set while no
// sender exists is stashed and applied when one appears.
type emulatedTransceiver struct {
	sender       SenderImpl
	receiver     ReceiverImpl
	pendingTrack webrtc.TrackLocal
}

func (e *emulatedTransceiver) hasSender() bool {
	return e.sender != nil
}

func (e *emulatedTransceiver) hasReceiver() bool {
	return e.receiver != nil
}

func (e *emulatedTransceiver) setTrack(track webrtc.TrackLocal) error {
	e.pendingTrack = track
	if e.sender != nil {
		return e.sender.ReplaceTrack(track)
	}
	return nil
}

// syncSender installs or drops the emulated sender slot to match the
// desired direction. A newly installed sender picks up the pending
// track.
func (e *emulatedTransceiver) syncSender(sender SenderImpl) error {
	e.sender = sender
	if sender != nil && e.pendingTrack != nil {
		return sender.ReplaceTrack(e.pendingTrack)
	}
	return nil
}

func (e *emulatedTransceiver) setReceiver(receiver ReceiverImpl) {
	e.receiver = receiver
}
