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
	"time"

	"github.com/bep/debounce"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"
)

const negotiationFrequency = 150 * time.Millisecond

type peerConnectionParams struct {
	name   string
	legacy bool
}

type PeerConnectionOption func(*peerConnectionParams)

func WithName(name string) PeerConnectionOption {
	return func(p *peerConnectionParams) {
		p.name = name
	}
}

// WithLegacyNegotiation selects the legacy track-based negotiation
// model. Transceivers on such a connection are emulated: direction is
// inferred from sender/receiver presence instead of delegated to the
// engine.
func WithLegacyNegotiation() PeerConnectionOption {
	return func(p *peerConnectionParams) {
		p.legacy = true
	}
}

// PeerConnection wraps one engine connection and owns its transceivers
// and remote tracks. The negotiation model is fixed at construction;
// every transceiver the connection creates uses the matching
// representation.
type PeerConnection struct {
	TrackedObject

	pc     *webrtc.PeerConnection
	legacy bool
	closed atomic.Bool

	mu                 sync.Mutex
	transceivers       []*Transceiver
	wrapperByImpl      map[*webrtc.RTPTransceiver]*Transceiver
	remoteTracks       []*RemoteTrack
	debouncedNegotiate func(func())

	// single-slot callbacks, last registration wins
	OnNegotiationNeeded func()
	OnTrack             func(*RemoteTrack, *Transceiver)
}

// NewPeerConnection creates a connection through the connection
// factory, initializing the library on first use.
func NewPeerConnection(config webrtc.Configuration, opts ...PeerConnectionOption) (*PeerConnection, error) {
	var params peerConnectionParams
	for _, opt := range opts {
		opt(&params)
	}

	ref, err := InstancePtr()
	if err != nil {
		return nil, err
	}
	pc, err := ref.API().NewPeerConnection(config)
	if err != nil {
		ref.Release()
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	p := &PeerConnection{
		pc:                 pc,
		legacy:             params.legacy,
		wrapperByImpl:      make(map[*webrtc.RTPTransceiver]*Transceiver),
		debouncedNegotiate: debounce.New(negotiationFrequency),
	}
	p.initObject(ref, ObjectTypePeerConnection, params.name, nil)

	pc.OnTrack(p.handleTrack)
	pc.OnNegotiationNeeded(func() {
		p.debouncedNegotiate(func() {
			if f := p.OnNegotiationNeeded; f != nil {
				f()
			}
		})
	})
	return p, nil
}

// AddAudioTransceiver adds an audio media line with the given desired
// direction.
func (p *PeerConnection) AddAudioTransceiver(desired Direction, streamIDs ...string) (*AudioTransceiver, error) {
	t, err := p.addTransceiver(TrackKindAudio, desired, streamIDs)
	if err != nil {
		return nil, err
	}
	return newAudioTransceiver(t), nil
}

// AddVideoTransceiver adds a video media line with the given desired
// direction.
func (p *PeerConnection) AddVideoTransceiver(desired Direction, streamIDs ...string) (*VideoTransceiver, error) {
	t, err := p.addTransceiver(TrackKindVideo, desired, streamIDs)
	if err != nil {
		return nil, err
	}
	return newVideoTransceiver(t), nil
}

func (p *PeerConnection) addTransceiver(kind TrackKind, desired Direction, streamIDs []string) (*Transceiver, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("connection %q is closed: %w", p.Name(), ErrInvalidHandle)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	mlineIndex := len(p.transceivers)
	name := fmt.Sprintf("%s-%d", kind, mlineIndex)

	if p.legacy {
		t := newEmulatedTransceiver(p.factoryRef.AddRef(), kind, mlineIndex, name, streamIDs, desired)
		p.transceivers = append(p.transceivers, t)
		return t, nil
	}

	impl, err := p.pc.AddTransceiverFromKind(kind.RTPType(), webrtc.RTPTransceiverInit{
		Direction: toRTPDirection(desired),
	})
	if err != nil {
		return nil, fmt.Errorf("adding %s transceiver: %w", kind, err)
	}
	t := newNativeTransceiver(p.factoryRef.AddRef(), kind, mlineIndex, name, streamIDs, desired, wrapRTPTransceiver(p.pc, impl, toRTPDirection(desired)))
	p.transceivers = append(p.transceivers, t)
	p.wrapperByImpl[impl] = t
	return t, nil
}

// Transceivers returns the connection's transceivers in media-line
// order.
func (p *PeerConnection) Transceivers() []*Transceiver {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Transceiver, len(p.transceivers))
	copy(out, p.transceivers)
	return out
}

// CreateOffer produces a local offer. On legacy connections the
// emulated sender slots are synchronized with track attachment first,
// since sender presence is what the legacy model negotiates on.
func (p *PeerConnection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if p.legacy {
		if err := p.syncEmulatedSenders(); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}
	return p.pc.CreateOffer(options)
}

func (p *PeerConnection) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	if p.legacy {
		if err := p.syncEmulatedSenders(); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}
	return p.pc.CreateAnswer(options)
}

// SetLocalDescription applies desc and recomputes every transceiver's
// observable direction state.
func (p *PeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return err
	}
	p.onSessionDescApplied(desc, false)
	return nil
}

// SetRemoteDescription applies desc, creates wrappers for any media
// lines the remote side introduced, and recomputes every transceiver's
// observable direction state.
func (p *PeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	p.onSessionDescApplied(desc, true)
	return nil
}

func (p *PeerConnection) onSessionDescApplied(desc webrtc.SessionDescription, remote bool) {
	p.mu.Lock()
	if remote {
		if p.legacy {
			p.adoptLegacyMediaLinesLocked(desc)
		} else {
			p.adoptNativeTransceiversLocked()
		}
	}
	if !p.legacy {
		p.applyNegotiatedDirectionsLocked(desc, remote)
	}
	transceivers := make([]*Transceiver, len(p.transceivers))
	copy(transceivers, p.transceivers)
	p.mu.Unlock()

	for _, t := range transceivers {
		t.onSessionDescUpdated(remote, false)
	}
}

// adoptLegacyMediaLinesLocked creates emulated transceivers for media
// lines first negotiated by the remote side.
func (p *PeerConnection) adoptLegacyMediaLinesLocked(desc webrtc.SessionDescription) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		getLogger().Error(err, "could not parse remote description", "connection", p.Name())
		return
	}
	for i, m := range parsed.MediaDescriptions {
		kind := TrackKind(m.MediaName.Media)
		if kind != TrackKindAudio && kind != TrackKindVideo {
			continue
		}
		if i < len(p.transceivers) {
			continue
		}
		name := fmt.Sprintf("%s-%d", kind, i)
		t := newEmulatedTransceiver(p.factoryRef.AddRef(), kind, i, name, nil, DirectionRecvOnly)
		p.transceivers = append(p.transceivers, t)
	}
}

// adoptNativeTransceiversLocked wraps engine transceivers created as a
// side effect of applying a remote description.
func (p *PeerConnection) adoptNativeTransceiversLocked() {
	for i, impl := range p.pc.GetTransceivers() {
		if _, ok := p.wrapperByImpl[impl]; ok {
			continue
		}
		kind := KindFromRTPType(impl.Kind())
		desired, _ := fromRTPDirection(impl.Direction())
		name := fmt.Sprintf("%s-%d", kind, i)
		t := newNativeTransceiver(p.factoryRef.AddRef(), kind, i, name, nil, desired, wrapRTPTransceiver(p.pc, impl, impl.Direction()))
		p.transceivers = append(p.transceivers, t)
		p.wrapperByImpl[impl] = t
	}
}

// applyNegotiatedDirectionsLocked derives each transceiver's negotiated
// direction from an applied answer. The engine exposes no negotiated
// direction of its own, so the directions are read back from the answer
// SDP: a local answer states our view directly, a remote answer states
// the peer's view and is reversed.
func (p *PeerConnection) applyNegotiatedDirectionsLocked(desc webrtc.SessionDescription, remote bool) {
	if desc.Type != webrtc.SDPTypeAnswer && desc.Type != webrtc.SDPTypePranswer {
		return
	}
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		getLogger().Error(err, "could not parse answer", "connection", p.Name())
		return
	}
	mline := 0
	for _, m := range parsed.MediaDescriptions {
		kind := TrackKind(m.MediaName.Media)
		if kind != TrackKindAudio && kind != TrackKindVideo {
			continue
		}
		if mline >= len(p.transceivers) {
			break
		}
		t := p.transceivers[mline]
		mline++
		impl, ok := t.impl.(*rtpTransceiverImpl)
		if !ok {
			continue
		}
		d := mediaSectionDirection(m)
		if remote {
			d = reverseRTPDirection(d)
		}
		impl.setCurrentDirection(d)
	}
}

// syncEmulatedSenders makes engine sender presence match track
// attachment on every emulated transceiver. The legacy model has no
// direction attribute to negotiate; an existing sender is the sending
// signal.
func (p *PeerConnection) syncEmulatedSenders() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transceivers {
		if !t.IsEmulated() {
			continue
		}
		hasTrack := t.localTrack != nil
		hasSender := t.emulated.hasSender()
		switch {
		case hasTrack && !hasSender:
			// The pending track carries the packed stream ID; the raw
			// track would negotiate under its own.
			sender, err := p.pc.AddTrack(t.emulated.pendingTrack)
			if err != nil {
				return fmt.Errorf("adding sender for %q: %w", t.Name(), err)
			}
			if err := t.setEmulatedSender(&rtpSenderImpl{sender: sender}); err != nil {
				return err
			}
		case !hasTrack && hasSender:
			impl, ok := t.emulated.sender.(*rtpSenderImpl)
			if ok {
				if err := p.pc.RemoveTrack(impl.sender); err != nil {
					return fmt.Errorf("removing sender for %q: %w", t.Name(), err)
				}
			}
			if err := t.setEmulatedSender(nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *PeerConnection) handleTrack(rtpTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	p.adoptRemoteTrack(KindFromRTPType(rtpTrack.Kind()), rtpTrack.ID(), rtpTrack.StreamID(), rtpTrack, receiver)
}

// adoptRemoteTrack registers an engine-announced remote track with its
// transceiver. The closed check happens under the connection lock so a
// concurrent Close either sees the track in remoteTracks or the track
// is never registered; either way nothing leaks.
func (p *PeerConnection) adoptRemoteTrack(kind TrackKind, trackID, streamID string, rtpTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		return
	}
	var t *Transceiver
	if p.legacy {
		t = p.findEmulatedForRemoteLocked(kind, streamID)
	} else {
		for _, impl := range p.pc.GetTransceivers() {
			if impl.Receiver() == receiver {
				t = p.wrapperByImpl[impl]
				break
			}
		}
	}
	if t == nil {
		p.mu.Unlock()
		getLogger().Info("remote track with no matching transceiver, dropping",
			"connection", p.Name(), "kind", kind, "trackID", trackID)
		return
	}
	if t.IsEmulated() {
		_ = t.setEmulatedReceiver(&rtpReceiverImpl{receiver: receiver})
	}
	remote := newRemoteTrack(p.factoryRef.AddRef(), kind, trackID, rtpTrack, p)
	p.remoteTracks = append(p.remoteTracks, remote)
	p.mu.Unlock()

	t.onRemoteTrackAdded(remote)
	if f := p.OnTrack; f != nil {
		f(remote, t)
	}
}

// findEmulatedForRemoteLocked resolves the transceiver a legacy remote
// track belongs to, preferring the media line index encoded in its
// stream ID.
func (p *PeerConnection) findEmulatedForRemoteLocked(kind TrackKind, streamID string) *Transceiver {
	if mline, _, _, err := parseEmulatedStreamID(streamID); err == nil {
		if mline >= 0 && mline < len(p.transceivers) && p.transceivers[mline].Kind() == kind {
			return p.transceivers[mline]
		}
	}
	for _, t := range p.transceivers {
		if t.IsEmulated() && t.Kind() == kind && t.remoteTrack == nil {
			return t
		}
	}
	return nil
}

func (p *PeerConnection) writePLI(ssrc webrtc.SSRC) error {
	return p.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
	})
}

// AddICECandidate and the description accessors are thin passthroughs.
func (p *PeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *PeerConnection) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *PeerConnection) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

// Close tears the connection down: engine objects are released before
// the wrappers unregister, so the factory never observes a live wrapper
// whose engine is already gone. Idempotent.
func (p *PeerConnection) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	transceivers := p.transceivers
	remoteTracks := p.remoteTracks
	p.transceivers = nil
	p.remoteTracks = nil
	p.mu.Unlock()

	for _, t := range transceivers {
		if t.localTrack != nil {
			t.onLocalTrackRemoved(t.localTrack)
		}
		if t.remoteTrack != nil {
			t.onRemoteTrackRemoved(t.remoteTrack)
		}
	}

	err := p.pc.Close()

	for _, rt := range remoteTracks {
		rt.RemoveRef()
	}
	for _, t := range transceivers {
		t.RemoveRef()
	}
	p.RemoveRef()
	return err
}
