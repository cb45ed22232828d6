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

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is a media endpoint arriving from the remote peer,
// created by its peer connection when negotiation produces one. Like
// LocalTrack it is thin beyond the attach/detach protocol with its
// transceiver.
type RemoteTrack struct {
	TrackedObject

	kind     TrackKind
	rtpTrack *webrtc.TrackRemote
	pc       *PeerConnection // non-owning, for RTCP feedback

	transceiver *Transceiver
	receiver    ReceiverImpl
}

func newRemoteTrack(ref *FactoryRef, kind TrackKind, name string, rtpTrack *webrtc.TrackRemote, pc *PeerConnection) *RemoteTrack {
	objectType := ObjectTypeRemoteAudioTrack
	if kind == TrackKindVideo {
		objectType = ObjectTypeRemoteVideoTrack
	}
	t := &RemoteTrack{
		kind:     kind,
		rtpTrack: rtpTrack,
		pc:       pc,
	}
	t.initObject(ref, objectType, name, t.detachOnDestroy)
	return t
}

func (t *RemoteTrack) detachOnDestroy() {
	if tr := t.transceiver; tr != nil {
		tr.onRemoteTrackRemoved(t)
	}
}

func (t *RemoteTrack) ID() string {
	return t.rtpTrack.ID()
}

func (t *RemoteTrack) Kind() TrackKind {
	return t.kind
}

func (t *RemoteTrack) SSRC() webrtc.SSRC {
	return t.rtpTrack.SSRC()
}

// Transceiver returns the transceiver this track is attached to, or nil
// when detached.
func (t *RemoteTrack) Transceiver() *Transceiver {
	return t.transceiver
}

func (t *RemoteTrack) IsAttached() bool {
	return t.transceiver != nil
}

// TrackRemote exposes the underlying engine media object.
func (t *RemoteTrack) TrackRemote() *webrtc.TrackRemote {
	return t.rtpTrack
}

// ReadRTP reads the next RTP packet from the remote peer.
func (t *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.rtpTrack.ReadRTP()
	return pkt, err
}

// RequestKeyFrame asks the remote sender for a keyframe via a PLI.
// Video only.
func (t *RemoteTrack) RequestKeyFrame() error {
	if t.kind != TrackKindVideo {
		return fmt.Errorf("keyframe request on %s track: %w", t.kind, ErrInvalidOperation)
	}
	if t.pc == nil {
		return fmt.Errorf("track %q has no peer connection: %w", t.Name(), ErrInvalidHandle)
	}
	return t.pc.writePLI(t.rtpTrack.SSRC())
}

func (t *RemoteTrack) onAttached(tr *Transceiver, receiver ReceiverImpl) {
	t.transceiver = tr
	t.receiver = receiver
}

func (t *RemoteTrack) onDetached() {
	t.receiver = nil
	t.transceiver = nil
}
