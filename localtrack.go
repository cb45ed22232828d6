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
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/atomic"
)

type localTrackParams struct {
	trackID    string
	streamID   string
	capability webrtc.RTPCodecCapability
}

type LocalTrackOption func(*localTrackParams)

func WithTrackID(id string) LocalTrackOption {
	return func(p *localTrackParams) {
		p.trackID = id
	}
}

func WithStreamID(id string) LocalTrackOption {
	return func(p *localTrackParams) {
		p.streamID = id
	}
}

func WithRTPCodecCapability(c webrtc.RTPCodecCapability) LocalTrackOption {
	return func(p *localTrackParams) {
		p.capability = c
	}
}

// LocalTrack is a media endpoint the local side sends from. Beyond
// sample writing it is thin: its real job is the attach/detach protocol
// with its transceiver. The back-pointer to the transceiver is
// non-owning and valid exactly while attached; the engine-level sender
// handle follows the same rule.
type LocalTrack struct {
	TrackedObject

	kind        TrackKind
	rtpTrack    webrtc.TrackLocal
	sampleTrack *webrtc.TrackLocalStaticSample // nil when rtpTrack is caller-supplied

	transceiver *Transceiver
	sender      SenderImpl
	muted       atomic.Bool

	writeMu     sync.Mutex
	provider    SampleProvider
	cancelWrite context.CancelFunc
	writeDone   chan struct{}
}

// CreateLocalAudioTrack creates a sample-backed local audio track. Like
// every wrapper, the track resolves (and, if needed, initializes) the
// global factory and holds it alive until released.
func CreateLocalAudioTrack(name string, opts ...LocalTrackOption) (*LocalTrack, error) {
	return createLocalTrack(name, TrackKindAudio, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, ObjectTypeLocalAudioTrack, opts...)
}

// CreateLocalVideoTrack creates a sample-backed local video track.
func CreateLocalVideoTrack(name string, opts ...LocalTrackOption) (*LocalTrack, error) {
	return createLocalTrack(name, TrackKindVideo, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, ObjectTypeLocalVideoTrack, opts...)
}

func createLocalTrack(name string, kind TrackKind, capability webrtc.RTPCodecCapability, objectType ObjectType, opts ...LocalTrackOption) (*LocalTrack, error) {
	params := localTrackParams{
		trackID:    uuid.NewString(),
		streamID:   uuid.NewString(),
		capability: capability,
	}
	for _, opt := range opts {
		opt(&params)
	}

	ref, err := InstancePtr()
	if err != nil {
		return nil, err
	}
	sampleTrack, err := webrtc.NewTrackLocalStaticSample(params.capability, params.trackID, params.streamID)
	if err != nil {
		ref.Release()
		return nil, fmt.Errorf("creating %s track: %w", kind, err)
	}

	t := &LocalTrack{
		kind:        kind,
		rtpTrack:    sampleTrack,
		sampleTrack: sampleTrack,
	}
	t.initObject(ref, objectType, name, t.detachOnDestroy)
	return t, nil
}

func (t *LocalTrack) detachOnDestroy() {
	_ = t.StopWrite()
	if tr := t.transceiver; tr != nil {
		tr.onLocalTrackRemoved(t)
	}
}

func (t *LocalTrack) ID() string {
	return t.rtpTrack.ID()
}

func (t *LocalTrack) Kind() TrackKind {
	return t.kind
}

// Transceiver returns the transceiver this track is attached to, or nil
// when detached.
func (t *LocalTrack) Transceiver() *Transceiver {
	return t.transceiver
}

func (t *LocalTrack) IsAttached() bool {
	return t.transceiver != nil
}

// TrackLocal exposes the underlying engine media object.
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal {
	return t.rtpTrack
}

func (t *LocalTrack) SetMuted(muted bool) {
	if t.muted.Swap(muted) != muted {
		getLogger().V(1).Info("local track mute changed", "track", t.Name(), "muted", muted)
	}
}

func (t *LocalTrack) IsMuted() bool {
	return t.muted.Load()
}

// WriteSample writes one media sample. Samples written while muted are
// silently dropped.
func (t *LocalTrack) WriteSample(sample media.Sample) error {
	if t.sampleTrack == nil {
		return fmt.Errorf("track %q is not sample-backed: %w", t.Name(), ErrUnsupported)
	}
	if t.muted.Load() {
		return nil
	}
	return t.sampleTrack.WriteSample(sample)
}

// StartWrite feeds the track from provider on a background goroutine
// until the provider reports io.EOF or StopWrite is called. A previous
// provider, if any, is unbound first. onComplete, if set, runs when the
// writer exits.
func (t *LocalTrack) StartWrite(provider SampleProvider, onComplete func()) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.provider == provider {
		return nil
	}
	if t.cancelWrite != nil {
		t.cancelWrite()
		t.cancelWrite = nil
	}
	// The old worker may still be inside NextSample; the provider must
	// not be unbound under it.
	if t.writeDone != nil {
		<-t.writeDone
		t.writeDone = nil
	}
	if t.provider != nil {
		if err := t.provider.OnUnbind(); err != nil {
			return err
		}
		t.provider = nil
	}
	if provider == nil {
		return nil
	}
	if err := provider.OnBind(); err != nil {
		return err
	}
	var ctx context.Context
	ctx, t.cancelWrite = context.WithCancel(context.Background())
	t.provider = provider
	done := make(chan struct{})
	t.writeDone = done
	// done closes once the worker is out of the provider but before
	// onComplete, so a StopWrite issued from onComplete cannot deadlock.
	go t.writeWorker(ctx, provider, func() {
		close(done)
		if onComplete != nil {
			onComplete()
		}
	})
	return nil
}

// StopWrite stops the writer and unbinds the provider.
func (t *LocalTrack) StopWrite() error {
	return t.StartWrite(nil, nil)
}

func (t *LocalTrack) writeWorker(ctx context.Context, provider SampleProvider, onComplete func()) {
	if onComplete != nil {
		defer onComplete()
	}

	nextSampleTime := time.Now()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		sample, err := provider.NextSample(ctx)
		if err == io.EOF {
			return
		}
		if err != nil {
			getLogger().Error(err, "could not get sample from provider", "track", t.Name())
			return
		}

		if err := t.WriteSample(sample); err != nil {
			getLogger().Error(err, "could not write sample", "track", t.Name())
			return
		}

		// account for clock drift
		nextSampleTime = nextSampleTime.Add(sample.Duration)
		sleepDuration := time.Until(nextSampleTime)
		if sleepDuration <= 0 {
			continue
		}
		ticker.Reset(sleepDuration)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// onAttached and onDetached update the track's half of the attach link.
// The transceiver updates its own half first on attach and last on
// detach, so the pair flips atomically from the caller's perspective.
func (t *LocalTrack) onAttached(tr *Transceiver, sender SenderImpl) {
	t.transceiver = tr
	t.sender = sender
}

func (t *LocalTrack) onDetached() {
	t.sender = nil
	t.transceiver = nil
}
