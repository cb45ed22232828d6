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
	"os"
	"path/filepath"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// SampleProvider feeds media into a local track. OnBind runs before the
// first NextSample call, OnUnbind after the last.
type SampleProvider interface {
	NextSample(ctx context.Context) (media.Sample, error)
	OnBind() error
	OnUnbind() error
}

// AudioSampleProvider additionally reports the current audio level,
// carried in the audio-level RTP header extension.
type AudioSampleProvider interface {
	SampleProvider
	CurrentAudioLevel() uint8
}

// NullSampleProvider produces zero-filled packets at a fixed bitrate,
// useful for load tests and keepalive streams.
type NullSampleProvider struct {
	BytesPerSample uint32
	SampleDuration time.Duration
}

func NewNullSampleProvider(bitrate uint32) *NullSampleProvider {
	return &NullSampleProvider{
		SampleDuration: time.Second / 30,
		BytesPerSample: bitrate / 8 / 30,
	}
}

func (p *NullSampleProvider) NextSample(_ context.Context) (media.Sample, error) {
	return media.Sample{
		Data:     make([]byte, p.BytesPerSample),
		Duration: p.SampleDuration,
	}, nil
}

func (p *NullSampleProvider) OnBind() error {
	return nil
}

func (p *NullSampleProvider) OnUnbind() error {
	return nil
}

const (
	defaultH264FrameDuration = 33 * time.Millisecond
	defaultOpusFrameDuration = 20 * time.Millisecond
)

// FileSampleProvider reads encoded media from an .h264, .ivf or .ogg
// file and hands it out frame by frame.
type FileSampleProvider struct {
	Mime          string
	FileName      string
	FrameDuration time.Duration
	file          *os.File

	// for vp8
	ivfreader *ivfreader.IVFReader

	// for h264
	h264reader *h264reader.H264Reader

	// for ogg
	oggreader   *oggreader.OggReader
	lastGranule uint64
}

type FileSampleProviderOption func(*FileSampleProvider)

func FileTrackWithMime(mime string) FileSampleProviderOption {
	return func(provider *FileSampleProvider) {
		provider.Mime = mime
	}
}

func FileTrackWithFrameDuration(duration time.Duration) FileSampleProviderOption {
	return func(provider *FileSampleProvider) {
		provider.FrameDuration = duration
	}
}

// NewFileSampleProvider creates a provider for file, detecting the mime
// type from the extension when not set explicitly.
func NewFileSampleProvider(file string, options ...FileSampleProviderOption) (*FileSampleProvider, error) {
	provider := &FileSampleProvider{
		FileName: file,
	}
	for _, opt := range options {
		opt(provider)
	}

	if provider.Mime == "" {
		switch filepath.Ext(file) {
		case ".h264":
			provider.Mime = webrtc.MimeTypeH264
		case ".ogg":
			provider.Mime = webrtc.MimeTypeOpus
		case ".ivf":
			provider.Mime = webrtc.MimeTypeVP8
		default:
			return nil, fmt.Errorf("cannot determine mime type of %q: %w", file, ErrUnsupported)
		}
	}

	switch provider.Mime {
	case webrtc.MimeTypeH264, webrtc.MimeTypeOpus, webrtc.MimeTypeVP8:
	// allow
	default:
		return nil, fmt.Errorf("mime type %q: %w", provider.Mime, ErrUnsupported)
	}

	if _, err := os.Stat(file); err != nil {
		return nil, err
	}
	return provider, nil
}

func (p *FileSampleProvider) OnBind() error {
	var err error
	p.file, err = os.Open(p.FileName)
	if err != nil {
		return err
	}
	switch p.Mime {
	case webrtc.MimeTypeH264:
		p.h264reader, err = h264reader.NewReader(p.file)
	case webrtc.MimeTypeVP8:
		var ivfheader *ivfreader.IVFFileHeader
		p.ivfreader, ivfheader, err = ivfreader.NewWith(p.file)
		if err == nil {
			p.FrameDuration = time.Millisecond * time.Duration((float32(ivfheader.TimebaseNumerator)/float32(ivfheader.TimebaseDenominator))*1000)
		}
	case webrtc.MimeTypeOpus:
		p.oggreader, _, err = oggreader.NewWith(p.file)
	default:
		err = fmt.Errorf("mime type %q: %w", p.Mime, ErrUnsupported)
	}
	if err != nil {
		_ = p.file.Close()
		return err
	}
	return nil
}

func (p *FileSampleProvider) OnUnbind() error {
	return p.file.Close()
}

func (p *FileSampleProvider) NextSample(_ context.Context) (media.Sample, error) {
	sample := media.Sample{}
	switch p.Mime {
	case webrtc.MimeTypeH264:
		nal, err := p.h264reader.NextNAL()
		if err != nil {
			return sample, err
		}

		sample.Data = nal.Data
		sample.Duration = defaultH264FrameDuration
	case webrtc.MimeTypeVP8:
		frame, _, err := p.ivfreader.ParseNextFrame()
		if err != nil {
			return sample, err
		}
		sample.Data = frame
	case webrtc.MimeTypeOpus:
		pageData, pageHeader, err := p.oggreader.ParseNextPage()
		if err != nil {
			return sample, err
		}
		sampleCount := float64(pageHeader.GranulePosition - p.lastGranule)
		p.lastGranule = pageHeader.GranulePosition

		sample.Data = pageData
		sample.Duration = time.Duration((sampleCount/48000)*1000) * time.Millisecond
	}

	if p.FrameDuration > 0 {
		sample.Duration = p.FrameDuration
	}
	return sample, nil
}
