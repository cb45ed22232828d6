package rtcsdk

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	remaining int
	bound     int
	unbound   int
}

func (p *countingProvider) NextSample(context.Context) (media.Sample, error) {
	if p.remaining == 0 {
		return media.Sample{}, io.EOF
	}
	p.remaining--
	return media.Sample{Data: []byte{0x00}, Duration: time.Millisecond}, nil
}

func (p *countingProvider) OnBind() error {
	p.bound++
	return nil
}

func (p *countingProvider) OnUnbind() error {
	p.unbound++
	return nil
}

func TestNullSampleProvider(t *testing.T) {
	p := NewNullSampleProvider(240_000)
	sample, err := p.NextSample(context.Background())
	require.NoError(t, err)
	require.Len(t, sample.Data, 1000)
	require.Equal(t, time.Second/30, sample.Duration)
}

func TestFileSampleProviderMimeDetection(t *testing.T) {
	_, err := NewFileSampleProvider("media.wav")
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = NewFileSampleProvider("media.bin", FileTrackWithMime("application/x-unknown"))
	require.ErrorIs(t, err, ErrUnsupported)

	// recognized extension but missing file
	_, err = NewFileSampleProvider("does-not-exist.ogg")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnsupported)
}

func TestStartWriteRunsProviderToCompletion(t *testing.T) {
	resetLibrary(t)

	track, err := CreateLocalAudioTrack("mic")
	require.NoError(t, err)
	t.Cleanup(track.RemoveRef)

	provider := &countingProvider{remaining: 3}
	done := make(chan struct{})
	require.NoError(t, track.StartWrite(provider, func() { close(done) }))
	require.Equal(t, 1, provider.bound)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not finish")
	}
	require.Zero(t, provider.remaining)

	require.NoError(t, track.StopWrite())
	require.Equal(t, 1, provider.unbound)

	// repeated stop is a no-op
	require.NoError(t, track.StopWrite())
	require.Equal(t, 1, provider.unbound)
}
