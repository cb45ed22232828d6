package rtcsdk

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestLocalTrackOptions(t *testing.T) {
	resetLibrary(t)

	track, err := CreateLocalVideoTrack("cam", WithTrackID("tid"), WithStreamID("sid"))
	require.NoError(t, err)
	t.Cleanup(track.RemoveRef)

	require.Equal(t, "cam", track.Name())
	require.Equal(t, TrackKindVideo, track.Kind())
	require.Equal(t, "tid", track.ID())
	require.Equal(t, "tid", track.TrackLocal().ID())
	require.Equal(t, "sid", track.TrackLocal().StreamID())
	require.Equal(t, ObjectTypeLocalVideoTrack, track.ObjectType())
}

func TestLocalTrackMute(t *testing.T) {
	resetLibrary(t)

	track, err := CreateLocalAudioTrack("mic")
	require.NoError(t, err)
	t.Cleanup(track.RemoveRef)

	require.False(t, track.IsMuted())
	sample := media.Sample{Data: []byte{0x01}, Duration: 20 * time.Millisecond}
	require.NoError(t, track.WriteSample(sample))

	track.SetMuted(true)
	require.True(t, track.IsMuted())
	// muted writes are dropped, not errors
	require.NoError(t, track.WriteSample(sample))

	track.SetMuted(false)
	require.False(t, track.IsMuted())
}

// blockingProvider sits inside NextSample until the write context is
// canceled, recording whether it was unbound while a read was still in
// flight.
type blockingProvider struct {
	started             chan struct{}
	startedOnce         sync.Once
	reading             atomic.Bool
	unbound             atomic.Bool
	unboundWhileReading atomic.Bool
}

func (p *blockingProvider) NextSample(ctx context.Context) (media.Sample, error) {
	p.reading.Store(true)
	p.startedOnce.Do(func() { close(p.started) })
	<-ctx.Done()
	p.reading.Store(false)
	return media.Sample{}, io.EOF
}

func (p *blockingProvider) OnBind() error { return nil }

func (p *blockingProvider) OnUnbind() error {
	if p.reading.Load() {
		p.unboundWhileReading.Store(true)
	}
	p.unbound.Store(true)
	return nil
}

func TestStopWriteWaitsForWorker(t *testing.T) {
	resetLibrary(t)

	track, err := CreateLocalAudioTrack("mic")
	require.NoError(t, err)
	t.Cleanup(track.RemoveRef)

	p := &blockingProvider{started: make(chan struct{})}
	require.NoError(t, track.StartWrite(p, nil))
	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("writer never called the provider")
	}

	require.NoError(t, track.StopWrite())
	require.True(t, p.unbound.Load())
	require.False(t, p.unboundWhileReading.Load(),
		"the provider must only be unbound once the writer has left NextSample")
}
