package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/SupportCall/internal/domain"
)

type sampleSink struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (s *sampleSink) WriteSample(sm media.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sm)
	return nil
}

func (s *sampleSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func TestSilenceCapture(t *testing.T) {
	mic := NewMicrophone("", 5*time.Millisecond)
	c, err := mic.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "silence", c.ID())

	sink := &sampleSink{}
	track := domain.NewAudioTrack(domain.TrackLocal, c.ID())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, sink, track) }()

	require.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, opusSilence, sink.samples[0].Data)
	assert.Equal(t, 5*time.Millisecond, sink.samples[0].Duration)
	sink.mu.Unlock()

	track.SetEnabled(false)
	muted := sink.count()
	require.Eventually(t, func() bool { return sink.count() > muted+2 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, opusSilence, sink.samples[len(sink.samples)-1].Data)
	sink.mu.Unlock()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, c.Close())
}

func TestMicrophoneExclusive(t *testing.T) {
	mic := NewMicrophone("", 20*time.Millisecond)
	first, err := mic.Acquire(context.Background())
	require.NoError(t, err)

	_, err = mic.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceBusy)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := mic.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestMicrophoneMissingSource(t *testing.T) {
	mic := NewMicrophone("/nonexistent/source.ogg", 20*time.Millisecond)
	_, err := mic.Acquire(context.Background())
	require.Error(t, err)

	// a failed acquire holds nothing
	mic.sourcePath = ""
	c, err := mic.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestSpeakerDiscard(t *testing.T) {
	spk := NewSpeaker("")
	p, err := spk.Open(context.Background())
	require.NoError(t, err)

	_, err = spk.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceBusy)

	require.NoError(t, p.WritePacket(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1, Timestamp: 960}, Payload: opusSilence}))
	require.NoError(t, p.Close())
	assert.Error(t, p.WritePacket(&rtp.Packet{Payload: opusSilence}))

	again, err := spk.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestSpeakerPlayerProcess(t *testing.T) {
	spk := NewSpeaker("cat > /dev/null")
	p, err := spk.Open(context.Background())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i * 960)}, Payload: opusSilence}
		require.NoError(t, p.WritePacket(pkt))
	}

	start := time.Now()
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAcquireWithCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMicrophone("", 20*time.Millisecond).Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = NewSpeaker("").Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
