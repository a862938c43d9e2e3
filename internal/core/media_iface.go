package core

import (
	"context"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/dkeye/SupportCall/internal/domain"
)

// AudioSink accepts encoded local audio for the remote room.
// *webrtc.TrackLocalStaticSample satisfies it.
type AudioSink interface {
	WriteSample(media.Sample) error
}

// RemoteTrack is a received audio stream.
type RemoteTrack interface {
	ID() string
	// ReadRTP blocks until the next packet or until the track ends.
	ReadRTP() (*rtp.Packet, error)
	// SetReadDeadline unblocks a pending ReadRTP.
	SetReadDeadline(t time.Time) error
}

// Microphone grants exclusive capture handles.
type Microphone interface {
	// Acquire must not hold any device lock when it returns an error.
	Acquire(ctx context.Context) (Capture, error)
}

// Capture is one acquired microphone handle.
type Capture interface {
	ID() string
	// Run pumps frames into sink until ctx is done. While track is disabled
	// it sends silence so the remote jitter buffer keeps its clock.
	Run(ctx context.Context, sink AudioSink, track *domain.AudioTrack) error
	// Close releases the device. Safe to call more than once.
	Close() error
}

// Speaker grants playback handles for remote audio.
type Speaker interface {
	Open(ctx context.Context) (Playback, error)
}

// Playback is one acquired output handle.
type Playback interface {
	WritePacket(pkt *rtp.Packet) error
	Close() error
}
