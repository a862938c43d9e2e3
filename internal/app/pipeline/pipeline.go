// Package pipeline owns local capture and remote rendering for one connected session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
)

var (
	ErrNotActive = errors.New("audio pipeline not active")
	ErrReleased  = errors.New("audio pipeline already released")
)

// Pipeline is created when a session connects and released exactly once when it
// leaves Connected. A released pipeline is never reused.
type Pipeline struct {
	mic     core.Microphone
	speaker core.Speaker
	bound   time.Duration
	log     zerolog.Logger

	mu            sync.Mutex
	active        bool
	released      bool
	capture       core.Capture
	playback      core.Playback
	local         *domain.AudioTrack
	captureCancel context.CancelFunc
	captureDone   chan struct{}
	render        *renderer

	releaseOnce sync.Once
}

// New builds an idle pipeline. bound caps how long Deactivate may take.
func New(mic core.Microphone, speaker core.Speaker, bound time.Duration, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		mic:     mic,
		speaker: speaker,
		bound:   bound,
		log:     logger.With().Str("module", "pipeline").Logger(),
	}
}

// Activate acquires the microphone and the playback device and starts sending
// captured audio into sink. On error nothing is held.
func (p *Pipeline) Activate(ctx context.Context, sink core.AudioSink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrReleased
	}
	if p.active {
		return nil
	}

	capture, err := p.mic.Acquire(ctx)
	if err != nil {
		return &domain.TransportError{Kind: domain.DeviceUnavailable, Err: fmt.Errorf("microphone: %w", err)}
	}
	playback, err := p.speaker.Open(ctx)
	if err != nil {
		if cerr := capture.Close(); cerr != nil {
			p.log.Error().Err(cerr).Msg("release microphone after speaker failure")
		}
		return &domain.TransportError{Kind: domain.DeviceUnavailable, Err: fmt.Errorf("speaker: %w", err)}
	}

	local := domain.NewAudioTrack(domain.TrackLocal, capture.ID())
	capCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.capture = capture
	p.playback = playback
	p.local = local
	p.captureCancel = cancel
	p.captureDone = done
	p.active = true

	go func() {
		defer close(done)
		defer local.MarkEnded()
		local.MarkLive()
		if err := capture.Run(capCtx, sink, local); err != nil && capCtx.Err() == nil {
			p.log.Warn().Err(err).Str("capture", capture.ID()).Msg("capture stopped")
		}
	}()

	p.log.Info().Str("capture", capture.ID()).Msg("pipeline activated")
	return nil
}

// BindRemoteTrack renders track, replacing whatever was rendered before.
func (p *Pipeline) BindRemoteTrack(track core.RemoteTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return ErrNotActive
	}
	if p.render != nil {
		p.log.Info().Str("old_track", p.render.src.ID()).Str("new_track", track.ID()).Msg("replacing remote track")
		if !p.render.stop(p.bound) {
			p.log.Warn().Str("track_id", p.render.src.ID()).Msg("previous render loop did not stop in time")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := newRenderer(track, cancel)
	p.render = r

	logger := p.log.With().Str("track_id", track.ID()).Logger()
	go r.loop(ctx, p.playback, &logger)
	return nil
}

// SetMicrophoneEnabled mutes or unmutes capture. It reports false when there
// is no local track.
func (p *Pipeline) SetMicrophoneEnabled(on bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil || !p.active {
		return false
	}
	p.local.SetEnabled(on)
	return true
}

// Tracks returns the current local and remote track views.
func (p *Pipeline) Tracks() (local, remote *domain.TrackInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local != nil {
		info := p.local.Info()
		local = &info
	}
	if p.render != nil {
		info := p.render.state.Info()
		remote = &info
	}
	return local, remote
}

func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Deactivate stops capture and rendering and releases both devices. It runs
// once; later calls return immediately. If release exceeds the bound a warning
// is logged and release finishes in the background.
func (p *Pipeline) Deactivate() {
	p.releaseOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			p.release()
		}()
		select {
		case <-done:
			p.log.Info().Msg("pipeline released")
		case <-time.After(p.bound):
			p.log.Warn().Dur("bound", p.bound).Msg("pipeline release timed out")
		}
	})
}

func (p *Pipeline) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	p.released = true

	if p.render != nil {
		if !p.render.stop(p.bound) {
			p.log.Warn().Str("track_id", p.render.src.ID()).Msg("render loop did not stop in time")
		}
		p.render = nil
	}
	if p.captureCancel != nil {
		p.captureCancel()
		<-p.captureDone
		p.captureCancel = nil
	}
	if p.local != nil {
		p.local.SetEnabled(false)
	}
	if p.playback != nil {
		if err := p.playback.Close(); err != nil {
			p.log.Error().Err(err).Msg("close playback")
		}
		p.playback = nil
	}
	if p.capture != nil {
		if err := p.capture.Close(); err != nil {
			p.log.Error().Err(err).Msg("close capture")
		}
		p.capture = nil
	}
}
