package device

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/metrics"
)

const playerExitTimeout = time.Second

// Speaker hands out one playback at a time. Remote audio is written as an
// Ogg/Opus stream to the stdin of command, or discarded when command is empty.
type Speaker struct {
	command string

	mu   sync.Mutex
	held bool
}

func NewSpeaker(command string) *Speaker {
	return &Speaker{command: command}
}

func (s *Speaker) Open(ctx context.Context) (core.Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return nil, ErrDeviceBusy
	}

	p := &playback{speaker: s}
	var out io.Writer = io.Discard
	if s.command != "" {
		// The player outlives ctx, which only bounds activation.
		cmd := exec.Command("sh", "-c", s.command)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("player stdin: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start player: %w", err)
		}
		p.cmd, out = cmd, stdin
	}
	w, err := oggwriter.NewWith(out, opusClockRate, 2)
	if err != nil {
		if p.cmd != nil {
			_ = p.cmd.Process.Kill()
			_ = p.cmd.Wait()
		}
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	p.writer = w

	s.held = true
	metrics.DeviceAcquired("speaker")
	log.Info().Str("module", "device").Str("player", s.command).Msg("speaker opened")
	return p, nil
}

func (s *Speaker) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		s.held = false
		metrics.DeviceReleased("speaker")
	}
}

type playback struct {
	speaker *Speaker
	cmd     *exec.Cmd

	mu        sync.Mutex
	writer    *oggwriter.OggWriter
	closeOnce sync.Once
}

func (p *playback) WritePacket(pkt *rtp.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return io.ErrClosedPipe
	}
	return p.writer.WriteRTP(pkt)
}

// Close ends the stream and waits briefly for the player to exit.
func (p *playback) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		if p.writer != nil {
			err = p.writer.Close()
			p.writer = nil
		}
		p.mu.Unlock()

		if p.cmd != nil {
			done := make(chan error, 1)
			go func() { done <- p.cmd.Wait() }()
			select {
			case <-done:
			case <-time.After(playerExitTimeout):
				log.Warn().Str("module", "device").Msg("player did not exit, killing")
				_ = p.cmd.Process.Kill()
				<-done
			}
		}
		p.speaker.release()
		log.Info().Str("module", "device").Msg("speaker released")
	})
	return err
}
