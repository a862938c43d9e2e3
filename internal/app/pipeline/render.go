package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
)

// renderer forwards one remote track into the playback handle.
type renderer struct {
	src    core.RemoteTrack
	state  *domain.AudioTrack
	cancel context.CancelFunc
	done   chan struct{}
}

func newRenderer(src core.RemoteTrack, cancel context.CancelFunc) *renderer {
	return &renderer{
		src:    src,
		state:  domain.NewAudioTrack(domain.TrackRemote, src.ID()),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// loop reads RTP packets from the remote track and writes them to out.
func (r *renderer) loop(ctx context.Context, out core.Playback, logger *zerolog.Logger) {
	defer close(r.done)
	defer r.state.MarkEnded()

	r.state.MarkLive()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("render ctx done")
			return
		default:
		}
		pkt, err := r.src.ReadRTP()
		if err != nil {
			if ctx.Err() == nil {
				logger.Info().Err(err).Msg("remote track ended")
			}
			return
		}
		if !r.state.Enabled() {
			continue
		}
		if err := out.WritePacket(pkt); err != nil {
			logger.Error().Err(err).Msg("playback write error, stopping render")
			return
		}
	}
}

// stop unblocks the read and waits up to bound for the loop to exit.
func (r *renderer) stop(bound time.Duration) bool {
	r.cancel()
	_ = r.src.SetReadDeadline(time.Now())
	select {
	case <-r.done:
		return true
	case <-time.After(bound):
		return false
	}
}
