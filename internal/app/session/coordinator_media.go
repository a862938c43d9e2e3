package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/app/pipeline"
	"github.com/dkeye/SupportCall/internal/domain"
)

// becomeConnected activates audio for a ready attempt. Connected is entered
// only after both devices are held.
func (c *Coordinator) becomeConnected(s *Session) {
	p := pipeline.New(c.mic, c.speaker, c.cfg.DeactivateTimeout, s.log)
	ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.ActivateTimeout)
	err := p.Activate(ctx, s.handle.LocalAudio())
	cancel()
	if err != nil {
		p.Deactivate()
		var te *domain.TransportError
		if !errors.As(err, &te) {
			err = &domain.TransportError{Kind: domain.DeviceUnavailable, Err: err}
		}
		s.log.Error().Err(err).Msg("audio pipeline activation failed")
		c.finish(s, domain.ErrorReason(err))
		return
	}

	s.stopConnectTimer()
	s.pipe = p
	c.setPipe(p)
	if s.remote != nil {
		c.bindRemote(s)
	}

	s.attempts = 0
	s.cause = ""
	s.backoff.Reset()
	c.transition(s, domain.StateConnected)
	c.watchdog.Arm(s.id, s.gen)
}

func (c *Coordinator) bindRemote(s *Session) {
	if err := s.pipe.BindRemoteTrack(s.remote); err != nil {
		s.log.Warn().Err(err).Str("track_id", s.remote.ID()).Msg("bind remote track")
		return
	}
	s.log.Info().Str("track_id", s.remote.ID()).Msg("remote track bound")
}

func (c *Coordinator) teardownPipeline(s *Session) {
	if s.pipe == nil {
		return
	}
	s.pipe.Deactivate()
	s.pipe = nil
	c.setPipe(nil)
}

func sessionLog(sid domain.SessionID) *zerolog.Logger {
	l := log.With().Str("module", "session").Str("session_id", string(sid)).Logger()
	return &l
}
