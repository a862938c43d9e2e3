package session

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
	"github.com/dkeye/SupportCall/internal/metrics"
)

// attemptEvents tags every transport callback with the attempt it belongs to.
type attemptEvents struct {
	c   *Coordinator
	sid domain.SessionID
	gen uint64
}

func (e *attemptEvents) OnReady() {
	e.c.post(readyMsg{sid: e.sid, gen: e.gen})
}

func (e *attemptEvents) OnTrackReceived(track core.RemoteTrack) {
	e.c.post(trackMsg{sid: e.sid, gen: e.gen, track: track})
}

func (e *attemptEvents) OnFailure(kind domain.TransportErrorKind) {
	e.c.post(failureMsg{sid: e.sid, gen: e.gen, kind: kind})
}

func (e *attemptEvents) OnRemoteClose() { e.c.watchdog.RemoteClosed(e.sid, e.gen) }
func (e *attemptEvents) OnHeartbeat()   { e.c.watchdog.Beat(e.sid, e.gen) }

// requestCredential runs the request off the loop, bounded by CredentialTimeout.
func (c *Coordinator) requestCredential(s *Session, request core.RequestCredentialFunc) {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.CredentialTimeout)
	s.cancel = cancel
	sid := s.id

	go func() {
		defer cancel()
		started := time.Now()
		res := make(chan credentialMsg, 1)
		go func() {
			cred, err := request(ctx)
			res <- credentialMsg{sid: sid, cred: cred, err: err}
		}()

		var m credentialMsg
		select {
		case m = <-res:
		case <-ctx.Done():
			m = credentialMsg{sid: sid, err: ctx.Err()}
			go func() {
				late := <-res
				discardCredential(&late.cred, "late")
			}()
		}
		metrics.CredentialDuration.Observe(time.Since(started).Seconds())
		if !c.post(m) {
			discardCredential(&m.cred, "late")
		}
	}()
}

func discardCredential(cred *domain.Credential, when string) {
	if cred.IsZero() {
		return
	}
	cred.Zero()
	metrics.CredentialsDiscarded.WithLabelValues(when).Inc()
}

func (c *Coordinator) handleCredential(m credentialMsg) {
	s := c.lookup(m.sid)
	if s == nil || s.state != domain.StateAcquiringCredential {
		discardCredential(&m.cred, "late")
		metrics.StaleCallbacks.Inc()
		return
	}
	s.cancel = nil

	if m.err != nil {
		discardCredential(&m.cred, "closed")
		err := classifyCredentialError(m.err)
		s.log.Warn().Err(err).Msg("credential request failed")
		c.finish(s, domain.ErrorReason(err))
		return
	}
	if err := m.cred.Validate(c.now()); err != nil {
		discardCredential(&m.cred, "closed")
		s.log.Warn().Err(err).Msg("credential rejected")
		c.finish(s, domain.ErrorReason(err))
		return
	}

	cred := m.cred
	s.cred = &cred
	s.room = cred.Room()
	s.identity = cred.Identity()
	s.log.Info().Str("credential", cred.String()).Msg("credential acquired")

	c.transition(s, domain.StateConnecting)
	close(s.credentialed)
	c.openTransport(s)
}

func classifyCredentialError(err error) error {
	var ce *domain.CredentialError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.CredentialError{Kind: domain.CredentialTimeout, Err: err}
	}
	return &domain.CredentialError{Kind: domain.CredentialInvalid, Err: err}
}

// openTransport starts a new attempt. Older attempts become stale.
func (c *Coordinator) openTransport(s *Session) {
	s.gen++
	gen, sid := s.gen, s.id
	ctx, cancel := context.WithCancel(c.baseCtx)
	s.cancel = cancel
	s.readyPending = false

	endpoint := s.cred.ServerURL()
	if endpoint == "" {
		endpoint = c.endpoint
	}
	cred := *s.cred
	events := &attemptEvents{c: c, sid: sid, gen: gen}
	s.log.Info().Uint64("gen", gen).Int("attempt", s.attempts).Str("endpoint", endpoint).Msg("opening transport")

	go func() {
		handle, err := c.transport.Open(ctx, endpoint, cred, events)
		if ctx.Err() != nil && handle != nil {
			closeOrphan(handle, sid, gen)
			return
		}
		if !c.post(openedMsg{sid: sid, gen: gen, handle: handle, err: err}) && handle != nil {
			closeOrphan(handle, sid, gen)
		}
	}()

	if c.cfg.ConnectTimeout > 0 {
		s.connectTimer = time.AfterFunc(c.cfg.ConnectTimeout, func() {
			c.post(connectDeadlineMsg{sid: sid, gen: gen})
		})
	}
}

func closeOrphan(h core.TransportHandle, sid domain.SessionID, gen uint64) {
	metrics.StaleCallbacks.Inc()
	if err := h.Close(); err != nil {
		sessionLog(sid).Warn().Err(err).Uint64("gen", gen).Msg("close orphaned transport")
	}
}

// current reports whether the tagged callback belongs to the live attempt.
func (c *Coordinator) current(sid domain.SessionID, gen uint64) *Session {
	s := c.lookup(sid)
	if s == nil || s.gen != gen || !s.state.HasTransport() {
		metrics.StaleCallbacks.Inc()
		return nil
	}
	return s
}

func (c *Coordinator) handleOpened(m openedMsg) {
	s := c.current(m.sid, m.gen)
	if s == nil {
		if m.handle != nil {
			closeOrphan(m.handle, m.sid, m.gen)
		}
		return
	}
	if m.err != nil {
		s.log.Warn().Err(m.err).Uint64("gen", m.gen).Msg("transport open failed")
		c.handleFailure(s, domain.TransportErrorKindOf(m.err), false, m.err)
		return
	}
	s.cancel = nil
	s.handle = m.handle
	if s.readyPending {
		s.readyPending = false
		c.becomeConnected(s)
	}
}

func (c *Coordinator) handleReady(m readyMsg) {
	s := c.current(m.sid, m.gen)
	if s == nil || s.state == domain.StateConnected {
		return
	}
	if s.handle == nil {
		s.readyPending = true
		return
	}
	c.becomeConnected(s)
}

func (c *Coordinator) handleTrack(m trackMsg) {
	s := c.current(m.sid, m.gen)
	if s == nil {
		return
	}
	s.remote = m.track
	if s.pipe == nil {
		s.log.Debug().Str("track_id", m.track.ID()).Msg("remote track buffered until connected")
		return
	}
	c.bindRemote(s)
}

func (c *Coordinator) handleFailureMsg(m failureMsg) {
	s := c.current(m.sid, m.gen)
	if s == nil {
		return
	}
	c.handleFailure(s, m.kind, m.noRetry, nil)
}

// handleFailure ends the current attempt and either schedules a retry or
// closes the session.
func (c *Coordinator) handleFailure(s *Session, kind domain.TransportErrorKind, noRetry bool, cause error) {
	c.watchdog.Disarm()
	c.releaseAttempt(s)
	if s.cause == "" {
		s.cause = kind
	}

	action := Terminate
	if !noRetry {
		action = c.policy.OnFailure(kind, s.attempts)
	}
	s.log.Warn().Str("kind", string(kind)).Int("attempts", s.attempts).Str("action", action.String()).Msg("transport failure")

	if action == Terminate {
		if kind == domain.RemoteClosed {
			c.finish(s, domain.RemoteClosedReason())
			return
		}
		c.finish(s, domain.ErrorReason(&domain.TransportError{Kind: s.cause, Err: cause}))
		return
	}

	s.attempts++
	if s.state != domain.StateReconnecting {
		c.transition(s, domain.StateReconnecting)
	} else {
		c.publish(s)
	}
	delay := s.backoff.NextBackOff()
	if delay < 0 {
		delay = c.cfg.BackoffCap
	}
	// The retry gets its own generation so nothing from the failed attempt
	// can land while the timer runs.
	s.gen++
	gen, sid := s.gen, s.id
	metrics.RecordReconnect(string(s.cause))
	s.log.Info().Int("attempt", s.attempts).Dur("delay", delay).Msg("reconnect scheduled")
	s.retryTimer = time.AfterFunc(delay, func() {
		c.post(retryMsg{sid: sid, gen: gen})
	})
}

// handleConnectDeadline fails an attempt that opened no usable transport
// within ConnectTimeout.
func (c *Coordinator) handleConnectDeadline(m connectDeadlineMsg) {
	s := c.current(m.sid, m.gen)
	if s == nil || s.state == domain.StateConnected {
		return
	}
	s.connectTimer = nil
	s.log.Warn().Uint64("gen", m.gen).Dur("timeout", c.cfg.ConnectTimeout).Msg("connect deadline exceeded")
	c.handleFailure(s, domain.NetworkUnreachable, false, context.DeadlineExceeded)
}

func (c *Coordinator) handleRetry(m retryMsg) {
	s := c.lookup(m.sid)
	if s == nil || s.gen != m.gen || s.state != domain.StateReconnecting {
		metrics.StaleCallbacks.Inc()
		return
	}
	s.retryTimer = nil
	if s.cred.Expired(c.now()) {
		s.log.Warn().Msg("credential expired before reconnect")
		c.finish(s, domain.ExpiredReason())
		return
	}
	c.openTransport(s)
}
