package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/app/pipeline"
	"github.com/dkeye/SupportCall/internal/app/watchdog"
	"github.com/dkeye/SupportCall/internal/config"
	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
	"github.com/dkeye/SupportCall/internal/metrics"
)

var ErrCoordinatorClosed = errors.New("session coordinator closed")

const inboxSize = 64

// Listener observes state changes. Callbacks run on the coordinator goroutine
// and must not block or call back into the coordinator synchronously.
type Listener interface {
	OnStateChanged(sid domain.SessionID, state domain.ConnectionState)
	OnClosed(sid domain.SessionID, reason domain.CloseReason)
}

type Options struct {
	Transport  core.Transport
	Microphone core.Microphone
	Speaker    core.Speaker
	// Endpoint is dialed when the credential carries no server URL.
	Endpoint string
	Config   config.SessionConfig
	Policy   Policy
	Listener Listener
	Now      func() time.Time
}

// Snapshot is a read-only view of the current or last session.
type Snapshot struct {
	SessionID domain.SessionID       `json:"session_id,omitempty"`
	State     domain.ConnectionState `json:"state"`
	Attempt   int                    `json:"attempt"`
	Room      domain.RoomName        `json:"room,omitempty"`
	Identity  domain.ParticipantID   `json:"identity,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Local     *domain.TrackInfo      `json:"local_track,omitempty"`
	Remote    *domain.TrackInfo      `json:"remote_track,omitempty"`
}

// Coordinator runs at most one session at a time. Every state change happens
// on a single goroutine that drains the inbox; transport and timer callbacks
// only post messages tagged with the session id and attempt generation.
type Coordinator struct {
	transport core.Transport
	mic       core.Microphone
	speaker   core.Speaker
	endpoint  string
	cfg       config.SessionConfig
	policy    Policy
	listener  Listener
	now       func() time.Time
	watchdog  *watchdog.Watchdog

	inbox      chan message
	done       chan struct{}
	baseCtx    context.Context
	cancelBase context.CancelFunc
	closeOnce  sync.Once

	// owned by the loop
	sess *Session

	mu   sync.RWMutex
	snap Snapshot
	pipe *pipeline.Pipeline
}

func New(opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		transport:  opts.Transport,
		mic:        opts.Microphone,
		speaker:    opts.Speaker,
		endpoint:   opts.Endpoint,
		cfg:        opts.Config,
		policy:     opts.Policy,
		listener:   opts.Listener,
		now:        opts.Now,
		inbox:      make(chan message, inboxSize),
		done:       make(chan struct{}),
		baseCtx:    ctx,
		cancelBase: cancel,
		snap:       Snapshot{State: domain.StateIdle},
	}
	if c.policy == nil {
		c.policy = BudgetPolicy{MaxAttempts: opts.Config.ReconnectAttempts}
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.watchdog = watchdog.New(opts.Config.HeartbeatTimeout, c)
	go c.run()
	return c
}

// Start begins a new session. It fails with *domain.AlreadyActiveError if a
// session is running. Credential and transport failures are reported through
// the session's close reason. ctx only bounds the hand-off to the coordinator.
func (c *Coordinator) Start(ctx context.Context, request core.RequestCredentialFunc) (*Session, error) {
	reply := make(chan startResult, 1)
	if !c.post(startMsg{request: request, reply: reply}) {
		return nil, ErrCoordinatorClosed
	}
	select {
	case res := <-reply:
		return res.sess, res.err
	case <-c.done:
		return nil, ErrCoordinatorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop ends the running session. userInitiated selects between a UserClosed
// and an aborted close reason. Without a running session it does nothing.
func (c *Coordinator) Stop(userInitiated bool) {
	c.post(stopMsg{userInitiated: userInitiated})
}

// SetMicrophoneEnabled mutes or unmutes the local track. It reports false when
// no session is connected.
func (c *Coordinator) SetMicrophoneEnabled(ctx context.Context, on bool) bool {
	reply := make(chan bool, 1)
	if !c.post(micMsg{enabled: on, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// TransportFailure reports a failure for the given attempt. Reports for other
// sessions or older attempts are dropped.
func (c *Coordinator) TransportFailure(sid domain.SessionID, gen uint64, kind domain.TransportErrorKind, noRetry bool) {
	c.post(failureMsg{sid: sid, gen: gen, kind: kind, noRetry: noRetry})
}

func (c *Coordinator) State() domain.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.State
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	snap, p := c.snap, c.pipe
	c.mu.RUnlock()
	if p != nil {
		snap.Local, snap.Remote = p.Tracks()
	}
	return snap
}

// Close aborts any running session and stops the coordinator goroutine.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		reply := make(chan struct{})
		if c.post(shutdownMsg{reply: reply}) {
			<-reply
		}
		<-c.done
	})
}

func (c *Coordinator) post(m message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- m:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for m := range c.inbox {
		if c.dispatch(m) {
			return
		}
	}
}

// dispatch handles one message and reports whether the loop must exit.
func (c *Coordinator) dispatch(m message) bool {
	switch m := m.(type) {
	case startMsg:
		c.handleStart(m)
	case stopMsg:
		c.handleStop(m)
	case credentialMsg:
		c.handleCredential(m)
	case openedMsg:
		c.handleOpened(m)
	case readyMsg:
		c.handleReady(m)
	case trackMsg:
		c.handleTrack(m)
	case failureMsg:
		c.handleFailureMsg(m)
	case connectDeadlineMsg:
		c.handleConnectDeadline(m)
	case retryMsg:
		c.handleRetry(m)
	case micMsg:
		c.handleMic(m)
	case shutdownMsg:
		if s := c.sess; s != nil && s.state.IsActive() {
			c.finish(s, domain.ErrorReason(domain.ErrAborted))
		}
		c.cancelBase()
		close(m.reply)
		return true
	}
	return false
}

// lookup returns the running session if sid still names it.
func (c *Coordinator) lookup(sid domain.SessionID) *Session {
	if c.sess != nil && c.sess.id == sid {
		return c.sess
	}
	return nil
}

func (c *Coordinator) handleStart(m startMsg) {
	if s := c.sess; s != nil && s.state.IsActive() {
		m.reply <- startResult{err: &domain.AlreadyActiveError{SessionID: s.id, State: s.state}}
		return
	}

	s := newSession(c.cfg)
	c.sess = s
	metrics.RecordSessionStarted()
	s.log.Info().Msg("session started")
	if c.listener != nil {
		c.listener.OnStateChanged(s.id, s.state)
	}
	c.publish(s)

	c.transition(s, domain.StateAcquiringCredential)
	c.requestCredential(s, m.request)
	m.reply <- startResult{sess: s}
}

func (c *Coordinator) handleStop(m stopMsg) {
	s := c.sess
	if s == nil || !s.state.IsActive() {
		log.Debug().Str("module", "session").Msg("stop ignored, no active session")
		return
	}
	reason := domain.UserClosedReason()
	if !m.userInitiated {
		reason = domain.ErrorReason(domain.ErrAborted)
	}
	c.finish(s, reason)
}

func (c *Coordinator) handleMic(m micMsg) {
	s := c.sess
	if s == nil || s.pipe == nil {
		m.reply <- false
		return
	}
	ok := s.pipe.SetMicrophoneEnabled(m.enabled)
	if ok {
		s.log.Info().Bool("enabled", m.enabled).Msg("microphone toggled")
	}
	m.reply <- ok
}

// transition moves s along a legal edge and notifies observers.
func (c *Coordinator) transition(s *Session, to domain.ConnectionState) bool {
	from := s.state
	if !from.CanTransitionTo(to) {
		s.log.Error().Str("from", from.String()).Str("to", to.String()).Msg("illegal transition rejected")
		return false
	}
	s.state = to
	metrics.RecordStateTransition(from.String(), to.String())
	s.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	if c.listener != nil {
		c.listener.OnStateChanged(s.id, to)
	}
	c.publish(s)
	return true
}

// finish drives s through Disconnecting to Closed. Every resource is released
// before Closed is entered. A second reason for a closing session is kept
// but never reported.
func (c *Coordinator) finish(s *Session, reason domain.CloseReason) {
	if s.state == domain.StateDisconnecting || s.state == domain.StateClosed {
		s.pending = append(s.pending, reason)
		s.log.Debug().Str("reason", reason.String()).Msg("late close reason ignored")
		return
	}
	c.transition(s, domain.StateDisconnecting)

	c.watchdog.Disarm()
	c.releaseAttempt(s)
	if s.cred != nil {
		discardCredential(s.cred, "closed")
		s.cred = nil
	}

	s.reason = reason
	c.transition(s, domain.StateClosed)
	metrics.RecordSessionClosed(string(reason.Kind))
	s.log.Info().Str("reason", reason.String()).Msg("session closed")
	if c.listener != nil {
		c.listener.OnClosed(s.id, reason)
	}
	close(s.done)
}

// releaseAttempt drops everything owned by the current transport attempt:
// in-flight work, the retry timer, the audio pipeline and the handle.
func (c *Coordinator) releaseAttempt(s *Session) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.stopConnectTimer()
	c.teardownPipeline(s)
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			s.log.Warn().Err(err).Uint64("gen", s.gen).Msg("transport close")
		}
		s.handle = nil
	}
	s.readyPending = false
	s.remote = nil
}

func (c *Coordinator) publish(s *Session) {
	snap := Snapshot{
		SessionID: s.id,
		State:     s.state,
		Attempt:   s.attempts,
		Room:      s.room,
		Identity:  s.identity,
	}
	if s.state == domain.StateClosed {
		snap.Reason = s.reason.String()
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

func (c *Coordinator) setPipe(p *pipeline.Pipeline) {
	c.mu.Lock()
	c.pipe = p
	c.mu.Unlock()
}
