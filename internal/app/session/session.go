// Package session coordinates the lifecycle of one real-time audio call.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/app/pipeline"
	"github.com/dkeye/SupportCall/internal/config"
	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
)

// ErrClosedEarly is returned by WaitCredential when the session closed
// before a credential arrived for a reason other than a credential failure.
var ErrClosedEarly = errors.New("session closed before credential was acquired")

// Session is the handle returned by Start. Its mutable fields belong to the
// coordinator goroutine; callers only use the exported methods.
type Session struct {
	id     domain.SessionID
	log    zerolog.Logger
	done   chan struct{}
	reason domain.CloseReason

	state        domain.ConnectionState
	cred         *domain.Credential
	room         domain.RoomName
	identity     domain.ParticipantID
	pipe         *pipeline.Pipeline
	handle       core.TransportHandle
	gen          uint64
	attempts     int
	cause        domain.TransportErrorKind
	pending      []domain.CloseReason
	remote       core.RemoteTrack
	readyPending bool
	cancel       context.CancelFunc
	backoff      backoff.BackOff
	retryTimer   *time.Timer
	connectTimer *time.Timer
	credentialed chan struct{}
}

func newSession(cfg config.SessionConfig) *Session {
	id := domain.NewSessionID()
	return &Session{
		id:           id,
		log:          log.With().Str("module", "session").Str("session_id", string(id)).Logger(),
		done:         make(chan struct{}),
		credentialed: make(chan struct{}),
		state:        domain.StateIdle,
		backoff:      newBackoff(cfg),
	}
}

func (s *Session) stopConnectTimer() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

func (s *Session) ID() domain.SessionID { return s.id }

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason returns the terminal reason once Done is closed.
func (s *Session) Reason() (domain.CloseReason, bool) {
	select {
	case <-s.done:
		return s.reason, true
	default:
		return domain.CloseReason{}, false
	}
}

// Wait blocks until the session closes or ctx ends.
func (s *Session) Wait(ctx context.Context) (domain.CloseReason, error) {
	select {
	case <-s.done:
		return s.reason, nil
	case <-ctx.Done():
		return domain.CloseReason{}, ctx.Err()
	}
}

// WaitCredential blocks until the session has a credential. It returns the
// credential failure when the session closed before getting one, and
// ErrClosedEarly when it closed for another reason.
func (s *Session) WaitCredential(ctx context.Context) error {
	select {
	case <-s.credentialed:
		return nil
	case <-s.done:
		select {
		case <-s.credentialed:
			return nil
		default:
		}
		var ce *domain.CredentialError
		if errors.As(s.reason.Err, &ce) {
			return ce
		}
		return fmt.Errorf("%w: %s", ErrClosedEarly, s.reason)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newBackoff builds the reconnect delay schedule: base, base*factor, ... capped.
func newBackoff(cfg config.SessionConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase
	b.Multiplier = cfg.BackoffFactor
	b.MaxInterval = cfg.BackoffCap
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
