// Package orch is the entry point the HTTP and event adapters share. It maps
// a browser client to its coordinator and issues credentials on its behalf.
package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/adapters/credential"
	"github.com/dkeye/SupportCall/internal/app"
	"github.com/dkeye/SupportCall/internal/app/session"
	"github.com/dkeye/SupportCall/internal/domain"
)

var ErrRateLimited = errors.New("too many session starts")

// RateLimitedError carries how long the client should wait before starting
// again. It matches ErrRateLimited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%v, retry in %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

type Orchestrator struct {
	Registry    *app.Registry
	Limiter     *app.StartLimiter
	Credentials credential.Source
}

// Start begins a call for the client. The session runs in the background;
// its progress reaches the client's event subscribers.
func (o *Orchestrator) Start(ctx context.Context, id app.ClientID) (*session.Session, error) {
	coord, done, err := o.Registry.Acquire(id)
	if err != nil {
		return nil, err
	}
	defer done()
	if snap := coord.Snapshot(); snap.State != domain.StateIdle && snap.State != domain.StateClosed {
		return nil, &domain.AlreadyActiveError{SessionID: snap.SessionID, State: snap.State}
	}
	if o.Limiter != nil {
		if ok, wait := o.Limiter.Reserve(id); !ok {
			log.Warn().Str("module", "orch").Str("client", string(id)).Dur("retry_after", wait).Msg("start rate limited")
			return nil, &RateLimitedError{RetryAfter: wait}
		}
	}
	participant, _ := o.Registry.Participant(id)
	s, err := coord.Start(ctx, credential.For(o.Credentials, participant))
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "orch").
		Str("client", string(id)).
		Str("session", string(s.ID())).
		Str("identity", string(participant.ID)).
		Msg("session started")
	return s, nil
}

// StartAndWait is Start for callers that need to know the credential
// outcome. It returns once the session holds a credential, with the
// credential failure if it never got one.
func (o *Orchestrator) StartAndWait(ctx context.Context, id app.ClientID) (*session.Session, error) {
	s, err := o.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.WaitCredential(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Stop hangs up the client's call, if any.
func (o *Orchestrator) Stop(id app.ClientID) {
	coord, ok := o.Registry.Lookup(id)
	if !ok {
		return
	}
	coord.Stop(true)
	log.Info().Str("module", "orch").Str("client", string(id)).Msg("stop requested")
}

// Rename changes the name the client is shown under in the next call.
func (o *Orchestrator) Rename(id app.ClientID, name string) error {
	return o.Registry.Rename(id, name)
}
