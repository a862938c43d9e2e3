package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/app"
	"github.com/dkeye/SupportCall/internal/app/session"
	"github.com/dkeye/SupportCall/internal/domain"
)

// View is what a client sees about itself.
type View struct {
	Participant domain.Participant `json:"participant"`
	Session     session.Snapshot   `json:"session"`
}

// SetMicrophoneEnabled mutes or unmutes the client's microphone. It reports
// false when the client has no connected call.
func (o *Orchestrator) SetMicrophoneEnabled(ctx context.Context, id app.ClientID, on bool) bool {
	coord, ok := o.Registry.Lookup(id)
	if !ok {
		return false
	}
	applied := coord.SetMicrophoneEnabled(ctx, on)
	log.Debug().
		Str("module", "orch").
		Str("client", string(id)).
		Bool("enabled", on).
		Bool("applied", applied).
		Msg("microphone toggle")
	return applied
}

// Snapshot returns the client's identity and current session state. A client
// the registry does not know is reported as an idle guest.
func (o *Orchestrator) Snapshot(id app.ClientID) (View, error) {
	participant, snap, ok := o.Registry.Snapshot(id)
	if !ok {
		return View{
			Participant: domain.Participant{DisplayName: app.GuestName},
			Session:     session.Snapshot{State: domain.StateIdle},
		}, nil
	}
	return View{Participant: participant, Session: snap}, nil
}
