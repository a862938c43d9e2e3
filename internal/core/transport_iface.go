package core

import (
	"context"

	"github.com/dkeye/SupportCall/internal/domain"
)

// Transport opens the real-time media channel to a room.
type Transport interface {
	// Open dials endpoint with cred. It returns once the channel is negotiating;
	// readiness and failures arrive later through events.
	Open(ctx context.Context, endpoint string, cred domain.Credential, events TransportEvents) (TransportHandle, error)
}

// TransportHandle is an open channel. Close stops every further event.
type TransportHandle interface {
	LocalAudio() AudioSink
	Close() error
}

// TransportEvents is implemented by the session side. Calls may come from any
// goroutine and must not block.
type TransportEvents interface {
	OnReady()
	OnTrackReceived(track RemoteTrack)
	OnFailure(kind domain.TransportErrorKind)
	OnRemoteClose()
	OnHeartbeat()
}

// RequestCredentialFunc obtains a room grant for the current user.
type RequestCredentialFunc func(ctx context.Context) (domain.Credential, error)
