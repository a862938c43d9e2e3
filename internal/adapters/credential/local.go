package credential

import (
	"context"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/dkeye/SupportCall/internal/domain"
)

// LocalIssuer signs room grants with the room's API key pair.
type LocalIssuer struct {
	apiKey    string
	apiSecret string
	serverURL string
	room      domain.RoomName
	ttl       time.Duration
	now       func() time.Time
}

func NewLocalIssuer(apiKey, apiSecret, serverURL string, room domain.RoomName, ttl time.Duration) *LocalIssuer {
	return &LocalIssuer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		serverURL: serverURL,
		room:      room,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (l *LocalIssuer) Issue(ctx context.Context, who domain.Participant) (domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return domain.Credential{}, err
	}
	at := auth.NewAccessToken(l.apiKey, l.apiSecret)

	canPublish := true
	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         string(l.room),
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}
	at.AddGrant(grant).
		SetIdentity(string(who.ID)).
		SetName(who.DisplayName).
		SetValidFor(l.ttl)

	expiresAt := l.now().Add(l.ttl)
	token, err := at.ToJWT()
	if err != nil {
		return domain.Credential{}, &domain.CredentialError{Kind: domain.CredentialInvalid, Err: err}
	}
	cred := domain.NewCredential(token, l.serverURL, expiresAt, l.room, who.ID)
	return cred.WithDisplayName(who.DisplayName), nil
}
