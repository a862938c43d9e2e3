package credential

import (
	"context"
	"time"

	"github.com/dkeye/SupportCall/internal/domain"
)

// Static hands out a preconfigured token. A missing expiry or room is read
// from the token's claims.
type Static struct {
	token     string
	serverURL string
	expiresAt time.Time
	room      domain.RoomName
}

func NewStatic(token, serverURL string, expiresAt time.Time, room domain.RoomName) *Static {
	return &Static{token: token, serverURL: serverURL, expiresAt: expiresAt, room: room}
}

func (s *Static) Issue(ctx context.Context, who domain.Participant) (domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return domain.Credential{}, err
	}
	identity := who.ID
	expiresAt, room := s.expiresAt, s.room
	if expiresAt.IsZero() || room == "" {
		info, err := inspect(s.token)
		if err != nil {
			return domain.Credential{}, err
		}
		if expiresAt.IsZero() {
			expiresAt = info.ExpiresAt
		}
		if room == "" {
			room = domain.RoomName(info.Room)
		}
		if info.Subject != "" {
			identity = domain.ParticipantID(info.Subject)
		}
	}
	cred := domain.NewCredential(s.token, s.serverURL, expiresAt, room, identity)
	return cred.WithDisplayName(who.DisplayName), nil
}
