// Package credential issues room grants for call sessions.
package credential

import (
	"context"
	"fmt"

	"github.com/dkeye/SupportCall/internal/config"
	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
)

// Source issues a credential for one participant. The returned credential
// carries the participant's display name.
type Source interface {
	Issue(ctx context.Context, who domain.Participant) (domain.Credential, error)
}

// New builds the source selected by cfg.Source.
func New(cfg config.CredentialConfig) (Source, error) {
	switch cfg.Source {
	case "static":
		return NewStatic(cfg.Token, cfg.ServerURL, cfg.ExpiresAt, domain.RoomName(cfg.Room)), nil
	case "http":
		return NewHTTPIssuer(cfg.IssuerURL, cfg.IssuerToken), nil
	case "local":
		return NewLocalIssuer(cfg.APIKey, cfg.APISecret, cfg.ServerURL, domain.RoomName(cfg.Room), cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown credential source %q", cfg.Source)
	}
}

// For binds a source to one participant.
func For(src Source, who domain.Participant) core.RequestCredentialFunc {
	return func(ctx context.Context) (domain.Credential, error) {
		return src.Issue(ctx, who)
	}
}
