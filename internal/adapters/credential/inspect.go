package credential

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/SupportCall/internal/domain"
)

// grantClaims is the subset of room token claims we read. Signatures are
// never verified here; the room does that.
type grantClaims struct {
	Name  string `json:"name"`
	Video struct {
		Room string `json:"room"`
	} `json:"video"`
	jwt.RegisteredClaims
}

type tokenInfo struct {
	ExpiresAt time.Time
	Subject   string
	Name      string
	Room      string
}

func inspect(token string) (tokenInfo, error) {
	var claims grantClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return tokenInfo{}, &domain.CredentialError{Kind: domain.CredentialInvalid, Err: fmt.Errorf("parse token: %w", err)}
	}
	info := tokenInfo{Subject: claims.Subject, Name: claims.Name, Room: claims.Video.Room}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
