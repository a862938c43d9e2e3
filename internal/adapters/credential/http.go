package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dkeye/SupportCall/internal/domain"
)

// sessionResponse is the realtime session object returned by the issuer.
type sessionResponse struct {
	ID           string `json:"id"`
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	WsURL  string `json:"ws_url"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPIssuer asks a realtime session service for a room grant.
type HTTPIssuer struct {
	client *resty.Client
	url    string
}

func NewHTTPIssuer(url, bearer string) *HTTPIssuer {
	client := resty.New().
		SetHeader("User-Agent", "SupportCall/1.0").
		SetHeader("Content-Type", "application/json")
	if bearer != "" {
		client.SetAuthToken(bearer)
	}
	return &HTTPIssuer{client: client, url: url}
}

type sessionRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

func (i *HTTPIssuer) Issue(ctx context.Context, who domain.Participant) (domain.Credential, error) {
	var result sessionResponse
	var failure errorResponse
	resp, err := i.client.R().
		SetContext(ctx).
		SetBody(sessionRequest{UserID: string(who.ID), Name: who.DisplayName}).
		SetResult(&result).
		SetError(&failure).
		Post(i.url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Credential{}, &domain.CredentialError{Kind: domain.CredentialTimeout, Err: err}
		}
		return domain.Credential{}, &domain.CredentialError{Kind: domain.CredentialInvalid, Err: fmt.Errorf("issuer request: %w", err)}
	}
	if resp.IsError() {
		msg := failure.Message
		if msg == "" {
			msg = failure.Error
		}
		kind := domain.CredentialInvalid
		if resp.StatusCode() == http.StatusGatewayTimeout {
			kind = domain.CredentialTimeout
		}
		return domain.Credential{}, &domain.CredentialError{Kind: kind, Err: fmt.Errorf("issuer returned %d: %s", resp.StatusCode(), msg)}
	}
	if result.ClientSecret == nil || result.ClientSecret.Value == "" {
		return domain.Credential{}, &domain.CredentialError{Kind: domain.CredentialInvalid, Err: errors.New("issuer returned no client secret")}
	}

	var expiresAt time.Time
	if result.ClientSecret.ExpiresAt > 0 {
		expiresAt = time.Unix(result.ClientSecret.ExpiresAt, 0)
	}
	identity := who.ID
	if result.UserID != "" {
		identity = domain.ParticipantID(result.UserID)
	}
	cred := domain.NewCredential(result.ClientSecret.Value, result.WsURL, expiresAt, domain.RoomName(result.RoomID), identity)
	return cred.WithDisplayName(who.DisplayName), nil
}
