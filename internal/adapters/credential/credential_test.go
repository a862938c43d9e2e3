package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/SupportCall/internal/config"
	"github.com/dkeye/SupportCall/internal/domain"
)

func caller(id string) domain.Participant {
	return domain.Participant{ID: domain.ParticipantID(id), DisplayName: "Alice"}
}

func signedToken(t *testing.T, sub, room string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"exp":   exp.Unix(),
		"video": map[string]any{"room": room, "roomJoin": true},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestStaticReadsClaims(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	token := signedToken(t, "agent-7", "support-42", exp)

	cred, err := NewStatic(token, "wss://rtc.example.test", time.Time{}, "").Issue(context.Background(), caller("caller"))
	require.NoError(t, err)
	assert.Equal(t, token, cred.Token())
	assert.True(t, exp.Equal(cred.ExpiresAt()))
	assert.Equal(t, domain.RoomName("support-42"), cred.Room())
	assert.Equal(t, domain.ParticipantID("agent-7"), cred.Identity())
	assert.NoError(t, cred.Validate(time.Now()))
}

func TestStaticWithExplicitExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	cred, err := NewStatic("opaque", "", exp, "support").Issue(context.Background(), caller("caller"))
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("caller"), cred.Identity())
	assert.Equal(t, domain.RoomName("support"), cred.Room())
}

func TestStaticRejectsGarbageToken(t *testing.T) {
	_, err := NewStatic("not-a-jwt", "", time.Time{}, "support").Issue(context.Background(), caller("caller"))
	assert.ErrorIs(t, err, domain.ErrCredentialInvalid)
}

func TestLocalIssuer(t *testing.T) {
	issuer := NewLocalIssuer("APIkey", "a-secret-that-is-long-enough-for-hs256", "wss://rtc.example.test", "support", 10*time.Minute)

	cred, err := issuer.Issue(context.Background(), caller("agent-1"))
	require.NoError(t, err)
	require.NoError(t, cred.Validate(time.Now()))

	info, err := inspect(cred.Token())
	require.NoError(t, err)
	assert.Equal(t, "agent-1", info.Subject)
	assert.Equal(t, "Alice", info.Name)
	assert.Equal(t, "support", info.Room)
	assert.Equal(t, "Alice", cred.DisplayName())
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), info.ExpiresAt, 5*time.Second)
}

func TestHTTPIssuer(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer issuer-token", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "agent-1", body["user_id"])
		assert.Equal(t, "Alice", body["name"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "sess_1",
			"object": "realtime.session",
			"client_secret": map[string]any{
				"value":      "room-token",
				"expires_at": exp,
			},
			"ws_url":  "wss://rtc.example.test",
			"room_id": "room-9",
			"user_id": "agent-1",
		})
	}))
	defer srv.Close()

	cred, err := NewHTTPIssuer(srv.URL, "issuer-token").Issue(context.Background(), caller("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, "room-token", cred.Token())
	assert.Equal(t, "wss://rtc.example.test", cred.ServerURL())
	assert.Equal(t, domain.RoomName("room-9"), cred.Room())
	assert.Equal(t, exp, cred.ExpiresAt().Unix())
	assert.Equal(t, "Alice", cred.DisplayName())
}

func TestHTTPIssuerErrors(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"bad key"}`))
		}))
		defer srv.Close()

		_, err := NewHTTPIssuer(srv.URL, "").Issue(context.Background(), caller("agent-1"))
		assert.ErrorIs(t, err, domain.ErrCredentialInvalid)
		assert.Contains(t, err.Error(), "bad key")
	})

	t.Run("missing secret", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"sess_1"}`))
		}))
		defer srv.Close()

		_, err := NewHTTPIssuer(srv.URL, "").Issue(context.Background(), caller("agent-1"))
		assert.ErrorIs(t, err, domain.ErrCredentialInvalid)
	})

	t.Run("deadline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := NewHTTPIssuer(srv.URL, "").Issue(ctx, caller("agent-1"))
		assert.ErrorIs(t, err, domain.ErrCredentialTimeout)
	})
}

func TestNewSelectsSource(t *testing.T) {
	src, err := New(config.CredentialConfig{Source: "local", APIKey: "k", APISecret: "s", ServerURL: "wss://x", Room: "r", TTL: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &LocalIssuer{}, src)

	src, err = New(config.CredentialConfig{Source: "http", IssuerURL: "http://issuer"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPIssuer{}, src)

	_, err = New(config.CredentialConfig{Source: "vault"})
	assert.Error(t, err)
}

func TestForBindsIdentity(t *testing.T) {
	request := For(NewStatic("opaque", "", time.Now().Add(time.Hour), "support"), domain.Participant{ID: "agent-3", DisplayName: "Bob"})
	cred, err := request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("agent-3"), cred.Identity())
	assert.Equal(t, "Bob", cred.DisplayName())
	assert.NotContains(t, cred.String(), "opaque")
}
