package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateEdges(t *testing.T) {
	all := []ConnectionState{
		StateIdle, StateAcquiringCredential, StateConnecting, StateConnected,
		StateReconnecting, StateDisconnecting, StateClosed,
	}
	allowed := map[[2]ConnectionState]bool{
		{StateIdle, StateAcquiringCredential}:          true,
		{StateAcquiringCredential, StateConnecting}:    true,
		{StateAcquiringCredential, StateDisconnecting}: true,
		{StateConnecting, StateConnected}:              true,
		{StateConnecting, StateReconnecting}:           true,
		{StateConnecting, StateDisconnecting}:          true,
		{StateConnected, StateReconnecting}:            true,
		{StateConnected, StateDisconnecting}:           true,
		{StateReconnecting, StateConnected}:            true,
		{StateReconnecting, StateDisconnecting}:        true,
		{StateDisconnecting, StateClosed}:              true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]ConnectionState{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, StateClosed.IsTerminal())
	assert.False(t, StateIdle.IsActive())
	assert.False(t, StateClosed.IsActive())
	assert.True(t, StateDisconnecting.IsActive())
	assert.True(t, StateReconnecting.HasTransport())
	assert.False(t, StateAcquiringCredential.HasTransport())
}

func TestCredentialValidate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	later := now.Add(time.Minute)

	tests := []struct {
		name string
		cred Credential
		kind CredentialErrorKind
	}{
		{"ok", NewCredential("tok", "wss://rtc.example.test", later, "support", "a"), ""},
		{"no server url", NewCredential("tok", "", later, "support", "a"), ""},
		{"empty token", NewCredential("  ", "wss://rtc.example.test", later, "support", "a"), CredentialInvalid},
		{"no expiry", NewCredential("tok", "wss://rtc.example.test", time.Time{}, "support", "a"), CredentialInvalid},
		{"bad scheme", NewCredential("tok", "ftp://rtc.example.test", later, "support", "a"), CredentialInvalid},
		{"no host", NewCredential("tok", "wss://", later, "support", "a"), CredentialInvalid},
		{"expired", NewCredential("tok", "wss://rtc.example.test", now, "support", "a"), CredentialExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cred.Validate(now)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			var ce *CredentialError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.kind, ce.Kind)
		})
	}
}

func TestCredentialZeroAndString(t *testing.T) {
	c := NewCredential("secret-token", "wss://rtc.example.test", time.Now().Add(time.Minute), "support", "a")
	assert.NotContains(t, c.String(), "secret-token")
	assert.NotContains(t, fmt.Sprintf("%v", c), "secret-token")

	c.Zero()
	assert.True(t, c.IsZero())
	assert.Empty(t, c.Token())
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &TransportError{Kind: HeartbeatTimeout, Err: errors.New("no pong")})
	assert.ErrorIs(t, err, ErrHeartbeatTimeout)
	assert.NotErrorIs(t, err, ErrRemoteClosed)
	assert.Equal(t, HeartbeatTimeout, TransportErrorKindOf(err))
	assert.Equal(t, NetworkUnreachable, TransportErrorKindOf(errors.New("other")))

	cerr := &CredentialError{Kind: CredentialTimeout, Err: errors.New("slow")}
	assert.ErrorIs(t, cerr, ErrCredentialTimeout)
	assert.NotErrorIs(t, cerr, ErrCredentialInvalid)

	active := &AlreadyActiveError{SessionID: "s1", State: StateConnected}
	assert.ErrorIs(t, active, ErrAlreadyActive)
	assert.Contains(t, active.Error(), "connected")
}

func TestCloseReasonString(t *testing.T) {
	assert.Equal(t, "user_closed", UserClosedReason().String())
	assert.Equal(t, "remote_closed", RemoteClosedReason().String())
	assert.Contains(t, ErrorReason(ErrAborted).String(), "session aborted")
	assert.ErrorIs(t, ExpiredReason().Err, ErrCredentialExpired)
}

func TestParticipant(t *testing.T) {
	p, err := NewParticipant("guest")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	_, err = NewParticipant("")
	assert.ErrorIs(t, err, ErrDisplayNameEmpty)
	_, err = NewParticipant(strings.Repeat("x", MaxDisplayNameLen+1))
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)

	_, err = ParseParticipantID(strings.Repeat("x", MaxIdentityLen+1))
	assert.ErrorIs(t, err, ErrIdentityTooLong)
	id, err := ParseParticipantID("agent-1")
	require.NoError(t, err)
	assert.Equal(t, ParticipantID("agent-1"), id)
}

func TestAudioTrackFlags(t *testing.T) {
	tr := NewAudioTrack(TrackRemote, "r1")
	assert.True(t, tr.Enabled())
	assert.False(t, tr.Live())

	tr.MarkLive()
	tr.SetEnabled(false)
	assert.Equal(t, TrackInfo{ID: "r1", Kind: TrackRemote, Enabled: false, Live: true}, tr.Info())

	tr.MarkEnded()
	assert.False(t, tr.Live())
}
