// Package domain contains call entities and the session state machine rules, no I/O.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxIdentityLen    = 64
	MaxDisplayNameLen = 36
)

var (
	ErrIdentityTooLong    = errors.New("identity too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type ParticipantID string

// Participant is the local caller as seen by the room.
type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
}

// NewParticipant gives a fresh random identity to a named caller.
func NewParticipant(displayName string) (*Participant, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	id := ParticipantID(uuid.NewString())
	return &Participant{ID: id, DisplayName: displayName}, nil
}

// ParseParticipantID accepts an identity handed out by a token issuer.
func ParseParticipantID(raw string) (ParticipantID, error) {
	if len(raw) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return ParticipantID(raw), nil
}

// NewSessionID returns a unique id for one coordinator session.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}
