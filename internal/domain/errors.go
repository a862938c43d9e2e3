package domain

import (
	"errors"
	"fmt"
)

// CredentialErrorKind classifies credential acquisition failures.
type CredentialErrorKind string

const (
	CredentialTimeout CredentialErrorKind = "timeout"
	CredentialInvalid CredentialErrorKind = "invalid"
	CredentialExpired CredentialErrorKind = "expired"
)

// TransportErrorKind classifies transport and device failures.
type TransportErrorKind string

const (
	HeartbeatTimeout   TransportErrorKind = "heartbeat_timeout"
	NetworkUnreachable TransportErrorKind = "network_unreachable"
	RemoteClosed       TransportErrorKind = "remote_closed"
	DeviceUnavailable  TransportErrorKind = "device_unavailable"
)

var (
	// ErrAborted ends a session that was stopped by the program rather than the user.
	ErrAborted = errors.New("session aborted")

	ErrCredentialTimeout  = &CredentialError{Kind: CredentialTimeout}
	ErrCredentialInvalid  = &CredentialError{Kind: CredentialInvalid}
	ErrCredentialExpired  = &CredentialError{Kind: CredentialExpired}
	ErrHeartbeatTimeout   = &TransportError{Kind: HeartbeatTimeout}
	ErrNetworkUnreachable = &TransportError{Kind: NetworkUnreachable}
	ErrRemoteClosed       = &TransportError{Kind: RemoteClosed}
	ErrDeviceUnavailable  = &TransportError{Kind: DeviceUnavailable}
	ErrAlreadyActive      = &AlreadyActiveError{}
)

// CredentialError is returned when a credential cannot be obtained or used.
type CredentialError struct {
	Kind CredentialErrorKind
	Err  error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("credential %s", e.Kind)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Is matches any *CredentialError of the same kind, so errors.Is(err, ErrCredentialExpired) works.
func (e *CredentialError) Is(target error) bool {
	t, ok := target.(*CredentialError)
	return ok && t.Kind == e.Kind
}

// TransportError is a failure of the media channel or the local audio devices.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	return ok && t.Kind == e.Kind
}

// AlreadyActiveError rejects a start while another session is still running.
type AlreadyActiveError struct {
	SessionID SessionID
	State     ConnectionState
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("session %s already active (%s)", e.SessionID, e.State)
}

func (e *AlreadyActiveError) Is(target error) bool {
	_, ok := target.(*AlreadyActiveError)
	return ok
}

// TransportErrorKindOf extracts the failure kind, defaulting to NetworkUnreachable.
func TransportErrorKindOf(err error) TransportErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return NetworkUnreachable
}
