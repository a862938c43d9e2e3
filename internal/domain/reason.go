package domain

import "fmt"

// ReasonKind is the terminal cause reported to the caller.
type ReasonKind string

const (
	ReasonUserClosed   ReasonKind = "user_closed"
	ReasonError        ReasonKind = "error"
	ReasonExpired      ReasonKind = "expired"
	ReasonRemoteClosed ReasonKind = "remote_closed"
)

// CloseReason travels with the Closed state. Err is set for ReasonError and
// carries the classified failure.
type CloseReason struct {
	Kind ReasonKind
	Err  error
}

func UserClosedReason() CloseReason { return CloseReason{Kind: ReasonUserClosed} }

func ExpiredReason() CloseReason {
	return CloseReason{Kind: ReasonExpired, Err: ErrCredentialExpired}
}

func RemoteClosedReason() CloseReason {
	return CloseReason{Kind: ReasonRemoteClosed, Err: ErrRemoteClosed}
}

func ErrorReason(err error) CloseReason { return CloseReason{Kind: ReasonError, Err: err} }

func (r CloseReason) String() string {
	if r.Kind == ReasonError && r.Err != nil {
		return fmt.Sprintf("%s(%v)", r.Kind, r.Err)
	}
	return string(r.Kind)
}
