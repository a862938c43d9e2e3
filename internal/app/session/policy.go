package session

import "github.com/dkeye/SupportCall/internal/domain"

type FailureAction int

const (
	Terminate FailureAction = iota
	Reconnect
)

func (a FailureAction) String() string {
	if a == Reconnect {
		return "reconnect"
	}
	return "terminate"
}

// Policy decides what a transport failure leads to. attempts is the number of
// reconnects already made since the session was last connected.
type Policy interface {
	OnFailure(kind domain.TransportErrorKind, attempts int) FailureAction
}

// BudgetPolicy reconnects until MaxAttempts is used up. Remote hang-ups and
// missing devices are never retried.
type BudgetPolicy struct {
	MaxAttempts int
}

func (p BudgetPolicy) OnFailure(kind domain.TransportErrorKind, attempts int) FailureAction {
	switch kind {
	case domain.RemoteClosed, domain.DeviceUnavailable:
		return Terminate
	}
	if attempts >= p.MaxAttempts {
		return Terminate
	}
	return Reconnect
}
