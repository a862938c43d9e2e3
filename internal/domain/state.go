package domain

// ConnectionState is the lifecycle position of a call session.
type ConnectionState string

const (
	StateIdle                ConnectionState = "idle"
	StateAcquiringCredential ConnectionState = "acquiring_credential"
	StateConnecting          ConnectionState = "connecting"
	StateConnected           ConnectionState = "connected"
	StateReconnecting        ConnectionState = "reconnecting"
	StateDisconnecting       ConnectionState = "disconnecting"
	StateClosed              ConnectionState = "closed"
)

// edges lists every allowed transition. Anything else is rejected.
var edges = map[ConnectionState][]ConnectionState{
	StateIdle:                {StateAcquiringCredential},
	StateAcquiringCredential: {StateConnecting, StateDisconnecting},
	StateConnecting:          {StateConnected, StateReconnecting, StateDisconnecting},
	StateConnected:           {StateReconnecting, StateDisconnecting},
	StateReconnecting:        {StateConnected, StateDisconnecting},
	StateDisconnecting:       {StateClosed},
}

func (s ConnectionState) String() string { return string(s) }

// CanTransitionTo reports whether to is a legal next state.
func (s ConnectionState) CanTransitionTo(to ConnectionState) bool {
	for _, next := range edges[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ConnectionState) IsTerminal() bool { return s == StateClosed }

// IsActive is true for every state in which a start request must be refused.
func (s ConnectionState) IsActive() bool {
	return s != StateIdle && s != StateClosed
}

// HasTransport is true while a transport attempt may be in flight or open.
func (s ConnectionState) HasTransport() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}
