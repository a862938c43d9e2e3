package app

import "github.com/dkeye/SupportCall/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropSubscriber
)

// Policy decides what happens to an event subscriber that cannot keep up.
type Policy interface {
	OnBackPressure(client ClientID, conn core.SignalConnection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(ClientID, core.SignalConnection) BackpressureAction {
	return DropSubscriber
}
