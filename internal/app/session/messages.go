package session

import (
	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
)

// message is anything the coordinator loop consumes.
type message interface{}

type startMsg struct {
	request core.RequestCredentialFunc
	reply   chan<- startResult
}

type startResult struct {
	sess *Session
	err  error
}

type stopMsg struct {
	userInitiated bool
}

type credentialMsg struct {
	sid  domain.SessionID
	cred domain.Credential
	err  error
}

type openedMsg struct {
	sid    domain.SessionID
	gen    uint64
	handle core.TransportHandle
	err    error
}

type readyMsg struct {
	sid domain.SessionID
	gen uint64
}

type trackMsg struct {
	sid   domain.SessionID
	gen   uint64
	track core.RemoteTrack
}

type failureMsg struct {
	sid     domain.SessionID
	gen     uint64
	kind    domain.TransportErrorKind
	noRetry bool
}

// connectDeadlineMsg fires when an attempt has not become ready in time.
type connectDeadlineMsg struct {
	sid domain.SessionID
	gen uint64
}

type retryMsg struct {
	sid domain.SessionID
	gen uint64
}

type micMsg struct {
	enabled bool
	reply   chan<- bool
}

type shutdownMsg struct {
	reply chan struct{}
}
