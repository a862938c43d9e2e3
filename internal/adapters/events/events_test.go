package events

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/SupportCall/internal/app"
	"github.com/dkeye/SupportCall/internal/app/orch"
	"github.com/dkeye/SupportCall/internal/app/session"
	"github.com/dkeye/SupportCall/internal/config"
	"github.com/dkeye/SupportCall/internal/domain"
)

type deniedSource struct{}

func (deniedSource) Issue(context.Context, domain.Participant) (domain.Credential, error) {
	return domain.Credential{}, &domain.CredentialError{Kind: domain.CredentialInvalid, Err: errors.New("denied")}
}

type message struct {
	Type        string                 `json:"type"`
	Error       string                 `json:"error"`
	State       domain.ConnectionState `json:"state"`
	Reason      domain.ReasonKind      `json:"reason"`
	SessionID   domain.SessionID       `json:"session_id"`
	Applied     bool                   `json:"applied"`
	Participant domain.Participant     `json:"participant"`
	Session     session.Snapshot       `json:"session"`
}

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	factory := func(l session.Listener) *session.Coordinator {
		return session.New(session.Options{Config: config.Default().Session, Listener: l})
	}
	reg := app.NewRegistry(factory, nil)
	o := &orch.Orchestrator{Registry: reg, Limiter: app.NewStartLimiter(1, time.Minute), Credentials: deniedSource{}}
	ctl := NewController(o, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("ct"))
		ctl.HandleEvents(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		reg.Close()
		srv.Close()
	})
	return srv, o
}

func dial(t *testing.T, srv *httptest.Server, client string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?ct=" + client
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func next(t *testing.T, ws *websocket.Conn) message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m message
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

// until reads messages until one of type typ arrives and returns everything read.
func until(t *testing.T, ws *websocket.Conn, typ string) []message {
	t.Helper()
	var seen []message
	for {
		m := next(t, ws)
		seen = append(seen, m)
		if m.Type == typ {
			return seen
		}
	}
}

func TestInitialSnapshotAndPing(t *testing.T) {
	srv, _ := newServer(t)
	ws := dial(t, srv, "client-a")

	first := next(t, ws)
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, domain.StateIdle, first.Session.State)
	assert.Equal(t, "guest", first.Participant.DisplayName)
	assert.NotEmpty(t, first.Participant.ID)

	send(t, ws, map[string]string{"type": "ping"})
	assert.Equal(t, "pong", next(t, ws).Type)
}

func TestStartStreamsStateUntilClosed(t *testing.T) {
	srv, _ := newServer(t)
	ws := dial(t, srv, "client-a")
	next(t, ws)

	send(t, ws, map[string]string{"type": "start"})

	var states []domain.ConnectionState
	var started, closed *message
	for started == nil || closed == nil {
		m := next(t, ws)
		switch m.Type {
		case "state":
			states = append(states, m.State)
		case "started":
			started = &m
		case "closed":
			closed = &m
		}
	}
	assert.NotEmpty(t, started.SessionID)
	assert.Equal(t, started.SessionID, closed.SessionID)
	assert.Equal(t, domain.ReasonError, closed.Reason)
	assert.Contains(t, closed.Error, "invalid")
	assert.Equal(t, domain.StateIdle, states[0])
	assert.Contains(t, states, domain.StateAcquiringCredential)
	assert.Equal(t, domain.StateClosed, states[len(states)-1])

	// burst of one per minute
	send(t, ws, map[string]string{"type": "start"})
	m := until(t, ws, "error")
	assert.Equal(t, "rate_limited", m[len(m)-1].Error)
}

func TestMuteWithoutCallAndRename(t *testing.T) {
	srv, _ := newServer(t)
	ws := dial(t, srv, "client-a")
	next(t, ws)

	send(t, ws, map[string]string{"type": "mute"})
	m := next(t, ws)
	assert.Equal(t, "microphone", m.Type)
	assert.False(t, m.Applied)

	send(t, ws, map[string]string{"type": "rename", "name": "Alice"})
	m = next(t, ws)
	assert.Equal(t, "snapshot", m.Type)
	assert.Equal(t, "Alice", m.Participant.DisplayName)

	send(t, ws, map[string]string{"type": "rename", "name": ""})
	m = next(t, ws)
	assert.Equal(t, "error", m.Type)
	assert.Equal(t, "invalid_name", m.Error)
}

func TestSubscribersArePerClient(t *testing.T) {
	srv, o := newServer(t)
	a := dial(t, srv, "client-a")
	b := dial(t, srv, "client-b")
	next(t, a)
	next(t, b)

	_, err := o.Start(context.Background(), "client-b")
	require.NoError(t, err)
	until(t, b, "closed")

	send(t, a, map[string]string{"type": "ping"})
	assert.Equal(t, "pong", next(t, a).Type)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "rate_limited", ErrorCode(orch.ErrRateLimited))
	assert.Equal(t, "rate_limited", ErrorCode(&orch.RateLimitedError{RetryAfter: time.Second}))
	assert.Equal(t, "unavailable", ErrorCode(app.ErrRegistryFull))
	assert.Equal(t, "credential_timeout", ErrorCode(&domain.CredentialError{Kind: domain.CredentialTimeout}))
	assert.Equal(t, "closed", ErrorCode(fmt.Errorf("%w: user_closed", session.ErrClosedEarly)))
	assert.Equal(t, "already_active", ErrorCode(&domain.AlreadyActiveError{State: domain.StateConnected}))
	assert.Equal(t, "unavailable", ErrorCode(app.ErrRegistryClosed))
	assert.Equal(t, "internal", ErrorCode(errors.New("boom")))
}

func TestConnAfterClose(t *testing.T) {
	c := NewConn(nopWS{}, 1)
	require.NoError(t, c.TrySend([]byte("a")))
	assert.ErrorIs(t, c.TrySend([]byte("b")), ErrBackpressure)
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.TrySend([]byte("c")), ErrConnClosed)
}

type nopWS struct{}

func (nopWS) ReadMessage() (int, []byte, error) { return 0, nil, errors.New("closed") }
func (nopWS) WriteMessage(int, []byte) error    { return nil }
func (nopWS) SetWriteDeadline(time.Time) error  { return nil }
func (nopWS) Close() error                      { return nil }
