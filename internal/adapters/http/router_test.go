package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/SupportCall/internal/app"
	"github.com/dkeye/SupportCall/internal/app/orch"
	"github.com/dkeye/SupportCall/internal/app/session"
	"github.com/dkeye/SupportCall/internal/config"
	"github.com/dkeye/SupportCall/internal/domain"
)

type testSource struct{ block bool }

func (s testSource) Issue(ctx context.Context, _ domain.Participant) (domain.Credential, error) {
	if s.block {
		<-ctx.Done()
		return domain.Credential{}, ctx.Err()
	}
	return domain.Credential{}, &domain.CredentialError{Kind: domain.CredentialInvalid, Err: errors.New("denied")}
}

func newRouter(t *testing.T, src testSource, burst int) (*gin.Engine, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Mode = "test"
	cfg.Secret = "test-secret"
	cfg.StaticPath = t.TempDir()

	factory := func(l session.Listener) *session.Coordinator {
		return session.New(session.Options{Config: cfg.Session, Listener: l})
	}
	reg := app.NewRegistry(factory, nil)
	t.Cleanup(reg.Close)
	o := &orch.Orchestrator{Registry: reg, Limiter: app.NewStartLimiter(burst, time.Minute), Credentials: src}
	return SetupRouter(context.Background(), cfg, o), o
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "ct", Value: "client-a"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestClientTokenIssued(t *testing.T) {
	r, _ := newRouter(t, testSource{}, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var token string
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" {
			token = c.Value
		}
	}
	assert.NotEmpty(t, token)
}

func TestSessionSnapshot(t *testing.T) {
	r, _ := newRouter(t, testSource{}, 1)

	w := do(r, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "idle", body["session"].(map[string]any)["state"])
	assert.Equal(t, "guest", body["participant"].(map[string]any)["display_name"])
}

func TestStartConflictAndStop(t *testing.T) {
	r, o := newRouter(t, testSource{block: true}, 5)

	w := do(r, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	sid := decode(t, w)["session_id"]
	assert.NotEmpty(t, sid)

	w = do(r, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, "already_active", body["error"])
	assert.Equal(t, sid, body["session_id"])

	w = do(r, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	require.Eventually(t, func() bool {
		view, err := o.Snapshot("client-a")
		return err == nil && view.Session.State == domain.StateClosed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartRateLimited(t *testing.T) {
	r, o := newRouter(t, testSource{}, 1)

	require.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/session/start", "").Code)
	require.Eventually(t, func() bool {
		view, err := o.Snapshot("client-a")
		return err == nil && view.Session.State == domain.StateClosed
	}, 2*time.Second, 5*time.Millisecond)

	w := do(r, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decode(t, w)["error"])
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 60, retry, 1)
}

func TestStartWaitForCredential(t *testing.T) {
	r, _ := newRouter(t, testSource{}, 5)

	w := do(r, http.MethodPost, "/api/session/start?wait=credential", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "credential_invalid", decode(t, w)["error"])
}

func TestSnapshotLeavesUnknownClientsUnregistered(t *testing.T) {
	r, o := newRouter(t, testSource{}, 1)

	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 0, o.Registry.Len())
}

func TestIndexServed(t *testing.T) {
	r, _ := newRouter(t, testSource{}, 1)
	w := do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Secret = "test-secret"
	cfg.Mode = "test"
	cfg.StaticPath = "../../../web"
	reg := app.NewRegistry(nil, nil)
	t.Cleanup(reg.Close)
	shipped := SetupRouter(context.Background(), cfg, &orch.Orchestrator{Registry: reg})

	w = do(shipped, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/ws/events")

	w = do(shipped, http.MethodGet, "/static/app.js", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/session/start")
}

func TestMute(t *testing.T) {
	r, _ := newRouter(t, testSource{}, 1)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/session/mute", `{}`).Code)

	w := do(r, http.MethodPost, "/api/session/mute", `{"enabled":false}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_connected", decode(t, w)["error"])
}

func TestRename(t *testing.T) {
	r, _ := newRouter(t, testSource{}, 1)

	w := do(r, http.MethodPost, "/api/session/name", `{"name":"Alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/session", "")
	assert.Equal(t, "Alice", decode(t, w)["participant"].(map[string]any)["display_name"])

	w = do(r, http.MethodPost, "/api/session/name", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_name", decode(t, w)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newRouter(t, testSource{}, 1)
	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
