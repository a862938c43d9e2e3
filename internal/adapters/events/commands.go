package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/app"
	"github.com/dkeye/SupportCall/internal/app/orch"
	"github.com/dkeye/SupportCall/internal/app/session"
	"github.com/dkeye/SupportCall/internal/domain"
)

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (ctl *Controller) handleCommand(ctx context.Context, client app.ClientID, c *Conn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "events").Msg("bad json")
		ctl.sendJSON(c, errorEvent{Type: "error", Error: "bad_payload"})
		return
	}

	switch env.Type {
	case "start":
		ctl.handleStart(ctx, client, c)
	case "stop":
		ctl.Orch.Stop(client)
	case "mute":
		ctl.handleMic(ctx, client, c, false)
	case "unmute":
		ctl.handleMic(ctx, client, c, true)
	case "rename":
		ctl.handleRename(client, c, data)
	case "snapshot":
		ctl.sendSnapshot(client, c)
	case "ping":
		ctl.sendJSON(c, struct {
			Type string `json:"type"`
		}{Type: "pong"})
	default:
		log.Warn().Str("module", "events").Str("type", env.Type).Msg("unknown command")
	}
}

func (ctl *Controller) handleStart(ctx context.Context, client app.ClientID, c *Conn) {
	s, err := ctl.Orch.Start(ctx, client)
	if err != nil {
		log.Warn().Err(err).Str("module", "events").Str("client", string(client)).Msg("start rejected")
		ctl.sendJSON(c, errorEvent{Type: "error", Error: ErrorCode(err)})
		return
	}
	ctl.sendJSON(c, struct {
		Type      string           `json:"type"`
		SessionID domain.SessionID `json:"session_id"`
	}{Type: "started", SessionID: s.ID()})
}

func (ctl *Controller) handleMic(ctx context.Context, client app.ClientID, c *Conn, on bool) {
	applied := ctl.Orch.SetMicrophoneEnabled(ctx, client, on)
	ctl.sendJSON(c, struct {
		Type    string `json:"type"`
		Enabled bool   `json:"enabled"`
		Applied bool   `json:"applied"`
	}{Type: "microphone", Enabled: on, Applied: applied})
}

func (ctl *Controller) handleRename(client app.ClientID, c *Conn, data []byte) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "events").Msg("bad rename payload")
		ctl.sendJSON(c, errorEvent{Type: "error", Error: "bad_payload"})
		return
	}
	if err := ctl.Orch.Rename(client, p.Name); err != nil {
		ctl.sendJSON(c, errorEvent{Type: "error", Error: ErrorCode(err)})
		return
	}
	ctl.sendSnapshot(client, c)
}

func (ctl *Controller) sendSnapshot(client app.ClientID, c *Conn) {
	view, err := ctl.Orch.Snapshot(client)
	if err != nil {
		ctl.sendJSON(c, errorEvent{Type: "error", Error: ErrorCode(err)})
		return
	}
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
		orch.View
	}{Type: "snapshot", View: view})
}

// ErrorCode maps an orchestrator error to the code shown to the browser.
func ErrorCode(err error) string {
	var ce *domain.CredentialError
	if errors.As(err, &ce) {
		return "credential_" + string(ce.Kind)
	}
	switch {
	case errors.Is(err, orch.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, domain.ErrDisplayNameEmpty), errors.Is(err, domain.ErrDisplayNameTooLong):
		return "invalid_name"
	case errors.Is(err, app.ErrRegistryClosed), errors.Is(err, app.ErrRegistryFull),
		errors.Is(err, session.ErrCoordinatorClosed):
		return "unavailable"
	case errors.Is(err, session.ErrClosedEarly):
		return "closed"
	default:
		return "internal"
	}
}
