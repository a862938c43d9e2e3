// Package rtc dials a room over WebSocket signaling and carries call audio
// over a pion PeerConnection.
package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
)

type Options struct {
	SignalPath       string
	ICEServers       []string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingPeriod       time.Duration
	ReadLimit        int64
}

// Transport implements core.Transport.
type Transport struct {
	opts   Options
	dialer *websocket.Dialer
}

func NewTransport(opts Options) *Transport {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Transport{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// signalURL maps the credential's server URL to the signaling endpoint.
func signalURL(endpoint, path string, room domain.RoomName) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if path != "" {
		u.Path = path
	}
	if room != "" {
		q := u.Query()
		q.Set("room", string(room))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (t *Transport) Open(ctx context.Context, endpoint string, cred domain.Credential, events core.TransportEvents) (core.TransportHandle, error) {
	target, err := signalURL(endpoint, t.opts.SignalPath, cred.Room())
	if err != nil {
		return nil, &domain.TransportError{Kind: domain.NetworkUnreachable, Err: err}
	}
	peer := uuid.NewString()
	logger := log.With().Str("module", "rtc").Str("peer", peer).Str("room", string(cred.Room())).Logger()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token())
	ws, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &domain.TransportError{Kind: domain.RemoteClosed, Err: fmt.Errorf("signal rejected: %s", resp.Status)}
		}
		return nil, &domain.TransportError{Kind: domain.NetworkUnreachable, Err: err}
	}
	if t.opts.ReadLimit > 0 {
		ws.SetReadLimit(t.opts.ReadLimit)
	}

	wc, err := NewWebRTCConnection(WebRTCConfig(t.opts.ICEServers), peer)
	if err != nil {
		_ = ws.Close()
		return nil, &domain.TransportError{Kind: domain.NetworkUnreachable, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{
		sig:    newSignalClient(ws, t.opts.WriteTimeout),
		wc:     wc,
		events: events,
		cancel: cancel,
		log:    logger,
	}
	h.bind()

	name := cred.DisplayName()
	if name == "" {
		name = string(cred.Identity())
	}
	if err := h.sig.sendJSON(map[string]string{
		"type": "join",
		"room": string(cred.Room()),
		"name": name,
	}); err != nil {
		h.Close()
		return nil, &domain.TransportError{Kind: domain.NetworkUnreachable, Err: err}
	}
	offer, err := wc.CreateOffer()
	if err != nil {
		h.Close()
		return nil, &domain.TransportError{Kind: domain.NetworkUnreachable, Err: err}
	}
	if err := h.sig.sendJSON(map[string]string{"type": "offer", "sdp": offer.SDP}); err != nil {
		h.Close()
		return nil, &domain.TransportError{Kind: domain.NetworkUnreachable, Err: err}
	}

	go h.sig.writePump(runCtx, t.opts.PingPeriod)
	go h.run(runCtx)

	logger.Info().Str("url", target).Msg("transport opened")
	return h, nil
}

// handle is one open attempt. After Close no event reaches the coordinator.
type handle struct {
	sig    *signalClient
	wc     *WebRTCConnection
	events core.TransportEvents
	cancel context.CancelFunc
	log    zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	readyOnce sync.Once
}

func (h *handle) LocalAudio() core.AudioSink { return h.wc.LocalTrack() }

func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.sig.goodbye()
		h.cancel()
		h.sig.Close()
		h.wc.Close()
		h.log.Info().Msg("transport closed")
	})
	return nil
}

func (h *handle) bind() {
	h.wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		resp := struct {
			Type          string `json:"type"`
			Candidate     string `json:"candidate"`
			SDPMid        string `json:"sdpMid,omitempty"`
			SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
		}{
			Type:      "candidate",
			Candidate: ci.Candidate,
		}
		if ci.SDPMid != nil {
			resp.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			resp.SDPMLineIndex = *ci.SDPMLineIndex
		}
		if err := h.sig.sendJSON(resp); err != nil && !h.closed.Load() {
			h.log.Warn().Err(err).Msg("send candidate")
		}
	})

	h.wc.OnTrack(func(track *webrtc.TrackRemote) {
		if h.closed.Load() {
			return
		}
		h.events.OnTrackReceived(remoteTrack{t: track})
	})

	h.wc.OnStateChange(func(s webrtc.PeerConnectionState) {
		if h.closed.Load() {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			h.readyOnce.Do(h.events.OnReady)
		case webrtc.PeerConnectionStateFailed:
			h.events.OnFailure(domain.NetworkUnreachable)
		}
	})
}

func (h *handle) run(ctx context.Context) {
	err := h.sig.readPump(ctx, h.dispatch)
	if h.closed.Load() || ctx.Err() != nil {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.log.Info().Msg("room closed the signaling channel")
		h.events.OnRemoteClose()
		return
	}
	h.log.Warn().Err(err).Msg("signaling read failed")
	h.events.OnFailure(domain.NetworkUnreachable)
}

func (h *handle) dispatch(data []byte) {
	if h.closed.Load() {
		return
	}
	var env struct {
		Type          string `json:"type"`
		SDP           string `json:"sdp"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
		Error         string `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		h.log.Error().Err(err).Msg("bad json")
		return
	}

	switch env.Type {
	case "pong":
		h.events.OnHeartbeat()
	case "answer":
		if err := h.wc.ApplyAnswer(env.SDP); err != nil {
			h.log.Error().Err(err).Msg("apply answer")
			h.events.OnFailure(domain.NetworkUnreachable)
		}
	case "candidate":
		cand := webrtc.ICECandidateInit{Candidate: env.Candidate, SDPMLineIndex: &env.SDPMLineIndex}
		if env.SDPMid != "" {
			cand.SDPMid = &env.SDPMid
		}
		if err := h.wc.AddICECandidate(cand); err != nil {
			h.log.Error().Err(err).Msg("add ice candidate")
		}
	case "left", "bye", "kicked":
		h.events.OnRemoteClose()
	case "error":
		h.log.Warn().Str("error", env.Error).Msg("room reported error")
	default:
		h.log.Debug().Str("type", env.Type).Msg("ignored signal")
	}
}
