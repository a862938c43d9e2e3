package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

// WebRTCConnection is the offering side of a 1:1 audio call.
type WebRTCConnection struct {
	pc    *webrtc.PeerConnection
	peer  string
	local *webrtc.TrackLocalStaticSample

	onICE     func(webrtc.ICECandidateInit)
	onTrack   func(track *webrtc.TrackRemote)
	onState   func(webrtc.PeerConnectionState)
	closeOnce sync.Once

	// candidates that arrive before the answer is applied
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	hasSDP  bool
}

func WebRTCConfig(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// NewWebRTCConnection creates the peer connection with one outgoing opus track.
func NewWebRTCConnection(cfg webrtc.Configuration, peer string) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	local, err := webrtc.NewTrackLocalStaticSample(opusCapability, "audio", "supportcall-"+peer)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(local)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	// RTCP must be drained for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	c := &WebRTCConnection{pc: pc, peer: peer, local: local}
	c.bind()
	return c, nil
}

func (c *WebRTCConnection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", c.peer).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", c.peer).Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.onState != nil {
			c.onState(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", c.peer).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		if c.onTrack != nil {
			c.onTrack(track)
		}
	})
}

// CreateOffer sets the local description and returns it once ICE gathering
// finished, so the offer carries every host candidate.
func (c *WebRTCConnection) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return c.pc.LocalDescription(), nil
}

// ApplyAnswer sets the remote description and flushes buffered candidates.
func (c *WebRTCConnection) ApplyAnswer(sdp string) error {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return err
	}
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.hasSDP = true
	c.mu.Unlock()

	var errs []error
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.hasSDP {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) LocalTrack() *webrtc.TrackLocalStaticSample { return c.local }

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnTrack sets the callback for remote audio tracks.
func (c *WebRTCConnection) OnTrack(fn func(track *webrtc.TrackRemote)) { c.onTrack = fn }

func (c *WebRTCConnection) OnStateChange(fn func(webrtc.PeerConnectionState)) { c.onState = fn }

func (c *WebRTCConnection) Close() {
	c.closeOnce.Do(func() {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("peer", c.peer).Msg("close error")
			return
		}
		log.Info().Str("module", "webrtc").Str("peer", c.peer).Msg("closed")
	})
}
