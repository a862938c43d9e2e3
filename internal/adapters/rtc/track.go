package rtc

import (
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// remoteTrack narrows *webrtc.TrackRemote to what the pipeline renders.
type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r remoteTrack) ID() string { return r.t.ID() }

func (r remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}

func (r remoteTrack) SetReadDeadline(t time.Time) error { return r.t.SetReadDeadline(t) }
