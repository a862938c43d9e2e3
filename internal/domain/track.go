package domain

import "sync/atomic"

type TrackKind string

const (
	TrackLocal  TrackKind = "local"
	TrackRemote TrackKind = "remote"
)

// AudioTrack carries the flags of one audio stream. Flags are read by the
// media goroutines and written by the pipeline, so they are atomic.
type AudioTrack struct {
	ID   string
	Kind TrackKind

	enabled atomic.Bool
	live    atomic.Bool
}

// NewAudioTrack starts enabled and not yet live.
func NewAudioTrack(kind TrackKind, id string) *AudioTrack {
	t := &AudioTrack{ID: id, Kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *AudioTrack) Enabled() bool      { return t.enabled.Load() }
func (t *AudioTrack) SetEnabled(on bool) { t.enabled.Store(on) }
func (t *AudioTrack) Live() bool         { return t.live.Load() }
func (t *AudioTrack) MarkLive()          { t.live.Store(true) }
func (t *AudioTrack) MarkEnded()         { t.live.Store(false) }

// TrackInfo is a read-only view for APIs.
type TrackInfo struct {
	ID      string    `json:"id"`
	Kind    TrackKind `json:"kind"`
	Enabled bool      `json:"enabled"`
	Live    bool      `json:"live"`
}

func (t *AudioTrack) Info() TrackInfo {
	return TrackInfo{ID: t.ID, Kind: t.Kind, Enabled: t.Enabled(), Live: t.Live()}
}
