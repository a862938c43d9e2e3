// Package device provides the local capture and playback devices used by the
// audio pipeline. Capture reads an Ogg/Opus source; playback writes an Ogg
// stream into a player process.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
	"github.com/dkeye/SupportCall/internal/metrics"
)

var ErrDeviceBusy = errors.New("device busy")

// opusSilence is a single Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const opusClockRate = 48000

// Microphone hands out one capture at a time.
type Microphone struct {
	sourcePath string
	frame      time.Duration

	mu   sync.Mutex
	held bool
}

// NewMicrophone captures from sourcePath, an Ogg/Opus file played in a loop.
// An empty path captures silence.
func NewMicrophone(sourcePath string, frame time.Duration) *Microphone {
	return &Microphone{sourcePath: sourcePath, frame: frame}
}

func (m *Microphone) Acquire(ctx context.Context) (core.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return nil, ErrDeviceBusy
	}

	c := &capture{mic: m, frame: m.frame, id: "silence"}
	if m.sourcePath != "" {
		f, err := os.Open(m.sourcePath)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		reader, _, err := oggreader.NewWith(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("read ogg header: %w", err)
		}
		c.file, c.reader, c.id = f, reader, m.sourcePath
	}

	m.held = true
	metrics.DeviceAcquired("microphone")
	log.Info().Str("module", "device").Str("capture", c.id).Msg("microphone acquired")
	return c, nil
}

func (m *Microphone) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		m.held = false
		metrics.DeviceReleased("microphone")
	}
}

type capture struct {
	mic    *Microphone
	frame  time.Duration
	id     string
	file   *os.File
	reader *oggreader.OggReader

	closeOnce sync.Once
}

func (c *capture) ID() string { return c.id }

// Run paces samples into sink until ctx ends. While muted, silence replaces
// captured frames.
func (c *capture) Run(ctx context.Context, sink core.AudioSink, track *domain.AudioTrack) error {
	ticker := time.NewTicker(c.frame)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		sample := media.Sample{Data: opusSilence, Duration: c.frame}
		if c.reader != nil {
			page, header, err := c.reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				if err := c.rewind(); err != nil {
					return err
				}
				lastGranule = 0
				continue
			}
			if err != nil {
				return fmt.Errorf("read page: %w", err)
			}
			count := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			sample = media.Sample{Data: page, Duration: time.Duration(count) * time.Second / opusClockRate}
		}

		if !track.Enabled() {
			sample.Data = opusSilence
		}
		if err := sink.WriteSample(sample); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
}

func (c *capture) rewind() error {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(c.file)
	if err != nil {
		return err
	}
	c.reader = reader
	return nil
}

func (c *capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.file != nil {
			err = c.file.Close()
		}
		c.mic.release()
		log.Info().Str("module", "device").Str("capture", c.id).Msg("microphone released")
	})
	return err
}
