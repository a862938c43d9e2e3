// Package watchdog turns transport liveness signals into coordinator failures.
package watchdog

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/domain"
)

// Target receives failures. Implementations must not block.
type Target interface {
	TransportFailure(sid domain.SessionID, gen uint64, kind domain.TransportErrorKind, noRetry bool)
}

// Watchdog only keeps a timer and the tag of the attempt it watches. It never
// touches session state itself.
type Watchdog struct {
	timeout time.Duration
	target  Target

	mu    sync.Mutex
	timer *time.Timer
	sid   domain.SessionID
	gen   uint64
	seq   uint64
	armed bool
}

func New(timeout time.Duration, target Target) *Watchdog {
	return &Watchdog{timeout: timeout, target: target}
}

// Arm starts watching the given attempt. Any previous watch is replaced.
func (w *Watchdog) Arm(sid domain.SessionID, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.sid, w.gen, w.armed = sid, gen, true
	w.startLocked()
	log.Debug().Str("module", "watchdog").Str("sid", string(sid)).Uint64("gen", gen).Dur("timeout", w.timeout).Msg("armed")
}

// Disarm stops watching. Safe when not armed.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.armed = false
}

// Beat restarts the timeout window if the signal belongs to the watched attempt.
func (w *Watchdog) Beat(sid domain.SessionID, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.matchesLocked(sid, gen) {
		return
	}
	w.stopLocked()
	w.startLocked()
}

// RemoteClosed reports an explicit termination by the room. It is forwarded
// even when the watchdog is not armed, since a room may hang up while the
// session is still connecting.
func (w *Watchdog) RemoteClosed(sid domain.SessionID, gen uint64) {
	w.mu.Lock()
	if w.matchesLocked(sid, gen) {
		w.stopLocked()
		w.armed = false
	}
	w.mu.Unlock()
	log.Info().Str("module", "watchdog").Str("sid", string(sid)).Uint64("gen", gen).Msg("remote closed")
	w.target.TransportFailure(sid, gen, domain.RemoteClosed, true)
}

func (w *Watchdog) matchesLocked(sid domain.SessionID, gen uint64) bool {
	return w.armed && w.sid == sid && w.gen == gen
}

func (w *Watchdog) startLocked() {
	w.seq++
	seq, sid, gen := w.seq, w.sid, w.gen
	w.timer = time.AfterFunc(w.timeout, func() { w.fire(seq, sid, gen) })
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) fire(seq uint64, sid domain.SessionID, gen uint64) {
	w.mu.Lock()
	// A timer that was replaced or stopped may still fire once.
	if !w.armed || seq != w.seq {
		w.mu.Unlock()
		return
	}
	w.armed = false
	w.timer = nil
	w.mu.Unlock()

	log.Warn().Str("module", "watchdog").Str("sid", string(sid)).Uint64("gen", gen).Dur("timeout", w.timeout).Msg("heartbeat timeout")
	w.target.TransportFailure(sid, gen, domain.HeartbeatTimeout, false)
}
