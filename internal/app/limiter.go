package app

import (
	"sync"
	"time"
)

// sweepEvery is how many Allow calls pass between sweeps of clients whose
// starts have all left the window.
const sweepEvery = 256

// StartLimiter caps how many sessions one client may start within a sliding
// window. Only the last limit start times of each client are kept.
type StartLimiter struct {
	mu       sync.Mutex
	starts   map[ClientID][]time.Time
	limit    int
	interval time.Duration
	calls    int
	now      func() time.Time
}

func NewStartLimiter(limit int, interval time.Duration) *StartLimiter {
	return &StartLimiter{
		starts:   make(map[ClientID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records a start for id if the client is under its limit.
func (rl *StartLimiter) Allow(id ClientID) bool {
	ok, _ := rl.Reserve(id)
	return ok
}

// Reserve is Allow that also reports how long a refused client has to wait
// before its oldest start leaves the window.
func (rl *StartLimiter) Reserve(id ClientID) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.calls++
	if rl.calls%sweepEvery == 0 {
		rl.sweep(now)
	}

	starts := rl.live(id, now)
	if len(starts) >= rl.limit {
		rl.starts[id] = starts
		if len(starts) == 0 {
			return false, rl.interval
		}
		return false, starts[0].Add(rl.interval).Sub(now)
	}
	rl.starts[id] = append(starts, now)
	return true, 0
}

// Forget drops the client's history.
func (rl *StartLimiter) Forget(id ClientID) {
	rl.mu.Lock()
	delete(rl.starts, id)
	rl.mu.Unlock()
}

// Len is the number of clients with a start inside the window.
func (rl *StartLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweep(rl.now())
	return len(rl.starts)
}

// live returns the client's starts still inside the window, oldest first.
func (rl *StartLimiter) live(id ClientID, now time.Time) []time.Time {
	starts := rl.starts[id]
	cut := 0
	for cut < len(starts) && !starts[cut].After(now.Add(-rl.interval)) {
		cut++
	}
	return starts[cut:]
}

func (rl *StartLimiter) sweep(now time.Time) {
	for id := range rl.starts {
		if len(rl.live(id, now)) == 0 {
			delete(rl.starts, id)
		}
	}
}
