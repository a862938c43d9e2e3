package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/SupportCall/internal/domain"
)

type failure struct {
	sid     domain.SessionID
	gen     uint64
	kind    domain.TransportErrorKind
	noRetry bool
}

type recordingTarget struct {
	mu    sync.Mutex
	calls []failure
}

func (r *recordingTarget) TransportFailure(sid domain.SessionID, gen uint64, kind domain.TransportErrorKind, noRetry bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, failure{sid, gen, kind, noRetry})
}

func (r *recordingTarget) snapshot() []failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]failure(nil), r.calls...)
}

func TestTimeoutFiresOnce(t *testing.T) {
	target := &recordingTarget{}
	w := New(30*time.Millisecond, target)

	w.Arm("s1", 1)
	require.Eventually(t, func() bool { return len(target.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	calls := target.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, failure{"s1", 1, domain.HeartbeatTimeout, false}, calls[0])
}

func TestBeatKeepsAlive(t *testing.T) {
	target := &recordingTarget{}
	w := New(40*time.Millisecond, target)
	w.Arm("s1", 1)

	for i := 0; i < 8; i++ {
		time.Sleep(10 * time.Millisecond)
		w.Beat("s1", 1)
	}
	assert.Empty(t, target.snapshot())
	w.Disarm()
}

func TestBeatFromOtherAttemptIgnored(t *testing.T) {
	target := &recordingTarget{}
	w := New(40*time.Millisecond, target)
	w.Arm("s1", 2)

	for i := 0; i < 8; i++ {
		time.Sleep(10 * time.Millisecond)
		w.Beat("s1", 1)
	}
	require.Eventually(t, func() bool { return len(target.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), target.snapshot()[0].gen)
}

func TestDisarmStopsTimer(t *testing.T) {
	target := &recordingTarget{}
	w := New(20*time.Millisecond, target)
	w.Arm("s1", 1)
	w.Disarm()
	w.Disarm()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, target.snapshot())
}

func TestRemoteClosedNeverRetries(t *testing.T) {
	target := &recordingTarget{}
	w := New(time.Hour, target)

	w.RemoteClosed("s1", 3)
	w.Arm("s2", 1)
	w.RemoteClosed("s2", 1)

	calls := target.snapshot()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, domain.RemoteClosed, c.kind)
		assert.True(t, c.noRetry)
	}

	// the armed timer for s2 was stopped by the close
	w.Beat("s2", 1)
	assert.Len(t, target.snapshot(), 2)
}
