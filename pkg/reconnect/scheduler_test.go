package reconnect

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// stubCallback records scheduler interactions. attemptResult controls the
// AttemptReconnect return; attemptPanics makes it panic instead.
type stubCallback struct {
	mu            sync.Mutex
	attempts      int
	attemptResult bool
	attemptPanics bool

	reconnected   []string
	failedReasons []string
	failed        chan string
}

func newStubCallback(attemptResult bool) *stubCallback {
	return &stubCallback{
		attemptResult: attemptResult,
		failed:        make(chan string, 4),
	}
}

func (c *stubCallback) AttemptReconnect(oldSessionId, username, deviceId string) bool {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()
	if c.attemptPanics {
		panic("callback exploded")
	}
	return c.attemptResult
}

func (c *stubCallback) OnReconnected(oldSessionId, newSessionId string) {
	c.mu.Lock()
	c.reconnected = append(c.reconnected, newSessionId)
	c.mu.Unlock()
}

func (c *stubCallback) OnReconnectFailed(sessionId, reason string) {
	c.mu.Lock()
	c.failedReasons = append(c.failedReasons, reason)
	c.mu.Unlock()
	c.failed <- reason
}

func (c *stubCallback) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *stubCallback) failureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failedReasons)
}

func (c *stubCallback) reconnectedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reconnected)
}

func newTestScheduler(opts Options) *Scheduler {
	return NewScheduler(opts, zerolog.Nop())
}

func TestBackoffIntervalSequence(t *testing.T) {
	bo := newBackOff(1*time.Second, 5*time.Second)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for i, expected := range want {
		require.Equal(t, expected, bo.NextBackOff(), "interval %d", i)
	}
}

func TestFailsAfterAttemptBudgetExhausted(t *testing.T) {
	sc := newTestScheduler(Options{
		InitialInterval: 2 * time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		MaxTimeout:      10 * time.Second,
		MaxAttempts:     3,
	})
	cb := newStubCallback(false)

	sc.RegisterSession("s1", "alice", "dev1", cb)
	sc.HandleDisconnection("s1", "network_error")

	select {
	case reason := <-cb.failed:
		require.Equal(t, reasonAttempts, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("expected permanent failure")
	}

	require.Equal(t, 3, cb.attemptCount())

	// Failure fires exactly once and removes the entry.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, cb.failureCount())
	_, ok := sc.GetSessionStatus("s1")
	require.False(t, ok)
}

func TestFailsAfterWallClockTimeout(t *testing.T) {
	sc := newTestScheduler(Options{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		MaxTimeout:      45 * time.Millisecond,
		MaxAttempts:     1000,
	})
	cb := newStubCallback(false)

	sc.RegisterSession("s1", "alice", "dev1", cb)
	sc.HandleDisconnection("s1", "network_error")

	select {
	case reason := <-cb.failed:
		require.Equal(t, reasonTimeout, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("expected permanent failure")
	}

	require.Equal(t, 1, cb.failureCount())
}

func TestAttemptInFlightAwaitsConfirmation(t *testing.T) {
	sc := newTestScheduler(Options{
		InitialInterval: 2 * time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		MaxTimeout:      10 * time.Second,
		MaxAttempts:     10,
	})
	cb := newStubCallback(true)

	sc.RegisterSession("s1", "alice", "dev1", cb)
	sc.HandleDisconnection("s1", "network_error")

	require.Eventually(t, func() bool { return cb.attemptCount() == 1 },
		time.Second, time.Millisecond)

	// The attempt is in flight; no further retries until confirmation.
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, cb.attemptCount())
	require.Equal(t, 0, cb.failureCount())

	require.True(t, sc.ConfirmReconnection("s1", "s2"))
	require.Equal(t, 1, cb.reconnectedCount())

	status, ok := sc.GetSessionStatus("s2")
	require.True(t, ok)
	require.True(t, status.Connected)
	require.Equal(t, 0, status.Attempts)

	_, ok = sc.GetSessionStatus("s1")
	require.False(t, ok)
}

func TestConfirmCancelsPendingRetry(t *testing.T) {
	sc := newTestScheduler(Options{
		InitialInterval: 40 * time.Millisecond,
		MaxInterval:     40 * time.Millisecond,
		MaxTimeout:      10 * time.Second,
		MaxAttempts:     10,
	})
	cb := newStubCallback(false)

	sc.RegisterSession("s1", "alice", "dev1", cb)
	sc.HandleDisconnection("s1", "network_error")

	// Confirm before the first retry timer fires.
	require.True(t, sc.ConfirmReconnection("s1", "s2"))

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, cb.attemptCount())
	require.Equal(t, 0, cb.failureCount())

	status, ok := sc.GetSessionStatus("s2")
	require.True(t, ok)
	require.True(t, status.Connected)
}

func TestPanickingCallbackCountsAsFailedAttempt(t *testing.T) {
	sc := newTestScheduler(Options{
		InitialInterval: 2 * time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		MaxTimeout:      10 * time.Second,
		MaxAttempts:     2,
	})
	cb := newStubCallback(false)
	cb.attemptPanics = true

	sc.RegisterSession("s1", "alice", "dev1", cb)
	sc.HandleDisconnection("s1", "network_error")

	select {
	case reason := <-cb.failed:
		require.Equal(t, reasonAttempts, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("expected permanent failure")
	}
	require.Equal(t, 2, cb.attemptCount())
}

func TestRemoveSessionCancelsRetries(t *testing.T) {
	sc := newTestScheduler(Options{
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		MaxTimeout:      10 * time.Second,
		MaxAttempts:     10,
	})
	cb := newStubCallback(false)

	sc.RegisterSession("s1", "alice", "dev1", cb)
	sc.HandleDisconnection("s1", "network_error")
	sc.RemoveSession("s1")

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 0, cb.attemptCount())
	require.Equal(t, 0, cb.failureCount())

	_, ok := sc.GetSessionStatus("s1")
	require.False(t, ok)
}

func TestRemoveSessionIsIdempotent(t *testing.T) {
	sc := newTestScheduler(Options{})
	cb := newStubCallback(false)

	sc.RegisterSession("s1", "alice", "dev1", cb)
	sc.RemoveSession("s1")
	sc.RemoveSession("s1")
}

func TestUnknownSessionOperations(t *testing.T) {
	sc := newTestScheduler(Options{})

	sc.HandleDisconnection("nope", "network_error")
	sc.UpdateHeartbeat("nope")
	sc.RemoveSession("nope")
	require.False(t, sc.ConfirmReconnection("nope", "new"))

	_, ok := sc.GetSessionStatus("nope")
	require.False(t, ok)
}

func TestDisconnectWhileReconnectingIsNoop(t *testing.T) {
	sc := newTestScheduler(Options{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		MaxTimeout:      10 * time.Second,
		MaxAttempts:     10,
	})
	cb := newStubCallback(false)

	sc.RegisterSession("s1", "alice", "dev1", cb)
	sc.HandleDisconnection("s1", "first")
	sc.HandleDisconnection("s1", "second")

	status, ok := sc.GetSessionStatus("s1")
	require.True(t, ok)
	require.False(t, status.Connected)
	require.Equal(t, 1, status.Attempts)
}

func TestGetSessionStatusWhileReconnecting(t *testing.T) {
	sc := newTestScheduler(Options{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		MaxTimeout:      20 * time.Second,
		MaxAttempts:     10,
	})
	cb := newStubCallback(false)

	sc.RegisterSession("s1", "alice", "dev1", cb)

	status, ok := sc.GetSessionStatus("s1")
	require.True(t, ok)
	require.True(t, status.Connected)
	require.Zero(t, status.SinceDisconnectMs)

	sc.HandleDisconnection("s1", "network_error")

	status, ok = sc.GetSessionStatus("s1")
	require.True(t, ok)
	require.False(t, status.Connected)
	require.Equal(t, 1, status.Attempts)
	require.Greater(t, status.RemainingMs, int64(0))
}

func TestHeartbeatOnlyRefreshesConnectedSessions(t *testing.T) {
	sc := newTestScheduler(Options{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		MaxTimeout:      20 * time.Second,
		MaxAttempts:     10,
	})
	cb := newStubCallback(false)

	sc.RegisterSession("s1", "alice", "dev1", cb)
	sc.HandleDisconnection("s1", "network_error")

	// Must not resurrect a RECONNECTING session.
	sc.UpdateHeartbeat("s1")
	status, ok := sc.GetSessionStatus("s1")
	require.True(t, ok)
	require.False(t, status.Connected)
}
