// Package reconnect manages generic transport-session connectivity: on
// disconnect it retries a caller-supplied reconnection attempt with
// exponential backoff until it succeeds, the attempt budget runs out, or
// the wall-clock timeout lapses. It is protocol-agnostic and operates
// purely on opaque session ids.
package reconnect

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"rtc-continuity/constant"
	"rtc-continuity/entities"
	"rtc-continuity/pkg/metrics"
)

// Callback is supplied per session at registration. AttemptReconnect must
// be non-blocking: it fires the attempt and returns true when one is in
// flight, with completion signaled later through ConfirmReconnection.
type Callback interface {
	AttemptReconnect(oldSessionId, username, deviceId string) bool
	OnReconnected(oldSessionId, newSessionId string)
	OnReconnectFailed(sessionId, reason string)
}

type Options struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTimeout      time.Duration
	MaxAttempts     int
}

const (
	DefaultInitialInterval = 1 * time.Second
	DefaultMaxInterval     = 5 * time.Second
	DefaultMaxTimeout      = 20 * time.Second
	DefaultMaxAttempts     = 10
)

const (
	reasonTimeout  = "reconnect timeout exceeded"
	reasonAttempts = "max reconnect attempts exceeded"
)

type Scheduler struct {
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// session state is guarded by its own mutex; the removed flag keeps a
// stale fired timer, a sweep and a confirmation from acting twice.
type session struct {
	mu      sync.Mutex
	v       entities.ReconnectSession
	cb      Callback
	bo      *backoff.ExponentialBackOff
	timer   *time.Timer
	removed bool
}

func NewScheduler(opts Options, log zerolog.Logger) *Scheduler {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultMaxInterval
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = DefaultMaxTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Scheduler{
		opts:     opts,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// newBackOff yields the deterministic interval sequence
// initial, 2·initial, 4·initial, ... capped at max.
func newBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = max
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	return bo
}

// RegisterSession creates a CONNECTED entry, overwriting any previous
// entry under the same id.
func (sc *Scheduler) RegisterSession(sessionId, username, deviceId string, cb Callback) {
	now := sc.now()
	s := &session{
		v: entities.ReconnectSession{
			SessionId:     sessionId,
			Username:      username,
			DeviceId:      deviceId,
			State:         constant.ReconnectConnected,
			ConnectedAt:   now,
			LastHeartbeat: now,
		},
		cb: cb,
	}

	sc.mu.Lock()
	old, existed := sc.sessions[sessionId]
	sc.sessions[sessionId] = s
	sc.mu.Unlock()

	if existed {
		old.mu.Lock()
		old.removed = true
		if old.timer != nil {
			old.timer.Stop()
		}
		old.mu.Unlock()
	} else {
		metrics.ReconnectSessions.Inc()
	}

	sc.log.Debug().Str("session", sessionId).Str("username", username).
		Msg("reconnect session registered")
}

// HandleDisconnection moves a CONNECTED session into RECONNECTING and
// schedules the first retry immediately.
func (sc *Scheduler) HandleDisconnection(sessionId, reason string) {
	s := sc.get(sessionId)
	if s == nil {
		sc.log.Warn().Str("session", sessionId).Str("reason", reason).
			Msg("disconnection for unknown reconnect session")
		return
	}

	s.mu.Lock()
	if s.removed || s.v.State != constant.ReconnectConnected {
		s.mu.Unlock()
		return
	}

	s.v.State = constant.ReconnectReconnecting
	s.v.DisconnectTime = sc.now()
	s.v.Attempts = 0
	s.bo = newBackOff(sc.opts.InitialInterval, sc.opts.MaxInterval)
	failReason := sc.scheduleLocked(s)
	s.mu.Unlock()

	sc.log.Info().Str("session", sessionId).Str("reason", reason).
		Msg("session disconnected, scheduling reconnect")

	if failReason != "" {
		sc.fail(s, failReason)
	}
}

// scheduleLocked checks the wall-clock and attempt budgets, and if both
// hold arms the next retry timer. Must be called with s.mu held; a
// non-empty return means the session has to fail permanently.
func (sc *Scheduler) scheduleLocked(s *session) string {
	if sc.now().Sub(s.v.DisconnectTime) > sc.opts.MaxTimeout {
		return reasonTimeout
	}
	if s.v.Attempts >= sc.opts.MaxAttempts {
		return reasonAttempts
	}

	interval := s.bo.NextBackOff()
	s.v.Attempts++
	s.timer = time.AfterFunc(interval, func() { sc.fire(s) })
	return ""
}

// fire runs when a retry timer elapses. A timer that outlived a
// confirmation or removal is a no-op.
func (sc *Scheduler) fire(s *session) {
	s.mu.Lock()
	if s.removed || s.v.State == constant.ReconnectConnected {
		s.mu.Unlock()
		return
	}
	oldId, username, deviceId := s.v.SessionId, s.v.Username, s.v.DeviceId
	attempt := s.v.Attempts
	cb := s.cb
	s.mu.Unlock()

	metrics.ReconnectAttempts.Inc()
	inFlight := sc.attempt(cb, oldId, username, deviceId)
	if inFlight {
		// Completion arrives through ConfirmReconnection.
		return
	}

	sc.log.Debug().Str("session", oldId).Int("attempt", attempt).
		Msg("reconnect attempt failed")

	s.mu.Lock()
	if s.removed || s.v.State == constant.ReconnectConnected {
		s.mu.Unlock()
		return
	}
	failReason := sc.scheduleLocked(s)
	s.mu.Unlock()

	if failReason != "" {
		sc.fail(s, failReason)
	}
}

// attempt shields the scheduler from a panicking callback; a panic counts
// as a failed attempt.
func (sc *Scheduler) attempt(cb Callback, oldId, username, deviceId string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			sc.log.Error().Str("session", oldId).Interface("panic", r).
				Msg("reconnect attempt callback panicked")
			ok = false
		}
	}()
	return cb.AttemptReconnect(oldId, username, deviceId)
}

// ConfirmReconnection cancels any pending retry, restores CONNECTED state
// under the new session id and fires OnReconnected. Returns false for
// unknown or already-removed sessions.
func (sc *Scheduler) ConfirmReconnection(oldSessionId, newSessionId string) bool {
	sc.mu.Lock()
	s := sc.sessions[oldSessionId]
	if s == nil {
		sc.mu.Unlock()
		sc.log.Warn().Str("session", oldSessionId).
			Msg("reconnect confirmation for unknown session")
		return false
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		sc.mu.Unlock()
		return false
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.v.State = constant.ReconnectConnected
	s.v.SessionId = newSessionId
	s.v.Attempts = 0
	s.v.DisconnectTime = time.Time{}
	s.v.LastHeartbeat = sc.now()
	cb := s.cb
	s.mu.Unlock()

	delete(sc.sessions, oldSessionId)
	sc.sessions[newSessionId] = s
	sc.mu.Unlock()

	metrics.ReconnectSuccesses.Inc()
	sc.log.Info().Str("old_session", oldSessionId).Str("new_session", newSessionId).
		Msg("session reconnected")

	cb.OnReconnected(oldSessionId, newSessionId)
	return true
}

// UpdateHeartbeat refreshes liveness on CONNECTED sessions.
func (sc *Scheduler) UpdateHeartbeat(sessionId string) {
	s := sc.get(sessionId)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removed && s.v.State == constant.ReconnectConnected {
		s.v.LastHeartbeat = sc.now()
	}
}

// RemoveSession cancels any pending retry and deletes the entry.
// Idempotent; a timer already executing completes as a stale no-op.
func (sc *Scheduler) RemoveSession(sessionId string) {
	s := sc.get(sessionId)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.removed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	sc.deleteEntry(sessionId, s)
	metrics.ReconnectSessions.Dec()
	sc.log.Debug().Str("session", sessionId).Msg("reconnect session removed")
}

// GetSessionStatus reports connectivity, attempts so far and the time
// budget; ok is false for unknown sessions.
func (sc *Scheduler) GetSessionStatus(sessionId string) (entities.ReconnectStatus, bool) {
	s := sc.get(sessionId)
	if s == nil {
		return entities.ReconnectStatus{}, false
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return entities.ReconnectStatus{}, false
	}
	v := s.v
	s.mu.Unlock()

	status := entities.ReconnectStatus{
		SessionId: v.SessionId,
		Connected: v.State == constant.ReconnectConnected,
		Attempts:  v.Attempts,
	}
	if v.State == constant.ReconnectReconnecting {
		since := sc.now().Sub(v.DisconnectTime)
		status.SinceDisconnectMs = since.Milliseconds()
		if remaining := sc.opts.MaxTimeout - since; remaining > 0 {
			status.RemainingMs = remaining.Milliseconds()
		}
	}
	return status, true
}

// fail permanently removes the session and fires OnReconnectFailed exactly
// once.
func (sc *Scheduler) fail(s *session, reason string) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.removed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	v := s.v
	cb := s.cb
	s.mu.Unlock()

	sc.deleteEntry(v.SessionId, s)
	metrics.ReconnectSessions.Dec()
	metrics.ReconnectFailures.Inc()

	sc.log.Warn().Str("session", v.SessionId).Str("reason", reason).
		Int("attempts", v.Attempts).Msg("reconnection failed permanently")

	cb.OnReconnectFailed(v.SessionId, reason)
}

func (sc *Scheduler) deleteEntry(sessionId string, s *session) {
	sc.mu.Lock()
	if sc.sessions[sessionId] == s {
		delete(sc.sessions, sessionId)
	}
	sc.mu.Unlock()
}

func (sc *Scheduler) get(sessionId string) *session {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.sessions[sessionId]
}
