// Package continuity tracks whether a participant's video sub-session is
// live or inside the post-disconnect grace period, and expires the stale
// ones. Buffered frames are retained through the grace period and evicted
// together with the session.
package continuity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtc-continuity/constant"
	"rtc-continuity/entities"
	"rtc-continuity/pkg/framebuffer"
	"rtc-continuity/pkg/metrics"
)

type Options struct {
	GracePeriod       time.Duration
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
}

const (
	DefaultGracePeriod       = 10 * time.Second
	DefaultInactivityTimeout = 10 * time.Minute
	DefaultSweepInterval     = 5 * time.Second
)

type Tracker struct {
	opts    Options
	log     zerolog.Logger
	buffers *framebuffer.Buffer
	now     func() time.Time

	// onRemoved fires after the sweep or an expired confirmation removed a
	// session; explicit Remove calls do not trigger it. Set before Start.
	onRemoved func(v entities.VideoSession, reason constant.RemovalReason)

	mu       sync.RWMutex
	sessions map[string]*session
}

// session is the per-key state holder. All check-then-act sequences on one
// key run under its mutex; removed marks the pointer stale so a sweep and
// a concurrent confirmation cannot both act on it.
type session struct {
	mu      sync.Mutex
	v       entities.VideoSession
	removed bool
}

func NewTracker(opts Options, buffers *framebuffer.Buffer, log zerolog.Logger) *Tracker {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DefaultInactivityTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Tracker{
		opts:     opts,
		log:      log,
		buffers:  buffers,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func key(groupId, participantId string) string {
	return groupId + ":" + participantId
}

// SetOnRemoved installs the expiry hook. Must be called before Start.
func (t *Tracker) SetOnRemoved(fn func(v entities.VideoSession, reason constant.RemovalReason)) {
	t.onRemoved = fn
}

// Register creates or overwrites the session for the key and marks it
// ACTIVE. Idempotent per key.
func (t *Tracker) Register(sessionId, groupId, participantId, deviceId string) {
	now := t.now()
	s := &session{v: entities.VideoSession{
		SessionId:     sessionId,
		GroupId:       groupId,
		ParticipantId: participantId,
		DeviceId:      deviceId,
		State:         constant.VideoSessionActive,
		RegisteredAt:  now,
		LastActivity:  now,
	}}

	k := key(groupId, participantId)
	t.mu.Lock()
	old, existed := t.sessions[k]
	t.sessions[k] = s
	t.mu.Unlock()

	if existed {
		old.mu.Lock()
		old.removed = true
		old.mu.Unlock()
	} else {
		metrics.VideoSessions.Inc()
	}

	t.log.Debug().Str("group", groupId).Str("participant", participantId).
		Str("session", sessionId).Msg("video session registered")
}

// HandleDisconnection moves an ACTIVE session into the grace period. The
// frame buffer is deliberately left untouched so a quick reconnect can
// replay it.
func (t *Tracker) HandleDisconnection(sessionId, groupId, participantId, reason string) {
	s := t.get(groupId, participantId)
	if s == nil {
		t.log.Warn().Str("group", groupId).Str("participant", participantId).
			Msg("disconnection for unknown video session")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || s.v.State != constant.VideoSessionActive {
		return
	}

	s.v.State = constant.VideoSessionDisconnected
	s.v.DisconnectTime = t.now()
	s.v.DisconnectReason = reason
	s.v.DisconnectedBy = sessionId

	t.log.Info().Str("group", groupId).Str("participant", participantId).
		Str("reason", reason).Msg("video session entered grace period")
}

// ConfirmReconnection resumes a session inside its grace period. It
// returns false when no session exists or the grace period lapsed; in the
// lapsed case the session and its buffer are torn down and the caller must
// request a fresh session. The expiry check and the transition are one
// atomic step under the per-key lock.
func (t *Tracker) ConfirmReconnection(oldSessionId, newSessionId, groupId, participantId string) bool {
	s := t.get(groupId, participantId)
	if s == nil {
		return false
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return false
	}

	if s.v.State == constant.VideoSessionDisconnected &&
		t.now().Sub(s.v.DisconnectTime) > t.opts.GracePeriod {
		s.removed = true
		v := s.v
		s.mu.Unlock()

		t.finishRemoval(s, v, constant.RemovalGraceExpired)
		return false
	}

	s.v.State = constant.VideoSessionActive
	s.v.SessionId = newSessionId
	s.v.DisconnectTime = time.Time{}
	s.v.DisconnectReason = ""
	s.v.DisconnectedBy = ""
	s.v.ReconnectCount++
	s.v.LastActivity = t.now()
	s.mu.Unlock()

	t.log.Info().Str("group", groupId).Str("participant", participantId).
		Str("old_session", oldSessionId).Str("new_session", newSessionId).
		Msg("video session reconnected")
	return true
}

// UpdateActivity refreshes the inactivity clock for ACTIVE sessions.
func (t *Tracker) UpdateActivity(groupId, participantId string) {
	s := t.get(groupId, participantId)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removed && s.v.State == constant.VideoSessionActive {
		s.v.LastActivity = t.now()
	}
}

func (t *Tracker) IsInGracePeriod(groupId, participantId string) bool {
	return t.RemainingGracePeriod(groupId, participantId) > 0
}

// RemainingGracePeriod returns how long the session may still reconnect,
// or zero for absent, ACTIVE, or already-lapsed sessions.
func (t *Tracker) RemainingGracePeriod(groupId, participantId string) time.Duration {
	s := t.get(groupId, participantId)
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || s.v.State != constant.VideoSessionDisconnected {
		return 0
	}
	remaining := t.opts.GracePeriod - t.now().Sub(s.v.DisconnectTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Remove tears the session down and clears its buffer. Idempotent.
func (t *Tracker) Remove(groupId, participantId string) {
	s := t.get(groupId, participantId)
	if s == nil {
		t.buffers.Clear(groupId, participantId)
		return
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		t.buffers.Clear(groupId, participantId)
		return
	}
	s.removed = true
	v := s.v
	s.mu.Unlock()

	t.finishRemoval(s, v, constant.RemovalExplicit)
}

// RemoveGroup tears down every session of the group plus any leftover
// buffer entries. Idempotent.
func (t *Tracker) RemoveGroup(groupId string) {
	prefix := groupId + ":"

	t.mu.RLock()
	var members []*session
	for k, s := range t.sessions {
		if strings.HasPrefix(k, prefix) {
			members = append(members, s)
		}
	}
	t.mu.RUnlock()

	for _, s := range members {
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			continue
		}
		s.removed = true
		v := s.v
		s.mu.Unlock()
		t.finishRemoval(s, v, constant.RemovalExplicit)
	}

	t.buffers.ClearGroup(groupId)
}

// Status is the composite monitoring view: session state plus the frame
// buffer's stats for the same key. ok is false for absent sessions.
func (t *Tracker) Status(groupId, participantId string) (entities.VideoSessionStatus, bool) {
	s := t.get(groupId, participantId)
	if s == nil {
		return entities.VideoSessionStatus{}, false
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return entities.VideoSessionStatus{}, false
	}
	v := s.v
	s.mu.Unlock()

	buf, _ := t.buffers.Status(groupId, participantId)
	return entities.VideoSessionStatus{
		SessionId:        v.SessionId,
		GroupId:          v.GroupId,
		ParticipantId:    v.ParticipantId,
		State:            v.State,
		RemainingGraceMs: t.RemainingGracePeriod(groupId, participantId).Milliseconds(),
		ReconnectCount:   v.ReconnectCount,
		Buffer:           buf,
	}, true
}

// Start runs the expiry sweep until ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweep expires stale sessions. The grace rule is checked before the
// inactivity rule: a DISCONNECTED session's LastActivity froze at
// disconnect time, so on old sessions both rules would match and the
// outcome must read as "grace period expired", not "inactive".
func (t *Tracker) sweep() {
	now := t.now()

	t.mu.RLock()
	snapshot := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		snapshot = append(snapshot, s)
	}
	t.mu.RUnlock()

	for _, s := range snapshot {
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			continue
		}

		var reason constant.RemovalReason
		switch {
		case s.v.State == constant.VideoSessionDisconnected &&
			now.Sub(s.v.DisconnectTime) > t.opts.GracePeriod:
			reason = constant.RemovalGraceExpired
		case s.v.State == constant.VideoSessionActive &&
			now.Sub(s.v.LastActivity) > t.opts.InactivityTimeout:
			reason = constant.RemovalInactivity
		default:
			s.mu.Unlock()
			continue
		}

		s.removed = true
		v := s.v
		s.mu.Unlock()

		t.finishRemoval(s, v, reason)
	}
}

// finishRemoval runs after the per-key lock marked the session removed:
// drop the map entry, evict the buffer, account, notify.
func (t *Tracker) finishRemoval(s *session, v entities.VideoSession, reason constant.RemovalReason) {
	k := key(v.GroupId, v.ParticipantId)

	t.mu.Lock()
	if t.sessions[k] == s {
		delete(t.sessions, k)
	}
	t.mu.Unlock()

	t.buffers.Clear(v.GroupId, v.ParticipantId)
	metrics.VideoSessions.Dec()

	switch reason {
	case constant.RemovalGraceExpired:
		metrics.GraceExpirations.Inc()
	case constant.RemovalInactivity:
		metrics.InactivityRemovals.Inc()
	}

	t.log.Info().Str("group", v.GroupId).Str("participant", v.ParticipantId).
		Str("reason", reason.String()).Msg("video session removed")

	if reason != constant.RemovalExplicit && t.onRemoved != nil {
		t.onRemoved(v, reason)
	}
}

func (t *Tracker) get(groupId, participantId string) *session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[key(groupId, participantId)]
}
