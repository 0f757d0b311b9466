package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rtc-continuity/constant"
	"rtc-continuity/dto"
	"rtc-continuity/entities"
)

func (s *continuityService) Join(ctx context.Context, msg dto.JoinMessage) string {
	sessionId := msg.SessionId
	if sessionId == "" {
		sessionId = uuid.NewString()
	}

	s.tracker.Register(sessionId, msg.GroupId, msg.ParticipantId, msg.DeviceId)
	s.scheduler.RegisterSession(sessionId, msg.Username, msg.DeviceId, &reconnectCallback{
		svc:           s,
		groupId:       msg.GroupId,
		participantId: msg.ParticipantId,
		username:      msg.Username,
	})

	zerolog.Ctx(ctx).Info().Str("group", msg.GroupId).Str("participant", msg.ParticipantId).
		Str("session", sessionId).Msg("participant joined")
	return sessionId
}

func (s *continuityService) AppendFrame(ctx context.Context, msg dto.FrameMessage) uint64 {
	seq := s.buffers.Append(msg.GroupId, msg.ParticipantId, msg.Payload, msg.Timestamp)
	// Media flow counts as activity for the inactivity timeout.
	s.tracker.UpdateActivity(msg.GroupId, msg.ParticipantId)
	return seq
}

func (s *continuityService) Disconnect(ctx context.Context, msg dto.DisconnectMessage) {
	s.tracker.HandleDisconnection(msg.SessionId, msg.GroupId, msg.ParticipantId, msg.Reason)
	s.scheduler.HandleDisconnection(msg.SessionId, msg.Reason)

	s.sendToTopic(ctx, msg.GroupId, dto.SessionEvent{
		Type:          constant.EventParticipantDisconnected,
		GroupId:       msg.GroupId,
		ParticipantId: msg.ParticipantId,
		SessionId:     msg.SessionId,
		Reason:        msg.Reason,
	})
}

// ConfirmReconnection resolves both levels: the video grace-period check
// decides the outcome, and on success the generic session is confirmed as
// well. A false return means the client has to request a fresh session.
func (s *continuityService) ConfirmReconnection(ctx context.Context, msg dto.ConfirmMessage) bool {
	ok := s.tracker.ConfirmReconnection(msg.OldSessionId, msg.NewSessionId, msg.GroupId, msg.ParticipantId)
	if !ok {
		s.scheduler.RemoveSession(msg.OldSessionId)
		zerolog.Ctx(ctx).Warn().Str("group", msg.GroupId).Str("participant", msg.ParticipantId).
			Str("old_session", msg.OldSessionId).Msg("reconnection rejected")
		return false
	}

	s.scheduler.ConfirmReconnection(msg.OldSessionId, msg.NewSessionId)
	return true
}

func (s *continuityService) Heartbeat(ctx context.Context, msg dto.HeartbeatMessage) {
	s.tracker.UpdateActivity(msg.GroupId, msg.ParticipantId)
	s.scheduler.UpdateHeartbeat(msg.SessionId)
}

func (s *continuityService) Leave(ctx context.Context, msg dto.LeaveMessage) {
	s.tracker.Remove(msg.GroupId, msg.ParticipantId)
	s.scheduler.RemoveSession(msg.SessionId)
	zerolog.Ctx(ctx).Info().Str("group", msg.GroupId).Str("participant", msg.ParticipantId).
		Msg("participant left")
}

func (s *continuityService) RemoveGroup(ctx context.Context, groupId string) {
	s.tracker.RemoveGroup(groupId)
	zerolog.Ctx(ctx).Info().Str("group", groupId).Msg("group removed")
}

func (s *continuityService) VideoStatus(groupId, participantId string) (entities.VideoSessionStatus, bool) {
	return s.tracker.Status(groupId, participantId)
}

func (s *continuityService) BufferStatus(groupId, participantId string) (entities.BufferStatus, bool) {
	return s.buffers.Status(groupId, participantId)
}

func (s *continuityService) SessionStatus(sessionId string) (entities.ReconnectStatus, bool) {
	return s.scheduler.GetSessionStatus(sessionId)
}

// handleExpiry is wired as the tracker's removal hook; expiries are
// expected lifecycle terminations surfaced as informational events only.
func (s *continuityService) handleExpiry(v entities.VideoSession, reason constant.RemovalReason) {
	eventType := constant.EventGraceExpired
	if reason == constant.RemovalInactivity {
		eventType = constant.EventInactivityRemoved
	}

	s.sendToTopic(s.appCtx, v.GroupId, dto.SessionEvent{
		Type:          eventType,
		GroupId:       v.GroupId,
		ParticipantId: v.ParticipantId,
		SessionId:     v.SessionId,
		Reason:        reason.String(),
	})
}

func (s *continuityService) sendToTopic(ctx context.Context, topic string, event dto.SessionEvent) {
	event.Timestamp = nowMs()
	if err := s.notifier.SendToTopic(ctx, topic, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("topic", topic).
			Str("event", string(event.Type)).Msg("failed to fan out session event")
	}
}

func (s *continuityService) sendToUser(ctx context.Context, username string, event dto.SessionEvent) error {
	event.Timestamp = nowMs()
	return s.notifier.SendToUser(ctx, username, event)
}

// reconnectCallback adapts the scheduler's contract onto the messaging
// layer: an attempt pushes a reconnect request to the user and completion
// arrives later as a ConfirmReconnection call.
type reconnectCallback struct {
	svc           *continuityService
	groupId       string
	participantId string
	username      string
}

func (c *reconnectCallback) AttemptReconnect(oldSessionId, username, deviceId string) bool {
	err := c.svc.sendToUser(c.svc.appCtx, username, dto.SessionEvent{
		Type:          constant.EventReconnectRequested,
		GroupId:       c.groupId,
		ParticipantId: c.participantId,
		SessionId:     oldSessionId,
		Username:      username,
	})
	return err == nil
}

func (c *reconnectCallback) OnReconnected(oldSessionId, newSessionId string) {
	c.svc.sendToTopic(c.svc.appCtx, c.groupId, dto.SessionEvent{
		Type:          constant.EventParticipantReconnected,
		GroupId:       c.groupId,
		ParticipantId: c.participantId,
		SessionId:     newSessionId,
		Username:      c.username,
	})
}

func (c *reconnectCallback) OnReconnectFailed(sessionId, reason string) {
	c.svc.sendToTopic(c.svc.appCtx, c.groupId, dto.SessionEvent{
		Type:          constant.EventReconnectFailed,
		GroupId:       c.groupId,
		ParticipantId: c.participantId,
		SessionId:     sessionId,
		Username:      c.username,
		Reason:        reason,
	})
	if err := c.svc.sendToUser(c.svc.appCtx, c.username, dto.SessionEvent{
		Type:      constant.EventReconnectFailed,
		GroupId:   c.groupId,
		SessionId: sessionId,
		Reason:    reason,
	}); err != nil {
		zerolog.Ctx(c.svc.appCtx).Warn().Err(err).Str("username", c.username).
			Msg("failed to notify user of reconnect failure")
	}
}
