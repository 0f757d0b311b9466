package service

import (
	"context"

	"rtc-continuity/config"
	"rtc-continuity/dto"
	"rtc-continuity/entities"
	"rtc-continuity/pkg/continuity"
	"rtc-continuity/pkg/framebuffer"
	"rtc-continuity/pkg/rabbitmq"
	"rtc-continuity/pkg/reconnect"
)

// ContinuityService glues the transport layer to the continuity core:
// joins register both the video tracker and the generic reconnect
// scheduler, disconnects drive both, and lifecycle events fan out through
// the notifier.
type ContinuityService interface {
	Join(ctx context.Context, msg dto.JoinMessage) string
	AppendFrame(ctx context.Context, msg dto.FrameMessage) uint64
	Disconnect(ctx context.Context, msg dto.DisconnectMessage)
	ConfirmReconnection(ctx context.Context, msg dto.ConfirmMessage) bool
	Heartbeat(ctx context.Context, msg dto.HeartbeatMessage)
	Leave(ctx context.Context, msg dto.LeaveMessage)
	RemoveGroup(ctx context.Context, groupId string)

	VideoStatus(groupId, participantId string) (entities.VideoSessionStatus, bool)
	BufferStatus(groupId, participantId string) (entities.BufferStatus, bool)
	SessionStatus(sessionId string) (entities.ReconnectStatus, bool)
}

// RecoveryService serves "client requests recovery with a last-known
// sequence" transport events and full replay on resumed sessions.
type RecoveryService interface {
	Recover(ctx context.Context, req dto.RecoveryRequest) dto.RecoveryResponse
	Replay(ctx context.Context, groupId, participantId string) dto.RecoveryResponse
}

type continuityService struct {
	// appCtx carries the process logger into callbacks fired from timer
	// goroutines, where no request context exists.
	appCtx context.Context

	cfg       config.Continuity
	buffers   *framebuffer.Buffer
	tracker   *continuity.Tracker
	scheduler *reconnect.Scheduler
	notifier  rabbitmq.Notifier
}

func NewContinuityService(
	appCtx context.Context,
	cfg config.Continuity,
	buffers *framebuffer.Buffer,
	tracker *continuity.Tracker,
	scheduler *reconnect.Scheduler,
	notifier rabbitmq.Notifier,
) ContinuityService {
	s := &continuityService{
		appCtx:    appCtx,
		cfg:       cfg,
		buffers:   buffers,
		tracker:   tracker,
		scheduler: scheduler,
		notifier:  notifier,
	}
	tracker.SetOnRemoved(s.handleExpiry)
	return s
}

type recoveryService struct {
	cfg     config.Continuity
	buffers *framebuffer.Buffer
}

func NewRecoveryService(cfg config.Continuity, buffers *framebuffer.Buffer) RecoveryService {
	return &recoveryService{cfg: cfg, buffers: buffers}
}
