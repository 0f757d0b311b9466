package handler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"rtc-continuity/config"
	"rtc-continuity/constant"
	"rtc-continuity/dto"
	"rtc-continuity/pkg/continuity"
	"rtc-continuity/pkg/framebuffer"
	"rtc-continuity/pkg/rabbitmq"
	"rtc-continuity/pkg/reconnect"
	"rtc-continuity/service"
)

func newTestDeps(t *testing.T) ServiceDependencies {
	t.Helper()
	log := zerolog.Nop()
	cfg := config.Continuity{
		GracePeriod:          10 * time.Second,
		InitialRetryInterval: time.Minute,
		MaxRetryInterval:     time.Minute,
		MaxReconnectTimeout:  time.Hour,
		MaxRetryAttempts:     10,
		RecoveryTailCount:    3,
	}

	buffers := framebuffer.New(framebuffer.Options{}, log)
	tracker := continuity.NewTracker(continuity.Options{GracePeriod: cfg.GracePeriod}, buffers, log)
	scheduler := reconnect.NewScheduler(reconnect.Options{
		InitialInterval: cfg.InitialRetryInterval,
		MaxInterval:     cfg.MaxRetryInterval,
		MaxTimeout:      cfg.MaxReconnectTimeout,
		MaxAttempts:     cfg.MaxRetryAttempts,
	}, log)

	ctx := log.WithContext(context.Background())
	return ServiceDependencies{
		ContinuityService: service.NewContinuityService(ctx, cfg, buffers, tracker, scheduler, rabbitmq.NoopNotifier{}),
		RecoveryService:   service.NewRecoveryService(cfg, buffers),
	}
}

func controlDelivery(t *testing.T, op string, payload any) amqp.Delivery {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(dto.ControlMessage{Op: op, Data: data})
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func TestFrameHandler(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()

	body, err := json.Marshal(dto.FrameMessage{
		GroupId: "g1", ParticipantId: "alice", Payload: []byte("frame"), Timestamp: 42,
	})
	require.NoError(t, err)

	require.NoError(t, FrameHandler(ctx, amqp.Delivery{Body: body}, deps))

	status, ok := deps.ContinuityService.BufferStatus("g1", "alice")
	require.True(t, ok)
	require.Equal(t, 1, status.FrameCount)
}

func TestFrameHandlerRejectsMalformedBody(t *testing.T) {
	deps := newTestDeps(t)
	err := FrameHandler(context.Background(), amqp.Delivery{Body: []byte("{")}, deps)
	require.Error(t, err)
}

func TestControlHandlerJoinDisconnectConfirm(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()

	join := controlDelivery(t, dto.OpJoin, dto.JoinMessage{
		SessionId: "s1", GroupId: "g1", ParticipantId: "alice", Username: "alice",
	})
	require.NoError(t, ControlHandler(ctx, join, deps))

	status, ok := deps.ContinuityService.VideoStatus("g1", "alice")
	require.True(t, ok)
	require.Equal(t, constant.VideoSessionActive, status.State)

	disconnect := controlDelivery(t, dto.OpDisconnect, dto.DisconnectMessage{
		SessionId: "s1", GroupId: "g1", ParticipantId: "alice", Reason: "network_error",
	})
	require.NoError(t, ControlHandler(ctx, disconnect, deps))

	status, ok = deps.ContinuityService.VideoStatus("g1", "alice")
	require.True(t, ok)
	require.Equal(t, constant.VideoSessionDisconnected, status.State)

	confirm := controlDelivery(t, dto.OpConfirm, dto.ConfirmMessage{
		OldSessionId: "s1", NewSessionId: "s2", GroupId: "g1", ParticipantId: "alice",
	})
	require.NoError(t, ControlHandler(ctx, confirm, deps))

	status, ok = deps.ContinuityService.VideoStatus("g1", "alice")
	require.True(t, ok)
	require.Equal(t, constant.VideoSessionActive, status.State)
	require.Equal(t, "s2", status.SessionId)
}

func TestControlHandlerLeave(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()

	join := controlDelivery(t, dto.OpJoin, dto.JoinMessage{
		SessionId: "s1", GroupId: "g1", ParticipantId: "alice",
	})
	require.NoError(t, ControlHandler(ctx, join, deps))

	leave := controlDelivery(t, dto.OpLeave, dto.LeaveMessage{
		SessionId: "s1", GroupId: "g1", ParticipantId: "alice",
	})
	require.NoError(t, ControlHandler(ctx, leave, deps))

	_, ok := deps.ContinuityService.VideoStatus("g1", "alice")
	require.False(t, ok)
}

func TestControlHandlerUnknownOp(t *testing.T) {
	deps := newTestDeps(t)
	msg := controlDelivery(t, "teleport", struct{}{})
	require.Error(t, ControlHandler(context.Background(), msg, deps))
}
