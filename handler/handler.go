package handler

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"rtc-continuity/dto"
	"rtc-continuity/service"
)

type ServiceDependencies struct {
	ContinuityService service.ContinuityService
	RecoveryService   service.RecoveryService
}

// FrameHandler ingests one media frame from the transport queue.
func FrameHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var frame dto.FrameMessage
	if err := json.Unmarshal(msg.Body, &frame); err != nil {
		return err
	}

	deps.ContinuityService.AppendFrame(ctx, frame)
	return nil
}

// ControlHandler dispatches non-frame transport events (join, disconnect,
// reconnect confirmation, heartbeat, teardown) to the continuity service.
func ControlHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var control dto.ControlMessage
	if err := json.Unmarshal(msg.Body, &control); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal control message")
		return err
	}

	switch control.Op {
	case dto.OpJoin:
		var join dto.JoinMessage
		if err := json.Unmarshal(control.Data, &join); err != nil {
			return err
		}
		deps.ContinuityService.Join(ctx, join)

	case dto.OpDisconnect:
		var disconnect dto.DisconnectMessage
		if err := json.Unmarshal(control.Data, &disconnect); err != nil {
			return err
		}
		deps.ContinuityService.Disconnect(ctx, disconnect)

	case dto.OpConfirm:
		var confirm dto.ConfirmMessage
		if err := json.Unmarshal(control.Data, &confirm); err != nil {
			return err
		}
		ok := deps.ContinuityService.ConfirmReconnection(ctx, confirm)
		zerolog.Ctx(ctx).Info().Str("group", confirm.GroupId).
			Str("participant", confirm.ParticipantId).Bool("resumed", ok).
			Msg("reconnect confirmation handled")

	case dto.OpHeartbeat:
		var heartbeat dto.HeartbeatMessage
		if err := json.Unmarshal(control.Data, &heartbeat); err != nil {
			return err
		}
		deps.ContinuityService.Heartbeat(ctx, heartbeat)

	case dto.OpLeave:
		var leave dto.LeaveMessage
		if err := json.Unmarshal(control.Data, &leave); err != nil {
			return err
		}
		deps.ContinuityService.Leave(ctx, leave)

	case dto.OpRemoveGroup:
		var remove dto.RemoveGroupMessage
		if err := json.Unmarshal(control.Data, &remove); err != nil {
			return err
		}
		deps.ContinuityService.RemoveGroup(ctx, remove.GroupId)

	default:
		return fmt.Errorf("unknown control op %q", control.Op)
	}

	return nil
}
