package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"rtc-continuity/dto"
)

// Recover replays buffered frames from the client's last known sequence.
// When that range is no longer resident the response degrades to the most
// recent tail with Success=false; an unavailable replay is never an error.
func (s *recoveryService) Recover(ctx context.Context, req dto.RecoveryRequest) dto.RecoveryResponse {
	status, _ := s.buffers.Status(req.GroupId, req.ParticipantId)

	frames := s.buffers.Frames(req.GroupId, req.ParticipantId, req.FromSequence)
	if len(frames) > 0 {
		zerolog.Ctx(ctx).Debug().Str("group", req.GroupId).Str("participant", req.ParticipantId).
			Uint64("from", req.FromSequence).Int("frames", len(frames)).Msg("replaying buffered frames")
		return dto.RecoveryResponse{
			Success:      true,
			Frames:       frames,
			LastSequence: status.LastSequence,
		}
	}

	tail := s.buffers.LastFrames(req.GroupId, req.ParticipantId, s.cfg.RecoveryTailCount)
	zerolog.Ctx(ctx).Info().Str("group", req.GroupId).Str("participant", req.ParticipantId).
		Uint64("from", req.FromSequence).Int("tail", len(tail)).
		Msg("requested range evicted, falling back to tail")
	return dto.RecoveryResponse{
		Success:      false,
		Frames:       tail,
		LastSequence: status.LastSequence,
	}
}

// Replay returns the entire resident buffer for a key, used right after a
// reconnection is confirmed so the client resumes without visible loss.
func (s *recoveryService) Replay(ctx context.Context, groupId, participantId string) dto.RecoveryResponse {
	status, _ := s.buffers.Status(groupId, participantId)
	frames := s.buffers.Replay(groupId, participantId)

	zerolog.Ctx(ctx).Debug().Str("group", groupId).Str("participant", participantId).
		Int("frames", len(frames)).Msg("full replay")
	return dto.RecoveryResponse{
		Success:      true,
		Frames:       frames,
		LastSequence: status.LastSequence,
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
