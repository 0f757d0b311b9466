package entities

import (
	"time"

	"rtc-continuity/constant"
)

// VideoSession tracks one participant's video sub-session within a group.
// State transitions happen only inside the continuity tracker, under the
// per-key lock; callers only ever see copies.
type VideoSession struct {
	SessionId     string
	GroupId       string
	ParticipantId string
	DeviceId      string

	State        constant.VideoSessionState
	RegisteredAt time.Time
	LastActivity time.Time

	// Disconnect bookkeeping, zeroed while ACTIVE.
	DisconnectTime   time.Time
	DisconnectReason string
	DisconnectedBy   string

	ReconnectCount int
}

// VideoSessionStatus is the composite status view exposed for monitoring:
// session state plus the buffer stats for the same key.
type VideoSessionStatus struct {
	SessionId        string                     `json:"session_id"`
	GroupId          string                     `json:"group_id"`
	ParticipantId    string                     `json:"participant_id"`
	State            constant.VideoSessionState `json:"state"`
	RemainingGraceMs int64                      `json:"remaining_grace_ms"`
	ReconnectCount   int                        `json:"reconnect_count"`
	Buffer           BufferStatus               `json:"buffer"`
}
