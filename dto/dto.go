package dto

import (
	"encoding/json"

	"rtc-continuity/constant"
	"rtc-continuity/entities"
)

type FrameMessage struct {
	GroupId       string `json:"groupId"`
	ParticipantId string `json:"participantId"`
	Payload       []byte `json:"payload"`
	Timestamp     int64  `json:"timestamp"`
}

type JoinMessage struct {
	SessionId     string `json:"sessionId"`
	GroupId       string `json:"groupId"`
	ParticipantId string `json:"participantId"`
	Username      string `json:"username"`
	DeviceId      string `json:"deviceId"`
}

type DisconnectMessage struct {
	SessionId     string `json:"sessionId"`
	GroupId       string `json:"groupId"`
	ParticipantId string `json:"participantId"`
	Reason        string `json:"reason"`
}

type ConfirmMessage struct {
	OldSessionId  string `json:"oldSessionId"`
	NewSessionId  string `json:"newSessionId"`
	GroupId       string `json:"groupId"`
	ParticipantId string `json:"participantId"`
}

type HeartbeatMessage struct {
	SessionId     string `json:"sessionId"`
	GroupId       string `json:"groupId"`
	ParticipantId string `json:"participantId"`
}

type LeaveMessage struct {
	SessionId     string `json:"sessionId"`
	GroupId       string `json:"groupId"`
	ParticipantId string `json:"participantId"`
}

// RecoveryRequest asks for replay starting at the client's last known
// sequence number plus one.
type RecoveryRequest struct {
	GroupId       string `json:"groupId"`
	ParticipantId string `json:"participantId"`
	FromSequence  uint64 `json:"fromSequence"`
}

// RecoveryResponse carries the recovered frames. Success is false when the
// requested range was already evicted and the frames are a best-effort tail.
type RecoveryResponse struct {
	Success      bool             `json:"success"`
	Frames       []entities.Frame `json:"frames"`
	LastSequence uint64           `json:"lastSequence"`
}

// ControlMessage wraps the non-frame transport events so they can share
// one queue; Op selects the payload shape in Data.
type ControlMessage struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	OpJoin        = "join"
	OpDisconnect  = "disconnect"
	OpConfirm     = "confirm"
	OpHeartbeat   = "heartbeat"
	OpLeave       = "leave"
	OpRemoveGroup = "remove_group"
)

type RemoveGroupMessage struct {
	GroupId string `json:"groupId"`
}

// SessionEvent is fanned out to clients through the notifier.
type SessionEvent struct {
	Type          constant.EventType `json:"type"`
	GroupId       string             `json:"groupId,omitempty"`
	ParticipantId string             `json:"participantId,omitempty"`
	SessionId     string             `json:"sessionId,omitempty"`
	Username      string             `json:"username,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Timestamp     int64              `json:"timestamp"`
}
