package entities

import (
	"time"

	"rtc-continuity/constant"
)

// ReconnectSession tracks generic transport-level connectivity for one
// client session, independent of any video state.
type ReconnectSession struct {
	SessionId string
	Username  string
	DeviceId  string

	State          constant.ReconnectState
	ConnectedAt    time.Time
	LastHeartbeat  time.Time
	DisconnectTime time.Time
	Attempts       int
}

// ReconnectStatus is the monitoring view of a reconnect session.
type ReconnectStatus struct {
	SessionId         string `json:"session_id"`
	Connected         bool   `json:"connected"`
	Attempts          int    `json:"attempts"`
	SinceDisconnectMs int64  `json:"since_disconnect_ms"`
	RemainingMs       int64  `json:"remaining_ms"`
}
