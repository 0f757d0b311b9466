package constant

type VideoSessionState string

const (
	VideoSessionActive       VideoSessionState = "ACTIVE"
	VideoSessionDisconnected VideoSessionState = "DISCONNECTED"
)

type ReconnectState string

const (
	ReconnectConnected    ReconnectState = "CONNECTED"
	ReconnectReconnecting ReconnectState = "RECONNECTING"
)

type RemovalReason string

const (
	RemovalGraceExpired RemovalReason = "grace_period_expired"
	RemovalInactivity   RemovalReason = "inactivity_timeout"
	RemovalExplicit     RemovalReason = "explicit_remove"
)

func (r RemovalReason) String() string {
	return string(r)
}

type EventType string

const (
	EventParticipantDisconnected EventType = "participant_disconnected"
	EventParticipantReconnected  EventType = "participant_reconnected"
	EventGraceExpired            EventType = "grace_period_expired"
	EventInactivityRemoved       EventType = "inactivity_removed"
	EventReconnectFailed         EventType = "reconnect_failed"
	EventReconnectRequested      EventType = "reconnect_requested"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
