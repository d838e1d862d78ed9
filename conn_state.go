package wsession

import "time"

// ConnectionState is the single source of truth for status indicators.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// active reports whether a session is in progress, so Connect has nothing to do.
func (s ConnectionState) active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// ConnectionRecord is a read-only snapshot of the manager's connection status.
// Nil timestamps mean the event never happened.
type ConnectionRecord struct {
	Status             ConnectionState
	ReconnectAttempts  uint
	LastConnectedAt    *time.Time
	LastDisconnectedAt *time.Time
	LastHeartbeatAckAt *time.Time
	Error              string
	ConnectionID       string
	QueuedMessages     int
}

// StatusChange is delivered to watchers on every state transition.
type StatusChange struct {
	From   ConnectionState
	To     ConnectionState
	Record ConnectionRecord
}

func timePtr(t time.Time) *time.Time {
	return &t
}
