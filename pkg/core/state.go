// pkg/core/state.go
package core

import "time"

// ConnectionState describes the current link status of a connection manager.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// StateChange is delivered to observers on every transition.
// Err is set only for StateFailed and for a Disconnected caused by a send error.
type StateChange struct {
	State    ConnectionState
	Previous ConnectionState
	Endpoint Endpoint
	Err      error
	At       time.Time
}

// Reason returns the failure reason as text, or "" when there is none.
func (c StateChange) Reason() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}
