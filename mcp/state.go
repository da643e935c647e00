package mcp

// ConnectionState is the lifecycle state of the client's transport.
// The client holds a single authoritative value and changes it only
// through setStateLocked.
type ConnectionState int

const (
	// StateDisconnected means no transport and no attempt in progress.
	// It is also the terminal state after reconnect attempts run out.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means the transport is open and the heartbeat runs.
	StateConnected

	// StateReconnecting means the transport dropped and a reconnect
	// attempt is scheduled.
	StateReconnecting
)

// String returns a human-readable name for the connection state.
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
	default:
		return "unknown"
	}
}

// StateListener observes state transitions. It is called outside the
// client's lock, in transition order.
type StateListener func(from, to ConnectionState)
