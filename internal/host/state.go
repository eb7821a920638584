package host

// State is the connection state of a peer.
type State int

const (
	// StateDisconnected means the slot holds no connection.
	StateDisconnected = State(iota)

	// StateConnecting means we sent a connect packet and are waiting
	// for the remote to verify it.
	StateConnecting

	// StateAcknowledgingConnect means we received a connect packet and
	// are about to answer it.
	StateAcknowledgingConnect

	// StateConnectionPending means we sent a verify-connect packet and
	// are waiting for its acknowledgment.
	StateConnectionPending

	// StateConnectionSucceeded means the handshake completed and the
	// connect event is about to surface.
	StateConnectionSucceeded

	// StateConnected means the connection is established.
	StateConnected

	// StateDisconnectLater means a graceful disconnect is deferred
	// until all queued reliable data has been acknowledged.
	StateDisconnectLater

	// StateDisconnecting means we sent a disconnect packet and are
	// waiting for its acknowledgment.
	StateDisconnecting

	// StateAcknowledgingDisconnect means the remote asked to disconnect
	// and we are flushing our acknowledgment.
	StateAcknowledgingDisconnect

	// StateZombie means the connection was terminated forcibly or
	// timed out.
	StateZombie

	// StateUnknown is the transient state of an unmapped peer reference.
	StateUnknown
)

// String maps a [State] to a string.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAcknowledgingConnect:
		return "acknowledging_connect"
	case StateConnectionPending:
		return "connection_pending"
	case StateConnectionSucceeded:
		return "connection_succeeded"
	case StateConnected:
		return "connected"
	case StateDisconnectLater:
		return "disconnect_later"
	case StateDisconnecting:
		return "disconnecting"
	case StateAcknowledgingDisconnect:
		return "acknowledging_disconnect"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}
