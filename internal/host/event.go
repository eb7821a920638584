package host

// EventType discriminates the [Event] union.
type EventType int

const (
	// EventNone is not a real event; it is the type of the zero Event.
	EventNone = EventType(iota)

	// EventConnect reports a completed connection handshake.
	EventConnect

	// EventDisconnect reports a closed or timed-out connection.
	EventDisconnect

	// EventReceive reports an incoming payload on a channel.
	EventReceive
)

// String maps an [EventType] to a string.
func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	default:
		return "invalid"
	}
}

// Event is a discrete notification surfaced by the service loop. Which
// fields are meaningful depends on Type:
//
//   - EventConnect: Peer and UserData (echoed from the handshake);
//   - EventDisconnect: Peer, UserData and Timeout;
//   - EventReceive: Peer, ChannelID and Data.
type Event struct {
	// Type is the event discriminant.
	Type EventType

	// Peer identifies the connection the event belongs to. The
	// reference may already be stale for disconnect events.
	Peer Peer

	// ChannelID is the channel a received payload arrived on.
	ChannelID byte

	// Data is the received payload.
	Data []byte

	// UserData is the application word carried by the handshake or
	// disconnect exchange.
	UserData uint32

	// Timeout reports whether a disconnect was forced by a timeout
	// rather than requested by either side.
	Timeout bool
}
