package host

import "time"

const (
	// DEFAULT_RTT seeds the round-trip estimate before any sample exists.
	DEFAULT_RTT = 500 * time.Millisecond

	// MIN_RTO is the floor for the retransmission timeout.
	MIN_RTO = 50 * time.Millisecond

	// DEFAULT_PING_INTERVAL is how long a connection stays quiet before
	// the engine sends a keepalive ping.
	DEFAULT_PING_INTERVAL = 1000 * time.Millisecond

	// DEFAULT_TIMEOUT_LIMIT is the default multiplier applied to the
	// smoothed RTT when computing the connection timeout.
	DEFAULT_TIMEOUT_LIMIT = 32

	// DEFAULT_TIMEOUT_MIN clamps the connection timeout from below.
	DEFAULT_TIMEOUT_MIN = 5 * time.Second

	// DEFAULT_TIMEOUT_MAX clamps the connection timeout from above.
	DEFAULT_TIMEOUT_MAX = 30 * time.Second

	// DEFAULT_THROTTLE_INTERVAL is the default throttle re-evaluation window.
	DEFAULT_THROTTLE_INTERVAL = 5000 * time.Millisecond

	// DEFAULT_THROTTLE_ACCELERATION is the default per-window increase.
	DEFAULT_THROTTLE_ACCELERATION = 2

	// DEFAULT_THROTTLE_DECELERATION is the default per-window decrease.
	DEFAULT_THROTTLE_DECELERATION = 2

	// THROTTLE_SCALE is the fixed-point scale of the throttle
	// probability: a peer at THROTTLE_SCALE transmits every unreliable
	// packet, a peer at 0 drops them all pre-emptively.
	THROTTLE_SCALE = 256

	// BANDWIDTH_ACCOUNTING_INTERVAL is the window over which the
	// outgoing bandwidth limit is enforced.
	BANDWIDTH_ACCOUNTING_INTERVAL = 1000 * time.Millisecond

	// MAX_ACKS_PER_PACKET is the maximum number of acknowledgments
	// carried by one P_ACK packet.
	MAX_ACKS_PER_PACKET = 16
)
