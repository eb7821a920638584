package channel

const (
	// SEND_BUFFER_SIZE is the capacity for the array of reliable packets
	// that we are tracking at any given moment (queued plus in flight).
	SEND_BUFFER_SIZE = 256

	// RECV_BUFFER_SIZE is the capacity of the reorder buffer for
	// incoming reliable packets.
	RECV_BUFFER_SIZE = SEND_BUFFER_SIZE

	// FAST_RETRANSMIT_ACKS is the number of ACKs for higher sequence
	// numbers that triggers retransmission before the deadline expires.
	FAST_RETRANSMIT_ACKS = 3
)
