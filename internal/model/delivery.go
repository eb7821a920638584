package model

//
// Delivery guarantees
//

// DeliveryFlag selects the delivery guarantee for an outgoing payload.
type DeliveryFlag byte

const (
	// DeliveryReliable guarantees ordered, exactly-once delivery
	// within one channel. This is the default.
	DeliveryReliable = DeliveryFlag(iota)

	// DeliveryUnreliable is best-effort: packets older than the newest
	// already delivered on the channel are dropped.
	DeliveryUnreliable

	// DeliveryUnsequenced is best-effort with no ordering at all.
	DeliveryUnsequenced
)

// String returns the delivery flag string representation.
func (f DeliveryFlag) String() string {
	switch f {
	case DeliveryReliable:
		return "reliable"
	case DeliveryUnreliable:
		return "unreliable"
	case DeliveryUnsequenced:
		return "unsequenced"
	default:
		return "invalid"
	}
}

// Opcode maps the delivery flag to its data opcode.
func (f DeliveryFlag) Opcode() Opcode {
	switch f {
	case DeliveryUnreliable:
		return P_UNRELIABLE_DATA
	case DeliveryUnsequenced:
		return P_UNSEQUENCED_DATA
	default:
		return P_RELIABLE_DATA
	}
}
