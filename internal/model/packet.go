package model

//
// Packet
//
// Parsing and serializing renet wire packets.
//

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/renet-go/renet/internal/bytesx"
)

// Opcode is a renet packet opcode.
type Opcode byte

// renet packet opcodes.
const (
	P_CONNECT            = Opcode(iota + 1) // 1
	P_VERIFY_CONNECT                        // 2
	P_DISCONNECT                            // 3
	P_PING                                  // 4
	P_RELIABLE_DATA                         // 5
	P_UNRELIABLE_DATA                       // 6
	P_UNSEQUENCED_DATA                      // 7
	P_ACK                                   // 8
	P_THROTTLE_CONFIGURE                    // 9
)

// String returns the opcode string representation
func (op Opcode) String() string {
	switch op {
	case P_CONNECT:
		return "P_CONNECT"

	case P_VERIFY_CONNECT:
		return "P_VERIFY_CONNECT"

	case P_DISCONNECT:
		return "P_DISCONNECT"

	case P_PING:
		return "P_PING"

	case P_RELIABLE_DATA:
		return "P_RELIABLE_DATA"

	case P_UNRELIABLE_DATA:
		return "P_UNRELIABLE_DATA"

	case P_UNSEQUENCED_DATA:
		return "P_UNSEQUENCED_DATA"

	case P_ACK:
		return "P_ACK"

	case P_THROTTLE_CONFIGURE:
		return "P_THROTTLE_CONFIGURE"

	default:
		return "P_UNKNOWN"
	}
}

// IsControl returns true when this opcode is a connection-lifecycle opcode.
func (op Opcode) IsControl() bool {
	switch op {
	case P_CONNECT,
		P_VERIFY_CONNECT,
		P_DISCONNECT,
		P_PING,
		P_THROTTLE_CONFIGURE:
		return true
	default:
		return false
	}
}

// IsData returns true when this opcode carries application payload.
func (op Opcode) IsData() bool {
	switch op {
	case P_RELIABLE_DATA, P_UNRELIABLE_DATA, P_UNSEQUENCED_DATA:
		return true
	default:
		return false
	}
}

// NeedsAcknowledgment returns true when a packet with this opcode must be
// acknowledged by the receiver and retransmitted by the sender until it is.
func (op Opcode) NeedsAcknowledgment() bool {
	switch op {
	case P_CONNECT,
		P_VERIFY_CONNECT,
		P_DISCONNECT,
		P_PING,
		P_THROTTLE_CONFIGURE,
		P_RELIABLE_DATA:
		return true
	default:
		return false
	}
}

// ConnectID disambiguates connection attempts from the same endpoint.
type ConnectID uint32

// Sequence is a per-channel, per-direction sequence number.
type Sequence uint32

// PacketFlags are the flag bits in the common header.
type PacketFlags byte

const (
	// FlagCompressed indicates the payload went through the attached compressor.
	FlagCompressed = PacketFlags(1 << iota)
)

// ControlChannelID is the reserved channel carrying connection-lifecycle
// traffic. Application channels are always below this value.
const ControlChannelID = byte(0xff)

// Acknowledgment confirms delivery of one reliable sequence number.
type Acknowledgment struct {
	// ChannelID is the channel the acknowledged packet was sent on.
	ChannelID byte

	// Sequence is the acknowledged sequence number.
	Sequence Sequence
}

// Packet is a renet packet.
type Packet struct {
	// Opcode is the packet message type (a P_* constant).
	Opcode Opcode

	// Flags contains the header flag bits.
	Flags PacketFlags

	// ChannelID is the target channel, or [ControlChannelID] for
	// connection-lifecycle traffic.
	ChannelID byte

	// Sequence is the packet sequence number. Zero for packets whose
	// opcode has no sequencing semantics (P_ACK).
	Sequence Sequence

	// ConnectID identifies the sending side of the connection.
	ConnectID ConnectID

	// ChannelCount is the channel count carried by P_CONNECT and
	// P_VERIFY_CONNECT.
	ChannelCount byte

	// UserData is the application word carried by the handshake and
	// disconnect opcodes.
	UserData uint32

	// MTU is the maximum transmission size advertised by P_CONNECT and
	// echoed, negotiated, by P_VERIFY_CONNECT.
	MTU uint16

	// ACKs contains the acknowledgments carried by P_ACK.
	ACKs []Acknowledgment

	// ThrottleInterval is the throttle window in milliseconds
	// carried by P_THROTTLE_CONFIGURE.
	ThrottleInterval uint32

	// ThrottleAcceleration is carried by P_THROTTLE_CONFIGURE.
	ThrottleAcceleration uint32

	// ThrottleDeceleration is carried by P_THROTTLE_CONFIGURE.
	ThrottleDeceleration uint32

	// Payload is the packet's payload.
	Payload []byte
}

// NewPacket returns a packet from the passed arguments: opcode, channel ID,
// connect ID and a raw payload.
func NewPacket(opcode Opcode, channelID byte, connectID ConnectID, payload []byte) *Packet {
	return &Packet{
		Opcode:    opcode,
		Flags:     0,
		ChannelID: channelID,
		Sequence:  0,
		ConnectID: connectID,
		ACKs:      []Acknowledgment{},
		Payload:   payload,
	}
}

// headerSize is the size of the common header on the wire.
const headerSize = 11

// ErrPacketTooShort indicates that a packet is too short.
var ErrPacketTooShort = errors.New("renet: packet too short")

// ErrCorruptPacket is a generic decode error which may be further qualified.
var ErrCorruptPacket = errors.New("renet: corrupt packet")

// ParsePacket produces a packet after parsing the common header and the
// opcode-specific trailer. The payload of data packets is returned as-is:
// decompression, when negotiated, is the caller's concern.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) < headerSize {
		return nil, ErrPacketTooShort
	}

	b := bytes.NewBuffer(buf)
	p := &Packet{
		Opcode:    Opcode(mustReadByte(b)),
		Flags:     PacketFlags(mustReadByte(b)),
		ChannelID: mustReadByte(b),
		ACKs:      []Acknowledgment{},
	}
	seq, _ := bytesx.ReadUint32(b)
	p.Sequence = Sequence(seq)
	cid, _ := bytesx.ReadUint32(b)
	p.ConnectID = ConnectID(cid)

	switch p.Opcode {
	case P_CONNECT, P_VERIFY_CONNECT:
		return parseHandshake(p, b)

	case P_DISCONNECT:
		val, err := bytesx.ReadUint32(b)
		if err != nil {
			return nil, fmt.Errorf("%w: bad user data: %s", ErrCorruptPacket, err)
		}
		p.UserData = val
		return p, nil

	case P_ACK:
		return parseACKs(p, b)

	case P_THROTTLE_CONFIGURE:
		return parseThrottleConfigure(p, b)

	case P_PING:
		return p, nil

	case P_RELIABLE_DATA, P_UNRELIABLE_DATA, P_UNSEQUENCED_DATA:
		p.Payload = b.Bytes()
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrCorruptPacket, byte(p.Opcode))
	}
}

// mustReadByte reads a byte from a buffer whose length has been checked.
func mustReadByte(b *bytes.Buffer) byte {
	val, _ := b.ReadByte()
	return val
}

// parseHandshake parses the trailer shared by P_CONNECT and P_VERIFY_CONNECT.
func parseHandshake(p *Packet, b *bytes.Buffer) (*Packet, error) {
	count, err := b.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: bad channel count: %s", ErrCorruptPacket, err)
	}
	p.ChannelCount = count
	data, err := bytesx.ReadUint32(b)
	if err != nil {
		return nil, fmt.Errorf("%w: bad user data: %s", ErrCorruptPacket, err)
	}
	p.UserData = data
	mtu, err := bytesx.ReadUint16(b)
	if err != nil {
		return nil, fmt.Errorf("%w: bad MTU: %s", ErrCorruptPacket, err)
	}
	p.MTU = mtu
	return p, nil
}

// parseACKs parses the P_ACK trailer.
func parseACKs(p *Packet, b *bytes.Buffer) (*Packet, error) {
	countByte, err := b.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: bad ack count: %s", ErrCorruptPacket, err)
	}
	count := int(countByte)
	p.ACKs = make([]Acknowledgment, 0, count)
	for i := 0; i < count; i++ {
		channelID, err := b.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: bad ack channel: %s", ErrCorruptPacket, err)
		}
		seq, err := bytesx.ReadUint32(b)
		if err != nil {
			return nil, fmt.Errorf("%w: bad ack sequence: %s", ErrCorruptPacket, err)
		}
		p.ACKs = append(p.ACKs, Acknowledgment{
			ChannelID: channelID,
			Sequence:  Sequence(seq),
		})
	}
	return p, nil
}

// parseThrottleConfigure parses the P_THROTTLE_CONFIGURE trailer.
func parseThrottleConfigure(p *Packet, b *bytes.Buffer) (*Packet, error) {
	for _, field := range []*uint32{
		&p.ThrottleInterval,
		&p.ThrottleAcceleration,
		&p.ThrottleDeceleration,
	} {
		val, err := bytesx.ReadUint32(b)
		if err != nil {
			return nil, fmt.Errorf("%w: bad throttle parameters: %s", ErrCorruptPacket, err)
		}
		*field = val
	}
	return p, nil
}

// ErrMarshalPacket is the error returned when we cannot marshal a packet.
var ErrMarshalPacket = errors.New("renet: cannot marshal packet")

// Bytes returns a byte array that is ready to be sent on the wire.
func (p *Packet) Bytes() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(p.Opcode))
	buf.WriteByte(byte(p.Flags))
	buf.WriteByte(p.ChannelID)
	bytesx.WriteUint32(buf, uint32(p.Sequence))
	bytesx.WriteUint32(buf, uint32(p.ConnectID))

	switch p.Opcode {
	case P_CONNECT, P_VERIFY_CONNECT:
		buf.WriteByte(p.ChannelCount)
		bytesx.WriteUint32(buf, p.UserData)
		bytesx.WriteUint16(buf, p.MTU)

	case P_DISCONNECT:
		bytesx.WriteUint32(buf, p.UserData)

	case P_ACK:
		nACKs := len(p.ACKs)
		if nACKs > math.MaxUint8 {
			return nil, fmt.Errorf("%w: too many ACKs", ErrMarshalPacket)
		}
		buf.WriteByte(byte(nACKs))
		for i := 0; i < nACKs; i++ {
			buf.WriteByte(p.ACKs[i].ChannelID)
			bytesx.WriteUint32(buf, uint32(p.ACKs[i].Sequence))
		}

	case P_THROTTLE_CONFIGURE:
		bytesx.WriteUint32(buf, p.ThrottleInterval)
		bytesx.WriteUint32(buf, p.ThrottleAcceleration)
		bytesx.WriteUint32(buf, p.ThrottleDeceleration)

	case P_PING:
		// empty trailer

	case P_RELIABLE_DATA, P_UNRELIABLE_DATA, P_UNSEQUENCED_DATA:
		buf.Write(p.Payload)

	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrMarshalPacket, byte(p.Opcode))
	}
	return buf.Bytes(), nil
}

// Log writes an entry in the passed logger with a representation of this packet.
func (p *Packet) Log(logger Logger, direction Direction) {
	var dir string
	switch direction {
	case DirectionIncoming:
		dir = "<"
	case DirectionOutgoing:
		dir = ">"
	default:
		logger.Warnf("wrong direction: %d", direction)
		return
	}

	logger.Debugf(
		"%s %s {chan=%d, seq=%d, acks=%v} connectID=%x [%d bytes]",
		dir,
		p.Opcode,
		p.ChannelID,
		p.Sequence,
		p.ACKs,
		uint32(p.ConnectID),
		len(p.Payload),
	)
}
