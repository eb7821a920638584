// Package channel implements per-channel sequencing state: the outgoing
// queue and in-flight retransmission buffer for reliable delivery, the
// reorder buffer that releases incoming reliable packets strictly in
// sequence order, and the staleness filter for unreliable traffic.
package channel

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/renet-go/renet/internal/model"
	"github.com/renet-go/renet/internal/runtimex"
)

// ErrSequenceExhausted means a channel ran out of sequence numbers.
var ErrSequenceExhausted = errors.New("channel: sequence space exhausted")

// ErrBufferFull means the outgoing reliable buffer is at capacity.
var ErrBufferFull = errors.New("channel: send buffer full")

// Channel holds the sequencing state for one delivery lane of a peer.
// The zero value is invalid; use [New]. A Channel is mutated only by the
// host service loop and needs no locking.
type Channel struct {
	// id is the channel ID on the wire.
	id byte

	// logger is the logger to use.
	logger model.Logger

	// nextReliable is the next outgoing reliable sequence number.
	nextReliable model.Sequence

	// nextUnreliable is the next outgoing unreliable sequence number.
	nextUnreliable model.Sequence

	// outgoing holds packets queued since the last flush.
	outgoing []*model.Packet

	// inFlight is the array of in-flight packets.
	inFlight inflightSequence

	// incoming are reliable packets to reorder before delivery.
	incoming incomingSequence

	// lastDelivered is the last sequence number released to the
	// application.
	lastDelivered model.Sequence

	// unreliableHorizon is one past the newest unreliable sequence
	// number delivered on this channel.
	unreliableHorizon model.Sequence
}

// New creates a new [Channel] with the given wire ID.
func New(id byte, logger model.Logger) *Channel {
	return &Channel{
		id:                id,
		logger:            logger,
		nextReliable:      0,
		nextUnreliable:    0,
		outgoing:          []*model.Packet{},
		inFlight:          make(inflightSequence, 0, SEND_BUFFER_SIZE),
		incoming:          incomingSequence{},
		lastDelivered:     0,
		unreliableHorizon: 0,
	}
}

// ID returns the channel ID.
func (c *Channel) ID() byte {
	return c.id
}

//
// Outgoing path.
//

// QueueOutgoing assigns the packet its sequence number and appends it to
// the outgoing queue. Unsequenced packets get no sequence number.
func (c *Channel) QueueOutgoing(p *model.Packet) error {
	runtimex.Assert(p.ChannelID == c.id, "packet queued on wrong channel")
	switch {
	case p.Opcode.NeedsAcknowledgment():
		if len(c.outgoing)+len(c.inFlight) >= SEND_BUFFER_SIZE {
			return ErrBufferFull
		}
		if c.nextReliable == math.MaxUint32 {
			return ErrSequenceExhausted
		}
		c.nextReliable++
		p.Sequence = c.nextReliable

	case p.Opcode == model.P_UNRELIABLE_DATA:
		if c.nextUnreliable == math.MaxUint32 {
			return ErrSequenceExhausted
		}
		c.nextUnreliable++
		p.Sequence = c.nextUnreliable
	}
	c.outgoing = append(c.outgoing, p)
	return nil
}

// PopOutgoing removes and returns the head of the outgoing queue, or nil
// when the queue is empty.
func (c *Channel) PopOutgoing() *model.Packet {
	if len(c.outgoing) <= 0 {
		return nil
	}
	p := c.outgoing[0]
	c.outgoing = c.outgoing[1:]
	return p
}

// UnpopOutgoing puts a packet back at the head of the outgoing queue,
// used when transmission is deferred by the bandwidth limiter.
func (c *Channel) UnpopOutgoing(p *model.Packet) {
	c.outgoing = append([]*model.Packet{p}, c.outgoing...)
}

// HasOutgoing returns whether packets are queued for transmission.
func (c *Channel) HasOutgoing() bool {
	return len(c.outgoing) > 0
}

// TrackInFlight starts tracking a transmitted reliable packet for
// acknowledgment and retransmission.
func (c *Channel) TrackInFlight(p *model.Packet, now time.Time, rto, maxRTO time.Duration) {
	runtimex.Assert(p.Opcode.NeedsAcknowledgment(), "tracking packet that needs no ack")
	ifp := newInFlightPacket(p)
	ifp.ScheduleForRetransmission(now, rto, maxRTO)
	c.inFlight = append(c.inFlight, ifp)
}

// ReadyToRetransmit returns the in-flight packets whose deadline expired
// or that qualify for fast retransmission.
func (c *Channel) ReadyToRetransmit(now time.Time) []*InFlightPacket {
	return c.inFlight.readyToSend(now)
}

// NearestDeadline returns the earliest in-flight retransmission deadline,
// or the passed fallback when nothing is in flight.
func (c *Channel) NearestDeadline(now time.Time, fallback time.Time) time.Time {
	return c.inFlight.nearestDeadlineTo(now, fallback)
}

// OldestInFlightTime returns the first-transmission time of the oldest
// unacknowledged packet, used for the connection-timeout check.
func (c *Channel) OldestInFlightTime() (time.Time, bool) {
	var oldest time.Time
	for _, p := range c.inFlight {
		if p.firstSent.IsZero() {
			continue
		}
		if oldest.IsZero() || p.firstSent.Before(oldest) {
			oldest = p.firstSent
		}
	}
	return oldest, !oldest.IsZero()
}

// Acknowledge evicts the in-flight packet matching the acknowledged
// sequence number and bumps the fast-retransmit counter of any packet
// with a lower sequence number. It returns the evicted packet, if any.
func (c *Channel) Acknowledge(acked model.Sequence) (*InFlightPacket, bool) {
	sort.Sort(c.inFlight)

	packets := c.inFlight
	for i, p := range packets {
		if acked > p.packet.Sequence {
			// an ACK for a higher sequence number bumps this one
			// towards fast retransmission.
			p.ACKForHigherPacket()

		} else if acked == p.packet.Sequence {
			c.logger.Debugf("evicting packet %v", p.packet.Sequence)

			// swap with the last element, then exclude it.
			packets[i], packets[len(packets)-1] = packets[len(packets)-1], packets[i]
			c.inFlight = packets[:len(packets)-1]

			// the array was sorted, so we're done here.
			return p, true
		}
	}
	return nil, false
}

// PendingReliable returns whether reliable data is still queued or
// awaiting acknowledgment. Used to defer a graceful disconnect.
func (c *Channel) PendingReliable() bool {
	if len(c.inFlight) > 0 {
		return true
	}
	for _, p := range c.outgoing {
		if p.Opcode.NeedsAcknowledgment() {
			return true
		}
	}
	return false
}

//
// Incoming path.
//

// ReceiveReliable inserts an incoming reliable packet into the reorder
// buffer. It returns whether the packet was inserted and whether it must
// be acknowledged. Exact duplicates are not inserted but are acknowledged
// again, so the sender stops retransmitting them.
func (c *Channel) ReceiveReliable(p *model.Packet) (inserted, ack bool) {
	if p.Sequence <= c.lastDelivered {
		// already released to the application: re-ack and drop.
		return false, true
	}
	for _, queued := range c.incoming {
		if queued.Sequence == p.Sequence {
			return false, true
		}
	}
	if len(c.incoming) >= RECV_BUFFER_SIZE {
		c.logger.Warnf("dropping packet, reorder buffer full with len %v", len(c.incoming))
		return false, false
	}
	c.incoming = append(c.incoming, p)
	return true, true
}

// NextDeliverable returns, in order, the packets that can be released to
// the application: the head of the reorder buffer as long as no sequence
// number below it is still missing.
func (c *Channel) NextDeliverable() []*model.Packet {
	last := c.lastDelivered
	ready := make([]*model.Packet, 0, RECV_BUFFER_SIZE)

	// sort so that we begin with the lowest sequence number.
	sort.Sort(c.incoming)
	keep := c.incoming[:0]

	for i, p := range c.incoming {
		if p.Sequence-last == 1 {
			ready = append(ready, p)
			last += 1
		} else if p.Sequence > last {
			// sequentiality broke: keep the tail for later.
			keep = append(keep, c.incoming[i:]...)
			break
		}
	}
	c.lastDelivered = last
	c.incoming = keep
	return ready
}

// LastDelivered returns the last sequence number released to the
// application on this channel.
func (c *Channel) LastDelivered() model.Sequence {
	return c.lastDelivered
}

// ReceiveUnreliable applies the staleness filter to an incoming
// unreliable packet: a packet older than the newest already delivered on
// this channel is discarded without delivery.
func (c *Channel) ReceiveUnreliable(p *model.Packet) bool {
	if p.Sequence < c.unreliableHorizon {
		c.logger.Debugf("dropping stale unreliable packet %v < %v", p.Sequence, c.unreliableHorizon)
		return false
	}
	c.unreliableHorizon = p.Sequence + 1
	return true
}
