package channel

import (
	"time"

	"github.com/renet-go/renet/internal/model"
)

//
// In-flight packet bookkeeping. These data structures lack mutexes because
// they are confined to the host service loop.
//

// InFlightPacket is a reliable packet awaiting acknowledgment.
type InFlightPacket struct {
	// deadline is the moment this packet is scheduled for the next
	// retransmission.
	deadline time.Time

	// firstSent is when the packet first hit the wire. Drives both the
	// RTT sample on acknowledgment and the connection-timeout check.
	firstSent time.Time

	// higherACKs counts acks received for packets with a higher
	// sequence number.
	higherACKs int

	// packet is the underlying packet being sent.
	packet *model.Packet

	// retries is a monotonically increasing counter for retransmission.
	retries uint8
}

func newInFlightPacket(p *model.Packet) *InFlightPacket {
	return &InFlightPacket{
		deadline:   time.Time{},
		firstSent:  time.Time{},
		higherACKs: 0,
		packet:     p,
		retries:    0,
	}
}

// Packet returns the tracked packet.
func (p *InFlightPacket) Packet() *model.Packet {
	return p.packet
}

// Retries returns how many times the packet has been transmitted.
func (p *InFlightPacket) Retries() uint8 {
	return p.retries
}

// FirstSentTime returns when this packet first hit the wire, or the zero
// time if it has not been transmitted yet.
func (p *InFlightPacket) FirstSentTime() time.Time {
	return p.firstSent
}

// ACKForHigherPacket increments the number of acks received for a higher
// sequence number than this packet. This influences fast retransmission.
func (p *InFlightPacket) ACKForHigherPacket() {
	p.higherACKs += 1
}

// ScheduleForRetransmission arms the next retransmission deadline. The
// backoff doubles with every retry, starting from rto and capped at maxRTO.
func (p *InFlightPacket) ScheduleForRetransmission(t time.Time, rto, maxRTO time.Duration) {
	if p.firstSent.IsZero() {
		p.firstSent = t
	}
	p.retries += 1
	p.higherACKs = 0
	p.deadline = t.Add(p.backoff(rto, maxRTO))
}

// backoff calculates the next retransmission interval.
func (p *InFlightPacket) backoff(rto, maxRTO time.Duration) time.Duration {
	backoff := rto
	for i := uint8(1); i < p.retries; i++ {
		backoff *= 2
		if backoff >= maxRTO {
			break
		}
	}
	if backoff > maxRTO {
		backoff = maxRTO
	}
	return backoff
}

// inflightSequence is a sequence of InFlightPackets. It can be sorted.
type inflightSequence []*InFlightPacket

// nearestDeadlineTo returns the lowest deadline in the queue relative to
// the passed reference time, and the passed fallback when the queue is
// empty. A deadline in the past is clamped to an epsilon after the
// reference, so the result is always safe to arm a wakeup with.
func (seq inflightSequence) nearestDeadlineTo(t time.Time, fallback time.Time) time.Time {
	timeout := fallback

	for _, p := range seq {
		if p.deadline.Before(timeout) {
			timeout = p.deadline
		}
	}

	// what's past is past and we need to move on.
	if timeout.Before(t) {
		timeout = t.Add(time.Nanosecond)
	}
	return timeout
}

// readyToSend returns the subset of this sequence that has an expired
// deadline or is suitable for fast retransmission.
func (seq inflightSequence) readyToSend(t time.Time) inflightSequence {
	expired := make([]*InFlightPacket, 0)
	for _, p := range seq {
		if p.higherACKs >= FAST_RETRANSMIT_ACKS {
			expired = append(expired, p)
			continue
		}
		if !p.deadline.After(t) {
			expired = append(expired, p)
		}
	}
	return expired
}

// implement sort.Interface
func (seq inflightSequence) Len() int {
	return len(seq)
}

// implement sort.Interface
func (seq inflightSequence) Swap(i, j int) {
	seq[i], seq[j] = seq[j], seq[i]
}

// implement sort.Interface
func (seq inflightSequence) Less(i, j int) bool {
	return seq[i].packet.Sequence < seq[j].packet.Sequence
}

// An incomingSequence is an array of packets in the reorder buffer.
// An incomingSequence can be sorted.
type incomingSequence []*model.Packet

// implement sort.Interface
func (ps incomingSequence) Len() int {
	return len(ps)
}

// implement sort.Interface
func (ps incomingSequence) Swap(i, j int) {
	ps[i], ps[j] = ps[j], ps[i]
}

// implement sort.Interface
func (ps incomingSequence) Less(i, j int) bool {
	return ps[i].Sequence < ps[j].Sequence
}
