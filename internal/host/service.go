package host

import (
	"net/netip"
	"time"

	"github.com/renet-go/renet/internal/channel"
	"github.com/renet-go/renet/internal/model"
	"github.com/renet-go/renet/internal/netx"
	"github.com/renet-go/renet/internal/optional"
)

// Service runs one iteration of the engine: it drains the socket,
// advances timers, flushes queued traffic, and returns the oldest
// pending event, if any. With no event pending it blocks up to timeout
// waiting for one; a zero timeout polls. A nil event with a nil error
// means the timeout elapsed quietly.
func (h *Host) Service(timeout time.Duration) (*Event, error) {
	if h.closed {
		return nil, ErrHostClosed
	}
	start := h.clock.Now()
	block := time.Duration(0)
	for {
		h.serviceTime = h.clock.Now()
		h.receivePackets(block)
		h.serviceTime = h.clock.Now()
		h.advancePeers()
		h.flushOutgoing()
		if ev := h.popEvent(); ev != nil {
			return ev, nil
		}
		remaining := timeout - h.clock.Now().Sub(start)
		if remaining <= 0 {
			return nil, nil
		}
		block = h.nextWakeupDelta(remaining)
	}
}

// receivePackets drains the socket. The first read may block up to the
// passed duration; once a datagram arrives the rest of the queue is
// drained without blocking.
func (h *Host) receivePackets(block time.Duration) {
	deadline := time.Now().Add(block)
	for {
		if err := h.conn.SetReadDeadline(deadline); err != nil {
			return
		}
		n, addr, err := h.conn.ReadFrom(h.readBuf)
		if err != nil {
			if !netx.IsTimeout(err) && !h.closed {
				h.logger.Warnf("read: %s", err)
			}
			return
		}
		h.totalBytesReceived += uint64(n)
		// copy out of the shared read buffer: parsed payloads keep a
		// reference to the datagram past this loop iteration.
		datagram := make([]byte, n)
		copy(datagram, h.readBuf[:n])
		h.handleDatagram(addr, datagram)
		deadline = time.Now()
	}
}

// handleDatagram parses one datagram and routes it to the opcode handler.
// Unparseable datagrams and datagrams from unknown endpoints are dropped.
func (h *Host) handleDatagram(addr netip.AddrPort, data []byte) {
	packet, err := model.ParsePacket(data)
	if err != nil {
		h.logger.Warnf("drop from %s: %s", addr, err)
		return
	}
	packet.Log(h.logger, model.DirectionIncoming)

	if packet.Opcode == model.P_CONNECT {
		h.handleConnect(addr, packet)
		return
	}
	ps := h.peerForPacket(addr, packet)
	if ps == nil {
		h.logger.Debugf("drop %s from unknown endpoint %s", packet.Opcode, addr)
		return
	}
	ps.lastReceiveTime = h.serviceTime

	switch packet.Opcode {
	case model.P_VERIFY_CONNECT:
		h.handleVerifyConnect(ps, packet)
	case model.P_ACK:
		h.handleACK(ps, packet)
	case model.P_DISCONNECT:
		h.handleDisconnect(ps, packet)
	case model.P_PING:
		ps.pendingACKs = append(ps.pendingACKs, model.Acknowledgment{
			ChannelID: model.ControlChannelID,
			Sequence:  packet.Sequence,
		})
	case model.P_THROTTLE_CONFIGURE:
		h.handleThrottleConfigure(ps, packet)
	case model.P_RELIABLE_DATA, model.P_UNRELIABLE_DATA, model.P_UNSEQUENCED_DATA:
		h.handleData(ps, packet)
	}
}

// peerForPacket maps a datagram to the slot it belongs to. The packet's
// connect ID is the sender's, which we know after the handshake; during
// it, a connecting slot matches by endpoint alone.
func (h *Host) peerForPacket(addr netip.AddrPort, packet *model.Packet) *peerState {
	for _, ps := range h.peers {
		if !ps.isLive() || ps.addr != addr {
			continue
		}
		if !ps.remoteConnectID.IsNone() {
			if ps.remoteConnectID.Unwrap() == packet.ConnectID {
				return ps
			}
			continue
		}
		if ps.state == StateConnecting {
			return ps
		}
	}
	return nil
}

//
// Handshake.
//

// handleConnect admits an incoming connection attempt. Retransmitted
// attempts for a connection we already admitted are re-acknowledged;
// attempts we cannot admit are silently refused, so the remote times out.
func (h *Host) handleConnect(addr netip.AddrPort, packet *model.Packet) {
	for _, ps := range h.peers {
		if ps.isLive() && ps.addr == addr &&
			!ps.remoteConnectID.IsNone() &&
			ps.remoteConnectID.Unwrap() == packet.ConnectID {
			// a duplicate of a connect we already answered.
			ps.pendingACKs = append(ps.pendingACKs, model.Acknowledgment{
				ChannelID: model.ControlChannelID,
				Sequence:  packet.Sequence,
			})
			return
		}
	}
	if packet.ChannelCount == 0 {
		h.logger.Warnf("refusing connect from %s: zero channels", addr)
		return
	}
	ps := h.findFreeSlot()
	if ps == nil {
		h.logger.Warnf("refusing connect from %s: no free slots", addr)
		return
	}

	channelCount := int(packet.ChannelCount)
	if channelCount > int(h.channelLimit) {
		channelCount = int(h.channelLimit)
	}
	mtu := packet.MTU
	if mtu < model.MinMTU || mtu > h.mtu {
		if mtu < model.MinMTU {
			mtu = model.MinMTU
		} else {
			mtu = h.mtu
		}
	}
	if err := h.initSlot(ps, addr, channelCount); err != nil {
		h.logger.Warnf("refusing connect from %s: %s", addr, err)
		return
	}
	ps.remoteConnectID = optional.Some(packet.ConnectID)
	ps.userData = packet.UserData
	ps.mtu = mtu
	h.transition(ps, StateAcknowledgingConnect)
	ps.pendingACKs = append(ps.pendingACKs, model.Acknowledgment{
		ChannelID: model.ControlChannelID,
		Sequence:  packet.Sequence,
	})

	verify := model.NewPacket(model.P_VERIFY_CONNECT, model.ControlChannelID, ps.connectID, nil)
	verify.ChannelCount = byte(channelCount)
	verify.UserData = packet.UserData
	verify.MTU = mtu
	if err := ps.control.QueueOutgoing(verify); err != nil {
		h.logger.Warnf("refusing connect from %s: %s", addr, err)
		h.freeSlot(ps)
		return
	}
	ps.verifySeq = verify.Sequence
	h.transition(ps, StateConnectionPending)
}

// handleVerifyConnect completes the client side of the handshake with
// the parameters the server negotiated down.
func (h *Host) handleVerifyConnect(ps *peerState, packet *model.Packet) {
	ps.pendingACKs = append(ps.pendingACKs, model.Acknowledgment{
		ChannelID: model.ControlChannelID,
		Sequence:  packet.Sequence,
	})
	if ps.state != StateConnecting {
		// a duplicate; the re-acknowledgment above is all it needs.
		return
	}
	ps.remoteConnectID = optional.Some(packet.ConnectID)
	if packet.MTU >= model.MinMTU && packet.MTU < ps.mtu {
		ps.mtu = packet.MTU
	}
	if count := int(packet.ChannelCount); count > 0 && count < len(ps.channels) {
		ps.channels = ps.channels[:count]
	}
	h.establish(ps)
}

// establish surfaces the connect event and settles the slot.
func (h *Host) establish(ps *peerState) {
	h.transition(ps, StateConnectionSucceeded)
	h.queueEvent(&Event{
		Type:     EventConnect,
		Peer:     h.peerHandle(ps),
		UserData: ps.userData,
	})
	h.transition(ps, StateConnected)
}

//
// Acknowledgments and teardown.
//

// handleACK evicts acknowledged packets, samples the RTT, and fires the
// lifecycle edges that complete on acknowledgment.
func (h *Host) handleACK(ps *peerState, packet *model.Packet) {
	for _, ack := range packet.ACKs {
		ch := ps.channelByID(ack.ChannelID)
		if ch == nil {
			continue
		}
		ifp, found := ch.Acknowledge(ack.Sequence)
		if !found {
			continue
		}
		// sample only packets acknowledged on their first transmission,
		// a retransmitted packet's sample is ambiguous.
		if ifp.Retries() == 1 && !ifp.FirstSentTime().IsZero() {
			ps.updateRTT(h.serviceTime.Sub(ifp.FirstSentTime()))
		}
		if ack.ChannelID != model.ControlChannelID {
			continue
		}
		switch {
		case ps.state == StateConnectionPending && ack.Sequence == ps.verifySeq:
			h.establish(ps)

		case ps.state == StateDisconnecting && ack.Sequence == ps.disconnectSeq:
			h.queueEvent(&Event{
				Type:     EventDisconnect,
				Peer:     h.peerHandle(ps),
				UserData: ps.disconnectData,
			})
			h.transition(ps, StateZombie)
			h.freeSlot(ps)
			return
		}
	}
}

// handleDisconnect acknowledges the remote's disconnect and keeps the
// slot alive just long enough to flush that acknowledgment.
func (h *Host) handleDisconnect(ps *peerState, packet *model.Packet) {
	ps.pendingACKs = append(ps.pendingACKs, model.Acknowledgment{
		ChannelID: model.ControlChannelID,
		Sequence:  packet.Sequence,
	})
	if ps.state == StateAcknowledgingDisconnect {
		return
	}
	h.queueEvent(&Event{
		Type:     EventDisconnect,
		Peer:     h.peerHandle(ps),
		UserData: packet.UserData,
	})
	h.transition(ps, StateAcknowledgingDisconnect)
}

// handleThrottleConfigure acknowledges and applies remote throttle
// parameters. Reapplying a duplicate is harmless.
func (h *Host) handleThrottleConfigure(ps *peerState, packet *model.Packet) {
	ps.pendingACKs = append(ps.pendingACKs, model.Acknowledgment{
		ChannelID: model.ControlChannelID,
		Sequence:  packet.Sequence,
	})
	ps.throttleInterval = time.Duration(packet.ThrottleInterval) * time.Millisecond
	ps.throttleAcceleration = packet.ThrottleAcceleration
	ps.throttleDeceleration = packet.ThrottleDeceleration
}

//
// Data path.
//

// handleData routes an application payload through the channel's
// delivery discipline and surfaces receive events.
func (h *Host) handleData(ps *peerState, packet *model.Packet) {
	switch ps.state {
	case StateConnected, StateDisconnectLater:
	default:
		h.logger.Debugf("drop data packet in state %s", ps.state)
		return
	}
	ch := ps.channelByID(packet.ChannelID)
	if ch == nil || packet.ChannelID == model.ControlChannelID {
		h.logger.Warnf("drop data packet on invalid channel %d", packet.ChannelID)
		return
	}

	// validate the payload before anything is acknowledged: a packet
	// that fails decode must look like datagram loss, so a reliable
	// sender keeps retransmitting it.
	if packet.Flags&model.FlagCompressed != 0 {
		if h.compressor == nil {
			h.logger.Warnf("drop compressed packet: no compressor attached")
			return
		}
		decoded, err := h.compressor.Decompress(packet.Payload)
		if err != nil {
			h.logger.Warnf("drop packet: %s", err)
			return
		}
		packet.Payload = decoded
		packet.Flags &^= model.FlagCompressed
	}

	switch packet.Opcode {
	case model.P_RELIABLE_DATA:
		inserted, ack := ch.ReceiveReliable(packet)
		if ack {
			ps.pendingACKs = append(ps.pendingACKs, model.Acknowledgment{
				ChannelID: packet.ChannelID,
				Sequence:  packet.Sequence,
			})
		}
		if !inserted {
			return
		}
		for _, ready := range ch.NextDeliverable() {
			h.deliver(ps, ready)
		}

	case model.P_UNRELIABLE_DATA:
		if ch.ReceiveUnreliable(packet) {
			h.deliver(ps, packet)
		}

	case model.P_UNSEQUENCED_DATA:
		h.deliver(ps, packet)
	}
}

// deliver queues a receive event. The payload has been decoded already.
func (h *Host) deliver(ps *peerState, packet *model.Packet) {
	h.queueEvent(&Event{
		Type:      EventReceive,
		Peer:      h.peerHandle(ps),
		ChannelID: packet.ChannelID,
		Data:      packet.Payload,
	})
}

//
// Timers.
//

// advancePeers fires the per-peer timers: connection timeout, deferred
// disconnect, keepalive ping, and the throttle window.
func (h *Host) advancePeers() {
	now := h.serviceTime
	for _, ps := range h.peers {
		if !ps.isLive() {
			continue
		}

		// a reliable packet unacknowledged beyond the timeout window
		// means the connection is dead.
		if oldest, ok := ps.oldestInFlightTime(); ok {
			if now.Sub(oldest) >= ps.timeoutWindow() {
				h.logger.Warnf("peer %d timed out after %s", ps.index, now.Sub(oldest))
				h.queueEvent(&Event{
					Type:    EventDisconnect,
					Peer:    h.peerHandle(ps),
					Timeout: true,
				})
				h.transition(ps, StateZombie)
				h.freeSlot(ps)
				continue
			}
		}

		if ps.state == StateDisconnectLater && !ps.pendingReliable() {
			if err := h.startDisconnect(ps, ps.disconnectData); err != nil {
				h.logger.Warnf("peer %d: %s", ps.index, err)
			}
			continue
		}

		if ps.state == StateConnected && ps.pingInterval > 0 &&
			now.Sub(ps.lastSendTime) >= ps.pingInterval &&
			now.Sub(ps.lastReceiveTime) >= ps.pingInterval {
			ping := model.NewPacket(model.P_PING, model.ControlChannelID, ps.connectID, nil)
			if err := ps.control.QueueOutgoing(ping); err != nil {
				h.logger.Warnf("peer %d: %s", ps.index, err)
			}
		}

		if ps.throttleInterval > 0 && now.Sub(ps.throttleEpoch) >= ps.throttleInterval {
			ps.throttleEpoch = now
			if ps.lastRTT > 0 {
				if ps.lastRTT <= ps.srtt {
					ps.throttle += ps.throttleAcceleration
					if ps.throttle > THROTTLE_SCALE {
						ps.throttle = THROTTLE_SCALE
					}
				} else if ps.throttle > ps.throttleDeceleration {
					ps.throttle -= ps.throttleDeceleration
				} else {
					ps.throttle = 0
				}
			}
		}
	}
}

// oldestInFlightTime scans every channel for the oldest unacknowledged
// first transmission.
func (ps *peerState) oldestInFlightTime() (time.Time, bool) {
	var oldest time.Time
	for _, ch := range ps.allChannels() {
		t, ok := ch.OldestInFlightTime()
		if !ok {
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return oldest, !oldest.IsZero()
}

//
// Flush path.
//

// flushOutgoing transmits pending traffic for every live peer and
// completes teardowns waiting only on that traffic.
func (h *Host) flushOutgoing() {
	now := h.serviceTime
	if h.windowStart.IsZero() || now.Sub(h.windowStart) >= BANDWIDTH_ACCOUNTING_INTERVAL {
		h.windowStart = now
		h.windowBytesSent = 0
	}
	for _, ps := range h.peers {
		if !ps.isLive() {
			continue
		}
		h.flushPeer(ps)
		if ps.state == StateAcknowledgingDisconnect && len(ps.pendingACKs) == 0 {
			h.transition(ps, StateZombie)
			h.freeSlot(ps)
		}
	}
}

// flushPeer transmits, in order: owed acknowledgments, expired
// retransmissions, then freshly queued packets. Acknowledgments and
// retransmissions ignore the bandwidth limit; fresh data respects it.
func (h *Host) flushPeer(ps *peerState) {
	now := h.serviceTime

	for len(ps.pendingACKs) > 0 {
		count := len(ps.pendingACKs)
		if count > MAX_ACKS_PER_PACKET {
			count = MAX_ACKS_PER_PACKET
		}
		ack := model.NewPacket(model.P_ACK, model.ControlChannelID, ps.connectID, nil)
		ack.ACKs = ps.pendingACKs[:count]
		ps.pendingACKs = ps.pendingACKs[count:]
		if err := h.sendPacket(ps, ack); err != nil {
			h.logger.Warnf("peer %d: %s", ps.index, err)
		}
	}

	for _, ch := range ps.allChannels() {
		for _, ifp := range ch.ReadyToRetransmit(now) {
			ifp.ScheduleForRetransmission(now, ps.rto(), ps.timeoutMax)
			if err := h.sendPacket(ps, ifp.Packet()); err != nil {
				h.logger.Warnf("peer %d: %s", ps.index, err)
			}
		}
	}

	for _, ch := range ps.allChannels() {
		h.flushChannel(ps, ch)
	}
}

// flushChannel drains one channel's fresh queue.
func (h *Host) flushChannel(ps *peerState, ch *channel.Channel) {
	now := h.serviceTime
	for ch.HasOutgoing() {
		packet := ch.PopOutgoing()

		// pre-emptive throttle drop of unreliable traffic.
		if packet.Opcode == model.P_UNRELIABLE_DATA &&
			h.rng.Intn(THROTTLE_SCALE) >= int(ps.throttle) {
			h.logger.Debugf("throttle drop {chan=%d, seq=%d}", packet.ChannelID, packet.Sequence)
			continue
		}

		if packet.Opcode.IsData() && h.overBandwidthBudget() {
			// defer to the next accounting window.
			ch.UnpopOutgoing(packet)
			return
		}

		if err := h.sendPacket(ps, packet); err != nil {
			h.logger.Warnf("peer %d: %s", ps.index, err)
			continue
		}
		if packet.Opcode.NeedsAcknowledgment() {
			ch.TrackInFlight(packet, now, ps.rto(), ps.timeoutMax)
		}
	}
}

// overBandwidthBudget reports whether the current accounting window has
// spent its outgoing allowance.
func (h *Host) overBandwidthBudget() bool {
	if h.outgoingBandwidth == 0 {
		return false
	}
	budget := uint64(h.outgoingBandwidth) *
		uint64(BANDWIDTH_ACCOUNTING_INTERVAL) / uint64(time.Second)
	return h.windowBytesSent >= budget
}

// sendPacket serializes one packet onto the wire, compressing data
// payloads when a compressor is attached and it actually helps.
func (h *Host) sendPacket(ps *peerState, packet *model.Packet) error {
	if h.compressor != nil && packet.Opcode.IsData() &&
		packet.Flags&model.FlagCompressed == 0 && len(packet.Payload) > 0 {
		compressed := h.compressor.Compress(packet.Payload)
		if len(compressed) < len(packet.Payload) {
			packet.Flags |= model.FlagCompressed
			packet.Payload = compressed
		}
	}
	raw, err := packet.Bytes()
	if err != nil {
		return err
	}
	packet.Log(h.logger, model.DirectionOutgoing)
	if err := h.conn.WriteTo(raw, ps.addr); err != nil {
		return err
	}
	ps.lastSendTime = h.serviceTime
	h.totalBytesSent += uint64(len(raw))
	h.windowBytesSent += uint64(len(raw))
	return nil
}

//
// Wakeup computation.
//

// nextWakeupDelta bounds how long the next socket read may block: the
// earliest retransmission deadline, ping deadline, or throttle window
// across all live peers, capped by the caller's remaining budget.
func (h *Host) nextWakeupDelta(remaining time.Duration) time.Duration {
	now := h.serviceTime
	fallback := now.Add(remaining)
	wakeup := fallback
	for _, ps := range h.peers {
		if !ps.isLive() {
			continue
		}
		for _, ch := range ps.allChannels() {
			wakeup = ch.NearestDeadline(now, wakeup)
		}
		if ps.state == StateConnected && ps.pingInterval > 0 {
			ping := ps.lastSendTime.Add(ps.pingInterval)
			if ping.Before(wakeup) {
				wakeup = ping
			}
		}
		if ps.throttleInterval > 0 {
			window := ps.throttleEpoch.Add(ps.throttleInterval)
			if window.Before(wakeup) {
				wakeup = window
			}
		}
	}
	delta := wakeup.Sub(now)
	if delta <= 0 {
		delta = time.Nanosecond
	}
	if delta > remaining {
		delta = remaining
	}
	return delta
}
