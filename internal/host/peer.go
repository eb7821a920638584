package host

import (
	"errors"
	"net/netip"
	"time"

	"github.com/renet-go/renet/internal/channel"
	"github.com/renet-go/renet/internal/model"
	"github.com/renet-go/renet/internal/optional"
)

// ErrInvalidPeer means the peer reference no longer maps to a live
// connection: the peer disconnected, timed out, or the slot was reused.
var ErrInvalidPeer = errors.New("host: invalid peer reference")

// ErrNotConnected means the operation requires an established connection.
var ErrNotConnected = errors.New("host: peer is not connected")

// ErrInvalidChannel means the channel ID is outside the negotiated range.
var ErrInvalidChannel = errors.New("host: invalid channel ID")

// ErrPayloadTooLarge means the payload exceeds the maximum transmission size.
var ErrPayloadTooLarge = errors.New("host: payload exceeds maximum transmission size")

// Peer is a reference to one remote connection owned by a [Host]. It is
// an index into the host's peer-slot array plus a generation counter, so
// a reference kept across a disconnection fails with [ErrInvalidPeer]
// instead of silently aliasing whatever connection reuses the slot.
type Peer struct {
	host       *Host
	index      int
	generation uint32
}

// peerState is the engine-side state of one peer slot. Slots are
// allocated once and reused; generation disambiguates reuse.
type peerState struct {
	// index is this slot's position in the host array.
	index int

	// generation counts how many times the slot has been recycled.
	generation uint32

	// state is the connection state.
	state State

	// addr is the remote endpoint.
	addr netip.AddrPort

	// connectID is our randomly generated connect identifier.
	connectID model.ConnectID

	// remoteConnectID is the identifier the remote told us, once known.
	remoteConnectID optional.Value[model.ConnectID]

	// channels are the application delivery lanes, fixed at connect time.
	channels []*channel.Channel

	// control is the reserved lane for connection-lifecycle traffic.
	control *channel.Channel

	// userData is the application word carried by the handshake.
	userData uint32

	// mtu is the negotiated maximum transmission size.
	mtu uint16

	// srtt is the smoothed round-trip estimate.
	srtt time.Duration

	// rttvar is the filtered round-trip variance.
	rttvar time.Duration

	// lastRTT is the most recent raw round-trip sample.
	lastRTT time.Duration

	// pingInterval is the inactivity window before a keepalive ping.
	pingInterval time.Duration

	// timeoutLimit, timeoutMin, timeoutMax parameterize the connection
	// timeout: min(timeoutMax, max(timeoutMin, timeoutLimit*srtt)).
	timeoutLimit uint32
	timeoutMin   time.Duration
	timeoutMax   time.Duration

	// throttle is the current probability, on [0, THROTTLE_SCALE], that
	// an unreliable packet is actually transmitted.
	throttle uint32

	// throttleInterval is the re-evaluation window.
	throttleInterval time.Duration

	// throttleAcceleration and throttleDeceleration are the per-window
	// probability steps.
	throttleAcceleration uint32
	throttleDeceleration uint32

	// throttleEpoch is when the current window started.
	throttleEpoch time.Time

	// lastSendTime and lastReceiveTime drive ping and timeout logic.
	lastSendTime    time.Time
	lastReceiveTime time.Time

	// pendingACKs are acknowledgments owed to the remote.
	pendingACKs []model.Acknowledgment

	// verifySeq is the control sequence number of our verify-connect
	// packet, whose acknowledgment completes the server-side handshake.
	verifySeq model.Sequence

	// disconnectSeq is the control sequence number of our disconnect
	// packet, whose acknowledgment completes the active-side teardown.
	disconnectSeq model.Sequence

	// disconnectData is the application word sent with our disconnect.
	disconnectData uint32
}

// allChannels ranges over the control lane first, then the application
// channels in ID order.
func (ps *peerState) allChannels() []*channel.Channel {
	out := make([]*channel.Channel, 0, len(ps.channels)+1)
	if ps.control != nil {
		out = append(out, ps.control)
	}
	return append(out, ps.channels...)
}

// channelByID maps a wire channel ID to the channel, or nil.
func (ps *peerState) channelByID(id byte) *channel.Channel {
	if id == model.ControlChannelID {
		return ps.control
	}
	if int(id) < len(ps.channels) {
		return ps.channels[id]
	}
	return nil
}

// isLive returns whether the slot holds a connection in any state an
// application operation may address.
func (ps *peerState) isLive() bool {
	switch ps.state {
	case StateDisconnected, StateZombie:
		return false
	default:
		return true
	}
}

// rto returns the base retransmission timeout derived from the RTT filter.
func (ps *peerState) rto() time.Duration {
	if ps.srtt <= 0 {
		return DEFAULT_RTT
	}
	rto := ps.srtt + 4*ps.rttvar
	if rto < MIN_RTO {
		rto = MIN_RTO
	}
	if rto > ps.timeoutMax {
		rto = ps.timeoutMax
	}
	return rto
}

// timeoutWindow returns how long a reliable packet may stay
// unacknowledged before the connection is declared dead.
func (ps *peerState) timeoutWindow() time.Duration {
	rtt := ps.srtt
	if rtt <= 0 {
		rtt = DEFAULT_RTT
	}
	window := time.Duration(ps.timeoutLimit) * rtt
	if window < ps.timeoutMin {
		window = ps.timeoutMin
	}
	if window > ps.timeoutMax {
		window = ps.timeoutMax
	}
	return window
}

// updateRTT folds a new sample into the smoothed estimate and its
// variance, exponentially weighted.
func (ps *peerState) updateRTT(sample time.Duration) {
	ps.lastRTT = sample
	if ps.srtt <= 0 {
		ps.srtt = sample
		ps.rttvar = sample / 2
		return
	}
	diff := sample - ps.srtt
	if diff < 0 {
		diff = -diff
	}
	ps.rttvar += (diff - ps.rttvar) / 4
	ps.srtt += (sample - ps.srtt) / 8
}

// pendingReliable returns whether any channel still has reliable data
// queued or in flight.
func (ps *peerState) pendingReliable() bool {
	for _, ch := range ps.allChannels() {
		if ch.PendingReliable() {
			return true
		}
	}
	return false
}

//
// Application-facing operations. These are valid only between service
// invocations of the owning host: the single-threaded usage model of the
// engine, no internal locking.
//

// resolve maps the reference to its live slot.
func (p Peer) resolve() (*peerState, error) {
	if p.host == nil || p.index < 0 || p.index >= len(p.host.peers) {
		return nil, ErrInvalidPeer
	}
	ps := p.host.peers[p.index]
	if ps.generation != p.generation || !ps.isLive() {
		return nil, ErrInvalidPeer
	}
	return ps, nil
}

// Send enqueues a payload on the given channel with the given delivery
// guarantee. The payload is transmitted on the next service or flush
// call of the owning host.
func (p Peer) Send(data []byte, channelID byte, flag model.DeliveryFlag) error {
	ps, err := p.resolve()
	if err != nil {
		return err
	}
	if ps.state != StateConnected {
		return ErrNotConnected
	}
	if int(channelID) >= len(ps.channels) {
		return ErrInvalidChannel
	}
	if len(data) > int(ps.mtu)-model.HeaderSize() {
		return ErrPayloadTooLarge
	}
	packet := model.NewPacket(flag.Opcode(), channelID, ps.connectID, data)
	return ps.channels[channelID].QueueOutgoing(packet)
}

// Receive dequeues the oldest pending payload for this peer ahead of the
// event loop, returning the payload, the channel it arrived on, and
// whether anything was pending.
func (p Peer) Receive() ([]byte, byte, bool) {
	if _, err := p.resolve(); err != nil {
		return nil, 0, false
	}
	for i, ev := range p.host.events {
		if ev.Type != EventReceive || ev.Peer != p {
			continue
		}
		p.host.events = append(p.host.events[:i], p.host.events[i+1:]...)
		return ev.Data, ev.ChannelID, true
	}
	return nil, 0, false
}

// Disconnect requests a graceful disconnect: a disconnect packet goes
// out on the next flush and the teardown completes, with a disconnect
// event, once it is acknowledged or the connection times out.
func (p Peer) Disconnect(data uint32) error {
	ps, err := p.resolve()
	if err != nil {
		return err
	}
	switch ps.state {
	case StateDisconnecting, StateAcknowledgingDisconnect:
		return nil
	}
	return p.host.startDisconnect(ps, data)
}

// DisconnectLater defers the disconnect until every queued reliable
// payload has been acknowledged, then behaves like [Peer.Disconnect].
func (p Peer) DisconnectLater(data uint32) error {
	ps, err := p.resolve()
	if err != nil {
		return err
	}
	switch ps.state {
	case StateDisconnecting, StateAcknowledgingDisconnect, StateDisconnectLater:
		return nil
	}
	ps.disconnectData = data
	p.host.transition(ps, StateDisconnectLater)
	return nil
}

// DisconnectNow sends a best-effort disconnect notification without
// waiting for an acknowledgment and tears the connection down
// immediately. The disconnect event surfaces on the next service call.
func (p Peer) DisconnectNow(data uint32) error {
	ps, err := p.resolve()
	if err != nil {
		return err
	}
	return p.host.disconnectNow(ps, data)
}

// Reset forcibly returns the slot to the disconnected state without
// notifying the remote and without raising any event. Resetting an
// already disconnected peer is a no-op.
func (p Peer) Reset() {
	ps, err := p.resolve()
	if err != nil {
		return
	}
	p.host.logger.Infof("[@] %s -> %s (reset)", ps.state, StateDisconnected)
	p.host.freeSlot(ps)
}

// Ping sends a ping immediately on the next flush, refreshing the RTT
// estimate out of band.
func (p Peer) Ping() error {
	ps, err := p.resolve()
	if err != nil {
		return err
	}
	ping := model.NewPacket(model.P_PING, model.ControlChannelID, ps.connectID, nil)
	return ps.control.QueueOutgoing(ping)
}

// State returns the connection state. A stale reference reports
// [StateDisconnected]; the zero Peer reports [StateUnknown].
func (p Peer) State() State {
	if p.host == nil || p.index < 0 || p.index >= len(p.host.peers) {
		return StateUnknown
	}
	ps := p.host.peers[p.index]
	if ps.generation != p.generation {
		return StateDisconnected
	}
	return ps.state
}

// RoundTripTime returns the smoothed round-trip estimate.
func (p Peer) RoundTripTime() time.Duration {
	ps, err := p.resolve()
	if err != nil {
		return 0
	}
	return ps.srtt
}

// SetRoundTripTime seeds or overrides the smoothed round-trip estimate,
// e.g. with prior knowledge of network conditions. A new measurement
// overwrites it.
func (p Peer) SetRoundTripTime(rtt time.Duration) {
	ps, err := p.resolve()
	if err != nil {
		return
	}
	ps.srtt = rtt
	ps.rttvar = rtt / 2
}

// RoundTripTimeVariance returns the filtered round-trip variance.
func (p Peer) RoundTripTimeVariance() time.Duration {
	ps, err := p.resolve()
	if err != nil {
		return 0
	}
	return ps.rttvar
}

// LastRoundTripTime returns the most recent raw round-trip sample.
func (p Peer) LastRoundTripTime() time.Duration {
	ps, err := p.resolve()
	if err != nil {
		return 0
	}
	return ps.lastRTT
}

// SetLastRoundTripTime overrides the most recent raw sample until a new
// measurement overwrites it.
func (p Peer) SetLastRoundTripTime(rtt time.Duration) {
	ps, err := p.resolve()
	if err != nil {
		return
	}
	ps.lastRTT = rtt
}

// Timeout returns the connection timeout parameters.
func (p Peer) Timeout() (limit uint32, minimum, maximum time.Duration) {
	ps, err := p.resolve()
	if err != nil {
		return 0, 0, 0
	}
	return ps.timeoutLimit, ps.timeoutMin, ps.timeoutMax
}

// SetTimeout sets the connection timeout parameters. The effective
// timeout is min(maximum, max(minimum, limit*smoothedRTT)).
func (p Peer) SetTimeout(limit uint32, minimum, maximum time.Duration) {
	ps, err := p.resolve()
	if err != nil {
		return
	}
	ps.timeoutLimit = limit
	ps.timeoutMin = minimum
	ps.timeoutMax = maximum
}

// ThrottleConfigure sets the throttle parameters locally and tells the
// remote about them.
func (p Peer) ThrottleConfigure(interval time.Duration, acceleration, deceleration uint32) error {
	ps, err := p.resolve()
	if err != nil {
		return err
	}
	ps.throttleInterval = interval
	ps.throttleAcceleration = acceleration
	ps.throttleDeceleration = deceleration
	packet := model.NewPacket(model.P_THROTTLE_CONFIGURE, model.ControlChannelID, ps.connectID, nil)
	packet.ThrottleInterval = uint32(interval / time.Millisecond)
	packet.ThrottleAcceleration = acceleration
	packet.ThrottleDeceleration = deceleration
	return ps.control.QueueOutgoing(packet)
}

// PingInterval returns the keepalive interval.
func (p Peer) PingInterval() time.Duration {
	ps, err := p.resolve()
	if err != nil {
		return 0
	}
	return ps.pingInterval
}

// SetPingInterval sets the keepalive interval; zero disables keepalives.
func (p Peer) SetPingInterval(interval time.Duration) {
	ps, err := p.resolve()
	if err != nil {
		return
	}
	ps.pingInterval = interval
}

// Address returns the remote endpoint.
func (p Peer) Address() netip.AddrPort {
	ps, err := p.resolve()
	if err != nil {
		return netip.AddrPort{}
	}
	return ps.addr
}

// ConnectID returns our connect identifier for this connection.
func (p Peer) ConnectID() model.ConnectID {
	ps, err := p.resolve()
	if err != nil {
		return 0
	}
	return ps.connectID
}

// ChannelCount returns the negotiated channel count.
func (p Peer) ChannelCount() int {
	ps, err := p.resolve()
	if err != nil {
		return 0
	}
	return len(ps.channels)
}

// MTU returns the negotiated maximum transmission size.
func (p Peer) MTU() uint16 {
	ps, err := p.resolve()
	if err != nil {
		return 0
	}
	return ps.mtu
}

// Throttle returns the current throttle probability on [0, THROTTLE_SCALE].
func (p Peer) Throttle() uint32 {
	ps, err := p.resolve()
	if err != nil {
		return 0
	}
	return ps.throttle
}
