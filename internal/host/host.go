// Package host implements the protocol engine: the peer-slot array, the
// connection state machine, the service loop that turns datagrams into
// events, and the flush path that turns queued payloads into datagrams.
//
// A Host is single-threaded by design. All methods, on the Host and on
// the [Peer] references it hands out, must be called from the same
// goroutine that runs [Host.Service].
package host

import (
	"errors"
	"fmt"
	"math/rand"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/renet-go/renet/internal/bytesx"
	"github.com/renet-go/renet/internal/channel"
	"github.com/renet-go/renet/internal/model"
	"github.com/renet-go/renet/internal/netx"
	"github.com/renet-go/renet/internal/optional"
	"github.com/renet-go/renet/pkg/config"
)

// ErrHostClosed means the host socket has been closed.
var ErrHostClosed = errors.New("host: closed")

// ErrNoFreeSlots means every peer slot is occupied.
var ErrNoFreeSlots = errors.New("host: no free peer slots")

// ErrInvalidChannelCount means a connect request asked for zero channels
// or more than the protocol maximum.
var ErrInvalidChannelCount = errors.New("host: invalid channel count")

// Host owns a datagram socket and a fixed array of peer slots.
type Host struct {
	// logger is the logger to use.
	logger model.Logger

	// clock is the time source. Tests inject a mock.
	clock clock.Clock

	// conn is the datagram socket.
	conn netx.PacketConn

	// compressor, when set, shrinks data payloads before transmission.
	compressor model.Compressor

	// channelLimit caps the channel count of new connections.
	channelLimit byte

	// incomingBandwidth and outgoingBandwidth are advisory limits in
	// bytes per second; zero means unlimited.
	incomingBandwidth uint32
	outgoingBandwidth uint32

	// mtu is the maximum transmission size we advertise.
	mtu uint16

	// peers is the slot array, allocated once at creation.
	peers []*peerState

	// events are notifications waiting to surface through the loop.
	events []*Event

	// serviceTime is the engine's notion of now, refreshed once per
	// service pass so one pass sees one consistent timestamp.
	serviceTime time.Time

	// totalBytesSent and totalBytesReceived count wire bytes.
	totalBytesSent     uint64
	totalBytesReceived uint64

	// windowStart and windowBytesSent implement the outgoing
	// bandwidth accounting window.
	windowStart     time.Time
	windowBytesSent uint64

	// readBuf is the reusable datagram read buffer.
	readBuf []byte

	// rng drives the throttle draw. Not a CSRNG on purpose.
	rng *rand.Rand

	// closed records that Close ran.
	closed bool
}

// New creates a [Host] bound according to the given configuration.
func New(cfg *config.Config) (*Host, error) {
	conn, err := netx.Listen(cfg.BindAddress())
	if err != nil {
		return nil, fmt.Errorf("host: listen: %w", err)
	}
	return NewWithConn(cfg, conn)
}

// NewWithConn creates a [Host] on an already-open socket. Tests use this
// to run the engine over an in-memory network.
func NewWithConn(cfg *config.Config, conn netx.PacketConn) (*Host, error) {
	seed, err := bytesx.GenRandomUint32()
	if err != nil {
		return nil, err
	}
	h := &Host{
		logger:            cfg.Logger(),
		clock:             cfg.Clock(),
		conn:              conn,
		compressor:        cfg.Compressor(),
		channelLimit:      cfg.ChannelLimit(),
		incomingBandwidth: cfg.IncomingBandwidth(),
		outgoingBandwidth: cfg.OutgoingBandwidth(),
		mtu:               cfg.MTU(),
		peers:             make([]*peerState, 0, cfg.PeerCount()),
		events:            []*Event{},
		readBuf:           make([]byte, model.MaxMTU),
		rng:               rand.New(rand.NewSource(int64(seed))),
	}
	for i := 0; i < cfg.PeerCount(); i++ {
		h.peers = append(h.peers, &peerState{
			index: i,
			state: StateDisconnected,
		})
	}
	h.logger.Infof("host listening on %s", conn.LocalAddrPort())
	return h, nil
}

// Connect starts a connection handshake towards the given
// "<ip-or-hostname>:<port>" endpoint and returns a reference to the new
// peer, already usable for state queries. The connect event surfaces
// from [Host.Service] once the handshake completes.
func (h *Host) Connect(address string, channelCount int, userData uint32) (Peer, error) {
	if h.closed {
		return Peer{}, ErrHostClosed
	}
	if channelCount <= 0 || channelCount > model.MaxChannelCount {
		return Peer{}, ErrInvalidChannelCount
	}
	if channelCount > int(h.channelLimit) {
		channelCount = int(h.channelLimit)
	}
	addr, err := netx.ResolveEndpoint(address)
	if err != nil {
		return Peer{}, err
	}
	ps := h.findFreeSlot()
	if ps == nil {
		return Peer{}, ErrNoFreeSlots
	}
	if err := h.initSlot(ps, addr, channelCount); err != nil {
		return Peer{}, err
	}
	ps.userData = userData
	h.transition(ps, StateConnecting)

	connect := model.NewPacket(model.P_CONNECT, model.ControlChannelID, ps.connectID, nil)
	connect.ChannelCount = byte(channelCount)
	connect.UserData = userData
	connect.MTU = h.mtu
	if err := ps.control.QueueOutgoing(connect); err != nil {
		h.freeSlot(ps)
		return Peer{}, err
	}

	// start the handshake right away rather than on the next service.
	h.serviceTime = h.clock.Now()
	h.flushPeer(ps)
	return h.peerHandle(ps), nil
}

// Broadcast queues a payload to every connected peer. Per-peer queueing
// failures are logged and skipped.
func (h *Host) Broadcast(data []byte, channelID byte, flag model.DeliveryFlag) {
	for _, ps := range h.peers {
		if ps.state != StateConnected {
			continue
		}
		if err := h.peerHandle(ps).Send(data, channelID, flag); err != nil {
			h.logger.Warnf("broadcast: peer %d: %s", ps.index, err)
		}
	}
}

// Flush transmits everything queued without reading the socket and
// without waiting.
func (h *Host) Flush() {
	if h.closed {
		return
	}
	h.serviceTime = h.clock.Now()
	h.flushOutgoing()
}

// CheckEvents dequeues a pending event without touching the socket.
// It returns nil when no event is pending.
func (h *Host) CheckEvents() *Event {
	return h.popEvent()
}

// Close notifies every live peer with a best-effort disconnect, flushes,
// and closes the socket. The host is unusable afterwards.
func (h *Host) Close() error {
	if h.closed {
		return ErrHostClosed
	}
	h.serviceTime = h.clock.Now()
	for _, ps := range h.peers {
		if !ps.isLive() {
			continue
		}
		notify := model.NewPacket(model.P_DISCONNECT, model.ControlChannelID, ps.connectID, nil)
		h.sendPacket(ps, notify)
		h.transition(ps, StateZombie)
		h.freeSlot(ps)
	}
	h.closed = true
	return h.conn.Close()
}

// Address returns the bound socket address.
func (h *Host) Address() netip.AddrPort {
	return h.conn.LocalAddrPort()
}

// PeerCapacity returns the size of the peer-slot array.
func (h *Host) PeerCapacity() int {
	return len(h.peers)
}

// ConnectedPeers returns how many peers are in the connected state.
func (h *Host) ConnectedPeers() int {
	count := 0
	for _, ps := range h.peers {
		if ps.state == StateConnected {
			count++
		}
	}
	return count
}

// BytesSent returns the total wire bytes transmitted.
func (h *Host) BytesSent() uint64 {
	return h.totalBytesSent
}

// BytesReceived returns the total wire bytes received.
func (h *Host) BytesReceived() uint64 {
	return h.totalBytesReceived
}

// ChannelLimit returns the channel ceiling applied to new connections.
func (h *Host) ChannelLimit() byte {
	return h.channelLimit
}

// SetChannelLimit updates the channel ceiling applied to future
// connections; established connections keep their negotiated count.
func (h *Host) SetChannelLimit(limit byte) {
	if limit > 0 && limit <= model.MaxChannelCount {
		h.channelLimit = limit
	}
}

// BandwidthLimits returns the incoming and outgoing limits in bytes per
// second; zero means unlimited.
func (h *Host) BandwidthLimits() (incoming, outgoing uint32) {
	return h.incomingBandwidth, h.outgoingBandwidth
}

// SetBandwidthLimits updates the bandwidth limits at runtime.
func (h *Host) SetBandwidthLimits(incoming, outgoing uint32) {
	h.incomingBandwidth = incoming
	h.outgoingBandwidth = outgoing
}

// MTU returns the maximum transmission size the host advertises.
func (h *Host) MTU() uint16 {
	return h.mtu
}

//
// Slot management.
//

// peerHandle wraps a slot into the reference handed to applications.
func (h *Host) peerHandle(ps *peerState) Peer {
	return Peer{host: h, index: ps.index, generation: ps.generation}
}

// findFreeSlot returns a disconnected slot, or nil.
func (h *Host) findFreeSlot() *peerState {
	for _, ps := range h.peers {
		if ps.state == StateDisconnected {
			return ps
		}
	}
	return nil
}

// initSlot arms a slot for a new connection with default parameters.
func (h *Host) initSlot(ps *peerState, addr netip.AddrPort, channelCount int) error {
	cid, err := bytesx.GenRandomUint32()
	if err != nil {
		return err
	}
	ps.addr = addr
	ps.connectID = model.ConnectID(cid)
	ps.remoteConnectID = optional.None[model.ConnectID]()
	ps.channels = make([]*channel.Channel, 0, channelCount)
	for i := 0; i < channelCount; i++ {
		ps.channels = append(ps.channels, channel.New(byte(i), h.logger))
	}
	ps.control = channel.New(model.ControlChannelID, h.logger)
	ps.userData = 0
	ps.mtu = h.mtu
	ps.srtt = 0
	ps.rttvar = 0
	ps.lastRTT = 0
	ps.pingInterval = DEFAULT_PING_INTERVAL
	ps.timeoutLimit = DEFAULT_TIMEOUT_LIMIT
	ps.timeoutMin = DEFAULT_TIMEOUT_MIN
	ps.timeoutMax = DEFAULT_TIMEOUT_MAX
	ps.throttle = THROTTLE_SCALE
	ps.throttleInterval = DEFAULT_THROTTLE_INTERVAL
	ps.throttleAcceleration = DEFAULT_THROTTLE_ACCELERATION
	ps.throttleDeceleration = DEFAULT_THROTTLE_DECELERATION
	ps.throttleEpoch = h.clock.Now()
	ps.lastSendTime = h.clock.Now()
	ps.lastReceiveTime = h.clock.Now()
	ps.pendingACKs = nil
	ps.verifySeq = 0
	ps.disconnectSeq = 0
	ps.disconnectData = 0
	return nil
}

// freeSlot returns a slot to the pool. Bumping the generation makes
// every outstanding reference to this connection stale.
func (ps *peerState) free() {
	ps.state = StateDisconnected
	ps.generation++
	ps.addr = netip.AddrPort{}
	ps.remoteConnectID = optional.None[model.ConnectID]()
	ps.channels = nil
	ps.control = nil
	ps.pendingACKs = nil
}

func (h *Host) freeSlot(ps *peerState) {
	ps.free()
}

// transition moves a slot to a new state, logging the edge.
func (h *Host) transition(ps *peerState, next State) {
	if ps.state == next {
		return
	}
	h.logger.Infof("[@] %s -> %s", ps.state, next)
	ps.state = next
}

//
// Teardown helpers shared with the Peer methods.
//

// startDisconnect queues a reliable disconnect notification and waits
// for its acknowledgment before freeing the slot.
func (h *Host) startDisconnect(ps *peerState, data uint32) error {
	packet := model.NewPacket(model.P_DISCONNECT, model.ControlChannelID, ps.connectID, nil)
	packet.UserData = data
	if err := ps.control.QueueOutgoing(packet); err != nil {
		return err
	}
	ps.disconnectSeq = packet.Sequence
	ps.disconnectData = data
	h.transition(ps, StateDisconnecting)
	return nil
}

// disconnectNow sends a single unacknowledged disconnect notification
// and tears the connection down in place.
func (h *Host) disconnectNow(ps *peerState, data uint32) error {
	packet := model.NewPacket(model.P_DISCONNECT, model.ControlChannelID, ps.connectID, nil)
	packet.UserData = data
	h.serviceTime = h.clock.Now()
	err := h.sendPacket(ps, packet)
	h.queueEvent(&Event{
		Type:     EventDisconnect,
		Peer:     h.peerHandle(ps),
		UserData: data,
	})
	h.transition(ps, StateZombie)
	h.freeSlot(ps)
	return err
}

//
// Event queue.
//

func (h *Host) queueEvent(ev *Event) {
	h.events = append(h.events, ev)
}

func (h *Host) popEvent() *Event {
	if len(h.events) <= 0 {
		return nil
	}
	ev := h.events[0]
	h.events = h.events[1:]
	return ev
}
