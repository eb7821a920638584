// Package transport is the public entry point of renet, a reliable-UDP
// transport: hosts own a socket and a set of peers, peers carry
// independently sequenced channels, and a cooperative service loop turns
// datagrams into connect, receive and disconnect events.
//
// Minimal client:
//
//	h, err := transport.NewHost()
//	if err != nil { ... }
//	defer h.Close()
//	peer, err := h.Connect("game.example.org:7777", 2, 0)
//	if err != nil { ... }
//	for {
//		ev, err := h.Service(10 * time.Millisecond)
//		if err != nil { ... }
//		if ev == nil {
//			continue
//		}
//		switch ev.Type {
//		case transport.EventConnect:
//			peer.Send([]byte("hello"), 0, transport.DeliveryReliable)
//		case transport.EventReceive:
//			// ev.Data, ev.ChannelID
//		case transport.EventDisconnect:
//			return
//		}
//	}
//
// A host and the peers it hands out are confined to one goroutine.
package transport

import (
	"github.com/renet-go/renet/internal/compressx"
	"github.com/renet-go/renet/internal/host"
	"github.com/renet-go/renet/internal/model"
	"github.com/renet-go/renet/pkg/config"
)

// NewHost creates a host from the given options. With no options the
// host binds an ephemeral client-only socket.
func NewHost(options ...config.Option) (*Host, error) {
	return host.New(config.NewConfig(options...))
}

// NewS2Compressor returns the bundled payload compressor, suitable for
// [config.WithCompressor]. Both sides of a connection must attach it.
func NewS2Compressor() Compressor {
	return compressx.S2Compressor{}
}

// Host owns a socket and a fixed set of peer slots.
type Host = host.Host

// Peer is a reference to one remote connection.
type Peer = host.Peer

// Event is a notification surfaced by [Host.Service].
type Event = host.Event

// EventType discriminates the [Event] union.
type EventType = host.EventType

// Event types.
const (
	EventNone       = host.EventNone
	EventConnect    = host.EventConnect
	EventDisconnect = host.EventDisconnect
	EventReceive    = host.EventReceive
)

// State is the connection state of a peer.
type State = host.State

// Connection states.
const (
	StateDisconnected            = host.StateDisconnected
	StateConnecting              = host.StateConnecting
	StateAcknowledgingConnect    = host.StateAcknowledgingConnect
	StateConnectionPending       = host.StateConnectionPending
	StateConnectionSucceeded     = host.StateConnectionSucceeded
	StateConnected               = host.StateConnected
	StateDisconnectLater         = host.StateDisconnectLater
	StateDisconnecting           = host.StateDisconnecting
	StateAcknowledgingDisconnect = host.StateAcknowledgingDisconnect
	StateZombie                  = host.StateZombie
	StateUnknown                 = host.StateUnknown
)

// DeliveryFlag selects the delivery guarantee of [Peer.Send].
type DeliveryFlag = model.DeliveryFlag

// Delivery guarantees.
const (
	// DeliveryReliable delivers exactly once, in order per channel.
	DeliveryReliable = model.DeliveryReliable

	// DeliveryUnreliable delivers at most once and drops stale packets.
	DeliveryUnreliable = model.DeliveryUnreliable

	// DeliveryUnsequenced delivers at most once in arrival order.
	DeliveryUnsequenced = model.DeliveryUnsequenced
)

// Compressor shrinks payloads on the wire.
type Compressor = model.Compressor

// Errors returned by host and peer operations.
var (
	ErrHostClosed          = host.ErrHostClosed
	ErrNoFreeSlots         = host.ErrNoFreeSlots
	ErrInvalidChannelCount = host.ErrInvalidChannelCount
	ErrInvalidPeer         = host.ErrInvalidPeer
	ErrNotConnected        = host.ErrNotConnected
	ErrInvalidChannel      = host.ErrInvalidChannel
	ErrPayloadTooLarge     = host.ErrPayloadTooLarge
)
