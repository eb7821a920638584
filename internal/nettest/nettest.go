// Package nettest provides an in-memory datagram network implementing
// [netx.PacketConn], so protocol tests can run two hosts against each
// other without real sockets and inject packet loss deterministically.
package nettest

import (
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/renet-go/renet/internal/netx"
)

// inboxSize bounds each endpoint's queue; overflow drops, like a kernel
// socket buffer would.
const inboxSize = 512

// DropFunc decides whether to drop the count-th datagram (1-based) sent
// from src to dst.
type DropFunc func(src, dst netip.AddrPort, count int) bool

// Network is an in-memory datagram switch.
type Network struct {
	mu       sync.Mutex
	conns    map[netip.AddrPort]*Conn
	nextPort uint16
	dropper  DropFunc
	sent     map[link]int
}

type link struct {
	src netip.AddrPort
	dst netip.AddrPort
}

// NewNetwork creates an empty [Network].
func NewNetwork() *Network {
	return &Network{
		conns:    map[netip.AddrPort]*Conn{},
		nextPort: 40000,
		sent:     map[link]int{},
	}
}

// SetDropper installs the loss policy. A nil dropper delivers everything.
func (n *Network) SetDropper(fn DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropper = fn
}

// Listen attaches a new endpoint with a synthetic loopback address.
func (n *Network) Listen() *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), n.nextPort)
	n.nextPort++
	conn := &Conn{
		network: n,
		addr:    addr,
		inbox:   make(chan datagram, inboxSize),
	}
	n.conns[addr] = conn
	return conn
}

// deliver routes one datagram, applying the loss policy.
func (n *Network) deliver(src, dst netip.AddrPort, payload []byte) {
	n.mu.Lock()
	key := link{src: src, dst: dst}
	n.sent[key]++
	count := n.sent[key]
	dropper := n.dropper
	target := n.conns[dst]
	n.mu.Unlock()

	if target == nil {
		return
	}
	if dropper != nil && dropper(src, dst, count) {
		return
	}
	copied := make([]byte, len(payload))
	copy(copied, payload)
	select {
	case target.inbox <- datagram{src: src, payload: copied}:
	default:
		// inbox overflow, the datagram is gone.
	}
}

type datagram struct {
	src     netip.AddrPort
	payload []byte
}

// Conn is one endpoint of a [Network].
type Conn struct {
	network *Network
	addr    netip.AddrPort
	inbox   chan datagram

	mu       sync.Mutex
	deadline time.Time
	closed   bool
}

var _ netx.PacketConn = &Conn{}

// ReadFrom implements netx.PacketConn
func (c *Conn) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	c.mu.Lock()
	deadline := c.deadline
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, netip.AddrPort{}, net.ErrClosed
	}

	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			select {
			case dg := <-c.inbox:
				return copy(buf, dg.payload), dg.src, nil
			default:
				return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
			}
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case dg := <-c.inbox:
			return copy(buf, dg.payload), dg.src, nil
		case <-timer.C:
			return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
		}
	}

	dg := <-c.inbox
	return copy(buf, dg.payload), dg.src, nil
}

// WriteTo implements netx.PacketConn
func (c *Conn) WriteTo(pkt []byte, addr netip.AddrPort) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	c.network.deliver(c.addr, addr, pkt)
	return nil
}

// SetReadDeadline implements netx.PacketConn
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

// LocalAddrPort implements netx.PacketConn
func (c *Conn) LocalAddrPort() netip.AddrPort {
	return c.addr
}

// Close implements netx.PacketConn
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
