package netx

import (
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"
	"time"
)

// UDPConn implements [PacketConn] on top of a kernel UDP socket.
type UDPConn struct {
	conn *net.UDPConn
}

var _ PacketConn = &UDPConn{}

// Listen binds a UDP socket. The address takes the form
// "<ip-or-hostname>:<port>", or "*:<port>" for a wildcard bind. The
// empty string binds an ephemeral wildcard socket for client-only use.
func Listen(address string) (*UDPConn, error) {
	if address == "" {
		address = ":0"
	}
	if strings.HasPrefix(address, "*:") {
		address = address[1:]
	}
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPConn{conn: conn}, nil
}

// ReadFrom implements PacketConn
func (c *UDPConn) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	return c.conn.ReadFromUDPAddrPort(buf)
}

// WriteTo implements PacketConn
func (c *UDPConn) WriteTo(pkt []byte, addr netip.AddrPort) error {
	if len(pkt) > math.MaxUint16 {
		return ErrPacketTooLarge
	}
	_, err := c.conn.WriteToUDPAddrPort(pkt, addr)
	return err
}

// SetReadDeadline implements PacketConn
func (c *UDPConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// LocalAddrPort implements PacketConn
func (c *UDPConn) LocalAddrPort() netip.AddrPort {
	addr, ok := c.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	return addr.AddrPort()
}

// Close implements PacketConn
func (c *UDPConn) Close() error {
	return c.conn.Close()
}

// ResolveEndpoint resolves a "<ip-or-hostname>:<port>" string into a
// concrete endpoint address.
func ResolveEndpoint(address string) (netip.AddrPort, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("netx: cannot resolve %q: %w", address, err)
	}
	return addr.AddrPort(), nil
}
