// Package netx contains the datagram socket collaborator. The protocol
// engine only sees the [PacketConn] interface, so tests can swap the real
// UDP socket for an in-memory network.
package netx

import (
	"errors"
	"net/netip"
	"os"
	"time"
)

// ErrPacketTooLarge means that a datagram exceeds the socket limits.
var ErrPacketTooLarge = errors.New("netx: packet too large")

// PacketConn is an unconnected datagram socket. Reads honor the read
// deadline and fail with a timeout error once it expires; writes never
// block. Implementations need not be safe for concurrent use: the host
// service loop is the only caller.
type PacketConn interface {
	// ReadFrom reads one datagram into buf.
	ReadFrom(buf []byte) (int, netip.AddrPort, error)

	// WriteTo sends one datagram to the given endpoint.
	WriteTo(pkt []byte, addr netip.AddrPort) error

	// SetReadDeadline sets the deadline for subsequent reads. The zero
	// time makes reads block forever.
	SetReadDeadline(t time.Time) error

	// LocalAddrPort returns the bound address.
	LocalAddrPort() netip.AddrPort

	// Close closes the socket.
	Close() error
}

// IsTimeout returns whether a read failed because the deadline expired.
func IsTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
