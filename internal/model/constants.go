package model

// Protocol-wide defaults.
const (
	// DefaultMTU is the default maximum transmission size, headers included.
	DefaultMTU = 1400

	// MaxMTU bounds the MTU a remote may advertise.
	MaxMTU = 4096

	// MinMTU bounds the MTU a remote may advertise.
	MinMTU = 576

	// DefaultPeerCount is the default host peer-slot capacity.
	DefaultPeerCount = 64

	// DefaultChannelCount is the default per-connection channel count.
	DefaultChannelCount = 1

	// MaxChannelCount is the highest admissible channel count; the
	// control channel ID sits right above it.
	MaxChannelCount = 254
)

// HeaderSize returns the wire overhead of a data packet.
func HeaderSize() int {
	return headerSize
}
