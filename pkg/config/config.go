// Package config contains the configuration for creating a host. Every
// optional knob has an explicit default, resolved here before any
// protocol logic runs.
package config

import (
	"github.com/apex/log"
	"github.com/benbjohnson/clock"
	"github.com/renet-go/renet/internal/model"
)

// Config contains options to initialize a host.
type Config struct {
	// bindAddress is where the host socket binds; empty means an
	// ephemeral client-only socket.
	bindAddress string

	// peerCount is the capacity of the peer-slot array.
	peerCount int

	// channelLimit caps the channel count of new connections.
	channelLimit byte

	// incomingBandwidth is the incoming limit in bytes per second;
	// zero means unlimited.
	incomingBandwidth uint32

	// outgoingBandwidth is the outgoing limit in bytes per second;
	// zero means unlimited.
	outgoingBandwidth uint32

	// mtu is the maximum transmission size advertised to remotes.
	mtu uint16

	// logger will be used to log events.
	logger model.Logger

	// compressor, when set, is applied to data payloads.
	compressor model.Compressor

	// clock is the time source driving the service loop.
	clock clock.Clock
}

// NewConfig returns a Config ready to initialize a host.
func NewConfig(options ...Option) *Config {
	cfg := &Config{
		bindAddress:       "",
		peerCount:         model.DefaultPeerCount,
		channelLimit:      model.DefaultChannelCount,
		incomingBandwidth: 0,
		outgoingBandwidth: 0,
		mtu:               model.DefaultMTU,
		logger:            log.Log,
		compressor:        nil,
		clock:             clock.New(),
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// Option is an option you can pass to initialize a host.
type Option func(config *Config)

// WithBindAddress configures the listening address, in the form
// "<ip-or-hostname>:<port>" or "*:<port>" for a wildcard bind.
func WithBindAddress(address string) Option {
	return func(config *Config) {
		config.bindAddress = address
	}
}

// BindAddress returns the configured bind address.
func (c *Config) BindAddress() string {
	return c.bindAddress
}

// WithPeerCount configures the capacity of the peer-slot array.
func WithPeerCount(count int) Option {
	return func(config *Config) {
		if count > 0 {
			config.peerCount = count
		}
	}
}

// PeerCount returns the configured peer-slot capacity.
func (c *Config) PeerCount() int {
	return c.peerCount
}

// WithChannelLimit configures the ceiling applied to the channel count
// of new connections.
func WithChannelLimit(limit byte) Option {
	return func(config *Config) {
		if limit > 0 && limit <= model.MaxChannelCount {
			config.channelLimit = limit
		}
	}
}

// ChannelLimit returns the configured channel ceiling.
func (c *Config) ChannelLimit() byte {
	return c.channelLimit
}

// WithBandwidthLimits configures the incoming and outgoing bandwidth
// limits, in bytes per second. Zero means unlimited.
func WithBandwidthLimits(incoming, outgoing uint32) Option {
	return func(config *Config) {
		config.incomingBandwidth = incoming
		config.outgoingBandwidth = outgoing
	}
}

// IncomingBandwidth returns the incoming bandwidth limit.
func (c *Config) IncomingBandwidth() uint32 {
	return c.incomingBandwidth
}

// OutgoingBandwidth returns the outgoing bandwidth limit.
func (c *Config) OutgoingBandwidth() uint32 {
	return c.outgoingBandwidth
}

// WithMTU configures the maximum transmission size.
func WithMTU(mtu uint16) Option {
	return func(config *Config) {
		if mtu >= model.MinMTU && mtu <= model.MaxMTU {
			config.mtu = mtu
		}
	}
}

// MTU returns the configured maximum transmission size.
func (c *Config) MTU() uint16 {
	return c.mtu
}

// WithLogger configures the passed [model.Logger].
func WithLogger(logger model.Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

// Logger returns the configured logger.
func (c *Config) Logger() model.Logger {
	return c.logger
}

// WithCompressor attaches a payload compressor to the host.
func WithCompressor(compressor model.Compressor) Option {
	return func(config *Config) {
		config.compressor = compressor
	}
}

// Compressor returns the configured compressor, possibly nil.
func (c *Config) Compressor() model.Compressor {
	return c.compressor
}

// WithClock configures the time source driving the service loop. Tests
// use this to inject a mock clock.
func WithClock(clk clock.Clock) Option {
	return func(config *Config) {
		config.clock = clk
	}
}

// Clock returns the configured clock.
func (c *Config) Clock() clock.Clock {
	return c.clock
}
