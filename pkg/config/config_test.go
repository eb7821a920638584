package config

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/renet-go/renet/internal/model"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	if cfg.BindAddress() != "" {
		t.Errorf("BindAddress: got %q, want empty", cfg.BindAddress())
	}
	if cfg.PeerCount() != model.DefaultPeerCount {
		t.Errorf("PeerCount: got %d, want %d", cfg.PeerCount(), model.DefaultPeerCount)
	}
	if cfg.ChannelLimit() != model.DefaultChannelCount {
		t.Errorf("ChannelLimit: got %d, want %d", cfg.ChannelLimit(), model.DefaultChannelCount)
	}
	if cfg.MTU() != model.DefaultMTU {
		t.Errorf("MTU: got %d, want %d", cfg.MTU(), model.DefaultMTU)
	}
	if cfg.IncomingBandwidth() != 0 || cfg.OutgoingBandwidth() != 0 {
		t.Error("bandwidth limits: want unlimited by default")
	}
	if cfg.Logger() == nil {
		t.Error("Logger: want a default logger")
	}
	if cfg.Compressor() != nil {
		t.Error("Compressor: want nil by default")
	}
	if cfg.Clock() == nil {
		t.Error("Clock: want a default clock")
	}
}

func TestNewConfigOptions(t *testing.T) {
	mock := clock.NewMock()
	cfg := NewConfig(
		WithBindAddress("*:7777"),
		WithPeerCount(8),
		WithChannelLimit(4),
		WithBandwidthLimits(1000, 2000),
		WithMTU(1200),
		WithClock(mock),
	)
	if cfg.BindAddress() != "*:7777" {
		t.Errorf("BindAddress: got %q", cfg.BindAddress())
	}
	if cfg.PeerCount() != 8 {
		t.Errorf("PeerCount: got %d", cfg.PeerCount())
	}
	if cfg.ChannelLimit() != 4 {
		t.Errorf("ChannelLimit: got %d", cfg.ChannelLimit())
	}
	if cfg.IncomingBandwidth() != 1000 || cfg.OutgoingBandwidth() != 2000 {
		t.Error("bandwidth limits not applied")
	}
	if cfg.MTU() != 1200 {
		t.Errorf("MTU: got %d", cfg.MTU())
	}
	if cfg.Clock() != mock {
		t.Error("Clock not applied")
	}
}

func TestNewConfigRejectsOutOfRange(t *testing.T) {
	cfg := NewConfig(
		WithPeerCount(0),
		WithChannelLimit(0),
		WithMTU(100),
	)
	if cfg.PeerCount() != model.DefaultPeerCount {
		t.Errorf("PeerCount: got %d, want default", cfg.PeerCount())
	}
	if cfg.ChannelLimit() != model.DefaultChannelCount {
		t.Errorf("ChannelLimit: got %d, want default", cfg.ChannelLimit())
	}
	if cfg.MTU() != model.DefaultMTU {
		t.Errorf("MTU: got %d, want default", cfg.MTU())
	}
}
