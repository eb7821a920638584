package model

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOpcode_String(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		want string
	}{
		{"connect", P_CONNECT, "P_CONNECT"},
		{"verify connect", P_VERIFY_CONNECT, "P_VERIFY_CONNECT"},
		{"disconnect", P_DISCONNECT, "P_DISCONNECT"},
		{"ping", P_PING, "P_PING"},
		{"reliable data", P_RELIABLE_DATA, "P_RELIABLE_DATA"},
		{"unreliable data", P_UNRELIABLE_DATA, "P_UNRELIABLE_DATA"},
		{"unsequenced data", P_UNSEQUENCED_DATA, "P_UNSEQUENCED_DATA"},
		{"ack", P_ACK, "P_ACK"},
		{"throttle configure", P_THROTTLE_CONFIGURE, "P_THROTTLE_CONFIGURE"},
		{"unknown", Opcode(0xaa), "P_UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op.String(); got != tt.want {
				t.Errorf("Opcode.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpcode_NeedsAcknowledgment(t *testing.T) {
	needAck := []Opcode{P_CONNECT, P_VERIFY_CONNECT, P_DISCONNECT, P_PING, P_THROTTLE_CONFIGURE, P_RELIABLE_DATA}
	for _, op := range needAck {
		if !op.NeedsAcknowledgment() {
			t.Errorf("%s should need acknowledgment", op)
		}
	}
	noAck := []Opcode{P_UNRELIABLE_DATA, P_UNSEQUENCED_DATA, P_ACK}
	for _, op := range noAck {
		if op.NeedsAcknowledgment() {
			t.Errorf("%s should not need acknowledgment", op)
		}
	}
}

func TestPacket_roundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
	}{
		{
			name: "reliable data packet",
			packet: &Packet{
				Opcode:    P_RELIABLE_DATA,
				ChannelID: 2,
				Sequence:  42,
				ConnectID: 0xdeadbeef,
				ACKs:      []Acknowledgment{},
				Payload:   []byte("hello"),
			},
		},
		{
			name: "compressed unsequenced packet",
			packet: &Packet{
				Opcode:    P_UNSEQUENCED_DATA,
				Flags:     FlagCompressed,
				ChannelID: 0,
				ConnectID: 1,
				ACKs:      []Acknowledgment{},
				Payload:   []byte{0x01, 0x02},
			},
		},
		{
			name: "connect packet",
			packet: &Packet{
				Opcode:       P_CONNECT,
				ChannelID:    ControlChannelID,
				Sequence:     1,
				ConnectID:    7,
				ChannelCount: 4,
				UserData:     99,
				MTU:          1400,
				ACKs:         []Acknowledgment{},
			},
		},
		{
			name: "disconnect packet",
			packet: &Packet{
				Opcode:    P_DISCONNECT,
				ChannelID: ControlChannelID,
				Sequence:  9,
				ConnectID: 7,
				UserData:  0xffffffff,
				ACKs:      []Acknowledgment{},
			},
		},
		{
			name: "ack packet",
			packet: &Packet{
				Opcode:    P_ACK,
				ChannelID: ControlChannelID,
				ConnectID: 7,
				ACKs: []Acknowledgment{
					{ChannelID: 0, Sequence: 1},
					{ChannelID: 1, Sequence: 17},
					{ChannelID: ControlChannelID, Sequence: 2},
				},
			},
		},
		{
			name: "throttle configure packet",
			packet: &Packet{
				Opcode:               P_THROTTLE_CONFIGURE,
				ChannelID:            ControlChannelID,
				Sequence:             3,
				ConnectID:            7,
				ACKs:                 []Acknowledgment{},
				ThrottleInterval:     5000,
				ThrottleAcceleration: 2,
				ThrottleDeceleration: 2,
			},
		},
		{
			name: "ping packet",
			packet: &Packet{
				Opcode:    P_PING,
				ChannelID: ControlChannelID,
				Sequence:  5,
				ConnectID: 7,
				ACKs:      []Acknowledgment{},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := tt.packet.Bytes()
			if err != nil {
				t.Fatalf("Packet.Bytes() error = %v", err)
			}
			got, err := ParsePacket(wire)
			if err != nil {
				t.Fatalf("ParsePacket() error = %v", err)
			}
			if diff := cmp.Diff(tt.packet, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParsePacket_errors(t *testing.T) {
	tests := []struct {
		name    string
		wire    []byte
		wantErr error
	}{
		{
			name:    "empty buffer",
			wire:    []byte{},
			wantErr: ErrPacketTooShort,
		},
		{
			name:    "truncated header",
			wire:    []byte{byte(P_RELIABLE_DATA), 0, 0, 0, 0},
			wantErr: ErrPacketTooShort,
		},
		{
			name:    "unknown opcode",
			wire:    []byte{0xee, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1},
			wantErr: ErrCorruptPacket,
		},
		{
			name:    "connect with truncated trailer",
			wire:    []byte{byte(P_CONNECT), 0, 0xff, 0, 0, 0, 1, 0, 0, 0, 1},
			wantErr: ErrCorruptPacket,
		},
		{
			name:    "ack announcing more entries than present",
			wire:    []byte{byte(P_ACK), 0, 0xff, 0, 0, 0, 0, 0, 0, 0, 1, 4},
			wantErr: ErrCorruptPacket,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.wire)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParsePacket() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPacket_Bytes_tooManyACKs(t *testing.T) {
	p := NewPacket(P_ACK, ControlChannelID, 1, nil)
	for i := 0; i < 300; i++ {
		p.ACKs = append(p.ACKs, Acknowledgment{ChannelID: 0, Sequence: Sequence(i)})
	}
	if _, err := p.Bytes(); !errors.Is(err, ErrMarshalPacket) {
		t.Errorf("Packet.Bytes() error = %v, want ErrMarshalPacket", err)
	}
}
