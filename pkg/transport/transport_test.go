package transport_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/renet-go/renet/pkg/config"
	"github.com/renet-go/renet/pkg/transport"
)

// TestLoopbackSession runs a full session over real UDP sockets on the
// loopback interface: handshake, a reliable echo, graceful disconnect.
func TestLoopbackSession(t *testing.T) {
	server, err := transport.NewHost(
		config.WithBindAddress("127.0.0.1:0"),
		config.WithPeerCount(8),
	)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer server.Close()

	client, err := transport.NewHost(config.WithBindAddress("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer client.Close()

	peer, err := client.Connect(server.Address().String(), 1, 0)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var (
		connected    bool
		echoed       bool
		disconnected bool
	)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && !disconnected {
		ev, err := server.Service(time.Millisecond)
		if err != nil {
			t.Fatalf("server Service: %v", err)
		}
		if ev != nil && ev.Type == transport.EventReceive {
			if err := ev.Peer.Send(ev.Data, ev.ChannelID, transport.DeliveryReliable); err != nil {
				t.Fatalf("echo Send: %v", err)
			}
		}

		ev, err = client.Service(time.Millisecond)
		if err != nil {
			t.Fatalf("client Service: %v", err)
		}
		if ev == nil {
			continue
		}
		switch ev.Type {
		case transport.EventConnect:
			connected = true
			if err := peer.Send([]byte("marco"), 0, transport.DeliveryReliable); err != nil {
				t.Fatalf("Send: %v", err)
			}
		case transport.EventReceive:
			if !bytes.Equal(ev.Data, []byte("marco")) {
				t.Fatalf("echo mismatch: %q", ev.Data)
			}
			echoed = true
			if err := peer.Disconnect(0); err != nil {
				t.Fatalf("Disconnect: %v", err)
			}
		case transport.EventDisconnect:
			disconnected = true
		}
	}

	if !connected || !echoed || !disconnected {
		t.Fatalf("session incomplete: connected=%v echoed=%v disconnected=%v",
			connected, echoed, disconnected)
	}
	if got := peer.State(); got != transport.StateDisconnected {
		t.Errorf("peer state: got %v, want %v", got, transport.StateDisconnected)
	}
}
