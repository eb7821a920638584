package channel

import (
	"reflect"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/renet-go/renet/internal/model"
)

//
// tests for the reorder buffer
//

func Test_New(t *testing.T) {
	c := New(3, log.Log)
	if c.ID() != 3 {
		t.Errorf("New() should set the channel ID")
	}
	if c.logger == nil {
		t.Errorf("New() should not have nil logger")
	}
	if c.lastDelivered != 0 {
		t.Errorf("New() should have lastDelivered == 0")
	}
}

func Test_Channel_ReceiveReliable(t *testing.T) {
	if testing.Verbose() {
		log.SetLevel(log.DebugLevel)
	}

	type fields struct {
		lastDelivered model.Sequence
		incoming      incomingSequence
	}
	type args struct {
		p *model.Packet
	}
	tests := []struct {
		name         string
		fields       fields
		args         args
		wantInserted bool
		wantACK      bool
	}{
		{
			name: "empty incoming, insert one",
			fields: fields{
				incoming: incomingSequence{},
			},
			args:         args{&model.Packet{Opcode: model.P_RELIABLE_DATA, Sequence: 1}},
			wantInserted: true,
			wantACK:      true,
		},
		{
			name: "duplicate of a queued packet",
			fields: fields{
				incoming: incomingSequence{{Sequence: 2}},
			},
			args:         args{&model.Packet{Opcode: model.P_RELIABLE_DATA, Sequence: 2}},
			wantInserted: false,
			wantACK:      true,
		},
		{
			name: "duplicate of an already delivered packet",
			fields: fields{
				lastDelivered: 5,
				incoming:      incomingSequence{},
			},
			args:         args{&model.Packet{Opcode: model.P_RELIABLE_DATA, Sequence: 3}},
			wantInserted: false,
			wantACK:      true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(0, log.Log)
			c.lastDelivered = tt.fields.lastDelivered
			c.incoming = tt.fields.incoming
			inserted, ack := c.ReceiveReliable(tt.args.p)
			if inserted != tt.wantInserted {
				t.Errorf("Channel.ReceiveReliable() inserted = %v, want %v", inserted, tt.wantInserted)
			}
			if ack != tt.wantACK {
				t.Errorf("Channel.ReceiveReliable() ack = %v, want %v", ack, tt.wantACK)
			}
		})
	}
}

func Test_Channel_ReceiveReliable_bufferFull(t *testing.T) {
	c := New(0, log.Log)
	for i := 0; i < RECV_BUFFER_SIZE; i++ {
		c.incoming = append(c.incoming, &model.Packet{Sequence: model.Sequence(i + 2)})
	}
	inserted, ack := c.ReceiveReliable(&model.Packet{
		Opcode:   model.P_RELIABLE_DATA,
		Sequence: RECV_BUFFER_SIZE + 2,
	})
	if inserted || ack {
		t.Errorf("Channel.ReceiveReliable() on a full buffer = (%v, %v), want (false, false)", inserted, ack)
	}
}

func Test_Channel_NextDeliverable(t *testing.T) {
	if testing.Verbose() {
		log.SetLevel(log.DebugLevel)
	}

	type fields struct {
		lastDelivered model.Sequence
		incoming      incomingSequence
	}
	tests := []struct {
		name   string
		fields fields
		want   []model.Sequence
	}{
		{
			name: "empty sequence",
			fields: fields{
				incoming:      incomingSequence{},
				lastDelivered: 0,
			},
			want: []model.Sequence{},
		},
		{
			name: "single packet",
			fields: fields{
				lastDelivered: 0,
				incoming:      incomingSequence{{Sequence: 1}},
			},
			want: []model.Sequence{1},
		},
		{
			name: "series of sequential packets",
			fields: fields{
				lastDelivered: 0,
				incoming:      incomingSequence{{Sequence: 1}, {Sequence: 2}, {Sequence: 3}},
			},
			want: []model.Sequence{1, 2, 3},
		},
		{
			name: "series of sequential packets with hole",
			fields: fields{
				lastDelivered: 0,
				incoming:      incomingSequence{{Sequence: 1}, {Sequence: 2}, {Sequence: 3}, {Sequence: 5}},
			},
			want: []model.Sequence{1, 2, 3},
		},
		{
			name: "out-of-order arrivals are sorted before release",
			fields: fields{
				lastDelivered: 0,
				incoming:      incomingSequence{{Sequence: 3}, {Sequence: 1}, {Sequence: 2}},
			},
			want: []model.Sequence{1, 2, 3},
		},
		{
			name: "packets below lastDelivered are dropped",
			fields: fields{
				lastDelivered: 10,
				incoming:      incomingSequence{{Sequence: 1}, {Sequence: 2}, {Sequence: 11}, {Sequence: 12}, {Sequence: 20}},
			},
			want: []model.Sequence{11, 12},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(0, log.Log)
			c.lastDelivered = tt.fields.lastDelivered
			c.incoming = tt.fields.incoming
			got := []model.Sequence{}
			for _, p := range c.NextDeliverable() {
				got = append(got, p.Sequence)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Channel.NextDeliverable() = %v, want %v", got, tt.want)
			}
		})
	}
}

//
// tests for the outgoing path
//

func Test_Channel_QueueOutgoing_assignsSequences(t *testing.T) {
	c := New(0, log.Log)
	for i := 1; i <= 3; i++ {
		p := &model.Packet{Opcode: model.P_RELIABLE_DATA}
		if err := c.QueueOutgoing(p); err != nil {
			t.Fatalf("QueueOutgoing() error = %v", err)
		}
		if p.Sequence != model.Sequence(i) {
			t.Errorf("QueueOutgoing() assigned seq %v, want %v", p.Sequence, i)
		}
	}

	// unreliable packets use an independent sequence space.
	p := &model.Packet{Opcode: model.P_UNRELIABLE_DATA}
	if err := c.QueueOutgoing(p); err != nil {
		t.Fatalf("QueueOutgoing() error = %v", err)
	}
	if p.Sequence != 1 {
		t.Errorf("QueueOutgoing() unreliable seq = %v, want 1", p.Sequence)
	}

	// unsequenced packets carry no sequence number.
	p = &model.Packet{Opcode: model.P_UNSEQUENCED_DATA}
	if err := c.QueueOutgoing(p); err != nil {
		t.Fatalf("QueueOutgoing() error = %v", err)
	}
	if p.Sequence != 0 {
		t.Errorf("QueueOutgoing() unsequenced seq = %v, want 0", p.Sequence)
	}
}

func Test_Channel_QueueOutgoing_bufferFull(t *testing.T) {
	c := New(0, log.Log)
	for i := 0; i < SEND_BUFFER_SIZE; i++ {
		if err := c.QueueOutgoing(&model.Packet{Opcode: model.P_RELIABLE_DATA}); err != nil {
			t.Fatalf("QueueOutgoing() error = %v", err)
		}
	}
	err := c.QueueOutgoing(&model.Packet{Opcode: model.P_RELIABLE_DATA})
	if err != ErrBufferFull {
		t.Errorf("QueueOutgoing() on a full buffer = %v, want ErrBufferFull", err)
	}
}

func Test_Channel_Acknowledge(t *testing.T) {
	c := New(0, log.Log)
	now := time.Now()
	for i := 0; i < 4; i++ {
		p := &model.Packet{Opcode: model.P_RELIABLE_DATA}
		if err := c.QueueOutgoing(p); err != nil {
			t.Fatal(err)
		}
		c.PopOutgoing()
		c.TrackInFlight(p, now, 100*time.Millisecond, time.Second)
	}

	// ack the second packet: it gets evicted, the first one gets bumped.
	evicted, ok := c.Acknowledge(2)
	if !ok {
		t.Fatal("Acknowledge() did not evict")
	}
	if evicted.Packet().Sequence != 2 {
		t.Errorf("Acknowledge() evicted seq %v, want 2", evicted.Packet().Sequence)
	}
	if len(c.inFlight) != 3 {
		t.Errorf("len(inFlight) = %v, want 3", len(c.inFlight))
	}
	if c.inFlight[0].higherACKs != 1 {
		t.Errorf("first packet higherACKs = %v, want 1", c.inFlight[0].higherACKs)
	}

	// a duplicate ack evicts nothing.
	if _, ok := c.Acknowledge(2); ok {
		t.Error("duplicate Acknowledge() should not evict")
	}
}

func Test_Channel_fastRetransmit(t *testing.T) {
	c := New(0, log.Log)
	now := time.Now()
	p := &model.Packet{Opcode: model.P_RELIABLE_DATA}
	if err := c.QueueOutgoing(p); err != nil {
		t.Fatal(err)
	}
	c.PopOutgoing()
	c.TrackInFlight(p, now, time.Hour, time.Hour)

	for i := 0; i < FAST_RETRANSMIT_ACKS; i++ {
		c.Acknowledge(model.Sequence(100 + i))
	}
	ready := c.ReadyToRetransmit(now)
	if len(ready) != 1 {
		t.Errorf("ReadyToRetransmit() after %d higher ACKs = %d packets, want 1",
			FAST_RETRANSMIT_ACKS, len(ready))
	}
}

func Test_Channel_ReceiveUnreliable(t *testing.T) {
	c := New(0, log.Log)

	if !c.ReceiveUnreliable(&model.Packet{Sequence: 5}) {
		t.Error("first packet should be delivered")
	}
	if c.ReceiveUnreliable(&model.Packet{Sequence: 5}) {
		t.Error("duplicate should be dropped")
	}
	if c.ReceiveUnreliable(&model.Packet{Sequence: 3}) {
		t.Error("stale packet should be dropped")
	}
	if !c.ReceiveUnreliable(&model.Packet{Sequence: 6}) {
		t.Error("newer packet should be delivered")
	}
}

func Test_Channel_PendingReliable(t *testing.T) {
	c := New(0, log.Log)
	if c.PendingReliable() {
		t.Error("new channel should have no pending reliable data")
	}
	p := &model.Packet{Opcode: model.P_RELIABLE_DATA}
	if err := c.QueueOutgoing(p); err != nil {
		t.Fatal(err)
	}
	if !c.PendingReliable() {
		t.Error("queued reliable packet should count as pending")
	}
	c.PopOutgoing()
	c.TrackInFlight(p, time.Now(), 100*time.Millisecond, time.Second)
	if !c.PendingReliable() {
		t.Error("in-flight packet should count as pending")
	}
	c.Acknowledge(p.Sequence)
	if c.PendingReliable() {
		t.Error("acknowledged packet should not count as pending")
	}
}

func Test_InFlightPacket_backoff(t *testing.T) {
	p := newInFlightPacket(&model.Packet{Opcode: model.P_RELIABLE_DATA, Sequence: 1})
	now := time.Now()

	p.ScheduleForRetransmission(now, 100*time.Millisecond, time.Second)
	if got := p.deadline.Sub(now); got != 100*time.Millisecond {
		t.Errorf("first deadline = %v, want 100ms", got)
	}
	p.ScheduleForRetransmission(now, 100*time.Millisecond, time.Second)
	if got := p.deadline.Sub(now); got != 200*time.Millisecond {
		t.Errorf("second deadline = %v, want 200ms", got)
	}
	for i := 0; i < 8; i++ {
		p.ScheduleForRetransmission(now, 100*time.Millisecond, time.Second)
	}
	if got := p.deadline.Sub(now); got != time.Second {
		t.Errorf("capped deadline = %v, want 1s", got)
	}
	if p.FirstSentTime() != now {
		t.Errorf("FirstSentTime() should stick to the first transmission")
	}
}
