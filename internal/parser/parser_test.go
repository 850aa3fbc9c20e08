package parser

import (
	"testing"

	"github.com/vmexit/winkd/internal/kd"
)

// feed pushes bytes and returns every non-None event in order.
func feed(p *Parser, bytes []byte) []Event {
	var events []Event
	for _, b := range bytes {
		if ev := p.Feed(b); ev != EventNone {
			events = append(events, ev)
		}
	}
	return events
}

func controlPacket(typ uint16, id uint32) []byte {
	return kd.Packet{Leader: kd.ControlPacketLeader, Type: typ, ID: id}.Encode()
}

func dataPacket(typ uint16, id uint32, payload []byte) []byte {
	pkt := kd.Packet{
		Leader:    kd.PacketLeader,
		Type:      typ,
		ByteCount: uint16(len(payload)),
		ID:        id,
		Checksum:  kd.Checksum(payload),
	}
	out := pkt.Encode()
	out = append(out, payload...)
	return append(out, kd.PacketTrailingByte)
}

func TestControlPacket(t *testing.T) {
	p := New("test")
	events := feed(p, controlPacket(kd.PacketTypeKDAcknowledge, 0x80800000))

	if len(events) != 1 || events[0] != EventControlPacket {
		t.Fatalf("events = %v, want one EventControlPacket", events)
	}
	if p.Packet.Type != kd.PacketTypeKDAcknowledge {
		t.Errorf("type = %d", p.Packet.Type)
	}
	if p.Packet.ID != 0x80800000 {
		t.Errorf("id = 0x%x", p.Packet.ID)
	}
	if p.State() != StateLeader {
		t.Error("parser should be back in leader state")
	}
}

func TestDataPacket(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	p := New("test")
	events := feed(p, dataPacket(kd.PacketTypeKDStateManipulate, 0x80800800, payload))

	if len(events) != 1 || events[0] != EventDataPacket {
		t.Fatalf("events = %v, want one EventDataPacket", events)
	}
	if p.Packet.ByteCount != 4 {
		t.Errorf("byte count = %d", p.Packet.ByteCount)
	}
	for i, b := range payload {
		if p.Data.Buf[i] != b {
			t.Errorf("payload[%d] = 0x%x, want 0x%x", i, p.Data.Buf[i], b)
		}
	}
}

func TestBreakinByte(t *testing.T) {
	p := New("test")
	if ev := p.Feed(kd.BreakinPacketByte); ev != EventBreakin {
		t.Errorf("event = %v, want EventBreakin", ev)
	}
	if p.State() != StateLeader {
		t.Error("break-in should leave the parser in leader state")
	}
}

// A break-in byte inside a payload is data, not an interrupt.
func TestBreakinByteInPayload(t *testing.T) {
	payload := []byte{kd.BreakinPacketByte, kd.BreakinPacketByte}
	p := New("test")
	events := feed(p, dataPacket(kd.PacketTypeKDStateManipulate, 0, payload))

	if len(events) != 1 || events[0] != EventDataPacket {
		t.Fatalf("events = %v, want one EventDataPacket", events)
	}
	if p.Data.Buf[0] != kd.BreakinPacketByte {
		t.Error("break-in byte should have been consumed as payload")
	}
}

// Framing recovery: a partial data leader followed by a full control
// leader resynchronizes on the control packet.
func TestLeaderResync(t *testing.T) {
	stream := []byte{0x30, 0x30, 0x69, 0x69, 0x69, 0x69}
	stream = append(stream, 0x04, 0x00)             // type KD_ACKNOWLEDGE
	stream = append(stream, 0x00, 0x00)             // byte count
	stream = append(stream, 0x00, 0x00, 0x00, 0x00) // id
	stream = append(stream, 0x00, 0x00, 0x00, 0x00) // checksum

	p := New("test")
	events := feed(p, stream)

	if len(events) != 1 || events[0] != EventControlPacket {
		t.Fatalf("events = %v, want one EventControlPacket", events)
	}
	if p.Packet.Type != kd.PacketTypeKDAcknowledge {
		t.Errorf("type = %d, want acknowledge", p.Packet.Type)
	}
	if p.Packet.Leader != kd.ControlPacketLeader {
		t.Errorf("leader = 0x%x", p.Packet.Leader)
	}
}

func TestGarbageIgnored(t *testing.T) {
	p := New("test")
	events := feed(p, []byte{0x00, 0xFF, 0x41, 0x42, 0x30, 0x30, 0x00})
	if len(events) != 0 {
		t.Errorf("garbage produced events: %v", events)
	}

	// The truncated leader above must not poison a following packet.
	events = feed(p, controlPacket(kd.PacketTypeKDReset, 0))
	if len(events) != 1 || events[0] != EventControlPacket {
		t.Errorf("events after garbage = %v", events)
	}
}

func TestUnknownPacketType(t *testing.T) {
	pkt := kd.Packet{Leader: kd.PacketLeader, Type: kd.PacketTypeMax}
	p := New("test")
	events := feed(p, pkt.Encode()[:6]) // leader + type only

	if len(events) != 1 || events[0] != EventUnknownPacket {
		t.Fatalf("events = %v, want one EventUnknownPacket", events)
	}
	if p.State() != StateLeader {
		t.Error("unknown type should reset to leader state")
	}
}

func TestOversizedByteCount(t *testing.T) {
	pkt := kd.Packet{
		Leader:    kd.PacketLeader,
		Type:      kd.PacketTypeKDStateManipulate,
		ByteCount: kd.PacketMaxSize + 1,
	}
	p := New("test")
	events := feed(p, pkt.Encode())

	if len(events) != 1 || events[0] != EventError {
		t.Fatalf("events = %v, want one EventError", events)
	}
}

func TestMaxByteCountAccepted(t *testing.T) {
	payload := make([]byte, kd.PacketMaxSize)
	p := New("test")
	events := feed(p, dataPacket(kd.PacketTypeKDStateManipulate, 0, payload))

	if len(events) != 1 || events[0] != EventDataPacket {
		t.Fatalf("events = %v, want one EventDataPacket", events)
	}
}

// ByteCount zero goes straight from checksum to the trailing byte.
func TestEmptyDataPacket(t *testing.T) {
	p := New("test")
	events := feed(p, dataPacket(kd.PacketTypeKDStateManipulate, 0, nil))

	if len(events) != 1 || events[0] != EventDataPacket {
		t.Fatalf("events = %v, want one EventDataPacket", events)
	}
}

func TestBadTrailingByte(t *testing.T) {
	stream := dataPacket(kd.PacketTypeKDStateManipulate, 0, []byte{1})
	stream[len(stream)-1] = 0x00

	p := New("test")
	events := feed(p, stream)
	if len(events) != 1 || events[0] != EventError {
		t.Fatalf("events = %v, want one EventError", events)
	}
	if p.State() != StateLeader {
		t.Error("error should reset to leader state")
	}
}

func TestBackToBackPackets(t *testing.T) {
	stream := dataPacket(kd.PacketTypeKDStateManipulate, 0, []byte{1, 2})
	stream = append(stream, controlPacket(kd.PacketTypeKDAcknowledge, 0)...)
	stream = append(stream, kd.BreakinPacketByte)

	p := New("test")
	events := feed(p, stream)

	want := []Event{EventDataPacket, EventControlPacket, EventBreakin}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, events[i], want[i])
		}
	}
}
