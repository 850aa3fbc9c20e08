package kd

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"empty", nil, 0},
		{"single", []byte{0xAA}, 0xAA},
		{"sum", []byte{0x01, 0x02, 0x03}, 6},
		{"high bytes", []byte{0xFF, 0xFF, 0xFF, 0xFF}, 4 * 0xFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum(%v) = %d, want %d", tt.data, got, tt.want)
			}
		})
	}
}

func TestChecksumLarge(t *testing.T) {
	data := make([]byte, PacketMaxSize)
	for i := range data {
		data[i] = 0xFF
	}
	want := uint32(PacketMaxSize) * 0xFF
	if got := Checksum(data); got != want {
		t.Errorf("Checksum(max payload) = %d, want %d", got, want)
	}
}

func TestPacketEncodeLayout(t *testing.T) {
	p := Packet{
		Leader:    PacketLeader,
		Type:      PacketTypeKDStateManipulate,
		ByteCount: 0x1234,
		ID:        InitialPacketID,
		Checksum:  0xDEADBEEF,
	}
	buf := p.Encode()

	want := []byte{
		0x30, 0x30, 0x30, 0x30, // leader
		0x02, 0x00, // type
		0x34, 0x12, // byte count
		0x00, 0x00, 0x80, 0x80, // id
		0xEF, 0xBE, 0xAD, 0xDE, // checksum
	}
	if diff := cmp.Diff(want, buf); diff != "" {
		t.Errorf("header bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	packets := []Packet{
		{Leader: PacketLeader, Type: PacketTypeKDStateChange64, ByteCount: 244, ID: InitialPacketID | SyncPacketID, Checksum: 42},
		{Leader: ControlPacketLeader, Type: PacketTypeKDAcknowledge, ID: ResetPacketID},
		{Leader: ControlPacketLeader, Type: PacketTypeKDResend},
	}
	for _, p := range packets {
		got, err := DecodePacket(p.Encode())
		if err != nil {
			t.Fatalf("DecodePacket: %v", err)
		}
		if got != p {
			t.Errorf("round trip: got %+v, want %+v", got, p)
		}
	}
}

func TestDecodePacketShort(t *testing.T) {
	if _, err := DecodePacket(make([]byte, 15)); err == nil {
		t.Error("expected error for short header")
	}
}
