package kd

import (
	"encoding/binary"
	"fmt"
)

// Packet is the 16-byte KD packet header. A data packet (leader
// '0000') is followed by ByteCount payload bytes and a trailing 0xAA;
// a control packet (leader 'iiii') carries neither.
type Packet struct {
	Leader    uint32
	Type      uint16
	ByteCount uint16
	ID        uint32
	Checksum  uint32
}

// Encode serializes the header little-endian.
func (p Packet) Encode() []byte {
	buf := make([]byte, PacketHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], p.Leader)
	binary.LittleEndian.PutUint16(buf[4:], p.Type)
	binary.LittleEndian.PutUint16(buf[6:], p.ByteCount)
	binary.LittleEndian.PutUint32(buf[8:], p.ID)
	binary.LittleEndian.PutUint32(buf[12:], p.Checksum)
	return buf
}

// DecodePacket parses a 16-byte header.
func DecodePacket(buf []byte) (Packet, error) {
	if len(buf) < PacketHeaderSize {
		return Packet{}, fmt.Errorf("packet header: need %d bytes, have %d", PacketHeaderSize, len(buf))
	}
	return Packet{
		Leader:    binary.LittleEndian.Uint32(buf[0:]),
		Type:      binary.LittleEndian.Uint16(buf[4:]),
		ByteCount: binary.LittleEndian.Uint16(buf[6:]),
		ID:        binary.LittleEndian.Uint32(buf[8:]),
		Checksum:  binary.LittleEndian.Uint32(buf[12:]),
	}, nil
}

// Checksum is the KD payload checksum: an unsigned 32-bit sum of the
// payload bytes. The header is not included; control packets carry 0.
func Checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}
