// Package parser turns the raw KD byte stream into framed packet
// events. One Parser instance consumes one direction of traffic; the
// session owns one for the debugger link and the debug tap owns its
// own pair, so observing a stream never perturbs another parser.
package parser

import "github.com/vmexit/winkd/internal/kd"

// State is the field currently being filled.
type State int

const (
	StateLeader State = iota
	StatePacketType
	StateByteCount
	StatePacketID
	StateChecksum
	StateData
	StateTrailing
)

// Event is what one consumed byte produced.
type Event int

const (
	EventNone Event = iota
	EventBreakin
	EventUnknownPacket
	EventControlPacket
	EventDataPacket
	EventError
)

// Parser is the framing state machine. It never allocates per byte;
// data payload accumulates directly in Data.Buf.
type Parser struct {
	Name string

	Packet kd.Packet
	Data   kd.PacketData

	state State
	index int
	field [4]byte
}

// New creates a parser named for the direction it observes.
func New(name string) *Parser {
	return &Parser{Name: name}
}

// State returns the current machine state.
func (p *Parser) State() State {
	return p.state
}

// Feed consumes one byte and returns the event it completed, or
// EventNone. On EventControlPacket and EventDataPacket the Packet
// header (and for data packets, Data.Buf) hold the framed packet; on
// any terminal event the machine is back in StateLeader.
func (p *Parser) Feed(b byte) Event {
	switch p.state {
	case StateLeader:
		if b == kd.PacketLeaderByte || b == kd.ControlPacketLeaderByte {
			if p.index > 0 && b != p.field[0] {
				p.index = 0
			}
			p.field[p.index] = b
			p.index++
			if p.index == 4 {
				p.Packet.Leader = le32(p.field[:])
				p.state = StatePacketType
				p.index = 0
			}
		} else if b == kd.BreakinPacketByte {
			p.index = 0
			return EventBreakin
		} else {
			p.index = 0
		}

	case StatePacketType:
		p.field[p.index] = b
		p.index++
		if p.index == 2 {
			p.Packet.Type = le16(p.field[:])
			p.index = 0
			if p.Packet.Type >= kd.PacketTypeMax {
				p.state = StateLeader
				return EventUnknownPacket
			}
			p.state = StateByteCount
		}

	case StateByteCount:
		p.field[p.index] = b
		p.index++
		if p.index == 2 {
			p.Packet.ByteCount = le16(p.field[:])
			p.state = StatePacketID
			p.index = 0
		}

	case StatePacketID:
		p.field[p.index] = b
		p.index++
		if p.index == 4 {
			p.Packet.ID = le32(p.field[:])
			p.state = StateChecksum
			p.index = 0
		}

	case StateChecksum:
		p.field[p.index] = b
		p.index++
		if p.index == 4 {
			p.Packet.Checksum = le32(p.field[:])
			p.index = 0
			if p.Packet.Leader == kd.ControlPacketLeader {
				p.state = StateLeader
				return EventControlPacket
			}
			if p.Packet.ByteCount > kd.PacketMaxSize {
				p.state = StateLeader
				return EventError
			}
			if p.Packet.ByteCount == 0 {
				p.state = StateTrailing
			} else {
				p.state = StateData
			}
		}

	case StateData:
		p.Data.Buf[p.index] = b
		p.index++
		if p.index == int(p.Packet.ByteCount) {
			p.state = StateTrailing
			p.index = 0
		}

	case StateTrailing:
		p.state = StateLeader
		p.index = 0
		if b == kd.PacketTrailingByte {
			return EventDataPacket
		}
		return EventError
	}

	return EventNone
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
