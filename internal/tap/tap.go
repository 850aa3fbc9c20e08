// Package tap passively parses both directions of the debugger link
// for diagnosis. Each direction gets its own parser instance, so the
// tap can never perturb the session's framing state. Summaries go to
// plain-text files in the configured directory.
package tap

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/arch/x86/x86asm"

	"github.com/vmexit/winkd/internal/kd"
	"github.com/vmexit/winkd/internal/parser"
)

// Tap observes the byte streams of one session.
type Tap struct {
	kernel *parser.Parser // stub -> debugger
	windbg *parser.Parser // debugger -> stub

	packets *os.File
	api     *os.File
}

// New opens the summary files. id keeps concurrent runs from
// clobbering each other's output.
func New(dir, id string) (*Tap, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tap dir: %w", err)
	}

	packets, err := os.Create(filepath.Join(dir, "winkd_"+id+"_parsed_packets.txt"))
	if err != nil {
		return nil, fmt.Errorf("tap packets file: %w", err)
	}
	api, err := os.Create(filepath.Join(dir, "winkd_"+id+"_parsed_api.txt"))
	if err != nil {
		packets.Close()
		return nil, fmt.Errorf("tap api file: %w", err)
	}

	return &Tap{
		kernel:  parser.New("Kernel"),
		windbg:  parser.New("WinDbg"),
		packets: packets,
		api:     api,
	}, nil
}

// FromKernel observes stub-to-debugger bytes.
func (t *Tap) FromKernel(buf []byte) { t.feed(t.kernel, buf) }

// FromDebugger observes debugger-to-stub bytes.
func (t *Tap) FromDebugger(buf []byte) { t.feed(t.windbg, buf) }

func (t *Tap) feed(p *parser.Parser, buf []byte) {
	for _, b := range buf {
		ev := p.Feed(b)
		if ev == parser.EventNone {
			continue
		}
		t.writePacket(p, ev)
		t.writeAPI(p, ev)
	}
}

func (t *Tap) writePacket(p *parser.Parser, ev parser.Event) {
	fmt.Fprintf(t.packets, "FROM: %s\n", p.Name)

	switch ev {
	case parser.EventBreakin:
		fmt.Fprintf(t.packets, "CATCH BREAKIN BYTE\n")

	case parser.EventUnknownPacket:
		fmt.Fprintf(t.packets, "ERROR: CATCH UNKNOWN PACKET TYPE: 0x%x\n", p.Packet.Type)

	case parser.EventControlPacket:
		fmt.Fprintf(t.packets, "CATCH CONTROL PACKET: %s\n", kd.PacketTypeName(p.Packet.Type))

	case parser.EventDataPacket:
		fmt.Fprintf(t.packets, "CATCH DATA PACKET: %s\n", kd.PacketTypeName(p.Packet.Type))
		fmt.Fprintf(t.packets, "Byte Count: %d\n", p.Packet.ByteCount)
		fmt.Fprintf(t.packets, "Checksum: 0x%08x\n", p.Packet.Checksum)
		if p.Packet.Type == kd.PacketTypeKDStateManipulate {
			fmt.Fprintf(t.packets, "Api: %s\n", kd.APIName(p.Data.APINumber()))
		}
		t.hexDump(p.Data.Buf[:p.Packet.ByteCount])
		if p.Packet.Type == kd.PacketTypeKDStateChange64 {
			t.disasmStream(p)
		}

	case parser.EventError:
		fmt.Fprintf(t.packets, "ERROR: CATCH FRAMING ERROR\n")
	}

	fmt.Fprintln(t.packets)
	t.packets.Sync()
}

func (t *Tap) writeAPI(p *parser.Parser, ev parser.Event) {
	switch ev {
	case parser.EventBreakin:
		fmt.Fprintf(t.api, "%s: BREAKIN BYTE\n", p.Name)

	case parser.EventDataPacket:
		if p.Packet.Type == kd.PacketTypeKDStateManipulate {
			fmt.Fprintf(t.api, "%s: %s\n", p.Name, kd.APIName(p.Data.APINumber()))
		}
	}
	t.api.Sync()
}

func (t *Tap) hexDump(data []byte) {
	for i, b := range data {
		if i%16 == 0 && i > 0 {
			fmt.Fprintln(t.packets)
		}
		fmt.Fprintf(t.packets, "%02x ", b)
	}
	if len(data)%16 == 0 && len(data) > 0 {
		fmt.Fprintln(t.packets)
	}
	fmt.Fprintf(t.packets, "aa\n")
}

// disasmStream decodes the instruction-stream bytes of a state change
// so the trap site is readable without a disassembler at hand.
func (t *Tap) disasmStream(p *parser.Parser) {
	if int(p.Packet.ByteCount) < kd.StateChangeSize {
		return
	}
	stream := p.Data.Buf[kd.ScInstructionStream : kd.ScInstructionStream+16]

	fmt.Fprintf(t.packets, "Instruction Stream:\n")
	for off := 0; off < len(stream); {
		inst, err := x86asm.Decode(stream[off:], 32)
		if err != nil {
			break
		}
		fmt.Fprintf(t.packets, "  +%02d  %s\n", off, x86asm.IntelSyntax(inst, 0, nil))
		off += inst.Len
	}
}

// Close flushes and closes the summary files.
func (t *Tap) Close() {
	t.packets.Close()
	t.api.Close()
}
