package kd

import (
	"encoding/binary"
	"testing"
)

func TestManipulateHeaderFields(t *testing.T) {
	var d PacketData
	binary.LittleEndian.PutUint32(d.Buf[0:], APIReadVirtualMemory)
	binary.LittleEndian.PutUint16(d.Buf[6:], 3)

	if d.APINumber() != APIReadVirtualMemory {
		t.Errorf("APINumber = 0x%x", d.APINumber())
	}
	if d.Processor() != 3 {
		t.Errorf("Processor = %d", d.Processor())
	}

	d.SetReturnStatus(StatusUnsuccessful)
	if d.ReturnStatus() != StatusUnsuccessful {
		t.Errorf("ReturnStatus = 0x%x", d.ReturnStatus())
	}
	if got := binary.LittleEndian.Uint32(d.Buf[8:]); got != StatusUnsuccessful {
		t.Errorf("ReturnStatus not at offset 8: 0x%x", got)
	}
}

func TestReadMemoryUnion(t *testing.T) {
	var d PacketData
	d.SetReadMemory(ReadMemory{
		TargetBaseAddress: 0x80000000,
		TransferCount:     4,
		ActualBytesRead:   4,
	})

	// Union sits at offset 16 of the header.
	if got := binary.LittleEndian.Uint64(d.Buf[16:]); got != 0x80000000 {
		t.Errorf("TargetBaseAddress at 16 = 0x%x", got)
	}
	if got := binary.LittleEndian.Uint32(d.Buf[24:]); got != 4 {
		t.Errorf("TransferCount at 24 = %d", got)
	}

	m := d.ReadMemory()
	if m.TargetBaseAddress != 0x80000000 || m.TransferCount != 4 || m.ActualBytesRead != 4 {
		t.Errorf("round trip mismatch: %+v", m)
	}
}

func TestWriteBreakPointUnion(t *testing.T) {
	var d PacketData
	d.SetWriteBreakPoint(WriteBreakPoint{BreakPointAddress: 0x1000, BreakPointHandle: 7})

	wb := d.WriteBreakPoint()
	if wb.BreakPointAddress != 0x1000 || wb.BreakPointHandle != 7 {
		t.Errorf("round trip mismatch: %+v", wb)
	}
	if got := binary.LittleEndian.Uint32(d.Buf[24:]); got != 7 {
		t.Errorf("handle at union offset 8 = %d", got)
	}
}

func TestContinue2TraceFlag(t *testing.T) {
	var d PacketData
	binary.LittleEndian.PutUint32(d.Buf[16:], 0x00010002) // ContinueStatus
	binary.LittleEndian.PutUint32(d.Buf[20:], 1)          // TraceFlag

	c := d.Continue2()
	if c.ContinueStatus != 0x00010002 {
		t.Errorf("ContinueStatus = 0x%x", c.ContinueStatus)
	}
	if c.TraceFlag != 1 {
		t.Errorf("TraceFlag = %d", c.TraceFlag)
	}
}

func TestQueryMemoryUnion(t *testing.T) {
	var d PacketData
	d.SetQueryMemory(QueryMemory{
		Address: 0x80340000,
		Flags:   QueryMemoryRead | QueryMemoryWrite | QueryMemoryExecute,
	})

	qm := d.QueryMemory()
	if qm.Address != 0x80340000 {
		t.Errorf("Address = 0x%x", qm.Address)
	}
	if qm.Flags != 7 {
		t.Errorf("Flags = %d", qm.Flags)
	}
}

func TestPayloadBounds(t *testing.T) {
	var d PacketData
	d.Extra = 4
	copy(d.Buf[M64Size:], []byte{1, 2, 3, 4, 5})

	p := d.Payload()
	if len(p) != 4 {
		t.Fatalf("payload len = %d, want 4", len(p))
	}
	if p[3] != 4 {
		t.Error("payload should start at the end of the header")
	}
}
