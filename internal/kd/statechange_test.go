package kd

import (
	"encoding/binary"
	"testing"
)

func TestExceptionStateChangeLayout(t *testing.T) {
	sc := StateChange{
		NewState:         ExceptionStateChange,
		ProcessorLevel:   ProcessorLevelP6,
		Processor:        0,
		NumberProcessors: 1,
		Thread:           0x8055A000,
		ProgramCounter:   0x80100000,
		FirstChance:      1,
	}
	sc.Exception.ExceptionCode = StatusBreakpoint
	sc.Exception.ExceptionAddress = 0x80100000
	sc.ControlReport.Dr7 = 0x400
	sc.ControlReport.EFlags = 0x246
	sc.ControlReport.SegCs = 0x08
	copy(sc.ControlReport.InstructionStream[:], []byte{0xCC, 0x90})

	buf := sc.Encode()
	if len(buf) != StateChangeSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), StateChangeSize)
	}

	le := binary.LittleEndian
	if got := le.Uint32(buf[0:]); got != ExceptionStateChange {
		t.Errorf("NewState = 0x%x", got)
	}
	if got := le.Uint16(buf[4:]); got != ProcessorLevelP6 {
		t.Errorf("ProcessorLevel = %d", got)
	}
	if got := le.Uint64(buf[16:]); got != 0x8055A000 {
		t.Errorf("Thread = 0x%x", got)
	}
	if got := le.Uint64(buf[24:]); got != 0x80100000 {
		t.Errorf("ProgramCounter = 0x%x", got)
	}
	if got := le.Uint32(buf[32:]); got != StatusBreakpoint {
		t.Errorf("ExceptionCode at union offset = 0x%x", got)
	}
	if got := le.Uint64(buf[48:]); got != 0x80100000 {
		t.Errorf("ExceptionAddress = 0x%x", got)
	}
	if got := le.Uint32(buf[184:]); got != 1 {
		t.Errorf("FirstChance at 184 = %d", got)
	}
	if got := le.Uint32(buf[196:]); got != 0x400 {
		t.Errorf("ControlReport.Dr7 at 196 = 0x%x", got)
	}
	if buf[ScInstructionStream] != 0xCC || buf[ScInstructionStream+1] != 0x90 {
		t.Error("instruction stream not at control-report offset")
	}
	if got := le.Uint32(buf[228:]); got != 0x246 {
		t.Errorf("ControlReport.EFlags at 228 = 0x%x", got)
	}
}

func TestLoadSymbolsStateChangeLayout(t *testing.T) {
	sc := StateChange{
		NewState:       LoadSymbolsStateChange,
		ProcessorLevel: ProcessorLevelP6,
	}
	sc.LoadSymbols.PathNameLength = 31

	buf := sc.Encode()
	le := binary.LittleEndian

	if got := le.Uint32(buf[32:]); got != 31 {
		t.Errorf("PathNameLength at union offset = %d, want 31", got)
	}
	// The exception arm must not bleed into a load-symbols encoding.
	if got := le.Uint32(buf[184:]); got != 0 {
		t.Errorf("FirstChance should be zero, got %d", got)
	}
}
