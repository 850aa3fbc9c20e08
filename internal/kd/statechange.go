package kd

import "encoding/binary"

// ProcessorLevelP6 is the processor level reported in state changes.
const ProcessorLevelP6 = 6

// ExceptionRecord64 is the 152-byte EXCEPTION_RECORD64 carried by an
// exception state change. Fields the kernel does not supply stay zero.
type ExceptionRecord64 struct {
	ExceptionCode    uint32
	ExceptionFlags   uint32
	ExceptionRecord  uint64
	ExceptionAddress uint64
	NumberParameters uint32

	ExceptionInformation [15]uint64
}

// ControlReport is the x86 DBGKD_CONTROL_REPORT.
type ControlReport struct {
	Dr6              uint32
	Dr7              uint32
	InstructionCount uint16
	ReportFlags      uint16

	InstructionStream [16]byte

	SegCs  uint16
	SegDs  uint16
	SegEs  uint16
	SegFs  uint16
	EFlags uint32
}

// LoadSymbols64 is DBGKD_LOAD_SYMBOLS64; the path text follows the
// state-change structure on the wire.
type LoadSymbols64 struct {
	PathNameLength uint32
	BaseOfDll      uint64
	ProcessID      uint64
	CheckSum       uint32
	SizeOfImage    uint32
	UnloadSymbols  bool
}

// StateChange is DBGKD_ANY_WAIT_STATE_CHANGE (240 bytes): a 32-byte
// header, the exception/load-symbols union at offset 32, and the
// control report at offset 192.
type StateChange struct {
	NewState         uint32
	ProcessorLevel   uint16
	Processor        uint16
	NumberProcessors uint32
	Thread           uint64
	ProgramCounter   uint64

	Exception   ExceptionRecord64
	FirstChance uint32
	LoadSymbols LoadSymbols64

	ControlReport ControlReport
}

// Union and control-report offsets within the serialized structure.
const (
	scUnion         = 32
	scFirstChance   = 32 + 152
	scControlReport = 192

	// ScInstructionStream locates the instruction stream bytes within
	// the serialized state change; the tap disassembles them.
	ScInstructionStream = scControlReport + 12
)

// Encode serializes the state change little-endian. Which union arm is
// written follows NewState.
func (s *StateChange) Encode() []byte {
	buf := make([]byte, StateChangeSize)
	le := binary.LittleEndian

	le.PutUint32(buf[0:], s.NewState)
	le.PutUint16(buf[4:], s.ProcessorLevel)
	le.PutUint16(buf[6:], s.Processor)
	le.PutUint32(buf[8:], s.NumberProcessors)
	le.PutUint64(buf[16:], s.Thread)
	le.PutUint64(buf[24:], s.ProgramCounter)

	switch s.NewState {
	case LoadSymbolsStateChange:
		u := buf[scUnion:]
		le.PutUint32(u[0:], s.LoadSymbols.PathNameLength)
		le.PutUint64(u[8:], s.LoadSymbols.BaseOfDll)
		le.PutUint64(u[16:], s.LoadSymbols.ProcessID)
		le.PutUint32(u[24:], s.LoadSymbols.CheckSum)
		le.PutUint32(u[28:], s.LoadSymbols.SizeOfImage)
		if s.LoadSymbols.UnloadSymbols {
			u[32] = 1
		}
	default:
		u := buf[scUnion:]
		le.PutUint32(u[0:], s.Exception.ExceptionCode)
		le.PutUint32(u[4:], s.Exception.ExceptionFlags)
		le.PutUint64(u[8:], s.Exception.ExceptionRecord)
		le.PutUint64(u[16:], s.Exception.ExceptionAddress)
		le.PutUint32(u[24:], s.Exception.NumberParameters)
		for i, info := range s.Exception.ExceptionInformation {
			le.PutUint64(u[32+i*8:], info)
		}
		le.PutUint32(buf[scFirstChance:], s.FirstChance)
	}

	cr := buf[scControlReport:]
	le.PutUint32(cr[0:], s.ControlReport.Dr6)
	le.PutUint32(cr[4:], s.ControlReport.Dr7)
	le.PutUint16(cr[8:], s.ControlReport.InstructionCount)
	le.PutUint16(cr[10:], s.ControlReport.ReportFlags)
	copy(cr[12:28], s.ControlReport.InstructionStream[:])
	le.PutUint16(cr[28:], s.ControlReport.SegCs)
	le.PutUint16(cr[30:], s.ControlReport.SegDs)
	le.PutUint16(cr[32:], s.ControlReport.SegEs)
	le.PutUint16(cr[34:], s.ControlReport.SegFs)
	le.PutUint32(cr[36:], s.ControlReport.EFlags)

	return buf
}
