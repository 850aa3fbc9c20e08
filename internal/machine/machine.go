// Package machine defines the narrow interface the KD stub consumes
// from its host emulator: guest memory and register access, code
// breakpoints and data watchpoints, and VM run control. The production
// implementation wraps Unicorn (internal/emulator); tests use the
// in-memory mock.
package machine

// WatchFlags tags a breakpoint or watchpoint with its access kind and
// owner. The owner bit keeps this stub's entries distinct from any
// other debug client cohabiting the emulator.
type WatchFlags uint32

const (
	WatchRead   WatchFlags = 0x01
	WatchWrite  WatchFlags = 0x02
	WatchAccess WatchFlags = WatchRead | WatchWrite

	// OwnerKD marks entries owned by the KD stub.
	OwnerKD WatchFlags = 0x10
)

// StopReason is passed to Stop.
type StopReason int

const (
	StopPaused StopReason = iota
	StopBreakpoint
	StopWatchpoint
)

// Seg is one segment register: selector plus cached base and limit.
type Seg struct {
	Selector uint16
	Base     uint32
	Limit    uint32
}

// DescTable is a descriptor-table register (GDTR or IDTR).
type DescTable struct {
	Base     uint32
	Limit    uint16
	Selector uint16
}

// FPU is the x87 word set plus instruction and operand pointers.
type FPU struct {
	ControlWord uint16
	StatusWord  uint16
	TagWord     uint16
	FPIP        uint64 // last instruction pointer, selector in high dword
	FPDP        uint64 // last operand pointer, selector in high dword

	ST [8][10]byte
}

// Regs is a consistent snapshot of one virtual CPU's register file.
// The stub only takes snapshots while the VM is stopped.
type Regs struct {
	Eax, Ecx, Edx, Ebx uint32
	Esp, Ebp, Esi, Edi uint32
	Eip, EFlags        uint32

	Cs, Ds, Es, Fs, Gs, Ss Seg

	Cr0, Cr2, Cr3, Cr4 uint32
	Dr                 [8]uint32

	Gdt, Idt DescTable
	Tr, Ldtr uint16

	Fpu   FPU
	Xmm   [8][16]byte
	Mxcsr uint32
}

// Machine is the emulator surface the stub drives. Memory accessors
// report partial transfers by returning the achieved byte count with a
// nil error; an error means the access could not start at all.
type Machine interface {
	CPUCount() int

	Regs(cpu int) (*Regs, error)

	// MemRW accesses guest-virtual memory with a page walk and
	// non-faulting failure.
	MemRW(cpu int, virt uint32, buf []byte, write bool) (int, error)

	// PhysRW accesses guest-physical memory.
	PhysRW(phys uint32, buf []byte, write bool) (int, error)

	IoRead(port uint64, size int) (uint32, error)
	IoWrite(port uint64, size int, value uint32) error

	ReadMSR(cpu int, index uint32) (uint64, error)
	WriteMSR(cpu int, index uint32, value uint64) error

	BreakpointInsert(cpu int, addr uint32, flags WatchFlags) error
	BreakpointRemove(cpu int, addr uint32, flags WatchFlags) error

	WatchpointInsert(cpu int, addr uint32, length int, flags WatchFlags) error
	WatchpointRemove(cpu int, addr uint32, length int, flags WatchFlags) error

	// FlushTB invalidates translated code after breakpoint changes.
	FlushTB(cpu int)

	Stop(reason StopReason)
	Start()
	SingleStep(cpu int) error

	// OnBreakpoint registers the debug-exception handler. Only one
	// debugger stub may claim it; a second registration errors.
	OnBreakpoint(fn func(cpu int)) error

	// OnExit registers a teardown hook run when the emulator exits.
	OnExit(fn func())
}
