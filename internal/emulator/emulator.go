// Package emulator provides the 32-bit x86 guest backing the KD stub,
// using Unicorn Engine. It implements machine.Machine: flat guest
// memory with a software page walk for virtual accesses, code
// breakpoints and data watchpoints built on Unicorn hooks, and
// cooperative run control.
package emulator

import (
	"errors"
	"fmt"
	"sync"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/vmexit/winkd/internal/machine"
)

// Memory layout constants
const (
	DefaultMemBase = 0x00000000
	DefaultMemSize = 0x08000000 // 128MB of guest RAM
)

// CR0 and page-table bits for the non-PAE two-level walk.
const (
	cr0PG        = 1 << 31
	ptePresent   = 1 << 0
	pdeLargePage = 1 << 7
)

type watch struct {
	addr   uint32
	length int
	flags  machine.WatchFlags
}

// Machine wraps Unicorn for a single-vCPU x86 guest.
type Machine struct {
	mu uc.Unicorn

	memBase uint64
	memSize uint64

	// Descriptor-table shadows; Unicorn exposes no portable read path
	// for GDTR/IDTR, so the values set at guest build time are kept
	// here.
	gdt, idt machine.DescTable
	tr, ldtr uint16

	stateMu sync.Mutex
	cond    *sync.Cond
	running bool
	closed  bool
	pending bool // breakpoint or watchpoint hit awaiting delivery

	bps     map[uint32]machine.WatchFlags
	watches []watch

	bpHandler func(cpu int)
	exitFns   []func()
}

// New creates an x86 guest with size bytes of RAM at base.
func New(base uint32, size uint64) (*Machine, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_32)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}

	m := &Machine{
		mu:      mu,
		memBase: uint64(base),
		memSize: size,
		bps:     make(map[uint32]machine.WatchFlags),
	}
	m.cond = sync.NewCond(&m.stateMu)

	if err := mu.MemMap(m.memBase, m.memSize); err != nil {
		mu.Close()
		return nil, fmt.Errorf("map guest ram (0x%x+0x%x): %w", m.memBase, m.memSize, err)
	}

	if err := m.setupHooks(); err != nil {
		mu.Close()
		return nil, err
	}
	return m, nil
}

// setupHooks installs the instruction and data hooks that implement
// breakpoints and watchpoints.
func (m *Machine) setupHooks() error {
	_, err := m.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		m.stateMu.Lock()
		_, hit := m.bps[uint32(addr)]
		if hit {
			m.pending = true
			m.running = false
		}
		m.stateMu.Unlock()
		if hit {
			mu.Stop()
		}
	}, 1, 0)
	if err != nil {
		return fmt.Errorf("install code hook: %w", err)
	}

	_, err = m.mu.HookAdd(uc.HOOK_MEM_READ|uc.HOOK_MEM_WRITE,
		func(mu uc.Unicorn, access int, addr uint64, size int, value int64) {
			want := machine.WatchRead
			if access == uc.MEM_WRITE {
				want = machine.WatchWrite
			}
			m.stateMu.Lock()
			hit := false
			for _, w := range m.watches {
				if w.flags&want == 0 {
					continue
				}
				if addr < uint64(w.addr)+uint64(w.length) && addr+uint64(size) > uint64(w.addr) {
					hit = true
					break
				}
			}
			if hit {
				m.pending = true
				m.running = false
			}
			m.stateMu.Unlock()
			if hit {
				mu.Stop()
			}
		}, 1, 0)
	if err != nil {
		return fmt.Errorf("install mem hook: %w", err)
	}
	return nil
}

// LoadImage copies a flat memory image into guest RAM.
func (m *Machine) LoadImage(addr uint32, data []byte) error {
	return m.mu.MemWrite(uint64(addr), data)
}

// InitRegs seeds the registers a freshly built guest needs.
func (m *Machine) InitRegs(eip, esp, fsBase uint32) error {
	for reg, val := range map[int]uint64{
		uc.X86_REG_EIP:     uint64(eip),
		uc.X86_REG_ESP:     uint64(esp),
		uc.X86_REG_FS_BASE: uint64(fsBase),
	} {
		if err := m.mu.RegWrite(reg, val); err != nil {
			return fmt.Errorf("init registers: %w", err)
		}
	}
	return nil
}

// SetDescTables records the descriptor-table shadows reported through
// the machine interface.
func (m *Machine) SetDescTables(gdt, idt machine.DescTable, tr, ldtr uint16) {
	m.gdt, m.idt = gdt, idt
	m.tr, m.ldtr = tr, ldtr
}

// Run drives the guest on the calling goroutine until Close. It blocks
// while the VM is stopped and delivers breakpoint hits to the
// registered handler with the VM left paused.
func (m *Machine) Run(entry uint32) error {
	pc := uint64(entry)
	m.stateMu.Lock()
	m.running = true
	m.stateMu.Unlock()

	for {
		m.stateMu.Lock()
		for !m.running && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.stateMu.Unlock()
			return nil
		}
		m.stateMu.Unlock()

		if err := m.mu.Start(pc, 1<<32); err != nil {
			return fmt.Errorf("emulation stopped: %w", err)
		}

		eip, err := m.mu.RegRead(uc.X86_REG_EIP)
		if err != nil {
			return fmt.Errorf("read eip: %w", err)
		}
		pc = eip

		m.stateMu.Lock()
		deliver := m.pending
		m.pending = false
		handler := m.bpHandler
		m.stateMu.Unlock()

		if deliver && handler != nil {
			handler(0)
		}
	}
}

// Close tears the guest down, running registered exit hooks first.
func (m *Machine) Close() error {
	m.stateMu.Lock()
	m.closed = true
	m.running = false
	m.cond.Broadcast()
	exits := m.exitFns
	m.stateMu.Unlock()

	for i := len(exits) - 1; i >= 0; i-- {
		exits[i]()
	}
	return m.mu.Close()
}

// --- machine.Machine ---

func (m *Machine) CPUCount() int { return 1 }

func (m *Machine) regRead(reg int) uint32 {
	v, err := m.mu.RegRead(reg)
	if err != nil {
		return 0
	}
	return uint32(v)
}

// Regs snapshots the register file. The x87 and XMM state is reported
// at architectural reset defaults; Unicorn's portable bindings do not
// expose the FP register file.
func (m *Machine) Regs(cpu int) (*machine.Regs, error) {
	if cpu != 0 {
		return nil, fmt.Errorf("no cpu %d", cpu)
	}

	r := &machine.Regs{
		Eax: m.regRead(uc.X86_REG_EAX),
		Ecx: m.regRead(uc.X86_REG_ECX),
		Edx: m.regRead(uc.X86_REG_EDX),
		Ebx: m.regRead(uc.X86_REG_EBX),
		Esp: m.regRead(uc.X86_REG_ESP),
		Ebp: m.regRead(uc.X86_REG_EBP),
		Esi: m.regRead(uc.X86_REG_ESI),
		Edi: m.regRead(uc.X86_REG_EDI),

		Eip:    m.regRead(uc.X86_REG_EIP),
		EFlags: m.regRead(uc.X86_REG_EFLAGS),

		Cr0: m.regRead(uc.X86_REG_CR0),
		Cr2: m.regRead(uc.X86_REG_CR2),
		Cr3: m.regRead(uc.X86_REG_CR3),
		Cr4: m.regRead(uc.X86_REG_CR4),

		Gdt:  m.gdt,
		Idt:  m.idt,
		Tr:   m.tr,
		Ldtr: m.ldtr,

		Mxcsr: 0x1F80,
	}

	r.Cs = machine.Seg{Selector: uint16(m.regRead(uc.X86_REG_CS)), Limit: 0xFFFFFFFF}
	r.Ds = machine.Seg{Selector: uint16(m.regRead(uc.X86_REG_DS)), Limit: 0xFFFFFFFF}
	r.Es = machine.Seg{Selector: uint16(m.regRead(uc.X86_REG_ES)), Limit: 0xFFFFFFFF}
	r.Ss = machine.Seg{Selector: uint16(m.regRead(uc.X86_REG_SS)), Limit: 0xFFFFFFFF}
	r.Fs = machine.Seg{
		Selector: uint16(m.regRead(uc.X86_REG_FS)),
		Base:     m.regRead(uc.X86_REG_FS_BASE),
		Limit:    0xFFFFFFFF,
	}
	r.Gs = machine.Seg{
		Selector: uint16(m.regRead(uc.X86_REG_GS)),
		Base:     m.regRead(uc.X86_REG_GS_BASE),
		Limit:    0xFFFFFFFF,
	}

	for i := 0; i < 8; i++ {
		r.Dr[i] = m.regRead(uc.X86_REG_DR0 + i)
	}

	r.Fpu.ControlWord = 0x027F
	r.Fpu.TagWord = 0xFFFF

	return r, nil
}

// translate walks the two-level non-PAE page tables when paging is on.
func (m *Machine) translate(va uint32) (uint32, bool) {
	cr0 := m.regRead(uc.X86_REG_CR0)
	if cr0&cr0PG == 0 {
		return va, true
	}
	cr3 := m.regRead(uc.X86_REG_CR3)

	pdeAddr := (cr3 &^ 0xFFF) + (va>>22)*4
	pde, err := m.physU32(pdeAddr)
	if err != nil || pde&ptePresent == 0 {
		return 0, false
	}
	if pde&pdeLargePage != 0 {
		return (pde & 0xFFC00000) | (va & 0x3FFFFF), true
	}

	pteAddr := (pde &^ 0xFFF) + ((va>>12)&0x3FF)*4
	pte, err := m.physU32(pteAddr)
	if err != nil || pte&ptePresent == 0 {
		return 0, false
	}
	return (pte &^ 0xFFF) | (va & 0xFFF), true
}

func (m *Machine) physU32(pa uint32) (uint32, error) {
	b, err := m.mu.MemRead(uint64(pa), 4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// MemRW accesses guest-virtual memory page by page; an unmapped page
// ends the transfer with the bytes achieved so far.
func (m *Machine) MemRW(cpu int, virt uint32, buf []byte, write bool) (int, error) {
	if cpu != 0 {
		return 0, fmt.Errorf("no cpu %d", cpu)
	}

	done := 0
	for done < len(buf) {
		va := virt + uint32(done)
		pa, ok := m.translate(va)
		if !ok {
			return done, nil
		}
		n := int(0x1000 - (va & 0xFFF))
		if n > len(buf)-done {
			n = len(buf) - done
		}
		var err error
		if write {
			err = m.mu.MemWrite(uint64(pa), buf[done:done+n])
		} else {
			var data []byte
			data, err = m.mu.MemRead(uint64(pa), uint64(n))
			if err == nil {
				copy(buf[done:done+n], data)
			}
		}
		if err != nil {
			return done, nil
		}
		done += n
	}
	return done, nil
}

func (m *Machine) PhysRW(phys uint32, buf []byte, write bool) (int, error) {
	if write {
		if err := m.mu.MemWrite(uint64(phys), buf); err != nil {
			return 0, nil
		}
		return len(buf), nil
	}
	data, err := m.mu.MemRead(uint64(phys), uint64(len(buf)))
	if err != nil {
		return 0, nil
	}
	return copy(buf, data), nil
}

func (m *Machine) IoRead(port uint64, size int) (uint32, error) {
	return 0, errors.New("io space not modeled")
}

func (m *Machine) IoWrite(port uint64, size int, value uint32) error {
	return errors.New("io space not modeled")
}

func (m *Machine) ReadMSR(cpu int, index uint32) (uint64, error) {
	return 0, errors.New("msr access not modeled")
}

func (m *Machine) WriteMSR(cpu int, index uint32, value uint64) error {
	return errors.New("msr access not modeled")
}

func (m *Machine) BreakpointInsert(cpu int, addr uint32, flags machine.WatchFlags) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.bps[addr] = flags
	return nil
}

func (m *Machine) BreakpointRemove(cpu int, addr uint32, flags machine.WatchFlags) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	delete(m.bps, addr)
	return nil
}

func (m *Machine) WatchpointInsert(cpu int, addr uint32, length int, flags machine.WatchFlags) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.watches = append(m.watches, watch{addr: addr, length: length, flags: flags})
	return nil
}

func (m *Machine) WatchpointRemove(cpu int, addr uint32, length int, flags machine.WatchFlags) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	for i, w := range m.watches {
		if w.addr == addr && w.length == length && w.flags == flags {
			m.watches = append(m.watches[:i], m.watches[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no watchpoint at 0x%08x/%d", addr, length)
}

// FlushTB is a no-op: Unicorn consults the hooks above on every
// instruction, so breakpoint changes take effect without invalidating
// translations.
func (m *Machine) FlushTB(cpu int) {}

func (m *Machine) Stop(reason machine.StopReason) {
	m.stateMu.Lock()
	m.running = false
	m.stateMu.Unlock()
	m.mu.Stop()
}

func (m *Machine) Start() {
	m.stateMu.Lock()
	m.running = true
	m.cond.Broadcast()
	m.stateMu.Unlock()
}

// SingleStep executes exactly one instruction and leaves the VM
// stopped.
func (m *Machine) SingleStep(cpu int) error {
	if cpu != 0 {
		return fmt.Errorf("no cpu %d", cpu)
	}
	eip, err := m.mu.RegRead(uc.X86_REG_EIP)
	if err != nil {
		return fmt.Errorf("read eip: %w", err)
	}
	if err := m.mu.StartWithOptions(eip, 1<<32, &uc.UcOptions{Count: 1}); err != nil {
		return fmt.Errorf("single step: %w", err)
	}
	return nil
}

func (m *Machine) OnBreakpoint(fn func(cpu int)) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.bpHandler != nil {
		return errors.New("breakpoint handler already registered")
	}
	m.bpHandler = fn
	return nil
}

func (m *Machine) OnExit(fn func()) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.exitFns = append(m.exitFns, fn)
}
