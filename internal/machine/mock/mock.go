// Package mock provides an in-memory machine.Machine for tests: a
// flat guest memory image, settable register files, and call recording
// for breakpoints, watchpoints and run control.
package mock

import (
	"errors"
	"fmt"

	"github.com/vmexit/winkd/internal/machine"
)

// Call records one mutation of emulator state.
type Call struct {
	Op     string // "bp-insert", "bp-remove", "wp-insert", "wp-remove", "stop", "start", "step", "flush"
	CPU    int
	Addr   uint32
	Length int
	Flags  machine.WatchFlags
}

type region struct {
	base uint32
	data []byte
}

// Machine is the fake. Memory is a set of flat regions; virtual and
// physical accesses resolve identically.
type Machine struct {
	regions []region

	CPUs []*machine.Regs
	MSRs map[uint32]uint64

	Calls   []Call
	Stopped bool

	bpHandler func(cpu int)
	exit      func()
}

// New creates a mock with one CPU and size bytes of memory at base.
func New(base uint32, size int) *Machine {
	m := &Machine{
		CPUs: []*machine.Regs{{}},
		MSRs: make(map[uint32]uint64),
	}
	m.AddRegion(base, size)
	return m
}

// AddRegion maps size more bytes of zeroed memory at base.
func (m *Machine) AddRegion(base uint32, size int) {
	m.regions = append(m.regions, region{base: base, data: make([]byte, size)})
}

// Poke writes test data directly into mock memory.
func (m *Machine) Poke(addr uint32, data []byte) {
	if n, _ := m.PhysRW(addr, data, true); n != len(data) {
		panic(fmt.Sprintf("mock: poke outside mapped memory at 0x%08x", addr))
	}
}

// PokeU32 writes a little-endian dword into mock memory.
func (m *Machine) PokeU32(addr uint32, v uint32) {
	m.Poke(addr, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func (m *Machine) CPUCount() int { return len(m.CPUs) }

func (m *Machine) Regs(cpu int) (*machine.Regs, error) {
	if cpu < 0 || cpu >= len(m.CPUs) {
		return nil, fmt.Errorf("no cpu %d", cpu)
	}
	return m.CPUs[cpu], nil
}

func (m *Machine) MemRW(cpu int, virt uint32, buf []byte, write bool) (int, error) {
	return m.PhysRW(virt, buf, write)
}

func (m *Machine) PhysRW(phys uint32, buf []byte, write bool) (int, error) {
	for _, r := range m.regions {
		if phys < r.base || int(phys-r.base) >= len(r.data) {
			continue
		}
		off := int(phys - r.base)
		n := len(buf)
		if off+n > len(r.data) {
			n = len(r.data) - off
		}
		if write {
			copy(r.data[off:off+n], buf[:n])
		} else {
			copy(buf[:n], r.data[off:off+n])
		}
		return n, nil
	}
	return 0, nil
}

func (m *Machine) IoRead(port uint64, size int) (uint32, error) { return 0, nil }

func (m *Machine) IoWrite(port uint64, size int, value uint32) error { return nil }

func (m *Machine) ReadMSR(cpu int, index uint32) (uint64, error) {
	v, ok := m.MSRs[index]
	if !ok {
		return 0, fmt.Errorf("msr 0x%x not modeled", index)
	}
	return v, nil
}

func (m *Machine) WriteMSR(cpu int, index uint32, value uint64) error {
	m.MSRs[index] = value
	return nil
}

func (m *Machine) BreakpointInsert(cpu int, addr uint32, flags machine.WatchFlags) error {
	m.Calls = append(m.Calls, Call{Op: "bp-insert", CPU: cpu, Addr: addr, Flags: flags})
	return nil
}

func (m *Machine) BreakpointRemove(cpu int, addr uint32, flags machine.WatchFlags) error {
	m.Calls = append(m.Calls, Call{Op: "bp-remove", CPU: cpu, Addr: addr, Flags: flags})
	return nil
}

func (m *Machine) WatchpointInsert(cpu int, addr uint32, length int, flags machine.WatchFlags) error {
	m.Calls = append(m.Calls, Call{Op: "wp-insert", CPU: cpu, Addr: addr, Length: length, Flags: flags})
	return nil
}

func (m *Machine) WatchpointRemove(cpu int, addr uint32, length int, flags machine.WatchFlags) error {
	m.Calls = append(m.Calls, Call{Op: "wp-remove", CPU: cpu, Addr: addr, Length: length, Flags: flags})
	return nil
}

func (m *Machine) FlushTB(cpu int) {
	m.Calls = append(m.Calls, Call{Op: "flush", CPU: cpu})
}

func (m *Machine) Stop(reason machine.StopReason) {
	m.Stopped = true
	m.Calls = append(m.Calls, Call{Op: "stop"})
}

func (m *Machine) Start() {
	m.Stopped = false
	m.Calls = append(m.Calls, Call{Op: "start"})
}

func (m *Machine) SingleStep(cpu int) error {
	m.Calls = append(m.Calls, Call{Op: "step", CPU: cpu})
	return nil
}

func (m *Machine) OnBreakpoint(fn func(cpu int)) error {
	if m.bpHandler != nil {
		return errors.New("breakpoint handler already registered")
	}
	m.bpHandler = fn
	return nil
}

func (m *Machine) OnExit(fn func()) { m.exit = fn }

// HitBreakpoint drives the registered handler, as the emulator does on
// a guest debug exception.
func (m *Machine) HitBreakpoint(cpu int) {
	if m.bpHandler != nil {
		m.bpHandler(cpu)
	}
}

// CallsOf filters recorded calls by op.
func (m *Machine) CallsOf(op string) []Call {
	var out []Call
	for _, c := range m.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the recording.
func (m *Machine) ResetCalls() { m.Calls = nil }
