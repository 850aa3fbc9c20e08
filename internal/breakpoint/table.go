// Package breakpoint tracks the stub's code breakpoints and data
// watchpoints. The Table owns the fixed-capacity software breakpoint
// slots; the Reconciler mirrors the debugger-written debug registers
// and keeps the emulator's watchpoint set in sync.
package breakpoint

import (
	"fmt"

	"github.com/vmexit/winkd/internal/kd"
	"github.com/vmexit/winkd/internal/machine"
)

type slot struct {
	addr uint32
	set  bool
}

// Table is the software breakpoint handle table. Handles are 1-based
// slot indices; 0 is the invalid handle.
type Table struct {
	m     machine.Machine
	slots [kd.BreakpointMax]slot
}

// NewTable creates an empty table backed by m.
func NewTable(m machine.Machine) *Table {
	return &Table{m: m}
}

// Insert claims the first free slot, installs a code breakpoint at
// addr and returns the handle. A full table returns 0.
func (t *Table) Insert(cpu int, addr uint32) uint32 {
	for i := range t.slots {
		if t.slots[i].set {
			continue
		}
		t.slots[i] = slot{addr: addr, set: true}
		if err := t.m.BreakpointInsert(cpu, addr, machine.OwnerKD); err != nil {
			t.slots[i] = slot{}
			return 0
		}
		t.m.FlushTB(cpu)
		return uint32(i + 1)
	}
	return 0
}

// Remove releases the slot behind handle and removes the emulator
// breakpoint. An unknown or already-free handle errors.
func (t *Table) Remove(cpu int, handle uint32) error {
	if handle == 0 || handle > kd.BreakpointMax {
		return fmt.Errorf("breakpoint handle %d out of range", handle)
	}
	s := &t.slots[handle-1]
	if !s.set {
		return fmt.Errorf("breakpoint handle %d not in use", handle)
	}
	if err := t.m.BreakpointRemove(cpu, s.addr, machine.OwnerKD); err != nil {
		return fmt.Errorf("remove breakpoint at 0x%08x: %w", s.addr, err)
	}
	*s = slot{}
	return nil
}

// Live returns the number of installed breakpoints.
func (t *Table) Live() int {
	n := 0
	for _, s := range t.slots {
		if s.set {
			n++
		}
	}
	return n
}
