package emulator

import (
	"testing"

	"github.com/vmexit/winkd/internal/machine"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(DefaultMemBase, 0x400000)
	if err != nil {
		t.Fatalf("Failed to create machine: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestPhysMemoryRoundTrip(t *testing.T) {
	m := newTestMachine(t)

	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if n, _ := m.PhysRW(0x1000, data, true); n != len(data) {
		t.Fatalf("wrote %d bytes", n)
	}

	back := make([]byte, 4)
	if n, _ := m.PhysRW(0x1000, back, false); n != len(back) {
		t.Fatalf("read %d bytes", n)
	}
	for i := range data {
		if back[i] != data[i] {
			t.Errorf("byte %d = 0x%x, want 0x%x", i, back[i], data[i])
		}
	}
}

// With paging disabled, virtual accesses are identity mapped.
func TestVirtualIdentityWithoutPaging(t *testing.T) {
	m := newTestMachine(t)

	data := []byte{1, 2, 3}
	if n, _ := m.MemRW(0, 0x2000, data, true); n != len(data) {
		t.Fatal("virtual write failed")
	}
	back := make([]byte, 3)
	if n, _ := m.MemRW(0, 0x2000, back, false); n != 3 || back[2] != 3 {
		t.Errorf("virtual read = %v (%d bytes)", back, n)
	}
}

func TestUnmappedAccessIsPartial(t *testing.T) {
	m := newTestMachine(t)

	// A read straddling the end of RAM returns a short count (zero
	// or the bytes up to the boundary) without an error.
	buf := make([]byte, 0x20)
	n, err := m.PhysRW(0x400000-0x10, buf, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 && n != 0x10 {
		t.Errorf("partial read = %d bytes", n)
	}
}

func TestRegsSnapshot(t *testing.T) {
	m := newTestMachine(t)

	if err := m.InitRegs(0x1000, 0x3000, 0x2000); err != nil {
		t.Fatalf("InitRegs: %v", err)
	}

	r, err := m.Regs(0)
	if err != nil {
		t.Fatalf("Regs: %v", err)
	}
	if r.Eip != 0x1000 {
		t.Errorf("Eip = 0x%x", r.Eip)
	}
	if r.Esp != 0x3000 {
		t.Errorf("Esp = 0x%x", r.Esp)
	}
	if r.Fs.Base != 0x2000 {
		t.Errorf("Fs.Base = 0x%x", r.Fs.Base)
	}
}

func TestBreakpointHandlerSingleOwner(t *testing.T) {
	m := newTestMachine(t)

	if err := m.OnBreakpoint(func(cpu int) {}); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := m.OnBreakpoint(func(cpu int) {}); err == nil {
		t.Error("second registration must fail")
	}
}

func TestWatchpointBookkeeping(t *testing.T) {
	m := newTestMachine(t)

	flags := machine.WatchWrite | machine.OwnerKD
	if err := m.WatchpointInsert(0, 0x5000, 1, flags); err != nil {
		t.Fatal(err)
	}
	if err := m.WatchpointRemove(0, 0x5000, 1, flags); err != nil {
		t.Fatal(err)
	}
	if err := m.WatchpointRemove(0, 0x5000, 1, flags); err == nil {
		t.Error("removing a missing watchpoint must fail")
	}
}
