package breakpoint

import (
	"testing"

	"github.com/vmexit/winkd/internal/kd"
	glog "github.com/vmexit/winkd/internal/log"
	"github.com/vmexit/winkd/internal/machine"
	"github.com/vmexit/winkd/internal/machine/mock"
)

func init() {
	glog.L = glog.NewNop()
}

func TestInsertRemoveCycle(t *testing.T) {
	m := mock.New(0, 0x1000)
	tbl := NewTable(m)

	h := tbl.Insert(0, 0x1000)
	if h != 1 {
		t.Fatalf("first handle = %d, want 1", h)
	}
	ins := m.CallsOf("bp-insert")
	if len(ins) != 1 || ins[0].Addr != 0x1000 || ins[0].Flags != machine.OwnerKD {
		t.Fatalf("bp-insert calls = %+v", ins)
	}
	if len(m.CallsOf("flush")) != 1 {
		t.Error("insert should flush the translation cache")
	}

	if err := tbl.Remove(0, h); err != nil {
		t.Fatalf("remove: %v", err)
	}
	rem := m.CallsOf("bp-remove")
	if len(rem) != 1 || rem[0].Addr != 0x1000 {
		t.Fatalf("bp-remove calls = %+v", rem)
	}

	// Second remove with the same handle: no call, an error.
	if err := tbl.Remove(0, h); err == nil {
		t.Error("expected error for stale handle")
	}
	if len(m.CallsOf("bp-remove")) != 1 {
		t.Error("stale remove must not reach the emulator")
	}
}

func TestHandlesDistinctWhileLive(t *testing.T) {
	m := mock.New(0, 0x1000)
	tbl := NewTable(m)

	seen := make(map[uint32]bool)
	for i := 0; i < kd.BreakpointMax; i++ {
		h := tbl.Insert(0, uint32(0x1000+i*4))
		if h == 0 {
			t.Fatalf("insert %d returned 0 with table not full", i)
		}
		if h > kd.BreakpointMax {
			t.Fatalf("handle %d out of range", h)
		}
		if seen[h] {
			t.Fatalf("handle %d returned twice", h)
		}
		seen[h] = true
	}

	// Table full now.
	if h := tbl.Insert(0, 0xFFFF0000); h != 0 {
		t.Errorf("insert into full table = %d, want 0", h)
	}
}

func TestSlotReuseAfterRemove(t *testing.T) {
	m := mock.New(0, 0x1000)
	tbl := NewTable(m)

	h1 := tbl.Insert(0, 0x1000)
	h2 := tbl.Insert(0, 0x2000)
	if h1 == h2 {
		t.Fatal("live handles must be distinct")
	}

	if err := tbl.Remove(0, h1); err != nil {
		t.Fatal(err)
	}
	h3 := tbl.Insert(0, 0x3000)
	if h3 == 0 || h3 == h2 {
		t.Errorf("reinsert handle = %d, conflicts with live %d", h3, h2)
	}
	if tbl.Live() != 2 {
		t.Errorf("live = %d, want 2", tbl.Live())
	}
}

func TestRemoveInvalidHandle(t *testing.T) {
	m := mock.New(0, 0x1000)
	tbl := NewTable(m)

	for _, h := range []uint32{0, kd.BreakpointMax + 1, 99} {
		if err := tbl.Remove(0, h); err == nil {
			t.Errorf("handle %d: expected error", h)
		}
	}
	if len(m.Calls) != 0 {
		t.Error("invalid handles must not reach the emulator")
	}
}
