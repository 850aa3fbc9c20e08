package breakpoint

import (
	"github.com/vmexit/winkd/internal/kd"
	"github.com/vmexit/winkd/internal/machine"
	"go.uber.org/zap"

	glog "github.com/vmexit/winkd/internal/log"
)

// Reconciler shadows the last debugger-written DR0-DR7 image and
// diffs each new image against it, installing and removing emulator
// watchpoints so the installed set always matches the image.
//
// Shadow slot i is set iff a watchpoint for DR i is installed; shadow
// slot 7 holds the last DR7 and is set iff any of slots 0-3 is.
type Reconciler struct {
	m      machine.Machine
	shadow [8]slot
}

// NewReconciler creates a reconciler with an empty shadow.
func NewReconciler(m machine.Machine) *Reconciler {
	return &Reconciler{m: m}
}

// flagFor maps a DR7 slot type to the watchpoint access flags the
// emulator understands. Execute and I/O slots do not map to data
// watchpoints and yield 0.
func flagFor(kind kd.BreakKind) machine.WatchFlags {
	switch kind {
	case kd.BreakWrite:
		return machine.WatchWrite | machine.OwnerKD
	case kd.BreakReadWrite:
		return machine.WatchAccess | machine.OwnerKD
	}
	return 0
}

// watchable reports whether an enabled slot of this kind installs a
// data watchpoint. Execute slots act as instruction breakpoints and
// are decoded but not installed.
func watchable(kind kd.BreakKind) bool {
	return kind == kd.BreakWrite || kind == kd.BreakReadWrite
}

// Apply reconciles a new DR image from a SetContext call. dr holds
// DR0-DR3. Nothing happens unless DR7 changed since the last image.
func (r *Reconciler) Apply(cpu int, dr [4]uint32, dr7 uint32) {
	if r.shadow[7].addr == dr7 {
		return
	}
	oldDr7 := r.shadow[7].addr

	for i := 0; i < 4; i++ {
		enabled := kd.DR7Enabled(dr7, i) && watchable(kd.DR7Kind(dr7, i))
		s := &r.shadow[i]

		if !enabled {
			if s.set {
				r.remove(cpu, i, oldDr7)
			}
			continue
		}
		if s.set && s.addr == dr[i] {
			continue
		}
		if s.set {
			r.remove(cpu, i, oldDr7)
		}
		s.addr = dr[i]
		s.set = true
		flags := flagFor(kd.DR7Kind(dr7, i))
		length := kd.DR7Len(dr7, i)
		if err := r.m.WatchpointInsert(cpu, dr[i], length, flags); err != nil {
			glog.L.Warn("watchpoint insert failed",
				zap.Int("slot", i),
				zap.Uint32("addr", dr[i]),
				zap.Int("len", length),
				zap.Error(err),
			)
			s.set = false
		}
	}

	r.shadow[7].addr = dr7
	r.shadow[7].set = r.shadow[0].set || r.shadow[1].set ||
		r.shadow[2].set || r.shadow[3].set
}

// remove drops the installed watchpoint of slot i, decoding its length
// and flags from the DR7 image it was installed under.
func (r *Reconciler) remove(cpu int, i int, oldDr7 uint32) {
	s := &r.shadow[i]
	flags := flagFor(kd.DR7Kind(oldDr7, i))
	length := kd.DR7Len(oldDr7, i)
	if err := r.m.WatchpointRemove(cpu, s.addr, length, flags); err != nil {
		glog.L.Warn("watchpoint remove failed",
			zap.Int("slot", i),
			zap.Uint32("addr", s.addr),
			zap.Error(err),
		)
	}
	*s = slot{}
}

// Shadow returns the shadowed value and set flag of DR slot i. The
// guest view consults this when assembling kernel debug registers.
func (r *Reconciler) Shadow(i int) (uint32, bool) {
	return r.shadow[i].addr, r.shadow[i].set
}
