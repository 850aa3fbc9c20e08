// Package guest assembles the wire-format blobs the debugger reads
// from the running guest: the CPU context, the kernel special
// registers, and the exception and load-symbols state changes. All
// reads go through the machine interface while the VM is stopped.
package guest

import (
	"fmt"

	"github.com/vmexit/winkd/internal/breakpoint"
	"github.com/vmexit/winkd/internal/kd"
	"github.com/vmexit/winkd/internal/machine"
)

// ControlAddrs are the per-session kernel anchor addresses walked from
// the KPCR.
type ControlAddrs struct {
	KPCR       uint32
	KPRCB      uint32
	Version    uint32
	KernelBase uint32
}

// View reads guest state for one session. Control addresses are
// cached after the first walk.
type View struct {
	m     machine.Machine
	recon *breakpoint.Reconciler

	addrs  ControlAddrs
	walked bool
}

// NewView creates a view over m. recon supplies the shadowed debug
// registers for the kernel special-register image; it may be nil in
// tests that do not exercise control space.
func NewView(m machine.Machine, recon *breakpoint.Reconciler) *View {
	return &View{m: m, recon: recon}
}

func (v *View) readU32(cpu int, addr uint32) (uint32, error) {
	var b [4]byte
	n, err := v.m.MemRW(cpu, addr, b[:], false)
	if err != nil {
		return 0, err
	}
	if n != len(b) {
		return 0, fmt.Errorf("short read at 0x%08x", addr)
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// ControlAddrs walks KPCR -> KPRCB / Version -> KernelBase through
// guest memory. The FS base is the KPCR linear address.
func (v *View) ControlAddrs(cpu int) (ControlAddrs, error) {
	if v.walked {
		return v.addrs, nil
	}
	regs, err := v.m.Regs(cpu)
	if err != nil {
		return ControlAddrs{}, err
	}

	var a ControlAddrs
	a.KPCR = regs.Fs.Base
	if a.KPRCB, err = v.readU32(cpu, a.KPCR+kd.OffsetKPRCB); err != nil {
		return ControlAddrs{}, fmt.Errorf("walk KPRCB: %w", err)
	}
	if a.Version, err = v.readU32(cpu, a.KPCR+kd.OffsetVersion); err != nil {
		return ControlAddrs{}, fmt.Errorf("walk version block: %w", err)
	}
	if a.KernelBase, err = v.readU32(cpu, a.Version+kd.OffsetKernelBase); err != nil {
		return ControlAddrs{}, fmt.Errorf("walk kernel base: %w", err)
	}

	v.addrs = a
	v.walked = true
	return a, nil
}

// Context snapshots the CPU into the x86 CONTEXT wire shape with
// ContextFlags = ALL.
func (v *View) Context(cpu int) (kd.Context, error) {
	regs, err := v.m.Regs(cpu)
	if err != nil {
		return kd.Context{}, err
	}

	var c kd.Context
	c.ContextFlags = kd.ContextAll

	c.Dr0 = regs.Dr[0]
	c.Dr1 = regs.Dr[1]
	c.Dr2 = regs.Dr[2]
	c.Dr3 = regs.Dr[3]
	c.Dr6 = regs.Dr[6]
	c.Dr7 = regs.Dr[7]

	c.Edi = regs.Edi
	c.Esi = regs.Esi
	c.Ebx = regs.Ebx
	c.Edx = regs.Edx
	c.Ecx = regs.Ecx
	c.Eax = regs.Eax
	c.Ebp = regs.Ebp
	c.Esp = regs.Esp
	c.Eip = regs.Eip
	c.EFlags = regs.EFlags

	c.SegGs = uint32(regs.Gs.Selector)
	c.SegFs = uint32(regs.Fs.Selector)
	c.SegEs = uint32(regs.Es.Selector)
	c.SegDs = uint32(regs.Ds.Selector)
	c.SegCs = uint32(regs.Cs.Selector)
	c.SegSs = uint32(regs.Ss.Selector)

	c.FloatSave.ControlWord = uint32(regs.Fpu.ControlWord)
	c.FloatSave.StatusWord = uint32(regs.Fpu.StatusWord)
	c.FloatSave.TagWord = uint32(regs.Fpu.TagWord)
	c.FloatSave.ErrorOffset = uint32(regs.Fpu.FPIP)
	c.FloatSave.ErrorSelector = uint32(regs.Fpu.FPIP >> 32)
	c.FloatSave.DataOffset = uint32(regs.Fpu.FPDP)
	c.FloatSave.DataSelector = uint32(regs.Fpu.FPDP >> 32)
	c.FloatSave.Cr0NpxState = regs.Cr0
	for i := 0; i < 8; i++ {
		copy(c.FloatSave.RegisterArea[i*10:(i+1)*10], regs.Fpu.ST[i][:])
	}

	for i := 0; i < 8; i++ {
		copy(c.ExtendedRegisters[kd.ExtXmmOffset+i*16:], regs.Xmm[i][:])
	}
	c.ExtendedRegisters[kd.ExtMxcsrOffset] = byte(regs.Mxcsr)
	c.ExtendedRegisters[kd.ExtMxcsrOffset+1] = byte(regs.Mxcsr >> 8)
	c.ExtendedRegisters[kd.ExtMxcsrOffset+2] = byte(regs.Mxcsr >> 16)
	c.ExtendedRegisters[kd.ExtMxcsrOffset+3] = byte(regs.Mxcsr >> 24)
	c.ExtendedRegisters[0] = 0xAA

	return c, nil
}

// shadowedDR prefers the reconciler's shadow over the live register.
func (v *View) shadowedDR(regs *machine.Regs, i int) uint32 {
	if v.recon != nil {
		if val, set := v.recon.Shadow(i); set {
			return val
		}
	}
	return regs.Dr[i]
}

// KSpecial snapshots the kernel special registers.
func (v *View) KSpecial(cpu int) (kd.KSpecialRegisters, error) {
	regs, err := v.m.Regs(cpu)
	if err != nil {
		return kd.KSpecialRegisters{}, err
	}

	k := kd.KSpecialRegisters{
		Cr0: regs.Cr0,
		Cr2: regs.Cr2,
		Cr3: regs.Cr3,
		Cr4: regs.Cr4,

		KernelDr0: v.shadowedDR(regs, 0),
		KernelDr1: v.shadowedDR(regs, 1),
		KernelDr2: v.shadowedDR(regs, 2),
		KernelDr3: v.shadowedDR(regs, 3),
		KernelDr6: v.shadowedDR(regs, 6),
		KernelDr7: v.shadowedDR(regs, 7),

		Gdtr: kd.Descriptor{Pad: regs.Gdt.Selector, Limit: regs.Gdt.Limit, Base: regs.Gdt.Base},
		Idtr: kd.Descriptor{Pad: regs.Idt.Selector, Limit: regs.Idt.Limit, Base: regs.Idt.Base},

		Tr:   regs.Tr,
		Ldtr: regs.Ldtr,
	}
	return k, nil
}

// ExceptionStateChange builds the breakpoint-exception notification:
// the 240-byte state change followed by its flag word.
func (v *View) ExceptionStateChange(cpu int) ([]byte, error) {
	sc, err := v.exceptionSC(cpu)
	if err != nil {
		return nil, err
	}
	buf := sc.Encode()
	// Trailing flag word the debugger expects after the control report.
	return append(buf, 1, 0, 0, 0), nil
}

func (v *View) exceptionSC(cpu int) (kd.StateChange, error) {
	regs, err := v.m.Regs(cpu)
	if err != nil {
		return kd.StateChange{}, err
	}
	addrs, err := v.ControlAddrs(cpu)
	if err != nil {
		return kd.StateChange{}, err
	}

	var sc kd.StateChange
	sc.NewState = kd.ExceptionStateChange
	sc.ProcessorLevel = kd.ProcessorLevelP6
	sc.Processor = uint16(cpu)
	sc.NumberProcessors = uint32(v.m.CPUCount())

	thread, err := v.readU32(cpu, addrs.KPRCB+kd.OffsetKPRCBCurrThread)
	if err == nil {
		sc.Thread = uint64(thread)
	}
	sc.ProgramCounter = uint64(regs.Eip)

	sc.Exception.ExceptionCode = kd.StatusBreakpoint
	sc.Exception.ExceptionAddress = uint64(regs.Eip)
	sc.FirstChance = 1

	sc.ControlReport.Dr6 = regs.Dr[6]
	sc.ControlReport.Dr7 = regs.Dr[7]
	sc.ControlReport.EFlags = regs.EFlags
	sc.ControlReport.SegCs = regs.Cs.Selector
	sc.ControlReport.SegDs = regs.Ds.Selector
	sc.ControlReport.SegEs = regs.Es.Selector
	sc.ControlReport.SegFs = regs.Fs.Selector
	v.m.MemRW(cpu, regs.Eip, sc.ControlReport.InstructionStream[:], false)

	return sc, nil
}

// LoadSymbolsStateChange builds the symbol-load notification sent
// during the reset handshake: the state change followed by the kernel
// image path read from the guest.
func (v *View) LoadSymbolsStateChange(cpu int) ([]byte, error) {
	sc, err := v.exceptionSC(cpu)
	if err != nil {
		return nil, err
	}

	path, err := v.kernelPath(cpu)
	if err != nil {
		return nil, fmt.Errorf("read kernel image path: %w", err)
	}

	sc.NewState = kd.LoadSymbolsStateChange
	sc.LoadSymbols.PathNameLength = uint32(len(path))

	return append(sc.Encode(), path...), nil
}

// kernelPath reads the wide-character kernel image path at the fixed
// guest address, compacting it to NUL-terminated ASCII.
func (v *View) kernelPath(cpu int) ([]byte, error) {
	wide := make([]byte, kd.KernelPathMax)
	if _, err := v.m.MemRW(cpu, kd.NTKernelPathAddr, wide, false); err != nil {
		return nil, err
	}

	path := make([]byte, 0, kd.KernelPathMax/2)
	for i := 0; i < len(wide); i += 2 {
		path = append(path, wide[i])
		if wide[i] == 0 {
			return path, nil
		}
	}
	return append(path, 0), nil
}
