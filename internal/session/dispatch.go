package session

import (
	"go.uber.org/zap"

	"github.com/vmexit/winkd/internal/kd"
	glog "github.com/vmexit/winkd/internal/log"
)

// dispatchManipulate executes one manipulate-state request in place.
// The staging buffer already holds the request; each handler rewrites
// it into the reply and sets Extra to the payload size beyond the
// fixed header. Continue-class APIs produce no reply.
func (s *Session) dispatchManipulate() {
	d := &s.p.Data
	d.Extra = int(s.p.Packet.ByteCount) - kd.M64Size
	if d.Extra < 0 {
		glog.L.Warn("manipulate packet shorter than header",
			zap.Uint16("byte_count", s.p.Packet.ByteCount))
		s.resend()
		return
	}
	d.SetReturnStatus(kd.StatusSuccess)

	cpu := int(d.Processor())
	if cpu < 0 || cpu >= s.m.CPUCount() {
		cpu = 0
	}

	switch api := d.APINumber(); api {
	case kd.APIReadVirtualMemory:
		s.apiReadMemory(cpu, d, false)

	case kd.APIWriteVirtualMemory:
		s.apiWriteMemory(cpu, d, false)

	case kd.APIGetContext:
		s.apiGetContext(cpu, d)

	case kd.APISetContext:
		s.apiSetContext(cpu, d)

	case kd.APIWriteBreakPoint:
		s.apiWriteBreakpoint(cpu, d)

	case kd.APIRestoreBreakPoint:
		s.apiRestoreBreakpoint(cpu, d)

	case kd.APIReadControlSpace:
		s.apiReadControlSpace(cpu, d)

	case kd.APIWriteControlSpace:
		s.apiWriteControlSpace(cpu, d)

	case kd.APIReadIoSpace:
		s.apiReadIoSpace(d)

	case kd.APIWriteIoSpace:
		s.apiWriteIoSpace(d)

	case kd.APIContinue, kd.APIContinue2:
		s.apiContinue(cpu, api, d)
		return

	case kd.APIReadPhysicalMemory:
		s.apiReadMemory(cpu, d, true)

	case kd.APIWritePhysicalMemory:
		s.apiWriteMemory(cpu, d, true)

	case kd.APIGetVersion:
		s.apiGetVersion(cpu, d)

	case kd.APIReadMachineSpecificReg:
		s.apiReadMsr(cpu, d)

	case kd.APIWriteMachineSpecificReg:
		s.apiWriteMsr(cpu, d)

	case kd.APISearchMemory:
		s.apiSearchMemory(cpu, d)

	case kd.APIClearAllInternalBreakpoint:
		return

	case kd.APIFillMemory:
		s.apiFillMemory(cpu, d)

	case kd.APIQueryMemory:
		s.apiQueryMemory(d)

	default:
		glog.L.Warn("unsupported manipulate api",
			zap.String("api", kd.APIName(api)))
		d.SetReturnStatus(kd.StatusUnsuccessful)
		d.Extra = 0
	}

	s.sendData(d.Buf[:kd.M64Size+d.Extra], s.p.Packet.Type)
}

// apiReadMemory serves the virtual and physical read APIs. The reply
// carries the achieved bytes after the header.
func (s *Session) apiReadMemory(cpu int, d *kd.PacketData, phys bool) {
	m := d.ReadMemory()

	count := int(m.TransferCount)
	if count > kd.PacketMaxSize-kd.M64Size {
		count = kd.PacketMaxSize - kd.M64Size
	}
	dst := d.Buf[kd.M64Size : kd.M64Size+count]

	var (
		n   int
		err error
	)
	if phys {
		n, err = s.m.PhysRW(uint32(m.TargetBaseAddress), dst, false)
	} else {
		n, err = s.m.MemRW(cpu, uint32(m.TargetBaseAddress), dst, false)
	}
	if err != nil || n == 0 {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}

	m.ActualBytesRead = uint32(n)
	d.SetReadMemory(m)
	d.Extra = n
}

// apiWriteMemory serves the virtual and physical write APIs.
func (s *Session) apiWriteMemory(cpu int, d *kd.PacketData, phys bool) {
	m := d.WriteMemory()

	count := min(d.Extra, int(m.TransferCount))
	src := d.Buf[kd.M64Size : kd.M64Size+count]

	var (
		n   int
		err error
	)
	if phys {
		n, err = s.m.PhysRW(uint32(m.TargetBaseAddress), src, true)
	} else {
		n, err = s.m.MemRW(cpu, uint32(m.TargetBaseAddress), src, true)
	}
	if err != nil || n == 0 {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}

	m.ActualBytesWritten = uint32(n)
	d.SetWriteMemory(m)
	d.Extra = 0
}

func (s *Session) apiGetContext(cpu int, d *kd.PacketData) {
	ctx, err := s.view.Context(cpu)
	if err != nil {
		d.SetReturnStatus(kd.StatusUnsuccessful)
		d.Extra = 0
		return
	}
	copy(d.Buf[kd.M64Size:], ctx.Encode())
	d.Extra = kd.ContextSize
}

// apiSetContext feeds the debugger-written debug-register image to the
// reconciler. The other registers in the image are not written back
// to the CPU; only the debug-register image takes effect.
func (s *Session) apiSetContext(cpu int, d *kd.PacketData) {
	ctx := kd.DecodeContext(d.Payload())
	if ctx.ContextFlags&kd.ContextFull != 0 {
		s.recon.Apply(cpu, [4]uint32{ctx.Dr0, ctx.Dr1, ctx.Dr2, ctx.Dr3}, ctx.Dr7)
	}
	d.Extra = 0
}

func (s *Session) apiWriteBreakpoint(cpu int, d *kd.PacketData) {
	wb := d.WriteBreakPoint()
	wb.BreakPointHandle = s.bps.Insert(cpu, uint32(wb.BreakPointAddress))
	if wb.BreakPointHandle == 0 {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}
	d.SetWriteBreakPoint(wb)
	d.Extra = 0
}

func (s *Session) apiRestoreBreakpoint(cpu int, d *kd.PacketData) {
	if err := s.bps.Remove(cpu, d.RestoreBreakPointHandle()); err != nil {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}
	d.Extra = 0
}

// apiReadControlSpace copies out of the processor-state image. Control
// space addresses index KPROCESSOR_STATE: the context occupies the
// first ContextSize bytes, the special registers follow.
func (s *Session) apiReadControlSpace(cpu int, d *kd.PacketData) {
	m := d.ReadMemory()

	off := int64(m.TargetBaseAddress) - kd.ContextSize
	n := 0
	if off >= 0 && off < kd.KSpecialSize {
		ks, err := s.view.KSpecial(cpu)
		if err == nil {
			blob := ks.Encode()
			n = copy(d.Buf[kd.M64Size:kd.M64Size+int(m.TransferCount)], blob[off:])
		}
	}
	if n == 0 {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}

	m.ActualBytesRead = uint32(n)
	d.SetReadMemory(m)
	d.Extra = n
}

// apiWriteControlSpace accepts the symmetric write. The stub does not
// push special registers back into the emulator; the transfer is
// acknowledged so the debugger's state round-trips.
func (s *Session) apiWriteControlSpace(cpu int, d *kd.PacketData) {
	m := d.WriteMemory()
	m.ActualBytesWritten = uint32(min(d.Extra, int(m.TransferCount)))
	d.SetWriteMemory(m)
	d.Extra = 0
}

func (s *Session) apiReadIoSpace(d *kd.PacketData) {
	io := d.ReadWriteIo()
	val, err := s.m.IoRead(io.IoAddress, int(io.DataSize))
	if err != nil {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	} else {
		io.DataValue = val
	}
	d.SetReadWriteIo(io)
	d.Extra = 0
}

func (s *Session) apiWriteIoSpace(d *kd.PacketData) {
	io := d.ReadWriteIo()
	if err := s.m.IoWrite(io.IoAddress, int(io.DataSize), io.DataValue); err != nil {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}
	d.SetReadWriteIo(io)
	d.Extra = 0
}

// apiContinue resumes the guest. A set trace flag single-steps instead
// and reports the new position with a fresh exception state change.
// Neither form gets a manipulate reply.
func (s *Session) apiContinue(cpu int, api uint32, d *kd.PacketData) {
	trace := false
	if api == kd.APIContinue2 {
		trace = d.Continue2().TraceFlag != 0
	}

	if !trace {
		s.m.Start()
		return
	}
	if err := s.m.SingleStep(cpu); err != nil {
		glog.L.Warn("single step failed", zap.Error(err))
	}
	s.sendExceptionStateChange(cpu)
}

// apiGetVersion copies the version block out of guest memory into the
// union, exactly as the kernel keeps it.
func (s *Session) apiGetVersion(cpu int, d *kd.PacketData) {
	addrs, err := s.view.ControlAddrs(cpu)
	if err != nil {
		d.SetReturnStatus(kd.StatusUnsuccessful)
		d.Extra = 0
		return
	}
	n, err := s.m.MemRW(cpu, addrs.Version,
		d.Buf[kd.M64UnionOffset:kd.M64UnionOffset+kd.VersionBlockSize], false)
	if err != nil || n != kd.VersionBlockSize {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}
	d.Extra = 0
}

func (s *Session) apiReadMsr(cpu int, d *kd.PacketData) {
	m := d.ReadWriteMsr()
	val, err := s.m.ReadMSR(cpu, m.Msr)
	if err != nil {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	} else {
		m.DataValueLow = uint32(val)
		m.DataValueHigh = uint32(val >> 32)
	}
	d.SetReadWriteMsr(m)
	d.Extra = 0
}

func (s *Session) apiWriteMsr(cpu int, d *kd.PacketData) {
	m := d.ReadWriteMsr()
	val := uint64(m.DataValueHigh)<<32 | uint64(m.DataValueLow)
	if err := s.m.WriteMSR(cpu, m.Msr, val); err != nil {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}
	d.SetReadWriteMsr(m)
	d.Extra = 0
}

// apiSearchMemory scans the window for the payload pattern, reading
// through guest memory in overlapping chunks.
func (s *Session) apiSearchMemory(cpu int, d *kd.PacketData) {
	sm := d.SearchMemory()
	patLen := int(sm.PatternLength)
	if patLen == 0 || patLen > d.Extra {
		d.SetReturnStatus(kd.StatusUnsuccessful)
		d.Extra = 0
		return
	}
	pattern := make([]byte, patLen)
	copy(pattern, d.Payload()[:patLen])

	const chunk = 4096
	found := false
	addr := uint32(sm.SearchAddress)
	remaining := int64(sm.SearchLength)

	buf := make([]byte, chunk+patLen-1)
	for remaining >= int64(patLen) && !found {
		want := int64(len(buf))
		if want > remaining {
			want = remaining
		}
		n, err := s.m.MemRW(cpu, addr, buf[:want], false)
		if err != nil || n < patLen {
			break
		}
		for i := 0; i+patLen <= n; i++ {
			if match(buf[i:i+patLen], pattern) {
				sm.SearchAddress = uint64(addr) + uint64(i)
				found = true
				break
			}
		}
		advance := int64(n - (patLen - 1))
		if advance <= 0 {
			break
		}
		addr += uint32(advance)
		remaining -= advance
	}

	if !found {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}
	d.SetSearchMemory(sm)
	d.Extra = 0
}

func match(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// apiFillMemory writes the repeated payload pattern over the target
// range, virtual or physical per the request flags.
func (s *Session) apiFillMemory(cpu int, d *kd.PacketData) {
	fm := d.FillMemory()
	patLen := int(fm.PatternLength)
	if patLen == 0 || patLen > d.Extra {
		d.SetReturnStatus(kd.StatusUnsuccessful)
		d.Extra = 0
		return
	}

	fill := make([]byte, fm.Length)
	for i := range fill {
		fill[i] = d.Payload()[i%patLen]
	}

	var (
		n   int
		err error
	)
	if fm.Flags&kd.FillMemoryFlagPhysical != 0 {
		n, err = s.m.PhysRW(uint32(fm.Address), fill, true)
	} else {
		n, err = s.m.MemRW(cpu, uint32(fm.Address), fill, true)
	}
	if err != nil || n == 0 {
		d.SetReturnStatus(kd.StatusUnsuccessful)
	}
	d.Extra = 0
}

// apiQueryMemory reports attributes for a guest virtual address with
// full access; finer-grained protection is not tracked.
func (s *Session) apiQueryMemory(d *kd.PacketData) {
	qm := d.QueryMemory()
	qm.AddressSpace = kd.QueryMemoryProcess
	qm.Flags = kd.QueryMemoryRead | kd.QueryMemoryWrite | kd.QueryMemoryExecute
	d.SetQueryMemory(qm)
	d.Extra = 0
}
