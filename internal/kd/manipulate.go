package kd

import "encoding/binary"

// PacketData is the staging buffer for one data packet. The dispatcher
// mutates it in place to form the response: the fixed manipulate
// header stays at offset 0, API-specific payload follows at M64Size,
// and Extra tracks how many payload bytes the reply carries.
type PacketData struct {
	Buf   [PacketMaxSize]byte
	Extra int
}

// M64UnionOffset locates the API union within the manipulate header;
// the four bytes before it are alignment padding in the C layout.
const M64UnionOffset = 16

const (
	m64APINumber      = 0
	m64ProcessorLevel = 4
	m64Processor      = 6
	m64ReturnStatus   = 8
	m64Union          = M64UnionOffset
)

// APINumber returns the request's ApiNumber.
func (d *PacketData) APINumber() uint32 {
	return binary.LittleEndian.Uint32(d.Buf[m64APINumber:])
}

// Processor returns the processor index the request targets.
func (d *PacketData) Processor() uint16 {
	return binary.LittleEndian.Uint16(d.Buf[m64Processor:])
}

// ReturnStatus returns the status field of the reply under
// construction.
func (d *PacketData) ReturnStatus() uint32 {
	return binary.LittleEndian.Uint32(d.Buf[m64ReturnStatus:])
}

// SetReturnStatus sets the reply status.
func (d *PacketData) SetReturnStatus(status uint32) {
	binary.LittleEndian.PutUint32(d.Buf[m64ReturnStatus:], status)
}

// Payload returns the API payload region beyond the fixed header,
// bounded by Extra.
func (d *PacketData) Payload() []byte {
	return d.Buf[M64Size : M64Size+d.Extra]
}

// Union returns the 40-byte API union region of the header.
func (d *PacketData) Union() []byte {
	return d.Buf[m64Union:M64Size]
}

// ReadMemory is DBGKD_READ_MEMORY64, shared by the virtual, physical
// and control-space transfer APIs.
type ReadMemory struct {
	TargetBaseAddress uint64
	TransferCount     uint32
	ActualBytesRead   uint32
}

// ReadMemory decodes the union as DBGKD_READ_MEMORY64.
func (d *PacketData) ReadMemory() ReadMemory {
	u := d.Union()
	return ReadMemory{
		TargetBaseAddress: binary.LittleEndian.Uint64(u[0:]),
		TransferCount:     binary.LittleEndian.Uint32(u[8:]),
		ActualBytesRead:   binary.LittleEndian.Uint32(u[12:]),
	}
}

// SetReadMemory encodes the union as DBGKD_READ_MEMORY64.
func (d *PacketData) SetReadMemory(m ReadMemory) {
	u := d.Union()
	binary.LittleEndian.PutUint64(u[0:], m.TargetBaseAddress)
	binary.LittleEndian.PutUint32(u[8:], m.TransferCount)
	binary.LittleEndian.PutUint32(u[12:], m.ActualBytesRead)
}

// WriteMemory is DBGKD_WRITE_MEMORY64.
type WriteMemory struct {
	TargetBaseAddress  uint64
	TransferCount      uint32
	ActualBytesWritten uint32
}

// WriteMemory decodes the union as DBGKD_WRITE_MEMORY64.
func (d *PacketData) WriteMemory() WriteMemory {
	u := d.Union()
	return WriteMemory{
		TargetBaseAddress:  binary.LittleEndian.Uint64(u[0:]),
		TransferCount:      binary.LittleEndian.Uint32(u[8:]),
		ActualBytesWritten: binary.LittleEndian.Uint32(u[12:]),
	}
}

// SetWriteMemory encodes the union as DBGKD_WRITE_MEMORY64.
func (d *PacketData) SetWriteMemory(m WriteMemory) {
	u := d.Union()
	binary.LittleEndian.PutUint64(u[0:], m.TargetBaseAddress)
	binary.LittleEndian.PutUint32(u[8:], m.TransferCount)
	binary.LittleEndian.PutUint32(u[12:], m.ActualBytesWritten)
}

// GetSetContext is DBGKD_GET_CONTEXT / DBGKD_SET_CONTEXT: the union
// carries only the context following the header.
type GetSetContext struct {
	ContextFlags uint32
}

// WriteBreakPoint is DBGKD_WRITE_BREAKPOINT64.
type WriteBreakPoint struct {
	BreakPointAddress uint64
	BreakPointHandle  uint32
}

// WriteBreakPoint decodes the union as DBGKD_WRITE_BREAKPOINT64.
func (d *PacketData) WriteBreakPoint() WriteBreakPoint {
	u := d.Union()
	return WriteBreakPoint{
		BreakPointAddress: binary.LittleEndian.Uint64(u[0:]),
		BreakPointHandle:  binary.LittleEndian.Uint32(u[8:]),
	}
}

// SetWriteBreakPoint encodes the union as DBGKD_WRITE_BREAKPOINT64.
func (d *PacketData) SetWriteBreakPoint(m WriteBreakPoint) {
	u := d.Union()
	binary.LittleEndian.PutUint64(u[0:], m.BreakPointAddress)
	binary.LittleEndian.PutUint32(u[8:], m.BreakPointHandle)
}

// RestoreBreakPointHandle returns the handle of a restore request
// (DBGKD_RESTORE_BREAKPOINT).
func (d *PacketData) RestoreBreakPointHandle() uint32 {
	return binary.LittleEndian.Uint32(d.Union())
}

// Continue2 is DBGKD_CONTINUE2 with the x86 control set.
type Continue2 struct {
	ContinueStatus     uint32
	TraceFlag          uint32
	Dr7                uint32
	CurrentSymbolStart uint32
	CurrentSymbolEnd   uint32
}

// Continue2 decodes the union as DBGKD_CONTINUE2.
func (d *PacketData) Continue2() Continue2 {
	u := d.Union()
	return Continue2{
		ContinueStatus:     binary.LittleEndian.Uint32(u[0:]),
		TraceFlag:          binary.LittleEndian.Uint32(u[4:]),
		Dr7:                binary.LittleEndian.Uint32(u[8:]),
		CurrentSymbolStart: binary.LittleEndian.Uint32(u[12:]),
		CurrentSymbolEnd:   binary.LittleEndian.Uint32(u[16:]),
	}
}

// ReadWriteIo is DBGKD_READ_WRITE_IO64.
type ReadWriteIo struct {
	IoAddress uint64
	DataSize  uint32
	DataValue uint32
}

// ReadWriteIo decodes the union as DBGKD_READ_WRITE_IO64.
func (d *PacketData) ReadWriteIo() ReadWriteIo {
	u := d.Union()
	return ReadWriteIo{
		IoAddress: binary.LittleEndian.Uint64(u[0:]),
		DataSize:  binary.LittleEndian.Uint32(u[8:]),
		DataValue: binary.LittleEndian.Uint32(u[12:]),
	}
}

// SetReadWriteIo encodes the union as DBGKD_READ_WRITE_IO64.
func (d *PacketData) SetReadWriteIo(m ReadWriteIo) {
	u := d.Union()
	binary.LittleEndian.PutUint64(u[0:], m.IoAddress)
	binary.LittleEndian.PutUint32(u[8:], m.DataSize)
	binary.LittleEndian.PutUint32(u[12:], m.DataValue)
}

// ReadWriteMsr is DBGKD_READ_WRITE_MSR.
type ReadWriteMsr struct {
	Msr           uint32
	DataValueLow  uint32
	DataValueHigh uint32
}

// ReadWriteMsr decodes the union as DBGKD_READ_WRITE_MSR.
func (d *PacketData) ReadWriteMsr() ReadWriteMsr {
	u := d.Union()
	return ReadWriteMsr{
		Msr:           binary.LittleEndian.Uint32(u[0:]),
		DataValueLow:  binary.LittleEndian.Uint32(u[4:]),
		DataValueHigh: binary.LittleEndian.Uint32(u[8:]),
	}
}

// SetReadWriteMsr encodes the union as DBGKD_READ_WRITE_MSR.
func (d *PacketData) SetReadWriteMsr(m ReadWriteMsr) {
	u := d.Union()
	binary.LittleEndian.PutUint32(u[0:], m.Msr)
	binary.LittleEndian.PutUint32(u[4:], m.DataValueLow)
	binary.LittleEndian.PutUint32(u[8:], m.DataValueHigh)
}

// SearchMemory is DBGKD_SEARCH_MEMORY; the pattern rides in the
// payload region.
type SearchMemory struct {
	SearchAddress uint64
	SearchLength  uint64
	PatternLength uint32
}

// SearchMemory decodes the union as DBGKD_SEARCH_MEMORY.
func (d *PacketData) SearchMemory() SearchMemory {
	u := d.Union()
	return SearchMemory{
		SearchAddress: binary.LittleEndian.Uint64(u[0:]),
		SearchLength:  binary.LittleEndian.Uint64(u[8:]),
		PatternLength: binary.LittleEndian.Uint32(u[16:]),
	}
}

// SetSearchMemory encodes the union as DBGKD_SEARCH_MEMORY.
func (d *PacketData) SetSearchMemory(m SearchMemory) {
	u := d.Union()
	binary.LittleEndian.PutUint64(u[0:], m.SearchAddress)
	binary.LittleEndian.PutUint64(u[8:], m.SearchLength)
	binary.LittleEndian.PutUint32(u[16:], m.PatternLength)
}

// FillMemoryFlagPhysical selects the physical address space in a fill
// request.
const FillMemoryFlagPhysical = 0x2

// FillMemory is DBGKD_FILL_MEMORY; the pattern rides in the payload
// region.
type FillMemory struct {
	Address       uint64
	Length        uint32
	Flags         uint16
	PatternLength uint16
}

// FillMemory decodes the union as DBGKD_FILL_MEMORY.
func (d *PacketData) FillMemory() FillMemory {
	u := d.Union()
	return FillMemory{
		Address:       binary.LittleEndian.Uint64(u[0:]),
		Length:        binary.LittleEndian.Uint32(u[8:]),
		Flags:         binary.LittleEndian.Uint16(u[12:]),
		PatternLength: binary.LittleEndian.Uint16(u[14:]),
	}
}

// Query-memory address spaces and attribute flags.
const (
	QueryMemoryProcess = 0
	QueryMemorySession = 1
	QueryMemoryKernel  = 2

	QueryMemoryRead    = 0x01
	QueryMemoryWrite   = 0x02
	QueryMemoryExecute = 0x04
)

// QueryMemory is DBGKD_QUERY_MEMORY.
type QueryMemory struct {
	Address      uint64
	Reserved     uint64
	AddressSpace uint32
	Flags        uint32
}

// QueryMemory decodes the union as DBGKD_QUERY_MEMORY.
func (d *PacketData) QueryMemory() QueryMemory {
	u := d.Union()
	return QueryMemory{
		Address:      binary.LittleEndian.Uint64(u[0:]),
		Reserved:     binary.LittleEndian.Uint64(u[8:]),
		AddressSpace: binary.LittleEndian.Uint32(u[16:]),
		Flags:        binary.LittleEndian.Uint32(u[20:]),
	}
}

// SetQueryMemory encodes the union as DBGKD_QUERY_MEMORY.
func (d *PacketData) SetQueryMemory(m QueryMemory) {
	u := d.Union()
	binary.LittleEndian.PutUint64(u[0:], m.Address)
	binary.LittleEndian.PutUint64(u[8:], m.Reserved)
	binary.LittleEndian.PutUint32(u[16:], m.AddressSpace)
	binary.LittleEndian.PutUint32(u[20:], m.Flags)
}
