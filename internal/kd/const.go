// Package kd defines the Windows kernel-debugger wire format: packet
// framing constants, the 16-byte packet header, the manipulate-state
// request/response layouts, and the 32-bit x86 context blobs the
// debugger reads and writes. Everything here is little-endian on the
// wire and bit-exact against the layouts WinDbg expects.
package kd

// Packet leaders and framing bytes.
const (
	PacketLeader        uint32 = 0x30303030 // '0000', data packet
	ControlPacketLeader uint32 = 0x69696969 // 'iiii', control packet

	PacketLeaderByte        byte = 0x30
	ControlPacketLeaderByte byte = 0x69
	BreakinPacketByte       byte = 0x62
	PacketTrailingByte      byte = 0xAA
)

// PacketMaxSize is the largest payload a data packet may carry.
const PacketMaxSize = 4000

// Packet id seeds. The control counter starts at ResetPacketID and the
// data counter at InitialPacketID|SyncPacketID; each successful send
// toggles the low bit of the corresponding counter.
const (
	InitialPacketID uint32 = 0x80800000
	SyncPacketID    uint32 = 0x00000800
	ResetPacketID   uint32 = 0x80800000
)

// Packet types.
const (
	PacketTypeUnused uint16 = iota
	PacketTypeKDStateChange32
	PacketTypeKDStateManipulate
	PacketTypeKDDebugIO
	PacketTypeKDAcknowledge
	PacketTypeKDResend
	PacketTypeKDReset
	PacketTypeKDStateChange64
	PacketTypeKDPollBreakin
	PacketTypeKDTraceIO
	PacketTypeKDControlRequest
	PacketTypeKDFileIO
	PacketTypeMax
)

// Manipulate-state API numbers (DBGKD_MANIPULATE_STATE64.ApiNumber).
const (
	APIReadVirtualMemory          uint32 = 0x00003130
	APIWriteVirtualMemory         uint32 = 0x00003131
	APIGetContext                 uint32 = 0x00003132
	APISetContext                 uint32 = 0x00003133
	APIWriteBreakPoint            uint32 = 0x00003134
	APIRestoreBreakPoint          uint32 = 0x00003135
	APIContinue                   uint32 = 0x00003136
	APIReadControlSpace           uint32 = 0x00003137
	APIWriteControlSpace          uint32 = 0x00003138
	APIReadIoSpace                uint32 = 0x00003139
	APIWriteIoSpace               uint32 = 0x0000313A
	APIReboot                     uint32 = 0x0000313B
	APIContinue2                  uint32 = 0x0000313C
	APIReadPhysicalMemory         uint32 = 0x0000313D
	APIWritePhysicalMemory        uint32 = 0x0000313E
	APIQuerySpecialCalls          uint32 = 0x0000313F
	APISetSpecialCall             uint32 = 0x00003140
	APIClearSpecialCalls          uint32 = 0x00003141
	APISetInternalBreakPoint      uint32 = 0x00003142
	APIGetInternalBreakPoint      uint32 = 0x00003143
	APIReadIoSpaceExtended        uint32 = 0x00003144
	APIWriteIoSpaceExtended       uint32 = 0x00003145
	APIGetVersion                 uint32 = 0x00003146
	APIWriteBreakPointEx          uint32 = 0x00003147
	APIRestoreBreakPointEx        uint32 = 0x00003148
	APICauseBugCheck              uint32 = 0x00003149
	APISwitchProcessor            uint32 = 0x00003150
	APIPageIn                     uint32 = 0x00003151
	APIReadMachineSpecificReg     uint32 = 0x00003152
	APIWriteMachineSpecificReg    uint32 = 0x00003153
	APISearchMemory               uint32 = 0x00003156
	APIGetBusData                 uint32 = 0x00003157
	APISetBusData                 uint32 = 0x00003158
	APICheckLowMemory             uint32 = 0x00003159
	APIClearAllInternalBreakpoint uint32 = 0x0000315A
	APIFillMemory                 uint32 = 0x0000315B
	APIQueryMemory                uint32 = 0x0000315C
	APISwitchPartition            uint32 = 0x0000315D
)

// Wait-state-change kinds (DBGKD_ANY_WAIT_STATE_CHANGE.NewState).
const (
	ExceptionStateChange   uint32 = 0x00003030
	LoadSymbolsStateChange uint32 = 0x00003031
)

// NT status codes carried in ReturnStatus.
const (
	StatusSuccess      uint32 = 0x00000000
	StatusUnsuccessful uint32 = 0xC0000001
)

// StatusBreakpoint is the exception code reported on break-in and
// breakpoint hits (STATUS_BREAKPOINT).
const StatusBreakpoint uint32 = 0x80000003

// BreakpointMax is the capacity of the software breakpoint table.
const BreakpointMax = 32

// Guest structure walk offsets. The KPCR linear address is the FS
// base; KPRCB and the version block hang off it at fixed offsets for
// the 32-bit kernels this stub targets.
const (
	OffsetKPRCB           = 0x120
	OffsetKPRCBCurrThread = 0x4
	OffsetVersion         = 0x34
	OffsetKernelBase      = 0x10
)

// NTKernelPathAddr is the fixed guest address holding the kernel image
// path as a wide-character string.
const NTKernelPathAddr uint32 = 0x89000FB8

// KernelPathMax bounds the wide-character kernel path read.
const KernelPathMax = 128

// Fixed wire sizes.
const (
	PacketHeaderSize = 16
	M64Size          = 56  // DBGKD_MANIPULATE_STATE64
	ContextSize      = 716 // x86 CONTEXT
	KSpecialSize     = 84  // x86 KSPECIAL_REGISTERS
	StateChangeSize  = 240 // DBGKD_ANY_WAIT_STATE_CHANGE
	VersionBlockSize = 40  // DBGKD_GET_VERSION64
)
