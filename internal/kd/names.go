package kd

import "fmt"

var packetTypeNames = map[uint16]string{
	PacketTypeUnused:            "PACKET_TYPE_UNUSED",
	PacketTypeKDStateChange32:   "PACKET_TYPE_KD_STATE_CHANGE32",
	PacketTypeKDStateManipulate: "PACKET_TYPE_KD_STATE_MANIPULATE",
	PacketTypeKDDebugIO:         "PACKET_TYPE_KD_DEBUG_IO",
	PacketTypeKDAcknowledge:     "PACKET_TYPE_KD_ACKNOWLEDGE",
	PacketTypeKDResend:          "PACKET_TYPE_KD_RESEND",
	PacketTypeKDReset:           "PACKET_TYPE_KD_RESET",
	PacketTypeKDStateChange64:   "PACKET_TYPE_KD_STATE_CHANGE64",
	PacketTypeKDPollBreakin:     "PACKET_TYPE_KD_POLL_BREAKIN",
	PacketTypeKDTraceIO:         "PACKET_TYPE_KD_TRACE_IO",
	PacketTypeKDControlRequest:  "PACKET_TYPE_KD_CONTROL_REQUEST",
	PacketTypeKDFileIO:          "PACKET_TYPE_KD_FILE_IO",
}

// PacketTypeName returns the canonical name of a packet type.
func PacketTypeName(t uint16) string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PACKET_TYPE_0x%x", t)
}

var apiNames = map[uint32]string{
	APIReadVirtualMemory:          "DbgKdReadVirtualMemoryApi",
	APIWriteVirtualMemory:         "DbgKdWriteVirtualMemoryApi",
	APIGetContext:                 "DbgKdGetContextApi",
	APISetContext:                 "DbgKdSetContextApi",
	APIWriteBreakPoint:            "DbgKdWriteBreakPointApi",
	APIRestoreBreakPoint:          "DbgKdRestoreBreakPointApi",
	APIContinue:                   "DbgKdContinueApi",
	APIReadControlSpace:           "DbgKdReadControlSpaceApi",
	APIWriteControlSpace:          "DbgKdWriteControlSpaceApi",
	APIReadIoSpace:                "DbgKdReadIoSpaceApi",
	APIWriteIoSpace:               "DbgKdWriteIoSpaceApi",
	APIReboot:                     "DbgKdRebootApi",
	APIContinue2:                  "DbgKdContinueApi2",
	APIReadPhysicalMemory:         "DbgKdReadPhysicalMemoryApi",
	APIWritePhysicalMemory:        "DbgKdWritePhysicalMemoryApi",
	APIQuerySpecialCalls:          "DbgKdQuerySpecialCallsApi",
	APISetSpecialCall:             "DbgKdSetSpecialCallApi",
	APIClearSpecialCalls:          "DbgKdClearSpecialCallsApi",
	APISetInternalBreakPoint:      "DbgKdSetInternalBreakPointApi",
	APIGetInternalBreakPoint:      "DbgKdGetInternalBreakPointApi",
	APIReadIoSpaceExtended:        "DbgKdReadIoSpaceExtendedApi",
	APIWriteIoSpaceExtended:       "DbgKdWriteIoSpaceExtendedApi",
	APIGetVersion:                 "DbgKdGetVersionApi",
	APIWriteBreakPointEx:          "DbgKdWriteBreakPointExApi",
	APIRestoreBreakPointEx:        "DbgKdRestoreBreakPointExApi",
	APICauseBugCheck:              "DbgKdCauseBugCheckApi",
	APISwitchProcessor:            "DbgKdSwitchProcessor",
	APIPageIn:                     "DbgKdPageInApi",
	APIReadMachineSpecificReg:     "DbgKdReadMachineSpecificRegister",
	APIWriteMachineSpecificReg:    "DbgKdWriteMachineSpecificRegister",
	APISearchMemory:               "DbgKdSearchMemoryApi",
	APIGetBusData:                 "DbgKdGetBusDataApi",
	APISetBusData:                 "DbgKdSetBusDataApi",
	APICheckLowMemory:             "DbgKdCheckLowMemoryApi",
	APIClearAllInternalBreakpoint: "DbgKdClearAllInternalBreakpointsApi",
	APIFillMemory:                 "DbgKdFillMemoryApi",
	APIQueryMemory:                "DbgKdQueryMemoryApi",
	APISwitchPartition:            "DbgKdSwitchPartition",
}

// APIName returns the canonical name of a manipulate API number.
func APIName(api uint32) string {
	if name, ok := apiNames[api]; ok {
		return name
	}
	return fmt.Sprintf("DbgKdApi_0x%x", api)
}
