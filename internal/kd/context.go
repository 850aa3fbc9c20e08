package kd

import "encoding/binary"

// Context flag bits for the x86 CONTEXT structure.
const (
	ContextI386              uint32 = 0x00010000
	ContextControl           uint32 = ContextI386 | 0x01
	ContextInteger           uint32 = ContextI386 | 0x02
	ContextSegments          uint32 = ContextI386 | 0x04
	ContextFloatingPoint     uint32 = ContextI386 | 0x08
	ContextDebugRegisters    uint32 = ContextI386 | 0x10
	ContextExtendedRegisters uint32 = ContextI386 | 0x20

	ContextFull = ContextControl | ContextInteger | ContextSegments
	ContextAll  = ContextFull | ContextFloatingPoint | ContextDebugRegisters | ContextExtendedRegisters
)

// FloatSave is the 112-byte FLOATING_SAVE_AREA embedded in Context.
type FloatSave struct {
	ControlWord   uint32
	StatusWord    uint32
	TagWord       uint32
	ErrorOffset   uint32
	ErrorSelector uint32
	DataOffset    uint32
	DataSelector  uint32
	RegisterArea  [80]byte // eight 10-byte ST slots
	Cr0NpxState   uint32
}

// Context is the 716-byte x86 CONTEXT structure in its wire layout.
type Context struct {
	ContextFlags uint32

	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7 uint32

	FloatSave FloatSave

	SegGs, SegFs, SegEs, SegDs uint32

	Edi, Esi, Ebx, Edx, Ecx, Eax uint32
	Ebp, Eip                     uint32
	SegCs                        uint32
	EFlags                       uint32
	Esp                          uint32
	SegSs                        uint32

	ExtendedRegisters [512]byte
}

// Field offsets within the serialized CONTEXT.
const (
	ctxFlags     = 0x00
	ctxDr0       = 0x04
	ctxFloatSave = 0x1C
	ctxSegGs     = 0x8C
	ctxEdi       = 0x9C
	ctxExtended  = 0xCC

	// Inside ExtendedRegisters: MXCSR dword and the first XMM slot.
	ExtMxcsrOffset = 24
	ExtXmmOffset   = 160
)

// Encode serializes the context little-endian into a fresh
// ContextSize-byte slice.
func (c *Context) Encode() []byte {
	buf := make([]byte, ContextSize)
	le := binary.LittleEndian

	le.PutUint32(buf[ctxFlags:], c.ContextFlags)
	le.PutUint32(buf[ctxDr0+0:], c.Dr0)
	le.PutUint32(buf[ctxDr0+4:], c.Dr1)
	le.PutUint32(buf[ctxDr0+8:], c.Dr2)
	le.PutUint32(buf[ctxDr0+12:], c.Dr3)
	le.PutUint32(buf[ctxDr0+16:], c.Dr6)
	le.PutUint32(buf[ctxDr0+20:], c.Dr7)

	fs := buf[ctxFloatSave:]
	le.PutUint32(fs[0:], c.FloatSave.ControlWord)
	le.PutUint32(fs[4:], c.FloatSave.StatusWord)
	le.PutUint32(fs[8:], c.FloatSave.TagWord)
	le.PutUint32(fs[12:], c.FloatSave.ErrorOffset)
	le.PutUint32(fs[16:], c.FloatSave.ErrorSelector)
	le.PutUint32(fs[20:], c.FloatSave.DataOffset)
	le.PutUint32(fs[24:], c.FloatSave.DataSelector)
	copy(fs[28:108], c.FloatSave.RegisterArea[:])
	le.PutUint32(fs[108:], c.FloatSave.Cr0NpxState)

	le.PutUint32(buf[ctxSegGs+0:], c.SegGs)
	le.PutUint32(buf[ctxSegGs+4:], c.SegFs)
	le.PutUint32(buf[ctxSegGs+8:], c.SegEs)
	le.PutUint32(buf[ctxSegGs+12:], c.SegDs)

	le.PutUint32(buf[ctxEdi+0:], c.Edi)
	le.PutUint32(buf[ctxEdi+4:], c.Esi)
	le.PutUint32(buf[ctxEdi+8:], c.Ebx)
	le.PutUint32(buf[ctxEdi+12:], c.Edx)
	le.PutUint32(buf[ctxEdi+16:], c.Ecx)
	le.PutUint32(buf[ctxEdi+20:], c.Eax)
	le.PutUint32(buf[ctxEdi+24:], c.Ebp)
	le.PutUint32(buf[ctxEdi+28:], c.Eip)
	le.PutUint32(buf[ctxEdi+32:], c.SegCs)
	le.PutUint32(buf[ctxEdi+36:], c.EFlags)
	le.PutUint32(buf[ctxEdi+40:], c.Esp)
	le.PutUint32(buf[ctxEdi+44:], c.SegSs)

	copy(buf[ctxExtended:], c.ExtendedRegisters[:])
	return buf
}

// DecodeContext parses a serialized CONTEXT. Short input decodes the
// covered prefix; the debugger routinely sends full-size images.
func DecodeContext(buf []byte) Context {
	full := make([]byte, ContextSize)
	copy(full, buf)
	le := binary.LittleEndian

	var c Context
	c.ContextFlags = le.Uint32(full[ctxFlags:])
	c.Dr0 = le.Uint32(full[ctxDr0+0:])
	c.Dr1 = le.Uint32(full[ctxDr0+4:])
	c.Dr2 = le.Uint32(full[ctxDr0+8:])
	c.Dr3 = le.Uint32(full[ctxDr0+12:])
	c.Dr6 = le.Uint32(full[ctxDr0+16:])
	c.Dr7 = le.Uint32(full[ctxDr0+20:])

	fs := full[ctxFloatSave:]
	c.FloatSave.ControlWord = le.Uint32(fs[0:])
	c.FloatSave.StatusWord = le.Uint32(fs[4:])
	c.FloatSave.TagWord = le.Uint32(fs[8:])
	c.FloatSave.ErrorOffset = le.Uint32(fs[12:])
	c.FloatSave.ErrorSelector = le.Uint32(fs[16:])
	c.FloatSave.DataOffset = le.Uint32(fs[20:])
	c.FloatSave.DataSelector = le.Uint32(fs[24:])
	copy(c.FloatSave.RegisterArea[:], fs[28:108])
	c.FloatSave.Cr0NpxState = le.Uint32(fs[108:])

	c.SegGs = le.Uint32(full[ctxSegGs+0:])
	c.SegFs = le.Uint32(full[ctxSegGs+4:])
	c.SegEs = le.Uint32(full[ctxSegGs+8:])
	c.SegDs = le.Uint32(full[ctxSegGs+12:])

	c.Edi = le.Uint32(full[ctxEdi+0:])
	c.Esi = le.Uint32(full[ctxEdi+4:])
	c.Ebx = le.Uint32(full[ctxEdi+8:])
	c.Edx = le.Uint32(full[ctxEdi+12:])
	c.Ecx = le.Uint32(full[ctxEdi+16:])
	c.Eax = le.Uint32(full[ctxEdi+20:])
	c.Ebp = le.Uint32(full[ctxEdi+24:])
	c.Eip = le.Uint32(full[ctxEdi+28:])
	c.SegCs = le.Uint32(full[ctxEdi+32:])
	c.EFlags = le.Uint32(full[ctxEdi+36:])
	c.Esp = le.Uint32(full[ctxEdi+40:])
	c.SegSs = le.Uint32(full[ctxEdi+44:])

	copy(c.ExtendedRegisters[:], full[ctxExtended:])
	return c
}

// Descriptor is the KDESCRIPTOR wire shape used for GDTR and IDTR.
type Descriptor struct {
	Pad   uint16
	Limit uint16
	Base  uint32
}

// KSpecialRegisters is the 84-byte x86 KSPECIAL_REGISTERS structure.
type KSpecialRegisters struct {
	Cr0, Cr2, Cr3, Cr4 uint32

	KernelDr0, KernelDr1, KernelDr2, KernelDr3 uint32
	KernelDr6, KernelDr7                       uint32

	Gdtr Descriptor
	Idtr Descriptor

	Tr   uint16
	Ldtr uint16

	Reserved [6]uint32
}

// Encode serializes the special registers little-endian.
func (k *KSpecialRegisters) Encode() []byte {
	buf := make([]byte, KSpecialSize)
	le := binary.LittleEndian

	le.PutUint32(buf[0:], k.Cr0)
	le.PutUint32(buf[4:], k.Cr2)
	le.PutUint32(buf[8:], k.Cr3)
	le.PutUint32(buf[12:], k.Cr4)

	le.PutUint32(buf[16:], k.KernelDr0)
	le.PutUint32(buf[20:], k.KernelDr1)
	le.PutUint32(buf[24:], k.KernelDr2)
	le.PutUint32(buf[28:], k.KernelDr3)
	le.PutUint32(buf[32:], k.KernelDr6)
	le.PutUint32(buf[36:], k.KernelDr7)

	le.PutUint16(buf[40:], k.Gdtr.Pad)
	le.PutUint16(buf[42:], k.Gdtr.Limit)
	le.PutUint32(buf[44:], k.Gdtr.Base)
	le.PutUint16(buf[48:], k.Idtr.Pad)
	le.PutUint16(buf[50:], k.Idtr.Limit)
	le.PutUint32(buf[52:], k.Idtr.Base)

	le.PutUint16(buf[56:], k.Tr)
	le.PutUint16(buf[58:], k.Ldtr)

	for i, r := range k.Reserved {
		le.PutUint32(buf[60+i*4:], r)
	}
	return buf
}
