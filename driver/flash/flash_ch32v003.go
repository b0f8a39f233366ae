//go:build tinygo && ch32v003

package flash

import (
	"runtime/volatile"
	"unsafe"
)

// The linker script defines __flash_nv_offset at the address equal to
// the number of flash bytes given to the program. It must equal
// ReservedOffset:
//
//	__flash_nv_offset = 16320;
//
//go:extern __flash_nv_offset
var nvOffsetSymbol [0]byte

func init() {
	if err := checkLinkedOffset(linkedOffset()); err != nil {
		panic(err.Error())
	}
}

func linkedOffset() uint32 {
	return uint32(uintptr(unsafe.Pointer(&nvOffsetSymbol)))
}

// MMIO is the bus of the on-chip flash controller.
var MMIO Bus = mmioBus{}

type mmioBus struct{}

func reg32(r Reg) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(RegBase + r.Offset())))
}

func (mmioBus) Reg(r Reg) uint32 {
	return reg32(r).Get()
}

func (mmioBus) SetReg(r Reg, v uint32) {
	reg32(r).Set(v)
}

func (mmioBus) Load8(addr uint32) uint8 {
	return (*volatile.Register8)(unsafe.Pointer(uintptr(addr))).Get()
}

func (mmioBus) Load16(addr uint32) uint16 {
	return (*volatile.Register16)(unsafe.Pointer(uintptr(addr))).Get()
}

func (mmioBus) Store16(addr uint32, v uint16) {
	(*volatile.Register16)(unsafe.Pointer(uintptr(addr))).Set(v)
}

// LinkedRegion returns the default region with the nonvolatile boundary
// taken from the linker script. Start up has verified that it agrees
// with NonvolatileStart.
func LinkedRegion() Region {
	r := DefaultRegion
	r.ReservedOffset = linkedOffset()
	return r
}

// Default returns a controller for the on-chip flash.
func Default() *Controller {
	return New(MMIO, LinkedRegion())
}
