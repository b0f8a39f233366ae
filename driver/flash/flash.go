// Package flash drives the program-flash controller of the WCH CH32V003
// microcontroller.
//
// Reads may happen at any time. To alter the main array, unlock the
// controller, erase the page(s), program the new values and lock it
// again. To alter the DATA0 and DATA1 option bytes, unlock both the
// controller and the option bytes and call WriteOptionBytes16; it
// restores the remaining option bytes after erasing the block.
//
// Erasing and programming addresses outside the flash array is likely
// to hang the microcontroller. No operation checks for that.
package flash

// Bus gives access to the flash controller registers and the memory
// mapped flash array.
type Bus interface {
	Reg(r Reg) uint32
	SetReg(r Reg, v uint32)
	Load8(addr uint32) uint8
	Load16(addr uint32) uint16
	Store16(addr uint32, v uint16)
}

// Reg is a flash controller register.
type Reg uint8

const (
	ACTLR Reg = iota
	KEYR
	OBKEYR
	STATR
	CTLR
	ADDR
	OBR
	WPR

	numRegs
)

// RegBase is the address of the flash controller register block.
const RegBase = 0x40022000

var regOffsets = [numRegs]uint32{
	ACTLR:  0x00,
	KEYR:   0x04,
	OBKEYR: 0x08,
	STATR:  0x0c,
	CTLR:   0x10,
	ADDR:   0x14,
	OBR:    0x1c,
	WPR:    0x20,
}

var regNames = [numRegs]string{
	ACTLR:  "ACTLR",
	KEYR:   "KEYR",
	OBKEYR: "OBKEYR",
	STATR:  "STATR",
	CTLR:   "CTLR",
	ADDR:   "ADDR",
	OBR:    "OBR",
	WPR:    "WPR",
}

// Offset returns the byte offset of r from RegBase.
func (r Reg) Offset() uint32 {
	return regOffsets[r]
}

// Valid reports whether r is one of the documented registers.
func (r Reg) Valid() bool {
	return r < numRegs
}

func (r Reg) String() string {
	if !r.Valid() {
		return "Reg(?)"
	}
	return regNames[r]
}

// RegAt returns the register at byte offset off from RegBase.
func RegAt(off uint32) (Reg, bool) {
	for r, o := range regOffsets {
		if o == off {
			return Reg(r), true
		}
	}
	return 0, false
}

const (
	// Unlock keys, written in order to KEYR or OBKEYR.
	Key1 = 0x45670123
	Key2 = 0xCDEF89AB

	// CTLR bits.
	CTLR_PG     = 0x01
	CTLR_PER    = 0x02
	CTLR_OPTPG  = 0x10
	CTLR_OPTER  = 0x20
	CTLR_STRT   = 0x40
	CTLR_LOCK   = 0x80
	CTLR_OPTWRE = 0x200

	// STATR bits.
	STATR_BSY      = 0x01
	STATR_WRPRTERR = 0x10
	STATR_EOP      = 0x20

	// ACTLR latency values.
	Latency0 = 0x0
	Latency1 = 0x1
)

// Controller is the single handle to the flash controller. It has no
// locking of its own; exactly one caller may mutate flash at a time.
type Controller struct {
	bus    Bus
	region Region
}

func New(bus Bus, r Region) *Controller {
	return &Controller{bus: bus, region: r}
}

// Region returns the flash layout the controller was created with.
func (c *Controller) Region() Region {
	return c.region
}

func (c *Controller) setBits(r Reg, bits uint32) {
	c.bus.SetReg(r, c.bus.Reg(r)|bits)
}

func (c *Controller) clearBits(r Reg, bits uint32) {
	c.bus.SetReg(r, c.bus.Reg(r)&^bits)
}
