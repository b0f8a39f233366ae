package flash

import "math"

// Program16 writes a half-word to an erased, half-word aligned address.
// Nothing happens if the controller is locked. The result is not
// verified.
func (c *Controller) Program16(addr uint32, v uint16) {
	if c.Locked() {
		return
	}
	c.WaitUntilNotBusy()
	c.setBits(CTLR, CTLR_PG)
	c.bus.Store16(addr, v)
	c.WaitUntilNotBusy()
	c.clearBits(CTLR, CTLR_PG)
}

func (c *Controller) Program8x2(addr uint32, hi, lo uint8) {
	c.Program16(addr, uint16(hi)<<8|uint16(lo))
}

// ProgramFloat writes the bit pattern of v as two half-words, the low
// half at addr. The writes are not atomic; an interruption between
// them leaves a torn value.
func (c *Controller) ProgramFloat(addr uint32, v float32) {
	bits := math.Float32bits(v)
	c.Program16(addr, uint16(bits))
	c.Program16(addr+2, uint16(bits>>16))
}
