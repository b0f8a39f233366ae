package flash

import "math"

// Read16 loads a half-word from flash. Reads don't depend on the lock
// state.
func (c *Controller) Read16(addr uint32) uint16 {
	return c.bus.Load16(addr)
}

func (c *Controller) Read8(addr uint32) uint8 {
	return c.bus.Load8(addr)
}

// ReadFloat reverses ProgramFloat.
func (c *Controller) ReadFloat(addr uint32) float32 {
	lo := c.bus.Load16(addr)
	hi := c.bus.Load16(addr + 2)
	return math.Float32frombits(uint32(hi)<<16 | uint32(lo))
}
