package flash

import "periph.io/x/conn/v3/physic"

// MaxZeroWaitClock is the fastest core clock that reads flash without
// wait states.
const MaxZeroWaitClock = 24 * physic.MegaHertz

// LatencyFor returns the ACTLR latency for a core clock.
func LatencyFor(clock physic.Frequency) uint32 {
	if clock <= MaxZeroWaitClock {
		return Latency0
	}
	return Latency1
}

// SetLatency configures the flash wait states for the core clock. Call
// it once during boot, before raising the clock.
func (c *Controller) SetLatency(clock physic.Frequency) {
	c.bus.SetReg(ACTLR, LatencyFor(clock))
}

func (c *Controller) Latency() uint32 {
	return c.bus.Reg(ACTLR)
}
