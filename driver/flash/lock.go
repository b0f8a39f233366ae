package flash

// Unlock enables erasing and programming of the main array. The
// controller gives no confirmation; use Locked to check.
func (c *Controller) Unlock() {
	c.bus.SetReg(KEYR, Key1)
	c.bus.SetReg(KEYR, Key2)
}

// UnlockOptionBytes enables option byte erasing and programming. The
// main array must be unlocked as well.
func (c *Controller) UnlockOptionBytes() {
	c.bus.SetReg(OBKEYR, Key1)
	c.bus.SetReg(OBKEYR, Key2)
}

func (c *Controller) Lock() {
	c.setBits(CTLR, CTLR_LOCK)
}

// Locked reports whether the main array is locked. Mutating operations
// on a locked controller do nothing.
func (c *Controller) Locked() bool {
	return c.bus.Reg(CTLR)&CTLR_LOCK != 0
}

// OptionBytesLocked reports whether option byte writes are disabled.
func (c *Controller) OptionBytesLocked() bool {
	return c.bus.Reg(CTLR)&CTLR_OPTWRE == 0
}
