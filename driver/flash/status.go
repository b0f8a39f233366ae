package flash

func (c *Controller) IsBusy() bool {
	return c.bus.Reg(STATR)&STATR_BSY != 0
}

// IsDone reports whether the end-of-operation flag is set.
func (c *Controller) IsDone() bool {
	return c.bus.Reg(STATR)&STATR_EOP != 0
}

func (c *Controller) IsWriteProtectError() bool {
	return c.bus.Reg(STATR)&STATR_WRPRTERR != 0
}

// ClearDone clears the end-of-operation flag. The flag is cleared by
// writing a one to it; the other status bits are written as zero so a
// pending write protection error stays visible.
func (c *Controller) ClearDone() {
	c.bus.SetReg(STATR, STATR_EOP)
}

func (c *Controller) ClearWriteProtectError() {
	c.bus.SetReg(STATR, STATR_WRPRTERR)
}

// WaitUntilNotBusy spins until the controller is idle. There is no
// timeout.
func (c *Controller) WaitUntilNotBusy() {
	for c.IsBusy() {
	}
}

// WaitUntilDone spins until the controller is idle and has flagged the
// end of an operation, then clears the flag.
func (c *Controller) WaitUntilDone() {
	for c.IsBusy() || !c.IsDone() {
	}
	c.ClearDone()
}
