package flash

// ErasePage resets the page starting at addr to all ones. addr must be
// page aligned. Nothing happens if the controller is locked.
func (c *Controller) ErasePage(addr uint32) {
	if c.Locked() {
		return
	}
	c.WaitUntilNotBusy()
	c.setBits(CTLR, CTLR_PER)
	c.bus.SetReg(ADDR, addr)
	c.setBits(CTLR, CTLR_STRT)
	c.WaitUntilNotBusy()
	c.clearBits(CTLR, CTLR_PER)
}

// eraseOptionBytes erases the whole option byte block. The caller has
// waited for the controller.
func (c *Controller) eraseOptionBytes() {
	c.setBits(CTLR, CTLR_OPTER)
	c.setBits(CTLR, CTLR_STRT)
	c.WaitUntilNotBusy()
	c.clearBits(CTLR, CTLR_OPTER)
}
