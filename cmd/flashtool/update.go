package main

import (
	"bytes"

	"ch32flash.dev/driver/flash"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// update stores data at addr. Every page it touches is read back,
// merged with data and reprogrammed, keeping the rest of the page.
// Pages whose new content only clears bits are programmed without an
// erase.
func update(c *flash.Controller, addr uint32, data []byte) error {
	r := c.Region()
	if len(data) == 0 {
		return nil
	}
	end := addr + uint32(len(data)) - 1
	if !r.Contains(addr) || !r.Contains(end) || end < addr {
		return errors.Errorf("range %#x-%#x is outside the flash array", addr, end)
	}
	if err := unlock(c); err != nil {
		return err
	}
	defer c.Lock()
	old := make([]byte, r.PageSize)
	page := make([]byte, r.PageSize)
	for len(data) > 0 {
		start := r.PageStart(addr)
		for i := range old {
			old[i] = c.Read8(start + uint32(i))
		}
		copy(page, old)
		n := copy(page[addr-start:], data)
		addr += uint32(n)
		data = data[n:]
		if bytes.Equal(page, old) {
			continue
		}
		erase := false
		for i := range page {
			if old[i]&page[i] != page[i] {
				erase = true
				break
			}
		}
		if erase {
			c.ErasePage(start)
			for i := range old {
				old[i] = 0xff
			}
		}
		for i := 0; i < len(page); i += 2 {
			v := uint16(page[i]) | uint16(page[i+1])<<8
			if v != uint16(old[i])|uint16(old[i+1])<<8 {
				c.Program16(start+uint32(i), v)
			}
		}
		if c.IsWriteProtectError() {
			c.ClearWriteProtectError()
			return errors.Errorf("page %d at %#x is write protected", r.Page(start), start)
		}
		logrus.Debugf("flashtool: programmed page %d (erase %v)", r.Page(start), erase)
	}
	return nil
}

func unlock(c *flash.Controller) error {
	c.Unlock()
	if c.Locked() {
		return errors.New("flash controller stayed locked; power cycle the device to retry")
	}
	return nil
}

func unlockOptions(c *flash.Controller) error {
	if err := unlock(c); err != nil {
		return err
	}
	c.UnlockOptionBytes()
	if c.OptionBytesLocked() {
		c.Lock()
		return errors.New("option bytes stayed locked; power cycle the device to retry")
	}
	return nil
}
