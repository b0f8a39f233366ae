package flash

import "errors"

// OptionBase is the address of the option byte block.
const OptionBase = 0x1FFFF800

// OptionSize is the size of the option byte block, including the
// unused WRPR2 and WRPR3 cells.
const OptionSize = 16

// OptionField is an option byte. Each is stored as a 16-bit cell
// holding the inverted byte in the high half and the byte in the low
// half.
type OptionField uint8

const (
	USER OptionField = iota
	RDPR
	WRPR1
	WRPR0
	DATA1
	DATA0

	numOptionFields
)

// OptionFields lists the option bytes in order.
var OptionFields = [...]OptionField{USER, RDPR, WRPR1, WRPR0, DATA1, DATA0}

var optionOffsets = [numOptionFields]uint32{
	RDPR:  0x0,
	USER:  0x2,
	DATA0: 0x4,
	DATA1: 0x6,
	WRPR0: 0x8,
	WRPR1: 0xa,
}

var optionNames = [numOptionFields]string{
	USER:  "USER",
	RDPR:  "RDPR",
	WRPR1: "WRPR1",
	WRPR0: "WRPR0",
	DATA1: "DATA1",
	DATA0: "DATA0",
}

// Addr returns the address of the cell holding f.
func (f OptionField) Addr() uint32 {
	return OptionBase + optionOffsets[f]
}

func (f OptionField) String() string {
	if f >= numOptionFields {
		return "OptionField(?)"
	}
	return optionNames[f]
}

var ErrChecksum = errors.New("flash: option byte checksum mismatch")

// EncodeCell returns the cell value storing b.
func EncodeCell(b uint8) uint16 {
	return uint16(^b)<<8 | uint16(b)
}

// CheckCell decodes a cell and reports whether its high byte is the
// inverse of its low byte.
func CheckCell(raw uint16) (uint8, bool) {
	data := uint8(raw)
	check := ^uint8(raw >> 8)
	return data, data == check
}

// DecodeCell returns the byte stored in a cell, or 0 if the cell is
// corrupt. A corrupt cell can't be told apart from a stored 0; use
// CheckCell for that.
func DecodeCell(raw uint16) uint8 {
	if data, ok := CheckCell(raw); ok {
		return data
	}
	return 0
}

// ReadOptionRaw returns the undecoded cell of f.
func (c *Controller) ReadOptionRaw(f OptionField) uint16 {
	return c.bus.Load16(f.Addr())
}

// ReadOption returns the decoded option byte f, or 0 if its cell is
// corrupt.
func (c *Controller) ReadOption(f OptionField) uint8 {
	return DecodeCell(c.ReadOptionRaw(f))
}

// ReadOptionChecked is like ReadOption but reports a corrupt cell as
// ErrChecksum.
func (c *Controller) ReadOptionChecked(f OptionField) (uint8, error) {
	data, ok := CheckCell(c.ReadOptionRaw(f))
	if !ok {
		return 0, ErrChecksum
	}
	return data, nil
}

func (c *Controller) ReadUser() uint8  { return c.ReadOption(USER) }
func (c *Controller) ReadRDPR() uint8  { return c.ReadOption(RDPR) }
func (c *Controller) ReadWRPR1() uint8 { return c.ReadOption(WRPR1) }
func (c *Controller) ReadWRPR0() uint8 { return c.ReadOption(WRPR0) }
func (c *Controller) ReadData1() uint8 { return c.ReadOption(DATA1) }
func (c *Controller) ReadData0() uint8 { return c.ReadOption(DATA0) }

// ReadData16 returns DATA1 and DATA0 as one value, DATA1 in the high
// byte.
func (c *Controller) ReadData16() uint16 {
	return uint16(c.ReadData1())<<8 | uint16(c.ReadData0())
}

// WriteOptionBytes16 stores v in DATA1 (high byte) and DATA0 (low
// byte). The option block can only be erased as a whole, so USER, RDPR,
// WRPR0 and WRPR1 are saved before the erase and written back after it.
// Losing power before they are restored leaves them at their erased
// defaults. Nothing happens if the controller is locked.
func (c *Controller) WriteOptionBytes16(v uint16) {
	if c.Locked() {
		return
	}
	c.WaitUntilNotBusy()
	user := c.ReadOptionRaw(USER)
	rdpr := c.ReadOptionRaw(RDPR)
	wrpr1 := c.ReadOptionRaw(WRPR1)
	wrpr0 := c.ReadOptionRaw(WRPR0)
	data1 := v >> 8
	data0 := v & 0xff

	c.eraseOptionBytes()
	c.setBits(CTLR, CTLR_OPTPG)
	for _, cell := range [...]struct {
		f OptionField
		v uint16
	}{
		{USER, user},
		{RDPR, rdpr},
		{WRPR0, wrpr0},
		{WRPR1, wrpr1},
		{DATA1, data1},
		{DATA0, data0},
	} {
		c.bus.Store16(cell.f.Addr(), cell.v)
		c.WaitUntilNotBusy()
	}
	c.clearBits(CTLR, CTLR_OPTPG)
}

func (c *Controller) WriteOptionBytes8x2(hi, lo uint8) {
	c.WriteOptionBytes16(uint16(hi)<<8 | uint16(lo))
}
