// Package flashlink reaches the flash controller of a target over a
// serial debug link. A bridge on the target side answers register and
// memory requests; Conn turns them into a flash.Bus.
//
// Every request is a 10 byte frame:
//
//	cmd | addr (4, little endian) | value (4, little endian) | sum
//
// and every reply is 6 bytes:
//
//	ACK or NACK | value (4, little endian) | sum
//
// where sum is 0xff xor every preceding byte of the frame. Register
// requests carry the register offset from flash.RegBase in addr.
package flashlink

import (
	"encoding/binary"
	"io"

	"ch32flash.dev/driver/flash"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	cmdReadReg  = 'r'
	cmdWriteReg = 'w'
	cmdLoad8    = 'b'
	cmdLoad16   = 'h'
	cmdStore16  = 'H'

	ack  = 0x79
	nack = 0x1f

	requestSize = 10
	replySize   = 6
)

var (
	ErrNACK     = errors.New("flashlink: request refused by target")
	ErrChecksum = errors.New("flashlink: reply checksum mismatch")
	ErrReply    = errors.New("flashlink: invalid reply")
)

func checksum(b []byte) byte {
	sum := byte(0xff)
	for _, v := range b {
		sum ^= v
	}
	return sum
}

func encodeRequest(buf *[requestSize]byte, cmd byte, addr, v uint32) {
	buf[0] = cmd
	binary.LittleEndian.PutUint32(buf[1:5], addr)
	binary.LittleEndian.PutUint32(buf[5:9], v)
	buf[9] = checksum(buf[:9])
}

// Conn is a flash.Bus on the far end of a link. The Bus methods can't
// report errors, so the first error sticks and is returned by Err.
// After an error every register reads as zero, except the status
// register which reads as idle and done so that driver waits return;
// memory reads as zero.
type Conn struct {
	rw  io.ReadWriter
	err error
	req [requestSize]byte
	rep [replySize]byte
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// Err returns the first error encountered by the link.
func (c *Conn) Err() error {
	return c.err
}

func (c *Conn) roundTrip(cmd byte, addr, v uint32) (uint32, bool) {
	if c.err != nil {
		return 0, false
	}
	encodeRequest(&c.req, cmd, addr, v)
	if _, err := c.rw.Write(c.req[:]); err != nil {
		c.err = errors.Wrap(err, "flashlink: write request")
		return 0, false
	}
	if _, err := io.ReadFull(c.rw, c.rep[:]); err != nil {
		c.err = errors.Wrap(err, "flashlink: read reply")
		return 0, false
	}
	if checksum(c.rep[:replySize-1]) != c.rep[replySize-1] {
		c.err = ErrChecksum
		return 0, false
	}
	res := binary.LittleEndian.Uint32(c.rep[1:5])
	logrus.Debugf("flashlink: %c %#08x %#08x -> %#02x %#08x", cmd, addr, v, c.rep[0], res)
	switch c.rep[0] {
	case ack:
		return res, true
	case nack:
		c.err = errors.Wrapf(ErrNACK, "%c at %#x", cmd, addr)
	default:
		c.err = errors.Wrapf(ErrReply, "status %#02x", c.rep[0])
	}
	return 0, false
}

func (c *Conn) Reg(r flash.Reg) uint32 {
	v, ok := c.roundTrip(cmdReadReg, r.Offset(), 0)
	if !ok && r == flash.STATR {
		return flash.STATR_EOP
	}
	return v
}

func (c *Conn) SetReg(r flash.Reg, v uint32) {
	c.roundTrip(cmdWriteReg, r.Offset(), v)
}

func (c *Conn) Load8(addr uint32) uint8 {
	v, _ := c.roundTrip(cmdLoad8, addr, 0)
	return uint8(v)
}

func (c *Conn) Load16(addr uint32) uint16 {
	v, _ := c.roundTrip(cmdLoad16, addr, 0)
	return uint16(v)
}

func (c *Conn) Store16(addr uint32, v uint16) {
	c.roundTrip(cmdStore16, addr, uint32(v))
}
