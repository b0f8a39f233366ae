package flashlink

import (
	"encoding/binary"
	"io"

	"ch32flash.dev/driver/flash"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Serve answers requests from rw with bus until rw reaches EOF. It is
// the bridge side of a link, used to expose a simulated controller.
func Serve(rw io.ReadWriter, bus flash.Bus) error {
	var req [requestSize]byte
	var rep [replySize]byte
	for {
		if _, err := io.ReadFull(rw, req[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "flashlink: read request")
		}
		status := byte(ack)
		var v uint32
		if checksum(req[:requestSize-1]) != req[requestSize-1] {
			logrus.Warnf("flashlink: request checksum mismatch")
			status = nack
		} else {
			var err error
			v, err = execute(bus, req[0], binary.LittleEndian.Uint32(req[1:5]), binary.LittleEndian.Uint32(req[5:9]))
			if err != nil {
				logrus.Warnf("flashlink: %v", err)
				status = nack
				v = 0
			}
		}
		rep[0] = status
		binary.LittleEndian.PutUint32(rep[1:5], v)
		rep[5] = checksum(rep[:5])
		if _, err := rw.Write(rep[:]); err != nil {
			return errors.Wrap(err, "flashlink: write reply")
		}
	}
}

func execute(bus flash.Bus, cmd byte, addr, v uint32) (res uint32, err error) {
	defer func() {
		// Simulated buses panic on accesses that would hang a real
		// target.
		if e := recover(); e != nil {
			err = errors.Errorf("%v", e)
		}
	}()
	switch cmd {
	case cmdReadReg, cmdWriteReg:
		r, ok := flash.RegAt(addr)
		if !ok {
			return 0, errors.Errorf("no register at offset %#x", addr)
		}
		if cmd == cmdWriteReg {
			bus.SetReg(r, v)
			return 0, nil
		}
		return bus.Reg(r), nil
	case cmdLoad8:
		return uint32(bus.Load8(addr)), nil
	case cmdLoad16:
		return uint32(bus.Load16(addr)), nil
	case cmdStore16:
		bus.Store16(addr, uint16(v))
		return 0, nil
	default:
		return 0, errors.Errorf("unknown command %#02x", cmd)
	}
}
