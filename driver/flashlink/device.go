//go:build !tinygo

package flashlink

import (
	"io"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const DefaultBaud = 115200

// Open opens the serial port of a link bridge. An empty dev tries the
// usual USB serial adapters of the platform.
func Open(dev string, baud int) (io.ReadWriteCloser, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3")
		case "linux":
			devices = append(devices, "/dev/ttyACM0", "/dev/ttyUSB0", "/dev/ttyUSB1")
		case "darwin":
			devices = append(devices, "/dev/tty.usbmodem1", "/dev/tty.usbserial")
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("flashlink: no device specified")
	}
	var firstErr error
	for _, dev := range devices {
		c := &serial.Config{Name: dev, Baud: baud}
		s, err := serial.OpenPort(c)
		if err == nil {
			return s, nil
		}
		if firstErr == nil {
			firstErr = errors.Wrapf(err, "flashlink: open %s", dev)
		}
	}
	return nil, firstErr
}

// ResetTarget pulls the target's reset line, wired to the host GPIO
// pin, low for hold and waits as long again for the target to boot.
func ResetTarget(pin string, hold time.Duration) error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "flashlink: gpio init")
	}
	p := gpioreg.ByName(pin)
	if p == nil {
		return errors.Errorf("flashlink: unknown reset pin %q", pin)
	}
	if err := p.Out(gpio.Low); err != nil {
		return errors.Wrapf(err, "flashlink: reset %s", pin)
	}
	time.Sleep(hold)
	if err := p.Out(gpio.High); err != nil {
		return errors.Wrapf(err, "flashlink: reset %s", pin)
	}
	time.Sleep(hold)
	return nil
}
