// Command flashtool inspects and modifies the program flash of a
// CH32V003, either a real one behind a serial link bridge or a simulated
// one persisted in an image file.
//
// By default flashtool operates on the simulated device in flash.nv:
//
//	flashtool write 10 0xbeef
//	flashtool read 10
//	flashtool options-write 0x12 0x34
//
// With --device, requests go to the bridge on that serial port instead.
// The serve command turns flashtool into such a bridge for the simulated
// device.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"ch32flash.dev/driver/flash"
	"ch32flash.dev/driver/flashlink"
	"ch32flash.dev/nvimage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "flashtool: %v\n", err)
		os.Exit(2)
	}
}

func run(stdout io.Writer, args []string) error {
	root := newRootCmd()
	root.SetOut(stdout)
	root.SetArgs(args)
	return root.Execute()
}

type config struct {
	image     string
	device    string
	baud      int
	resetPin  string
	busyPolls int
	verbose   bool
}

func newRootCmd() *cobra.Command {
	cfg := new(config)
	root := &cobra.Command{
		Use:           "flashtool",
		Short:         "CH32V003 program flash tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetOutput(cmd.ErrOrStderr())
			if cfg.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&cfg.image, "image", "flash.nv", "image file of the simulated device")
	f.StringVar(&cfg.device, "device", "", "serial device of a link bridge (empty means simulated device)")
	f.IntVar(&cfg.baud, "baud", flashlink.DefaultBaud, "serial link speed")
	f.StringVar(&cfg.resetPin, "reset-pin", "", "GPIO pin wired to the target reset line")
	f.IntVar(&cfg.busyPolls, "busy-polls", 2, "status reads a simulated operation stays busy for")
	f.BoolVarP(&cfg.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		addrCmd(cfg),
		readCmd(cfg),
		writeCmd(cfg),
		eraseCmd(cfg),
		optionsCmd(cfg),
		optionsWriteCmd(cfg),
		exportCmd(cfg),
		importCmd(cfg),
		wearCmd(cfg),
		latencyCmd(cfg),
		serveCmd(cfg),
	)
	return root
}

// target is an open flash controller and whatever backs it.
type target struct {
	*flash.Controller

	// sim and img are set for the simulated device.
	sim *flash.Simulator
	img *nvimage.File

	// link and port are set for a serial link.
	link *flashlink.Conn
	port io.Closer
}

func (cfg *config) openSimulator() (*nvimage.File, *flash.Simulator, error) {
	img, err := nvimage.Open(cfg.image)
	if err != nil {
		return nil, nil, err
	}
	sim, err := img.Load(flash.DefaultRegion)
	if err != nil {
		img.Close()
		return nil, nil, err
	}
	sim.BusyPolls = cfg.busyPolls
	return img, sim, nil
}

func (cfg *config) open() (*target, error) {
	if cfg.device == "" {
		img, sim, err := cfg.openSimulator()
		if err != nil {
			return nil, err
		}
		return &target{
			Controller: flash.New(sim, flash.DefaultRegion),
			sim:        sim,
			img:        img,
		}, nil
	}
	if cfg.resetPin != "" {
		if err := flashlink.ResetTarget(cfg.resetPin, 10*time.Millisecond); err != nil {
			return nil, err
		}
	}
	port, err := flashlink.Open(cfg.device, cfg.baud)
	if err != nil {
		return nil, err
	}
	link := flashlink.NewConn(port)
	return &target{
		Controller: flash.New(link, flash.DefaultRegion),
		link:       link,
		port:       port,
	}, nil
}

// err returns the first link error. A simulated device has none.
func (t *target) err() error {
	if t.link != nil {
		return t.link.Err()
	}
	return nil
}

// close persists a simulated device if save is set and releases the
// target. It reports any error the link ran into.
func (t *target) close(save bool) error {
	if t.sim != nil {
		var err error
		if save {
			err = t.img.Save(t.sim)
		}
		if cerr := t.img.Close(); err == nil {
			err = cerr
		}
		return err
	}
	err := t.link.Err()
	if cerr := t.port.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "flashlink")
	}
	return err
}

// with runs fn on an open target and closes it, saving a simulated
// device if fn succeeds.
func (cfg *config) with(fn func(t *target) error) error {
	t, err := cfg.open()
	if err != nil {
		return err
	}
	err = fn(t)
	if cerr := t.close(err == nil); err == nil {
		err = cerr
	}
	return err
}
