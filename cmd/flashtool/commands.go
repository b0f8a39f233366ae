package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"

	"ch32flash.dev/driver/flash"
	"ch32flash.dev/driver/flashlink"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	badColor  = color.New(color.FgRed, color.Bold)
)

func parseOffset(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid offset %q", s)
	}
	return uint16(n), nil
}

func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid byte %q", s)
	}
	return uint8(v), nil
}

// nvRange returns the address of nonvolatile byte n after checking
// that size bytes from it lie within the flash array.
func nvRange(r flash.Region, n uint16, size uint32) (uint32, error) {
	addr := r.Address(n)
	if !r.Contains(addr) || !r.Contains(addr+size-1) {
		return 0, errors.Errorf("offset %d is outside the flash array", n)
	}
	return addr, nil
}

func addrCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "addr N",
		Short: "Print the address of nonvolatile byte N",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseOffset(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%08x\n", flash.Address(n))
			return nil
		},
	}
}

var typeSizes = map[string]uint32{
	"u8":  1,
	"u16": 2,
	"8x2": 2,
	"f32": 4,
}

func readCmd(cfg *config) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "read N",
		Short: "Read the value at nonvolatile byte N",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseOffset(args[0])
			if err != nil {
				return err
			}
			size, ok := typeSizes[typ]
			if !ok {
				return errors.Errorf("unknown type %q", typ)
			}
			return cfg.with(func(t *target) error {
				addr, err := nvRange(t.Region(), n, size)
				if err != nil {
					return err
				}
				if size > 1 && addr%2 != 0 {
					return errors.Errorf("%s at odd offset %d", typ, n)
				}
				var out string
				switch typ {
				case "u8":
					out = fmt.Sprintf("0x%02x", t.Read8(addr))
				case "u16":
					out = fmt.Sprintf("0x%04x", t.Read16(addr))
				case "8x2":
					v := t.Read16(addr)
					out = fmt.Sprintf("0x%02x 0x%02x", v>>8, v&0xff)
				case "f32":
					out = strconv.FormatFloat(float64(t.ReadFloat(addr)), 'g', -1, 32)
				}
				if err := t.err(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "u16", "value type (u8, u16, 8x2, f32)")
	return cmd
}

// encodeValue returns the flash bytes of a value of type typ. 8x2
// takes the high and low byte as separate arguments.
func encodeValue(typ string, args []string) ([]byte, error) {
	want := 1
	if typ == "8x2" {
		want = 2
	}
	if len(args) != want {
		return nil, errors.Errorf("type %s takes %d value argument(s)", typ, want)
	}
	switch typ {
	case "u8":
		v, err := parseByte(args[0])
		return []byte{v}, err
	case "u16":
		v, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value %q", args[0])
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(v)), nil
	case "8x2":
		hi, err := parseByte(args[0])
		if err != nil {
			return nil, err
		}
		lo, err := parseByte(args[1])
		return []byte{lo, hi}, err
	case "f32":
		v, err := strconv.ParseFloat(args[0], 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value %q", args[0])
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(v))), nil
	}
	return nil, errors.Errorf("unknown type %q", typ)
}

func writeCmd(cfg *config) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "write N VALUE [LO]",
		Short: "Store a value at nonvolatile byte N",
		Long: `Store a value at nonvolatile byte N. The other bytes of the page keep
their values. The page is erased first unless the new value only clears
bits of the stored one. Values wider than a byte need an even N.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseOffset(args[0])
			if err != nil {
				return err
			}
			data, err := encodeValue(typ, args[1:])
			if err != nil {
				return err
			}
			return cfg.with(func(t *target) error {
				addr, err := nvRange(t.Region(), n, uint32(len(data)))
				if err != nil {
					return err
				}
				if len(data) > 1 && addr%2 != 0 {
					return errors.Errorf("%s at odd offset %d", typ, n)
				}
				if err := update(t.Controller, addr, data); err != nil {
					return err
				}
				if err := t.err(); err != nil {
					return err
				}
				logrus.Infof("flashtool: wrote %x at %#x", data, addr)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "u16", "value type (u8, u16, 8x2, f32)")
	return cmd
}

func eraseCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "erase N",
		Short: "Erase the page holding nonvolatile byte N",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseOffset(args[0])
			if err != nil {
				return err
			}
			return cfg.with(func(t *target) error {
				r := t.Region()
				addr, err := nvRange(r, n, 1)
				if err != nil {
					return err
				}
				if err := unlock(t.Controller); err != nil {
					return err
				}
				t.ErasePage(r.PageStart(addr))
				t.Lock()
				if t.IsWriteProtectError() {
					t.ClearWriteProtectError()
					return errors.Errorf("page %d is write protected", r.Page(addr))
				}
				return t.err()
			})
		},
	}
}

func optionsCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "Print the option bytes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.with(func(t *target) error {
				type row struct {
					f   flash.OptionField
					raw uint16
					v   uint8
					err error
				}
				var rows []row
				for _, f := range flash.OptionFields {
					v, err := t.ReadOptionChecked(f)
					rows = append(rows, row{f: f, raw: t.ReadOptionRaw(f), v: v, err: err})
				}
				data := t.ReadData16()
				if err := t.err(); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range rows {
					status := okColor.Sprint("ok")
					if r.err != nil {
						status = badColor.Sprint("corrupt")
					}
					fmt.Fprintf(out, "%-6s 0x%04x 0x%02x %s\n", r.f, r.raw, r.v, status)
				}
				fmt.Fprintf(out, "DATA   0x%04x\n", data)
				return nil
			})
		},
	}
}

func optionsWriteCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "options-write VALUE | HI LO",
		Short: "Store a 16-bit value in the DATA1 and DATA0 option bytes",
		Long: `Store a 16-bit value in the DATA1 (high) and DATA0 (low) option
bytes. The other option bytes are preserved.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v uint16
			if len(args) == 1 {
				n, err := strconv.ParseUint(args[0], 0, 16)
				if err != nil {
					return errors.Wrapf(err, "invalid value %q", args[0])
				}
				v = uint16(n)
			} else {
				hi, err := parseByte(args[0])
				if err != nil {
					return err
				}
				lo, err := parseByte(args[1])
				if err != nil {
					return err
				}
				v = uint16(hi)<<8 | uint16(lo)
			}
			return cfg.with(func(t *target) error {
				if err := unlockOptions(t.Controller); err != nil {
					return err
				}
				if len(args) == 2 {
					t.WriteOptionBytes8x2(uint8(v>>8), uint8(v))
				} else {
					t.WriteOptionBytes16(v)
				}
				t.Lock()
				if t.IsWriteProtectError() {
					t.ClearWriteProtectError()
					return errors.New("option bytes are write protected")
				}
				got := t.ReadData16()
				if err := t.err(); err != nil {
					return err
				}
				if got != v {
					return errors.Errorf("option bytes read back %#04x, expected %#04x", got, v)
				}
				return nil
			})
		},
	}
}

func wearCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "wear",
		Short: "Print the erase counts of the simulated device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.device != "" {
				return errors.New("erase counts are only known for the simulated device")
			}
			return cfg.with(func(t *target) error {
				out := cmd.OutOrStdout()
				r := t.Region()
				pages := int(r.Capacity / r.PageSize)
				worn := false
				for p := 0; p < pages; p++ {
					n := t.sim.EraseCount(p)
					if n == 0 {
						continue
					}
					worn = true
					pct := 100 * float64(n) / flash.EnduranceCycles
					c := okColor
					switch {
					case pct >= 90:
						c = badColor
					case pct >= 50:
						c = warnColor
					}
					addr := r.Base + uint32(p)*r.PageSize
					fmt.Fprintf(out, "page %3d 0x%08x %6d erases %s\n", p, addr, n, c.Sprintf("%5.1f%%", pct))
				}
				if !worn {
					fmt.Fprintln(out, "no page has been erased")
				}
				return nil
			})
		},
	}
}

func latencyCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "latency CLOCK",
		Short: "Set the flash wait states for a core clock, such as 48MHz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var clock physic.Frequency
			if err := clock.Set(args[0]); err != nil {
				return errors.Wrapf(err, "invalid clock %q", args[0])
			}
			return cfg.with(func(t *target) error {
				t.SetLatency(clock)
				l := t.Latency()
				if err := t.err(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d wait state(s)\n", clock, l)
				return nil
			})
		},
	}
}

func serveCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulated device on the serial device",
		Long: `Serve the simulated device in the image over the serial device given
by --device, acting as the target side of a link. The image is saved
when the link closes or on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.device == "" {
				return errors.New("serve needs --device")
			}
			img, sim, err := cfg.openSimulator()
			if err != nil {
				return err
			}
			defer img.Close()
			port, err := flashlink.Open(cfg.device, cfg.baud)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				port.Close()
			}()
			logrus.Infof("flashtool: serving %s on %s", img.Name(), cfg.device)
			err = flashlink.Serve(port, sim)
			if ctx.Err() != nil {
				err = nil
			}
			stop()
			if serr := img.Save(sim); err == nil {
				err = serr
			}
			return err
		},
	}
}
