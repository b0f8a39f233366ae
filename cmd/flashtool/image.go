package main

import (
	"bufio"
	"io"
	"os"
	"strconv"

	"ch32flash.dev/driver/flash"
	"ch32flash.dev/uf2"
	"github.com/erincandescent/nuvoprog/ihex"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type imageFlags struct {
	format string
	family string
}

func (f *imageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "bin", "image format (bin, ihex, uf2)")
	cmd.Flags().StringVar(&f.family, "family", "", "UF2 family ID, required for uf2")
}

func (f *imageFlags) uf2Family() (uf2.FamilyID, error) {
	if f.family == "" {
		return 0, errors.New("uf2 needs --family")
	}
	v, err := strconv.ParseUint(f.family, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid family %q", f.family)
	}
	return uf2.FamilyID(v), nil
}

type flushCloser struct {
	*bufio.Writer
}

func (f flushCloser) Close() error {
	return f.Flush()
}

// dump reads the whole main array.
func dump(c *flash.Controller) []byte {
	r := c.Region()
	data := make([]byte, r.Capacity)
	for i := uint32(0); i < r.Capacity; i += 2 {
		v := c.Read16(r.Base + i)
		data[i] = uint8(v)
		data[i+1] = uint8(v >> 8)
	}
	return data
}

func exportCmd(cfg *config) *cobra.Command {
	var flags imageFlags
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Save the flash array to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var family uf2.FamilyID
			switch flags.format {
			case "bin", "ihex":
			case "uf2":
				f, err := flags.uf2Family()
				if err != nil {
					return err
				}
				family = f
			default:
				return errors.Errorf("unknown format %q", flags.format)
			}
			return cfg.with(func(t *target) error {
				data := dump(t.Controller)
				if err := t.err(); err != nil {
					return err
				}
				out, err := os.Create(args[0])
				if err != nil {
					return err
				}
				w := bufio.NewWriter(out)
				base := t.Region().Base
				switch flags.format {
				case "bin":
					_, err = w.Write(data)
				case "ihex":
					// Closing the ihex writer writes the end record and
					// flushes w; out is closed below.
					hw := ihex.NewWriter(flushCloser{w})
					err = hw.Write(base, data)
					if err == nil {
						err = hw.Close()
					}
				case "uf2":
					err = uf2.Encode(w, family, base, data)
				}
				if err == nil {
					err = w.Flush()
				}
				if cerr := out.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return errors.Wrapf(err, "export %s", args[0])
				}
				logrus.Infof("flashtool: exported %d bytes to %s", len(data), args[0])
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// readImage returns the contiguous runs of data in an image file.
func readImage(r io.Reader, flags *imageFlags, base uint32) ([]ihex.Block, error) {
	switch flags.format {
	case "bin":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return []ihex.Block{{Address: base, Data: data}}, nil
	case "ihex":
		hr := ihex.NewReader(r)
		var runs []ihex.Block
		for {
			b, err := hr.Next()
			if err == io.EOF {
				return runs, nil
			}
			if err != nil {
				return nil, err
			}
			if n := len(runs); n > 0 {
				last := &runs[n-1]
				if last.Address+uint32(len(last.Data)) == b.Address {
					last.Data = append(last.Data, b.Data...)
					continue
				}
			}
			runs = append(runs, ihex.Block{Address: b.Address, Data: append([]byte(nil), b.Data...)})
		}
	case "uf2":
		family, err := flags.uf2Family()
		if err != nil {
			return nil, err
		}
		ur := uf2.NewReader(r, family)
		data, err := io.ReadAll(ur)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, nil
		}
		return []ihex.Block{{Address: ur.StartAddr, Data: data}}, nil
	}
	return nil, errors.Errorf("unknown format %q", flags.format)
}

func importCmd(cfg *config) *cobra.Command {
	var flags imageFlags
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Program the contents of FILE into the flash array",
		Long: `Program the contents of FILE into the flash array. Only pages covered
by the image are changed; a bin image is placed at the start of flash.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			runs, err := readImage(bufio.NewReader(in), &flags, flash.DefaultRegion.Base)
			if err != nil {
				return errors.Wrapf(err, "import %s", args[0])
			}
			return cfg.with(func(t *target) error {
				for _, run := range runs {
					if err := update(t.Controller, run.Address, run.Data); err != nil {
						return err
					}
					if err := t.err(); err != nil {
						return err
					}
					logrus.Infof("flashtool: programmed %d bytes at %#x", len(run.Data), run.Address)
				}
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}
