package nvimage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ch32flash.dev/driver/flash"
)

func TestPowerCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.nv")
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	sim, err := f.Load(flash.DefaultRegion)
	if err != nil {
		t.Fatal(err)
	}
	c := flash.New(sim, flash.DefaultRegion)
	const addr = flash.NonvolatileStart + 10
	c.Unlock()
	c.ErasePage(flash.NonvolatileStart)
	c.Program16(addr, 0xbeef)
	c.UnlockOptionBytes()
	c.WriteOptionBytes8x2(0xab, 0xcd)
	c.Lock()
	if err := f.Save(sim); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sim, err = f.Load(flash.DefaultRegion)
	if err != nil {
		t.Fatal(err)
	}
	c = flash.New(sim, flash.DefaultRegion)
	if got := c.Read16(addr); got != 0xbeef {
		t.Errorf("read %#x, expected 0xbeef", got)
	}
	if got := c.ReadData16(); got != 0xabcd {
		t.Errorf("option data %#x, expected 0xabcd", got)
	}
	if !c.Locked() {
		t.Error("loaded device is unlocked")
	}
	page := flash.DefaultRegion.Page(flash.NonvolatileStart)
	if n := sim.EraseCount(page); n != 1 {
		t.Errorf("erase count %d, expected 1", n)
	}
}

func TestEmpty(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "flash.nv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sim, err := f.Load(flash.DefaultRegion)
	if err != nil {
		t.Fatal(err)
	}
	c := flash.New(sim, flash.DefaultRegion)
	if got := c.Read16(flash.NonvolatileStart); got != 0xffff {
		t.Errorf("new device reads %#x, expected 0xffff", got)
	}
}

func TestCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.nv")
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Save(flash.NewSimulator(flash.DefaultRegion)); err != nil {
		t.Fatal(err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a bit in the middle of the main array.
	data[len(data)/2] ^= 0x1
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Load(flash.DefaultRegion); !errors.Is(err, ErrDigest) {
		t.Errorf("got error %v, expected %v", err, ErrDigest)
	}
}

func TestRegionMismatch(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "flash.nv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := f.Save(flash.NewSimulator(flash.DefaultRegion)); err != nil {
		t.Fatal(err)
	}
	r := flash.DefaultRegion
	r.ReservedOffset -= r.PageSize
	if _, err := f.Load(r); !errors.Is(err, ErrRegion) {
		t.Errorf("got error %v, expected %v", err, ErrRegion)
	}
}
