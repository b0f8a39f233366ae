package flash

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestCellRoundTrip(t *testing.T) {
	for b := 0; b <= 0xff; b++ {
		cell := EncodeCell(uint8(b))
		if want := uint16(^uint8(b))<<8 | uint16(b); cell != want {
			t.Fatalf("EncodeCell(%#x) = %#x, expected %#x", b, cell, want)
		}
		if got := DecodeCell(cell); got != uint8(b) {
			t.Errorf("DecodeCell(%#x) = %#x, expected %#x", cell, got, b)
		}
	}
}

func TestCellChecksum(t *testing.T) {
	for raw := 0; raw <= 0xffff; raw++ {
		hi, lo := uint8(raw>>8), uint8(raw)
		_, ok := CheckCell(uint16(raw))
		valid := hi == ^lo
		if ok != valid {
			t.Fatalf("CheckCell(%#x) reported %v, expected %v", raw, ok, valid)
		}
		if valid {
			continue
		}
		if got := DecodeCell(uint16(raw)); got != 0 {
			t.Fatalf("DecodeCell(%#x) = %#x for corrupt cell, expected 0", raw, got)
		}
	}
	// An erased cell is corrupt.
	if _, ok := CheckCell(0xffff); ok {
		t.Error("erased cell reported valid")
	}
}

func TestFactoryOptions(t *testing.T) {
	c, _ := newController(DefaultRegion)
	if got := c.ReadRDPR(); got != rdprNoProtect {
		t.Errorf("RDPR %#x, expected %#x", got, rdprNoProtect)
	}
	for _, f := range []OptionField{USER, WRPR0, WRPR1, DATA0, DATA1} {
		if got := c.ReadOption(f); got != 0xff {
			t.Errorf("%v = %#x, expected 0xff", f, got)
		}
	}
}

func TestWriteOptionBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		c, sim := newController(DefaultRegion)
		img := sim.Snapshot()
		want := make(map[OptionField]uint8)
		for _, f := range []OptionField{USER, RDPR, WRPR0, WRPR1} {
			b := uint8(rng.Intn(256))
			want[f] = b
			cell := EncodeCell(b)
			off := optionOffsets[f]
			img.Options[off], img.Options[off+1] = uint8(cell), uint8(cell>>8)
		}
		if err := sim.Restore(img); err != nil {
			t.Fatal(err)
		}
		v := uint16(rng.Intn(1 << 16))
		c.Unlock()
		c.UnlockOptionBytes()
		if c.OptionBytesLocked() {
			t.Fatal("option bytes still locked")
		}
		c.WriteOptionBytes16(v)
		c.Lock()
		if !c.OptionBytesLocked() {
			t.Error("option bytes unlocked after Lock")
		}
		checkViolations(t, sim)
		if got := c.ReadData16(); got != v {
			t.Errorf("DATA %#x, expected %#x", got, v)
		}
		if got := c.ReadData1(); got != uint8(v>>8) {
			t.Errorf("DATA1 %#x, expected %#x", got, v>>8)
		}
		if got := c.ReadData0(); got != uint8(v) {
			t.Errorf("DATA0 %#x, expected %#x", got, uint8(v))
		}
		for f, b := range want {
			got, err := c.ReadOptionChecked(f)
			if err != nil {
				t.Fatalf("%v: %v", f, err)
			}
			if got != b {
				t.Errorf("%v changed from %#x to %#x", f, b, got)
			}
		}
		if c.ReadUser() != want[USER] || c.ReadRDPR() != want[RDPR] ||
			c.ReadWRPR0() != want[WRPR0] || c.ReadWRPR1() != want[WRPR1] {
			t.Error("option byte readers disagree with ReadOption")
		}
	}
}

func TestWriteOptionBytes8x2(t *testing.T) {
	c, sim := newController(DefaultRegion)
	c.Unlock()
	c.UnlockOptionBytes()
	c.WriteOptionBytes8x2(0x12, 0x34)
	c.Lock()
	if got := c.ReadData16(); got != 0x1234 {
		t.Errorf("DATA %#x, expected 0x1234", got)
	}
	sim.PowerCycle()
	if got := c.ReadData16(); got != 0x1234 {
		t.Errorf("DATA %#x after power cycle, expected 0x1234", got)
	}
}

func TestWriteOptionBytesWithoutOptionUnlock(t *testing.T) {
	c, sim := newController(DefaultRegion)
	before := sim.Snapshot()
	c.Unlock()
	c.WriteOptionBytes16(0x1234)
	if !c.IsWriteProtectError() {
		t.Error("option erase without option unlock not flagged")
	}
	c.Lock()
	after := sim.Snapshot()
	if !bytes.Equal(before.Options, after.Options) {
		t.Error("option bytes changed without option unlock")
	}
}

func TestCorruptOption(t *testing.T) {
	c, sim := newController(DefaultRegion)
	img := sim.Snapshot()
	off := optionOffsets[DATA0]
	// Erased cell, as left by a power loss during WriteOptionBytes16.
	img.Options[off], img.Options[off+1] = 0xff, 0xff
	if err := sim.Restore(img); err != nil {
		t.Fatal(err)
	}
	if got := c.ReadData0(); got != 0 {
		t.Errorf("corrupt DATA0 read as %#x, expected 0", got)
	}
	if _, err := c.ReadOptionChecked(DATA0); !errors.Is(err, ErrChecksum) {
		t.Errorf("got error %v, expected %v", err, ErrChecksum)
	}
	if got := c.ReadOptionRaw(DATA0); got != 0xffff {
		t.Errorf("raw DATA0 %#x, expected 0xffff", got)
	}
}
