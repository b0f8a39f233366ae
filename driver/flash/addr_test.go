package flash

import "testing"

func TestAddressAgreement(t *testing.T) {
	r := DefaultRegion
	for n := uint32(0); n < r.NonvolatileSize(); n++ {
		const start = NonvolatileStart
		if got, want := Address(uint16(n)), start+n; got != want {
			t.Fatalf("Address(%d) = %#x, expected %#x", n, got, want)
		}
		if got, want := r.Address(uint16(n)), start+n; got != want {
			t.Fatalf("Region.Address(%d) = %#x, expected %#x", n, got, want)
		}
	}
	const varAddr = NonvolatileStart + 10
	if got := Address(10); got != varAddr {
		t.Errorf("Address(10) = %#x, expected %#x", got, uint32(varAddr))
	}
	if varAddr != Base+16330 {
		t.Errorf("nonvolatile byte 10 at %#x, expected base+16330", uint32(varAddr))
	}
}

func TestRegionPages(t *testing.T) {
	r := DefaultRegion
	if got := r.PageStart(NonvolatileStart + 10); got != NonvolatileStart {
		t.Errorf("page of %#x starts at %#x, expected %#x", NonvolatileStart+10, got, uint32(NonvolatileStart))
	}
	if got, want := r.Page(NonvolatileStart), Capacity/PageSize-1; got != want {
		t.Errorf("got page %d, expected %d", got, want)
	}
	if r.Contains(Base + Capacity) {
		t.Error("end of flash reported as contained")
	}
	if !r.Contains(Base) {
		t.Error("flash base not contained")
	}
}

func TestRegs(t *testing.T) {
	for r := ACTLR; r < numRegs; r++ {
		got, ok := RegAt(r.Offset())
		if !ok || got != r {
			t.Errorf("RegAt(%#x) = %v, expected %v", r.Offset(), got, r)
		}
	}
	if _, ok := RegAt(0x18); ok {
		t.Error("reserved offset 0x18 mapped to a register")
	}
}

func TestLinkedOffset(t *testing.T) {
	if err := checkLinkedOffset(ReservedOffset); err != nil {
		t.Errorf("matching boundary rejected: %v", err)
	}
	for _, off := range []uint32{0, 15360, ReservedOffset - PageSize, ReservedOffset + 2} {
		if err := checkLinkedOffset(off); err != ErrLinkedOffset {
			t.Errorf("boundary %d: got %v, expected %v", off, err, ErrLinkedOffset)
		}
	}
	// A region built from an agreeing boundary addresses the same bytes
	// as the constant form.
	r := DefaultRegion
	r.ReservedOffset = ReservedOffset
	if got, want := r.Address(10), uint32(NonvolatileStart+10); got != want {
		t.Errorf("linked address %#x, expected %#x", got, want)
	}
}
