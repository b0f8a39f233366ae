package flash

import "errors"

// Default CH32V003 layout. The first ReservedOffset bytes of the array
// hold the program; nonvolatile storage starts right after them. On the
// device the linker script must define __flash_nv_offset equal to
// ReservedOffset; a mismatch is a fatal error at start up.
const (
	Base           = 0x08000000
	Capacity       = 16 * 1024
	PageSize       = 64
	ReservedOffset = Capacity - PageSize

	// NonvolatileStart is the first nonvolatile address. Use it in
	// constant expressions, NonvolatileStart + n, to compute addresses
	// at build time.
	NonvolatileStart = Base + ReservedOffset

	// EnduranceCycles is the rated number of erase cycles per page.
	EnduranceCycles = 10000
)

// Region describes the flash array and the boundary of its nonvolatile
// storage. The nonvolatile storage is expected to lie within Capacity,
// but nothing checks it.
type Region struct {
	Base     uint32
	Capacity uint32
	PageSize uint32
	// ReservedOffset is the distance from Base to the first
	// nonvolatile byte.
	ReservedOffset uint32
}

var DefaultRegion = Region{
	Base:           Base,
	Capacity:       Capacity,
	PageSize:       PageSize,
	ReservedOffset: ReservedOffset,
}

// Address returns the address of nonvolatile byte n in the default
// region. It computes the same value as NonvolatileStart + n.
func Address(n uint16) uint32 {
	return DefaultRegion.Address(n)
}

// Address returns the address of nonvolatile byte n. Offsets beyond the
// nonvolatile storage are not rejected and may address memory outside
// the flash array.
func (r Region) Address(n uint16) uint32 {
	return r.Base + r.ReservedOffset + uint32(n)
}

// NonvolatileSize is the number of bytes available for nonvolatile
// storage.
func (r Region) NonvolatileSize() uint32 {
	return r.Capacity - r.ReservedOffset
}

// PageStart returns the start of the page containing addr.
func (r Region) PageStart(addr uint32) uint32 {
	return addr - (addr-r.Base)%r.PageSize
}

// Page returns the index of the page containing addr.
func (r Region) Page(addr uint32) int {
	return int((addr - r.Base) / r.PageSize)
}

// Contains reports whether addr lies within the flash array.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Base && addr-r.Base < r.Capacity
}

var ErrLinkedOffset = errors.New("flash: __flash_nv_offset differs from ReservedOffset")

// checkLinkedOffset verifies that the nonvolatile boundary set by the
// linker agrees with the one compiled into NonvolatileStart and Address.
func checkLinkedOffset(off uint32) error {
	if off != ReservedOffset {
		return ErrLinkedOffset
	}
	return nil
}
