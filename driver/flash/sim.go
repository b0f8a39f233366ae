package flash

import (
	"errors"
	"strconv"
)

// Simulator models the flash controller and memory of one device. It
// implements Bus and follows the register protocol of the hardware:
// key sequences, sticky lock, busy periods that end asynchronously
// from the caller's point of view, NOR programming that only clears
// bits, and write protection loaded from the option bytes at power up.
type Simulator struct {
	// BusyPolls is the number of status register reads an operation
	// stays busy for.
	BusyPolls int

	region  Region
	main    []byte
	options [OptionSize]byte
	erases  []uint32

	ctlr, statr, addr, actlr uint32
	obr, wpr                 uint32
	keys, obKeys             keyState
	busy                     int
	violations               int
}

type keyState uint8

const (
	keyIdle keyState = iota
	keyFirst
	// keyFault refuses keys until the next power cycle.
	keyFault
)

const (
	sectorSize    = 1024
	rdprNoProtect = 0xa5

	obrRDPRT     = 0x2
	obrUserShift = 2
)

const defaultBusyPolls = 2

// Image is the persistent content of a simulated device.
type Image struct {
	Main    []byte
	Options []byte
	Erases  []uint32
}

var ErrImageSize = errors.New("flash: image does not match region")

// NewSimulator returns a device with an erased main array and factory
// option bytes, freshly powered on.
func NewSimulator(r Region) *Simulator {
	s := &Simulator{
		BusyPolls: defaultBusyPolls,
		region:    r,
		main:      make([]byte, r.Capacity),
		erases:    make([]uint32, r.Capacity/r.PageSize),
	}
	for i := range s.main {
		s.main[i] = 0xff
	}
	for off := uint32(0); off < OptionSize; off += 2 {
		s.putOption(off, EncodeCell(0xff))
	}
	s.putOption(optionOffsets[RDPR], EncodeCell(rdprNoProtect))
	s.PowerCycle()
	return s
}

func (s *Simulator) Region() Region {
	return s.region
}

// PowerCycle resets the controller registers and reloads the option
// bytes. Memory content is kept.
func (s *Simulator) PowerCycle() {
	s.ctlr = CTLR_LOCK
	s.statr = 0
	s.addr = 0
	s.actlr = Latency0
	s.keys = keyIdle
	s.obKeys = keyIdle
	s.busy = 0
	loaded := func(f OptionField) uint32 {
		b, ok := CheckCell(s.option(optionOffsets[f]))
		if !ok {
			// Corrupt cells load as unprotected.
			return 0xff
		}
		return uint32(b)
	}
	s.wpr = loaded(WRPR1)<<8 | loaded(WRPR0)
	s.obr = loaded(USER) << obrUserShift
	if rdpr, ok := CheckCell(s.option(optionOffsets[RDPR])); !ok || rdpr != rdprNoProtect {
		s.obr |= obrRDPRT
	}
}

// Snapshot returns a copy of the persistent state.
func (s *Simulator) Snapshot() Image {
	img := Image{
		Main:    make([]byte, len(s.main)),
		Options: make([]byte, len(s.options)),
		Erases:  make([]uint32, len(s.erases)),
	}
	copy(img.Main, s.main)
	copy(img.Options, s.options[:])
	copy(img.Erases, s.erases)
	return img
}

// Restore replaces the persistent state with img and power cycles the
// device.
func (s *Simulator) Restore(img Image) error {
	if len(img.Main) != len(s.main) || len(img.Options) != len(s.options) ||
		(img.Erases != nil && len(img.Erases) != len(s.erases)) {
		return ErrImageSize
	}
	copy(s.main, img.Main)
	copy(s.options[:], img.Options)
	clear(s.erases)
	copy(s.erases, img.Erases)
	s.PowerCycle()
	return nil
}

// EraseCount returns the number of times page has been erased.
func (s *Simulator) EraseCount(page int) uint32 {
	return s.erases[page]
}

// Violations returns the number of register writes and flash stores
// issued while the controller was busy.
func (s *Simulator) Violations() int {
	return s.violations
}

func (s *Simulator) Reg(r Reg) uint32 {
	switch r {
	case ACTLR:
		return s.actlr
	case STATR:
		v := s.statr
		if s.busy > 0 {
			s.busy--
			if s.busy == 0 {
				s.statr = s.statr&^STATR_BSY | STATR_EOP
			}
		}
		return v
	case CTLR:
		return s.ctlr
	case ADDR:
		return s.addr
	case OBR:
		return s.obr
	case WPR:
		return s.wpr
	default:
		// Key registers read as zero.
		return 0
	}
}

func (s *Simulator) SetReg(r Reg, v uint32) {
	if s.busy > 0 {
		s.violations++
	}
	switch r {
	case ACTLR:
		s.actlr = v & 0x3
	case KEYR:
		if s.acceptKey(&s.keys, v) {
			s.ctlr &^= CTLR_LOCK
		}
	case OBKEYR:
		if s.acceptKey(&s.obKeys, v) && s.ctlr&CTLR_LOCK == 0 {
			s.ctlr |= CTLR_OPTWRE
		}
	case STATR:
		s.statr &^= v & (STATR_EOP | STATR_WRPRTERR)
	case CTLR:
		s.writeCTLR(v)
	case ADDR:
		s.addr = v
	}
}

func (s *Simulator) acceptKey(k *keyState, v uint32) bool {
	switch {
	case *k == keyIdle && v == Key1:
		*k = keyFirst
	case *k == keyFirst && v == Key2:
		*k = keyIdle
		return true
	default:
		*k = keyFault
	}
	return false
}

func (s *Simulator) writeCTLR(v uint32) {
	if v&CTLR_LOCK != 0 {
		s.ctlr = CTLR_LOCK
		return
	}
	if s.ctlr&CTLR_LOCK != 0 {
		return
	}
	const modes = CTLR_PG | CTLR_PER | CTLR_OPTPG | CTLR_OPTER
	optwre := s.ctlr & v & CTLR_OPTWRE
	s.ctlr = v&modes | optwre
	if v&CTLR_STRT == 0 {
		return
	}
	switch {
	case v&CTLR_PER != 0:
		s.erasePage(s.addr)
	case v&CTLR_OPTER != 0:
		if optwre == 0 {
			s.fail()
			return
		}
		for i := range s.options {
			s.options[i] = 0xff
		}
		s.begin()
	}
}

func (s *Simulator) erasePage(addr uint32) {
	if !s.region.Contains(addr) {
		busFault(addr)
	}
	if s.protected(addr) {
		s.fail()
		return
	}
	start := s.region.PageStart(addr) - s.region.Base
	page := s.main[start : start+s.region.PageSize]
	for i := range page {
		page[i] = 0xff
	}
	s.erases[s.region.Page(addr)]++
	s.begin()
}

func (s *Simulator) protected(addr uint32) bool {
	sector := (addr - s.region.Base) / sectorSize
	return sector < 16 && s.wpr&(1<<sector) == 0
}

// begin starts a busy period that ends with the end-of-operation flag.
func (s *Simulator) begin() {
	s.busy = s.BusyPolls
	if s.busy > 0 {
		s.statr |= STATR_BSY
	} else {
		s.statr |= STATR_EOP
	}
}

func (s *Simulator) fail() {
	s.statr |= STATR_WRPRTERR
}

func (s *Simulator) Load8(addr uint32) uint8 {
	switch {
	case s.region.Contains(addr):
		return s.main[addr-s.region.Base]
	case addr >= OptionBase && addr < OptionBase+OptionSize:
		return s.options[addr-OptionBase]
	}
	busFault(addr)
	return 0
}

func (s *Simulator) Load16(addr uint32) uint16 {
	if addr&1 != 0 {
		busFault(addr)
	}
	switch {
	case s.region.Contains(addr):
		off := addr - s.region.Base
		return uint16(s.main[off]) | uint16(s.main[off+1])<<8
	case addr >= OptionBase && addr < OptionBase+OptionSize:
		return s.option(addr - OptionBase)
	}
	busFault(addr)
	return 0
}

func (s *Simulator) Store16(addr uint32, v uint16) {
	if addr&1 != 0 {
		busFault(addr)
	}
	if s.busy > 0 {
		s.violations++
	}
	switch {
	case s.region.Contains(addr):
		if s.ctlr&(CTLR_LOCK|CTLR_PG) != CTLR_PG {
			return
		}
		if s.protected(addr) {
			s.fail()
			return
		}
		off := addr - s.region.Base
		old := uint16(s.main[off]) | uint16(s.main[off+1])<<8
		v &= old
		s.main[off] = uint8(v)
		s.main[off+1] = uint8(v >> 8)
		s.begin()
	case addr >= OptionBase && addr < OptionBase+OptionSize:
		const enabled = CTLR_OPTPG | CTLR_OPTWRE
		if s.ctlr&(CTLR_LOCK|enabled) != enabled {
			return
		}
		off := addr - OptionBase
		// The controller writes the complement byte itself.
		s.putOption(off, s.option(off)&EncodeCell(uint8(v)))
		s.begin()
	default:
		busFault(addr)
	}
}

func (s *Simulator) option(off uint32) uint16 {
	return uint16(s.options[off]) | uint16(s.options[off+1])<<8
}

func (s *Simulator) putOption(off uint32, v uint16) {
	s.options[off] = uint8(v)
	s.options[off+1] = uint8(v >> 8)
}

func busFault(addr uint32) {
	panic("flash: bus fault at 0x" + strconv.FormatUint(uint64(addr), 16))
}
