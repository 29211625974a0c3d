package nano

import (
	"fmt"
	"math/bits"
)

const (
	// Quantum is the allocation granularity and the size of class 0.
	Quantum      = 16
	quantumShift = 4

	// MaxSize is the largest request nano serves. Anything bigger goes to the helper zone.
	MaxSize = 256

	// SlotCount is the number of size classes.
	SlotCount = MaxSize / Quantum

	offsetBits = 17
	slotBits   = 4

	// SlotInBandSize is the span one class owns inside a band.
	SlotInBandSize = 1 << offsetBits
	// BandSize is the unit of lazily committed address space per magazine.
	BandSize = 1 << (offsetBits + slotBits)

	// MaxMagazines bounds the physical CPU count nano accepts.
	MaxMagazines = 64

	DefaultBandBits = 9
	maxBandBits     = 16

	// minTagBits keeps enough room above the region bits for the free-list ABA tag.
	minTagBits = 16
)

// Fields is a decoded nano address.
type Fields struct {
	Mag    int
	Band   int
	Class  int
	Offset uintptr // byte offset inside the class's 128 KiB slot
}

func (f Fields) String() string {
	return fmt.Sprintf("mag=%d band=%d class=%d offset=%#x", f.Mag, f.Band, f.Class, f.Offset)
}

// codec packs and unpacks addresses. The region is aligned to 1<<shift, so the
// signature is simply the region base shifted down.
type codec struct {
	base     uintptr
	shift    uint
	bandBits uint
	magBits  uint
	mags     int
}

func magBitsFor(mags int) uint {
	if mags <= 1 {
		return 0
	}
	return uint(bits.Len(uint(mags - 1)))
}

func regionShift(bandBits, magBits uint) uint {
	return offsetBits + slotBits + bandBits + magBits
}

func newCodec(base uintptr, bandBits uint, mags int) codec {
	magBits := magBitsFor(mags)
	return codec{
		base:     base,
		shift:    regionShift(bandBits, magBits),
		bandBits: bandBits,
		magBits:  magBits,
		mags:     mags,
	}
}

func (c codec) lowMask() uintptr { return 1<<c.shift - 1 }

func (c codec) signature() uintptr { return c.base >> c.shift }

// owns reports whether addr carries this region's signature.
func (c codec) owns(addr uintptr) bool {
	return addr != 0 && addr>>c.shift == c.signature()
}

func (c codec) encode(mag, band, class int, offset uintptr) uintptr {
	return c.base |
		uintptr(mag)<<(offsetBits+slotBits+c.bandBits) |
		uintptr(band)<<(offsetBits+slotBits) |
		uintptr(class)<<offsetBits |
		offset
}

// decode splits addr into its fields. Foreign or misaligned addresses return
// false; nothing is dereferenced.
func (c codec) decode(addr uintptr) (Fields, bool) {
	if !c.owns(addr) {
		return Fields{}, false
	}
	f := Fields{
		Offset: addr & (SlotInBandSize - 1),
		Class:  int(addr>>offsetBits) & (SlotCount - 1),
		Band:   int(addr>>(offsetBits+slotBits)) & (1<<c.bandBits - 1),
		Mag:    int(addr>>(offsetBits+slotBits+c.bandBits)) & (1<<c.magBits - 1),
	}
	if f.Mag >= c.mags || f.Offset&(Quantum-1) != 0 {
		return Fields{}, false
	}
	return f, true
}

// slotBase is the address of band 0, offset 0 for a class in a magazine.
func (c codec) slotBase(mag, class int) uintptr {
	return c.encode(mag, 0, class, 0)
}

// magazineBase is the first address of a magazine's span.
func (c codec) magazineBase(mag int) uintptr {
	return c.encode(mag, 0, 0, 0)
}

func (c codec) magazineSpan() uintptr {
	return 1 << (offsetBits + slotBits + c.bandBits)
}

func (c codec) regionSize() uintptr { return 1 << c.shift }

// SizeClass rounds size up to the quantum and returns the slot size and class.
// Size 0 is treated as one quantum.
func SizeClass(size uintptr) (slotBytes uintptr, class int) {
	if size == 0 {
		size = Quantum
	}
	k := (size + Quantum - 1) >> quantumShift
	return k << quantumShift, int(k - 1)
}

// GoodSize returns the smallest slot size that holds size.
func GoodSize(size uintptr) uintptr {
	if size <= Quantum {
		return Quantum
	}
	return (size + Quantum - 1) &^ (Quantum - 1)
}
