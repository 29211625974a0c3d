package zone

import (
	"math/bits"
	"unsafe"

	"github.com/joshuapare/zonekit/internal/vm"
)

// PointerSize is the smallest alignment Memalign accepts.
const PointerSize = unsafe.Sizeof(uintptr(0))

// Scribble bytes written over fresh and freed blocks when scribbling is enabled.
const (
	ScribbleAlloc byte = 0xaa
	ScribbleFree  byte = 0x55
)

// MaxRequestSize is the absolute ceiling on any single request. Sizes above it
// could wrap when rounded up to a page.
var MaxRequestSize = ^uintptr(0) - 2*vm.PageSize()

// TooLarge reports whether size exceeds MaxRequestSize.
func TooLarge(size uintptr) bool { return size > MaxRequestSize }

// MulOverflow returns count*size and whether the product overflowed.
func MulOverflow(count, size uintptr) (uintptr, bool) {
	hi, lo := bits.Mul(uint(count), uint(size))
	return uintptr(lo), hi != 0
}

// ValidAlignment reports whether a is a power of two no smaller than a pointer.
func ValidAlignment(a uintptr) bool {
	return a >= PointerSize && a&(a-1) == 0
}

// RoundUp rounds n up to a multiple of align, which must be a power of two.
func RoundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
