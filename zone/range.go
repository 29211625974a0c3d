package zone

import "unsafe"

// RangeType selects what Enumerate reports.
type RangeType uint

const (
	RangeInUse       RangeType = 1 << iota // live blocks
	RangeRegion                            // memory obtained from the OS for blocks
	RangeAdminRegion                       // memory used for the zone's own bookkeeping

	RangeAll = RangeInUse | RangeRegion | RangeAdminRegion
)

// Range is a span of addresses.
type Range struct {
	Addr uintptr
	Size uintptr
}

// Contains reports whether ptr lies inside r.
func (r Range) Contains(ptr unsafe.Pointer) bool {
	p := uintptr(ptr)
	return p >= r.Addr && p < r.Addr+r.Size
}

// FreeEach frees ptrs one at a time in reverse order, skipping nil entries.
// Zones without a native batch free use it for BatchFree.
func FreeEach(z interface{ Free(unsafe.Pointer) }, ptrs []unsafe.Pointer) {
	for i := len(ptrs) - 1; i >= 0; i-- {
		if ptrs[i] != nil {
			z.Free(ptrs[i])
			ptrs[i] = nil
		}
	}
}

// MallocEach fills results by calling Malloc until it fails and returns the
// count allocated.
func MallocEach(z interface{ Malloc(uintptr) unsafe.Pointer }, size uintptr, results []unsafe.Pointer) int {
	for i := range results {
		p := z.Malloc(size)
		if p == nil {
			return i
		}
		results[i] = p
	}
	return len(results)
}
