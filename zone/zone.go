package zone

import (
	"io"
	"sync/atomic"
	"unsafe"
)

// Version is the introspection protocol version reported by the zones in this module.
const Version = 8

// Zone is the capability contract of an allocator.
type Zone interface {
	Name() string
	SetName(name string)
	Version() int

	// Size returns the usable size of ptr, or 0 if this zone does not own it.
	Size(ptr unsafe.Pointer) uintptr

	Malloc(size uintptr) unsafe.Pointer
	Calloc(count, size uintptr) unsafe.Pointer
	Valloc(size uintptr) unsafe.Pointer
	// Memalign allocates size bytes aligned to alignment, a power of two no
	// smaller than the pointer size.
	Memalign(alignment, size uintptr) unsafe.Pointer

	Free(ptr unsafe.Pointer)
	// FreeDefiniteSize frees ptr whose size the caller already knows.
	FreeDefiniteSize(ptr unsafe.Pointer, size uintptr)
	Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer

	// BatchMalloc fills results with up to len(results) blocks of size bytes
	// and returns how many it allocated.
	BatchMalloc(size uintptr, results []unsafe.Pointer) int
	// BatchFree frees every non-nil pointer in ptrs.
	BatchFree(ptrs []unsafe.Pointer)

	// PressureRelief returns unused memory to the OS and reports the bytes
	// released. A goal of 0 means release as much as possible.
	PressureRelief(goal uintptr) uintptr

	Destroy()
	Introspect() Introspector
}

// Introspector is the debugging surface of a zone.
type Introspector interface {
	// Enumerate calls fn with batches of ranges of the kinds selected by mask.
	Enumerate(mask RangeType, fn func(kind RangeType, ranges []Range))
	GoodSize(size uintptr) uintptr
	// Check verifies internal consistency and reports false when it finds damage.
	Check() bool
	Print(w io.Writer, verbose bool)

	ForceLock()
	ForceUnlock()
	// ReinitLock resets every lock to unlocked. Used in a forked child where
	// the lock holder no longer exists.
	ReinitLock()
	Locked() bool

	Statistics() Statistics
}

// Named stores a zone's name. Embed it to satisfy Name and SetName.
type Named struct {
	name atomic.Pointer[string]
}

func (n *Named) Name() string {
	if p := n.name.Load(); p != nil {
		return *p
	}
	return ""
}

func (n *Named) SetName(name string) {
	n.name.Store(&name)
}
