package malloc

import (
	"sync"
	"unsafe"

	"github.com/joshuapare/zonekit/zone"
)

var (
	stdOnce sync.Once
	std     *Heap
)

// Std returns the process heap, creating it with DefaultOptions on first use.
func Std() *Heap {
	stdOnce.Do(func() {
		h, err := NewHeap(DefaultOptions())
		if err != nil {
			panic(err)
		}
		std = h
	})
	return std
}

func Malloc(size uintptr) unsafe.Pointer        { return Std().Malloc(size) }
func Calloc(count, size uintptr) unsafe.Pointer { return Std().Calloc(count, size) }
func Valloc(size uintptr) unsafe.Pointer        { return Std().Valloc(size) }
func Free(ptr unsafe.Pointer)                   { Std().Free(ptr) }

func Memalign(alignment, size uintptr) unsafe.Pointer {
	return Std().Memalign(alignment, size)
}

func PosixMemalign(alignment, size uintptr) (unsafe.Pointer, error) {
	return Std().PosixMemalign(alignment, size)
}

func Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	return Std().Realloc(ptr, size)
}

func Reallocf(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	return Std().Reallocf(ptr, size)
}

func Size(ptr unsafe.Pointer) uintptr          { return Std().Size(ptr) }
func GoodSize(size uintptr) uintptr            { return Std().GoodSize(size) }
func ZoneFromPtr(ptr unsafe.Pointer) zone.Zone { return Std().ZoneFromPtr(ptr) }
func DefaultZone() zone.Zone                   { return Std().DefaultZone() }
