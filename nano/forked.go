package nano

import (
	"unsafe"

	"github.com/joshuapare/zonekit/zone"
)

// ForkChild switches the allocator to post-fork mode. A child may have
// inherited admins that another thread was mutating at the moment of fork, so
// from here on nano state is never written: allocation goes to the helper and
// nano blocks are leaked instead of freed. The switch is permanent.
func (n *Allocator) ForkChild() {
	n.state.Store(statePostFork)
}

// PostFork reports whether ForkChild has been called.
func (n *Allocator) PostFork() bool { return n.forked() }

// Leaked returns how many nano blocks were abandoned in post-fork mode.
func (n *Allocator) Leaked() uint64 { return n.leaked.Load() }

func (n *Allocator) forkedFree(ptr unsafe.Pointer) {
	p := uintptr(ptr)
	if n.codec.owns(p) {
		if _, ok := n.vet(p); ok {
			n.leaked.Add(1)
		}
		return
	}
	n.helper.Free(ptr)
}

func (n *Allocator) forkedRealloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr == nil {
		return n.helper.Malloc(size)
	}
	p := uintptr(ptr)
	if !n.codec.owns(p) {
		return n.helper.Realloc(ptr, size)
	}
	a, ok := n.vet(p)
	if !ok {
		n.misuse("realloc", p, "pointer being reallocated was not allocated")
		return nil
	}
	if size == 0 {
		n.leaked.Add(1)
		return n.helper.Malloc(1)
	}
	q := n.helper.Malloc(size)
	if q == nil {
		return nil
	}
	zone.Copy(q, ptr, min(a.slotBytes, size))
	n.leaked.Add(1)
	return q
}
