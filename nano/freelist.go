package nano

import (
	"sync/atomic"
	"unsafe"
)

// Free blocks are linked through their first word; the second word holds the
// guard. Both are accessed atomically because a racing pop may read a link
// that its owner is concurrently overwriting.
const (
	nextOffset  = 0
	guardOffset = 8
)

// Canary is mixed with the secret cookie to form the guard word of free blocks.
const Canary uint64 = 0xBADDC0DEDEADBEAD

func loadNext(p uintptr) uintptr {
	return uintptr(atomic.LoadUint64((*uint64)(unsafe.Pointer(p + nextOffset))))
}

func storeNext(p, next uintptr) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(p+nextOffset)), uint64(next))
}

func loadGuard(p uintptr) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(p + guardOffset)))
}

func storeGuard(p uintptr, g uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(p+guardOffset)), g)
}

// The head word packs three things: the low region bits of the top block,
// bit 0 set when the list is non-empty (blocks are quantum aligned so bit 0 is
// free), and a modification counter above the region bits. The counter changes
// on every successful CAS, which defeats ABA: a head that was popped and pushed
// back between our load and CAS no longer compares equal.

func (n *Allocator) packHead(p uintptr, old uint64) uint64 {
	tag := (old >> n.codec.shift) + 1
	v := tag << n.codec.shift
	if p != 0 {
		v |= uint64(p&n.codec.lowMask()) | 1
	}
	return v
}

func (n *Allocator) unpackHead(v uint64) uintptr {
	if v&1 == 0 {
		return 0
	}
	return n.codec.base | uintptr(v)&n.codec.lowMask()&^1
}

// push links p onto the admin's free list.
func (n *Allocator) push(a *slotAdmin, p uintptr) {
	n.pushChain(a, p, p)
}

// pushChain links the chain first..last onto the free list in one CAS.
func (n *Allocator) pushChain(a *slotAdmin, first, last uintptr) {
	for {
		old := a.head.Load()
		storeNext(last, n.unpackHead(old))
		if a.head.CompareAndSwap(old, n.packHead(first, old)) {
			return
		}
	}
}

// pop removes the top block. A head or link that fails the plausibility check
// truncates the list and is returned with ok=false so the caller can report it.
func (n *Allocator) pop(a *slotAdmin) (p uintptr, ok bool) {
	for {
		old := a.head.Load()
		p = n.unpackHead(old)
		if p == 0 {
			return 0, true
		}
		if !n.plausible(a, p) {
			if a.head.CompareAndSwap(old, n.packHead(0, old)) {
				return p, false
			}
			continue
		}
		next := loadNext(p)
		if next != 0 && !n.plausible(a, next) {
			if a.head.CompareAndSwap(old, n.packHead(0, old)) {
				return p, false
			}
			continue
		}
		if a.head.CompareAndSwap(old, n.packHead(next, old)) {
			return p, true
		}
	}
}

// detach takes the whole free list private. Links are validated and the walk
// is bounded by the mapped object count; a damaged tail is cut off and
// reported. Returns the chain ends and its length.
func (n *Allocator) detach(a *slotAdmin, op string) (first, last, count uintptr) {
	for {
		old := a.head.Load()
		first = n.unpackHead(old)
		if first == 0 {
			return 0, 0, 0
		}
		if a.head.CompareAndSwap(old, n.packHead(0, old)) {
			break
		}
	}

	if !n.plausible(a, first) {
		n.corrupt(op, first, "free list head is not a block of its slot")
		return 0, 0, 0
	}

	stoploss := a.mapped.Load()
	last = first
	count = 1
	for {
		next := loadNext(last)
		if next == 0 {
			break
		}
		if count >= stoploss {
			n.corrupt(op, next, "free list walk exceeded object count")
			storeNext(last, 0)
			break
		}
		if !n.plausible(a, next) {
			n.corrupt(op, next, "free list link is not a block of its slot")
			storeNext(last, 0)
			break
		}
		last = next
		count++
	}
	return first, last, count
}

// reattach pushes a chain produced by detach back onto the list.
func (n *Allocator) reattach(a *slotAdmin, first, last uintptr) {
	if first != 0 {
		n.pushChain(a, first, last)
	}
}

// onFreeList reports whether p is currently on a's free list.
func (n *Allocator) onFreeList(a *slotAdmin, p uintptr) bool {
	first, last, _ := n.detach(a, "size")
	found := false
	for q := first; q != 0; q = loadNext(q) {
		if q == p {
			found = true
			break
		}
	}
	n.reattach(a, first, last)
	return found
}

// countFree returns the free list length.
func (n *Allocator) countFree(a *slotAdmin) uintptr {
	first, last, count := n.detach(a, "statistics")
	n.reattach(a, first, last)
	return count
}
