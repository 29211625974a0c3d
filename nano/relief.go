package nano

import (
	"math/bits"

	"github.com/bits-and-blooms/bitset"

	"github.com/joshuapare/zonekit/internal/logger"
	"github.com/joshuapare/zonekit/internal/vm"
)

// Pages are numbered per slot over the compacted offset space: each band
// contributes SlotInBandSize bytes, so page numbers are dense across bands.

func pageShift() uint {
	return uint(bits.TrailingZeros(uint(vm.PageSize())))
}

// pageOf returns the page number of a slot-relative offset.
func pageOf(offset uintptr, shift uint) uint {
	compact := (offset/BandSize)*SlotInBandSize + offset%BandSize&(SlotInBandSize-1)
	return uint(compact >> shift)
}

// pageAddr is the inverse of pageOf.
func pageAddr(slotBase uintptr, page uint, shift uint) uintptr {
	compact := uintptr(page) << shift
	return slotBase + (compact/SlotInBandSize)*BandSize + compact%SlotInBandSize
}

// relieve discards whole pages that hold only free blocks, across every
// magazine and class. It stops once goal bytes are released; goal 0 means
// release everything possible.
func (n *Allocator) relieve(goal uintptr) uintptr {
	n.reliefMu.Lock()
	defer n.reliefMu.Unlock()

	var total uintptr
	for m := range n.mags {
		for c := range n.mags[m].slots {
			total = n.relieveSlot(&n.mags[m].slots[c], total)
			if goal != 0 && total >= goal {
				return total
			}
		}
	}
	return total
}

func (n *Allocator) relieveSlot(a *slotAdmin, total uintptr) uintptr {
	if a.mapped.Load() == 0 {
		return total
	}
	if vm.PageSize() > SlotInBandSize {
		return total
	}
	shift := pageShift()
	slotBase := n.codec.slotBase(a.mag, a.class)
	touched := a.touched(slotBase)

	first, last, count := n.detach(a, "pressure relief")
	if count == 0 {
		return total
	}

	free := bitset.New(uint(touched))
	for q := first; q != 0; q = loadNext(q) {
		free.Set(uint(a.offsetToIndex(q - slotBase)))
	}

	// Every block below the cursor that is not on the free list pins its pages.
	live := bitset.New(0)
	for i := a.skipped; i < touched; i++ {
		if free.Test(uint(i)) {
			continue
		}
		off := a.indexToOffset(i)
		live.Set(pageOf(off, shift))
		live.Set(pageOf(off+a.slotBytes-1, shift))
	}

	if a.madvised == nil {
		a.madvised = bitset.New(0)
	}

	// The page holding the most recently bumped block is left alone.
	pgStart := pageOf(a.indexToOffset(a.skipped), shift)
	pgEnd := pageOf(a.indexToOffset(touched-1), shift)

	candidates := bitset.New(0)
	for pg := pgStart; pg < pgEnd; pg++ {
		if !a.madvised.Test(pg) && !live.Test(pg) {
			candidates.Set(pg)
		}
	}
	if !candidates.Any() {
		n.reattach(a, first, last)
		return total
	}

	// Rebuild the free list without blocks that sit on a page about to be discarded.
	var keepFirst, keepLast uintptr
	var dropped uintptr
	for q := first; q != 0; {
		next := loadNext(q)
		off := q - slotBase
		if candidates.Test(pageOf(off, shift)) || candidates.Test(pageOf(off+a.slotBytes-1, shift)) {
			dropped++
		} else {
			if keepFirst == 0 {
				keepFirst = q
			} else {
				storeNext(keepLast, q)
			}
			keepLast = q
		}
		q = next
	}
	if keepLast != 0 {
		storeNext(keepLast, 0)
	}
	n.reattach(a, keepFirst, keepLast)
	a.discarded.Add(dropped)

	ps := vm.PageSize()
	for pg, ok := candidates.NextSet(0); ok; pg, ok = candidates.NextSet(pg + 1) {
		addr := pageAddr(slotBase, pg, shift)
		// The page's free blocks are already off the list, so it counts as
		// advised even if the kernel refuses.
		a.madvised.Set(pg)
		a.madvisedPages.Add(1)
		if err := n.mapper.Discard(addr, ps); err != nil {
			logger.Warn("nano: discard failed", "addr", addr, "error", err)
			continue
		}
		total += ps
	}
	return total
}
