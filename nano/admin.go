package nano

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sys/cpu"

	"github.com/joshuapare/zonekit/internal/logger"
)

// slotAdmin owns one (magazine, class) pair: its bump cursor, limit, free list
// and band bookkeeping.
type slotAdmin struct {
	head  atomic.Uint64  // tagged free-list head, see freelist.go
	bump  atomic.Uintptr // next never-used address
	limit atomic.Uintptr // end of the current band's usable range
	base  atomic.Uintptr // current band start; 0 until the first grow

	mapped    atomic.Uintptr // objects mapped across all bands
	exhausted atomic.Bool

	slotBytes uintptr
	perBand   uintptr // objects per band
	skipped   uintptr // objects left unused at the start of band 0
	mag       int
	class     int

	madvised      *bitset.BitSet // pages already discarded, guarded by the relief mutex
	madvisedPages atomic.Uintptr // pages set in madvised
	discarded     atomic.Uintptr // free blocks dropped because their page was discarded

	_ cpu.CacheLinePad
}

// magazine is the per-physical-CPU partition.
type magazine struct {
	lock sync.Mutex // serializes band growth for every class in the magazine

	maxMapped  uintptr        // highest committed band base, guarded by lock
	mappedSize atomic.Uintptr // committed bytes in this magazine

	slots [SlotCount]slotAdmin

	_ cpu.CacheLinePad
}

func (a *slotAdmin) init(mag, class int) {
	a.mag = mag
	a.class = class
	a.slotBytes = uintptr(class+1) << quantumShift
	a.perBand = SlotInBandSize / a.slotBytes
}

// offsetToIndex converts a slot-relative offset to a block index. Offsets run
// across bands, so the band part is stripped first.
func (a *slotAdmin) offsetToIndex(offset uintptr) uintptr {
	return (offset/BandSize)*a.perBand + (offset%BandSize)/a.slotBytes
}

func (a *slotAdmin) indexToOffset(index uintptr) uintptr {
	return (index/a.perBand)*BandSize + (index%a.perBand)*a.slotBytes
}

// touched returns the number of block indexes below the bump cursor,
// including the skipped prefix.
func (a *slotAdmin) touched(slotBase uintptr) uintptr {
	end := a.bump.Load()
	if lim := a.limit.Load(); end > lim {
		end = lim
	}
	if end <= slotBase {
		return 0
	}
	return a.offsetToIndex(end - slotBase)
}

// nextBlock hands out a never-used block from the bump cursor, growing into a
// new band when the current one runs out. Returns 0 when the admin is exhausted.
func (n *Allocator) nextBlock(a *slotAdmin, m *magazine) uintptr {
	for {
		lim := a.limit.Load()
		b := a.bump.Add(a.slotBytes) - a.slotBytes
		if b < lim {
			return b
		}
		if a.exhausted.Load() {
			return 0
		}

		m.lock.Lock()
		if a.exhausted.Load() {
			m.lock.Unlock()
			return 0
		}
		if base := a.base.Load(); base != 0 && b >= base && b < a.limit.Load() {
			// A grow finished between our limit snapshot and the add; b is a
			// fresh block in the new band.
			m.lock.Unlock()
			return b
		}
		if b < a.limit.Load() {
			// Another thread grew the admin while we waited. Retry.
			m.lock.Unlock()
			continue
		}
		ok := n.grow(a, m)
		if !ok {
			a.exhausted.Store(true)
		}
		m.lock.Unlock()
		if !ok {
			logger.Debug("nano: slot exhausted", "mag", a.mag, "class", a.class)
			return 0
		}
	}
}

// grow moves the admin to its next band, committing the band's memory if no
// other class in the magazine has reached it yet. Called with m.lock held.
func (n *Allocator) grow(a *slotAdmin, m *magazine) bool {
	var p uintptr
	first := a.base.Load() == 0
	if first {
		p = n.codec.slotBase(a.mag, a.class)
	} else {
		p = a.base.Load() + BandSize
		f, ok := n.codec.decode(p)
		if !ok || f.Band == 0 || f.Mag != a.mag {
			return false
		}
	}

	band := p &^ (BandSize - 1)
	if m.maxMapped == 0 || m.maxMapped < band {
		if err := n.mapper.Commit(band, BandSize); err != nil {
			logger.Warn("nano: band commit failed", "mag", a.mag, "band", band, "error", err)
			return false
		}
		m.maxMapped = band
		m.mappedSize.Store(band + BandSize - n.codec.magazineBase(a.mag))
	}

	a.base.Store(p)
	if first {
		a.skipped = uintptr(n.secret.Skew() % uint64(a.perBand))
		a.bump.Store(p + a.skipped*a.slotBytes)
	} else {
		a.bump.Store(p)
	}
	// bump must move before limit so a racing reader never pairs the new limit
	// with a stale cursor.
	a.limit.Store(p + a.perBand*a.slotBytes)
	a.mapped.Add(a.perBand)
	return true
}

// plausible reports whether p could be a block of this admin, using only
// arithmetic. It guards every dereference of a free-list link.
func (n *Allocator) plausible(a *slotAdmin, p uintptr) bool {
	f, ok := n.codec.decode(p)
	if !ok || f.Mag != a.mag || f.Class != a.class {
		return false
	}
	if p >= a.limit.Load() {
		return false
	}
	if f.Offset%a.slotBytes != 0 || f.Offset >= a.perBand*a.slotBytes {
		return false
	}
	if f.Band == 0 && f.Offset < a.skipped*a.slotBytes {
		return false
	}
	return true
}

// vet validates p as a block this allocator has handed out at some point and
// returns its admin.
func (n *Allocator) vet(p uintptr) (*slotAdmin, bool) {
	f, ok := n.codec.decode(p)
	if !ok {
		return nil, false
	}
	a := &n.mags[f.Mag].slots[f.Class]
	if a.base.Load() == 0 || p >= a.bump.Load() {
		return nil, false
	}
	if !n.plausible(a, p) {
		return nil, false
	}
	return a, true
}

// vetLive returns the admin of p if p is currently allocated. A block whose
// guard word matches the canary is only free if it is actually on the free
// list; user data can coincide with the canary.
func (n *Allocator) vetLive(p uintptr) (*slotAdmin, bool) {
	a, ok := n.vet(p)
	if !ok {
		return nil, false
	}
	if loadGuard(p) != n.guard {
		if n.onDiscardedPage(a, p) {
			return nil, false
		}
		return a, true
	}
	if n.onFreeList(a, p) {
		return nil, false
	}
	return a, true
}

// onDiscardedPage reports whether p touches a page relief has discarded. Such
// a page held only free blocks, and those were dropped for good, so nothing
// on it is live. Discarding also zeroes the guard, which is why vetLive
// cannot tell these blocks apart from live ones by their contents.
func (n *Allocator) onDiscardedPage(a *slotAdmin, p uintptr) bool {
	if a.madvisedPages.Load() == 0 {
		return false
	}
	shift := pageShift()
	off := p - n.codec.slotBase(a.mag, a.class)

	n.reliefMu.Lock()
	defer n.reliefMu.Unlock()
	return a.madvised.Test(pageOf(off, shift)) || a.madvised.Test(pageOf(off+a.slotBytes-1, shift))
}
