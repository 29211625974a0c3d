package nano

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/zonekit/zone"
)

// SlotInfo summarizes one (magazine, class) admin.
type SlotInfo struct {
	Magazine      int
	Class         int
	SlotBytes     uintptr
	Mapped        uintptr // objects mapped, skipped prefix included
	Skipped       uintptr
	Touched       uintptr // objects ever handed out by the bump cursor
	Free          uintptr
	Discarded     uintptr
	InUse         uintptr
	SizeAllocated uintptr
	MadvisedPages uint
	Exhausted     bool
}

// Slots reports every admin that has mapped memory.
func (n *Allocator) Slots() []SlotInfo {
	var out []SlotInfo
	for m := range n.mags {
		for c := range n.mags[m].slots {
			a := &n.mags[m].slots[c]
			if a.base.Load() == 0 {
				continue
			}
			out = append(out, n.slotInfo(a))
		}
	}
	return out
}

func (n *Allocator) slotInfo(a *slotAdmin) SlotInfo {
	slotBase := n.codec.slotBase(a.mag, a.class)
	touched := a.touched(slotBase)
	if touched > a.skipped {
		touched -= a.skipped
	} else {
		touched = 0
	}
	free := n.countFree(a)
	discarded := a.discarded.Load()

	var inUse uintptr
	if touched > free+discarded {
		inUse = touched - free - discarded
	}

	end := a.bump.Load()
	if lim := a.limit.Load(); end > lim {
		end = lim
	}
	var offset uintptr
	if end > slotBase {
		offset = end - slotBase
	}

	info := SlotInfo{
		Magazine:      a.mag,
		Class:         a.class,
		SlotBytes:     a.slotBytes,
		Mapped:        a.mapped.Load(),
		Skipped:       a.skipped,
		Touched:       touched,
		Free:          free,
		Discarded:     discarded,
		InUse:         inUse,
		SizeAllocated: (offset/BandSize + 1) * SlotInBandSize,
		Exhausted:     a.exhausted.Load(),
	}
	n.reliefMu.Lock()
	if a.madvised != nil {
		info.MadvisedPages = a.madvised.Count()
	}
	n.reliefMu.Unlock()
	return info
}

func (n *Allocator) Statistics() zone.Statistics {
	var s zone.Statistics
	for _, info := range n.Slots() {
		s.BlocksInUse += uint64(info.InUse)
		s.SizeInUse += uint64(info.InUse * info.SlotBytes)
		s.MaxSizeInUse += uint64(info.Touched * info.SlotBytes)
		s.SizeAllocated += uint64(info.SizeAllocated)
	}
	return s
}

func (n *Allocator) GoodSize(size uintptr) uintptr {
	if size <= MaxSize {
		return GoodSize(size)
	}
	return n.helper.Introspect().GoodSize(size)
}

// Check walks every free list and verifies the links and guard words.
func (n *Allocator) Check() bool {
	before := n.reporter.Count(zone.KindCorruption)
	ok := true
	for m := range n.mags {
		for c := range n.mags[m].slots {
			a := &n.mags[m].slots[c]
			if a.base.Load() == 0 {
				continue
			}
			first, last, _ := n.detach(a, "check")
			for q := first; q != 0; q = loadNext(q) {
				if loadGuard(q) != n.guard {
					n.corrupt("check", q, "free block guard damaged")
					ok = false
				}
			}
			n.reattach(a, first, last)
		}
	}
	return ok && n.reporter.Count(zone.KindCorruption) == before
}

// Enumerate reports committed bands as RangeAdminRegion and RangeRegion, and
// live blocks as RangeInUse. Free lists are detached while a slot is scanned.
func (n *Allocator) Enumerate(mask zone.RangeType, fn func(zone.RangeType, []zone.Range)) {
	if mask&(zone.RangeRegion|zone.RangeAdminRegion) != 0 {
		var ranges []zone.Range
		for m := range n.mags {
			mag := &n.mags[m]
			mag.lock.Lock()
			top := mag.maxMapped
			mag.lock.Unlock()
			if top == 0 {
				continue
			}
			for b := n.codec.magazineBase(m); b <= top; b += BandSize {
				ranges = append(ranges, zone.Range{Addr: b, Size: BandSize})
			}
		}
		for _, kind := range []zone.RangeType{zone.RangeAdminRegion, zone.RangeRegion} {
			if mask&kind != 0 && len(ranges) > 0 {
				fn(kind, ranges)
			}
		}
	}

	if mask&zone.RangeInUse == 0 {
		return
	}
	// Collected first so fn runs without the relief mutex and may call back in.
	var batches [][]zone.Range
	n.reliefMu.Lock()
	for m := range n.mags {
		for c := range n.mags[m].slots {
			a := &n.mags[m].slots[c]
			if a.base.Load() == 0 {
				continue
			}
			if ranges := n.inUseBlocks(a); len(ranges) > 0 {
				batches = append(batches, ranges)
			}
		}
	}
	n.reliefMu.Unlock()
	for _, ranges := range batches {
		fn(zone.RangeInUse, ranges)
	}
}

// blockState classifies every touched block of a slot. Called with the relief
// mutex held.
func (n *Allocator) blockStates(a *slotAdmin, visit func(index, offset uintptr, state byte)) {
	slotBase := n.codec.slotBase(a.mag, a.class)
	touched := a.touched(slotBase)

	first, last, _ := n.detach(a, "enumerate")
	free := bitset.New(uint(touched))
	for q := first; q != 0; q = loadNext(q) {
		free.Set(uint(a.offsetToIndex(q - slotBase)))
	}
	n.reattach(a, first, last)

	shift := pageShift()
	for i := uintptr(0); i < touched; i++ {
		off := a.indexToOffset(i)
		switch {
		case i < a.skipped:
			visit(i, off, '_')
		case free.Test(uint(i)):
			visit(i, off, 'F')
		case a.madvised != nil &&
			(a.madvised.Test(pageOf(off, shift)) || a.madvised.Test(pageOf(off+a.slotBytes-1, shift))):
			visit(i, off, 'M')
		default:
			visit(i, off, '.')
		}
	}
}

func (n *Allocator) inUseBlocks(a *slotAdmin) []zone.Range {
	slotBase := n.codec.slotBase(a.mag, a.class)
	var ranges []zone.Range
	n.blockStates(a, func(_, off uintptr, state byte) {
		if state == '.' {
			ranges = append(ranges, zone.Range{Addr: slotBase + off, Size: a.slotBytes})
		}
	})
	return ranges
}

// Print writes a per-slot summary; verbose adds a block map where '_' is
// skipped, 'F' free, 'M' discarded and '.' in use.
func (n *Allocator) Print(w io.Writer, verbose bool) {
	p := message.NewPrinter(language.English)
	s := n.Statistics()
	p.Fprintf(w, "Nanozone %s [%#x, %d MB]: inUse=%d(%dKB) touched=%dKB allocated=%dMB\n",
		n.Name(), n.codec.base, n.codec.regionSize()>>20,
		s.BlocksInUse, s.SizeInUse>>10, s.MaxSizeInUse>>10, s.SizeAllocated>>20)

	for m := range n.mags {
		for c := range n.mags[m].slots {
			a := &n.mags[m].slots[c]
			if a.base.Load() == 0 {
				if verbose {
					p.Fprintf(w, "Magazine %2d(%3d) Unrealized\n", m, a.slotBytes)
				}
				continue
			}
			info := n.slotInfo(a)
			untouched := info.SizeAllocated - min(info.SizeAllocated, (info.Touched+info.Skipped)*info.SlotBytes)
			p.Fprintf(w, "Magazine %2d(%3d) [%#x, %3dKB] \t in use=%4d \t bytes in use=%d \t free=%d \t madvised pages=%d \t untouched=%dKB%s\n",
				m, a.slotBytes, n.codec.slotBase(m, c), info.SizeAllocated>>10,
				info.InUse, info.InUse*info.SlotBytes, info.Free, info.MadvisedPages, untouched>>10,
				exhaustedSuffix(info.Exhausted))
			if verbose {
				fmt.Fprintln(w, n.slotMap(a))
			}
		}
	}
	if leaked := n.Leaked(); leaked > 0 {
		p.Fprintf(w, "post-fork leaked blocks: %d\n", leaked)
	}
}

func exhaustedSuffix(exhausted bool) string {
	if exhausted {
		return " \t EXHAUSTED"
	}
	return ""
}

func (n *Allocator) slotMap(a *slotAdmin) string {
	var sb strings.Builder
	n.reliefMu.Lock()
	n.blockStates(a, func(_, _ uintptr, state byte) { sb.WriteByte(state) })
	n.reliefMu.Unlock()
	return sb.String()
}

func (n *Allocator) ForceLock() {
	for m := range n.mags {
		n.mags[m].lock.Lock()
	}
}

func (n *Allocator) ForceUnlock() {
	for m := len(n.mags) - 1; m >= 0; m-- {
		n.mags[m].lock.Unlock()
	}
}

func (n *Allocator) ReinitLock() {
	for m := range n.mags {
		n.mags[m].lock = sync.Mutex{}
	}
}

// Locked reports whether any magazine lock, or the helper zone, is held.
func (n *Allocator) Locked() bool {
	for m := range n.mags {
		if !n.mags[m].lock.TryLock() {
			return true
		}
		n.mags[m].lock.Unlock()
	}
	return n.helper.Introspect().Locked()
}
