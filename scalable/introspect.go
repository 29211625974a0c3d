package scalable

import (
	"cmp"
	"io"
	"slices"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/zonekit/internal/vm"
	"github.com/joshuapare/zonekit/zone"
)

func (z *Zone) GoodSize(size uintptr) uintptr {
	need := blockSize(size)
	if z.isLarge(need) {
		return vm.RoundPage(need)
	}
	return need
}

func (z *Zone) Statistics() zone.Statistics {
	z.mu.Lock()
	defer z.mu.Unlock()
	var regions uint64
	for _, r := range z.regions {
		regions += uint64(r.size)
	}
	return zone.Statistics{
		BlocksInUse:   uint64(len(z.live)),
		SizeInUse:     z.inUse,
		MaxSizeInUse:  z.maxInUse,
		SizeAllocated: regions + z.dedicated,
	}
}

// sortedLive returns the live blocks ordered by address. Caller holds mu.
func (z *Zone) sortedLive() []zone.Range {
	out := make([]zone.Range, 0, len(z.live))
	for p, b := range z.live {
		out = append(out, zone.Range{Addr: p, Size: b.size})
	}
	slices.SortFunc(out, func(a, b zone.Range) int { return cmp.Compare(a.Addr, b.Addr) })
	return out
}

func (z *Zone) Enumerate(mask zone.RangeType, fn func(zone.RangeType, []zone.Range)) {
	z.mu.Lock()
	var regions, inUse []zone.Range
	if mask&zone.RangeRegion != 0 {
		for _, r := range z.regions {
			regions = append(regions, zone.Range{Addr: r.base, Size: r.size})
		}
		for _, b := range z.live {
			if b.mapLen != 0 {
				regions = append(regions, zone.Range{Addr: b.mapBase, Size: b.mapLen})
			}
		}
	}
	if mask&zone.RangeInUse != 0 {
		inUse = z.sortedLive()
	}
	z.mu.Unlock()

	if len(regions) > 0 {
		fn(zone.RangeRegion, regions)
	}
	if len(inUse) > 0 {
		fn(zone.RangeInUse, inUse)
	}
}

// Check verifies that the free cells and live blocks never overlap, that the
// indexes agree with the heaps and that every cell sits in its size class.
func (z *Zone) Check() bool {
	z.mu.Lock()
	defer z.mu.Unlock()

	fail := func(ptr uintptr, msg string) bool {
		z.reporter.Corruption(z.Name(), "check", ptr, msg)
		return false
	}

	spans := z.sortedLive()
	cells := 0
	for sc := range z.freeLists {
		list := &z.freeLists[sc]
		if list.count != list.heap.Len() {
			return fail(0, "free list count does not match heap length")
		}
		for i, cell := range list.heap {
			if cell.heapIndex != i || cell.sc != sc {
				return fail(cell.off, "free cell index is stale")
			}
			if z.byOff[cell.off] != cell || z.endIdx[cell.off+cell.size] != cell {
				return fail(cell.off, "free cell missing from coalescing index")
			}
			spans = append(spans, zone.Range{Addr: cell.off, Size: cell.size})
			cells++
		}
	}
	if cells != len(z.byOff) || cells != len(z.endIdx) {
		return fail(0, "coalescing index holds cells not on any free list")
	}

	slices.SortFunc(spans, func(a, b zone.Range) int { return cmp.Compare(a.Addr, b.Addr) })
	for i := 1; i < len(spans); i++ {
		if spans[i-1].Addr+spans[i-1].Size > spans[i].Addr {
			return fail(spans[i].Addr, "block overlaps its neighbour")
		}
	}
	return true
}

// Print writes the zone totals and the free list of every non-empty size class.
func (z *Zone) Print(w io.Writer, verbose bool) {
	p := message.NewPrinter(language.English)
	s := z.Statistics()
	st := z.Stats()
	p.Fprintf(w, "Scalable zone %s (%s): inUse=%d(%dKB) max=%dKB allocated=%dKB\n",
		z.Name(), z.sizeTable.String(), s.BlocksInUse, s.SizeInUse>>10, s.MaxSizeInUse>>10, s.SizeAllocated>>10)
	p.Fprintf(w, "  allocs=%d (fast %d, slow %d) frees=%d splits=%d coalesce=%d/%d regions=%d dedicated=%d\n",
		st.AllocCalls, st.AllocFastPath, st.AllocSlowPath, st.FreeCalls, st.SplitCount,
		st.CoalesceForward, st.CoalesceBackward, st.RegionGrows, st.DedicatedMaps)
	if !verbose {
		return
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	for sc := range z.freeLists {
		list := &z.freeLists[sc]
		if list.heap.Len() == 0 {
			continue
		}
		var bytes uintptr
		for _, cell := range list.heap {
			bytes += cell.size
		}
		p.Fprintf(w, "  class %2d (<=%6d): %5d cells %9d bytes\n",
			sc, z.sizeTable.boundaries[sc], list.heap.Len(), bytes)
	}
}

func (z *Zone) ForceLock()   { z.mu.Lock() }
func (z *Zone) ForceUnlock() { z.mu.Unlock() }

//nolint:govet // resetting a lock whose holder no longer exists
func (z *Zone) ReinitLock() { z.mu = sync.Mutex{} }

func (z *Zone) Locked() bool {
	if !z.mu.TryLock() {
		return true
	}
	z.mu.Unlock()
	return false
}
